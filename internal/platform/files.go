package platform

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/JonMunkholm/sheetsync/internal/core"
)

// DownloadFile fetches the bytes of an attachment by file key.
func (c *Client) DownloadFile(ctx context.Context, fileKey string) ([]byte, error) {
	if fileKey == "" {
		return nil, fmt.Errorf("%w: empty file key", core.ErrNoFile)
	}

	resp, err := c.do(ctx, http.MethodGet, "/k/v1/file.json", url.Values{"fileKey": {fileKey}}, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body io.Reader = resp.Body
	if c.maxSize > 0 {
		body = io.LimitReader(resp.Body, c.maxSize+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("%w: read file %s: %w", ErrPlatform, fileKey, err)
	}
	if c.maxSize > 0 && int64(len(data)) > c.maxSize {
		return nil, fmt.Errorf("%w: file %s exceeds %d bytes", core.ErrFileTooLarge, fileKey, c.maxSize)
	}
	return data, nil
}
