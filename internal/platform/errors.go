package platform

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/JonMunkholm/sheetsync/internal/core"
)

// ErrPlatform is wrapped by every failure reported by or on the way to the
// platform.
var ErrPlatform = fmt.Errorf("platform request failed: %w", core.ErrExternal)

// APIError is a non-2xx response from the platform REST API.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	ID      string `json:"id"`
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "platform returned %d", e.Status)
	if e.Code != "" {
		fmt.Fprintf(&b, " %s", e.Code)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.ID != "" {
		fmt.Fprintf(&b, " (id: %s)", e.ID)
	}
	return b.String()
}

// HTTPStatus returns the response status code.
func (e *APIError) HTTPStatus() int { return e.Status }

func (e *APIError) Unwrap() error { return ErrPlatform }

// IsNotFound reports whether err is a 404 from the platform.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// decodeError builds an APIError from a failed response. Bodies that are
// not the platform's JSON error shape keep their first bytes as message.
func decodeError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		apiErr.Message = msg
	}
	apiErr.Status = resp.StatusCode
	return apiErr
}
