package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/JonMunkholm/sheetsync/internal/core"
)

type addRecordsRequest struct {
	App     string        `json:"app"`
	Records []core.Record `json:"records"`
}

type addRecordsResponse struct {
	IDs       []string `json:"ids"`
	Revisions []string `json:"revisions"`
}

// AddRecords inserts records into an app in chunks of at most
// MaxRecordsPerRequest and returns the new record ids in input order.
// When a chunk fails, the ids of the chunks already inserted are returned
// along with the error.
func (c *Client) AddRecords(ctx context.Context, appID string, records []core.Record) ([]string, error) {
	ids := make([]string, 0, len(records))
	for chunk := range slices.Chunk(records, c.maxRecs) {
		var out addRecordsResponse
		err := c.doJSON(ctx, http.MethodPost, "/k/v1/records.json", nil,
			addRecordsRequest{App: appID, Records: chunk}, &out)
		if err != nil {
			return ids, fmt.Errorf("add %d records to app %s: %w", len(chunk), appID, err)
		}
		ids = append(ids, out.IDs...)
	}
	return ids, nil
}

type queryRecordsResponse struct {
	Records []map[string]core.EventFieldValue `json:"records"`
}

// PostedFileNames returns the subset of names already stored in the
// holderCode field of some record of the app, sorted.
func (c *Client) PostedFileNames(ctx context.Context, appID, holderCode string, names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}

	found := make(map[string]bool)
	for chunk := range slices.Chunk(names, c.maxRecs) {
		query := InQuery(holderCode, chunk)
		for offset := 0; ; offset += queryPageSize {
			page, err := c.queryRecords(ctx, appID, holderCode,
				fmt.Sprintf("%s limit %d offset %d", query, queryPageSize, offset))
			if err != nil {
				return nil, fmt.Errorf("query posted files in app %s: %w", appID, err)
			}
			for _, rec := range page {
				if v, ok := rec[holderCode].Value.(string); ok {
					found[v] = true
				}
			}
			if len(page) < queryPageSize {
				break
			}
		}
	}

	var posted []string
	for _, n := range names {
		if found[n] {
			posted = append(posted, n)
			delete(found, n)
		}
	}
	slices.Sort(posted)
	return posted, nil
}

func (c *Client) queryRecords(ctx context.Context, appID, field, query string) ([]map[string]core.EventFieldValue, error) {
	params := url.Values{
		"app":       {appID},
		"query":     {query},
		"fields[0]": {field},
	}
	var out queryRecordsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/k/v1/records.json", params, nil, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

// InQuery builds `field in ("a","b")` with values quoted for the
// platform's query language.
func InQuery(field string, values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = quote(v)
	}
	return field + " in (" + strings.Join(quoted, ",") + ")"
}

func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}
