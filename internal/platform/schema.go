package platform

import (
	"context"
	"maps"
	"net/http"
	"net/url"
	"slices"

	"github.com/JonMunkholm/sheetsync/internal/core"
)

const fieldTypeSubtable = "SUBTABLE"

type formField struct {
	Type   string               `json:"type"`
	Code   string               `json:"code"`
	Label  string               `json:"label"`
	Fields map[string]formField `json:"fields"`
}

type formFieldsResponse struct {
	Properties map[string]formField `json:"properties"`
	Revision   string               `json:"revision"`
}

// TableSchema returns the subtables of an app's form with their column
// codes, sorted.
func (c *Client) TableSchema(ctx context.Context, appID string) (core.TableSchema, error) {
	var out formFieldsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/k/v1/app/form/fields.json", url.Values{"app": {appID}}, nil, &out); err != nil {
		return nil, err
	}

	schema := make(core.TableSchema)
	for key, f := range out.Properties {
		if f.Type != fieldTypeSubtable {
			continue
		}
		code := f.Code
		if code == "" {
			code = key
		}
		cols := slices.Sorted(maps.Keys(f.Fields))
		if cols == nil {
			cols = []string{}
		}
		schema[code] = cols
	}
	return schema, nil
}
