package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/sheetsync/internal/core"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate ...func(*Config)) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := Config{BaseURL: srv.URL, APITokens: []string{"tok-a", "tok-b"}}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{BaseURL: "example.com"})
	assert.Error(t, err)

	c, err := New(Config{BaseURL: "https://example.com/", MaxRecordsPerRequest: 1000})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxRecordsPerRequest, c.maxRecs)
	assert.Equal(t, "https://example.com/k/v1/file.json?fileKey=x", c.endpoint("/k/v1/file.json", map[string][]string{"fileKey": {"x"}}))
}

// ---- DownloadFile Tests ----

func TestDownloadFile(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/k/v1/file.json", r.URL.Path)
		assert.Equal(t, "tok-a,tok-b", r.Header.Get(TokenHeader))
		if r.URL.Query().Get("fileKey") != "k1" {
			writeJSON(w, http.StatusNotFound, map[string]string{"code": "GAIA_BL01", "message": "file not found", "id": "abc"})
			return
		}
		w.Write([]byte("workbook-bytes"))
	})

	data, err := c.DownloadFile(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, "workbook-bytes", string(data))

	_, err = c.DownloadFile(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.ErrorIs(t, err, ErrPlatform)
	assert.ErrorIs(t, err, core.ErrExternal)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "GAIA_BL01", apiErr.Code)
	assert.Equal(t, "abc", apiErr.ID)
	assert.Equal(t, http.StatusNotFound, apiErr.HTTPStatus())

	_, err = c.DownloadFile(context.Background(), "")
	assert.ErrorIs(t, err, core.ErrNoFile)
}

func TestDownloadFile_SizeLimit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 64)))
	}, func(cfg *Config) { cfg.MaxDownloadSize = 16 })

	_, err := c.DownloadFile(context.Background(), "k1")
	assert.ErrorIs(t, err, core.ErrFileTooLarge)
}

func TestDownloadFile_PlainTextError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	})

	_, err := c.DownloadFile(context.Background(), "k1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "upstream unavailable", apiErr.Message)
	assert.Equal(t, "PLT004", core.MapError(err).Code)
}

func TestDownloadFile_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(Config{BaseURL: url})
	require.NoError(t, err)

	_, err = c.DownloadFile(context.Background(), "k1")
	assert.ErrorIs(t, err, core.ErrExternal)
}

// ---- TableSchema Tests ----

func TestTableSchema(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/k/v1/app/form/fields.json", r.URL.Path)
		assert.Equal(t, "20", r.URL.Query().Get("app"))
		writeJSON(w, http.StatusOK, map[string]any{
			"revision": "3",
			"properties": map[string]any{
				"company": map[string]any{"type": "SINGLE_LINE_TEXT", "code": "company"},
				"items": map[string]any{
					"type": "SUBTABLE",
					"code": "items",
					"fields": map[string]any{
						"qty":  map[string]any{"type": "NUMBER", "code": "qty"},
						"item": map[string]any{"type": "SINGLE_LINE_TEXT", "code": "item"},
					},
				},
				"notes": map[string]any{"type": "SUBTABLE", "code": "notes", "fields": map[string]any{}},
			},
		})
	})

	schema, err := c.TableSchema(context.Background(), "20")
	require.NoError(t, err)
	assert.Equal(t, core.TableSchema{
		"items": {"item", "qty"},
		"notes": {},
	}, schema)
	assert.NotNil(t, schema["notes"], "empty subtable must keep a non-nil column list")

	data, err := json.Marshal(schema)
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":["item","qty"],"notes":[]}`, string(data))
}

// ---- AddRecords Tests ----

func TestAddRecords_Chunked(t *testing.T) {
	var mu sync.Mutex
	var sizes []int
	next := 1

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body struct {
			App     string           `json:"app"`
			Records []map[string]any `json:"records"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "20", body.App)

		mu.Lock()
		sizes = append(sizes, len(body.Records))
		ids := make([]string, len(body.Records))
		for i := range ids {
			ids[i] = fmt.Sprint(next)
			next++
		}
		mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"ids": ids, "revisions": ids})
	}, func(cfg *Config) { cfg.MaxRecordsPerRequest = 2 })

	records := make([]core.Record, 5)
	for i := range records {
		records[i] = core.Record{"n": {Value: fmt.Sprint(i)}}
	}

	ids, err := c.AddRecords(context.Background(), "20", records)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, ids)
	assert.Equal(t, []int{2, 2, 1}, sizes)
}

func TestAddRecords_PartialFailure(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 2 {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"code": "CB_VA01", "message": "Missing or invalid input.", "id": "xyz",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ids": []string{"7"}})
	}, func(cfg *Config) { cfg.MaxRecordsPerRequest = 1 })

	ids, err := c.AddRecords(context.Background(), "20", []core.Record{{}, {}, {}})
	require.Error(t, err)
	assert.Equal(t, []string{"7"}, ids)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "PLT003", core.MapError(err).Code)
	assert.Contains(t, err.Error(), "CB_VA01")
}

func TestAddRecords_PayloadShape(t *testing.T) {
	var raw json.RawMessage
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		writeJSON(w, http.StatusOK, map[string]any{"ids": []string{"1"}})
	})

	_, err := c.AddRecords(context.Background(), "20", []core.Record{{
		"company":   {Value: "Acme", Type: "SINGLE_LINE_TEXT"},
		"file_name": {Value: "a.xlsx"},
	}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"app":"20","records":[{"company":{"value":"Acme","type":"SINGLE_LINE_TEXT"},"file_name":{"value":"a.xlsx"}}]}`, string(raw))
}

// ---- PostedFileNames Tests ----

func TestPostedFileNames(t *testing.T) {
	var queries []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "20", q.Get("app"))
		assert.Equal(t, "file_name", q.Get("fields[0]"))
		queries = append(queries, q.Get("query"))

		writeJSON(w, http.StatusOK, map[string]any{
			"records": []map[string]any{
				{"file_name": map[string]any{"type": "SINGLE_LINE_TEXT", "value": "b.xlsx"}},
				{"file_name": map[string]any{"type": "SINGLE_LINE_TEXT", "value": "a.xlsx"}},
				{"file_name": map[string]any{"type": "SINGLE_LINE_TEXT", "value": "a.xlsx"}},
			},
		})
	})

	posted, err := c.PostedFileNames(context.Background(), "20", "file_name", []string{"a.xlsx", "b.xlsx", "c.xlsx"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.xlsx", "b.xlsx"}, posted)
	require.Len(t, queries, 1)
	assert.Equal(t, `file_name in ("a.xlsx","b.xlsx","c.xlsx") limit 500 offset 0`, queries[0])
}

func TestPostedFileNames_Empty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	posted, err := c.PostedFileNames(context.Background(), "20", "file_name", nil)
	require.NoError(t, err)
	assert.Empty(t, posted)
}

func TestInQuery(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   string
	}{
		{"single", []string{"a.xlsx"}, `f in ("a.xlsx")`},
		{"several", []string{"a", "b"}, `f in ("a","b")`},
		{"quotes escaped", []string{`say "hi".xlsx`}, `f in ("say \"hi\".xlsx")`},
		{"backslash escaped", []string{`a\b`}, `f in ("a\\b")`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InQuery("f", tt.values))
		})
	}
}

func TestAPIError_Error(t *testing.T) {
	err := &APIError{Status: 403, Code: "GAIA_NO01", Message: "no permission", ID: "r1"}
	assert.Equal(t, "platform returned 403 GAIA_NO01: no permission (id: r1)", err.Error())
	assert.True(t, errors.Is(err, core.ErrExternal))
	assert.Equal(t, "PLT001", core.MapError(err).Code)
}
