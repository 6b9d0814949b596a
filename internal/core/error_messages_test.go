package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/JonMunkholm/sheetsync/internal/mapping"
	"github.com/JonMunkholm/sheetsync/internal/sheet"
)

type statusErr struct{ status int }

func (e *statusErr) Error() string   { return fmt.Sprintf("platform returned %d", e.status) }
func (e *statusErr) HTTPStatus() int { return e.status }
func (e *statusErr) Unwrap() error   { return ErrExternal }

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error returns empty", nil, ""},
		{"config shape", fmt.Errorf("load: %w", &mapping.ShapeError{Rule: 0, Field: "mapFrom", Reason: "missing"}), "CFG001"},
		{"unknown app", fmt.Errorf("%w: 12", mapping.ErrUnknownApp), "CFG002"},
		{"unparseable mapping", errors.New("failed to parse mapping document: yaml: line 3"), "CFG003"},
		{"invalid app id", errors.New("invalid app id \"abc\""), "APP001"},
		{"file too large", fmt.Errorf("%w: big.xlsx", ErrFileTooLarge), "FILE001"},
		{"no worksheet", fmt.Errorf("read: %w", sheet.ErrNoWorksheet), "FILE002"},
		{"bad workbook text", errors.New("failed to open workbook: zip: not a valid zip file"), "FILE002"},
		{"unsupported file type", errors.New("report.pdf: unsupported file type"), "FILE003"},
		{"no file", ErrNoFile, "FILE004"},
		{"platform auth", &statusErr{401}, "PLT001"},
		{"platform forbidden", &statusErr{403}, "PLT001"},
		{"platform not found", fmt.Errorf("download: %w", &statusErr{404}), "PLT002"},
		{"platform rejected", &statusErr{400}, "PLT003"},
		{"platform throttled", &statusErr{429}, "RATE001"},
		{"platform down", &statusErr{503}, "PLT004"},
		{"transport failure", fmt.Errorf("%w: dial tcp: i/o timeout", ErrExternal), "PLT004"},
		{"connection refused", errors.New("dial tcp 10.0.0.1:443: connection refused"), "PLT004"},
		{"run not found", fmt.Errorf("%w: abc", ErrRunNotFound), "SUB001"},
		{"too many runs", ErrTooManyRuns, "UPL002"},
		{"cancelled", fmt.Errorf("download: %w", context.Canceled), "UPL004"},
		{"deadline", context.DeadlineExceeded, "UPL005"},
		{"rate limit", errors.New("rate limit exceeded"), "RATE001"},
		{"unknown error returns default", errors.New("some random internal error"), "ERR000"},
		{"case insensitive matching", errors.New("UNSUPPORTED FILE TYPE"), "FILE003"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
			if tt.err != nil && (got.Message == "" || got.Action == "") {
				t.Errorf("MapError() = %+v, want message and action", got)
			}
		})
	}
}
