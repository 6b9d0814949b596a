package core

// validation.go checks a set of attachment names before they are submitted.
//
// Three checks run, in order:
//  1. Extension: only OOXML workbooks (.xlsx) are accepted; legacy .xls
//     binaries cannot be read and are rejected with their own message
//  2. Duplicates: the same file name may not be attached twice
//  3. Already posted: a file name already present in the destination app's
//     file-name holder field was processed before
//
// Only the last check talks to the platform; its failure is returned as an
// error, while problems with the names themselves are reported in the
// ValidationResult.

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// excelExtensions lists the accepted workbook extensions (lower case).
var excelExtensions = []string{".xlsx"}

const legacyExcelExtension = ".xls"

// ValidationError represents a single problem with one file name.
type ValidationError struct {
	Field   string `json:"file_name"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// ValidationResult contains the result of validating a set of file names.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

func (r *ValidationResult) add(name, message string) {
	r.Valid = false
	r.Errors = append(r.Errors, ValidationError{Field: name, Message: message})
}

// IsExcelFile reports whether name has a workbook extension.
func IsExcelFile(name string) bool {
	return slices.Contains(excelExtensions, strings.ToLower(filepath.Ext(name)))
}

// DuplicateNames returns the names that occur more than once, in order of
// their second occurrence.
func DuplicateNames(names []string) []string {
	seen := make(map[string]int, len(names))
	var dups []string
	for _, n := range names {
		seen[n]++
		if seen[n] == 2 {
			dups = append(dups, n)
		}
	}
	return dups
}

// ValidateFiles checks attachment names for the source app before
// submission.
func (s *Service) ValidateFiles(ctx context.Context, sourceAppID string, names []string) (ValidationResult, error) {
	cfg, err := s.deps.Registry.Get(sourceAppID)
	if err != nil {
		return ValidationResult{}, err
	}

	result := ValidationResult{Valid: true}

	for _, n := range names {
		switch {
		case IsExcelFile(n):
		case strings.EqualFold(filepath.Ext(n), legacyExcelExtension):
			result.add(n, "legacy .xls workbooks are not supported, save as .xlsx")
		default:
			result.add(n, "unsupported file type, only .xlsx is accepted")
		}
	}
	for _, n := range DuplicateNames(names) {
		result.add(n, "duplicate file name")
	}

	if len(names) == 0 || s.deps.Records == nil {
		return result, nil
	}

	unique := slices.Compact(slices.Sorted(slices.Values(names)))
	posted, err := s.deps.Records.PostedFileNames(ctx, cfg.DestinationApp, cfg.FileNameHolder, unique)
	if err != nil {
		return result, fmt.Errorf("check posted files: %w", err)
	}
	for _, n := range posted {
		result.add(n, "already posted to the destination app")
	}

	return result, nil
}
