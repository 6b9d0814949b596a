// Package mapping turns the host platform's mapping configuration into the
// canonical rule set consumed by the transform engine.
//
// The host stores its configuration as rich descriptors: field pickers
// carry a display label next to the field code, cell pickers carry extra
// presentation attributes next to the row/column/address triplet. This
// package strips those descriptors down to what the engine needs and
// rejects rule sets that the engine cannot apply.
package mapping

import "strings"

// FieldType is the declared type of a destination field.
// Types other than the constants below are passed through uncoerced.
type FieldType string

const (
	FieldSingleLineText FieldType = "SINGLE_LINE_TEXT"
	FieldMultiLineText  FieldType = "MULTI_LINE_TEXT"
	FieldNumber         FieldType = "NUMBER"
	FieldDate           FieldType = "DATE"
)

// IsText reports whether the type is a single or multi-line text field.
func (t FieldType) IsText() bool {
	return t == FieldSingleLineText || t == FieldMultiLineText
}

// Coerced reports whether values of this type go through coercion.
func (t FieldType) Coerced() bool {
	return t.IsText() || t == FieldNumber || t == FieldDate
}

// CellRef addresses one source cell.
type CellRef struct {
	Row     int    `json:"row"`
	Col     int    `json:"col"`
	Address string `json:"address"`
}

// Rule maps one source cell (or a single-column range of cells for table
// fields) onto one destination field.
type Rule struct {
	FieldCode    string    `json:"fieldCode"`
	FieldType    FieldType `json:"fieldType"`
	IsTableField bool      `json:"isTableField"`
	ParentTable  string    `json:"parentTable,omitempty"`
	MapFrom      CellRef   `json:"mapFrom"`
	MapFromUntil *CellRef  `json:"mapFromUntil,omitempty"` // nil unless IsTableField
	Split        bool      `json:"split"`                  // always false for table fields
	StartLine    *int      `json:"startLine,omitempty"`
	EndLine      *int      `json:"endLine,omitempty"`
}

// AppConfig is the canonical configuration for one source app.
type AppConfig struct {
	SourceAppID           string `json:"sourceAppId"`
	DestinationApp        string `json:"destinationApp"`
	FileNameHolder        string `json:"fileNameHolder"`
	ReferenceHolder       string `json:"referenceHolder"`
	SourceAttachmentField string `json:"sourceAttachmentField"`
	SourceReferenceField  string `json:"sourceReferenceField,omitempty"`
	Rules                 []Rule `json:"rules"`
}

// TableRules returns the rules that feed table fields.
func (c *AppConfig) TableRules() []Rule {
	var out []Rule
	for _, r := range c.Rules {
		if r.IsTableField {
			out = append(out, r)
		}
	}
	return out
}

// normalizeAddress upper-cases an A1 address and drops absolute markers.
func normalizeAddress(addr string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(addr), "$", ""))
}
