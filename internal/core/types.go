package core

import (
	"slices"
	"time"

	"github.com/JonMunkholm/sheetsync/internal/mapping"
	"github.com/JonMunkholm/sheetsync/internal/sheet"
)

// ValueRowPair is one surviving cell of a table range.
type ValueRowPair struct {
	Value any `json:"value"`
	Row   int `json:"row"`
}

// ResolvedField is the outcome of applying one rule to a sheet.
// Scalar rules fill Value; table rules fill Pairs.
type ResolvedField struct {
	Code        string
	Type        mapping.FieldType
	IsTable     bool
	ParentTable string
	Value       any
	Pairs       []ValueRowPair
	Address     string // source address for scalar rules
	Missing     bool   // scalar address not present in the sheet
}

// Field is one entry of a destination record.
// Holder fields and table containers carry no type.
type Field struct {
	Value any    `json:"value"`
	Type  string `json:"type,omitempty"`
}

// SubRow is one row of a destination table field.
type SubRow struct {
	Value map[string]Field `json:"value"`
}

// Record is a destination record payload keyed by field code.
type Record map[string]Field

// TableSchema maps each subtable code of a destination app to the codes
// of its nested fields.
type TableSchema map[string][]string

// HasTable reports whether the destination app has the subtable.
func (s TableSchema) HasTable(table string) bool {
	_, ok := s[table]
	return ok
}

// HasColumn reports whether code is a nested field of table.
func (s TableSchema) HasColumn(table, code string) bool {
	return slices.Contains(s[table], code)
}

// IssueKind classifies a recoverable per-field problem.
type IssueKind string

const (
	IssueTypeMismatch   IssueKind = "type_mismatch"
	IssueResolutionMiss IssueKind = "resolution_miss"
	IssueSchemaMismatch IssueKind = "schema_mismatch"
)

// Issue is a recoverable problem found while mapping one field. The
// affected field is emitted as null or dropped; mapping continues.
type Issue struct {
	Kind      IssueKind `json:"kind"`
	FieldCode string    `json:"field_code"`
	Address   string    `json:"address,omitempty"`
	Message   string    `json:"message"`
}

// AssembleInput carries everything the assembler needs besides the
// resolved fields.
type AssembleInput struct {
	Schema          TableSchema // nil skips schema checks
	FileName        string
	SourceRecordID  string
	FileNameHolder  string
	ReferenceHolder string
}

// MapInput is the complete input of one mapping pass over one sheet.
type MapInput struct {
	Rules           []mapping.Rule
	Cells           []sheet.Cell
	Schema          TableSchema
	FileName        string
	SourceRecordID  string
	FileNameHolder  string
	ReferenceHolder string
}

// Mapped is the result of one mapping pass.
type Mapped struct {
	Record Record  `json:"record"`
	Issues []Issue `json:"issues,omitempty"`
}

// Attachment is one file in a source record's attachment field.
type Attachment struct {
	FileKey     string `json:"fileKey"`
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
	Size        string `json:"size,omitempty"`
}

// SubmissionEvent is the host notification that a source record was
// submitted. Record holds the raw field map as delivered by the host.
type SubmissionEvent struct {
	AppID  string                     `json:"app_id"`
	Record map[string]EventFieldValue `json:"record"`
}

// EventFieldValue is one field of the submitted source record.
type EventFieldValue struct {
	Type  string `json:"type,omitempty"`
	Value any    `json:"value"`
}

// RunPhase indicates the current stage of a processing run.
type RunPhase string

const (
	PhaseStarting    RunPhase = "starting"
	PhaseDownloading RunPhase = "downloading"
	PhaseMapping     RunPhase = "mapping"
	PhaseSubmitting  RunPhase = "submitting"
	PhaseComplete    RunPhase = "complete"
	PhaseFailed      RunPhase = "failed"
)

// FileResult describes one processed attachment.
type FileResult struct {
	FileName string  `json:"file_name"`
	FileKey  string  `json:"file_key"`
	Cells    int     `json:"cells"`
	Issues   []Issue `json:"issues,omitempty"`
	RecordID string  `json:"record_id,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// RunResult is the final outcome of processing one submission.
type RunResult struct {
	RunID          string        `json:"run_id"`
	SourceApp      string        `json:"source_app"`
	SourceRecordID string        `json:"source_record_id"`
	DestinationApp string        `json:"destination_app"`
	Phase          RunPhase      `json:"phase"`
	Files          []FileResult  `json:"files"`
	RecordsCreated int           `json:"records_created"`
	Duration       time.Duration `json:"duration"`
	Error          string        `json:"error,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
}
