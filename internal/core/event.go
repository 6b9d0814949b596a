package core

import (
	"encoding/json"
	"fmt"
)

// RecordIDField is the host's built-in record id field.
const RecordIDField = "$id"

// Attachments returns the files held by the attachment field of the
// submitted record. A missing or empty field yields no attachments.
func Attachments(ev SubmissionEvent, field string) ([]Attachment, error) {
	fv, ok := ev.Record[field]
	if !ok || fv.Value == nil {
		return nil, nil
	}

	// The value arrives as generic JSON; round-trip it into typed form.
	data, err := json.Marshal(fv.Value)
	if err != nil {
		return nil, fmt.Errorf("attachment field %s: %w", field, err)
	}
	var files []Attachment
	if err := json.Unmarshal(data, &files); err != nil {
		return nil, fmt.Errorf("attachment field %s is not a file list: %w", field, err)
	}
	return files, nil
}

// BackReference returns the identifier stamped into every derived record:
// the value of the configured reference field when it is set, otherwise
// the source record id.
func BackReference(ev SubmissionEvent, field string) string {
	if field != "" {
		if v := scalarText(ev.Record[field].Value); v != "" {
			return v
		}
	}
	return scalarText(ev.Record[RecordIDField].Value)
}

func scalarText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		if f, ok := toFloat(v); ok {
			return FormatNumber(f)
		}
		return fmt.Sprint(v)
	}
}
