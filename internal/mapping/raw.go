package mapping

// raw.go holds the configuration as the host platform stores it.
//
// Descriptors are decoded leniently: a field reference may be a bare code
// or an object carrying the code plus display attributes, numbers may
// arrive as JSON numbers or numeric strings, and empty strings stand for
// "not set".

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RawConfig is the host configuration object after its string fields have
// been JSON-decoded.
type RawConfig struct {
	DestinationApp             AppRef    `json:"destinationApp"`
	DestinationExcelNameHolder FieldRef  `json:"destinationExcelNameHolder"`
	DestinationReferenceHolder FieldRef  `json:"destinationReferenceHolder"`
	MapperList                 []RawRule `json:"mapperList"`
	SourceAttachmentField      FieldRef  `json:"sourceAttachmentField"`
	SourceReferenceField       FieldRef  `json:"sourceReferenceField"`
}

// RawRule is one mapper entry as configured in the host UI.
type RawRule struct {
	FieldCode    FieldRef    `json:"fieldCode"`
	FieldType    string      `json:"fieldType"`
	IsTableField flexBool    `json:"isTableField"`
	ParentTable  FieldRef    `json:"parentTable"`
	MapTo        FieldRef    `json:"mapTo"`
	MapFrom      *RawCellRef `json:"mapFrom"`
	MapFromUntil *RawCellRef `json:"mapFromUntil"`
	Split        flexBool    `json:"split"`
	StartLine    OptionalInt `json:"startLine"`
	EndLine      OptionalInt `json:"endLine"`
}

// RawCellRef is a cell picker descriptor. Attributes other than the
// row/column/address triplet are ignored.
type RawCellRef struct {
	CellAddress string      `json:"cellAddress"`
	ColNumber   OptionalInt `json:"colNumber"`
	RowNumber   OptionalInt `json:"rowNumber"`
}

// FieldRef is a field picker descriptor: either a bare code or an object
// with a code and a label.
type FieldRef struct {
	Code  string `json:"code"`
	Label string `json:"label,omitempty"`
}

func (f *FieldRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case isNull(data):
		*f = FieldRef{}
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FieldRef{Code: strings.TrimSpace(s)}
		return nil
	case data[0] == '{':
		var obj struct {
			Code  json.RawMessage `json:"code"`
			Label string          `json:"label"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		code, err := scalarString(obj.Code)
		if err != nil {
			return fmt.Errorf("field code: %w", err)
		}
		*f = FieldRef{Code: code, Label: obj.Label}
		return nil
	default:
		return fmt.Errorf("field reference: unexpected JSON %s", data)
	}
}

// AppRef is an app picker descriptor: an object carrying appId, or a bare id.
type AppRef struct {
	ID   string `json:"appId"`
	Name string `json:"name,omitempty"`
}

func (a *AppRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if isNull(data) {
		*a = AppRef{}
		return nil
	}
	if data[0] == '{' {
		var obj struct {
			AppID json.RawMessage `json:"appId"`
			Name  string          `json:"name"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		id, err := scalarString(obj.AppID)
		if err != nil {
			return fmt.Errorf("app id: %w", err)
		}
		*a = AppRef{ID: id, Name: obj.Name}
		return nil
	}

	id, err := scalarString(data)
	if err != nil {
		return fmt.Errorf("app reference: %w", err)
	}
	*a = AppRef{ID: id}
	return nil
}

// OptionalInt is an integer that may be absent, null, empty, or a numeric
// string.
type OptionalInt struct {
	Value int
	Set   bool
}

func (o *OptionalInt) UnmarshalJSON(data []byte) error {
	s, err := scalarString(bytes.TrimSpace(data))
	if err != nil {
		return err
	}
	if s == "" {
		*o = OptionalInt{}
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("expected integer, got %q", s)
	}
	*o = OptionalInt{Value: int(f), Set: true}
	return nil
}

// Ptr returns the value as a pointer, nil when unset.
func (o OptionalInt) Ptr() *int {
	if !o.Set {
		return nil
	}
	v := o.Value
	return &v
}

// flexBool accepts JSON booleans and their string spellings.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	s, err := scalarString(bytes.TrimSpace(data))
	if err != nil {
		return err
	}
	switch strings.ToLower(s) {
	case "", "false", "0":
		*b = false
	case "true", "1":
		*b = true
	default:
		return fmt.Errorf("expected boolean, got %q", s)
	}
	return nil
}

// scalarString renders a JSON scalar (string, number, bool, null) as text.
func scalarString(data json.RawMessage) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || isNull(data) {
		return "", nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	case '{', '[':
		return "", fmt.Errorf("expected scalar, got %s", data)
	default:
		return string(data), nil
	}
}

func isNull(data []byte) bool {
	return len(data) == 0 || bytes.Equal(data, []byte("null"))
}
