package mapping

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Normalize converts a raw host configuration into the canonical AppConfig.
//
// It has no side effects. All shape problems found are returned together,
// joined; each one matches ErrConfigShape via errors.Is.
func Normalize(raw RawConfig) (*AppConfig, error) {
	var errs []error

	cfg := &AppConfig{
		DestinationApp:        raw.DestinationApp.ID,
		FileNameHolder:        raw.DestinationExcelNameHolder.Code,
		ReferenceHolder:       raw.DestinationReferenceHolder.Code,
		SourceAttachmentField: raw.SourceAttachmentField.Code,
		SourceReferenceField:  raw.SourceReferenceField.Code,
	}

	if cfg.DestinationApp == "" {
		errs = append(errs, topLevelError("destinationApp", "app id is required"))
	}
	if cfg.FileNameHolder == "" {
		errs = append(errs, topLevelError("destinationExcelNameHolder", "field code is required"))
	}
	if cfg.ReferenceHolder == "" {
		errs = append(errs, topLevelError("destinationReferenceHolder", "field code is required"))
	}
	if cfg.SourceAttachmentField == "" {
		errs = append(errs, topLevelError("sourceAttachmentField", "field code is required"))
	}

	seen := make(map[string]int, len(raw.MapperList))
	cfg.Rules = make([]Rule, 0, len(raw.MapperList))
	for i, rr := range raw.MapperList {
		rule, err := normalizeRule(i, rr)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if prev, dup := seen[rule.FieldCode]; dup {
			errs = append(errs, &ShapeError{
				Rule:      i,
				FieldCode: rule.FieldCode,
				Field:     "fieldCode",
				Reason:    fmt.Sprintf("duplicates rule %d", prev),
			})
			continue
		}
		seen[rule.FieldCode] = i
		cfg.Rules = append(cfg.Rules, rule)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func normalizeRule(i int, rr RawRule) (Rule, error) {
	code := rr.FieldCode.Code
	if code == "" {
		code = rr.MapTo.Code
	}
	if code == "" {
		return Rule{}, &ShapeError{Rule: i, Field: "fieldCode", Reason: "field code is required"}
	}

	shapeErr := func(field, reason string) error {
		return &ShapeError{Rule: i, FieldCode: code, Field: field, Reason: reason}
	}

	if rr.MapFrom == nil {
		return Rule{}, shapeErr("mapFrom", "source cell is required")
	}
	from, err := normalizeCellRef(*rr.MapFrom)
	if err != nil {
		return Rule{}, shapeErr("mapFrom", err.Error())
	}

	rule := Rule{
		FieldCode:    code,
		FieldType:    FieldType(strings.TrimSpace(rr.FieldType)),
		IsTableField: bool(rr.IsTableField),
		MapFrom:      from,
		Split:        bool(rr.Split),
		StartLine:    rr.StartLine.Ptr(),
		EndLine:      rr.EndLine.Ptr(),
	}

	if !rule.IsTableField {
		return rule, nil
	}

	rule.Split = false
	rule.ParentTable = rr.ParentTable.Code
	if rule.ParentTable == "" {
		return Rule{}, shapeErr("parentTable", "table field requires a parent table")
	}
	if rr.MapFromUntil == nil {
		return Rule{}, shapeErr("mapFromUntil", "table field requires a range end")
	}
	until, err := normalizeCellRef(*rr.MapFromUntil)
	if err != nil {
		return Rule{}, shapeErr("mapFromUntil", err.Error())
	}
	if until.Col != from.Col {
		return Rule{}, shapeErr("mapFromUntil", fmt.Sprintf("range %s:%s must stay in one column", from.Address, until.Address))
	}
	if until.Row < from.Row {
		return Rule{}, shapeErr("mapFromUntil", fmt.Sprintf("range %s:%s ends above its start", from.Address, until.Address))
	}
	rule.MapFromUntil = &until

	return rule, nil
}

// normalizeCellRef fills whichever half of the descriptor is missing: the
// address from row/column, or row/column from the address.
func normalizeCellRef(raw RawCellRef) (CellRef, error) {
	ref := CellRef{
		Row:     raw.RowNumber.Value,
		Col:     raw.ColNumber.Value,
		Address: normalizeAddress(raw.CellAddress),
	}
	hasCoords := raw.RowNumber.Set && raw.ColNumber.Set

	switch {
	case ref.Address != "" && !hasCoords:
		col, row, err := excelize.CellNameToCoordinates(ref.Address)
		if err != nil {
			return CellRef{}, fmt.Errorf("invalid cell address %q", raw.CellAddress)
		}
		ref.Row, ref.Col = row, col
	case ref.Address == "" && hasCoords:
		addr, err := excelize.CoordinatesToCellName(ref.Col, ref.Row)
		if err != nil {
			return CellRef{}, fmt.Errorf("invalid coordinates row %d col %d", ref.Row, ref.Col)
		}
		ref.Address = addr
	case ref.Address == "":
		return CellRef{}, errors.New("cell address or row/column is required")
	}

	if ref.Row < 1 || ref.Col < 1 {
		return CellRef{}, fmt.Errorf("row and column must be positive, got row %d col %d", ref.Row, ref.Col)
	}
	return ref, nil
}
