package core

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/sheetsync/internal/mapping"
	"github.com/JonMunkholm/sheetsync/internal/sheet"
)

// Resolve applies one rule to the cell sequence of a sheet.
//
// Table rules collect the truthy cells of their single-column range in
// sequence order. Scalar rules take the value at mapFrom, optionally
// narrowed to a range of lines. A missing scalar cell is not an error: the
// field is marked Missing and its value is nil.
//
// A split over a value that is not text returns the field with a nil value
// and an error wrapping ErrTypeMismatch. A table rule without a range end
// returns an error wrapping mapping.ErrConfigShape.
func Resolve(rule mapping.Rule, cells []sheet.Cell) (ResolvedField, error) {
	rf := ResolvedField{
		Code:        rule.FieldCode,
		Type:        rule.FieldType,
		IsTable:     rule.IsTableField,
		ParentTable: rule.ParentTable,
	}

	if rule.IsTableField {
		if rule.MapFromUntil == nil {
			return rf, fmt.Errorf("%w: table field %s has no range end", mapping.ErrConfigShape, rule.FieldCode)
		}
		rf.Pairs = resolveRange(cells, rule.MapFrom, *rule.MapFromUntil)
		return rf, nil
	}

	rf.Address = rule.MapFrom.Address
	cell, ok := findCell(cells, rule.MapFrom.Address)
	if ok {
		rf.Value = cell.Value
	} else {
		rf.Missing = true
	}

	if !rule.Split {
		return rf, nil
	}

	split, err := SplitLines(rf.Value, rule.StartLine, rule.EndLine)
	rf.Value = split
	if err != nil {
		return rf, fmt.Errorf("field %s at %s: %w", rule.FieldCode, rf.Address, err)
	}
	return rf, nil
}

func resolveRange(cells []sheet.Cell, from, until mapping.CellRef) []ValueRowPair {
	var pairs []ValueRowPair
	for _, c := range cells {
		if c.Col != from.Col || c.Row < from.Row || c.Row > until.Row {
			continue
		}
		if !truthy(c.Value) {
			continue
		}
		pairs = append(pairs, ValueRowPair{Value: c.Value, Row: c.Row})
	}
	return pairs
}

func findCell(cells []sheet.Cell, address string) (sheet.Cell, bool) {
	for _, c := range cells {
		if c.Address == address {
			return c, true
		}
	}
	return sheet.Cell{}, false
}

// SplitLines splits text on line breaks and re-joins lines start through
// end, both 1-based and inclusive. A nil or non-positive bound means the
// first or last line. Bounds beyond the text are clamped, and a range that
// selects nothing yields "".
func SplitLines(value any, start, end *int) (any, error) {
	s, ok := value.(string)
	if !ok {
		if value == nil {
			return nil, fmt.Errorf("%w: cannot split an empty cell", ErrTypeMismatch)
		}
		return nil, fmt.Errorf("%w: cannot split %T value", ErrTypeMismatch, value)
	}

	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")

	from, to := 1, len(lines)
	if start != nil && *start > 0 {
		from = *start
	}
	if end != nil && *end > 0 {
		to = min(*end, len(lines))
	}
	if from > to {
		return "", nil
	}
	return strings.Join(lines[from-1:to], "\n"), nil
}
