package core

import (
	"fmt"
	"maps"
	"slices"
)

// Assemble merges resolved fields into one destination record.
//
// Scalar fields are written as {value, type}. Table fields are grouped into
// sub-rows by source row number and emitted in row order, so a table only
// holds rows that had at least one non-empty cell. When in.Schema is set,
// table columns the destination does not define are dropped with an
// IssueSchemaMismatch. The holder fields are written last and win over any
// rule-produced field of the same code.
func Assemble(fields []ResolvedField, in AssembleInput) (Record, []Issue) {
	record := make(Record, len(fields)+2)
	var issues []Issue

	// table code -> source row -> nested fields
	tables := make(map[string]map[int]map[string]Field)

	for _, f := range fields {
		if !f.IsTable {
			record[f.Code] = Field{Value: f.Value, Type: string(f.Type)}
			continue
		}

		if in.Schema != nil {
			if issue, ok := checkTableColumn(in.Schema, f); !ok {
				issues = append(issues, issue)
				continue
			}
		}

		rows, ok := tables[f.ParentTable]
		if !ok {
			rows = make(map[int]map[string]Field)
			tables[f.ParentTable] = rows
		}
		for _, p := range f.Pairs {
			row, ok := rows[p.Row]
			if !ok {
				row = make(map[string]Field)
				rows[p.Row] = row
			}
			row[f.Code] = Field{Value: p.Value, Type: string(f.Type)}
		}
	}

	for table, rows := range tables {
		subRows := make([]SubRow, 0, len(rows))
		for _, n := range slices.Sorted(maps.Keys(rows)) {
			subRows = append(subRows, SubRow{Value: rows[n]})
		}
		record[table] = Field{Value: subRows}
	}

	if in.FileNameHolder != "" {
		record[in.FileNameHolder] = Field{Value: in.FileName}
	}
	if in.ReferenceHolder != "" {
		record[in.ReferenceHolder] = Field{Value: in.SourceRecordID}
	}

	return record, issues
}

func checkTableColumn(schema TableSchema, f ResolvedField) (Issue, bool) {
	if !schema.HasTable(f.ParentTable) {
		return Issue{
			Kind:      IssueSchemaMismatch,
			FieldCode: f.Code,
			Message:   fmt.Sprintf("destination has no table %s", f.ParentTable),
		}, false
	}
	if !schema.HasColumn(f.ParentTable, f.Code) {
		return Issue{
			Kind:      IssueSchemaMismatch,
			FieldCode: f.Code,
			Message:   fmt.Sprintf("table %s has no field %s", f.ParentTable, f.Code),
		}, false
	}
	return Issue{}, true
}
