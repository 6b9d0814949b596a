package core

import (
	"errors"
	"fmt"
)

// Map runs one mapping pass: every rule is resolved against the sheet,
// scalar values are coerced to their declared type, and the results are
// assembled into one destination record.
//
// Per-field problems never fail the pass; they are reported as Issues and
// the field becomes null. The only error is a malformed rule set, which
// wraps mapping.ErrConfigShape and yields no record at all.
//
// Map has no shared state and may run concurrently for different sheets.
func Map(in MapInput) (Mapped, error) {
	fields := make([]ResolvedField, 0, len(in.Rules))
	var issues []Issue

	for _, rule := range in.Rules {
		rf, err := Resolve(rule, in.Cells)
		if err != nil {
			if !errors.Is(err, ErrTypeMismatch) {
				return Mapped{}, err
			}
			issues = append(issues, Issue{
				Kind:      IssueTypeMismatch,
				FieldCode: rf.Code,
				Address:   rf.Address,
				Message:   err.Error(),
			})
		}

		if rf.Missing {
			issues = append(issues, Issue{
				Kind:      IssueResolutionMiss,
				FieldCode: rf.Code,
				Address:   rf.Address,
				Message:   fmt.Sprintf("cell %s not found in sheet", rf.Address),
			})
		}

		if !rf.IsTable {
			raw := rf.Value
			v, ok := Coerce(raw, rf.Type)
			if !ok {
				issues = append(issues, Issue{
					Kind:      IssueTypeMismatch,
					FieldCode: rf.Code,
					Address:   rf.Address,
					Message:   fmt.Sprintf("%v (%T) is not a valid %s", raw, raw, rf.Type),
				})
			}
			rf.Value = v
		}

		fields = append(fields, rf)
	}

	record, asmIssues := Assemble(fields, AssembleInput{
		Schema:          in.Schema,
		FileName:        in.FileName,
		SourceRecordID:  in.SourceRecordID,
		FileNameHolder:  in.FileNameHolder,
		ReferenceHolder: in.ReferenceHolder,
	})

	return Mapped{Record: record, Issues: append(issues, asmIssues...)}, nil
}
