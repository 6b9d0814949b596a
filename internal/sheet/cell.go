// Package sheet reads the first worksheet of an uploaded workbook into a
// flat, addressable sequence of cells.
package sheet

import "time"

// Cell is one position of a worksheet.
//
// Value holds one of: string, float64, bool, time.Time, or nil for an
// empty position. Formula cells carry their last cached result.
type Cell struct {
	Row     int    `json:"row"`     // 1-based
	Col     int    `json:"col"`     // 1-based
	Address string `json:"address"` // A1 notation, unique per sheet
	Value   any    `json:"value"`
}

// IsEmpty reports whether the cell holds no value.
func (c Cell) IsEmpty() bool {
	switch v := c.Value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case time.Time:
		return v.IsZero()
	default:
		return false
	}
}
