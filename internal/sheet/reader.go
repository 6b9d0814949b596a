package sheet

// reader.go converts excelize rows into the Cell sequence.
//
// Only the first worksheet is read. Rows are visited top to bottom; within
// a row every column from 1 through the last used column is emitted, so
// gaps appear as cells with a nil Value. Rows without any value are
// skipped entirely.
//
// Values are read raw (no number formatting) and typed afterwards:
//   - shared/inline strings and string formula results stay strings
//   - numbers become float64, or time.Time when the cell's number format
//     is a date/time format
//   - booleans become bool, error cells become nil

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// ErrNoWorksheet is returned when a workbook contains no worksheet.
var ErrNoWorksheet = errors.New("workbook has no worksheet")

// Read parses workbook bytes and returns the cells of the first worksheet.
//
// A malformed workbook yields an empty or partial sequence together with a
// non-nil error; callers that prefer a best-effort result can log the error
// and keep the returned cells.
func Read(data []byte) ([]Cell, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	return readFirstSheet(f)
}

// Open reads the first worksheet of the workbook at path.
func Open(path string) ([]Cell, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %q: %w", path, err)
	}
	defer f.Close()

	return readFirstSheet(f)
}

type cellReader struct {
	file       *excelize.File
	sheet      string
	date1904   bool
	dateStyles map[int]bool // style id -> has a date/time number format
}

func readFirstSheet(f *excelize.File) ([]Cell, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoWorksheet
	}
	name := sheets[0]

	rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read rows from sheet %q: %w", name, err)
	}

	r := &cellReader{
		file:       f,
		sheet:      name,
		date1904:   uses1904(f),
		dateStyles: make(map[int]bool),
	}

	var cells []Cell
	for rowIdx, row := range rows {
		last := lastUsedColumn(row)
		if last < 0 {
			continue
		}

		rowNum := rowIdx + 1
		for colIdx := 0; colIdx <= last; colIdx++ {
			colNum := colIdx + 1
			addr, err := excelize.CoordinatesToCellName(colNum, rowNum)
			if err != nil {
				return cells, fmt.Errorf("cell name for row %d col %d: %w", rowNum, colNum, err)
			}
			cells = append(cells, Cell{
				Row:     rowNum,
				Col:     colNum,
				Address: addr,
				Value:   r.value(addr, row[colIdx]),
			})
		}
	}

	return cells, nil
}

// lastUsedColumn returns the 0-based index of the last non-empty value,
// or -1 for a blank row.
func lastUsedColumn(row []string) int {
	for i := len(row) - 1; i >= 0; i-- {
		if row[i] != "" {
			return i
		}
	}
	return -1
}

// value types a raw cell string using the cell's stored type and style.
func (r *cellReader) value(addr, raw string) any {
	if raw == "" {
		return nil
	}

	typ, err := r.file.GetCellType(r.sheet, addr)
	if err != nil {
		return raw
	}

	switch typ {
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString, excelize.CellTypeFormula:
		return raw
	case excelize.CellTypeBool:
		return raw == "1" || strings.EqualFold(raw, "true")
	case excelize.CellTypeError:
		return nil
	case excelize.CellTypeDate:
		if t, ok := parseISODate(raw); ok {
			return t
		}
		return raw
	}

	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return raw
	}
	if r.isDateStyled(addr) {
		if t, err := excelize.ExcelDateToTime(n, r.date1904); err == nil {
			return t
		}
	}
	return n
}

func (r *cellReader) isDateStyled(addr string) bool {
	id, err := r.file.GetCellStyle(r.sheet, addr)
	if err != nil || id == 0 {
		return false
	}
	if known, ok := r.dateStyles[id]; ok {
		return known
	}

	style, err := r.file.GetStyle(id)
	isDate := err == nil && style != nil && isDateNumFmt(style.NumFmt, style.CustomNumFmt)
	r.dateStyles[id] = isDate
	return isDate
}

// builtInDateFormats lists the built-in number format ids that render dates
// or times (ECMA-376 18.8.30 plus the common CJK ids).
var builtInDateFormats = map[int]bool{
	14: true, 15: true, 16: true, 17: true, 18: true, 19: true, 20: true, 21: true, 22: true,
	27: true, 28: true, 29: true, 30: true, 31: true, 32: true, 33: true, 34: true, 35: true, 36: true,
	45: true, 46: true, 47: true,
	50: true, 51: true, 52: true, 53: true, 54: true, 55: true, 56: true, 57: true, 58: true,
}

func isDateNumFmt(id int, custom *string) bool {
	if custom != nil && *custom != "" {
		return isDateFormatCode(*custom)
	}
	return builtInDateFormats[id]
}

// isDateFormatCode reports whether a custom format code contains date or
// time tokens once literals, escapes and bracketed sections are removed.
func isDateFormatCode(code string) bool {
	var b strings.Builder
	inQuote, inBracket := false, false
	for i := 0; i < len(code); i++ {
		ch := code[i]
		switch {
		case inQuote:
			if ch == '"' {
				inQuote = false
			}
		case inBracket:
			if ch == ']' {
				inBracket = false
			}
		case ch == '"':
			inQuote = true
		case ch == '[':
			inBracket = true
		case ch == '\\', ch == '_', ch == '*':
			i++ // skip the escaped or padding character
		default:
			b.WriteByte(ch)
		}
	}

	stripped := strings.ToLower(b.String())
	if strings.Contains(stripped, "general") {
		return false
	}
	return strings.ContainsAny(stripped, "ymdhs")
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseISODate(s string) (time.Time, bool) {
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func uses1904(f *excelize.File) bool {
	props, err := f.GetWorkbookProps()
	return err == nil && props.Date1904 != nil && *props.Date1904
}
