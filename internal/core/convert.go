package core

// convert.go encodes resolved cell values as the destination field types
// expect them.
//
// Coercion never fails loudly. A value the destination type cannot hold
// becomes nil, so one bad cell never aborts a whole sheet:
//   - text fields take strings as-is and numbers in canonical form
//   - number fields take numbers, or strings holding a whole float literal
//   - date fields take dates, or strings in MM/dd/yy form
//
// Numbers are rendered the way the destination platform prints them:
// shortest round-trip digits, exponent form only below 1e-6 or from 1e21.

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/sheetsync/internal/mapping"
)

// numericRegex validates that a string is a float literal.
// Matches integers, decimals, and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// TwoDigitYearCutoff is the last two-digit year read as 20xx. Later
// two-digit years are read as 19xx.
var TwoDigitYearCutoff = 60

// sheetDateLayout is the fixed MM/dd/yy format of date strings in sheets.
// Month and day may have one or two digits.
const sheetDateLayout = "1/2/06"

// isoDateLayout is the destination date encoding.
const isoDateLayout = "2006-01-02"

// Coerce converts value to the encoding of field type t.
//
// The result is nil when the value cannot be represented; ok is false in
// that case unless the input itself was nil. Types without a coercion rule
// pass the value through unchanged.
func Coerce(value any, t mapping.FieldType) (any, bool) {
	if !t.Coerced() {
		return value, true
	}
	if value == nil {
		return nil, true
	}

	var out any
	switch {
	case t.IsText():
		out = coerceText(value)
	case t == mapping.FieldNumber:
		out = coerceNumber(value)
	case t == mapping.FieldDate:
		out = coerceDate(value)
	}
	return out, out != nil
}

func coerceText(value any) any {
	if s, ok := value.(string); ok {
		return s
	}
	if f, ok := toFloat(value); ok {
		return FormatNumber(f)
	}
	return nil
}

func coerceNumber(value any) any {
	if s, ok := value.(string); ok {
		f, ok := ParseNumber(s)
		if !ok {
			return nil
		}
		return FormatNumber(f)
	}
	if f, ok := toFloat(value); ok && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return FormatNumber(f)
	}
	return nil
}

func coerceDate(value any) any {
	switch v := value.(type) {
	case time.Time:
		if v.IsZero() {
			return nil
		}
		return v.Format(isoDateLayout)
	case string:
		t, ok := ParseSheetDate(v)
		if !ok {
			return nil
		}
		return t.Format(isoDateLayout)
	default:
		return nil
	}
}

// ParseNumber parses s as a whole float literal after trimming surrounding
// whitespace. Trailing garbage, NaN and infinities are rejected.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if !numericRegex.MatchString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ParseSheetDate parses an MM/dd/yy date string. Two-digit years up to
// TwoDigitYearCutoff land in the 2000s, later ones in the 1900s.
func ParseSheetDate(s string) (time.Time, bool) {
	t, err := time.Parse(sheetDateLayout, s)
	if err != nil {
		return time.Time{}, false
	}

	// time.Parse pivots two-digit years at 69; move the window.
	if t.Year() > 2000+TwoDigitYearCutoff {
		t = t.AddDate(-100, 0, 0)
	}
	return t, true
}

// FormatNumber renders f in canonical form: "3", "2.5", "1e+21", "1e-7".
// NaN and infinities render as "NaN", "Infinity" and "-Infinity".
func FormatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}

	abs := math.Abs(f)
	if abs >= 1e21 || abs < 1e-6 {
		s := strconv.FormatFloat(f, 'e', -1, 64)
		mant, exp, _ := strings.Cut(s, "e")
		sign, digits := exp[:1], strings.TrimLeft(exp[1:], "0")
		return mant + "e" + sign + digits
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// toFloat widens any Go numeric value to float64.
func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case uint32:
		return float64(v), true
	default:
		return 0, false
	}
}

// truthy reports whether a cell value counts as present in a table range.
// Nil, empty strings, false, zero and NaN do not.
func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case string:
		return v != ""
	case bool:
		return v
	case time.Time:
		return !v.IsZero()
	}
	if f, ok := toFloat(value); ok {
		return f != 0 && !math.IsNaN(f)
	}
	return true
}
