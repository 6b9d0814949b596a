// Package core turns spreadsheet attachments into destination records.
//
// The package holds the mapping engine and the service that drives it. It
// has no transport dependencies and can be used by the web server, the CLI
// or tests without modification.
//
// # Engine
//
// One pass over one sheet runs four steps, all pure:
//
//  1. [Resolve] applies each rule to the cell sequence: a single cell for
//     scalar rules (optionally narrowed to a range of lines), or the
//     non-empty cells of a single-column range for table rules.
//  2. [Coerce] encodes scalar values for the declared field type. Values
//     the type cannot hold become null.
//  3. [Assemble] builds the record. Table cells are grouped into sub-rows
//     by source row number and emitted in row order. The file-name and
//     back-reference holders are written last.
//  4. [Map] chains the above and reports per-field [Issue]s.
//
// Only a malformed rule set fails a pass. Everything else degrades to a
// null field plus an Issue.
//
// # Service
//
// [Service] handles submissions. For each submission it downloads all
// attachments while fetching the destination table layout, reads and maps
// every workbook concurrently, and submits one record per workbook in a
// single bulk call. Runs started with [Service.Start] are bounded by a
// [RunLimiter] and tracked in memory, then in the optional [RunLedger].
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each category has a code for support reference:
//
//   - CFG001-CFG003: mapping configuration errors
//   - APP001: invalid app
//   - FILE001-FILE004: attachment errors
//   - PLT001-PLT004: platform API errors
//   - SUB001, UPL002-UPL005: run and request errors
package core
