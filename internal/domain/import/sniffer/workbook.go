package sniffer

import "strconv"

// CellKind distinguishes the native type of a spreadsheet cell. Dates stored
// as serial numbers are only recognisable when numbers stay numbers.
type CellKind int

const (
	CellEmpty CellKind = iota
	CellText
	CellNumber
	CellBool
	CellError
)

// Cell is a single typed spreadsheet value.
type Cell struct {
	Kind   CellKind
	Text   string
	Number float64
}

// TextCell returns a text cell, or an empty cell for "".
func TextCell(s string) Cell {
	if s == "" {
		return Cell{Kind: CellEmpty}
	}
	return Cell{Kind: CellText, Text: s}
}

// NumberCell returns a numeric cell.
func NumberCell(f float64) Cell {
	return Cell{Kind: CellNumber, Number: f, Text: strconv.FormatFloat(f, 'f', -1, 64)}
}

// BoolCell returns a boolean cell.
func BoolCell(b bool) Cell {
	return Cell{Kind: CellBool, Text: strconv.FormatBool(b)}
}

// ErrorCell returns a cell holding a spreadsheet error value such as #N/A.
func ErrorCell(s string) Cell {
	return Cell{Kind: CellError, Text: s}
}

// IsEmpty reports whether the cell holds no value.
func (c Cell) IsEmpty() bool {
	return c.Kind == CellEmpty
}

// String returns the cell as display text.
func (c Cell) String() string {
	return c.Text
}

// Row is one spreadsheet row. Rows may be ragged.
type Row []Cell

// At returns the cell at column i, or an empty cell when the row is shorter
// or i is the -1 "no column" sentinel.
func (r Row) At(i int) Cell {
	if i < 0 || i >= len(r) {
		return Cell{Kind: CellEmpty}
	}
	return r[i]
}

// Sheet is a named grid of rows.
type Sheet struct {
	Name string
	Rows []Row
}

// Workbook is an ordered list of sheets. CSV input yields a single sheet.
type Workbook struct {
	Sheets []Sheet
}

// SheetNames returns sheet names in workbook order.
func (w *Workbook) SheetNames() []string {
	names := make([]string, 0, len(w.Sheets))
	for _, s := range w.Sheets {
		names = append(names, s.Name)
	}
	return names
}

// Sheet looks up a sheet by exact name.
func (w *Workbook) Sheet(name string) (*Sheet, bool) {
	for i := range w.Sheets {
		if w.Sheets[i].Name == name {
			return &w.Sheets[i], true
		}
	}
	return nil, false
}
