// Package sniffer detects the layout of an uploaded bank statement: which of
// the supported formats it is, which sheet holds the movements, where the
// header row sits and which column carries each field.
package sniffer

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/FACorreiaa/household-finance/internal/domain/import/normalizer"
)

// Format identifies a supported statement layout.
type Format string

const (
	// FormatMonthlyLedger is a household ledger workbook with one sheet per
	// month. Every amount is an expense.
	FormatMonthlyLedger Format = "monthly_ledger"
	// FormatCheckingAccount is a checking-account movements export where the
	// amount carries its own sign.
	FormatCheckingAccount Format = "checking_account"
)

// Header search windows.
const (
	ledgerHeaderWindow   = 20
	checkingHeaderWindow = 15
)

var (
	ErrNoSheets             = errors.New("workbook has no sheets")
	ErrSheetNotFound        = errors.New("requested sheet not found")
	ErrHeaderNotFound       = errors.New("header row not found")
	ErrAmountColumnNotFound = errors.New("amount column not found")
	ErrDateColumnNotFound   = errors.New("date column not found")
)

// DetectionError is returned when no supported layout could be recognised.
// It always carries the workbook's sheet names so the caller can offer a
// sheet picker.
type DetectionError struct {
	Err             error
	AvailableSheets []string
}

func (e *DetectionError) Error() string { return e.Err.Error() }
func (e *DetectionError) Unwrap() error { return e.Err }

// Columns holds 0-based column indices, -1 when the column is absent.
type Columns struct {
	Date        int `json:"date"`
	Description int `json:"description"`
	Amount      int `json:"amount"`
	Category    int `json:"category"`
	Subcategory int `json:"subcategory"`
}

// Detection is the outcome of a successful Detect.
type Detection struct {
	Format          Format
	SheetName       string
	AvailableSheets []string
	HeaderRowIndex  int
	Columns         Columns
}

var monthNames = []string{
	"enero", "febrero", "marzo", "abril", "mayo", "junio", "julio",
	"agosto", "septiembre", "setiembre", "octubre", "noviembre", "diciembre",
}

// column vocabulary, folded. Roles are resolved in this order so that
// SUBCATEGORÍA is claimed before CATEGORÍA can match it.
type columnRole int

const (
	roleSubcategory columnRole = iota
	roleCategory
	roleDate
	roleDescription
	roleAmount
)

var columnVocabulary = []struct {
	role     columnRole
	keywords []string
}{
	{roleSubcategory, []string{"subcategoria", "subcategory"}},
	{roleCategory, []string{"categoria", "category"}},
	{roleDate, []string{"f.valor", "fecha", "f.operacion", "date"}},
	{roleDescription, []string{"descripcion", "concepto", "description", "movimiento"}},
	{roleAmount, []string{"importe", "cantidad", "amount"}},
}

// Detect picks the format, the active sheet and the header row of wb.
// requestedSheet may be empty.
func Detect(wb *Workbook, requestedSheet string) (*Detection, error) {
	available := wb.SheetNames()
	fail := func(err error) error {
		return &DetectionError{Err: err, AvailableSheets: available}
	}

	if len(wb.Sheets) == 0 {
		return nil, fail(ErrNoSheets)
	}

	var months []string
	for _, name := range available {
		if IsMonthSheet(name) {
			months = append(months, name)
		}
	}

	sheetName := requestedSheet
	switch {
	case sheetName != "":
		if _, ok := wb.Sheet(sheetName); !ok {
			return nil, fail(fmt.Errorf("%w: %q", ErrSheetNotFound, sheetName))
		}
	case len(months) > 0:
		sheetName = months[0]
	default:
		sheetName = available[0]
	}
	sheet, _ := wb.Sheet(sheetName)

	var (
		format    Format
		headerIdx int
	)
	if len(months) > 0 {
		format = FormatMonthlyLedger
		headerIdx = findHeaderRow(sheet.Rows, "categoria", ledgerHeaderWindow)
	} else {
		format = FormatCheckingAccount
		headerIdx = findHeaderRow(sheet.Rows, "f.valor", checkingHeaderWindow)
		if headerIdx < 0 {
			// a single ledger sheet exported without month names
			if idx := findHeaderRow(sheet.Rows, "categoria", ledgerHeaderWindow); idx >= 0 {
				format = FormatMonthlyLedger
				headerIdx = idx
			}
		}
	}
	if headerIdx < 0 {
		return nil, fail(ErrHeaderNotFound)
	}

	cols := ResolveColumns(sheet.Rows[headerIdx])
	if cols.Amount < 0 {
		return nil, fail(ErrAmountColumnNotFound)
	}
	if cols.Date < 0 {
		return nil, fail(ErrDateColumnNotFound)
	}

	return &Detection{
		Format:          format,
		SheetName:       sheetName,
		AvailableSheets: available,
		HeaderRowIndex:  headerIdx,
		Columns:         cols,
	}, nil
}

// IsMonthSheet reports whether a sheet is named after a Spanish month,
// optionally followed by a non-letter suffix such as " 2024".
func IsMonthSheet(name string) bool {
	f := normalizer.Fold(name)
	for _, m := range monthNames {
		if !strings.HasPrefix(f, m) {
			continue
		}
		if len(f) == len(m) {
			return true
		}
		if r := rune(f[len(m)]); !unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// ResolveColumns maps header cells to column roles using the fixed
// vocabulary. Keyword order takes precedence over column order, so a
// "F. VALOR" column wins the date role over an earlier "FECHA".
func ResolveColumns(header Row) Columns {
	cols := Columns{Date: -1, Description: -1, Amount: -1, Category: -1, Subcategory: -1}

	folded := make([]string, len(header))
	for i, c := range header {
		folded[i] = headerKey(c.String())
	}
	taken := make([]bool, len(header))

	for _, entry := range columnVocabulary {
		idx := -1
	search:
		for _, kw := range entry.keywords {
			for i, h := range folded {
				if !taken[i] && h != "" && strings.Contains(h, kw) {
					idx = i
					break search
				}
			}
		}
		if idx < 0 {
			continue
		}
		taken[idx] = true

		switch entry.role {
		case roleSubcategory:
			cols.Subcategory = idx
		case roleCategory:
			cols.Category = idx
		case roleDate:
			cols.Date = idx
		case roleDescription:
			cols.Description = idx
		case roleAmount:
			cols.Amount = idx
		}
	}
	return cols
}

// findHeaderRow returns the first row within window containing marker, or -1.
func findHeaderRow(rows []Row, marker string, window int) int {
	for i, row := range rows {
		if i >= window {
			break
		}
		for _, c := range row {
			if c.Kind == CellText && strings.Contains(headerKey(c.Text), marker) {
				return i
			}
		}
	}
	return -1
}

// headerKey folds a header label and drops spaces so "F. VALOR" and
// "F.VALOR" compare equal.
func headerKey(s string) string {
	return strings.ReplaceAll(normalizer.Fold(s), " ", "")
}
