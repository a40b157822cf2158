// Package parser turns the data rows of a detected statement sheet into
// normalized transactions and the distinct bank categories they use.
package parser

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/FACorreiaa/household-finance/internal/domain/import/normalizer"
	"github.com/FACorreiaa/household-finance/internal/domain/import/sniffer"
)

// excelEpochOffset is the number of days between the spreadsheet serial
// epoch (1899-12-30) and the Unix epoch.
const excelEpochOffset = 25569

const (
	secondsPerDay = 86400
	// days from the Unix epoch to 0001-01-01 and 9999-12-31
	minUnixDay = -719162
	maxUnixDay = 2932896
)

// ParsedTransaction is a normalized row ready for review and commit.
type ParsedTransaction struct {
	Date            string  `json:"date"`
	Description     string  `json:"description"`
	Amount          float64 `json:"amount"`
	BankCategory    string  `json:"bank_category,omitempty"`
	BankSubcategory string  `json:"bank_subcategory,omitempty"`
}

// CategoryObservation is a distinct bank category pair seen in a file.
type CategoryObservation struct {
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
}

// Key identifies the pair in lookups.
func (o CategoryObservation) Key() string {
	return o.Category + "\x1f" + o.Subcategory
}

// Result is the outcome of parsing one sheet. Slices are never nil.
type Result struct {
	Transactions []ParsedTransaction   `json:"transactions"`
	Categories   []CategoryObservation `json:"categories"`
	Errors       []string              `json:"errors"`
}

var errSkipRow = errors.New("skip row")

// ParseRows parses every row below headerRowIndex. Rows missing required
// cells are skipped silently; rows that fail are reported in Errors as
// "row <n>: <message>" with n counted from the first data row.
func ParseRows(rows []sniffer.Row, headerRowIndex int, format sniffer.Format, cols sniffer.Columns) *Result {
	result := &Result{
		Transactions: make([]ParsedTransaction, 0, len(rows)),
		Categories:   make([]CategoryObservation, 0),
		Errors:       make([]string, 0),
	}
	seen := make(map[string]struct{})

	for i := headerRowIndex + 1; i < len(rows); i++ {
		rowNum := i - headerRowIndex

		tx, err := parseRow(rows[i], format, cols)
		if errors.Is(err, errSkipRow) {
			continue
		}
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", rowNum, err))
			continue
		}

		result.Transactions = append(result.Transactions, *tx)

		obs := CategoryObservation{Category: tx.BankCategory, Subcategory: tx.BankSubcategory}
		if obs.Category == "" && obs.Subcategory == "" {
			continue
		}
		if _, ok := seen[obs.Key()]; !ok {
			seen[obs.Key()] = struct{}{}
			result.Categories = append(result.Categories, obs)
		}
	}

	return result
}

func parseRow(row sniffer.Row, format sniffer.Format, cols sniffer.Columns) (tx *ParsedTransaction, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected value: %v", r)
		}
	}()

	dateCell := row.At(cols.Date)
	amountCell := row.At(cols.Amount)
	categoryCell := row.At(cols.Category)

	if dateCell.IsEmpty() || amountCell.IsEmpty() {
		return nil, errSkipRow
	}
	if format == sniffer.FormatMonthlyLedger && categoryCell.IsEmpty() {
		return nil, errSkipRow
	}

	date, err := coerceDate(dateCell)
	if err != nil {
		return nil, err
	}

	amount, ok := coerceAmount(amountCell)
	if !ok {
		return nil, errSkipRow
	}
	if format == sniffer.FormatMonthlyLedger {
		amount = -math.Abs(amount)
	}

	return &ParsedTransaction{
		Date:            date,
		Description:     normalizer.Description(row.At(cols.Description).String()),
		Amount:          amount,
		BankCategory:    normalizer.Sanitize(categoryCell.String()),
		BankSubcategory: normalizer.Sanitize(row.At(cols.Subcategory).String()),
	}, nil
}

// coerceDate converts a serial date number to an ISO date and passes text
// through unchanged. Other cell kinds skip the row.
func coerceDate(c sniffer.Cell) (string, error) {
	switch c.Kind {
	case sniffer.CellNumber:
		return SerialToISO(c.Number)
	case sniffer.CellText:
		return c.Text, nil
	default:
		return "", errSkipRow
	}
}

// SerialToISO converts a spreadsheet date serial (1900 date system) to
// YYYY-MM-DD in UTC. Fractional parts (times of day) are dropped.
func SerialToISO(serial float64) (string, error) {
	if math.IsNaN(serial) || math.IsInf(serial, 0) {
		return "", fmt.Errorf("invalid date serial %v", serial)
	}
	days := math.Floor(serial) - excelEpochOffset
	if days < minUnixDay || days > maxUnixDay {
		return "", fmt.Errorf("invalid date serial %v", serial)
	}
	return time.Unix(int64(days)*secondsPerDay, 0).UTC().Format("2006-01-02"), nil
}

// coerceAmount returns the numeric value of an amount cell. Text is reduced
// to digits, signs and separators before parsing.
func coerceAmount(c sniffer.Cell) (float64, bool) {
	switch c.Kind {
	case sniffer.CellNumber:
		if math.IsNaN(c.Number) || math.IsInf(c.Number, 0) {
			return 0, false
		}
		return c.Number, true
	case sniffer.CellText:
		return ParseAmount(c.Text)
	default:
		return 0, false
	}
}

// ParseAmount parses a formatted amount such as "-45,50 €" or "1.234,56".
// The last separator is the decimal separator when both appear; a lone comma
// is decimal when at most two digits follow it.
func ParseAmount(s string) (float64, bool) {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '-' || r == '+' || r == ',' || r == '.' {
			return r
		}
		return -1
	}, s)
	if cleaned == "" {
		return 0, false
	}

	lastComma := strings.LastIndex(cleaned, ",")
	lastDot := strings.LastIndex(cleaned, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(cleaned, ",") == 1 && len(cleaned)-lastComma-1 <= 2 {
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case strings.Count(cleaned, ".") > 1:
		cleaned = strings.ReplaceAll(cleaned, ".", "")
	}

	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
