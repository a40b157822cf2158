package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"

	"github.com/FACorreiaa/household-finance/internal/domain/import/sniffer"
)

// csvSheetName is the sheet name given to single-sheet CSV input.
const csvSheetName = "Sheet1"

var (
	zipSignature  = []byte{'P', 'K', 0x03, 0x04}
	ole2Signature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

	plainNumber = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
)

// ErrUnreadableFile is returned when the upload is neither a workbook nor text.
var ErrUnreadableFile = errors.New("file is not a readable spreadsheet or CSV")

// LoadWorkbook reads an uploaded statement into typed cells. The container
// is chosen by content signature; the file name is only used in errors.
func LoadWorkbook(filename string, data []byte) (*sniffer.Workbook, error) {
	switch {
	case bytes.HasPrefix(data, zipSignature):
		wb, err := loadXLSX(data)
		if err != nil {
			return nil, fmt.Errorf("failed to open workbook %s: %w", filename, err)
		}
		return wb, nil
	case bytes.HasPrefix(data, ole2Signature):
		wb, err := loadXLS(data)
		if err != nil {
			return nil, fmt.Errorf("failed to open legacy workbook %s: %w", filename, err)
		}
		return wb, nil
	default:
		wb, err := loadCSV(data)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", filename, err)
		}
		return wb, nil
	}
}

func loadXLSX(data []byte) (*sniffer.Workbook, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data), excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, err
	}
	defer f.Close()

	wb := &sniffer.Workbook{}
	for _, name := range f.GetSheetList() {
		raw, err := f.GetRows(name, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %s: %w", name, err)
		}

		rows := make([]sniffer.Row, len(raw))
		for r, values := range raw {
			row := make(sniffer.Row, len(values))
			for c, v := range values {
				if v == "" {
					continue
				}
				ref, err := excelize.CoordinatesToCellName(c+1, r+1)
				if err != nil {
					return nil, err
				}
				cellType, err := f.GetCellType(name, ref)
				if err != nil {
					return nil, err
				}
				row[c] = xlsxCell(cellType, v)
			}
			rows[r] = row
		}
		wb.Sheets = append(wb.Sheets, sniffer.Sheet{Name: name, Rows: rows})
	}
	return wb, nil
}

// xlsxCell types a raw cell value. Numeric cells usually carry no explicit
// type attribute, so an unset type with a numeric value is a number.
func xlsxCell(t excelize.CellType, v string) sniffer.Cell {
	switch t {
	case excelize.CellTypeBool:
		return sniffer.BoolCell(v == "1" || strings.EqualFold(v, "true"))
	case excelize.CellTypeError:
		return sniffer.ErrorCell(v)
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString, excelize.CellTypeFormula, excelize.CellTypeDate:
		return sniffer.TextCell(v)
	default:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c := sniffer.NumberCell(f)
			c.Text = v
			return c
		}
		return sniffer.TextCell(v)
	}
}

func loadXLS(data []byte) (*sniffer.Workbook, error) {
	book, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, err
	}

	wb := &sniffer.Workbook{}
	for i := 0; i < book.NumSheets(); i++ {
		sheet := book.GetSheet(i)
		if sheet == nil {
			continue
		}

		rows := make([]sniffer.Row, 0, int(sheet.MaxRow)+1)
		for r := 0; r <= int(sheet.MaxRow); r++ {
			xr := sheet.Row(r)
			if xr == nil {
				rows = append(rows, nil)
				continue
			}
			row := make(sniffer.Row, xr.LastCol())
			for c := xr.FirstCol(); c < xr.LastCol(); c++ {
				row[c] = textOrNumber(xr.Col(c))
			}
			rows = append(rows, row)
		}
		wb.Sheets = append(wb.Sheets, sniffer.Sheet{Name: sheet.Name, Rows: rows})
	}
	return wb, nil
}

func loadCSV(data []byte) (*sniffer.Workbook, error) {
	text, err := decodeText(data)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(text, "\n")
	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = sniffer.DetectDelimiter(lines)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	var rows []sniffer.Row
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make(sniffer.Row, len(record))
		for i, v := range record {
			row[i] = textOrNumber(v)
		}
		rows = append(rows, row)
	}

	return &sniffer.Workbook{Sheets: []sniffer.Sheet{{Name: csvSheetName, Rows: rows}}}, nil
}

// decodeText strips a UTF-8 BOM and falls back to Latin-1, which is what
// Spanish banks still emit for CSV downloads.
func decodeText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	if utf8.Valid(data) {
		return string(data), nil
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return "", ErrUnreadableFile
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("failed to decode latin-1: %w", err)
	}
	return string(decoded), nil
}

func textOrNumber(v string) sniffer.Cell {
	v = strings.TrimSpace(v)
	if plainNumber.MatchString(v) {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c := sniffer.NumberCell(f)
			c.Text = v
			return c
		}
	}
	return sniffer.TextCell(v)
}
