package normalizer

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lower-cases s, strips diacritics and collapses whitespace, so that
// "Alimentación " and "ALIMENTACION" compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// DescriptionKey is the description component of the dedup key: lower-cased,
// punctuation and symbols removed, whitespace collapsed.
func DescriptionKey(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, s)
	return strings.Join(strings.Fields(cleaned), " ")
}

// AmountKey formats amount with exactly two decimals from its binary value,
// so 1.005 and 1.0049999 both give "1.00". Negative zero collapses to zero.
func AmountKey(amount float64) string {
	s := strconv.FormatFloat(amount, 'f', 2, 64)
	if s == "-0.00" {
		return "0.00"
	}
	return s
}

// DedupKey identifies a transaction within an account.
func DedupKey(isoDate, description string, amount float64) string {
	return isoDate + "|" + DescriptionKey(description) + "|" + AmountKey(amount)
}

var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"02.01.2006",
	"2006/01/02",
	"02/01/06",
	"02-01-06",
	"2/1/2006",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
}

// ISODate normalizes a parsed date string to YYYY-MM-DD. Slashed and dashed
// dates are read day-first, as Spanish bank exports write them.
func ISODate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}
