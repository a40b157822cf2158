// Package money totals statement amounts in integer minor units so that
// summaries of parsed files add up exactly.
package money

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// EUR is the currency household ledgers are kept in.
const EUR = "EUR"

// Money represents a monetary value with currency.
type Money struct {
	m *money.Money
}

// New creates a Money value from minor units.
func New(amountCents int64, currencyCode string) *Money {
	return &Money{m: money.New(amountCents, currencyCode)}
}

// NewFromFloat creates Money from a parsed amount, rounding half away from
// zero to the currency's minor unit. Unknown currencies fall back to EUR.
func NewFromFloat(amount float64, currencyCode string) *Money {
	currency := money.GetCurrency(currencyCode)
	if currency == nil {
		currencyCode = EUR
		currency = money.GetCurrency(EUR)
	}

	multiplier := decimal.New(1, int32(currency.Fraction))
	cents := decimal.NewFromFloat(amount).Mul(multiplier).Round(0).IntPart()
	return New(cents, currencyCode)
}

// Amount returns the amount in minor units.
func (m *Money) Amount() int64 {
	if m == nil || m.m == nil {
		return 0
	}
	return m.m.Amount()
}

// Currency returns the ISO-4217 code.
func (m *Money) Currency() string {
	if m == nil || m.m == nil {
		return ""
	}
	return m.m.Currency().Code
}

func (m *Money) IsNegative() bool {
	return m != nil && m.m != nil && m.m.IsNegative()
}

// Add adds two Money values. It fails when currencies differ.
func (m *Money) Add(other *Money) (*Money, error) {
	if m == nil || m.m == nil {
		return other, nil
	}
	if other == nil || other.m == nil {
		return m, nil
	}
	result, err := m.m.Add(other.m)
	if err != nil {
		return nil, err
	}
	return &Money{m: result}, nil
}

// Display formats the value with its currency symbol.
func (m *Money) Display() string {
	if m == nil || m.m == nil {
		return "0.00"
	}
	return m.m.Display()
}

// String returns the amount as a plain decimal string (e.g. "-12.50").
func (m *Money) String() string {
	if m == nil || m.m == nil {
		return "0.00"
	}
	d := decimal.New(m.m.Amount(), -int32(m.m.Currency().Fraction))
	return d.StringFixed(int32(m.m.Currency().Fraction))
}

// Summary splits a set of signed amounts into inflows and outflows.
type Summary struct {
	Count    int
	Income   *Money
	Expenses *Money
	Net      *Money
}

// Summarize totals amounts in the given currency. Expenses keep their
// negative sign.
func Summarize(amounts []float64, currencyCode string) (*Summary, error) {
	s := &Summary{
		Income:   NewFromFloat(0, currencyCode),
		Expenses: NewFromFloat(0, currencyCode),
	}
	code := s.Income.Currency()

	for _, a := range amounts {
		v := NewFromFloat(a, code)
		var err error
		if v.IsNegative() {
			s.Expenses, err = s.Expenses.Add(v)
		} else {
			s.Income, err = s.Income.Add(v)
		}
		if err != nil {
			return nil, err
		}
		s.Count++
	}

	net, err := s.Income.Add(s.Expenses)
	if err != nil {
		return nil, err
	}
	s.Net = net
	return s, nil
}
