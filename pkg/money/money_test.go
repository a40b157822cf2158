package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromFloat(t *testing.T) {
	tests := []struct {
		name     string
		amount   float64
		currency string
		want     int64
		wantCode string
	}{
		{"simple decimal", 12.34, EUR, 1234, EUR},
		{"whole number", 100, EUR, 10000, EUR},
		{"zero", 0, EUR, 0, EUR},
		{"negative", -50.99, EUR, -5099, EUR},
		{"rounding", 12.345, EUR, 1235, EUR},
		{"negative rounding", -0.005, EUR, -1, EUR},
		{"yen has no minor unit", 1500.4, "JPY", 1500, "JPY"},
		{"unknown currency", 1.5, "XXX-NOPE", 150, EUR},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewFromFloat(tt.amount, tt.currency)
			assert.Equal(t, tt.want, m.Amount())
			assert.Equal(t, tt.wantCode, m.Currency())
		})
	}
}

func TestAdd(t *testing.T) {
	sum, err := New(1050, EUR).Add(New(-250, EUR))
	require.NoError(t, err)
	assert.Equal(t, int64(800), sum.Amount())

	_, err = New(100, EUR).Add(New(100, "USD"))
	assert.Error(t, err)

	var nilMoney *Money
	sum, err = nilMoney.Add(New(5, EUR))
	require.NoError(t, err)
	assert.Equal(t, int64(5), sum.Amount())
}

func TestString(t *testing.T) {
	assert.Equal(t, "123.45", New(12345, EUR).String())
	assert.Equal(t, "-0.05", New(-5, EUR).String())
	assert.Equal(t, "1500", New(1500, "JPY").String())

	var nilMoney *Money
	assert.Equal(t, "0.00", nilMoney.String())
}

func TestDisplay(t *testing.T) {
	assert.Contains(t, New(12345, EUR).Display(), "€")
	assert.Contains(t, New(-5000, EUR).Display(), "-")
}

func TestSummarize(t *testing.T) {
	s, err := Summarize([]float64{-12.5, 1500, -0.1, -0.2, 0}, EUR)
	require.NoError(t, err)

	assert.Equal(t, 5, s.Count)
	assert.Equal(t, int64(150000), s.Income.Amount())
	assert.Equal(t, int64(-1280), s.Expenses.Amount())
	assert.Equal(t, int64(148720), s.Net.Amount())
	assert.Equal(t, "1487.20", s.Net.String())
}

func TestSummarize_Empty(t *testing.T) {
	s, err := Summarize(nil, EUR)
	require.NoError(t, err)

	assert.Zero(t, s.Count)
	assert.Zero(t, s.Net.Amount())
	assert.Equal(t, EUR, s.Net.Currency())
}
