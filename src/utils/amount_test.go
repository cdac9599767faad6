package utils

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocaleDecimal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "comma and period, period thousands", input: "1.234,56", want: "1234.56"},
		{name: "comma and period, large", input: "12.345.678,90", want: "12345678.90"},
		{name: "only comma is decimal", input: "1234,56", want: "1234.56"},
		{name: "only period plain parse", input: "1234.56", want: "1234.56"},
		{name: "integer", input: "1000000", want: "1000000"},
		{name: "currency symbol stripped", input: "$ 1.500,00", want: "1500.00"},
		{name: "trailing currency", input: "2.000,25 ARS", want: "2000.25"},
		{name: "negative balance", input: "-1.000,50", want: "-1000.50"},
		{name: "whitespace", input: "  750,10 ", want: "750.10"},
		{name: "empty", input: "", wantErr: true},
		{name: "no digits", input: "saldo", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLocaleDecimal(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			want, err := decimal.NewFromString(tt.want)
			require.NoError(t, err)
			assert.True(t, want.Equal(got), "want %s, got %s", want, got)
		})
	}
}
