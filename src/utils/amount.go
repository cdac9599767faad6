// src/utils/amount.go
package utils

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseLocaleDecimal normalizes a locale-ambiguous textual amount to a
// decimal. Both the requested amount and the balances displayed by the
// portal go through this one function so the funds-sufficiency comparison
// cannot drift.
//
// Decision table:
//   - has comma and period: period is the thousands separator, comma the
//     decimal separator ("1.234,56" -> 1234.56)
//   - has only comma: comma is the decimal separator ("1234,56" -> 1234.56)
//   - otherwise: plain parse ("1234.56", "1234")
//
// Currency symbols, spaces and any other non-numeric characters are
// stripped first; a leading minus is preserved.
func ParseLocaleDecimal(s string) (decimal.Decimal, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == ',', r == '.', r == '-':
			return r
		default:
			return -1
		}
	}, s)

	if cleaned == "" || cleaned == "-" {
		return decimal.Zero, fmt.Errorf("no numeric content in %q", s)
	}

	hasComma := strings.Contains(cleaned, ",")
	hasPeriod := strings.Contains(cleaned, ".")

	switch {
	case hasComma && hasPeriod:
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.Replace(cleaned, ",", ".", 1)
	case hasComma:
		cleaned = strings.Replace(cleaned, ",", ".", 1)
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	return d, nil
}
