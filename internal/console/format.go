package console

import (
	"strings"

	"github.com/shopspring/decimal"
)

// groupThousands inserts comma separators into a string of digits.
func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	start := len(digits) % 3
	if start > 0 {
		b.WriteString(digits[:start])
	}
	for i := start; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

// FormatMoney formats an amount as "$1,234.50" or "-$12.00".
func FormatMoney(v decimal.Decimal) string {
	sign := ""
	if v.IsNegative() {
		sign = "-"
		v = v.Neg()
	}
	s := v.StringFixed(2)
	whole, frac, _ := strings.Cut(s, ".")
	return sign + "$" + groupThousands(whole) + "." + frac
}

// FormatNumber formats v with 3 decimals below 10 and 2 otherwise.
func FormatNumber(v decimal.Decimal) string {
	if v.LessThan(decimal.NewFromInt(10)) {
		return v.StringFixed(3)
	}
	return v.StringFixed(2)
}
