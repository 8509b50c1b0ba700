package ledger

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FormatMoney renders an amount with a currency symbol, two decimals and
// thousands separators, e.g. ₱1,234.50.
func FormatMoney(symbol string, amount decimal.Decimal) string {
	fixed := amount.Abs().StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	if amount.IsNegative() {
		b.WriteByte('-')
	}
	b.WriteString(symbol)
	for i, ch := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(ch)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}
