package shared

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var amountPrinter = message.NewPrinter(language.English)

// FormatAmount renders a money amount for human-readable descriptions.
func FormatAmount(amount decimal.Decimal) string {
	return amountPrinter.Sprint(number.Decimal(amount.InexactFloat64(), number.MaxFractionDigits(2)))
}

// FormatQty renders a quantity with grouping separators.
func FormatQty(qty int) string {
	return amountPrinter.Sprint(number.Decimal(qty))
}
