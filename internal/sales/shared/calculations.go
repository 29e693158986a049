package shared

import "github.com/shopspring/decimal"

// LineSubtotal returns quantity × unit price.
func LineSubtotal(quantity int, unitPrice decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
}

// NetAmount is what payments must reconcile against.
func NetAmount(total, discount decimal.Decimal) decimal.Decimal {
	return total.Sub(discount)
}

// Remaining is the unpaid part of the net amount, never negative.
func Remaining(net, paid decimal.Decimal) decimal.Decimal {
	rem := net.Sub(paid)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

// FullyPaid reports whether paid covers the net amount.
func FullyPaid(net, paid decimal.Decimal) bool {
	return paid.GreaterThanOrEqual(net)
}
