// Package pricing computes order totals.
//
// All amounts are shopspring decimals rounded to two places. decimal.Round
// rounds half away from zero, which is half-up for the non-negative amounts
// handled here.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/InnokentiyKim/Retail/internal/domain/coupon"
)

// Places is the number of decimal places money is kept at.
const Places = 2

// Line is a priced quantity.
type Line struct {
	Quantity  int
	UnitPrice decimal.Decimal
}

// Subtotal returns quantity times unit price, unrounded.
func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Quote is the breakdown of a computed total.
type Quote struct {
	Base     decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
	Coupon   string
}

// Base returns the sum of line subtotals rounded to two places.
func Base(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Subtotal())
	}
	return sum.Round(Places)
}

// ComputeTotal prices lines and applies c when it is valid at the given time.
// A nil or non-applicable coupon leaves the base untouched.
func ComputeTotal(lines []Line, c *coupon.Coupon, at time.Time) decimal.Decimal {
	return Compute(lines, c, at).Total
}

// Compute is ComputeTotal with the discount breakdown.
func Compute(lines []Line, c *coupon.Coupon, at time.Time) Quote {
	base := Base(lines)
	q := Quote{Base: base, Discount: decimal.Zero, Total: base}
	if !c.ValidAt(at) {
		return q
	}

	total := base.Mul(decimal.NewFromInt(1).Sub(c.Rate())).Round(Places)
	q.Total = total
	q.Discount = base.Sub(total)
	q.Coupon = c.Code
	return q
}
