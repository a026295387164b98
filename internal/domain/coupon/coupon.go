package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/InnokentiyKim/Retail/internal/domain/fault"
)

// MaxCodeLen bounds the length of a coupon code.
const MaxCodeLen = 32

// Coupon is a percentage discount redeemable within a validity window.
type Coupon struct {
	ID        int64
	Code      string
	Discount  int
	ValidFrom time.Time
	ValidTo   time.Time
	Active    bool
}

// ValidAt reports whether the coupon is active and at lies within
// [ValidFrom, ValidTo].
func (c *Coupon) ValidAt(at time.Time) bool {
	if c == nil || !c.Active {
		return false
	}
	return !at.Before(c.ValidFrom) && !at.After(c.ValidTo)
}

// Rate returns the discount as a fraction in [0, 1].
func (c *Coupon) Rate() decimal.Decimal {
	return decimal.NewFromInt(int64(c.Discount)).Div(decimal.NewFromInt(100))
}

// Check validates the administrative fields of a coupon and upper-cases its
// code. Codes are unique regardless of case.
func (c *Coupon) Check() error {
	const op = "check coupon"
	c.Code = strings.ToUpper(strings.TrimSpace(c.Code))
	if c.Code == "" {
		return fault.Validationf(op, "code is required")
	}
	if len(c.Code) > MaxCodeLen {
		return fault.Validationf(op, "code longer than %d characters", MaxCodeLen)
	}
	if c.Discount < 0 || c.Discount > 100 {
		return fault.Validationf(op, "discount %d outside [0, 100]", c.Discount)
	}
	if c.ValidFrom.IsZero() || c.ValidTo.IsZero() {
		return fault.Validationf(op, "validity window is required")
	}
	if c.ValidTo.Before(c.ValidFrom) {
		return fault.Validationf(op, "valid_to precedes valid_from")
	}
	return nil
}

// Repository provides coupon persistence. FindByCode returns a NotFound
// fault when the code is unknown; Delete returns a Conflict fault when the
// coupon is referenced by an order.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	List(ctx context.Context) ([]Coupon, error)
	Create(ctx context.Context, c *Coupon) error
	Update(ctx context.Context, c *Coupon) error
	Delete(ctx context.Context, ids []int64) (int64, error)
}
