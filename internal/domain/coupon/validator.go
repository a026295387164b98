package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/InnokentiyKim/Retail/internal/domain/fault"
)

// Validator resolves a coupon code into a coupon usable at a given instant.
type Validator interface {
	Validate(ctx context.Context, code string, at time.Time) (*Coupon, error)
}

// RepoValidator implements Validator on top of a Repository.
type RepoValidator struct {
	repo Repository
}

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo}
}

// Validate looks the code up and checks the active flag and validity window
// against at. Unknown codes yield NotFound, inactive or out-of-window coupons
// yield Validation.
func (v *RepoValidator) Validate(ctx context.Context, code string, at time.Time) (*Coupon, error) {
	const op = "validate coupon"

	c, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, fault.ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if !c.Active {
		return nil, fault.Validationf(op, "coupon %q is not active", code)
	}
	if !c.ValidAt(at) {
		return nil, fault.Validationf(op, "coupon %q is not valid at %s", code, at.UTC().Format(time.RFC3339))
	}
	return c, nil
}
