package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InnokentiyKim/Retail/internal/domain/fault"
)

func validCoupon() *Coupon {
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return &Coupon{
		Code:      "  SPRING  ",
		Discount:  20,
		ValidFrom: from,
		ValidTo:   from.AddDate(0, 3, 0),
		Active:    true,
	}
}

func TestService_Create(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Coupon)
		wantErr error
	}{
		{name: "ok", mutate: func(*Coupon) {}},
		{name: "empty code", mutate: func(c *Coupon) { c.Code = "   " }, wantErr: fault.ErrValidation},
		{name: "code too long", mutate: func(c *Coupon) { c.Code = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789" }, wantErr: fault.ErrValidation},
		{name: "negative discount", mutate: func(c *Coupon) { c.Discount = -1 }, wantErr: fault.ErrValidation},
		{name: "discount over 100", mutate: func(c *Coupon) { c.Discount = 101 }, wantErr: fault.ErrValidation},
		{name: "full discount allowed", mutate: func(c *Coupon) { c.Discount = 100 }},
		{name: "inverted window", mutate: func(c *Coupon) { c.ValidTo = c.ValidFrom.Add(-time.Hour) }, wantErr: fault.ErrValidation},
		{name: "missing window", mutate: func(c *Coupon) { c.ValidFrom = time.Time{} }, wantErr: fault.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockCouponRepo{}
			svc := NewService(repo)

			c := validCoupon()
			tt.mutate(c)

			err := svc.Create(context.Background(), c)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, repo.created)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, repo.created)
			assert.Equal(t, "SPRING", repo.created.Code)
		})
	}
}

func TestCoupon_CheckUpperCasesCode(t *testing.T) {
	lower := validCoupon()
	lower.Code = " summer10 "
	upper := validCoupon()
	upper.Code = "SUMMER10"

	require.NoError(t, lower.Check())
	require.NoError(t, upper.Check())
	assert.Equal(t, "SUMMER10", lower.Code)
	assert.Equal(t, upper.Code, lower.Code)
}

func TestService_CreateDuplicate(t *testing.T) {
	repo := &mockCouponRepo{opErr: fault.Conflictf("create coupon", "code exists")}
	err := NewService(repo).Create(context.Background(), validCoupon())
	require.ErrorIs(t, err, fault.ErrConflict)
}

func TestService_UpdateRequiresID(t *testing.T) {
	repo := &mockCouponRepo{}
	err := NewService(repo).Update(context.Background(), validCoupon())
	require.ErrorIs(t, err, fault.ErrValidation)
	assert.Nil(t, repo.updated)

	c := validCoupon()
	c.ID = 7
	require.NoError(t, NewService(repo).Update(context.Background(), c))
	assert.Equal(t, int64(7), repo.updated.ID)
}

func TestService_Delete(t *testing.T) {
	repo := &mockCouponRepo{}
	svc := NewService(repo)

	_, err := svc.Delete(context.Background(), nil)
	require.ErrorIs(t, err, fault.ErrValidation)

	n, err := svc.Delete(context.Background(), []int64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	repo.opErr = fault.Conflictf("delete coupons", "referenced by order")
	_, err = svc.Delete(context.Background(), []int64{3})
	require.ErrorIs(t, err, fault.ErrConflict)
}
