package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/InnokentiyKim/Retail/internal/domain/inventory"
	"github.com/InnokentiyKim/Retail/internal/domain/pricing"
)

// Line quantity bounds.
const (
	MinQuantity = 1
	MaxQuantity = 10000
)

// Order is a buyer's order. The single PREPARING order of a user is the cart.
type Order struct {
	ID         int64
	UserID     int64
	State      State
	ContactID  *int64
	CouponID   *int64
	CouponCode string
	Total      decimal.Decimal
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Lines      []Line
}

// Line is a quantity of one stock unit within an order.
type Line struct {
	ID          int64
	OrderID     int64
	StockUnitID int64
	ProductID   int64
	ProductName string
	ShopID      int64
	Quantity    int
	UnitPrice   decimal.Decimal
}

// Movements converts lines into ledger movements.
func Movements(lines []Line) []inventory.Movement {
	out := make([]inventory.Movement, len(lines))
	for i, l := range lines {
		out[i] = inventory.Movement{StockUnitID: l.StockUnitID, Quantity: l.Quantity}
	}
	return out
}

// PricedLines converts lines into pricing input.
func PricedLines(lines []Line) []pricing.Line {
	out := make([]pricing.Line, len(lines))
	for i, l := range lines {
		out[i] = pricing.Line{Quantity: l.Quantity, UnitPrice: l.UnitPrice}
	}
	return out
}

// ProductIDs returns the product of every line, one entry per line.
func ProductIDs(lines []Line) []int64 {
	out := make([]int64, len(lines))
	for i, l := range lines {
		out[i] = l.ProductID
	}
	return out
}

// Repository defines order persistence. Methods run inside the transaction
// carried by ctx when there is one.
type Repository interface {
	// GetForUpdate loads an order and locks its row until the transaction ends.
	GetForUpdate(ctx context.Context, orderID int64) (*Order, error)
	Get(ctx context.Context, orderID int64) (*Order, error)
	Lines(ctx context.Context, orderID int64) ([]Line, error)
	// Place stores the state, contact, coupon and total of a confirmed order.
	Place(ctx context.Context, o *Order) error
	SetState(ctx context.Context, orderID int64, state State) error
	ListByBuyer(ctx context.Context, userID int64) ([]Order, error)
	ListBySeller(ctx context.Context, sellerID int64) ([]Order, error)
}

// TxRunner runs fn in a single database transaction. fn's error rolls the
// transaction back.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ListCache caches order listings. Load fills dst from the key or, on a miss,
// from load, storing the result.
type ListCache interface {
	Load(ctx context.Context, key string, dst any, load func(ctx context.Context) (any, error)) error
	Invalidate(ctx context.Context, keys ...string) error
}
