// Package inventory describes stock units and the ledger that moves their
// quantities when orders are placed or canceled.
package inventory

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/InnokentiyKim/Retail/internal/domain/fault"
)

// StockUnit is a product offered by a shop.
type StockUnit struct {
	ID          int64
	ProductID   int64
	ProductName string
	ShopID      int64
	Quantity    int
	Price       decimal.Decimal
	PriceRetail decimal.NullDecimal
	Active      bool
}

// Movement is a quantity of one stock unit to take or give back.
type Movement struct {
	StockUnitID int64
	Quantity    int
}

// Ledger applies stock movements inside the caller's transaction.
//
// Commit decrements every unit only if all have enough stock; on the first
// shortfall it returns an *InsufficientStockError and the caller must roll
// back. Restore adds the quantities back and must be called at most once per
// committed order.
type Ledger interface {
	Commit(ctx context.Context, moves []Movement) error
	Restore(ctx context.Context, moves []Movement) error
}

// InsufficientStockError reports the stock unit that could not cover a line.
type InsufficientStockError struct {
	StockUnitID int64
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for unit %d (requested %d)", e.StockUnitID, e.Requested)
}

// Is makes the error match fault.ErrConflict.
func (e *InsufficientStockError) Is(target error) bool {
	return target == fault.ErrConflict
}

// Normalize merges movements of the same unit and sorts them by unit id so
// that concurrent transactions lock rows in the same order.
func Normalize(moves []Movement) []Movement {
	merged := make(map[int64]int, len(moves))
	for _, m := range moves {
		merged[m.StockUnitID] += m.Quantity
	}
	out := make([]Movement, 0, len(merged))
	for id, q := range merged {
		out = append(out, Movement{StockUnitID: id, Quantity: q})
	}
	slices.SortFunc(out, func(a, b Movement) int {
		return cmp.Compare(a.StockUnitID, b.StockUnitID)
	})
	return out
}

// Catalog reads stock units. Missing ids are omitted from the result.
type Catalog interface {
	StockUnits(ctx context.Context, ids []int64) ([]StockUnit, error)
}
