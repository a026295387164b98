// Package cart manages a buyer's in-progress order.
package cart

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/InnokentiyKim/Retail/internal/domain/fault"
	"github.com/InnokentiyKim/Retail/internal/domain/inventory"
	"github.com/InnokentiyKim/Retail/internal/domain/order"
	"github.com/InnokentiyKim/Retail/internal/domain/pricing"
)

// Item is a requested quantity of a stock unit.
type Item struct {
	StockUnitID int64
	Quantity    int
}

// View is a cart with its lines priced at current unit prices.
type View struct {
	Order *order.Order
	Lines []order.Line
	Total decimal.Decimal
}

// Repository persists carts. FindCart and LockCart return a NotFound fault
// when the user has no PREPARING order. Line writes only touch PREPARING
// orders; UpsertLines and SetLineQuantity return NotFound otherwise, and
// SetLineQuantity also when the line is not in the given cart.
type Repository interface {
	GetOrCreateCart(ctx context.Context, userID int64) (*order.Order, error)
	FindCart(ctx context.Context, userID int64) (*order.Order, error)
	// LockCart is FindCart holding a share lock on the order row until the
	// transaction ends, so line edits serialize with confirmation.
	LockCart(ctx context.Context, userID int64) (*order.Order, error)
	UpsertLines(ctx context.Context, orderID int64, items []Item) error
	SetLineQuantity(ctx context.Context, orderID, lineID int64, quantity int) error
	DeleteLines(ctx context.Context, orderID int64, lineIDs []int64) (int64, error)
	Lines(ctx context.Context, orderID int64) ([]order.Line, error)
}

// Manager implements the cart operations. Line edits run in a transaction
// that locks the cart first.
type Manager struct {
	tx      order.TxRunner
	carts   Repository
	catalog inventory.Catalog
}

// NewManager creates a cart Manager.
func NewManager(tx order.TxRunner, carts Repository, catalog inventory.Catalog) *Manager {
	return &Manager{tx: tx, carts: carts, catalog: catalog}
}

// GetOrCreateCart returns the user's PREPARING order, creating it if absent.
func (m *Manager) GetOrCreateCart(ctx context.Context, userID int64) (*order.Order, error) {
	o, err := m.carts.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get or create cart: %w", err)
	}
	return o, nil
}

// GetCart returns the user's cart.
func (m *Manager) GetCart(ctx context.Context, userID int64) (*View, error) {
	o, err := m.carts.FindCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	return m.view(ctx, o)
}

// AddOrUpdateLines upserts lines by stock unit into the user's cart,
// creating the cart when needed.
func (m *Manager) AddOrUpdateLines(ctx context.Context, userID int64, items []Item) (*View, error) {
	const op = "add cart lines"

	if len(items) == 0 {
		return nil, fault.Validationf(op, "items required")
	}
	seen := make(map[int64]struct{}, len(items))
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		if it.StockUnitID <= 0 {
			return nil, fault.Validationf(op, "invalid stock unit id %d", it.StockUnitID)
		}
		if err := checkQuantity(op, it.Quantity); err != nil {
			return nil, err
		}
		if _, dup := seen[it.StockUnitID]; dup {
			return nil, fault.Validationf(op, "stock unit %d listed twice", it.StockUnitID)
		}
		seen[it.StockUnitID] = struct{}{}
		ids = append(ids, it.StockUnitID)
	}

	units, err := m.catalog.StockUnits(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load stock units: %w", err)
	}
	found := make(map[int64]inventory.StockUnit, len(units))
	for _, u := range units {
		found[u.ID] = u
	}
	for _, id := range ids {
		u, ok := found[id]
		if !ok {
			return nil, fault.Validationf(op, "stock unit %d does not exist", id)
		}
		if !u.Active {
			return nil, fault.Validationf(op, "stock unit %d is not on sale", id)
		}
	}

	var v *View
	err = m.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := m.GetOrCreateCart(ctx, userID); err != nil {
			return err
		}
		o, err := m.carts.LockCart(ctx, userID)
		if err != nil {
			return err
		}
		if err := m.carts.UpsertLines(ctx, o.ID, items); err != nil {
			return fmt.Errorf("upsert lines: %w", err)
		}
		v, err = m.view(ctx, o)
		return err
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// SetLineQuantity changes the quantity of one line of the user's cart.
func (m *Manager) SetLineQuantity(ctx context.Context, userID, lineID int64, quantity int) (*View, error) {
	const op = "set line quantity"

	if err := checkQuantity(op, quantity); err != nil {
		return nil, err
	}
	var v *View
	err := m.tx.InTx(ctx, func(ctx context.Context) error {
		o, err := m.carts.LockCart(ctx, userID)
		if err != nil {
			return err
		}
		if err := m.carts.SetLineQuantity(ctx, o.ID, lineID, quantity); err != nil {
			return err
		}
		v, err = m.view(ctx, o)
		return err
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// RemoveLines deletes lines of the user's cart and returns how many matched.
func (m *Manager) RemoveLines(ctx context.Context, userID int64, lineIDs []int64) (int64, error) {
	if len(lineIDs) == 0 {
		return 0, fault.Validationf("remove cart lines", "line ids required")
	}
	var n int64
	err := m.tx.InTx(ctx, func(ctx context.Context) error {
		o, err := m.carts.LockCart(ctx, userID)
		if err != nil {
			return err
		}
		if n, err = m.carts.DeleteLines(ctx, o.ID, lineIDs); err != nil {
			return fmt.Errorf("delete lines: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (m *Manager) view(ctx context.Context, o *order.Order) (*View, error) {
	lines, err := m.carts.Lines(ctx, o.ID)
	if err != nil {
		return nil, fmt.Errorf("load lines: %w", err)
	}
	o.Lines = lines
	return &View{
		Order: o,
		Lines: lines,
		Total: pricing.Base(order.PricedLines(lines)),
	}, nil
}

func checkQuantity(op string, q int) error {
	if q < order.MinQuantity || q > order.MaxQuantity {
		return fault.Validationf(op, "quantity %d outside [%d, %d]", q, order.MinQuantity, order.MaxQuantity)
	}
	return nil
}
