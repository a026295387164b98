package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/InnokentiyKim/Retail/internal/domain/inventory"
)

const (
	commitStockSQL = `UPDATE stock_units SET quantity = quantity - $2
		WHERE id = $1 AND quantity >= $2`

	restoreStockSQL = `UPDATE stock_units SET quantity = quantity + $2 WHERE id = $1`
)

var _ inventory.Ledger = (*Ledger)(nil)

// Ledger implements inventory.Ledger with conditional row updates. Each
// update locks its row, so movements must arrive in a consistent order.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger returns a Ledger that uses the given pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Commit decrements every unit or fails on the first one short of stock.
// Earlier decrements are undone by the caller's rollback.
func (l *Ledger) Commit(ctx context.Context, moves []inventory.Movement) error {
	q := conn(ctx, l.pool)
	for _, m := range moves {
		tag, err := q.Exec(ctx, commitStockSQL, m.StockUnitID, m.Quantity)
		if err != nil {
			return classify(err, fmt.Sprintf("commit stock unit %d", m.StockUnitID), "")
		}
		if tag.RowsAffected() == 0 {
			return &inventory.InsufficientStockError{StockUnitID: m.StockUnitID, Requested: m.Quantity}
		}
	}
	return nil
}

// Restore gives the quantities back.
func (l *Ledger) Restore(ctx context.Context, moves []inventory.Movement) error {
	q := conn(ctx, l.pool)
	for _, m := range moves {
		tag, err := q.Exec(ctx, restoreStockSQL, m.StockUnitID, m.Quantity)
		if err != nil {
			return classify(err, fmt.Sprintf("restore stock unit %d", m.StockUnitID), "")
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("restoring stock unit %d: unit does not exist", m.StockUnitID)
		}
	}
	return nil
}
