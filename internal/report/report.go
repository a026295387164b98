// Package report renders order documents.
package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-faster/errors"

	"github.com/InnokentiyKim/Retail/internal/domain/event"
	"github.com/InnokentiyKim/Retail/internal/domain/order"
	"github.com/InnokentiyKim/Retail/internal/domain/pricing"
)

// OrderReader loads an order with its lines.
type OrderReader interface {
	Get(ctx context.Context, orderID int64) (*order.Order, error)
}

var _ event.ReportGenerator = (*CSVGenerator)(nil)

// CSVGenerator writes one CSV invoice per order into a directory.
type CSVGenerator struct {
	dir    string
	orders OrderReader
}

// NewCSVGenerator creates a CSVGenerator writing into dir. An empty dir
// disables generation.
func NewCSVGenerator(dir string, orders OrderReader) *CSVGenerator {
	return &CSVGenerator{dir: dir, orders: orders}
}

// Generate writes the invoice of orderID and returns its path. Existing
// invoices are replaced atomically.
func (g *CSVGenerator) Generate(ctx context.Context, orderID int64) (string, error) {
	if g.dir == "" {
		return "", nil
	}
	o, err := g.orders.Get(ctx, orderID)
	if err != nil {
		return "", errors.Wrap(err, "load order")
	}
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create report dir")
	}

	tmp, err := os.CreateTemp(g.dir, ".order-*.csv")
	if err != nil {
		return "", errors.Wrap(err, "create temp file")
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := write(tmp, o); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", errors.Wrap(err, "close report")
	}

	path := filepath.Join(g.dir, fmt.Sprintf("order-%d.csv", o.ID))
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", errors.Wrap(err, "publish report")
	}
	return path, nil
}

func write(f *os.File, o *order.Order) error {
	w := csv.NewWriter(f)
	rows := [][]string{{"product", "shop_id", "quantity", "unit_price", "amount"}}
	for _, l := range o.Lines {
		amount := pricing.Line{Quantity: l.Quantity, UnitPrice: l.UnitPrice}.Subtotal()
		rows = append(rows, []string{
			l.ProductName,
			strconv.FormatInt(l.ShopID, 10),
			strconv.Itoa(l.Quantity),
			l.UnitPrice.StringFixed(pricing.Places),
			amount.StringFixed(pricing.Places),
		})
	}
	rows = append(rows,
		[]string{"order", strconv.FormatInt(o.ID, 10), "", "", ""},
		[]string{"state", string(o.State), "", "", ""},
		[]string{"coupon", o.CouponCode, "", "", ""},
		[]string{"total", "", "", "", o.Total.StringFixed(pricing.Places)},
	)
	if err := w.WriteAll(rows); err != nil {
		return errors.Wrap(err, "write report")
	}
	return nil
}
