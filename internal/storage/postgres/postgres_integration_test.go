//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/InnokentiyKim/Retail/internal/domain/auth"
	"github.com/InnokentiyKim/Retail/internal/domain/cart"
	"github.com/InnokentiyKim/Retail/internal/domain/contact"
	"github.com/InnokentiyKim/Retail/internal/domain/coupon"
	"github.com/InnokentiyKim/Retail/internal/domain/fault"
	"github.com/InnokentiyKim/Retail/internal/domain/order"
	"github.com/InnokentiyKim/Retail/internal/storage/postgres"
)

var pool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "retail",
				"POSTGRES_PASSWORD": "retail",
				"POSTGRES_DB":       "retail",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := ctr.Terminate(context.Background()); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	host, err := ctr.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://retail:retail@%s:%s/retail?sslmode=disable", host, port.Port())
	pool, err = postgres.NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		log.Fatalf("migrations: %v", err)
	}
	return m.Run()
}

type fixture struct {
	buyer   int64
	seller  int64
	product int64
	unit    int64
}

// newFixture seeds a seller shop offering one product with the given stock
// and a buyer with a contact. Names are unique per test.
func newFixture(t *testing.T, stock int, price string) fixture {
	t.Helper()
	ctx := context.Background()
	s := postgres.NewSeeder(pool)
	name := t.Name()

	seller, err := s.User(ctx, name+"-seller@example.com", "Seller", auth.RoleSeller)
	require.NoError(t, err)
	buyer, err := s.User(ctx, name+"-buyer@example.com", "Buyer", auth.RoleBuyer)
	require.NoError(t, err)
	shop, err := s.Shop(ctx, name+"-shop", seller, true)
	require.NoError(t, err)
	product, err := s.Product(ctx, name+"-product", "test")
	require.NoError(t, err)
	unit, err := s.StockUnit(ctx, product, shop, stock, decimal.RequireFromString(price), decimal.NullDecimal{})
	require.NoError(t, err)

	return fixture{buyer: buyer, seller: seller, product: product, unit: unit}
}

func addContact(t *testing.T, userID int64) int64 {
	t.Helper()
	c := &contact.Contact{UserID: userID, Phone: "+100", City: "Town", Street: "Main", House: "1"}
	require.NoError(t, postgres.NewContactRepository(pool).Create(context.Background(), c))
	return c.ID
}

func newOrderService(t *testing.T) *order.Service {
	t.Helper()
	svc, err := order.NewService(order.Deps{
		Tx:       postgres.NewTxManager(pool),
		Orders:   postgres.NewOrderRepository(pool),
		Ledger:   postgres.NewLedger(pool),
		Coupons:  coupon.NewRepoValidator(postgres.NewCouponRepository(pool)),
		Contacts: contact.NewService(postgres.NewContactRepository(pool)),
		Events:   postgres.NewOutboxRepository(pool),
	})
	require.NoError(t, err)
	return svc
}

func newCartManager() *cart.Manager {
	return cart.NewManager(postgres.NewTxManager(pool), postgres.NewCartRepository(pool), postgres.NewProductRepository(pool))
}

func stockOf(t *testing.T, unit int64) int {
	t.Helper()
	units, err := postgres.NewProductRepository(pool).StockUnits(context.Background(), []int64{unit})
	require.NoError(t, err)
	require.Len(t, units, 1)
	return units[0].Quantity
}

func TestCart_GetOrCreateIsIdempotent(t *testing.T) {
	f := newFixture(t, 5, "10.00")
	carts := postgres.NewCartRepository(pool)
	ctx := context.Background()

	var (
		wg  sync.WaitGroup
		ids = make([]int64, 8)
	)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := carts.GetOrCreateCart(ctx, f.buyer)
			if assert.NoError(t, err) {
				ids[i] = o.ID
			}
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestCart_UpsertOverwritesQuantity(t *testing.T) {
	f := newFixture(t, 5, "10.00")
	m := newCartManager()
	ctx := context.Background()

	_, err := m.AddOrUpdateLines(ctx, f.buyer, []cart.Item{{StockUnitID: f.unit, Quantity: 2}})
	require.NoError(t, err)
	view, err := m.AddOrUpdateLines(ctx, f.buyer, []cart.Item{{StockUnitID: f.unit, Quantity: 3}})
	require.NoError(t, err)

	require.Len(t, view.Lines, 1)
	assert.Equal(t, 3, view.Lines[0].Quantity)
	assert.Equal(t, "30.00", view.Total.StringFixed(2))
}

func TestConfirm_CommitsStockAndAppendsEvent(t *testing.T) {
	f := newFixture(t, 5, "19.99")
	contactID := addContact(t, f.buyer)
	m := newCartManager()
	ctx := context.Background()

	view, err := m.AddOrUpdateLines(ctx, f.buyer, []cart.Item{{StockUnitID: f.unit, Quantity: 2}})
	require.NoError(t, err)

	placed, err := newOrderService(t).Confirm(ctx, order.ConfirmRequest{
		OrderID: view.Order.ID, UserID: f.buyer, ContactID: contactID,
	})
	require.NoError(t, err)
	assert.Equal(t, order.Created, placed.State)
	assert.Equal(t, "39.98", placed.Total.StringFixed(2))
	assert.Equal(t, 3, stockOf(t, f.unit))

	var events int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT count(*) FROM order_events WHERE order_id = $1 AND to_state = 'CREATED'`, placed.ID,
	).Scan(&events))
	assert.Equal(t, 1, events)

	stored, err := postgres.NewOrderRepository(pool).Get(ctx, placed.ID)
	require.NoError(t, err)
	assert.Equal(t, order.Created, stored.State)
	assert.True(t, placed.Total.Equal(stored.Total))
}

func TestConfirm_LastUnitRace(t *testing.T) {
	f := newFixture(t, 1, "5.00")
	other := newFixture(t, 0, "1.00")
	ctx := context.Background()
	m := newCartManager()
	svc := newOrderService(t)

	buyers := []int64{f.buyer, other.buyer}
	reqs := make([]order.ConfirmRequest, len(buyers))
	for i, b := range buyers {
		view, err := m.AddOrUpdateLines(ctx, b, []cart.Item{{StockUnitID: f.unit, Quantity: 1}})
		require.NoError(t, err)
		reqs[i] = order.ConfirmRequest{OrderID: view.Order.ID, UserID: b, ContactID: addContact(t, b)}
	}

	errs := make([]error, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Confirm(ctx, req)
		}()
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case fault.KindOf(err) == fault.Conflict:
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, 0, stockOf(t, f.unit))
}

// confirmConcurrently places one cart of qty units per buyer at the same time
// and returns the outcome of each confirmation.
func confirmConcurrently(t *testing.T, unit int64, qty int, buyers ...int64) []error {
	t.Helper()
	ctx := context.Background()
	m := newCartManager()
	svc := newOrderService(t)

	reqs := make([]order.ConfirmRequest, len(buyers))
	for i, b := range buyers {
		view, err := m.AddOrUpdateLines(ctx, b, []cart.Item{{StockUnitID: unit, Quantity: qty}})
		require.NoError(t, err)
		reqs[i] = order.ConfirmRequest{OrderID: view.Order.ID, UserID: b, ContactID: addContact(t, b)}
	}

	errs := make([]error, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Confirm(ctx, req)
		}()
	}
	wg.Wait()
	return errs
}

func TestConfirm_ConcurrentOversell(t *testing.T) {
	f := newFixture(t, 5, "3.00")
	other := newFixture(t, 0, "1.00")

	errs := confirmConcurrently(t, f.unit, 3, f.buyer, other.buyer)

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case fault.KindOf(err) == fault.Conflict:
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, 2, stockOf(t, f.unit))
}

func TestConfirm_InsufficientStockLeavesCart(t *testing.T) {
	f := newFixture(t, 5, "3.00")
	ctx := context.Background()

	errs := confirmConcurrently(t, f.unit, 10, f.buyer)
	require.ErrorIs(t, errs[0], fault.ErrConflict)
	assert.Equal(t, 5, stockOf(t, f.unit))

	view, err := newCartManager().GetCart(ctx, f.buyer)
	require.NoError(t, err)
	assert.Equal(t, order.Preparing, view.Order.State)
	require.Len(t, view.Lines, 1)
	assert.Equal(t, 10, view.Lines[0].Quantity)
}

func TestCart_PlacedOrderLinesAreFrozen(t *testing.T) {
	f := newFixture(t, 5, "4.00")
	ctx := context.Background()
	m := newCartManager()
	carts := postgres.NewCartRepository(pool)
	svc := newOrderService(t)

	view, err := m.AddOrUpdateLines(ctx, f.buyer, []cart.Item{{StockUnitID: f.unit, Quantity: 2}})
	require.NoError(t, err)
	lineID := view.Lines[0].ID
	_, err = svc.Confirm(ctx, order.ConfirmRequest{OrderID: view.Order.ID, UserID: f.buyer, ContactID: addContact(t, f.buyer)})
	require.NoError(t, err)
	require.Equal(t, 3, stockOf(t, f.unit))

	_, err = m.SetLineQuantity(ctx, f.buyer, lineID, 5)
	require.ErrorIs(t, err, fault.ErrNotFound)
	require.ErrorIs(t, carts.SetLineQuantity(ctx, view.Order.ID, lineID, 5), fault.ErrNotFound)
	require.ErrorIs(t, carts.UpsertLines(ctx, view.Order.ID, []cart.Item{{StockUnitID: f.unit, Quantity: 5}}), fault.ErrNotFound)
	n, err := carts.DeleteLines(ctx, view.Order.ID, []int64{lineID})
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = svc.Advance(ctx, view.Order.ID, order.Canceled)
	require.NoError(t, err)
	assert.Equal(t, 5, stockOf(t, f.unit))
}

func TestCart_EditWaitsForConfirmation(t *testing.T) {
	f := newFixture(t, 5, "4.00")
	ctx := context.Background()
	m := newCartManager()

	view, err := m.AddOrUpdateLines(ctx, f.buyer, []cart.Item{{StockUnitID: f.unit, Quantity: 2}})
	require.NoError(t, err)
	lineID := view.Lines[0].ID

	// Hold the order row the way a confirmation does.
	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()
	_, err = tx.Exec(ctx, `SELECT id FROM orders WHERE id = $1 FOR UPDATE`, view.Order.ID)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := m.SetLineQuantity(ctx, f.buyer, lineID, 5)
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("edit finished while the order was locked: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	_, err = tx.Exec(ctx, `UPDATE orders SET state = 'CREATED' WHERE id = $1`, view.Order.ID)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	select {
	case err := <-done:
		require.ErrorIs(t, err, fault.ErrNotFound)
	case <-time.After(10 * time.Second):
		t.Fatal("edit did not finish after the lock was released")
	}

	lines, err := postgres.NewOrderRepository(pool).Lines(ctx, view.Order.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, 2, lines[0].Quantity)
}

func TestAdvance_CancelRestoresOnce(t *testing.T) {
	f := newFixture(t, 4, "2.50")
	ctx := context.Background()
	m := newCartManager()
	svc := newOrderService(t)

	view, err := m.AddOrUpdateLines(ctx, f.buyer, []cart.Item{{StockUnitID: f.unit, Quantity: 3}})
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, order.ConfirmRequest{OrderID: view.Order.ID, UserID: f.buyer, ContactID: addContact(t, f.buyer)})
	require.NoError(t, err)
	require.Equal(t, 1, stockOf(t, f.unit))

	var (
		wg   sync.WaitGroup
		errs = make([]error, 4)
	)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Advance(ctx, view.Order.ID, order.Canceled)
		}()
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, fault.ErrState)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 4, stockOf(t, f.unit))
}

func TestCouponRepository(t *testing.T) {
	f := newFixture(t, 5, "100.00")
	ctx := context.Background()
	repo := postgres.NewCouponRepository(pool)
	now := time.Now().UTC().Truncate(time.Second)

	c := &coupon.Coupon{Code: "It-" + fmt.Sprint(f.unit), Discount: 10, ValidFrom: now.Add(-time.Hour), ValidTo: now.Add(time.Hour), Active: true}
	require.NoError(t, repo.Create(ctx, c))

	t.Run("find is case insensitive", func(t *testing.T) {
		got, err := repo.FindByCode(ctx, "IT-"+fmt.Sprint(f.unit))
		require.NoError(t, err)
		assert.Equal(t, c.ID, got.ID)
	})

	t.Run("duplicate code conflicts", func(t *testing.T) {
		dup := *c
		err := repo.Create(ctx, &dup)
		require.ErrorIs(t, err, fault.ErrConflict)
	})

	t.Run("code differing only in case conflicts", func(t *testing.T) {
		dup := *c
		dup.Code = strings.ToLower(c.Code)
		err := repo.Create(ctx, &dup)
		require.ErrorIs(t, err, fault.ErrConflict)

		require.NoError(t, repo.UpsertBatch(ctx, []coupon.Coupon{dup}))
		got, err := repo.FindByCode(ctx, c.Code)
		require.NoError(t, err)
		assert.Equal(t, c.ID, got.ID)
	})

	t.Run("unknown code not found", func(t *testing.T) {
		_, err := repo.FindByCode(ctx, "NOPE-NOPE")
		require.ErrorIs(t, err, fault.ErrNotFound)
	})

	t.Run("referenced coupon cannot be deleted", func(t *testing.T) {
		m := newCartManager()
		view, err := m.AddOrUpdateLines(ctx, f.buyer, []cart.Item{{StockUnitID: f.unit, Quantity: 1}})
		require.NoError(t, err)
		placed, err := newOrderService(t).Confirm(ctx, order.ConfirmRequest{
			OrderID: view.Order.ID, UserID: f.buyer, ContactID: addContact(t, f.buyer), CouponCode: c.Code,
		})
		require.NoError(t, err)
		assert.Equal(t, "90.00", placed.Total.StringFixed(2))

		_, err = repo.Delete(ctx, []int64{c.ID})
		require.ErrorIs(t, err, fault.ErrConflict)
	})
}

func TestShopRepository_SetActive(t *testing.T) {
	f := newFixture(t, 5, "7.00")
	ctx := context.Background()
	shops := postgres.NewShopRepository(pool)
	products := postgres.NewProductRepository(pool)

	listed := func() bool {
		all, err := products.ListAvailable(ctx)
		require.NoError(t, err)
		for _, p := range all {
			if p.StockUnitID == f.unit {
				return true
			}
		}
		return false
	}
	require.True(t, listed())

	n, err := shops.SetActive(ctx, f.seller, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	owned, err := shops.ListByOwner(ctx, f.seller)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.False(t, owned[0].Active)
	assert.False(t, listed())

	_, err = newCartManager().AddOrUpdateLines(ctx, f.buyer, []cart.Item{{StockUnitID: f.unit, Quantity: 1}})
	require.ErrorIs(t, err, fault.ErrValidation)

	n, err = shops.SetActive(ctx, f.buyer, true)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = shops.SetActive(ctx, f.seller, true)
	require.NoError(t, err)
	assert.True(t, listed())
}

func TestPopularityRepository(t *testing.T) {
	a := newFixture(t, 1, "1.00")
	b := newFixture(t, 1, "1.00")
	ctx := context.Background()
	repo := postgres.NewPopularityRepository(pool)

	require.NoError(t, repo.Increment(ctx, []int64{a.product, b.product, b.product}))

	scores, err := repo.Top(ctx, 0)
	require.NoError(t, err)
	got := map[int64]float64{}
	for _, s := range scores {
		got[s.ProductID] = s.Score
	}
	assert.Equal(t, 1.0, got[a.product])
	assert.Equal(t, 2.0, got[b.product])
}

func TestOutbox_ClaimAndMarkDone(t *testing.T) {
	f := newFixture(t, 2, "3.00")
	ctx := context.Background()
	m := newCartManager()
	view, err := m.AddOrUpdateLines(ctx, f.buyer, []cart.Item{{StockUnitID: f.unit, Quantity: 1}})
	require.NoError(t, err)
	_, err = newOrderService(t).Confirm(ctx, order.ConfirmRequest{OrderID: view.Order.ID, UserID: f.buyer, ContactID: addContact(t, f.buyer)})
	require.NoError(t, err)

	outbox := postgres.NewOutboxRepository(pool)
	tx := postgres.NewTxManager(pool)

	for {
		var found bool
		require.NoError(t, tx.InTx(ctx, func(ctx context.Context) error {
			p, ok, err := outbox.ClaimNext(ctx, 5)
			if err != nil || !ok {
				return err
			}
			found = true
			return outbox.MarkDone(ctx, p.ID, time.Now())
		}))
		if !found {
			break
		}
	}

	var remaining int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT count(*) FROM order_events WHERE processed_at IS NULL`).Scan(&remaining))
	assert.Zero(t, remaining)
}
