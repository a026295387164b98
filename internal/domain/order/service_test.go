package order

import (
	"context"
	"encoding/json"
	"maps"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InnokentiyKim/Retail/internal/domain/contact"
	"github.com/InnokentiyKim/Retail/internal/domain/coupon"
	"github.com/InnokentiyKim/Retail/internal/domain/event"
	"github.com/InnokentiyKim/Retail/internal/domain/fault"
	"github.com/InnokentiyKim/Retail/internal/domain/inventory"
)

// --- Mock implementations ---

// world is an in-memory store whose transactions are serialized and rolled
// back on error, standing in for row locks and ROLLBACK.
type world struct {
	mu sync.Mutex

	orders   map[int64]Order
	lines    map[int64][]Line
	stock    map[int64]int
	events   []event.Lifecycle
	restores int
	calls    []string
}

func newWorld() *world {
	return &world{
		orders: make(map[int64]Order),
		lines:  make(map[int64][]Line),
		stock:  make(map[int64]int),
	}
}

func (w *world) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	orders := maps.Clone(w.orders)
	stock := maps.Clone(w.stock)
	events := len(w.events)
	restores := w.restores

	if err := fn(context.WithValue(ctx, worldTx{}, true)); err != nil {
		w.orders, w.stock, w.events, w.restores = orders, stock, w.events[:events], restores
		return err
	}
	return nil
}

type worldTx struct{}

func (w *world) GetForUpdate(ctx context.Context, orderID int64) (*Order, error) {
	w.record(ctx, "lock order")
	return w.Get(ctx, orderID)
}

// record notes a call and whether it ran inside a transaction.
func (w *world) record(ctx context.Context, call string) {
	if tx, _ := ctx.Value(worldTx{}).(bool); !tx {
		call += " outside tx"
	}
	w.calls = append(w.calls, call)
}

func (w *world) Get(_ context.Context, orderID int64) (*Order, error) {
	o, ok := w.orders[orderID]
	if !ok {
		return nil, fault.NotFoundf("get order", "order %d not found", orderID)
	}
	return &o, nil
}

func (w *world) Lines(_ context.Context, orderID int64) ([]Line, error) {
	return w.lines[orderID], nil
}

func (w *world) Place(_ context.Context, o *Order) error {
	stored := *o
	stored.Lines = nil
	w.orders[o.ID] = stored
	return nil
}

func (w *world) SetState(_ context.Context, orderID int64, state State) error {
	o := w.orders[orderID]
	o.State = state
	w.orders[orderID] = o
	return nil
}

func (w *world) ListByBuyer(_ context.Context, userID int64) ([]Order, error) {
	var out []Order
	for _, o := range w.orders {
		if o.UserID == userID && o.State != Preparing {
			out = append(out, o)
		}
	}
	return out, nil
}

func (w *world) ListBySeller(_ context.Context, _ int64) ([]Order, error) {
	return nil, nil
}

func (w *world) Append(_ context.Context, e event.Lifecycle) error {
	w.events = append(w.events, e)
	return nil
}

func (w *world) Commit(ctx context.Context, moves []inventory.Movement) error {
	w.record(ctx, "commit stock")
	for _, m := range moves {
		if w.stock[m.StockUnitID] < m.Quantity {
			return &inventory.InsufficientStockError{StockUnitID: m.StockUnitID, Requested: m.Quantity}
		}
		w.stock[m.StockUnitID] -= m.Quantity
	}
	return nil
}

func (w *world) Restore(_ context.Context, moves []inventory.Movement) error {
	for _, m := range moves {
		w.stock[m.StockUnitID] += m.Quantity
	}
	w.restores++
	return nil
}

type mockContacts struct {
	owner map[int64]int64
}

func (m mockContacts) GetContact(_ context.Context, userID, contactID int64) (*contact.Contact, error) {
	if m.owner[contactID] != userID {
		return nil, fault.NotFoundf("get contact", "contact %d not found", contactID)
	}
	return &contact.Contact{ID: contactID, UserID: userID}, nil
}

type mockCoupons struct {
	byCode map[string]*coupon.Coupon
}

func (m mockCoupons) Validate(_ context.Context, code string, at time.Time) (*coupon.Coupon, error) {
	c, ok := m.byCode[code]
	if !ok {
		return nil, fault.NotFoundf("find coupon", "coupon %q not found", code)
	}
	if !c.ValidAt(at) {
		return nil, fault.Validationf("validate coupon", "coupon %q is not valid", code)
	}
	return c, nil
}

type memCache struct {
	data        map[string][]byte
	loads       int
	invalidated []string
}

func (m *memCache) Load(ctx context.Context, key string, dst any, load func(ctx context.Context) (any, error)) error {
	if raw, ok := m.data[key]; ok {
		return json.Unmarshal(raw, dst)
	}
	m.loads++
	v, err := load(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.data[key] = raw
	return json.Unmarshal(raw, dst)
}

func (m *memCache) Invalidate(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.data, k)
	}
	m.invalidated = append(m.invalidated, keys...)
	return nil
}

// spyChecks records contact and coupon lookups into a world.
type spyChecks struct {
	w        *world
	contacts ContactProvider
	coupons  coupon.Validator
}

func (s spyChecks) GetContact(ctx context.Context, userID, contactID int64) (*contact.Contact, error) {
	s.w.record(ctx, "get contact")
	return s.contacts.GetContact(ctx, userID, contactID)
}

func (s spyChecks) Validate(ctx context.Context, code string, at time.Time) (*coupon.Coupon, error) {
	s.w.record(ctx, "validate coupon")
	return s.coupons.Validate(ctx, code, at)
}

// --- Helpers ---

const (
	buyer    = int64(10)
	other    = int64(11)
	contact1 = int64(1)
)

var now = time.Date(2025, 5, 20, 10, 0, 0, 0, time.UTC)

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestService(t *testing.T, w *world) *Service {
	t.Helper()
	from := now.Add(-time.Hour)
	svc, err := NewService(Deps{
		Tx:       w,
		Orders:   w,
		Ledger:   w,
		Contacts: mockContacts{owner: map[int64]int64{contact1: buyer}},
		Coupons: mockCoupons{byCode: map[string]*coupon.Coupon{
			"TEN":     {ID: 5, Code: "TEN", Discount: 10, ValidFrom: from, ValidTo: now.Add(time.Hour), Active: true},
			"EXPIRED": {ID: 6, Code: "EXPIRED", Discount: 10, ValidFrom: from, ValidTo: from, Active: true},
		}},
		Events: w,
	}, WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	return svc
}

// cart puts a PREPARING order with the given lines into w.
func (w *world) cart(orderID, userID int64, lines ...Line) {
	w.orders[orderID] = Order{ID: orderID, UserID: userID, State: Preparing}
	for i := range lines {
		lines[i].OrderID = orderID
		lines[i].ID = orderID*100 + int64(i)
		if lines[i].ProductID == 0 {
			lines[i].ProductID = lines[i].StockUnitID * 10
		}
	}
	w.lines[orderID] = lines
}

func confirm(orderID int64, code string) ConfirmRequest {
	return ConfirmRequest{OrderID: orderID, UserID: buyer, ContactID: contact1, CouponCode: code}
}

// --- Confirm ---

func TestConfirm_Success(t *testing.T) {
	w := newWorld()
	w.stock[1], w.stock[2] = 10, 4
	w.cart(1, buyer,
		Line{StockUnitID: 1, Quantity: 2, UnitPrice: price("10.00")},
		Line{StockUnitID: 2, Quantity: 1, UnitPrice: price("20.00")},
	)

	o, err := newTestService(t, w).Confirm(context.Background(), confirm(1, ""))
	require.NoError(t, err)

	assert.Equal(t, Created, o.State)
	assert.True(t, price("40.00").Equal(o.Total))
	require.NotNil(t, o.ContactID)
	assert.Equal(t, contact1, *o.ContactID)
	assert.Nil(t, o.CouponID)

	assert.Equal(t, 8, w.stock[1])
	assert.Equal(t, 3, w.stock[2])
	assert.Equal(t, Created, w.orders[1].State)

	require.Len(t, w.events, 1)
	e := w.events[0]
	assert.Equal(t, int64(1), e.OrderID)
	assert.Equal(t, buyer, e.UserID)
	assert.Equal(t, string(Preparing), e.From)
	assert.Equal(t, string(Created), e.State)
	assert.Equal(t, []int64{10, 20}, e.ProductIDs)
}

func TestConfirm_WithCoupon(t *testing.T) {
	w := newWorld()
	w.stock[1] = 1
	w.cart(1, buyer, Line{StockUnitID: 1, Quantity: 1, UnitPrice: price("100.00")})

	o, err := newTestService(t, w).Confirm(context.Background(), confirm(1, " TEN "))
	require.NoError(t, err)

	assert.True(t, price("90.00").Equal(o.Total), "got %s", o.Total)
	require.NotNil(t, o.CouponID)
	assert.Equal(t, int64(5), *o.CouponID)
	assert.Equal(t, "TEN", o.CouponCode)
}

func TestConfirm_RejectedWithoutChanges(t *testing.T) {
	tests := []struct {
		name    string
		req     ConfirmRequest
		setup   func(w *world)
		wantErr error
	}{
		{
			name:    "expired coupon",
			req:     confirm(1, "EXPIRED"),
			wantErr: fault.ErrValidation,
		},
		{
			name:    "unknown coupon",
			req:     confirm(1, "NOPE"),
			wantErr: fault.ErrNotFound,
		},
		{
			name:    "contact of another user",
			req:     ConfirmRequest{OrderID: 1, UserID: buyer, ContactID: 99},
			wantErr: fault.ErrNotFound,
		},
		{
			name: "order of another user",
			req:  confirm(2, ""),
			setup: func(w *world) {
				w.cart(2, other, Line{StockUnitID: 1, Quantity: 1, UnitPrice: price("1")})
			},
			wantErr: fault.ErrNotFound,
		},
		{
			name:    "missing order",
			req:     confirm(404, ""),
			wantErr: fault.ErrNotFound,
		},
		{
			name:    "quantity above stock",
			req:     confirm(1, ""),
			setup:   func(w *world) { w.lines[1][0].Quantity = 10 },
			wantErr: fault.ErrConflict,
		},
		{
			name: "second line short rolls back the first",
			req:  confirm(1, ""),
			setup: func(w *world) {
				w.stock[2] = 1
				w.cart(1, buyer,
					Line{StockUnitID: 1, Quantity: 2, UnitPrice: price("1")},
					Line{StockUnitID: 2, Quantity: 3, UnitPrice: price("1")},
				)
			},
			wantErr: fault.ErrConflict,
		},
		{
			name:    "empty cart",
			req:     confirm(1, ""),
			setup:   func(w *world) { w.lines[1] = nil },
			wantErr: fault.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWorld()
			w.stock[1] = 5
			w.cart(1, buyer, Line{StockUnitID: 1, Quantity: 2, UnitPrice: price("100.00")})
			if tt.setup != nil {
				tt.setup(w)
			}
			stockBefore := maps.Clone(w.stock)

			_, err := newTestService(t, w).Confirm(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.wantErr)

			assert.Equal(t, stockBefore, w.stock)
			assert.Equal(t, Preparing, w.orders[1].State)
			assert.Empty(t, w.events)
		})
	}
}

func TestConfirm_ChecksRunUnderOrderLock(t *testing.T) {
	w := newWorld()
	w.stock[1] = 1
	w.cart(1, buyer, Line{StockUnitID: 1, Quantity: 1, UnitPrice: price("100.00")})

	base := newTestService(t, w)
	spy := spyChecks{w: w, contacts: base.deps.Contacts, coupons: base.deps.Coupons}
	deps := base.deps
	deps.Contacts, deps.Coupons = spy, spy
	svc, err := NewService(deps, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	_, err = svc.Confirm(context.Background(), confirm(1, "TEN"))
	require.NoError(t, err)
	assert.Equal(t, []string{"lock order", "get contact", "validate coupon", "commit stock"}, w.calls)
}

func TestConfirm_AlreadyPlaced(t *testing.T) {
	w := newWorld()
	w.stock[1] = 5
	w.cart(1, buyer, Line{StockUnitID: 1, Quantity: 1, UnitPrice: price("1")})
	svc := newTestService(t, w)

	_, err := svc.Confirm(context.Background(), confirm(1, ""))
	require.NoError(t, err)

	_, err = svc.Confirm(context.Background(), confirm(1, ""))
	require.ErrorIs(t, err, fault.ErrState)
	assert.Equal(t, 4, w.stock[1])
}

func TestConfirm_ConcurrentOversell(t *testing.T) {
	w := newWorld()
	w.stock[1] = 5
	w.cart(1, buyer, Line{StockUnitID: 1, Quantity: 3, UnitPrice: price("1")})
	w.cart(2, buyer, Line{StockUnitID: 1, Quantity: 3, UnitPrice: price("1")})
	svc := newTestService(t, w)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Confirm(context.Background(), confirm(int64(i+1), ""))
		}()
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, fault.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, 2, w.stock[1])
}

// --- Advance ---

func placed(t *testing.T, w *world, svc *Service, qty int) {
	t.Helper()
	w.stock[1] = 10
	w.cart(1, buyer, Line{StockUnitID: 1, Quantity: qty, UnitPrice: price("5")})
	_, err := svc.Confirm(context.Background(), confirm(1, ""))
	require.NoError(t, err)
}

func TestAdvance_FullLifecycle(t *testing.T) {
	w := newWorld()
	svc := newTestService(t, w)
	placed(t, w, svc, 2)

	for _, to := range []State{Confirmed, Assembled, Sent, Delivered} {
		o, err := svc.Advance(context.Background(), 1, to)
		require.NoError(t, err, to)
		assert.Equal(t, to, o.State)
	}

	assert.Equal(t, 8, w.stock[1])
	assert.Equal(t, 0, w.restores)
	require.Len(t, w.events, 5)
	assert.Equal(t, string(Sent), w.events[4].From)
	assert.Equal(t, string(Delivered), w.events[4].State)

	_, err := svc.Advance(context.Background(), 1, Canceled)
	require.ErrorIs(t, err, fault.ErrState)
}

func TestAdvance_InvalidEdges(t *testing.T) {
	w := newWorld()
	svc := newTestService(t, w)
	placed(t, w, svc, 1)

	tests := []struct {
		to      State
		wantErr error
	}{
		{to: Assembled, wantErr: fault.ErrState},
		{to: Delivered, wantErr: fault.ErrState},
		{to: Preparing, wantErr: fault.ErrState},
		{to: Created, wantErr: fault.ErrState},
		{to: State("LOST"), wantErr: fault.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(string(tt.to), func(t *testing.T) {
			_, err := svc.Advance(context.Background(), 1, tt.to)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, Created, w.orders[1].State)
		})
	}
}

func TestAdvance_CreatedOnlyThroughConfirm(t *testing.T) {
	w := newWorld()
	w.cart(1, buyer, Line{StockUnitID: 1, Quantity: 1, UnitPrice: price("1")})

	_, err := newTestService(t, w).Advance(context.Background(), 1, Created)
	require.ErrorIs(t, err, fault.ErrState)
	assert.Equal(t, Preparing, w.orders[1].State)
}

func TestAdvance_CancelRestoresStockOnce(t *testing.T) {
	w := newWorld()
	svc := newTestService(t, w)
	placed(t, w, svc, 3)
	require.Equal(t, 7, w.stock[1])

	o, err := svc.Advance(context.Background(), 1, Canceled)
	require.NoError(t, err)
	assert.Equal(t, Canceled, o.State)
	assert.Equal(t, 10, w.stock[1])
	assert.Equal(t, 1, w.restores)

	_, err = svc.Advance(context.Background(), 1, Canceled)
	require.ErrorIs(t, err, fault.ErrState)
	assert.Equal(t, 10, w.stock[1])
	assert.Equal(t, 1, w.restores)
}

func TestAdvance_CancelFromLaterStatesRestores(t *testing.T) {
	for _, path := range [][]State{
		{Confirmed},
		{Confirmed, Assembled},
		{Confirmed, Assembled, Sent},
	} {
		t.Run(string(path[len(path)-1]), func(t *testing.T) {
			w := newWorld()
			svc := newTestService(t, w)
			placed(t, w, svc, 4)

			for _, s := range path {
				_, err := svc.Advance(context.Background(), 1, s)
				require.NoError(t, err)
			}
			_, err := svc.Advance(context.Background(), 1, Canceled)
			require.NoError(t, err)
			assert.Equal(t, 10, w.stock[1])
		})
	}
}

func TestAdvance_CancelCartRestoresNothing(t *testing.T) {
	w := newWorld()
	w.stock[1] = 5
	w.cart(1, buyer, Line{StockUnitID: 1, Quantity: 2, UnitPrice: price("1")})

	_, err := newTestService(t, w).Advance(context.Background(), 1, Canceled)
	require.NoError(t, err)
	assert.Equal(t, 5, w.stock[1])
	assert.Equal(t, 0, w.restores)
	assert.Equal(t, Canceled, w.orders[1].State)
}

func TestAdvance_MissingOrder(t *testing.T) {
	_, err := newTestService(t, newWorld()).Advance(context.Background(), 9, Confirmed)
	require.ErrorIs(t, err, fault.ErrNotFound)
}

// --- Reads ---

func TestGetOwned(t *testing.T) {
	w := newWorld()
	svc := newTestService(t, w)
	placed(t, w, svc, 1)

	o, err := svc.GetOwned(context.Background(), buyer, 1)
	require.NoError(t, err)
	assert.Len(t, o.Lines, 1)

	_, err = svc.GetOwned(context.Background(), other, 1)
	require.ErrorIs(t, err, fault.ErrNotFound)
}

func TestListBuyerOrders_Cached(t *testing.T) {
	w := newWorld()
	cache := &memCache{data: make(map[string][]byte)}
	svc := newTestService(t, w)
	svc.deps.Cache = cache

	placed(t, w, svc, 1)
	assert.Contains(t, cache.invalidated, BuyerOrdersKey(buyer))

	for range 3 {
		orders, err := svc.ListBuyerOrders(context.Background(), buyer)
		require.NoError(t, err)
		require.Len(t, orders, 1)
		assert.Equal(t, Created, orders[0].State)
	}
	assert.Equal(t, 1, cache.loads)

	_, err := svc.Advance(context.Background(), 1, Confirmed)
	require.NoError(t, err)

	orders, err := svc.ListBuyerOrders(context.Background(), buyer)
	require.NoError(t, err)
	assert.Equal(t, Confirmed, orders[0].State)
	assert.Equal(t, 2, cache.loads)
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "buyerOrders:7", BuyerOrdersKey(7))
	assert.Equal(t, "sellerOrders:7", SellerOrdersKey(7))
}
