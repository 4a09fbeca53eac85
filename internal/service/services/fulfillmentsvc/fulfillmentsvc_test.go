package fulfillmentsvc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ecomlabs/order-pipeline/internal/service/models/auditlog"
	"github.com/ecomlabs/order-pipeline/internal/service/models/currency"
	"github.com/ecomlabs/order-pipeline/internal/service/models/order"
	"github.com/ecomlabs/order-pipeline/internal/service/models/ordermsg"
	"github.com/ecomlabs/order-pipeline/internal/service/models/product"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore mirrors the transactional reserve-and-insert contract of the
// Postgres order repository: the stock decrement and the order insert happen
// together or not at all, and a duplicate dedup key inserts nothing.
type fakeStore struct {
	mu        sync.Mutex
	stock     map[int64]int
	price     map[int64]int64
	orders    map[string]order.Order
	nextID    int64
	existsErr error
	createErr error
}

func newFakeStore(productID int64, stock int, priceCents int64) *fakeStore {
	return &fakeStore{
		stock:  map[int64]int{productID: stock},
		price:  map[int64]int64{productID: priceCents},
		orders: map[string]order.Order{},
	}
}

func (f *fakeStore) ExistsByDedupKey(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.existsErr != nil {
		return false, f.existsErr
	}
	_, ok := f.orders[key]

	return ok, nil
}

func (f *fakeStore) CreateReserved(_ context.Context, o *order.Order) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return false, f.createErr
	}
	if _, ok := f.orders[o.DedupKey]; ok {
		return false, nil
	}

	stock, ok := f.stock[o.ProductID]
	if !ok {
		return false, product.ErrProductNotFound
	}
	if stock < o.Quantity {
		return false, product.ErrInsufficientStock
	}

	f.stock[o.ProductID] = stock - o.Quantity
	f.nextID++
	o.ID = f.nextID
	o.TotalPriceCents = f.price[o.ProductID] * int64(o.Quantity)
	o.Currency = currency.CurrencyUSD
	o.Status = order.StatusPending
	f.orders[o.DedupKey] = *o

	return true, nil
}

type fakeAudit struct {
	mu       sync.Mutex
	err      error
	failures []auditlog.FulfillmentFailure
}

func (f *fakeAudit) SaveFulfillmentFailure(_ context.Context, failure auditlog.FulfillmentFailure) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}
	f.failures = append(f.failures, failure)

	return nil
}

type fakeCache struct {
	mu       sync.Mutex
	seen     map[string]bool
	statuses map[int64]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{seen: map[string]bool{}, statuses: map[int64]string{}}
}

func (f *fakeCache) SeenDedupKey(_ context.Context, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.seen[key]
}

func (f *fakeCache) MarkDedupKey(_ context.Context, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seen[key] = true
}

func (f *fakeCache) SetOrderStatus(_ context.Context, orderID int64, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.statuses[orderID] = status
}

func newTestService(store *fakeStore, audit *fakeAudit, cache *fakeCache) *FulfillmentService {
	opts := []option{
		WithOrderStore(store),
		WithAuditRepository(audit),
	}
	if cache != nil {
		opts = append(opts, WithDedupCache(cache))
	}

	return MustNewFulfillmentService(opts...)
}

func msgWithKey(key string) ordermsg.OrderMessage {
	return ordermsg.OrderMessage{UserID: 1, ProductID: 102, Quantity: 3, DedupKey: key}
}

func TestProcess_CreatesOrderAndReservesStock(t *testing.T) {
	store := newFakeStore(102, 10, 10000)
	cache := newFakeCache()
	svc := newTestService(store, &fakeAudit{}, cache)

	err := svc.Process(context.Background(), msgWithKey("k1"))
	require.NoError(t, err)

	require.Len(t, store.orders, 1)
	created := store.orders["k1"]
	assert.Equal(t, int64(1), created.UserID)
	assert.Equal(t, int64(102), created.ProductID)
	assert.Equal(t, 3, created.Quantity)
	assert.Equal(t, int64(30000), created.TotalPriceCents)
	assert.Equal(t, order.StatusPending, created.Status)
	assert.Equal(t, 7, store.stock[102])

	assert.True(t, cache.seen["k1"])
	assert.Equal(t, order.StatusPending.String(), cache.statuses[created.ID])
}

func TestProcess_RedeliveryIsIdempotent(t *testing.T) {
	store := newFakeStore(102, 10, 10000)
	svc := newTestService(store, &fakeAudit{}, nil)

	msg := msgWithKey("k1")
	require.NoError(t, svc.Process(context.Background(), msg))
	require.NoError(t, svc.Process(context.Background(), msg))
	require.NoError(t, svc.Process(context.Background(), msg))

	assert.Len(t, store.orders, 1, "one order per dedup key")
	assert.Equal(t, 7, store.stock[102], "stock decremented exactly once")
}

func TestProcess_CacheHitSkipsStore(t *testing.T) {
	store := newFakeStore(102, 10, 10000)
	store.existsErr = errors.New("store must not be reached")
	cache := newFakeCache()
	cache.seen["k1"] = true
	svc := newTestService(store, &fakeAudit{}, cache)

	err := svc.Process(context.Background(), msgWithKey("k1"))
	require.NoError(t, err)
	assert.Empty(t, store.orders)
}

func TestProcess_InsufficientStockGoesToAudit(t *testing.T) {
	store := newFakeStore(102, 2, 10000)
	audit := &fakeAudit{}
	cache := newFakeCache()
	svc := newTestService(store, audit, cache)

	msg := msgWithKey("k1")
	err := svc.Process(context.Background(), msg)
	require.NoError(t, err, "business rejection must consume the message")

	assert.Empty(t, store.orders)
	assert.Equal(t, 2, store.stock[102], "rejected message must not touch stock")

	require.Len(t, audit.failures, 1)
	failure := audit.failures[0]
	assert.Equal(t, auditlog.ReasonInsufficientStock, failure.Reason)
	assert.Equal(t, "k1", failure.DedupKey)
	assert.Equal(t, int64(102), failure.ProductID)
	assert.Equal(t, 3, failure.Quantity)

	assert.True(t, cache.seen["k1"], "rejected key is marked so a duplicate copy is skipped")
}

func TestProcess_UnknownProductGoesToAudit(t *testing.T) {
	store := &fakeStore{stock: map[int64]int{}, price: map[int64]int64{}, orders: map[string]order.Order{}}
	audit := &fakeAudit{}
	svc := newTestService(store, audit, nil)

	err := svc.Process(context.Background(), msgWithKey("k1"))
	require.NoError(t, err)

	require.Len(t, audit.failures, 1)
	assert.Equal(t, auditlog.ReasonProductNotFound, audit.failures[0].Reason)
}

func TestProcess_TransientErrorsStayUnacked(t *testing.T) {
	t.Run("dedup check fails", func(t *testing.T) {
		store := newFakeStore(102, 10, 10000)
		store.existsErr = errors.New("connection reset")
		svc := newTestService(store, &fakeAudit{}, nil)

		err := svc.Process(context.Background(), msgWithKey("k1"))
		require.Error(t, err)
	})

	t.Run("create fails", func(t *testing.T) {
		store := newFakeStore(102, 10, 10000)
		store.createErr = errors.New("deadlock detected")
		audit := &fakeAudit{}
		svc := newTestService(store, audit, nil)

		err := svc.Process(context.Background(), msgWithKey("k1"))
		require.Error(t, err)
		assert.Empty(t, audit.failures, "transient failures are not business rejections")
	})

	t.Run("audit write fails on rejection", func(t *testing.T) {
		store := newFakeStore(102, 0, 10000)
		audit := &fakeAudit{err: errors.New("audit table unavailable")}
		svc := newTestService(store, audit, nil)

		err := svc.Process(context.Background(), msgWithKey("k1"))
		require.Error(t, err, "unrecorded rejection must redeliver")
	})
}

func TestProcess_ConcurrentDeliveriesConserveStock(t *testing.T) {
	const (
		initialStock = 5
		deliveries   = 20
	)

	store := newFakeStore(102, initialStock, 10000)
	audit := &fakeAudit{}
	svc := newTestService(store, audit, nil)

	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := ordermsg.OrderMessage{
				UserID:    1,
				ProductID: 102,
				Quantity:  1,
				DedupKey:  fmt.Sprintf("key-%d", i),
			}
			_ = svc.Process(context.Background(), msg)
		}(i)
	}
	wg.Wait()

	assert.Len(t, store.orders, initialStock, "only as many orders as there was stock")
	assert.Len(t, audit.failures, deliveries-initialStock)
	assert.Equal(t, 0, store.stock[102])
	assert.GreaterOrEqual(t, store.stock[102], 0, "stock never goes negative")
}
