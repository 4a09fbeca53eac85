package admissionsvc

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ecomlabs/order-pipeline/internal/service/models/ordermsg"
	"github.com/ecomlabs/order-pipeline/internal/service/models/product"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProducts struct {
	products map[int64]*product.Product
}

func (f *fakeProducts) GetProduct(_ context.Context, productID int64) (*product.Product, error) {
	p, ok := f.products[productID]
	if !ok {
		return nil, product.ErrProductNotFound
	}

	return p, nil
}

type fakePublisher struct {
	mu         sync.Mutex
	calls      int
	failFirst  int
	err        error
	bodies     [][]byte
	messageIDs []string
	queues     []string
}

func (f *fakePublisher) Publish(_ context.Context, queue string, body []byte, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.calls <= f.failFirst {
		return f.err
	}

	f.queues = append(f.queues, queue)
	f.bodies = append(f.bodies, body)
	f.messageIDs = append(f.messageIDs, messageID)

	return nil
}

func newTestService(products *fakeProducts, broker *fakePublisher) *AdmissionService {
	return MustNewAdmissionService(
		WithProductReader(products),
		WithPublisher(broker),
	)
}

func inStock(stock int) *fakeProducts {
	return &fakeProducts{products: map[int64]*product.Product{
		102: {ID: 102, Name: "widget", PriceCents: 10000, Stock: stock},
	}}
}

func TestAdmit_PublishesExactlyOneMessage(t *testing.T) {
	broker := &fakePublisher{}
	svc := newTestService(inStock(10), broker)

	msg, err := svc.Admit(context.Background(), 1, 102, 3)
	require.NoError(t, err)

	require.Len(t, broker.bodies, 1)
	assert.Equal(t, ordermsg.QueueProcessOrder, broker.queues[0])

	published, err := ordermsg.Unmarshal(broker.bodies[0])
	require.NoError(t, err)
	assert.Equal(t, *msg, published)
	assert.Equal(t, int64(1), published.UserID)
	assert.Equal(t, int64(102), published.ProductID)
	assert.Equal(t, 3, published.Quantity)
	assert.NotEmpty(t, published.DedupKey)
	assert.Equal(t, published.DedupKey, broker.messageIDs[0])
}

func TestAdmit_DistinctRequestsGetDistinctDedupKeys(t *testing.T) {
	broker := &fakePublisher{}
	svc := newTestService(inStock(10), broker)

	first, err := svc.Admit(context.Background(), 1, 102, 1)
	require.NoError(t, err)
	second, err := svc.Admit(context.Background(), 1, 102, 1)
	require.NoError(t, err)

	assert.NotEqual(t, first.DedupKey, second.DedupKey)
}

func TestAdmit_RejectsWithoutPublishing(t *testing.T) {
	tests := []struct {
		name     string
		products *fakeProducts
		quantity int
		wantErr  error
	}{
		{"insufficient stock", inStock(2), 3, product.ErrInsufficientStock},
		{"unknown product", &fakeProducts{products: map[int64]*product.Product{}}, 3, product.ErrProductNotFound},
		{"zero quantity", inStock(10), 0, ErrInvalidQuantity},
		{"negative quantity", inStock(10), -1, ErrInvalidQuantity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker := &fakePublisher{}
			svc := newTestService(tt.products, broker)

			_, err := svc.Admit(context.Background(), 1, 102, tt.quantity)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, broker.calls, "rejected admission must not publish")
		})
	}
}

func TestAdmit_RetriesPublishWithSameDedupKey(t *testing.T) {
	broker := &fakePublisher{failFirst: 2, err: errors.New("broker hiccup")}
	svc := newTestService(inStock(10), broker)

	msg, err := svc.Admit(context.Background(), 1, 102, 1)
	require.NoError(t, err)

	assert.Equal(t, 3, broker.calls)
	require.Len(t, broker.messageIDs, 1)
	assert.Equal(t, msg.DedupKey, broker.messageIDs[0])
}

func TestAdmit_TransportDownAfterAllRetries(t *testing.T) {
	broker := &fakePublisher{failFirst: 100, err: errors.New("broker down")}
	svc := newTestService(inStock(10), broker)

	_, err := svc.Admit(context.Background(), 1, 102, 1)
	require.ErrorIs(t, err, ErrTransportUnavailable)
	assert.Equal(t, svc.publishRetries, broker.calls)
}
