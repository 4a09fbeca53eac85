package httptransport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ecomlabs/order-pipeline/internal/service/models/auditlog"
	"github.com/ecomlabs/order-pipeline/internal/service/models/order"
	"github.com/ecomlabs/order-pipeline/internal/service/models/ordermsg"
	"github.com/ecomlabs/order-pipeline/internal/service/services/admissionsvc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdmission struct {
	err    error
	admits int
}

func (f *fakeAdmission) Admit(_ context.Context, userID, productID int64, quantity int) (*ordermsg.OrderMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.admits++

	return &ordermsg.OrderMessage{UserID: userID, ProductID: productID, Quantity: quantity, DedupKey: "k"}, nil
}

type fakeOrders struct {
	order     *order.Order
	err       error
	statusErr error
	removed   []int64
}

func (f *fakeOrders) GetOrder(_ context.Context, _ int64) (*order.Order, error) {
	return f.order, f.err
}

func (f *fakeOrders) GetOrderStatus(_ context.Context, _ int64) (order.Status, error) {
	if f.err != nil {
		return "", f.err
	}

	return f.order.Status, nil
}

func (f *fakeOrders) ListUserOrders(_ context.Context, _ int64) ([]order.Order, error) {
	return nil, f.err
}

func (f *fakeOrders) UpdateQuantity(_ context.Context, _ int64, _ int) (*order.Order, error) {
	return f.order, f.err
}

func (f *fakeOrders) UpdateStatus(_ context.Context, _ int64, _ order.Status) (*order.Order, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}

	return f.order, f.err
}

func (f *fakeOrders) CancelOrder(_ context.Context, _ int64) (*order.Order, error) {
	return f.order, f.err
}

func (f *fakeOrders) RemoveOrder(_ context.Context, orderID int64) error {
	if f.err != nil {
		return f.err
	}
	f.removed = append(f.removed, orderID)

	return nil
}

func (f *fakeOrders) ListFulfillmentFailures(_ context.Context, _ int) ([]auditlog.FulfillmentFailure, error) {
	return nil, f.err
}

func serve(t *testing.T, admission admissionService, orders orderService, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	transport := NewHTTPTransport(admission, orders)
	transport.RegisterRoutes()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	transport.router.ServeHTTP(rec, req)

	return rec
}

func TestCreateOrder(t *testing.T) {
	t.Run("accepted returns 202", func(t *testing.T) {
		admission := &fakeAdmission{}
		rec := serve(t, admission, &fakeOrders{}, http.MethodPost, "/api/orders",
			`{"userId":1,"productId":102,"quantity":3}`)

		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.JSONEq(t, `{"message":"order received and is being processed"}`, rec.Body.String())
		assert.Equal(t, 1, admission.admits)
	})

	t.Run("missing fields return 400", func(t *testing.T) {
		rec := serve(t, &fakeAdmission{}, &fakeOrders{}, http.MethodPost, "/api/orders",
			`{"quantity":3}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body returns 400", func(t *testing.T) {
		rec := serve(t, &fakeAdmission{}, &fakeOrders{}, http.MethodPost, "/api/orders", `not json`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("broker outage returns 503", func(t *testing.T) {
		admission := &fakeAdmission{err: admissionsvc.ErrTransportUnavailable}
		rec := serve(t, admission, &fakeOrders{}, http.MethodPost, "/api/orders",
			`{"userId":1,"productId":102,"quantity":3}`)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestGetOrder(t *testing.T) {
	t.Run("found returns the order", func(t *testing.T) {
		orders := &fakeOrders{order: &order.Order{ID: 5, UserID: 1, Status: order.StatusPending}}
		rec := serve(t, &fakeAdmission{}, orders, http.MethodGet, "/api/orders/5", "")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"PENDING"`)
	})

	t.Run("unknown id returns 404", func(t *testing.T) {
		orders := &fakeOrders{err: order.ErrOrderNotFound}
		rec := serve(t, &fakeAdmission{}, orders, http.MethodGet, "/api/orders/99", "")

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("non-numeric id returns 400", func(t *testing.T) {
		rec := serve(t, &fakeAdmission{}, &fakeOrders{}, http.MethodGet, "/api/orders/abc", "")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetOrderStatus(t *testing.T) {
	orders := &fakeOrders{order: &order.Order{ID: 5, Status: order.StatusShipped}}
	rec := serve(t, &fakeAdmission{}, orders, http.MethodGet, "/api/orders/5/status", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"SHIPPED"}`, rec.Body.String())
}

func TestListOrders_RequiresUserID(t *testing.T) {
	rec := serve(t, &fakeAdmission{}, &fakeOrders{}, http.MethodGet, "/api/orders", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, &fakeAdmission{}, &fakeOrders{}, http.MethodGet, "/api/orders?user_id=7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String(), "empty history is an empty array, not null")
}

func TestUpdateOrderStatus(t *testing.T) {
	t.Run("invalid transition returns 409", func(t *testing.T) {
		orders := &fakeOrders{statusErr: order.ErrInvalidTransition}
		rec := serve(t, &fakeAdmission{}, orders, http.MethodPatch, "/api/orders/5/status",
			`{"status":"COMPLETED"}`)

		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unknown status returns 400", func(t *testing.T) {
		rec := serve(t, &fakeAdmission{}, &fakeOrders{}, http.MethodPatch, "/api/orders/5/status",
			`{"status":"REFUNDED"}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("valid transition returns the updated order", func(t *testing.T) {
		orders := &fakeOrders{order: &order.Order{ID: 5, Status: order.StatusShipped}}
		rec := serve(t, &fakeAdmission{}, orders, http.MethodPatch, "/api/orders/5/status",
			`{"status":"SHIPPED"}`)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"SHIPPED"`)
	})
}

func TestUpdateOrder_RejectsEmptyPatch(t *testing.T) {
	rec := serve(t, &fakeAdmission{}, &fakeOrders{}, http.MethodPatch, "/api/orders/5", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRemoveOrder(t *testing.T) {
	orders := &fakeOrders{}
	rec := serve(t, &fakeAdmission{}, orders, http.MethodDelete, "/api/orders/5", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{5}, orders.removed)
}
