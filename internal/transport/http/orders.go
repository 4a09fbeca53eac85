package httptransport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ecomlabs/order-pipeline/internal/service/models/order"
	"github.com/ecomlabs/order-pipeline/internal/service/models/product"
	"github.com/ecomlabs/order-pipeline/internal/service/services/admissionsvc"
	"github.com/go-chi/chi/v5"
)

// CreateOrderRequest is the admission request body. AuthN/Z happened upstream
// in the API gateway; the user id arrives resolved.
type CreateOrderRequest struct {
	UserID    int64 `json:"userId"`
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

// UpdateOrderRequest carries an optional quantity and/or status change.
type UpdateOrderRequest struct {
	Quantity *int    `json:"quantity,omitempty"`
	Status   *string `json:"status,omitempty"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error writing response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var code int
	switch {
	case errors.Is(err, order.ErrOrderNotFound), errors.Is(err, product.ErrProductNotFound):
		code = http.StatusNotFound
	case errors.Is(err, product.ErrInsufficientStock), errors.Is(err, admissionsvc.ErrInvalidQuantity):
		code = http.StatusBadRequest
	case errors.Is(err, order.ErrInvalidTransition):
		code = http.StatusConflict
	case errors.Is(err, admissionsvc.ErrTransportUnavailable):
		code = http.StatusServiceUnavailable
	default:
		code = http.StatusInternalServerError
		slog.ErrorContext(r.Context(), "Request failed", "path", r.URL.Path, "error", err)
	}

	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func orderID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// createOrder admits an order for asynchronous processing. The 202 response
// acknowledges receipt, not creation: the order id does not exist yet.
func (h *HTTPTransport) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})

		return
	}
	if req.UserID <= 0 || req.ProductID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})

		return
	}

	if _, err := h.admission.Admit(r.Context(), req.UserID, req.ProductID, req.Quantity); err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "order received and is being processed",
	})
}

func (h *HTTPTransport) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order id"})

		return
	}

	o, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, o)
}

func (h *HTTPTransport) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order id"})

		return
	}

	status, err := h.orders.GetOrderStatus(r.Context(), id)
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": status.String()})
}

func (h *HTTPTransport) listOrders(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing or invalid user_id"})

		return
	}

	orders, err := h.orders.ListUserOrders(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)

		return
	}
	if orders == nil {
		orders = []order.Order{}
	}

	writeJSON(w, http.StatusOK, orders)
}

// updateOrder handles quantity and/or status changes on one order. Quantity
// first: a failed quantity delta must not leave a half-applied update.
func (h *HTTPTransport) updateOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order id"})

		return
	}

	var req UpdateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})

		return
	}
	if req.Quantity == nil && req.Status == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "nothing to update"})

		return
	}

	var o *order.Order
	if req.Quantity != nil {
		o, err = h.orders.UpdateQuantity(r.Context(), id, *req.Quantity)
		if err != nil {
			writeError(w, r, err)

			return
		}
	}

	if req.Status != nil {
		status, perr := order.ParseStatus(*req.Status)
		if perr != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown status"})

			return
		}

		o, err = h.orders.UpdateStatus(r.Context(), id, status)
		if err != nil {
			writeError(w, r, err)

			return
		}
	}

	writeJSON(w, http.StatusOK, o)
}

func (h *HTTPTransport) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order id"})

		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})

		return
	}

	status, err := order.ParseStatus(req.Status)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown status"})

		return
	}

	o, err := h.orders.UpdateStatus(r.Context(), id, status)
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, o)
}

func (h *HTTPTransport) removeOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order id"})

		return
	}

	if err := h.orders.RemoveOrder(r.Context(), id); err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "order removed"})
}

func (h *HTTPTransport) listFulfillmentFailures(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	failures, err := h.orders.ListFulfillmentFailures(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, failures)
}
