package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/articurated/orderflow/internal/domain"
	apperrors "github.com/articurated/orderflow/pkg/errors"
	"github.com/articurated/orderflow/pkg/middleware"
)

func validCreateOrderBody() map[string]any {
	return map[string]any{
		"customer_id": "customer-001",
		"items": []map[string]any{
			{"product_id": "prod-1", "product_name": "Widget", "quantity": 2, "unit_price": 2500},
		},
		"shipping_address": map[string]any{
			"full_name":    "Jane Doe",
			"address_line": "400 Pine St",
			"city":         "Portland",
			"state":        "OR",
			"postal_code":  "97204",
			"country":      "US",
		},
	}
}

func TestCreateOrder_Success(t *testing.T) {
	env := newTestEnv()

	env.orders.On("Create", mock.Anything, mock.AnythingOfType("*domain.Order"), mock.AnythingOfType("*domain.StateHistory")).Return(nil)

	rec := env.doRequest(t, http.MethodPost, "/api/v1/orders", validCreateOrderBody())

	require.Equal(t, http.StatusCreated, rec.Code)

	var order domain.Order
	decodeData(t, rec, &order)
	assert.NotEmpty(t, order.ID)
	assert.Equal(t, domain.OrderStatusPendingPayment, order.Status)
	assert.Equal(t, int64(5000), order.Subtotal)
	assert.Equal(t, int64(6500), order.Total)

	// The audit record carries the client IP seen at the edge.
	hist := env.orders.Calls[0].Arguments.Get(2).(*domain.StateHistory)
	assert.Equal(t, "192.0.2.10", hist.IPAddress)

	env.orders.AssertExpectations(t)
}

func TestCreateOrder_ForwardedForWins(t *testing.T) {
	env := newTestEnv()
	env.orders.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	raw, err := json.Marshal(validCreateOrderBody())
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", newBody(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.APIKeyHeader, testAPIKey)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.2")
	req.RemoteAddr = "10.0.0.1:1234"

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	hist := env.orders.Calls[0].Arguments.Get(2).(*domain.StateHistory)
	assert.Equal(t, "203.0.113.9", hist.IPAddress)
}

func TestCreateOrder_ValidationError(t *testing.T) {
	env := newTestEnv()

	body := validCreateOrderBody()
	delete(body, "customer_id")

	rec := env.doRequest(t, http.MethodPost, "/api/v1/orders", body)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	errBody := decodeError(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", errBody["code"])
	env.orders.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateOrder_MalformedJSON(t *testing.T) {
	env := newTestEnv()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", newBody([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.APIKeyHeader, testAPIKey)

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec)["code"])
}

func TestGetOrder_Success(t *testing.T) {
	env := newTestEnv()

	env.orders.On("GetByID", mock.Anything, testOrderID).Return(
		&domain.Order{ID: testOrderID, CustomerID: "customer-001", Status: domain.OrderStatusPaid}, nil)

	rec := env.doRequest(t, http.MethodGet, "/api/v1/orders/"+testOrderID, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var order domain.Order
	decodeData(t, rec, &order)
	assert.Equal(t, testOrderID, order.ID)
	assert.Equal(t, domain.OrderStatusPaid, order.Status)
}

func TestGetOrder_NotFound(t *testing.T) {
	env := newTestEnv()

	env.orders.On("GetByID", mock.Anything, missingID).Return(nil, apperrors.NotFound("order", missingID))

	rec := env.doRequest(t, http.MethodGet, "/api/v1/orders/"+missingID, nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "RESOURCE_NOT_FOUND", decodeError(t, rec)["code"])
}

func TestGetOrder_MalformedID(t *testing.T) {
	env := newTestEnv()

	rec := env.doRequest(t, http.MethodGet, "/api/v1/orders/not-a-uuid", nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_PARAMETER", decodeError(t, rec)["code"])
	env.orders.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}

func TestTransitionOrder_MalformedID(t *testing.T) {
	env := newTestEnv()

	rec := env.doRequest(t, http.MethodPatch, "/api/v1/orders/42/state", map[string]any{
		"status": "PAID",
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_PARAMETER", decodeError(t, rec)["code"])
	env.orders.AssertNotCalled(t, "Transition", mock.Anything, mock.Anything)
}

func TestListOrders_Success(t *testing.T) {
	env := newTestEnv()

	env.orders.On("List", mock.Anything, mock.Anything).Return([]domain.Order{
		{ID: "order-1", Status: domain.OrderStatusPendingPayment},
		{ID: "order-2", Status: domain.OrderStatusPaid},
	}, 42, nil)

	rec := env.doRequest(t, http.MethodGet, "/api/v1/orders?page=2&page_size=2", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Items    []domain.Order `json:"items"`
		PageInfo struct {
			Page       int `json:"page"`
			PageSize   int `json:"page_size"`
			TotalItems int `json:"total_items"`
			TotalPages int `json:"total_pages"`
		} `json:"page_info"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Len(t, envelope.Items, 2)
	assert.Equal(t, 2, envelope.PageInfo.Page)
	assert.Equal(t, 42, envelope.PageInfo.TotalItems)
	assert.Equal(t, 21, envelope.PageInfo.TotalPages)
}

func TestListOrders_InvalidPageParam(t *testing.T) {
	env := newTestEnv()

	rec := env.doRequest(t, http.MethodGet, "/api/v1/orders?page=zero", nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_PARAMETER", decodeError(t, rec)["code"])
	env.orders.AssertNotCalled(t, "List", mock.Anything, mock.Anything)
}

func TestTransitionOrder_Success(t *testing.T) {
	env := newTestEnv()

	order := &domain.Order{ID: testOrderID, Status: domain.OrderStatusPendingPayment}
	env.orders.On("Transition", mock.Anything, testOrderID).Return(order, nil)

	rec := env.doRequest(t, http.MethodPatch, "/api/v1/orders/"+testOrderID+"/state", map[string]any{
		"status":                 "PAID",
		"actor":                  "payment-gateway",
		"trigger_source":         "WEBHOOK",
		"payment_transaction_id": "txn-123",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var updated domain.Order
	decodeData(t, rec, &updated)
	assert.Equal(t, domain.OrderStatusPaid, updated.Status)
	assert.Equal(t, "txn-123", updated.PaymentTransactionID)
}

func TestTransitionOrder_InvalidTransitionCarriesAllowed(t *testing.T) {
	env := newTestEnv()

	order := &domain.Order{ID: testOrderID, Status: domain.OrderStatusPaid}
	env.orders.On("Transition", mock.Anything, testOrderID).Return(order, nil)

	rec := env.doRequest(t, http.MethodPatch, "/api/v1/orders/"+testOrderID+"/state", map[string]any{
		"status": "DELIVERED",
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	errBody := decodeError(t, rec)
	assert.Equal(t, "INVALID_STATE_TRANSITION", errBody["code"])

	details, ok := errBody["details"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "PAID", details["current_state"])
	assert.Equal(t, "DELIVERED", details["requested_state"])
	assert.ElementsMatch(t, []any{"PROCESSING_IN_WAREHOUSE", "CANCELLED"}, details["allowed_transitions"])
}

func TestTransitionOrder_UnknownStatus(t *testing.T) {
	env := newTestEnv()

	rec := env.doRequest(t, http.MethodPatch, "/api/v1/orders/"+testOrderID+"/state", map[string]any{
		"status": "SHIPPING",
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec)["code"])
	env.orders.AssertNotCalled(t, "Transition", mock.Anything, mock.Anything)
}

func TestUpdateOrderShipping_Success(t *testing.T) {
	env := newTestEnv()

	env.orders.On("UpdateShipping", mock.Anything, testOrderID, "1Z999", "UPS", mock.Anything).Return(nil)
	env.orders.On("GetByID", mock.Anything, testOrderID).Return(
		&domain.Order{ID: testOrderID, TrackingNumber: "1Z999", Carrier: "UPS"}, nil)

	rec := env.doRequest(t, http.MethodPatch, "/api/v1/orders/"+testOrderID+"/shipping", map[string]any{
		"tracking_number": "1Z999",
		"carrier":         "UPS",
		"metadata":        map[string]any{"warehouse": "ORD-3"},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var order domain.Order
	decodeData(t, rec, &order)
	assert.Equal(t, "1Z999", order.TrackingNumber)
}

func TestUpdateOrderShipping_MissingCarrier(t *testing.T) {
	env := newTestEnv()

	rec := env.doRequest(t, http.MethodPatch, "/api/v1/orders/"+testOrderID+"/shipping", map[string]any{
		"tracking_number": "1Z999",
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec)["code"])
}

func TestOrderHistory_Success(t *testing.T) {
	env := newTestEnv()

	prev := "PENDING_PAYMENT"
	env.orders.On("GetByID", mock.Anything, testOrderID).Return(&domain.Order{ID: testOrderID}, nil)
	env.history.On("ListBySubject", mock.Anything, domain.Subject{Kind: domain.KindOrder, ID: testOrderID}).Return([]domain.StateHistory{
		{ID: "hist-1", NewState: "PENDING_PAYMENT", Actor: "customer-001", Trigger: "API"},
		{ID: "hist-2", PreviousState: &prev, NewState: "PAID", Actor: "SYSTEM", Trigger: "WEBHOOK"},
	}, nil)

	rec := env.doRequest(t, http.MethodGet, "/api/v1/orders/"+testOrderID+"/history", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var hist HistoryResponse
	decodeData(t, rec, &hist)
	require.Len(t, hist.Items, 2)
	assert.Equal(t, 2, hist.Count)
	assert.Nil(t, hist.Items[0].PreviousState)
	assert.Equal(t, "PAID", hist.Items[1].NewState)
}

func TestOrderHistory_AuditAlias(t *testing.T) {
	env := newTestEnv()

	env.orders.On("GetByID", mock.Anything, testOrderID).Return(&domain.Order{ID: testOrderID}, nil)
	env.history.On("ListBySubject", mock.Anything, mock.Anything).Return([]domain.StateHistory{}, nil)

	rec := env.doRequest(t, http.MethodGet, "/api/v1/orders/"+testOrderID+"/audit", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var hist HistoryResponse
	decodeData(t, rec, &hist)
	assert.Empty(t, hist.Items)
	assert.Zero(t, hist.Count)
}

func TestOrderHistory_NotFound(t *testing.T) {
	env := newTestEnv()

	env.orders.On("GetByID", mock.Anything, missingID).Return(nil, apperrors.NotFound("order", missingID))

	rec := env.doRequest(t, http.MethodGet, "/api/v1/orders/"+missingID+"/history", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

// --- Auth ---

func TestAPIKey_Missing(t *testing.T) {
	env := newTestEnv()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeError(t, rec)["code"])
}

func TestAPIKey_Wrong(t *testing.T) {
	env := newTestEnv()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set(middleware.APIKeyHeader, "wrong-key")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthEndpoints_Unauthenticated(t *testing.T) {
	env := newTestEnv()

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestContentTypeJSON_RejectsXML(t *testing.T) {
	env := newTestEnv()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", newBody([]byte("<order/>")))
	req.Header.Set("Content-Type", "application/xml")
	req.Header.Set(middleware.APIKeyHeader, testAPIKey)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}
