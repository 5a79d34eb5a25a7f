package http

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/articurated/orderflow/internal/domain"
	"github.com/articurated/orderflow/internal/repository"
	"github.com/articurated/orderflow/internal/service"
	"github.com/articurated/orderflow/pkg/httputil"
	"github.com/articurated/orderflow/pkg/pagination"
	"github.com/articurated/orderflow/pkg/validator"
)

// OrderHandler handles HTTP requests for order endpoints.
type OrderHandler struct {
	service *service.OrderService
	logger  *slog.Logger
}

// NewOrderHandler creates a new order HTTP handler.
func NewOrderHandler(svc *service.OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// CreateLineItemRequest is the JSON request body for an order line item.
type CreateLineItemRequest struct {
	ProductID   string `json:"product_id" validate:"required"`
	ProductName string `json:"product_name" validate:"required"`
	Quantity    int    `json:"quantity" validate:"required,gte=1"`
	UnitPrice   int64  `json:"unit_price" validate:"gte=0"`
}

// CreateOrderRequest is the JSON request body for creating an order.
type CreateOrderRequest struct {
	CustomerID      string                  `json:"customer_id" validate:"required"`
	Items           []CreateLineItemRequest `json:"items" validate:"required,min=1,dive"`
	PaymentMethod   string                  `json:"payment_method"`
	ShippingAddress *domain.Address         `json:"shipping_address"`
	BillingAddress  *domain.Address         `json:"billing_address"`
	Metadata        map[string]any          `json:"metadata"`
}

// TransitionRequest is the JSON request body for a state transition. Actor
// and trigger_source attribute the resulting audit record; payment fields are
// stamped onto the order together with a transition to PAID.
type TransitionRequest struct {
	Status               string         `json:"status" validate:"required"`
	Actor                string         `json:"actor"`
	TriggerSource        string         `json:"trigger_source"`
	Notes                string         `json:"notes"`
	Metadata             map[string]any `json:"metadata"`
	PaymentMethod        string         `json:"payment_method"`
	PaymentTransactionID string         `json:"payment_transaction_id"`
}

// UpdateShippingRequest is the JSON request body for setting tracking details.
// Metadata is merged into the entity's existing map, not replaced.
type UpdateShippingRequest struct {
	TrackingNumber string         `json:"tracking_number" validate:"required"`
	Carrier        string         `json:"carrier" validate:"required"`
	Metadata       map[string]any `json:"metadata"`
}

// HistoryResponse is the payload for audit trail reads.
type HistoryResponse struct {
	Items []domain.StateHistory `json:"items"`
	Count int                   `json:"count"`
}

// --- Handlers ---

// CreateOrder handles POST /api/v1/orders
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadBody(w, err)
		return
	}
	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	items := make([]service.CreateLineItemInput, len(req.Items))
	for i, item := range req.Items {
		items[i] = service.CreateLineItemInput{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		}
	}

	input := service.CreateOrderInput{
		CustomerID:      req.CustomerID,
		Items:           items,
		PaymentMethod:   req.PaymentMethod,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		Metadata:        req.Metadata,
	}

	order, err := h.service.Create(r.Context(), input, domain.AuditContext{
		Actor:     req.CustomerID,
		Trigger:   domain.TriggerAPI,
		IPAddress: clientIP(r),
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: order})
}

// ListOrders handles GET /api/v1/orders
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	params, err := pagination.ParseRequest(r)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	filter := repository.OrderFilter{
		Page:     params.Page,
		PageSize: params.PageSize,
	}
	if v := r.URL.Query().Get("customer_id"); v != "" {
		filter.CustomerID = &v
	}
	if v := r.URL.Query().Get("status"); v != "" {
		filter.Status = &v
	}

	orders, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse(orders, total, params.Page, params.PageSize))
}

// GetOrder handles GET /api/v1/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	order, err := h.service.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: order})
}

// TransitionOrder handles PATCH /api/v1/orders/{id}/state
func (h *OrderHandler) TransitionOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadBody(w, err)
		return
	}
	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	input := service.TransitionOrderInput{
		Status:               req.Status,
		PaymentMethod:        req.PaymentMethod,
		PaymentTransactionID: req.PaymentTransactionID,
	}

	order, err := h.service.TransitionState(r.Context(), id, input, auditFromRequest(r, req.Actor, req.TriggerSource, req.Notes, req.Metadata))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: order})
}

// UpdateOrderShipping handles PATCH /api/v1/orders/{id}/shipping
func (h *OrderHandler) UpdateOrderShipping(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req UpdateShippingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadBody(w, err)
		return
	}
	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	order, err := h.service.UpdateShipping(r.Context(), id, req.TrackingNumber, req.Carrier, req.Metadata)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: order})
}

// OrderHistory handles GET /api/v1/orders/{id}/history (and the /audit alias).
// The full trail is returned without pagination, oldest record first.
func (h *OrderHandler) OrderHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	records, err := h.service.History(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if records == nil {
		records = []domain.StateHistory{}
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: HistoryResponse{Items: records, Count: len(records)}})
}

// --- Shared helpers ---

// pathID validates the {id} path parameter as a UUID. Malformed IDs get a
// 400 here instead of surfacing as a database cast error.
func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return "", false
	}
	return id.String(), true
}

func writeBadBody(w http.ResponseWriter, err error) {
	httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
		Error: &httputil.ErrorResponse{Code: "VALIDATION_ERROR", Message: "invalid request body: " + err.Error()},
	})
}

// auditFromRequest assembles the audit attribution for a mutation: caller
// supplied actor/trigger/notes plus the client IP observed at the edge.
func auditFromRequest(r *http.Request, actor, trigger, notes string, metadata map[string]any) domain.AuditContext {
	return domain.AuditContext{
		Actor:     actor,
		Trigger:   trigger,
		IPAddress: clientIP(r),
		Notes:     notes,
		Metadata:  metadata,
	}
}

// clientIP returns the originating client address, trusting the first entry
// of X-Forwarded-For when present and falling back to the socket peer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if ip := strings.TrimSpace(strings.Split(fwd, ",")[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ContentTypeJSON rejects mutating requests that do not declare a JSON body.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(ct, "application/json") {
				httputil.WriteJSON(w, http.StatusUnsupportedMediaType, httputil.Response{
					Error: &httputil.ErrorResponse{
						Code:    "UNSUPPORTED_MEDIA_TYPE",
						Message: "Content-Type must be application/json",
					},
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
