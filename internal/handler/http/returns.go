package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/articurated/orderflow/internal/domain"
	"github.com/articurated/orderflow/internal/repository"
	"github.com/articurated/orderflow/internal/service"
	"github.com/articurated/orderflow/pkg/httputil"
	"github.com/articurated/orderflow/pkg/pagination"
	"github.com/articurated/orderflow/pkg/validator"
)

// ReturnHandler handles HTTP requests for return request endpoints.
type ReturnHandler struct {
	service *service.ReturnService
	logger  *slog.Logger
}

// NewReturnHandler creates a new return request HTTP handler.
func NewReturnHandler(svc *service.ReturnService, logger *slog.Logger) *ReturnHandler {
	return &ReturnHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// ReturnItemRequest identifies one order line item and quantity being returned.
type ReturnItemRequest struct {
	LineItemID string `json:"line_item_id" validate:"required"`
	Quantity   int    `json:"quantity" validate:"required,gte=1"`
}

// CreateReturnRequest is the JSON request body for creating a return request.
type CreateReturnRequest struct {
	OrderID      string              `json:"order_id" validate:"required"`
	Reason       string              `json:"reason" validate:"required"`
	RequestedBy  string              `json:"requested_by" validate:"required"`
	Items        []ReturnItemRequest `json:"items" validate:"required,min=1,dive"`
	RefundAmount int64               `json:"refund_amount" validate:"gte=0"`
	Metadata     map[string]any      `json:"metadata"`
}

// ApproveReturnRequest is the JSON request body for approving a return.
type ApproveReturnRequest struct {
	ApprovedBy string `json:"approved_by" validate:"required"`
	Notes      string `json:"notes"`
}

// RejectReturnRequest is the JSON request body for rejecting a return.
type RejectReturnRequest struct {
	RejectedBy string `json:"rejected_by" validate:"required"`
	Reason     string `json:"reason" validate:"required"`
	Notes      string `json:"notes"`
}

// --- Handlers ---

// CreateReturn handles POST /api/v1/returns
func (h *ReturnHandler) CreateReturn(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req CreateReturnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadBody(w, err)
		return
	}
	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	items := make([]domain.ReturnItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = domain.ReturnItem{
			LineItemID: item.LineItemID,
			Quantity:   item.Quantity,
		}
	}

	input := service.CreateReturnInput{
		OrderID:      req.OrderID,
		Reason:       req.Reason,
		RequestedBy:  req.RequestedBy,
		Items:        items,
		RefundAmount: req.RefundAmount,
		Metadata:     req.Metadata,
	}

	ret, err := h.service.Create(r.Context(), input, domain.AuditContext{
		Actor:     req.RequestedBy,
		Trigger:   domain.TriggerAPI,
		IPAddress: clientIP(r),
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: ret})
}

// ListReturns handles GET /api/v1/returns
func (h *ReturnHandler) ListReturns(w http.ResponseWriter, r *http.Request) {
	params, err := pagination.ParseRequest(r)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	filter := repository.ReturnFilter{
		Page:     params.Page,
		PageSize: params.PageSize,
	}
	if v := r.URL.Query().Get("order_id"); v != "" {
		filter.OrderID = &v
	}
	if v := r.URL.Query().Get("status"); v != "" {
		filter.Status = &v
	}

	returns, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse(returns, total, params.Page, params.PageSize))
}

// GetReturn handles GET /api/v1/returns/{id}
func (h *ReturnHandler) GetReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ret, err := h.service.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: ret})
}

// TransitionReturn handles PATCH /api/v1/returns/{id}/state
func (h *ReturnHandler) TransitionReturn(w http.ResponseWriter, r *http.Request) {
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

	ret, err := h.service.TransitionState(r.Context(), id, req.Status, auditFromRequest(r, req.Actor, req.TriggerSource, req.Notes, req.Metadata))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: ret})
}

// ApproveReturn handles PATCH /api/v1/returns/{id}/approve
func (h *ReturnHandler) ApproveReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req ApproveReturnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadBody(w, err)
		return
	}
	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	ret, err := h.service.Approve(r.Context(), id, req.ApprovedBy, auditFromRequest(r, req.ApprovedBy, domain.TriggerAPI, req.Notes, nil))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: ret})
}

// RejectReturn handles PATCH /api/v1/returns/{id}/reject
func (h *ReturnHandler) RejectReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req RejectReturnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadBody(w, err)
		return
	}
	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	ret, err := h.service.Reject(r.Context(), id, req.RejectedBy, req.Reason, auditFromRequest(r, req.RejectedBy, domain.TriggerAPI, req.Notes, nil))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: ret})
}

// UpdateReturnShipping handles PATCH /api/v1/returns/{id}/shipping
func (h *ReturnHandler) UpdateReturnShipping(w http.ResponseWriter, r *http.Request) {
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

	ret, err := h.service.UpdateShipping(r.Context(), id, req.TrackingNumber, req.Carrier, req.Metadata)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: ret})
}

// ReturnHistory handles GET /api/v1/returns/{id}/history (and the /audit alias).
func (h *ReturnHandler) ReturnHistory(w http.ResponseWriter, r *http.Request) {
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
