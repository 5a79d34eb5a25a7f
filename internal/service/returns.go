package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/articurated/orderflow/internal/domain"
	"github.com/articurated/orderflow/internal/event"
	"github.com/articurated/orderflow/internal/repository"
	apperrors "github.com/articurated/orderflow/pkg/errors"
)

// ReturnService implements the business logic for return request lifecycle
// operations.
type ReturnService struct {
	repo      repository.ReturnRepository
	orders    repository.OrderRepository
	history   repository.HistoryRepository
	publisher event.Publisher
	hooks     LifecycleHooks
	logger    *slog.Logger
}

// NewReturnService creates a new return request service.
func NewReturnService(
	repo repository.ReturnRepository,
	orders repository.OrderRepository,
	history repository.HistoryRepository,
	publisher event.Publisher,
	hooks LifecycleHooks,
	logger *slog.Logger,
) *ReturnService {
	return &ReturnService{
		repo:      repo,
		orders:    orders,
		history:   history,
		publisher: publisher,
		hooks:     hooks,
		logger:    logger,
	}
}

// CreateReturnInput holds the parameters for creating a return request.
type CreateReturnInput struct {
	OrderID      string              `json:"order_id" validate:"required"`
	Reason       string              `json:"reason" validate:"required"`
	RequestedBy  string              `json:"requested_by" validate:"required"`
	Items        []domain.ReturnItem `json:"items" validate:"required,min=1"`
	RefundAmount int64               `json:"refund_amount" validate:"gte=0"`
	Metadata     map[string]any      `json:"metadata"`
}

// Create constructs a new return request in REQUESTED against an existing,
// delivered order, persisting it with its creation audit record atomically.
func (s *ReturnService) Create(ctx context.Context, input CreateReturnInput, audit domain.AuditContext) (*domain.ReturnRequest, error) {
	if input.OrderID == "" {
		return nil, apperrors.InvalidInput("order_id is required")
	}
	if input.Reason == "" {
		return nil, apperrors.InvalidInput("reason is required")
	}
	if len(input.Items) == 0 {
		return nil, apperrors.InvalidInput("return must reference at least one line item")
	}
	if input.RefundAmount < 0 {
		return nil, apperrors.InvalidInput("refund_amount must not be negative")
	}
	for i, item := range input.Items {
		if item.Quantity <= 0 {
			return nil, apperrors.InvalidInput(fmt.Sprintf("items[%d].quantity must be positive", i))
		}
	}

	order, err := s.orders.GetByID(ctx, input.OrderID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.InvalidInput(fmt.Sprintf("order %s does not exist", input.OrderID))
		}
		return nil, fmt.Errorf("get order for return: %w", err)
	}
	if order.Status != domain.OrderStatusDelivered {
		return nil, apperrors.InvalidInput(fmt.Sprintf(
			"returns can only be requested for delivered orders, order %s is %s",
			order.ID, order.Status,
		))
	}

	now := time.Now().UTC()
	ret := &domain.ReturnRequest{
		ID:           uuid.New().String(),
		OrderID:      input.OrderID,
		Status:       domain.ReturnStatusRequested,
		Reason:       input.Reason,
		RequestedBy:  input.RequestedBy,
		Items:        input.Items,
		RefundAmount: input.RefundAmount,
		Metadata:     input.Metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if audit.Actor == "" {
		audit.Actor = input.RequestedBy
	}
	rec := domain.NewStateHistory(
		domain.Subject{Kind: domain.KindReturn, ID: ret.ID},
		nil,
		string(domain.ReturnStatusRequested),
		audit,
	)

	if err := s.repo.Create(ctx, ret, rec); err != nil {
		return nil, fmt.Errorf("create return request: %w", err)
	}

	entitiesCreated.WithLabelValues(string(domain.KindReturn)).Inc()

	if err := s.publisher.PublishReturnCreated(ctx, ret); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish return.created event",
			slog.String("return_request_id", ret.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "return request created",
		slog.String("return_request_id", ret.ID),
		slog.String("order_id", ret.OrderID),
		slog.Int64("refund_amount", ret.RefundAmount),
	)

	return ret, nil
}

// Get retrieves a return request by its ID.
func (s *ReturnService) Get(ctx context.Context, id string) (*domain.ReturnRequest, error) {
	ret, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get return request by id: %w", err)
	}
	return ret, nil
}

// List returns a filtered, paginated list of return requests.
func (s *ReturnService) List(ctx context.Context, filter repository.ReturnFilter) ([]domain.ReturnRequest, int, error) {
	if filter.Status != nil && !domain.IsValidStatus(domain.KindReturn, *filter.Status) {
		return nil, 0, unknownStatusError(domain.KindReturn, *filter.Status)
	}

	returns, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list return requests: %w", err)
	}
	return returns, total, nil
}

// TransitionState attempts to move the return request to target. See
// OrderService.TransitionState for the concurrency contract; the mechanics
// are identical.
func (s *ReturnService) TransitionState(ctx context.Context, id, target string, audit domain.AuditContext) (*domain.ReturnRequest, error) {
	return s.transition(ctx, id, target, audit, nil)
}

// Approve is sugar over TransitionState to APPROVED that additionally stamps
// the approver identity on the entity before commit.
func (s *ReturnService) Approve(ctx context.Context, id, approvedBy string, audit domain.AuditContext) (*domain.ReturnRequest, error) {
	if approvedBy == "" {
		return nil, apperrors.InvalidInput("approved_by is required")
	}
	if audit.Actor == "" {
		audit.Actor = approvedBy
	}
	return s.transition(ctx, id, string(domain.ReturnStatusApproved), audit, func(r *domain.ReturnRequest) {
		r.ApprovedBy = approvedBy
	})
}

// Reject is sugar over TransitionState to REJECTED that stamps the rejecter
// identity and the rejection reason.
func (s *ReturnService) Reject(ctx context.Context, id, rejectedBy, reason string, audit domain.AuditContext) (*domain.ReturnRequest, error) {
	if rejectedBy == "" {
		return nil, apperrors.InvalidInput("rejected_by is required")
	}
	if reason == "" {
		return nil, apperrors.InvalidInput("rejection reason is required")
	}
	if audit.Actor == "" {
		audit.Actor = rejectedBy
	}
	return s.transition(ctx, id, string(domain.ReturnStatusRejected), audit, func(r *domain.ReturnRequest) {
		r.ApprovedBy = rejectedBy
		r.RejectionReason = reason
	})
}

func (s *ReturnService) transition(ctx context.Context, id, target string, audit domain.AuditContext, stamp func(*domain.ReturnRequest)) (*domain.ReturnRequest, error) {
	if !domain.IsValidStatus(domain.KindReturn, target) {
		return nil, unknownStatusError(domain.KindReturn, target)
	}

	var rec *domain.StateHistory
	ret, err := s.repo.Transition(ctx, id, func(r *domain.ReturnRequest) (*domain.StateHistory, error) {
		if err := domain.ValidateTransition(domain.KindReturn, string(r.Status), target); err != nil {
			return nil, err
		}

		previous := string(r.Status)
		r.Status = domain.ReturnStatus(target)
		if stamp != nil {
			stamp(r)
		}

		rec = domain.NewStateHistory(
			domain.Subject{Kind: domain.KindReturn, ID: r.ID},
			&previous,
			target,
			audit,
		)
		return rec, nil
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidTransition) {
			transitionsRejected.WithLabelValues(string(domain.KindReturn)).Inc()
		}
		return nil, err
	}

	transitionsAccepted.WithLabelValues(string(domain.KindReturn), target).Inc()
	s.hooks.ReturnStateChanged(ret, rec)

	s.logger.InfoContext(ctx, "return request state changed",
		slog.String("return_request_id", id),
		slog.String("previous_state", derefOr(rec.PreviousState, "")),
		slog.String("new_state", rec.NewState),
		slog.String("actor", rec.Actor),
	)

	return ret, nil
}

// UpdateShipping sets the return shipment's tracking details. No audit record
// is written; shipping info is data, not lifecycle state. Metadata merges
// into the return's existing map.
func (s *ReturnService) UpdateShipping(ctx context.Context, id, trackingNumber, carrier string, metadata map[string]any) (*domain.ReturnRequest, error) {
	if trackingNumber == "" {
		return nil, apperrors.InvalidInput("tracking_number is required")
	}
	if carrier == "" {
		return nil, apperrors.InvalidInput("carrier is required")
	}

	if err := s.repo.UpdateShipping(ctx, id, trackingNumber, carrier, metadata); err != nil {
		return nil, fmt.Errorf("update return shipping: %w", err)
	}

	ret, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload return after shipping update: %w", err)
	}
	return ret, nil
}

// History returns the return request's full audit trail, oldest record first.
func (s *ReturnService) History(ctx context.Context, id string) ([]domain.StateHistory, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, fmt.Errorf("get return request for history: %w", err)
	}

	records, err := s.history.ListBySubject(ctx, domain.Subject{Kind: domain.KindReturn, ID: id})
	if err != nil {
		return nil, fmt.Errorf("list return history: %w", err)
	}
	return records, nil
}
