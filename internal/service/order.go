package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/articurated/orderflow/internal/domain"
	"github.com/articurated/orderflow/internal/event"
	"github.com/articurated/orderflow/internal/repository"
	apperrors "github.com/articurated/orderflow/pkg/errors"
)

// Pricing defaults, overridable through configuration.
const (
	DefaultTaxRateBPS   = 1000 // 10%
	DefaultShippingFlat = 1000 // $10.00 in cents
)

// LifecycleHooks receives committed state changes for post-commit event
// dispatch. Satisfied by *event.Hooks.
type LifecycleHooks interface {
	OrderStateChanged(order *domain.Order, rec *domain.StateHistory)
	ReturnStateChanged(ret *domain.ReturnRequest, rec *domain.StateHistory)
}

// Pricing holds the tax and shipping parameters applied at order creation.
type Pricing struct {
	TaxRateBPS   int64
	ShippingFlat int64
}

// OrderService implements the business logic for order lifecycle operations.
// It is the only component that mutates an order's status.
type OrderService struct {
	repo      repository.OrderRepository
	history   repository.HistoryRepository
	publisher event.Publisher
	hooks     LifecycleHooks
	pricing   Pricing
	logger    *slog.Logger
}

// NewOrderService creates a new order service.
func NewOrderService(
	repo repository.OrderRepository,
	history repository.HistoryRepository,
	publisher event.Publisher,
	hooks LifecycleHooks,
	pricing Pricing,
	logger *slog.Logger,
) *OrderService {
	// Zero is a deliberate configuration (tax-free jurisdictions, free
	// shipping promotions); only negative values mean unset.
	if pricing.TaxRateBPS < 0 {
		pricing.TaxRateBPS = DefaultTaxRateBPS
	}
	if pricing.ShippingFlat < 0 {
		pricing.ShippingFlat = DefaultShippingFlat
	}
	return &OrderService{
		repo:      repo,
		history:   history,
		publisher: publisher,
		hooks:     hooks,
		pricing:   pricing,
		logger:    logger,
	}
}

// CreateLineItemInput holds the parameters for one order line item.
type CreateLineItemInput struct {
	ProductID   string `json:"product_id" validate:"required"`
	ProductName string `json:"product_name" validate:"required"`
	Quantity    int    `json:"quantity" validate:"required,gt=0"`
	UnitPrice   int64  `json:"unit_price" validate:"gte=0"`
}

// CreateOrderInput holds the parameters for creating an order.
type CreateOrderInput struct {
	CustomerID      string                `json:"customer_id" validate:"required"`
	Items           []CreateLineItemInput `json:"items" validate:"required,min=1,dive"`
	PaymentMethod   string                `json:"payment_method"`
	ShippingAddress *domain.Address       `json:"shipping_address"`
	BillingAddress  *domain.Address       `json:"billing_address"`
	Metadata        map[string]any        `json:"metadata"`
}

// TransitionOrderInput holds the parameters for an order state transition.
// Payment fields are optional stamps written together with the status change
// (typically by a payment webhook moving the order to PAID).
type TransitionOrderInput struct {
	Status               string `json:"status" validate:"required"`
	PaymentMethod        string `json:"payment_method"`
	PaymentTransactionID string `json:"payment_transaction_id"`
}

// Create constructs a new order in PENDING_PAYMENT, computes pricing once,
// and persists the order together with its creation audit record atomically.
func (s *OrderService) Create(ctx context.Context, input CreateOrderInput, audit domain.AuditContext) (*domain.Order, error) {
	if input.CustomerID == "" {
		return nil, apperrors.InvalidInput("customer_id is required")
	}
	if len(input.Items) == 0 {
		return nil, apperrors.InvalidInput("order must contain at least one line item")
	}

	now := time.Now().UTC()
	orderID := uuid.New().String()

	var subtotal int64
	items := make([]domain.LineItem, len(input.Items))
	for i, in := range input.Items {
		if in.Quantity <= 0 {
			return nil, apperrors.InvalidInput(fmt.Sprintf("items[%d].quantity must be positive", i))
		}
		if in.UnitPrice < 0 {
			return nil, apperrors.InvalidInput(fmt.Sprintf("items[%d].unit_price must not be negative", i))
		}
		items[i] = domain.LineItem{
			ID:          uuid.New().String(),
			OrderID:     orderID,
			ProductID:   in.ProductID,
			ProductName: in.ProductName,
			Quantity:    in.Quantity,
			UnitPrice:   in.UnitPrice,
			Subtotal:    in.UnitPrice * int64(in.Quantity),
		}
		subtotal += items[i].Subtotal
	}

	// Pricing is computed exactly once here. Later transitions never
	// recompute totals.
	tax := subtotal * s.pricing.TaxRateBPS / 10000
	shipping := s.pricing.ShippingFlat

	order := &domain.Order{
		ID:              orderID,
		CustomerID:      input.CustomerID,
		Status:          domain.OrderStatusPendingPayment,
		LineItems:       items,
		Subtotal:        subtotal,
		Tax:             tax,
		ShippingCost:    shipping,
		Total:           subtotal + tax + shipping,
		PaymentMethod:   input.PaymentMethod,
		ShippingAddress: input.ShippingAddress,
		BillingAddress:  input.BillingAddress,
		Metadata:        input.Metadata,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if audit.Actor == "" {
		audit.Actor = input.CustomerID
	}
	rec := domain.NewStateHistory(
		domain.Subject{Kind: domain.KindOrder, ID: orderID},
		nil,
		string(domain.OrderStatusPendingPayment),
		audit,
	)

	if err := s.repo.Create(ctx, order, rec); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	entitiesCreated.WithLabelValues(string(domain.KindOrder)).Inc()

	if err := s.publisher.PublishOrderCreated(ctx, order); err != nil {
		// Event delivery never fails the committed creation.
		s.logger.ErrorContext(ctx, "failed to publish order.created event",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "order created",
		slog.String("order_id", order.ID),
		slog.String("customer_id", order.CustomerID),
		slog.Int64("total", order.Total),
	)

	return order, nil
}

// Get retrieves an order by its ID.
func (s *OrderService) Get(ctx context.Context, id string) (*domain.Order, error) {
	order, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order by id: %w", err)
	}
	return order, nil
}

// List returns a filtered, paginated list of orders with the total count.
func (s *OrderService) List(ctx context.Context, filter repository.OrderFilter) ([]domain.Order, int, error) {
	if filter.Status != nil && !domain.IsValidStatus(domain.KindOrder, *filter.Status) {
		return nil, 0, unknownStatusError(domain.KindOrder, *filter.Status)
	}

	orders, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	return orders, total, nil
}

// TransitionState attempts to move the order to input.Status. Validation runs
// against the row-locked current state inside the repository transaction, so
// concurrent transitions serialize and losers revalidate against the state the
// winner committed. On success the status change and its audit record are
// already durable before any event is dispatched.
func (s *OrderService) TransitionState(ctx context.Context, id string, input TransitionOrderInput, audit domain.AuditContext) (*domain.Order, error) {
	if !domain.IsValidStatus(domain.KindOrder, input.Status) {
		return nil, unknownStatusError(domain.KindOrder, input.Status)
	}

	var rec *domain.StateHistory
	order, err := s.repo.Transition(ctx, id, func(o *domain.Order) (*domain.StateHistory, error) {
		if err := domain.ValidateTransition(domain.KindOrder, string(o.Status), input.Status); err != nil {
			return nil, err
		}

		previous := string(o.Status)
		o.Status = domain.OrderStatus(input.Status)
		if input.PaymentMethod != "" {
			o.PaymentMethod = input.PaymentMethod
		}
		if input.PaymentTransactionID != "" {
			o.PaymentTransactionID = input.PaymentTransactionID
		}

		rec = domain.NewStateHistory(
			domain.Subject{Kind: domain.KindOrder, ID: o.ID},
			&previous,
			input.Status,
			audit,
		)
		return rec, nil
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidTransition) {
			transitionsRejected.WithLabelValues(string(domain.KindOrder)).Inc()
		}
		return nil, err
	}

	transitionsAccepted.WithLabelValues(string(domain.KindOrder), input.Status).Inc()
	s.hooks.OrderStateChanged(order, rec)

	s.logger.InfoContext(ctx, "order state changed",
		slog.String("order_id", id),
		slog.String("previous_state", derefOr(rec.PreviousState, "")),
		slog.String("new_state", rec.NewState),
		slog.String("actor", rec.Actor),
	)

	return order, nil
}

// UpdateShipping sets the order's tracking details. This is a data update,
// not a lifecycle transition: no audit record and no event. Metadata merges
// into the order's existing map.
func (s *OrderService) UpdateShipping(ctx context.Context, id, trackingNumber, carrier string, metadata map[string]any) (*domain.Order, error) {
	if trackingNumber == "" {
		return nil, apperrors.InvalidInput("tracking_number is required")
	}
	if carrier == "" {
		return nil, apperrors.InvalidInput("carrier is required")
	}

	if err := s.repo.UpdateShipping(ctx, id, trackingNumber, carrier, metadata); err != nil {
		return nil, fmt.Errorf("update order shipping: %w", err)
	}

	order, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload order after shipping update: %w", err)
	}
	return order, nil
}

// History returns the order's full audit trail, oldest record first. The
// order must exist; an unknown id is a 404, not an empty list.
func (s *OrderService) History(ctx context.Context, id string) ([]domain.StateHistory, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, fmt.Errorf("get order for history: %w", err)
	}

	records, err := s.history.ListBySubject(ctx, domain.Subject{Kind: domain.KindOrder, ID: id})
	if err != nil {
		return nil, fmt.Errorf("list order history: %w", err)
	}
	return records, nil
}

func unknownStatusError(kind domain.Kind, status string) *apperrors.AppError {
	return apperrors.InvalidInput(fmt.Sprintf(
		"unknown status %q, must be one of: %s",
		status, strings.Join(domain.ValidStatuses(kind), ", "),
	))
}

func derefOr(s *string, fallback string) string {
	if s != nil {
		return *s
	}
	return fallback
}
