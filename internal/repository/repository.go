package repository

import (
	"context"

	"github.com/articurated/orderflow/internal/domain"
)

// OrderFilter defines filter criteria for listing orders.
type OrderFilter struct {
	CustomerID *string
	Status     *string
	Page       int
	PageSize   int
}

// ReturnFilter defines filter criteria for listing return requests.
type ReturnFilter struct {
	OrderID  *string
	Status   *string
	Page     int
	PageSize int
}

// OrderApplyFunc validates and mutates an order that is row-locked inside a
// transaction. It returns the audit record to persist alongside the mutation,
// or an error to abort the whole unit of work.
type OrderApplyFunc func(o *domain.Order) (*domain.StateHistory, error)

// ReturnApplyFunc is the return-request counterpart of OrderApplyFunc.
type ReturnApplyFunc func(r *domain.ReturnRequest) (*domain.StateHistory, error)

// OrderRepository defines the interface for order persistence operations.
type OrderRepository interface {
	// Create inserts a new order, its line items, and its creation audit
	// record in a single transaction.
	Create(ctx context.Context, order *domain.Order, history *domain.StateHistory) error

	// GetByID retrieves an order by its unique identifier, including line items.
	GetByID(ctx context.Context, id string) (*domain.Order, error)

	// List returns orders matching the given filter along with the total count.
	List(ctx context.Context, filter OrderFilter) ([]domain.Order, int, error)

	// Transition locks the order row, runs apply against the current state,
	// and commits the status update together with the audit record apply
	// returned. If apply errors, nothing is persisted.
	Transition(ctx context.Context, id string, apply OrderApplyFunc) (*domain.Order, error)

	// UpdateShipping sets tracking details without recording a state change.
	// Metadata is merged into the existing map, not replaced.
	UpdateShipping(ctx context.Context, id, trackingNumber, carrier string, metadata map[string]any) error

	// MarkInvoiceGenerated idempotently stamps the invoice marker and number
	// into order metadata. It returns false when the marker was already set.
	MarkInvoiceGenerated(ctx context.Context, id, invoiceNumber string) (bool, error)
}

// ReturnRepository defines the interface for return request persistence.
type ReturnRepository interface {
	// Create inserts a new return request and its creation audit record in a
	// single transaction.
	Create(ctx context.Context, ret *domain.ReturnRequest, history *domain.StateHistory) error

	// GetByID retrieves a return request by its unique identifier.
	GetByID(ctx context.Context, id string) (*domain.ReturnRequest, error)

	// List returns return requests matching the filter with the total count.
	List(ctx context.Context, filter ReturnFilter) ([]domain.ReturnRequest, int, error)

	// Transition locks the return request row, runs apply, and commits the
	// mutation together with the audit record. Approval and rejection stamps
	// set by apply are persisted in the same statement as the status.
	Transition(ctx context.Context, id string, apply ReturnApplyFunc) (*domain.ReturnRequest, error)

	// UpdateShipping sets return tracking details without an audit record.
	// Metadata is merged into the existing map, not replaced.
	UpdateShipping(ctx context.Context, id, trackingNumber, carrier string, metadata map[string]any) error

	// RecordRefund idempotently stores the refund transaction id. It returns
	// false when a refund was already recorded for this return request.
	RecordRefund(ctx context.Context, id, transactionID string) (bool, error)
}

// HistoryRepository reads the append-only audit trail. There is deliberately
// no update or delete operation.
type HistoryRepository interface {
	// ListBySubject returns every audit record for the subject, oldest first.
	ListBySubject(ctx context.Context, subject domain.Subject) ([]domain.StateHistory, error)
}
