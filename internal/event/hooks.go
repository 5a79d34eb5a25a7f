package event

import (
	"context"
	"log/slog"
	"time"

	"github.com/articurated/orderflow/internal/domain"
)

// Hooks dispatches follow-up events after a state change has been committed.
// Orders entering SHIPPED request invoice generation and returns entering
// COMPLETED request a refund. Dispatch is asynchronous and best-effort: a
// failed publish is logged and never rolls back the committed transition.
type Hooks struct {
	publisher Publisher
	logger    *slog.Logger
	timeout   time.Duration
}

// NewHooks creates the post-commit hook dispatcher.
func NewHooks(publisher Publisher, logger *slog.Logger) *Hooks {
	return &Hooks{
		publisher: publisher,
		logger:    logger,
		timeout:   10 * time.Second,
	}
}

// OrderStateChanged publishes the state_changed event and any follow-up hook
// for the order's new state.
func (h *Hooks) OrderStateChanged(order *domain.Order, rec *domain.StateHistory) {
	h.fire("state_changed", rec, func(ctx context.Context) error {
		return h.publisher.PublishStateChanged(ctx, rec)
	})

	if rec.NewState == string(domain.OrderStatusShipped) {
		h.fire("invoice_requested", rec, func(ctx context.Context) error {
			return h.publisher.PublishInvoiceRequested(ctx, order)
		})
	}
}

// ReturnStateChanged publishes the state_changed event and any follow-up hook
// for the return's new state.
func (h *Hooks) ReturnStateChanged(ret *domain.ReturnRequest, rec *domain.StateHistory) {
	h.fire("state_changed", rec, func(ctx context.Context) error {
		return h.publisher.PublishStateChanged(ctx, rec)
	})

	if rec.NewState == string(domain.ReturnStatusCompleted) {
		h.fire("refund_requested", rec, func(ctx context.Context) error {
			return h.publisher.PublishRefundRequested(ctx, ret)
		})
	}
}

// fire runs publish on a detached context so an in-flight HTTP request
// finishing does not cancel the event delivery.
func (h *Hooks) fire(name string, rec *domain.StateHistory, publish func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()

		if err := publish(ctx); err != nil {
			h.logger.Error("post-commit event publish failed",
				slog.String("hook", name),
				slog.String("kind", string(rec.Subject.Kind)),
				slog.String("subject_id", rec.Subject.ID),
				slog.String("new_state", rec.NewState),
				slog.String("error", err.Error()),
			)
		}
	}()
}
