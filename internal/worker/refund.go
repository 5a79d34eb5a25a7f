package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/articurated/orderflow/internal/event"
	"github.com/articurated/orderflow/internal/payment"
	"github.com/articurated/orderflow/internal/repository"
	pkgkafka "github.com/articurated/orderflow/pkg/kafka"
)

// RefundGateway issues refunds with the payment provider. Satisfied by
// *payment.Gateway.
type RefundGateway interface {
	Refund(ctx context.Context, req payment.RefundRequest) (*payment.RefundResult, error)
}

// RefundWorker consumes return.refund_requested events and issues the refund
// with the payment provider. The refund_transaction_id column is the durable
// idempotency marker: a return that already carries one is never refunded
// again, no matter how often the event is replayed.
type RefundWorker struct {
	returns repository.ReturnRepository
	gateway RefundGateway
	logger  *slog.Logger
}

// NewRefundWorker creates the refund processing worker.
func NewRefundWorker(returns repository.ReturnRepository, gateway RefundGateway, logger *slog.Logger) *RefundWorker {
	return &RefundWorker{
		returns: returns,
		gateway: gateway,
		logger:  logger,
	}
}

// Handle processes a single refund_requested event. Errors propagate so the
// consumer retries with backoff and dead-letters what keeps failing.
func (w *RefundWorker) Handle(ctx context.Context, evt *pkgkafka.Event) error {
	var data event.RefundRequestedData
	if err := evt.UnmarshalData(&data); err != nil {
		return fmt.Errorf("unmarshal refund_requested payload: %w", err)
	}
	if data.ReturnRequestID == "" {
		return fmt.Errorf("refund_requested event %s has no return request id", evt.EventID)
	}

	ret, err := w.returns.GetByID(ctx, data.ReturnRequestID)
	if err != nil {
		return fmt.Errorf("get return request %s: %w", data.ReturnRequestID, err)
	}
	if ret.Refunded() {
		w.logger.InfoContext(ctx, "refund already recorded, skipping",
			slog.String("return_request_id", ret.ID),
			slog.String("transaction_id", ret.RefundTransactionID),
		)
		return nil
	}

	result, err := w.gateway.Refund(ctx, payment.RefundRequest{
		ReturnRequestID: ret.ID,
		OrderID:         ret.OrderID,
		Amount:          ret.RefundAmount,
		Currency:        "USD",
	})
	if err != nil {
		return fmt.Errorf("issue refund for return %s: %w", ret.ID, err)
	}

	recorded, err := w.returns.RecordRefund(ctx, ret.ID, result.TransactionID)
	if err != nil {
		return fmt.Errorf("record refund for return %s: %w", ret.ID, err)
	}
	if !recorded {
		// A concurrent worker won the race after our Refunded check. The
		// provider dedupes on return id, so this is log-worthy but not fatal.
		w.logger.WarnContext(ctx, "refund recorded concurrently elsewhere",
			slog.String("return_request_id", ret.ID),
			slog.String("transaction_id", result.TransactionID),
		)
		return nil
	}

	w.logger.InfoContext(ctx, "refund processed",
		slog.String("return_request_id", ret.ID),
		slog.String("order_id", ret.OrderID),
		slog.String("transaction_id", result.TransactionID),
		slog.Int64("amount", ret.RefundAmount),
	)

	return nil
}
