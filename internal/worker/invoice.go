package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/articurated/orderflow/internal/event"
	"github.com/articurated/orderflow/internal/repository"
	pkgkafka "github.com/articurated/orderflow/pkg/kafka"
)

// InvoiceWorker consumes order.invoice_requested events and stamps a
// generated invoice number onto the order. The stamp in order metadata is the
// durable idempotency marker: replayed events find it set and do nothing.
type InvoiceWorker struct {
	orders repository.OrderRepository
	logger *slog.Logger
}

// NewInvoiceWorker creates the invoice generation worker.
func NewInvoiceWorker(orders repository.OrderRepository, logger *slog.Logger) *InvoiceWorker {
	return &InvoiceWorker{
		orders: orders,
		logger: logger,
	}
}

// Handle processes a single invoice_requested event.
func (w *InvoiceWorker) Handle(ctx context.Context, evt *pkgkafka.Event) error {
	var data event.InvoiceRequestedData
	if err := evt.UnmarshalData(&data); err != nil {
		return fmt.Errorf("unmarshal invoice_requested payload: %w", err)
	}
	if data.OrderID == "" {
		return fmt.Errorf("invoice_requested event %s has no order id", evt.EventID)
	}

	invoiceNumber := newInvoiceNumber()

	stamped, err := w.orders.MarkInvoiceGenerated(ctx, data.OrderID, invoiceNumber)
	if err != nil {
		return fmt.Errorf("mark invoice generated for order %s: %w", data.OrderID, err)
	}
	if !stamped {
		w.logger.InfoContext(ctx, "invoice already generated, skipping",
			slog.String("order_id", data.OrderID),
			slog.String("event_id", evt.EventID),
		)
		return nil
	}

	w.logger.InfoContext(ctx, "invoice generated",
		slog.String("order_id", data.OrderID),
		slog.String("invoice_number", invoiceNumber),
		slog.Int64("total", data.Total),
	)

	return nil
}

func newInvoiceNumber() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	return fmt.Sprintf("INV-%s-%s", time.Now().UTC().Format("20060102"), suffix)
}
