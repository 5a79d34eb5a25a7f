package worker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/articurated/orderflow/internal/event"
	pkgkafka "github.com/articurated/orderflow/pkg/kafka"
)

func invoiceEvent(t *testing.T) *pkgkafka.Event {
	t.Helper()
	return mustEvent(t, event.TopicInvoiceRequested, "order-001", event.AggregateTypeOrder,
		event.InvoiceRequestedData{OrderID: "order-001", CustomerID: "customer-001", Total: 6500})
}

func TestInvoiceWorker_Handle_GeneratesInvoice(t *testing.T) {
	orders := new(mockOrderRepository)
	w := NewInvoiceWorker(orders, newTestLogger())

	orders.On("MarkInvoiceGenerated", mock.Anything, "order-001", mock.MatchedBy(func(num string) bool {
		return len(num) > 4 && num[:4] == "INV-"
	})).Return(true, nil)

	err := w.Handle(context.Background(), invoiceEvent(t))

	require.NoError(t, err)
	orders.AssertExpectations(t)
}

func TestInvoiceWorker_Handle_AlreadyGenerated(t *testing.T) {
	orders := new(mockOrderRepository)
	w := NewInvoiceWorker(orders, newTestLogger())

	// Replayed event: the marker is already stamped, nothing else happens.
	orders.On("MarkInvoiceGenerated", mock.Anything, "order-001", mock.Anything).Return(false, nil)

	err := w.Handle(context.Background(), invoiceEvent(t))

	require.NoError(t, err)
	orders.AssertExpectations(t)
}

func TestInvoiceWorker_Handle_RepositoryError(t *testing.T) {
	orders := new(mockOrderRepository)
	w := NewInvoiceWorker(orders, newTestLogger())

	orders.On("MarkInvoiceGenerated", mock.Anything, "order-001", mock.Anything).Return(false, assert.AnError)

	err := w.Handle(context.Background(), invoiceEvent(t))

	assert.Error(t, err)
}

func TestInvoiceWorker_Handle_MalformedPayload(t *testing.T) {
	orders := new(mockOrderRepository)
	w := NewInvoiceWorker(orders, newTestLogger())

	evt := invoiceEvent(t)
	evt.Data = json.RawMessage(`{not json`)

	err := w.Handle(context.Background(), evt)

	assert.Error(t, err)
	orders.AssertNotCalled(t, "MarkInvoiceGenerated", mock.Anything, mock.Anything, mock.Anything)
}

func TestInvoiceWorker_Handle_MissingOrderID(t *testing.T) {
	orders := new(mockOrderRepository)
	w := NewInvoiceWorker(orders, newTestLogger())

	evt := mustEvent(t, event.TopicInvoiceRequested, "", event.AggregateTypeOrder,
		event.InvoiceRequestedData{})

	err := w.Handle(context.Background(), evt)

	assert.Error(t, err)
}
