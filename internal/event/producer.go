package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/articurated/orderflow/internal/domain"
	pkgkafka "github.com/articurated/orderflow/pkg/kafka"
	"github.com/articurated/orderflow/pkg/logger"
)

// Kafka topics for order and return lifecycle events.
const (
	TopicOrderCreated       = "orderflow.order.created"
	TopicOrderStateChanged  = "orderflow.order.state_changed"
	TopicInvoiceRequested   = "orderflow.order.invoice_requested"
	TopicReturnCreated      = "orderflow.return.created"
	TopicReturnStateChanged = "orderflow.return.state_changed"
	TopicRefundRequested    = "orderflow.return.refund_requested"
)

// Aggregate type constants.
const (
	AggregateTypeOrder  = "order"
	AggregateTypeReturn = "return_request"
)

// Source identifier for events originating from this service.
const SourceOrderflow = "orderflow"

// OrderCreatedData is the payload for an order.created event (full order snapshot).
type OrderCreatedData struct {
	ID              string          `json:"id"`
	CustomerID      string          `json:"customer_id"`
	Status          string          `json:"status"`
	LineItems       []LineItemData  `json:"line_items"`
	Subtotal        int64           `json:"subtotal"`
	Tax             int64           `json:"tax"`
	ShippingCost    int64           `json:"shipping_cost"`
	Total           int64           `json:"total"`
	PaymentMethod   string          `json:"payment_method,omitempty"`
	ShippingAddress *domain.Address `json:"shipping_address,omitempty"`
	BillingAddress  *domain.Address `json:"billing_address,omitempty"`
}

// LineItemData is the event payload for an order line item.
type LineItemData struct {
	ID          string `json:"id"`
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	Subtotal    int64  `json:"subtotal"`
}

// StateChangedData is the payload for order/return state_changed events.
type StateChangedData struct {
	SubjectID     string `json:"subject_id"`
	Kind          string `json:"kind"`
	PreviousState string `json:"previous_state"`
	NewState      string `json:"new_state"`
	Actor         string `json:"actor"`
	Trigger       string `json:"trigger"`
}

// InvoiceRequestedData is the payload for an order.invoice_requested event.
type InvoiceRequestedData struct {
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id"`
	Total      int64  `json:"total"`
}

// ReturnCreatedData is the payload for a return.created event.
type ReturnCreatedData struct {
	ID           string `json:"id"`
	OrderID      string `json:"order_id"`
	Status       string `json:"status"`
	Reason       string `json:"reason"`
	RequestedBy  string `json:"requested_by"`
	RefundAmount int64  `json:"refund_amount"`
}

// RefundRequestedData is the payload for a return.refund_requested event.
type RefundRequestedData struct {
	ReturnRequestID string `json:"return_request_id"`
	OrderID         string `json:"order_id"`
	RefundAmount    int64  `json:"refund_amount"`
}

// Publisher is the interface services depend on for event publishing,
// satisfied by *Producer in production and by mocks in tests.
type Publisher interface {
	PublishOrderCreated(ctx context.Context, order *domain.Order) error
	PublishReturnCreated(ctx context.Context, ret *domain.ReturnRequest) error
	PublishStateChanged(ctx context.Context, rec *domain.StateHistory) error
	PublishInvoiceRequested(ctx context.Context, order *domain.Order) error
	PublishRefundRequested(ctx context.Context, ret *domain.ReturnRequest) error
}

// Producer publishes lifecycle events to Kafka.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishOrderCreated publishes an order.created event with the full order snapshot.
func (p *Producer) PublishOrderCreated(ctx context.Context, order *domain.Order) error {
	items := make([]LineItemData, len(order.LineItems))
	for i, item := range order.LineItems {
		items[i] = LineItemData{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Subtotal:    item.Subtotal,
		}
	}

	data := OrderCreatedData{
		ID:              order.ID,
		CustomerID:      order.CustomerID,
		Status:          string(order.Status),
		LineItems:       items,
		Subtotal:        order.Subtotal,
		Tax:             order.Tax,
		ShippingCost:    order.ShippingCost,
		Total:           order.Total,
		PaymentMethod:   order.PaymentMethod,
		ShippingAddress: order.ShippingAddress,
		BillingAddress:  order.BillingAddress,
	}

	return p.publish(ctx, TopicOrderCreated, order.ID, AggregateTypeOrder, data)
}

// PublishReturnCreated publishes a return.created event.
func (p *Producer) PublishReturnCreated(ctx context.Context, ret *domain.ReturnRequest) error {
	data := ReturnCreatedData{
		ID:           ret.ID,
		OrderID:      ret.OrderID,
		Status:       string(ret.Status),
		Reason:       ret.Reason,
		RequestedBy:  ret.RequestedBy,
		RefundAmount: ret.RefundAmount,
	}

	return p.publish(ctx, TopicReturnCreated, ret.ID, AggregateTypeReturn, data)
}

// PublishStateChanged publishes a state_changed event on the topic matching
// the subject kind.
func (p *Producer) PublishStateChanged(ctx context.Context, rec *domain.StateHistory) error {
	topic := TopicOrderStateChanged
	aggregateType := AggregateTypeOrder
	if rec.Subject.Kind == domain.KindReturn {
		topic = TopicReturnStateChanged
		aggregateType = AggregateTypeReturn
	}

	previous := ""
	if rec.PreviousState != nil {
		previous = *rec.PreviousState
	}

	data := StateChangedData{
		SubjectID:     rec.Subject.ID,
		Kind:          string(rec.Subject.Kind),
		PreviousState: previous,
		NewState:      rec.NewState,
		Actor:         rec.Actor,
		Trigger:       rec.Trigger,
	}

	return p.publish(ctx, topic, rec.Subject.ID, aggregateType, data)
}

// PublishInvoiceRequested publishes an order.invoice_requested event for the
// invoice worker.
func (p *Producer) PublishInvoiceRequested(ctx context.Context, order *domain.Order) error {
	data := InvoiceRequestedData{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Total:      order.Total,
	}

	return p.publish(ctx, TopicInvoiceRequested, order.ID, AggregateTypeOrder, data)
}

// PublishRefundRequested publishes a return.refund_requested event for the
// refund worker.
func (p *Producer) PublishRefundRequested(ctx context.Context, ret *domain.ReturnRequest) error {
	data := RefundRequestedData{
		ReturnRequestID: ret.ID,
		OrderID:         ret.OrderID,
		RefundAmount:    ret.RefundAmount,
	}

	return p.publish(ctx, TopicRefundRequested, ret.ID, AggregateTypeReturn, data)
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID, aggregateType string, data any) error {
	event, err := pkgkafka.NewEvent(topic, aggregateID, aggregateType, SourceOrderflow, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	event.WithMetadata("schema", "v1")
	if cid := logger.CorrelationIDFromContext(ctx); cid != "" {
		event.WithCorrelationID(cid)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "event published",
		slog.String("topic", topic),
		slog.String("aggregate_id", aggregateID),
	)

	return nil
}
