package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStateHistory_CreationRecord(t *testing.T) {
	subject := Subject{Kind: KindOrder, ID: "order-1"}
	rec := NewStateHistory(subject, nil, string(OrderStatusPendingPayment), AuditContext{
		Actor:     "customer-42",
		IPAddress: "10.0.0.1",
	})

	require.NotNil(t, rec)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, subject, rec.Subject)
	assert.Nil(t, rec.PreviousState)
	assert.Equal(t, "PENDING_PAYMENT", rec.NewState)
	assert.Equal(t, "customer-42", rec.Actor)
	assert.Equal(t, TriggerAPI, rec.Trigger)
	assert.Equal(t, "10.0.0.1", rec.IPAddress)
	assert.WithinDuration(t, time.Now().UTC(), rec.OccurredAt, time.Second)
}

func TestNewStateHistory_DefaultsActorToSystem(t *testing.T) {
	prev := string(OrderStatusShipped)
	rec := NewStateHistory(Subject{Kind: KindOrder, ID: "order-1"}, &prev, string(OrderStatusDelivered), AuditContext{})

	assert.Equal(t, ActorSystem, rec.Actor)
	assert.Equal(t, TriggerAPI, rec.Trigger)
	require.NotNil(t, rec.PreviousState)
	assert.Equal(t, "SHIPPED", *rec.PreviousState)
}

func TestNewStateHistory_KeepsExplicitTrigger(t *testing.T) {
	prev := string(ReturnStatusReceived)
	rec := NewStateHistory(Subject{Kind: KindReturn, ID: "ret-1"}, &prev, string(ReturnStatusCompleted), AuditContext{
		Trigger: TriggerBackgroundJob,
		Notes:   "auto-completed after inspection",
	})

	assert.Equal(t, TriggerBackgroundJob, rec.Trigger)
	assert.Equal(t, "auto-completed after inspection", rec.Notes)
	assert.Equal(t, KindReturn, rec.Subject.Kind)
}

func TestNewStateHistory_UniqueIDs(t *testing.T) {
	subject := Subject{Kind: KindOrder, ID: "order-1"}
	a := NewStateHistory(subject, nil, "PENDING_PAYMENT", AuditContext{})
	b := NewStateHistory(subject, nil, "PENDING_PAYMENT", AuditContext{})
	assert.NotEqual(t, a.ID, b.ID)
}

func TestLineItem_LineTotal(t *testing.T) {
	item := &LineItem{UnitPrice: 2500, Quantity: 2}
	assert.Equal(t, int64(5000), item.LineTotal())

	zero := &LineItem{UnitPrice: 999, Quantity: 0}
	assert.Equal(t, int64(0), zero.LineTotal())
}

func TestOrder_InvoiceGenerated(t *testing.T) {
	o := &Order{}
	assert.False(t, o.InvoiceGenerated())

	o.Metadata = map[string]any{"invoice_generated": false}
	assert.False(t, o.InvoiceGenerated())

	o.Metadata["invoice_generated"] = true
	assert.True(t, o.InvoiceGenerated())
}

func TestReturnRequest_Refunded(t *testing.T) {
	r := &ReturnRequest{}
	assert.False(t, r.Refunded())

	r.RefundTransactionID = "txn-refund-1"
	assert.True(t, r.Refunded())
}
