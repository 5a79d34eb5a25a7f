package domain

import "time"

// ReturnRequest represents a customer's request to return items from a
// delivered order. Its status moves through the return state machine only;
// approval and rejection stamps are written together with the transition.
type ReturnRequest struct {
	ID                   string         `json:"id"`
	OrderID              string         `json:"order_id"`
	Status               ReturnStatus   `json:"status"`
	Reason               string         `json:"reason"`
	RequestedBy          string         `json:"requested_by"`
	Items                []ReturnItem   `json:"items"`
	RefundAmount         int64          `json:"refund_amount"`
	RefundTransactionID  string         `json:"refund_transaction_id,omitempty"`
	ApprovedBy           string         `json:"approved_by,omitempty"`
	RejectionReason      string         `json:"rejection_reason,omitempty"`
	ReturnTrackingNumber string         `json:"return_tracking_number,omitempty"`
	ReturnCarrier        string         `json:"return_carrier,omitempty"`
	Metadata             map[string]any `json:"metadata,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// ReturnItem identifies an order line item and quantity being returned.
type ReturnItem struct {
	LineItemID string `json:"line_item_id"`
	Quantity   int    `json:"quantity"`
}

// CanTransitionTo checks if the return request can move to the target status.
func (r *ReturnRequest) CanTransitionTo(target ReturnStatus) bool {
	return CanTransition(KindReturn, string(r.Status), string(target))
}

// IsTerminal reports whether the return request can no longer change state.
func (r *ReturnRequest) IsTerminal() bool {
	return len(AllowedTransitions(KindReturn, string(r.Status))) == 0
}

// Refunded reports whether a refund has already been recorded. Used as the
// persisted idempotency marker by the refund worker.
func (r *ReturnRequest) Refunded() bool {
	return r.RefundTransactionID != ""
}
