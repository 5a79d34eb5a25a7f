package domain

import "time"

// Order represents a customer order moving through its fulfillment lifecycle.
// Status is only ever mutated through the service layer's transition path;
// nothing else writes it.
type Order struct {
	ID                   string         `json:"id"`
	CustomerID           string         `json:"customer_id"`
	Status               OrderStatus    `json:"status"`
	LineItems            []LineItem     `json:"line_items"`
	Subtotal             int64          `json:"subtotal"`
	Tax                  int64          `json:"tax"`
	ShippingCost         int64          `json:"shipping_cost"`
	Total                int64          `json:"total"`
	PaymentMethod        string         `json:"payment_method,omitempty"`
	PaymentTransactionID string         `json:"payment_transaction_id,omitempty"`
	ShippingAddress      *Address       `json:"shipping_address,omitempty"`
	BillingAddress       *Address       `json:"billing_address,omitempty"`
	TrackingNumber       string         `json:"tracking_number,omitempty"`
	Carrier              string         `json:"carrier,omitempty"`
	Metadata             map[string]any `json:"metadata,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// Address represents a shipping or billing address.
type Address struct {
	FullName    string `json:"full_name"`
	AddressLine string `json:"address_line"`
	City        string `json:"city"`
	State       string `json:"state"`
	PostalCode  string `json:"postal_code"`
	Country     string `json:"country"`
	Phone       string `json:"phone,omitempty"`
}

// CanTransitionTo checks if the order can transition to the target status.
func (o *Order) CanTransitionTo(target OrderStatus) bool {
	return CanTransition(KindOrder, string(o.Status), string(target))
}

// IsTerminal reports whether the order has reached a state with no successors.
func (o *Order) IsTerminal() bool {
	return len(AllowedTransitions(KindOrder, string(o.Status))) == 0
}

// InvoiceGenerated reports whether the invoice worker has already stamped
// this order. Used as the persisted idempotency marker for replayed jobs.
func (o *Order) InvoiceGenerated() bool {
	if o.Metadata == nil {
		return false
	}
	v, ok := o.Metadata["invoice_generated"].(bool)
	return ok && v
}
