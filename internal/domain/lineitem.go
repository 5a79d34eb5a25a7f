package domain

// LineItem represents a purchased product line within an order. Subtotal is
// computed once at creation time as UnitPrice times Quantity and stored.
type LineItem struct {
	ID          string `json:"id"`
	OrderID     string `json:"order_id"`
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	Subtotal    int64  `json:"subtotal"`
}

// LineTotal returns the price of this line: unit price times quantity.
func (i *LineItem) LineTotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}
