package domain

import (
	apperrors "github.com/articurated/orderflow/pkg/errors"
)

// Kind identifies which state machine governs an entity.
type Kind string

const (
	KindOrder  Kind = "order"
	KindReturn Kind = "return_request"
)

// Order status constants. Statuses are canonical upper-snake strings; the
// values are what the API accepts, the database stores, and the audit trail
// records.
const (
	OrderStatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	OrderStatusPaid           OrderStatus = "PAID"
	OrderStatusProcessing     OrderStatus = "PROCESSING_IN_WAREHOUSE"
	OrderStatusShipped        OrderStatus = "SHIPPED"
	OrderStatusDelivered      OrderStatus = "DELIVERED"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
)

// Return request status constants.
const (
	ReturnStatusRequested ReturnStatus = "REQUESTED"
	ReturnStatusApproved  ReturnStatus = "APPROVED"
	ReturnStatusRejected  ReturnStatus = "REJECTED"
	ReturnStatusInTransit ReturnStatus = "IN_TRANSIT"
	ReturnStatusReceived  ReturnStatus = "RECEIVED"
	ReturnStatusCompleted ReturnStatus = "COMPLETED"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

// ReturnStatus is the lifecycle state of a return request.
type ReturnStatus string

// The transition tables are built once at package init and never mutated;
// concurrent transition evaluations share them read-only. A state with an
// empty successor list is terminal. Self-loops are deliberately absent.
var orderTransitions = map[string][]string{
	string(OrderStatusPendingPayment): {string(OrderStatusPaid), string(OrderStatusCancelled)},
	string(OrderStatusPaid):           {string(OrderStatusProcessing), string(OrderStatusCancelled)},
	string(OrderStatusProcessing):     {string(OrderStatusShipped)},
	string(OrderStatusShipped):        {string(OrderStatusDelivered)},
	string(OrderStatusDelivered):      {},
	string(OrderStatusCancelled):      {},
}

var returnTransitions = map[string][]string{
	string(ReturnStatusRequested): {string(ReturnStatusApproved), string(ReturnStatusRejected)},
	string(ReturnStatusApproved):  {string(ReturnStatusInTransit)},
	string(ReturnStatusRejected):  {},
	string(ReturnStatusInTransit): {string(ReturnStatusReceived)},
	string(ReturnStatusReceived):  {string(ReturnStatusCompleted)},
	string(ReturnStatusCompleted): {},
}

// transitionTable returns the successor-state table for the given kind.
func transitionTable(kind Kind) map[string][]string {
	if kind == KindReturn {
		return returnTransitions
	}
	return orderTransitions
}

// ValidStatuses returns all statuses the given kind's state machine knows about.
func ValidStatuses(kind Kind) []string {
	if kind == KindReturn {
		return []string{
			string(ReturnStatusRequested),
			string(ReturnStatusApproved),
			string(ReturnStatusRejected),
			string(ReturnStatusInTransit),
			string(ReturnStatusReceived),
			string(ReturnStatusCompleted),
		}
	}
	return []string{
		string(OrderStatusPendingPayment),
		string(OrderStatusPaid),
		string(OrderStatusProcessing),
		string(OrderStatusShipped),
		string(OrderStatusDelivered),
		string(OrderStatusCancelled),
	}
}

// IsValidStatus reports whether status is a known state for the given kind.
func IsValidStatus(kind Kind, status string) bool {
	_, ok := transitionTable(kind)[status]
	return ok
}

// AllowedTransitions returns the states directly reachable from current.
// Unknown and terminal states both yield an empty (non-nil) slice, so the
// result can go straight into an error payload.
func AllowedTransitions(kind Kind, current string) []string {
	allowed := transitionTable(kind)[current]
	out := make([]string, len(allowed))
	copy(out, allowed)
	return out
}

// CanTransition reports whether current -> target is a legal transition for
// the given kind. Pure and total: unknown states simply allow nothing.
func CanTransition(kind Kind, current, target string) bool {
	for _, s := range transitionTable(kind)[current] {
		if s == target {
			return true
		}
	}
	return false
}

// ValidateTransition returns nil when current -> target is legal, otherwise
// an INVALID_STATE_TRANSITION error whose details carry the current state,
// the requested state, and the allowed successors of the current state as
// seen at validation time.
func ValidateTransition(kind Kind, current, target string) error {
	if CanTransition(kind, current, target) {
		return nil
	}
	return apperrors.InvalidStateTransition(current, target, AllowedTransitions(kind, current))
}
