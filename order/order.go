// Package order holds the storefront order as the payment core sees it: the
// payment status state machine, return orders and recorded refunds, plus the
// stores that persist them.
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mstgnz/storepay/provider"
	"github.com/shopspring/decimal"
)

// PaymentStatus is the payment side of an order's lifecycle
type PaymentStatus string

const (
	StatusPending  PaymentStatus = "pending"
	StatusPaid     PaymentStatus = "paid"
	StatusFailed   PaymentStatus = "failed"
	StatusRefunded PaymentStatus = "refunded"
)

var (
	// ErrInvalidTransition is returned for any status change the state machine does not allow
	ErrInvalidTransition = errors.New("invalid payment status transition")

	// ErrNotFound wraps provider.ErrNotFound so the HTTP layer maps both the same way
	ErrNotFound = fmt.Errorf("order %w", provider.ErrNotFound)

	ErrReturnNotFound = fmt.Errorf("return order %w", provider.ErrNotFound)
	ErrRefundNotFound = fmt.Errorf("refund %w", provider.ErrNotFound)

	// ErrDuplicateRefund rejects a second refund record for the same return
	ErrDuplicateRefund = fmt.Errorf("%w: return already has a refund", provider.ErrPrecondition)
)

// transitions lists every allowed move. failed is terminal; a new order is
// needed to pay again.
var transitions = map[PaymentStatus][]PaymentStatus{
	StatusPending: {StatusPaid, StatusFailed},
	StatusPaid:    {StatusRefunded},
}

// CanTransition reports whether the state machine allows from -> to
func CanTransition(from, to PaymentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Order is the subset of a storefront order the payment core reads and writes.
// Only PaymentStatus, PaymentID, PaymentDetails and PaymentAttempts are written
// here; the rest belongs to the order workflow.
type Order struct {
	ID              int64             `json:"id"`
	Total           decimal.Decimal   `json:"total"`
	PaymentMethod   string            `json:"paymentMethod"`
	PaymentStatus   PaymentStatus     `json:"paymentStatus"`
	PaymentID       string            `json:"paymentId,omitempty"`
	PaymentDetails  map[string]any    `json:"paymentDetails,omitempty"`
	PaymentAttempts int               `json:"paymentAttempts"`
	Customer        provider.Customer `json:"customer"`
	ShippingAddress *provider.Address `json:"shippingAddress,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// GetPaymentMethod lets the gateway factory resolve an order directly
func (o *Order) GetPaymentMethod() string {
	return o.PaymentMethod
}

// BillingCustomer returns the customer with the shipping address as billing address
func (o *Order) BillingCustomer() provider.Customer {
	c := o.Customer
	if c.Address == nil && o.ShippingAddress != nil {
		addr := *o.ShippingAddress
		c.Address = &addr
	}
	return c
}

// ReturnItem is one line of a return request
type ReturnItem struct {
	ID        int64           `json:"id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Approved  bool            `json:"approved"`
}

// Subtotal is quantity times unit price
func (i ReturnItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ReturnOrder is a customer's return request against an order
type ReturnOrder struct {
	ID         int64        `json:"id"`
	OrderID    int64        `json:"orderId"`
	Reason     string       `json:"reason"`
	Status     string       `json:"status"`
	Items      []ReturnItem `json:"items"`
	RefundedAt *time.Time   `json:"refundedAt,omitempty"`
	CreatedAt  time.Time    `json:"createdAt"`
}

// ApprovedTotal sums the approved lines, rounded to two decimals
func (r *ReturnOrder) ApprovedTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range r.Items {
		if item.Approved {
			total = total.Add(item.Subtotal())
		}
	}
	return total.Round(2)
}

// Refund is a successful refund against an order
type Refund struct {
	ID              string          `json:"id"`
	OrderID         int64           `json:"orderId"`
	ReturnID        int64           `json:"returnId,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Reason          string          `json:"reason,omitempty"`
	GatewayRefundID string          `json:"gatewayRefundId,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// PaymentUpdate carries the fields written together with a status change
type PaymentUpdate struct {
	PaymentID string
	Details   map[string]any
}

// Store persists orders, returns and refunds
type Store interface {
	CreateOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, id int64) (*Order, error)

	// TransitionPayment moves the order from `from` to `to` only while it is still
	// in `from`, writing update with it. It reports false, with no error, when the
	// order had already left `from`.
	TransitionPayment(ctx context.Context, id int64, from, to PaymentStatus, update PaymentUpdate) (bool, error)

	// MergePaymentDetails adds details to the stored ones without touching the status
	MergePaymentDetails(ctx context.Context, id int64, details map[string]any) error

	// IncrementAttempts bumps the attempt counter and returns the new value
	IncrementAttempts(ctx context.Context, id int64) (int, error)

	// StalePending lists pending orders with at least one attempt last updated before cutoff
	StalePending(ctx context.Context, cutoff time.Time) ([]Order, error)

	// AddRefund records a successful refund. A return is refunded at most once, so
	// a second record with the same non-zero ReturnID fails with ErrDuplicateRefund.
	AddRefund(ctx context.Context, r *Refund) error
	RefundedTotal(ctx context.Context, orderID int64) (decimal.Decimal, error)

	// ReturnRefund returns the refund recorded for a return, or ErrRefundNotFound
	ReturnRefund(ctx context.Context, returnID int64) (*Refund, error)

	CreateReturn(ctx context.Context, r *ReturnOrder) error
	GetReturn(ctx context.Context, id int64) (*ReturnOrder, error)
	MarkReturnRefunded(ctx context.Context, id int64, at time.Time) error

	Ping(ctx context.Context) error
	Close() error
}

// now is the store clock
var now = func() time.Time { return time.Now().UTC() }

func newRefundID() string {
	return "rf_" + uuid.NewString()
}

func checkTransition(from, to PaymentStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// MergeDetails returns base overlaid with extra. Neither input is modified.
func MergeDetails(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
