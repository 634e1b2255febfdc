// Package cod implements cash on delivery as a gateway that never moves money
// and never calls out.
package cod

import (
	"context"

	"github.com/mstgnz/storepay/provider"
)

// Name is the gateway identifier
const Name = "cod"

// COD implements provider.Gateway
type COD struct{}

// New creates the cash on delivery pseudo-gateway
func New() *COD {
	return &COD{}
}

func (c *COD) Name() string { return Name }

func (c *COD) OrderIDKey() string { return "orderReference" }

// Supports reports no optional features
func (c *COD) Supports(provider.Feature) bool { return false }

// Initiate confirms the order immediately; the cash is collected on delivery
func (c *COD) Initiate(_ context.Context, intent provider.PaymentIntent) (*provider.PaymentResult, error) {
	result := provider.Succeeded(intent.MerchantReference, TransactionID(intent.MerchantReference))
	result.Amount = intent.Amount
	result.Currency = intent.Currency
	result.WithDetail("method", "cash_on_delivery")
	return result, nil
}

func (c *COD) PayWithCard(_ context.Context, intent provider.PaymentIntent, _ provider.CardData) (*provider.PaymentResult, error) {
	return provider.Failed(intent.MerchantReference, "cash on delivery does not accept card payments"), nil
}

func (c *COD) PayWithWallet(_ context.Context, intent provider.PaymentIntent, _ provider.WalletData) (*provider.PaymentResult, error) {
	return provider.Failed(intent.MerchantReference, "cash on delivery does not accept wallet payments"), nil
}

// ValidateConfirmation rejects everything: cash on delivery has no callbacks
func (c *COD) ValidateConfirmation(provider.Confirmation) bool { return false }

func (c *COD) InterpretConfirmation(provider.Confirmation) (*provider.PaymentResult, error) {
	return nil, provider.NewValidationError("gateway", "cash on delivery has no confirmations")
}

// Refund reports that no money needs to be returned through a gateway
func (c *COD) Refund(context.Context, provider.GatewayRefund) (*provider.RefundResult, error) {
	return provider.RefundNotApplicable("cash on delivery orders are refunded outside the payment gateway"), nil
}

// TransactionID is the synthetic transaction id of a cash on delivery order
func TransactionID(reference string) string {
	return "COD-" + reference
}

// Register adds cash on delivery to the gateway factory
func Register(f *provider.Factory) {
	f.Register(Name, func() (provider.Gateway, error) {
		return New(), nil
	})
}
