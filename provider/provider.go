package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/mstgnz/storepay/provider/signature"
	"github.com/shopspring/decimal"
)

// Feature is an optional gateway capability
type Feature string

const (
	FeatureRefunds        Feature = "refunds"
	FeatureWebhooks       Feature = "webhooks"
	FeatureRecurring      Feature = "recurring"
	FeatureCards          Feature = "cards"
	FeatureWallets        Feature = "wallets"
	FeatureHostedCheckout Feature = "hosted_checkout"
)

// PaymentStatus is the outcome of a gateway call as seen by the payment core
type PaymentStatus string

const (
	StatusPaid           PaymentStatus = "paid"
	StatusFailed         PaymentStatus = "failed"
	StatusRequiresAction PaymentStatus = "requires_action"
)

// Gateway is implemented by every payment gateway adapter.
//
// Adapters never return transport problems as errors: timeouts, 5xx responses and
// malformed bodies come back as a failed result carrying the raw response. The
// returned error is reserved for input that is invalid before any call is made.
type Gateway interface {
	// Name returns the gateway identifier used in config, routes and storage
	Name() string

	// Supports reports whether the gateway implements an optional capability
	Supports(feature Feature) bool

	// Initiate starts a checkout, usually by returning a hosted page to redirect to
	Initiate(ctx context.Context, intent PaymentIntent) (*PaymentResult, error)

	// PayWithCard charges card data directly
	PayWithCard(ctx context.Context, intent PaymentIntent, card CardData) (*PaymentResult, error)

	// PayWithWallet starts a mobile wallet payment
	PayWithWallet(ctx context.Context, intent PaymentIntent, wallet WalletData) (*PaymentResult, error)

	// ValidateConfirmation authenticates an inbound redirect or webhook
	ValidateConfirmation(conf Confirmation) bool

	// InterpretConfirmation maps an authenticated confirmation to a result
	InterpretConfirmation(conf Confirmation) (*PaymentResult, error)

	// Refund returns money for a previously captured payment
	Refund(ctx context.Context, req GatewayRefund) (*RefundResult, error)

	// OrderIDKey is the payload field carrying the gateway's own order id
	OrderIDKey() string
}

// Address is a postal address used for billing data
type Address struct {
	Street     string `json:"street"`
	Building   string `json:"building,omitempty"`
	Floor      string `json:"floor,omitempty"`
	Apartment  string `json:"apartment,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country"`
}

// Customer is the buyer as far as gateways need to know
type Customer struct {
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Email     string   `json:"email"`
	Phone     string   `json:"phone,omitempty"`
	Address   *Address `json:"address,omitempty"`
}

// FullName joins first and last name
func (c Customer) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// ReturnURLs are the browser and server callbacks handed to a gateway
type ReturnURLs struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Webhook string `json:"webhook"`
}

// PaymentIntent is created per checkout attempt
type PaymentIntent struct {
	OrderID           int64           `json:"orderId"`
	Attempt           int             `json:"attempt"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Gateway           string          `json:"gateway"`
	MerchantReference string          `json:"merchantReference"`
	ReturnURLs        ReturnURLs      `json:"returnUrls"`
	Customer          Customer        `json:"customer"`
}

// NewPaymentIntent builds an intent for one attempt. The amount is rounded to two
// decimals and must be positive.
func NewPaymentIntent(orderID int64, attempt int, amount decimal.Decimal, currency, gateway, prefix string, urls ReturnURLs, customer Customer) (PaymentIntent, error) {
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return PaymentIntent{}, NewValidationError("amount", "must be greater than zero")
	}
	if currency == "" {
		return PaymentIntent{}, NewValidationError("currency", "is required")
	}
	if attempt < 1 {
		attempt = 1
	}

	return PaymentIntent{
		OrderID:           orderID,
		Attempt:           attempt,
		Amount:            amount,
		Currency:          strings.ToUpper(currency),
		Gateway:           gateway,
		MerchantReference: MerchantReference(prefix, orderID, attempt),
		ReturnURLs:        urls,
		Customer:          customer,
	}, nil
}

// FormattedAmount returns the amount with exactly two decimals
func (i PaymentIntent) FormattedAmount() string {
	return FormatAmount(i.Amount)
}

// MerchantReference is "{prefix}-{orderID}" for the first attempt and
// "{prefix}-{orderID}-{attempt}" for retries.
func MerchantReference(prefix string, orderID int64, attempt int) string {
	if attempt <= 1 {
		return fmt.Sprintf("%s-%d", prefix, orderID)
	}
	return fmt.Sprintf("%s-%d-%d", prefix, orderID, attempt)
}

// ParseMerchantReference extracts the order id from a merchant reference
func ParseMerchantReference(ref string) (int64, bool) {
	parts := strings.Split(strings.TrimSpace(ref), "-")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" {
		return 0, false
	}
	orderID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || orderID <= 0 {
		return 0, false
	}
	if len(parts) == 3 {
		if attempt, err := strconv.Atoi(parts[2]); err != nil || attempt < 2 {
			return 0, false
		}
	}
	return orderID, true
}

// FormatAmount renders a decimal with exactly two fraction digits
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// MinorUnits converts an amount to cents
func MinorUnits(d decimal.Decimal) int64 {
	return d.Round(2).Shift(2).IntPart()
}

// FromMinorUnits converts cents back to an amount
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// CardData is raw card input. It is never persisted or logged.
type CardData struct {
	HolderName  string `json:"holderName" validate:"required,max=100"`
	Number      string `json:"number" validate:"required,numeric,min=12,max=19"`
	ExpiryMonth int    `json:"expiryMonth" validate:"required,min=1,max=12"`
	ExpiryYear  int    `json:"expiryYear" validate:"required,min=0,max=9999"`
	CVV         string `json:"cvv" validate:"required,numeric,min=3,max=4"`
}

// PaddedMonth returns the expiry month as two digits
func (c CardData) PaddedMonth() string {
	return fmt.Sprintf("%02d", c.ExpiryMonth)
}

// ShortYear returns the expiry year as two digits
func (c CardData) ShortYear() string {
	return fmt.Sprintf("%02d", c.ExpiryYear%100)
}

// WalletData is mobile wallet input
type WalletData struct {
	Mobile string `json:"mobile" validate:"required,numeric,min=10,max=15"`
}

// ConfirmationSource tells redirects from server-to-server notifications
type ConfirmationSource string

const (
	SourceRedirect ConfirmationSource = "redirect"
	SourceWebhook  ConfirmationSource = "webhook"
)

// Confirmation is an inbound payment notification as received at the boundary
type Confirmation struct {
	Source  ConfirmationSource
	Query   signature.Params
	Payload map[string]any
	Headers http.Header
	RawBody []byte
}

// Data returns the payload's "data" envelope when present, else the payload itself
func (c Confirmation) Data() map[string]any {
	if data, ok := c.Payload["data"].(map[string]any); ok {
		return data
	}
	return c.Payload
}

// Fields returns the confirmation's flat key/value view: the data envelope for
// JSON bodies, the query parameters for redirects.
func (c Confirmation) Fields() map[string]any {
	if len(c.Payload) > 0 {
		return c.Data()
	}
	return c.Query.Map()
}

// Raw returns the body, or the query when there is no body
func (c Confirmation) Raw() string {
	if len(c.RawBody) > 0 {
		return string(c.RawBody)
	}
	return signature.ResponseQuery(c.Query)
}

// PaymentResult is returned from payment initiation, direct payments and
// confirmation interpretation. Success implies a transaction id and failure
// implies a message; use the constructors to keep it that way.
type PaymentResult struct {
	Success          bool            `json:"success"`
	Status           PaymentStatus   `json:"status"`
	OrderReference   string          `json:"orderReference,omitempty"`
	TransactionID    string          `json:"transactionId,omitempty"`
	GatewayPaymentID string          `json:"gatewayPaymentId,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency,omitempty"`
	PaymentDetails   map[string]any  `json:"paymentDetails,omitempty"`
	ErrorMessage     string          `json:"errorMessage,omitempty"`
	RedirectURL      string          `json:"redirectUrl,omitempty"`
	RequiresAction   bool            `json:"requiresAction"`
	RawResponse      json.RawMessage `json:"-"`
}

// DefaultFailureMessage is shown when a gateway gives no reason
const DefaultFailureMessage = "Payment failed"

// Succeeded returns a paid result. An empty transaction id downgrades the result to a failure.
func Succeeded(ref, transactionID string) *PaymentResult {
	if strings.TrimSpace(transactionID) == "" {
		return Failed(ref, "gateway reported success without a transaction id")
	}
	return &PaymentResult{
		Success:        true,
		Status:         StatusPaid,
		OrderReference: ref,
		TransactionID:  transactionID,
		PaymentDetails: map[string]any{},
	}
}

// Failed returns a failed result with message, or a generic one
func Failed(ref, message string) *PaymentResult {
	if strings.TrimSpace(message) == "" {
		message = DefaultFailureMessage
	}
	return &PaymentResult{
		Success:        false,
		Status:         StatusFailed,
		OrderReference: ref,
		ErrorMessage:   message,
		PaymentDetails: map[string]any{},
	}
}

// ActionRequired returns a non-terminal result asking the customer to continue at
// redirectURL (hosted checkout or 3-D Secure). The order stays pending.
func ActionRequired(ref, redirectURL, message string) *PaymentResult {
	return &PaymentResult{
		Success:        false,
		Status:         StatusRequiresAction,
		OrderReference: ref,
		ErrorMessage:   message,
		RedirectURL:    redirectURL,
		RequiresAction: true,
		PaymentDetails: map[string]any{"redirect_url": redirectURL},
	}
}

// WithRaw attaches the raw gateway body for audit
func (r *PaymentResult) WithRaw(raw []byte) *PaymentResult {
	if len(raw) > 0 {
		r.RawResponse = append(json.RawMessage(nil), raw...)
	}
	return r
}

// WithDetail records a gateway-specific detail
func (r *PaymentResult) WithDetail(key string, value any) *PaymentResult {
	if r.PaymentDetails == nil {
		r.PaymentDetails = map[string]any{}
	}
	r.PaymentDetails[key] = value
	return r
}

// IsTerminal reports whether the result moves the order out of pending
func (r *PaymentResult) IsTerminal() bool {
	return r.Status == StatusPaid || r.Status == StatusFailed
}

// GatewayRefund is what an adapter needs to issue a refund
type GatewayRefund struct {
	OrderID           int64           `json:"orderId"`
	MerchantReference string          `json:"merchantReference"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Reason            string          `json:"reason"`
	GatewayPaymentID  string          `json:"gatewayPaymentId"`
	PaymentDetails    map[string]any  `json:"paymentDetails"`

	// IdempotencyKey is stable for one logical refund across retries. It is the
	// request id of the audited exchange and names the stored refund record.
	IdempotencyKey string `json:"idempotencyKey"`
}

// RefundResult is the outcome of a refund call
type RefundResult struct {
	Success       bool            `json:"success"`
	RefundID      string          `json:"refundId,omitempty"`
	TransactionID string          `json:"transactionId,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	ErrorMessage  string          `json:"errorMessage,omitempty"`
	NotApplicable bool            `json:"notApplicable,omitempty"`
	RawResponse   json.RawMessage `json:"-"`
}

// RefundSucceeded returns a successful refund result
func RefundSucceeded(refundID, transactionID string, amount decimal.Decimal) *RefundResult {
	return &RefundResult{
		Success:       true,
		RefundID:      refundID,
		TransactionID: transactionID,
		Amount:        amount,
	}
}

// RefundFailed returns a failed refund result
func RefundFailed(message string) *RefundResult {
	if strings.TrimSpace(message) == "" {
		message = "Refund failed"
	}
	return &RefundResult{ErrorMessage: message}
}

// RefundNotApplicable is returned by gateways that never moved money
func RefundNotApplicable(message string) *RefundResult {
	return &RefundResult{ErrorMessage: message, NotApplicable: true}
}

// WithRaw attaches the raw gateway body for audit
func (r *RefundResult) WithRaw(raw []byte) *RefundResult {
	if len(raw) > 0 {
		r.RawResponse = append(json.RawMessage(nil), raw...)
	}
	return r
}

// DecodeJSON decodes a gateway body keeping numbers exact
func DecodeJSON(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("empty JSON object")
	}
	return out, nil
}

// StringValue reads a scalar as a string, "" when absent
func StringValue(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// MapValue reads a nested object, nil when absent
func MapValue(m map[string]any, key string) map[string]any {
	v, _ := m[key].(map[string]any)
	return v
}

// DecimalValue reads an amount, reporting false when absent or unparsable
func DecimalValue(m map[string]any, key string) (decimal.Decimal, bool) {
	s := StringValue(m, key)
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
