// Package paymob implements the Paymob gateway through its intention API: an
// intention is created with token auth, the customer completes payment on the
// unified checkout page and the outcome arrives as a redirect and a webhook.
package paymob

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/mstgnz/storepay/infra/config"
	"github.com/mstgnz/storepay/infra/logger"
	"github.com/mstgnz/storepay/provider"
)

// Name is the gateway identifier
const Name = "paymob"

const (
	// API Endpoints
	endpointIntention = "/v1/intention/"
	endpointRefund    = "/api/acceptance/void_refund/refund"

	headerSignature = "X-Paymob-Signature"
	notAvailable    = "NA"
)

// Paymob implements provider.Gateway
type Paymob struct {
	cfg        config.PaymobConfig
	httpClient *provider.GatewayHTTPClient
}

// New creates a Paymob adapter from validated configuration
func New(cfg config.PaymobConfig, audit provider.AuditLogger) (*Paymob, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Paymob{
		cfg: cfg,
		httpClient: provider.NewGatewayHTTPClient(Name, provider.HTTPClientConfig{
			BaseURL: cfg.BaseURL(),
			Timeout: cfg.Timeout,
			DefaultHeaders: map[string]string{
				"Authorization": "Token " + cfg.SecretKey,
			},
		}, audit),
	}, nil
}

func (p *Paymob) Name() string { return Name }

// OrderIDKey is the confirmation field carrying Paymob's order id
func (p *Paymob) OrderIDKey() string { return "order_id" }

func (p *Paymob) Supports(feature provider.Feature) bool {
	switch feature {
	case provider.FeatureRefunds, provider.FeatureWebhooks, provider.FeatureHostedCheckout:
		return true
	default:
		return false
	}
}

// Initiate creates a payment intention and returns the unified checkout URL.
// Amounts are sent in minor units.
func (p *Paymob) Initiate(ctx context.Context, intent provider.PaymentIntent) (*provider.PaymentResult, error) {
	cents := provider.MinorUnits(intent.Amount)
	body := intentionRequest{
		Amount:         cents,
		Currency:       intent.Currency,
		PaymentMethods: append([]int(nil), p.cfg.IntegrationIDs...),
		Items: []item{{
			Name:     "Order " + intent.MerchantReference,
			Amount:   cents,
			Quantity: 1,
		}},
		BillingData: billing(intent.Customer),
		Customer: customer{
			FirstName: orNA(intent.Customer.FirstName),
			LastName:  orNA(intent.Customer.LastName),
			Email:     orNA(intent.Customer.Email),
		},
		SpecialReference: intent.MerchantReference,
		NotificationURL:  intent.ReturnURLs.Webhook,
		RedirectionURL:   intent.ReturnURLs.Success,
		Extras:           map[string]any{"order_id": intent.OrderID},
	}

	resp, err := p.httpClient.SendJSON(ctx, &provider.HTTPRequest{
		Method:    http.MethodPost,
		Endpoint:  endpointIntention,
		Body:      body,
		Operation: "intention",
		OrderID:   intent.OrderID,
		Reference: intent.MerchantReference,
		Amount:    intent.Amount,
		Currency:  intent.Currency,
	})
	if err != nil {
		logger.Warn("paymob intention failed", logger.LogContext{
			Gateway: Name,
			OrderID: intent.OrderID,
			Fields:  map[string]any{"amount": intent.FormattedAmount(), "error": err.Error()},
		})
		result := provider.Failed(intent.MerchantReference, failureMessage(err))
		if resp != nil {
			var ir intentionResponse
			if json.Unmarshal(resp.Body, &ir) == nil && ir.errorMessage() != "" {
				result.ErrorMessage = ir.errorMessage()
			}
			result.WithRaw(resp.Body)
		}
		return result, nil
	}

	var ir intentionResponse
	dec := json.NewDecoder(strings.NewReader(string(resp.Body)))
	dec.UseNumber()
	if err := dec.Decode(&ir); err != nil {
		return provider.Failed(intent.MerchantReference, "Malformed response from Paymob").WithRaw(resp.Body), nil
	}
	if ir.ClientSecret == "" {
		msg := ir.errorMessage()
		if msg == "" {
			msg = "Paymob did not return a client secret"
		}
		return provider.Failed(intent.MerchantReference, msg).WithRaw(resp.Body), nil
	}

	result := provider.ActionRequired(intent.MerchantReference, p.checkoutURL(ir.ClientSecret), "")
	result.Amount = intent.Amount
	result.Currency = intent.Currency
	result.GatewayPaymentID = ir.ID
	result.WithDetail("intention_id", ir.ID).
		WithDetail("client_secret", ir.ClientSecret).
		WithDetail("amount_cents", cents)
	if ir.IntentionOrderID != "" {
		result.WithDetail("intention_order_id", ir.IntentionOrderID.String())
	}
	return result.WithRaw(resp.Body), nil
}

// PayWithCard is not offered: card data is collected on Paymob's checkout page
func (p *Paymob) PayWithCard(_ context.Context, intent provider.PaymentIntent, _ provider.CardData) (*provider.PaymentResult, error) {
	return provider.Failed(intent.MerchantReference, "paymob does not support direct card payments"), nil
}

// PayWithWallet is not offered: wallets are selected on Paymob's checkout page
func (p *Paymob) PayWithWallet(_ context.Context, intent provider.PaymentIntent, _ provider.WalletData) (*provider.PaymentResult, error) {
	return provider.Failed(intent.MerchantReference, "paymob does not support direct wallet payments"), nil
}

// Refund resolves Paymob's transaction id from the stored payment details and
// refunds the amount in minor units
func (p *Paymob) Refund(ctx context.Context, req provider.GatewayRefund) (*provider.RefundResult, error) {
	txID := transactionID(req.PaymentDetails)
	if txID == "" {
		txID = req.GatewayPaymentID
	}
	if txID == "" {
		return nil, provider.NewValidationError("paymentDetails", "no Paymob transaction id recorded for order %d", req.OrderID)
	}
	if !req.Amount.IsPositive() {
		return nil, provider.NewValidationError("amount", "must be greater than zero")
	}

	resp, err := p.httpClient.SendJSON(ctx, &provider.HTTPRequest{
		Method:    http.MethodPost,
		Endpoint:  endpointRefund,
		Body:      refundRequest{TransactionID: txID, AmountCents: provider.MinorUnits(req.Amount)},
		Operation: "refund",
		OrderID:   req.OrderID,
		Reference: req.MerchantReference,
		Amount:    req.Amount,
		Currency:  req.Currency,
		RequestID: req.IdempotencyKey,
	})
	if err != nil {
		logger.Warn("paymob refund failed", logger.LogContext{
			Gateway: Name,
			OrderID: req.OrderID,
			Fields:  map[string]any{"amount": req.Amount.String(), "error": err.Error()},
		})
		var body []byte
		msg := failureMessage(err)
		if resp != nil {
			body = resp.Body
			var tr transactionResponse
			if json.Unmarshal(resp.Body, &tr) == nil && tr.errorMessage() != "" {
				msg = tr.errorMessage()
			}
		}
		return provider.RefundFailed(msg).WithRaw(body), nil
	}

	var tr transactionResponse
	dec := json.NewDecoder(strings.NewReader(string(resp.Body)))
	dec.UseNumber()
	if err := dec.Decode(&tr); err != nil {
		return provider.RefundFailed("Malformed response from Paymob").WithRaw(resp.Body), nil
	}
	if !tr.Success || tr.Pending {
		msg := tr.errorMessage()
		if msg == "" {
			msg = "Paymob did not confirm the refund"
		}
		return provider.RefundFailed(msg).WithRaw(resp.Body), nil
	}

	return provider.RefundSucceeded(tr.ID.String(), txID, req.Amount).WithRaw(resp.Body), nil
}

func (p *Paymob) checkoutURL(clientSecret string) string {
	r := strings.NewReplacer(
		"{publicKey}", url.QueryEscape(p.cfg.PublicKey),
		"{clientSecret}", url.QueryEscape(clientSecret),
	)
	return r.Replace(p.cfg.CheckoutURLTemplate)
}

func billing(c provider.Customer) billingData {
	b := billingData{
		FirstName:   orNA(c.FirstName),
		LastName:    orNA(c.LastName),
		Email:       orNA(c.Email),
		PhoneNumber: orNA(c.Phone),
		Street:      notAvailable,
		Building:    notAvailable,
		Floor:       notAvailable,
		Apartment:   notAvailable,
		City:        notAvailable,
		State:       notAvailable,
		Country:     "EG",
		PostalCode:  notAvailable,
	}
	if a := c.Address; a != nil {
		b.Street = orNA(a.Street)
		b.Building = orNA(a.Building)
		b.Floor = orNA(a.Floor)
		b.Apartment = orNA(a.Apartment)
		b.City = orNA(a.City)
		b.State = orNA(a.State)
		b.PostalCode = orNA(a.PostalCode)
		if a.Country != "" {
			b.Country = a.Country
		}
	}
	return b
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return notAvailable
	}
	return s
}

// transactionID finds Paymob's transaction id in stored payment details
func transactionID(details map[string]any) string {
	if v := provider.StringValue(details, "transaction_id"); v != "" {
		return v
	}
	if obj := provider.MapValue(details, "obj"); obj != nil {
		if v := provider.StringValue(obj, "id"); v != "" {
			return v
		}
	}
	return provider.StringValue(details, "id")
}

func failureMessage(err error) string {
	var gerr *provider.GatewayError
	if errors.As(err, &gerr) {
		switch {
		case gerr.StatusCode >= 500:
			return "Paymob is temporarily unavailable"
		case gerr.StatusCode == 0:
			return "Paymob did not respond in time"
		case gerr.StatusCode == http.StatusUnauthorized:
			return "Paymob rejected the merchant credentials"
		}
	}
	return provider.DefaultFailureMessage
}
