// Package kashier implements the Kashier gateway: direct card payments signed with
// the Kashier-Hash header, mobile wallet request-to-pay, hosted checkout and
// refunds against Kashier's own order id.
package kashier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mstgnz/storepay/infra/config"
	"github.com/mstgnz/storepay/infra/logger"
	"github.com/mstgnz/storepay/provider"
	"github.com/mstgnz/storepay/provider/signature"
)

// Name is the gateway identifier
const Name = "kashier"

const (
	// API Endpoints
	endpointOrders = "/v3/orders"
	endpointRefund = "/v3/orders/%s/"

	// API operations
	operationPay        = "PAY"
	operationR2P        = "INITIATE_R2P"
	operationRefund     = "REFUND"
	headerHash          = "Kashier-Hash"
	headerWebhookSig    = "X-Kashier-Signature"
	envelopeSuccess     = "SUCCESS"
	statusCaptured      = "CAPTURED"
	statusAuthorized    = "AUTHORIZED"
	statusAuthInitiated = "AUTHENTICATION_INITIATED"
	statusRefunded      = "REFUNDED"
	statusPending       = "PENDING"
	statusInitiated     = "INITIATED"
)

// Kashier implements provider.Gateway
type Kashier struct {
	cfg        config.KashierConfig
	httpClient *provider.GatewayHTTPClient
}

// New creates a Kashier adapter from validated configuration
func New(cfg config.KashierConfig, audit provider.AuditLogger) (*Kashier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Kashier{
		cfg: cfg,
		httpClient: provider.NewGatewayHTTPClient(Name, provider.HTTPClientConfig{
			BaseURL: cfg.BaseURL(),
			Timeout: cfg.Timeout,
		}, audit),
	}, nil
}

func (k *Kashier) Name() string { return Name }

// OrderIDKey is the webhook field carrying Kashier's order id
func (k *Kashier) OrderIDKey() string { return "kashierOrderId" }

func (k *Kashier) Supports(feature provider.Feature) bool {
	switch feature {
	case provider.FeatureRefunds, provider.FeatureWebhooks, provider.FeatureCards,
		provider.FeatureWallets, provider.FeatureHostedCheckout:
		return true
	default:
		return false
	}
}

// Initiate builds the hosted checkout URL. No call is made; the customer is
// redirected and the outcome arrives as a redirect and a webhook.
func (k *Kashier) Initiate(_ context.Context, intent provider.PaymentIntent) (*provider.PaymentResult, error) {
	checkout, err := url.Parse(k.cfg.CheckoutURL)
	if err != nil {
		return nil, provider.NewValidationError("checkoutUrl", "is not a valid URL")
	}

	amount := intent.FormattedAmount()
	q := checkout.Query()
	q.Set("merchantId", k.cfg.MerchantID)
	q.Set("orderId", intent.MerchantReference)
	q.Set("amount", amount)
	q.Set("currency", intent.Currency)
	q.Set("hash", signature.PathSignature(k.cfg.APIKey, k.cfg.MerchantID, intent.MerchantReference, amount, intent.Currency))
	q.Set("mode", k.mode())
	q.Set("merchantRedirect", intent.ReturnURLs.Success)
	q.Set("failureRedirect", intent.ReturnURLs.Failure)
	q.Set("serverWebhook", intent.ReturnURLs.Webhook)
	q.Set("redirectMethod", "get")
	q.Set("allowedMethods", "card,wallet")
	q.Set("display", "en")
	checkout.RawQuery = q.Encode()

	result := provider.ActionRequired(intent.MerchantReference, checkout.String(), "")
	result.Amount = intent.Amount
	result.Currency = intent.Currency
	return result, nil
}

// PayWithCard charges card data directly. The request carries the payment
// path hash in the Kashier-Hash header.
func (k *Kashier) PayWithCard(ctx context.Context, intent provider.PaymentIntent, data provider.CardData) (*provider.PaymentResult, error) {
	if err := provider.ValidateCard(data); err != nil {
		return nil, err
	}

	amount := intent.FormattedAmount()
	req := k.payRequest(intent, operationPay)
	req.PaymentMethod = paymentMethod{
		Type: "card",
		Card: &card{
			CardHolderName: data.HolderName,
			CardNumber:     strings.ReplaceAll(strings.ReplaceAll(data.Number, " ", ""), "-", ""),
			ExpiryMonth:    data.PaddedMonth(),
			ExpiryYear:     data.ShortYear(),
			CVV:            data.CVV,
		},
	}

	headers := map[string]string{
		headerHash: signature.PathSignature(k.cfg.APIKey, k.cfg.MerchantID, intent.MerchantReference, amount, intent.Currency),
	}
	return k.pay(ctx, intent, "card", req, headers), nil
}

// PayWithWallet sends a request-to-pay to the customer's mobile wallet.
//
// Unlike card payments this call is sent without a Kashier-Hash header. Kashier
// accepts it that way and the storefront has always sent it so; confirm with
// Kashier before adding or relying on a hash here.
func (k *Kashier) PayWithWallet(ctx context.Context, intent provider.PaymentIntent, data provider.WalletData) (*provider.PaymentResult, error) {
	if err := provider.ValidateWallet(data); err != nil {
		return nil, err
	}

	req := k.payRequest(intent, operationR2P)
	req.PaymentMethod = paymentMethod{
		Type:   "wallet",
		Wallet: &wallet{MobilePhoneNumber: data.Mobile},
	}
	req.Customer.Phone = data.Mobile

	return k.pay(ctx, intent, "wallet", req, nil), nil
}

func (k *Kashier) payRequest(intent provider.PaymentIntent, operation string) payRequest {
	return payRequest{
		APIOperation:    operation,
		MerchantID:      k.cfg.MerchantID,
		MerchantOrderID: intent.MerchantReference,
		Amount:          intent.FormattedAmount(),
		Currency:        intent.Currency,
		Customer: customer{
			Name:      intent.Customer.FullName(),
			Email:     intent.Customer.Email,
			Phone:     intent.Customer.Phone,
			Reference: fmt.Sprintf("%d", intent.OrderID),
		},
		ServerWebhook:    intent.ReturnURLs.Webhook,
		MerchantRedirect: intent.ReturnURLs.Success,
		FailureRedirect:  intent.ReturnURLs.Failure,
	}
}

func (k *Kashier) pay(ctx context.Context, intent provider.PaymentIntent, operation string, body payRequest, headers map[string]string) *provider.PaymentResult {
	resp, err := k.httpClient.SendJSON(ctx, &provider.HTTPRequest{
		Method:    http.MethodPost,
		Endpoint:  endpointOrders,
		Headers:   headers,
		Body:      body,
		Operation: operation,
		OrderID:   intent.OrderID,
		Reference: intent.MerchantReference,
		Amount:    intent.Amount,
		Currency:  intent.Currency,
	})
	if err != nil {
		return k.transportFailure(intent, operation, resp, err)
	}

	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		logger.Warn("kashier returned an unreadable response", logger.LogContext{
			Gateway: Name,
			OrderID: intent.OrderID,
			Fields:  map[string]any{"operation": operation, "error": err.Error()},
		})
		return provider.Failed(intent.MerchantReference, "Malformed response from Kashier").WithRaw(resp.Body)
	}

	return interpretPayment(intent, env, operation == "wallet")
}

// interpretPayment maps a direct-call response to a result
func interpretPayment(intent provider.PaymentIntent, env envelope, isWallet bool) *provider.PaymentResult {
	ref := intent.MerchantReference
	status := env.Response.status()

	var result *provider.PaymentResult
	switch {
	case env.outcome() == envelopeSuccess && (status == statusCaptured || status == statusAuthorized):
		result = provider.Succeeded(ref, env.Response.TransactionID)
	case env.outcome() == envelopeSuccess && status == statusAuthInitiated:
		result = provider.ActionRequired(ref, env.Response.stepUpURL(), "3-D Secure authentication required")
	case isWallet && env.outcome() == envelopeSuccess && (status == statusPending || status == statusInitiated):
		result = provider.ActionRequired(ref, env.Response.stepUpURL(), "Approve the payment request in your mobile wallet")
	default:
		result = provider.Failed(ref, env.message())
	}

	result.Amount = intent.Amount
	result.Currency = intent.Currency
	if env.Response != nil {
		if amount, ok := env.Response.amount(); ok {
			result.Amount = amount
		}
		if env.Response.Currency != "" {
			result.Currency = env.Response.Currency
		}
		if id := env.Response.gatewayOrderID(); id != "" {
			result.GatewayPaymentID = id
			result.WithDetail("kashierOrderId", id)
		}
		if env.Response.TransactionID != "" {
			result.WithDetail("transactionId", env.Response.TransactionID)
		}
		if env.Response.Card != nil && env.Response.Card.MaskedCard != "" {
			result.WithDetail("maskedCard", env.Response.Card.MaskedCard)
			result.WithDetail("cardBrand", env.Response.Card.CardBrand)
		}
		result.WithDetail("status", status)
	}
	return result.WithRaw(env.Raw)
}

// Refund refunds a captured payment. Kashier keys refunds by its own order id,
// which is taken from the payment details stored at confirmation time.
func (k *Kashier) Refund(ctx context.Context, req provider.GatewayRefund) (*provider.RefundResult, error) {
	orderID := kashierOrderID(req.PaymentDetails)
	if orderID == "" {
		return nil, provider.NewValidationError("paymentDetails", "no Kashier order id recorded for order %d", req.OrderID)
	}
	if !req.Amount.IsPositive() {
		return nil, provider.NewValidationError("amount", "must be greater than zero")
	}

	resp, err := k.httpClient.SendJSON(ctx, &provider.HTTPRequest{
		Method:   http.MethodPut,
		Endpoint: fmt.Sprintf(endpointRefund, url.PathEscape(orderID)),
		Headers:  map[string]string{"Authorization": k.cfg.SecretKey},
		Body: refundRequest{
			APIOperation: operationRefund,
			Reason:       req.Reason,
			Transaction:  refundTransaction{Amount: provider.FormatAmount(req.Amount)},
		},
		Operation: "refund",
		OrderID:   req.OrderID,
		Reference: req.MerchantReference,
		Amount:    req.Amount,
		Currency:  req.Currency,
		RequestID: req.IdempotencyKey,
	})
	if err != nil {
		var body []byte
		if resp != nil {
			body = resp.Body
		}
		logger.Warn("kashier refund failed", logger.LogContext{
			Gateway: Name,
			OrderID: req.OrderID,
			Fields:  map[string]any{"amount": req.Amount.String(), "error": err.Error()},
		})
		return provider.RefundFailed(failureMessage(err)).WithRaw(body), nil
	}

	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		return provider.RefundFailed("Malformed response from Kashier").WithRaw(resp.Body), nil
	}
	return interpretRefund(req, env), nil
}

// interpretRefund requires both the envelope and the nested order status to agree
func interpretRefund(req provider.GatewayRefund, env envelope) *provider.RefundResult {
	if env.outcome() != envelopeSuccess || env.Response.status() != statusRefunded {
		msg := env.message()
		if msg == "" {
			msg = fmt.Sprintf("Kashier refund not confirmed (status %q, order status %q)", env.outcome(), env.Response.status())
		}
		return provider.RefundFailed(msg).WithRaw(env.Raw)
	}

	refundID := env.Response.TransactionID
	if refundID == "" {
		refundID = env.Response.gatewayOrderID()
	}
	return provider.RefundSucceeded(refundID, env.Response.TransactionID, req.Amount).WithRaw(env.Raw)
}

func (k *Kashier) transportFailure(intent provider.PaymentIntent, operation string, resp *provider.HTTPResponse, err error) *provider.PaymentResult {
	logger.Warn("kashier payment call failed", logger.LogContext{
		Gateway: Name,
		OrderID: intent.OrderID,
		Fields: map[string]any{
			"operation": operation,
			"amount":    intent.FormattedAmount(),
			"error":     err.Error(),
		},
	})

	result := provider.Failed(intent.MerchantReference, failureMessage(err))
	if resp != nil {
		// 4xx bodies still carry a decline reason
		if env, derr := decodeEnvelope(resp.Body); derr == nil && env.message() != "" {
			result.ErrorMessage = env.message()
		}
		result.WithRaw(resp.Body)
	}
	return result
}

func (k *Kashier) mode() string {
	if k.cfg.Mode == config.ModeLive {
		return config.ModeLive
	}
	return config.ModeTest
}

func decodeEnvelope(body []byte) (envelope, error) {
	var env envelope
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return envelope{}, err
	}
	if env.Status == "" && env.Result == "" {
		return envelope{}, errors.New("response has no status")
	}
	env.Raw = append(json.RawMessage(nil), body...)
	return env, nil
}

func failureMessage(err error) string {
	var gerr *provider.GatewayError
	if errors.As(err, &gerr) && gerr.StatusCode >= 500 {
		return "Kashier is temporarily unavailable"
	}
	if errors.As(err, &gerr) && gerr.StatusCode == 0 {
		return "Kashier did not respond in time"
	}
	return provider.DefaultFailureMessage
}

func kashierOrderID(details map[string]any) string {
	for _, key := range []string{"kashierOrderId", "orderId"} {
		if v := provider.StringValue(details, key); v != "" {
			return v
		}
	}
	if data := provider.MapValue(details, "data"); data != nil {
		return kashierOrderID(data)
	}
	return ""
}
