// Package payment drives an order through its payment lifecycle: it starts
// checkouts, charges cards and wallets, applies gateway confirmations and
// issues refunds, delegating gateway specifics to provider adapters.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mstgnz/storepay/infra/config"
	"github.com/mstgnz/storepay/infra/logger"
	"github.com/mstgnz/storepay/order"
	"github.com/mstgnz/storepay/provider"
	"github.com/shopspring/decimal"
)

// transactionIDKeys are tried in order when a confirmation payload names its
// transaction id; the gateway's own order id key comes last.
var transactionIDKeys = []string{"transactionId", "paymentId"}

const lockStripes = 64

// Orchestrator is the single place order payment state changes happen
type Orchestrator struct {
	store    order.Store
	gateways *provider.Factory
	cfg      config.PaymentConfig
	events   Publisher
	dedup    Deduper

	// refunds on one order are serialized so the refundable balance check holds
	locks [lockStripes]sync.Mutex
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithPublisher sets the domain event publisher
func WithPublisher(p Publisher) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.events = p
		}
	}
}

// WithDeduper sets the confirmation deduper
func WithDeduper(d Deduper) Option {
	return func(o *Orchestrator) {
		if d != nil {
			o.dedup = d
		}
	}
}

// NewOrchestrator creates an orchestrator over store and gateways
func NewOrchestrator(store order.Store, gateways *provider.Factory, cfg config.PaymentConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		gateways: gateways,
		cfg:      cfg,
		events:   nopPublisher{},
		dedup:    NewMemoryDeduper(cfg.DedupTTL),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ConfirmationOutcome is what applying a confirmation did
type ConfirmationOutcome struct {
	Order     *order.Order
	Result    *provider.PaymentResult
	Duplicate bool
}

// RefundRequest asks for money back on a paid order
type RefundRequest struct {
	OrderID  int64           `json:"orderId" validate:"required,gt=0"`
	Amount   decimal.Decimal `json:"amount"`
	Reason   string          `json:"reason" validate:"max=255"`
	ReturnID int64           `json:"returnId,omitempty"`
}

func (o *Orchestrator) lock(orderID int64) func() {
	m := &o.locks[uint64(orderID)%lockStripes]
	m.Lock()
	return m.Unlock
}

// payableOrder loads the order and its gateway and checks it can still be paid
func (o *Orchestrator) payableOrder(ctx context.Context, orderID int64) (*order.Order, provider.Gateway, error) {
	ord, err := o.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if ord.PaymentStatus != order.StatusPending {
		return nil, nil, provider.NewPreconditionError(orderID, "payment status is %s, expected pending", ord.PaymentStatus)
	}
	if !ord.Total.Round(2).IsPositive() {
		return nil, nil, provider.NewPreconditionError(orderID, "order total must be greater than zero")
	}

	gw, err := o.gateways.ForOrder(ord)
	if err != nil {
		return nil, nil, err
	}
	return ord, gw, nil
}

// newIntent starts a new attempt on ord
func (o *Orchestrator) newIntent(ctx context.Context, ord *order.Order, gw provider.Gateway) (provider.PaymentIntent, error) {
	attempt, err := o.store.IncrementAttempts(ctx, ord.ID)
	if err != nil {
		return provider.PaymentIntent{}, err
	}
	return provider.NewPaymentIntent(ord.ID, attempt, ord.Total, o.cfg.Currency, gw.Name(),
		o.cfg.ReferencePrefix, o.returnURLs(gw.Name()), ord.BillingCustomer())
}

// returnURLs send the browser back through our callback endpoint, which
// verifies the redirect before forwarding to the storefront.
func (o *Orchestrator) returnURLs(gateway string) provider.ReturnURLs {
	base := strings.TrimRight(o.cfg.AppURL, "/")
	return provider.ReturnURLs{
		Success: base + "/callback/" + gateway,
		Failure: base + "/callback/" + gateway,
		Webhook: base + "/webhooks/" + gateway,
	}
}

// InitializePayment starts a checkout for orderID. The order stays pending; the
// result usually carries a redirect to the gateway's hosted page.
func (o *Orchestrator) InitializePayment(ctx context.Context, orderID int64) (*provider.PaymentResult, error) {
	ord, gw, err := o.payableOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	intent, err := o.newIntent(ctx, ord, gw)
	if err != nil {
		return nil, err
	}

	result, err := gw.Initiate(ctx, intent)
	if err != nil {
		return nil, err
	}

	log := logger.WithOrder(ord.ID, gw.Name()).AddField("reference", intent.MerchantReference)
	if result.Success || result.RequiresAction {
		details := order.MergeDetails(result.PaymentDetails, map[string]any{
			"gateway":            gw.Name(),
			"merchant_reference": intent.MerchantReference,
		})
		if err := o.store.MergePaymentDetails(ctx, ord.ID, details); err != nil {
			return nil, fmt.Errorf("failed to save payment details: %w", err)
		}
		log.Info("Payment initialized")
	} else {
		log.AddField("error", result.ErrorMessage).Warn("Payment initialization failed")
	}
	return result, nil
}

// PayWithCard charges card data directly. A decline leaves the order pending so
// the customer can try again; a 3-D Secure step-up comes back as RequiresAction.
func (o *Orchestrator) PayWithCard(ctx context.Context, orderID int64, card provider.CardData) (*provider.PaymentResult, error) {
	if err := provider.ValidateCard(card); err != nil {
		return nil, err
	}
	return o.payDirect(ctx, orderID, provider.FeatureCards, func(gw provider.Gateway, intent provider.PaymentIntent) (*provider.PaymentResult, error) {
		return gw.PayWithCard(ctx, intent, card)
	})
}

// PayWithWallet starts a mobile wallet payment
func (o *Orchestrator) PayWithWallet(ctx context.Context, orderID int64, wallet provider.WalletData) (*provider.PaymentResult, error) {
	if err := provider.ValidateWallet(wallet); err != nil {
		return nil, err
	}
	return o.payDirect(ctx, orderID, provider.FeatureWallets, func(gw provider.Gateway, intent provider.PaymentIntent) (*provider.PaymentResult, error) {
		return gw.PayWithWallet(ctx, intent, wallet)
	})
}

func (o *Orchestrator) payDirect(ctx context.Context, orderID int64, feature provider.Feature, pay func(provider.Gateway, provider.PaymentIntent) (*provider.PaymentResult, error)) (*provider.PaymentResult, error) {
	ord, gw, err := o.payableOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !gw.Supports(feature) {
		return nil, fmt.Errorf("%w: %s does not support %s", provider.ErrMethodNotSupported, gw.Name(), feature)
	}
	intent, err := o.newIntent(ctx, ord, gw)
	if err != nil {
		return nil, err
	}

	result, err := pay(gw, intent)
	if err != nil {
		return nil, err
	}

	log := logger.WithOrder(ord.ID, gw.Name()).
		AddField("reference", intent.MerchantReference).
		AddField("amount", intent.FormattedAmount())

	switch {
	case result.Success:
		if _, err := o.ProcessSuccessfulPayment(ctx, ord.ID, gw.Name(), resultPayload(result)); err != nil {
			return nil, err
		}
	case result.RequiresAction:
		if err := o.store.MergePaymentDetails(ctx, ord.ID, result.PaymentDetails); err != nil {
			return nil, fmt.Errorf("failed to save payment details: %w", err)
		}
		log.Info("Payment requires customer action")
	default:
		log.AddField("error", result.ErrorMessage).Warn("Payment declined")
	}
	return result, nil
}

// VerifyConfirmation authenticates an inbound redirect or webhook. Nothing is
// changed on failure.
func (o *Orchestrator) VerifyConfirmation(gateway string, conf provider.Confirmation) error {
	gw, err := o.gateways.Gateway(gateway)
	if err != nil {
		return err
	}
	if !gw.ValidateConfirmation(conf) {
		logger.WithGateway(gw.Name()).AddField("source", string(conf.Source)).Warn("Rejected confirmation with invalid signature")
		return &provider.SignatureError{Gateway: gw.Name(), Reason: fmt.Sprintf("%s signature mismatch", conf.Source)}
	}
	return nil
}

// ProcessConfirmation verifies and then applies a confirmation
func (o *Orchestrator) ProcessConfirmation(ctx context.Context, gateway string, conf provider.Confirmation) (*ConfirmationOutcome, error) {
	if err := o.VerifyConfirmation(gateway, conf); err != nil {
		return nil, err
	}
	return o.ApplyConfirmation(ctx, gateway, conf)
}

// ApplyConfirmation interprets an already verified confirmation and moves the
// order accordingly. Repeated deliveries of the same outcome are no-ops.
func (o *Orchestrator) ApplyConfirmation(ctx context.Context, gateway string, conf provider.Confirmation) (*ConfirmationOutcome, error) {
	gw, err := o.gateways.Gateway(gateway)
	if err != nil {
		return nil, err
	}
	result, err := gw.InterpretConfirmation(conf)
	if err != nil {
		return nil, err
	}

	orderID, ok := provider.ParseMerchantReference(result.OrderReference)
	if !ok {
		return nil, provider.NewValidationError("reference", "%q does not identify an order", result.OrderReference)
	}

	key := dedupKey(gw.Name(), result)
	if key != "" {
		dup, err := o.dedup.Seen(ctx, key)
		if err != nil {
			logger.Warn("Confirmation dedup unavailable", logger.LogContext{Gateway: gw.Name(), OrderID: orderID,
				Fields: map[string]any{"error": err.Error()}})
		}
		if dup {
			ord, err := o.store.GetOrder(ctx, orderID)
			if err != nil {
				return nil, err
			}
			return &ConfirmationOutcome{Order: ord, Result: result, Duplicate: true}, nil
		}
	}

	ord, err := o.applyResult(ctx, orderID, gw, conf, result)
	if err != nil {
		if key != "" {
			if ferr := o.dedup.Forget(ctx, key); ferr != nil {
				logger.Warn("Failed to release confirmation dedup key", logger.LogContext{Gateway: gw.Name(), OrderID: orderID})
			}
		}
		return nil, err
	}
	return &ConfirmationOutcome{Order: ord, Result: result}, nil
}

func (o *Orchestrator) applyResult(ctx context.Context, orderID int64, gw provider.Gateway, conf provider.Confirmation, result *provider.PaymentResult) (*order.Order, error) {
	switch {
	case result.Success:
		ord, err := o.store.GetOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if !result.Amount.IsZero() && !result.Amount.Round(2).Equal(ord.Total.Round(2)) {
			logger.WithOrder(orderID, gw.Name()).
				AddField("confirmed", provider.FormatAmount(result.Amount)).
				AddField("total", provider.FormatAmount(ord.Total)).
				Error("Confirmed amount does not match order total", nil)
			return nil, provider.NewPreconditionError(orderID, "confirmed amount %s does not match order total %s",
				provider.FormatAmount(result.Amount), provider.FormatAmount(ord.Total))
		}
		return o.ProcessSuccessfulPayment(ctx, orderID, gw.Name(), confirmationPayload(conf, result))
	case result.RequiresAction:
		return o.store.GetOrder(ctx, orderID)
	default:
		return o.ProcessFailedPayment(ctx, orderID, gw.Name(), confirmationPayload(conf, result))
	}
}

// ProcessSuccessfulPayment moves a pending order to paid, merging payload into
// its payment details. The caller must have verified the payload. A repeat on an
// order that is already paid changes nothing and publishes nothing.
func (o *Orchestrator) ProcessSuccessfulPayment(ctx context.Context, orderID int64, gateway string, payload map[string]any) (*order.Order, error) {
	gw, err := o.gateways.Gateway(gateway)
	if err != nil {
		return nil, err
	}
	ord, err := o.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch ord.PaymentStatus {
	case order.StatusPaid, order.StatusRefunded:
		return ord, nil
	case order.StatusFailed:
		logger.WithOrder(orderID, gateway).Error("Payment confirmed for an order that already failed", nil)
		return nil, provider.NewPreconditionError(orderID, "payment status is failed")
	}

	txID := extractTransactionID(payload, gw.OrderIDKey())
	applied, err := o.store.TransitionPayment(ctx, orderID, order.StatusPending, order.StatusPaid, order.PaymentUpdate{
		PaymentID: txID,
		Details:   order.MergeDetails(ord.PaymentDetails, payload),
	})
	if err != nil {
		return nil, err
	}

	updated, err := o.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !applied {
		// lost the race to a concurrent confirmation
		if updated.PaymentStatus == order.StatusPaid || updated.PaymentStatus == order.StatusRefunded {
			return updated, nil
		}
		return nil, provider.NewPreconditionError(orderID, "payment status is %s", updated.PaymentStatus)
	}

	logger.WithOrder(orderID, gateway).
		AddField("transaction_id", txID).
		AddField("amount", provider.FormatAmount(updated.Total)).
		Info("Payment succeeded")

	event := newEvent(EventPaymentSucceeded, orderID, gateway)
	event.TransactionID = txID
	event.Amount = updated.Total
	o.events.Publish(ctx, event)

	return updated, nil
}

// ProcessFailedPayment moves a pending order to failed. A repeat on an order
// that already failed is a no-op.
func (o *Orchestrator) ProcessFailedPayment(ctx context.Context, orderID int64, gateway string, payload map[string]any) (*order.Order, error) {
	ord, err := o.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch ord.PaymentStatus {
	case order.StatusFailed:
		return ord, nil
	case order.StatusPaid, order.StatusRefunded:
		// a late failure notice never undoes a payment
		logger.WithOrder(orderID, gateway).Warn("Ignoring failure confirmation for a paid order")
		return ord, nil
	}

	details := order.MergeDetails(ord.PaymentDetails, payload)
	applied, err := o.store.TransitionPayment(ctx, orderID, order.StatusPending, order.StatusFailed, order.PaymentUpdate{Details: details})
	if err != nil {
		return nil, err
	}
	updated, err := o.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !applied {
		return updated, nil
	}

	reason := provider.StringValue(payload, "error_message")
	logger.WithOrder(orderID, gateway).AddField("reason", reason).Warn("Payment failed")

	event := newEvent(EventPaymentFailed, orderID, gateway)
	event.Amount = updated.Total
	event.Reason = reason
	o.events.Publish(ctx, event)

	return updated, nil
}

// Refund returns money on a paid order. A gateway without refund support, or a
// gateway that declines, yields a failed result rather than an error.
func (o *Orchestrator) Refund(ctx context.Context, req RefundRequest) (*provider.RefundResult, error) {
	if err := provider.ValidateStruct(req); err != nil {
		return nil, err
	}
	amount := req.Amount.Round(2)
	if !amount.IsPositive() {
		return nil, provider.NewValidationError("amount", "must be greater than zero")
	}

	unlock := o.lock(req.OrderID)
	defer unlock()

	ord, err := o.store.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if ord.PaymentStatus != order.StatusPaid && ord.PaymentStatus != order.StatusRefunded {
		return nil, provider.NewPreconditionError(ord.ID, "payment status is %s, expected paid", ord.PaymentStatus)
	}

	gw, err := o.gateways.ForOrder(ord)
	if err != nil {
		return nil, err
	}
	if !gw.Supports(provider.FeatureRefunds) {
		return provider.RefundFailed(fmt.Sprintf("gateway %s does not support refunds", gw.Name())), nil
	}

	if req.ReturnID != 0 {
		_, err := o.store.ReturnRefund(ctx, req.ReturnID)
		if err == nil {
			return nil, provider.NewPreconditionError(ord.ID, "return %d was already refunded", req.ReturnID)
		}
		if !errors.Is(err, order.ErrRefundNotFound) {
			return nil, err
		}
	}

	refunded, err := o.store.RefundedTotal(ctx, ord.ID)
	if err != nil {
		return nil, err
	}
	if refunded.Add(amount).GreaterThan(ord.Total.Round(2)) {
		return nil, provider.NewPreconditionError(ord.ID, "refund of %s exceeds the refundable balance %s",
			provider.FormatAmount(amount), provider.FormatAmount(ord.Total.Sub(refunded)))
	}

	result, err := gw.Refund(ctx, provider.GatewayRefund{
		OrderID:           ord.ID,
		MerchantReference: provider.StringValue(ord.PaymentDetails, "merchant_reference"),
		Amount:            amount,
		Currency:          o.cfg.Currency,
		Reason:            req.Reason,
		GatewayPaymentID:  ord.PaymentID,
		PaymentDetails:    ord.PaymentDetails,
		IdempotencyKey:    refundKey(ord.ID, req.ReturnID, refunded, amount),
	})
	if err != nil {
		return nil, err
	}

	log := logger.WithOrder(ord.ID, gw.Name()).AddField("amount", provider.FormatAmount(amount))
	if !result.Success {
		log.AddField("error", result.ErrorMessage).Warn("Refund failed")
		return result, nil
	}

	rec := &order.Refund{
		ID:              "rf_" + refundKey(ord.ID, req.ReturnID, refunded, amount),
		OrderID:         ord.ID,
		ReturnID:        req.ReturnID,
		Amount:          amount,
		Reason:          req.Reason,
		GatewayRefundID: result.RefundID,
	}
	if err := o.store.AddRefund(ctx, rec); err != nil {
		log.Error("Refund succeeded at the gateway but could not be recorded", err)
		return nil, fmt.Errorf("failed to record refund: %w", err)
	}
	if ord.PaymentStatus == order.StatusPaid {
		if _, err := o.store.TransitionPayment(ctx, ord.ID, order.StatusPaid, order.StatusRefunded, order.PaymentUpdate{}); err != nil {
			return nil, err
		}
	}
	log.AddField("refund_id", result.RefundID).Info("Refund completed")

	event := newEvent(EventRefundCompleted, ord.ID, gw.Name())
	event.RefundID = result.RefundID
	event.TransactionID = result.TransactionID
	event.Amount = amount
	event.Reason = req.Reason
	o.events.Publish(ctx, event)

	if result.Amount.IsZero() {
		result.Amount = amount
	}
	return result, nil
}

// refundNamespace scopes refund keys so they never collide with other name-based UUIDs
var refundNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("storepay:refund"))

// refundKey names one logical refund. A return is keyed by its id alone. A direct
// refund is keyed by the balance already refunded, so a retry after an unanswered
// call reuses the key while the next partial refund gets a new one.
func refundKey(orderID, returnID int64, refunded, amount decimal.Decimal) string {
	name := fmt.Sprintf("order:%d:return:%d", orderID, returnID)
	if returnID == 0 {
		name = fmt.Sprintf("order:%d:after:%s:amount:%s", orderID, refunded.StringFixed(2), amount.StringFixed(2))
	}
	return uuid.NewSHA1(refundNamespace, []byte(name)).String()
}

// extractTransactionID returns the first non-empty of transactionId, paymentId
// and the gateway's order id key
func extractTransactionID(payload map[string]any, gatewayOrderKey string) string {
	keys := transactionIDKeys
	if gatewayOrderKey != "" {
		keys = append(append([]string(nil), keys...), gatewayOrderKey)
	}
	for _, k := range keys {
		if v := strings.TrimSpace(provider.StringValue(payload, k)); v != "" {
			return v
		}
	}
	return ""
}

// confirmationPayload is stored as the order's payment details: the raw
// confirmation fields plus what the adapter extracted from them.
func confirmationPayload(conf provider.Confirmation, result *provider.PaymentResult) map[string]any {
	payload := order.MergeDetails(conf.Fields(), result.PaymentDetails)
	return withResult(payload, result)
}

func resultPayload(result *provider.PaymentResult) map[string]any {
	return withResult(order.MergeDetails(nil, result.PaymentDetails), result)
}

func withResult(payload map[string]any, result *provider.PaymentResult) map[string]any {
	if _, ok := payload["transactionId"]; !ok && result.TransactionID != "" {
		payload["transactionId"] = result.TransactionID
	}
	if result.GatewayPaymentID != "" {
		payload["gateway_payment_id"] = result.GatewayPaymentID
	}
	if result.ErrorMessage != "" {
		payload["error_message"] = result.ErrorMessage
	}
	return payload
}

// dedupKey identifies one outcome of one gateway transaction. A pending
// notification and the final one for the same transaction differ by status.
func dedupKey(gateway string, result *provider.PaymentResult) string {
	id := result.TransactionID
	if id == "" {
		id = provider.StringValue(result.PaymentDetails, "transaction_id")
	}
	if id == "" {
		id = result.GatewayPaymentID
	}
	if id == "" {
		return ""
	}
	return gateway + ":" + id + ":" + string(result.Status)
}

// IsClientError reports whether err was caused by the request rather than by us
func IsClientError(err error) bool {
	return errors.Is(err, provider.ErrValidation) ||
		errors.Is(err, provider.ErrSignature) ||
		errors.Is(err, provider.ErrPrecondition) ||
		errors.Is(err, provider.ErrMethodNotSupported) ||
		errors.Is(err, provider.ErrNotFound)
}
