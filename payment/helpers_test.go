package payment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mstgnz/storepay/infra/config"
	"github.com/mstgnz/storepay/order"
	"github.com/mstgnz/storepay/provider"
	"github.com/mstgnz/storepay/provider/cod"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// fakeGateway records calls and returns canned results
type fakeGateway struct {
	name     string
	features map[provider.Feature]bool
	orderKey string

	mu        sync.Mutex
	calls     map[string]int
	intents   []provider.PaymentIntent
	refunds   []provider.GatewayRefund
	initiate  *provider.PaymentResult
	card      *provider.PaymentResult
	wallet    *provider.PaymentResult
	refund    *provider.RefundResult
	refundLag time.Duration
	valid     bool
	interpret *provider.PaymentResult
}

func newFakeGateway(name string, features ...provider.Feature) *fakeGateway {
	g := &fakeGateway{
		name:     name,
		features: map[provider.Feature]bool{},
		orderKey: "gatewayOrderId",
		calls:    map[string]int{},
		valid:    true,
	}
	for _, f := range features {
		g.features[f] = true
	}
	return g
}

func (g *fakeGateway) record(op string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[op]++
}

func (g *fakeGateway) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

func (g *fakeGateway) TotalCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		n += c
	}
	return n
}

func (g *fakeGateway) Name() string { return g.name }
func (g *fakeGateway) Supports(f provider.Feature) bool { return g.features[f] }
func (g *fakeGateway) OrderIDKey() string { return g.orderKey }
func (g *fakeGateway) ValidateConfirmation(provider.Confirmation) bool { return g.valid }

func (g *fakeGateway) Initiate(_ context.Context, intent provider.PaymentIntent) (*provider.PaymentResult, error) {
	g.record("initiate")
	g.mu.Lock()
	g.intents = append(g.intents, intent)
	g.mu.Unlock()
	if g.initiate != nil {
		return g.initiate, nil
	}
	return provider.ActionRequired(intent.MerchantReference, "https://pay.example/"+intent.MerchantReference, "").
		WithDetail("intention_id", "pi_"+intent.MerchantReference), nil
}

func (g *fakeGateway) PayWithCard(_ context.Context, intent provider.PaymentIntent, _ provider.CardData) (*provider.PaymentResult, error) {
	g.record("card")
	g.mu.Lock()
	g.intents = append(g.intents, intent)
	g.mu.Unlock()
	if g.card != nil {
		return g.card, nil
	}
	return provider.Succeeded(intent.MerchantReference, "TX-CARD").WithDetail("gatewayOrderId", "GO-1"), nil
}

func (g *fakeGateway) PayWithWallet(_ context.Context, intent provider.PaymentIntent, _ provider.WalletData) (*provider.PaymentResult, error) {
	g.record("wallet")
	if g.wallet != nil {
		return g.wallet, nil
	}
	return provider.ActionRequired(intent.MerchantReference, "https://wallet.example/otp", ""), nil
}

func (g *fakeGateway) InterpretConfirmation(provider.Confirmation) (*provider.PaymentResult, error) {
	g.record("interpret")
	if g.interpret == nil {
		return nil, provider.NewValidationError("reference", "missing")
	}
	return g.interpret, nil
}

func (g *fakeGateway) Refund(_ context.Context, req provider.GatewayRefund) (*provider.RefundResult, error) {
	g.record("refund")
	if g.refundLag > 0 {
		time.Sleep(g.refundLag)
	}
	g.mu.Lock()
	g.refunds = append(g.refunds, req)
	g.mu.Unlock()
	if g.refund != nil {
		return g.refund, nil
	}
	return provider.RefundSucceeded("RF-1", "TX-CARD", req.Amount), nil
}

type harness struct {
	store        *order.MemoryStore
	factory      *provider.Factory
	events       *Recorder
	orchestrator *Orchestrator
	gateway      *fakeGateway
}

func testPaymentConfig() config.PaymentConfig {
	return config.PaymentConfig{
		Currency:        "EGP",
		ReferencePrefix: "Moda",
		AppURL:          "https://api.shop.example/",
		SuccessURL:      "https://shop.example/checkout/success",
		FailureURL:      "https://shop.example/checkout/failure",
		GatewayTimeout:  time.Second,
		PendingTTL:      2 * time.Hour,
		DedupTTL:        time.Hour,
	}
}

// newHarness wires an orchestrator to a fake "fakepay" gateway serving the
// "card" and "wallet" methods, plus cash on delivery
func newHarness(t *testing.T, gw *fakeGateway) *harness {
	t.Helper()
	if gw == nil {
		gw = newFakeGateway("fakepay", provider.FeatureCards, provider.FeatureWallets,
			provider.FeatureRefunds, provider.FeatureWebhooks, provider.FeatureHostedCheckout)
	}

	f := provider.NewFactory(map[string]string{
		"card":   gw.name,
		"wallet": gw.name,
		"cod":    cod.Name,
	})
	f.Register(gw.name, func() (provider.Gateway, error) { return gw, nil })
	cod.Register(f)

	h := &harness{
		store:   order.NewMemoryStore(),
		factory: f,
		events:  &Recorder{},
		gateway: gw,
	}
	h.orchestrator = NewOrchestrator(h.store, f, testPaymentConfig(), WithPublisher(h.events))
	return h
}

func (h *harness) newOrder(t *testing.T, method, total string, status order.PaymentStatus) *order.Order {
	t.Helper()
	o := &order.Order{
		Total:         decimal.RequireFromString(total),
		PaymentMethod: method,
		PaymentStatus: status,
		Customer:      provider.Customer{FirstName: "Mona", LastName: "Adel", Email: "mona@example.com", Phone: "01010101010"},
	}
	require.NoError(t, h.store.CreateOrder(context.Background(), o))
	return o
}

func (h *harness) reload(t *testing.T, id int64) *order.Order {
	t.Helper()
	o, err := h.store.GetOrder(context.Background(), id)
	require.NoError(t, err)
	return o
}

func validCard() provider.CardData {
	return provider.CardData{
		HolderName:  "Mona Adel",
		Number:      "5123 4500 0000 0008",
		ExpiryMonth: 5,
		ExpiryYear:  2030,
		CVV:         "100",
	}
}
