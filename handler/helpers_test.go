package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mstgnz/storepay/infra/config"
	"github.com/mstgnz/storepay/infra/response"
	"github.com/mstgnz/storepay/order"
	"github.com/mstgnz/storepay/payment"
	"github.com/mstgnz/storepay/provider"
	"github.com/mstgnz/storepay/provider/cod"
	"github.com/mstgnz/storepay/provider/kashier"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	testAPIKey     = "test-api-key-12345"
	testSuccessURL = "https://shop.example/checkout/success"
	testFailureURL = "https://shop.example/checkout/failure?step=payment"
)

// stubPayments is a PaymentService whose behaviour is set per test
type stubPayments struct {
	initialize func(ctx context.Context, orderID int64) (*provider.PaymentResult, error)
	card       func(ctx context.Context, orderID int64, card provider.CardData) (*provider.PaymentResult, error)
	wallet     func(ctx context.Context, orderID int64, wallet provider.WalletData) (*provider.PaymentResult, error)
	refund     func(ctx context.Context, req payment.RefundRequest) (*provider.RefundResult, error)
	confirm    func(ctx context.Context, gateway string, conf provider.Confirmation) (*payment.ConfirmationOutcome, error)

	lastRefund payment.RefundRequest
	lastConf   provider.Confirmation
}

func (s *stubPayments) InitializePayment(ctx context.Context, orderID int64) (*provider.PaymentResult, error) {
	if s.initialize != nil {
		return s.initialize(ctx, orderID)
	}
	return provider.ActionRequired("Moda-1", "https://pay.example/Moda-1", "Continue to the payment page"), nil
}

func (s *stubPayments) PayWithCard(ctx context.Context, orderID int64, card provider.CardData) (*provider.PaymentResult, error) {
	if s.card != nil {
		return s.card(ctx, orderID, card)
	}
	return provider.Succeeded("Moda-1", "TX-1"), nil
}

func (s *stubPayments) PayWithWallet(ctx context.Context, orderID int64, wallet provider.WalletData) (*provider.PaymentResult, error) {
	if s.wallet != nil {
		return s.wallet(ctx, orderID, wallet)
	}
	return provider.ActionRequired("Moda-1", "", "Approve the payment on your phone"), nil
}

func (s *stubPayments) Refund(ctx context.Context, req payment.RefundRequest) (*provider.RefundResult, error) {
	s.lastRefund = req
	if s.refund != nil {
		return s.refund(ctx, req)
	}
	return provider.RefundSucceeded("RF-1", "TX-1", req.Amount), nil
}

func (s *stubPayments) ProcessConfirmation(ctx context.Context, gateway string, conf provider.Confirmation) (*payment.ConfirmationOutcome, error) {
	s.lastConf = conf
	if s.confirm != nil {
		return s.confirm(ctx, gateway, conf)
	}
	return nil, errors.New("not stubbed")
}

type stubReturns struct {
	result *provider.RefundResult
	err    error
}

func (s stubReturns) RefundReturn(context.Context, int64) (*provider.RefundResult, error) {
	return s.result, s.err
}

// testEnv wires the real orchestrator to Kashier and COD over an in-memory store
type testEnv struct {
	store        *order.MemoryStore
	orchestrator *payment.Orchestrator
	events       *payment.Recorder
	router       chi.Router
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := order.NewMemoryStore()
	factory := provider.NewFactory(map[string]string{"card": kashier.Name, "wallet": kashier.Name, "cod": cod.Name})
	kashier.Register(factory, config.KashierConfig{
		MerchantID:  "TEST-MID-12345",
		APIKey:      testAPIKey,
		SecretKey:   "kashier-secret",
		Mode:        config.ModeTest,
		TestBaseURL: "https://test-fep.kashier.io",
		LiveBaseURL: "https://fep.kashier.io",
		CheckoutURL: "https://checkout.kashier.io",
		Timeout:     time.Second,
	}, nil)
	cod.Register(factory)

	events := &payment.Recorder{}
	orch := payment.NewOrchestrator(store, factory, config.PaymentConfig{
		Currency:        "EGP",
		ReferencePrefix: "Moda",
		AppURL:          "https://api.shop.example",
	}, payment.WithPublisher(events))

	payments := NewPaymentHandler(orch, payment.NewRefundCoordinator(store, factory, orch), store)
	callbacks := NewCallbackHandler(orch, testSuccessURL, testFailureURL)

	r := chi.NewRouter()
	r.HandleFunc("/callback/{gateway}", callbacks.HandleCallback)
	r.Post("/webhooks/{gateway}", callbacks.HandleWebhook)
	r.Get("/v1/orders/{orderID}/payment", payments.GetPaymentStatus)
	r.Post("/v1/orders/{orderID}/payments", payments.InitializePayment)
	r.Post("/v1/returns/{returnID}/refund", payments.RefundReturn)

	return &testEnv{store: store, orchestrator: orch, events: events, router: r}
}

func (e *testEnv) createOrder(t *testing.T, id int64, method, total string, status order.PaymentStatus) *order.Order {
	t.Helper()
	o := &order.Order{
		ID:              id,
		Total:           decimal.RequireFromString(total),
		PaymentMethod:   method,
		PaymentStatus:   status,
		PaymentAttempts: 1,
		PaymentDetails:  map[string]any{"merchant_reference": "Moda-9"},
		Customer:        provider.Customer{FirstName: "Mona", LastName: "Adel", Email: "mona@example.com", Phone: "01010101010"},
	}
	require.NoError(t, e.store.CreateOrder(context.Background(), o))
	return o
}

func (e *testEnv) reload(t *testing.T, id int64) *order.Order {
	t.Helper()
	o, err := e.store.GetOrder(context.Background(), id)
	require.NoError(t, err)
	return o
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// route serves a single handler under pattern
func route(method, pattern string, h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Method(method, pattern, h)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	t.Helper()
	var resp response.Response
	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, &resp), string(body))
	return resp
}
