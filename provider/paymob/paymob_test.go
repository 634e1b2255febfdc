package paymob

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mstgnz/storepay/infra/config"
	"github.com/mstgnz/storepay/provider"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecretKey  = "egy_sk_test_123"
	testPublicKey  = "egy_pk_test_456"
	testHMACSecret = "paymob-hmac-secret"
)

func testConfig(baseURL string) config.PaymobConfig {
	return config.PaymobConfig{
		SecretKey:           testSecretKey,
		PublicKey:           testPublicKey,
		HMACSecret:          testHMACSecret,
		IntegrationIDs:      []int{4567, 8910},
		Mode:                config.ModeTest,
		TestBaseURL:         baseURL,
		LiveBaseURL:         "https://accept.paymob.com",
		CheckoutURLTemplate: "https://accept.paymob.com/unifiedcheckout/?publicKey={publicKey}&clientSecret={clientSecret}",
		Timeout:             time.Second,
	}
}

func newTestPaymob(t *testing.T, handler http.HandlerFunc) (*Paymob, *int32) {
	t.Helper()
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	p, err := New(testConfig(server.URL), nil)
	require.NoError(t, err)
	return p, &calls
}

func testIntent(t *testing.T) provider.PaymentIntent {
	t.Helper()
	intent, err := provider.NewPaymentIntent(12, 2, decimal.RequireFromString("150.75"), "EGP", Name, "Moda",
		provider.ReturnURLs{
			Success: "https://shop.example/checkout/success",
			Failure: "https://shop.example/checkout/failure",
			Webhook: "https://api.example/webhooks/paymob",
		},
		provider.Customer{
			FirstName: "Mona",
			LastName:  "Adel",
			Email:     "mona@example.com",
			Phone:     "+201010101010",
			Address:   &provider.Address{Street: "9 Tahrir St", City: "Cairo", Country: "EG"},
		},
	)
	require.NoError(t, err)
	return intent
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig("https://accept.paymob.com")
	cfg.IntegrationIDs = nil
	_, err := New(cfg, nil)
	assert.Error(t, err)

	cfg = testConfig("https://accept.paymob.com")
	cfg.HMACSecret = ""
	_, err = New(cfg, nil)
	assert.Error(t, err)
}

func TestPaymob_Supports(t *testing.T) {
	p, err := New(testConfig("https://accept.paymob.com"), nil)
	require.NoError(t, err)

	assert.True(t, p.Supports(provider.FeatureRefunds))
	assert.True(t, p.Supports(provider.FeatureWebhooks))
	assert.True(t, p.Supports(provider.FeatureHostedCheckout))
	assert.False(t, p.Supports(provider.FeatureCards))
	assert.False(t, p.Supports(provider.FeatureWallets))
	assert.False(t, p.Supports(provider.FeatureRecurring))
}

func TestPaymob_Initiate(t *testing.T) {
	var got map[string]any
	var gotAuth, gotPath string

	p, _ := newTestPaymob(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusCreated, `{
			"id": "pi_test_abc",
			"client_secret": "egy_csk_test_xyz",
			"intention_order_id": 987654,
			"special_reference": "Moda-12-2",
			"status": "intended"
		}`)
	})

	result, err := p.Initiate(context.Background(), testIntent(t))
	require.NoError(t, err)

	assert.Equal(t, "/v1/intention/", gotPath)
	assert.Equal(t, "Token "+testSecretKey, gotAuth)
	assert.Equal(t, float64(15075), got["amount"])
	assert.Equal(t, "EGP", got["currency"])
	assert.Equal(t, "Moda-12-2", got["special_reference"])
	assert.Equal(t, []any{float64(4567), float64(8910)}, got["payment_methods"])
	assert.Equal(t, "https://api.example/webhooks/paymob", got["notification_url"])

	bd := got["billing_data"].(map[string]any)
	assert.Equal(t, "Mona", bd["first_name"])
	assert.Equal(t, "9 Tahrir St", bd["street"])
	assert.Equal(t, "Cairo", bd["city"])
	assert.Equal(t, "NA", bd["floor"])

	assert.True(t, result.RequiresAction)
	assert.Equal(t, "https://accept.paymob.com/unifiedcheckout/?publicKey=egy_pk_test_456&clientSecret=egy_csk_test_xyz", result.RedirectURL)
	assert.Equal(t, "pi_test_abc", result.PaymentDetails["intention_id"])
	assert.Equal(t, "egy_csk_test_xyz", result.PaymentDetails["client_secret"])
	assert.Equal(t, "987654", result.PaymentDetails["intention_order_id"])
	assert.Equal(t, int64(15075), result.PaymentDetails["amount_cents"])
}

func TestPaymob_Initiate_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{name: "server_error", status: http.StatusServiceUnavailable, body: `oops`, message: "Paymob is temporarily unavailable"},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{}`, message: "Paymob rejected the merchant credentials"},
		{name: "validation_detail", status: http.StatusBadRequest, body: `{"detail":"billing_data.email is invalid"}`, message: "billing_data.email is invalid"},
		{name: "missing_client_secret", status: http.StatusCreated, body: `{"id":"pi_1"}`, message: "Paymob did not return a client secret"},
		{name: "malformed", status: http.StatusCreated, body: `[`, message: "Malformed response from Paymob"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newTestPaymob(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})

			result, err := p.Initiate(context.Background(), testIntent(t))
			require.NoError(t, err)
			assert.False(t, result.Success)
			assert.False(t, result.RequiresAction)
			assert.Equal(t, tt.message, result.ErrorMessage)
		})
	}
}

func TestPaymob_DirectPaymentsNotSupported(t *testing.T) {
	p, calls := newTestPaymob(t, func(w http.ResponseWriter, r *http.Request) {})

	result, err := p.PayWithCard(context.Background(), testIntent(t), provider.CardData{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.ErrorMessage)

	result, err = p.PayWithWallet(context.Background(), testIntent(t), provider.WalletData{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Zero(t, atomic.LoadInt32(calls))
}

func TestPaymob_Refund(t *testing.T) {
	tests := []struct {
		name      string
		details   map[string]any
		paymentID string
		wantTxID  string
		status    int
		body      string
		success   bool
	}{
		{
			name:     "transaction_id_detail",
			details:  map[string]any{"transaction_id": "111", "obj": map[string]any{"id": json.Number("222")}, "id": "333"},
			wantTxID: "111",
			status:   http.StatusOK,
			body:     `{"id": 5550001, "success": true, "pending": false, "is_refund": true, "amount_cents": 4025}`,
			success:  true,
		},
		{
			name:     "webhook_obj_id",
			details:  map[string]any{"type": "TRANSACTION", "obj": map[string]any{"id": json.Number("222")}},
			wantTxID: "222",
			status:   http.StatusOK,
			body:     `{"id": 5550002, "success": true}`,
			success:  true,
		},
		{
			name:     "redirect_id",
			details:  map[string]any{"id": "333"},
			wantTxID: "333",
			status:   http.StatusOK,
			body:     `{"id": 5550003, "success": true}`,
			success:  true,
		},
		{
			name:      "payment_id_fallback",
			details:   map[string]any{"intention_id": "pi_1"},
			paymentID: "444",
			wantTxID:  "444",
			status:    http.StatusOK,
			body:      `{"id": 5550004, "success": false, "data": {"message": "Transaction already refunded"}}`,
		},
		{
			name:     "pending_refund",
			details:  map[string]any{"id": "333"},
			wantTxID: "333",
			status:   http.StatusOK,
			body:     `{"id": 5550005, "success": true, "pending": true}`,
		},
		{
			name:     "server_error",
			details:  map[string]any{"id": "333"},
			wantTxID: "333",
			status:   http.StatusBadGateway,
			body:     `bad gateway`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got map[string]any
			var gotAuth, gotPath string

			p, _ := newTestPaymob(t, func(w http.ResponseWriter, r *http.Request) {
				gotAuth = r.Header.Get("Authorization")
				gotPath = r.URL.Path
				_ = json.NewDecoder(r.Body).Decode(&got)
				writeJSON(w, tt.status, tt.body)
			})

			result, err := p.Refund(context.Background(), provider.GatewayRefund{
				OrderID:          12,
				Amount:           decimal.RequireFromString("40.25"),
				Currency:         "EGP",
				GatewayPaymentID: tt.paymentID,
				PaymentDetails:   tt.details,
			})
			require.NoError(t, err)

			assert.Equal(t, "/api/acceptance/void_refund/refund", gotPath)
			assert.Equal(t, "Token "+testSecretKey, gotAuth)
			assert.Equal(t, tt.wantTxID, got["transaction_id"])
			assert.Equal(t, float64(4025), got["amount_cents"])

			assert.Equal(t, tt.success, result.Success)
			if tt.success {
				assert.NotEmpty(t, result.RefundID)
				assert.Equal(t, tt.wantTxID, result.TransactionID)
			} else {
				assert.NotEmpty(t, result.ErrorMessage)
			}
		})
	}
}

func TestPaymob_Refund_NoTransactionID(t *testing.T) {
	p, calls := newTestPaymob(t, func(w http.ResponseWriter, r *http.Request) {})

	_, err := p.Refund(context.Background(), provider.GatewayRefund{OrderID: 12, Amount: decimal.NewFromInt(5)})
	assert.ErrorIs(t, err, provider.ErrValidation)
	assert.Zero(t, atomic.LoadInt32(calls))
}

func TestRegister(t *testing.T) {
	f := provider.NewFactory(map[string]string{"paymob": Name})

	Register(f, config.PaymobConfig{}, nil)
	_, err := f.ForMethod("paymob")
	assert.ErrorIs(t, err, provider.ErrMethodNotSupported)

	Register(f, testConfig("https://accept.paymob.com"), nil)
	gw, err := f.ForMethod("paymob")
	require.NoError(t, err)
	assert.Equal(t, Name, gw.Name())
}
