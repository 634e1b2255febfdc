package paymob

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/mstgnz/storepay/provider"
	"github.com/mstgnz/storepay/provider/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConfirmationPaymob(t *testing.T) *Paymob {
	t.Helper()
	p, err := New(testConfig("https://accept.paymob.com"), nil)
	require.NoError(t, err)
	return p
}

func transactionObj(success, pending bool) map[string]any {
	return map[string]any{
		"id":           json.Number("192036465"),
		"pending":      pending,
		"success":      success,
		"amount_cents": json.Number("15075"),
		"currency":     "EGP",
		"order": map[string]any{
			"id":                json.Number("217503754"),
			"merchant_order_id": "Moda-12-2",
		},
		"data": map[string]any{"message": "Insufficient funds"},
	}
}

func signedWebhook(t *testing.T, obj map[string]any, headerSig bool) provider.Confirmation {
	t.Helper()
	conf := provider.Confirmation{
		Source:  provider.SourceWebhook,
		Payload: map[string]any{"type": "TRANSACTION", "obj": obj},
		Headers: http.Header{},
	}
	sig, ok := signature.SignKeyList(testHMACSecret, fields(conf), defaultSignatureKeys)
	require.True(t, ok)

	if headerSig {
		conf.Headers.Set("X-Paymob-Signature", sig)
	} else {
		conf.Payload["hmac"] = sig
	}
	raw, err := json.Marshal(conf.Payload)
	require.NoError(t, err)
	conf.RawBody = raw
	return conf
}

func TestFields_FlattensWebhook(t *testing.T) {
	conf := provider.Confirmation{Payload: map[string]any{"type": "TRANSACTION", "obj": transactionObj(true, false)}}
	data := fields(conf)

	assert.Equal(t, "Moda-12-2", data["merchant_order_id"])
	assert.Equal(t, "217503754", provider.StringValue(data, "order_id"))
	assert.NotContains(t, data, "order")

	// the confirmation payload is not modified
	assert.Contains(t, conf.Payload["obj"].(map[string]any), "order")
}

func TestValidateConfirmation_Webhook(t *testing.T) {
	p := newConfirmationPaymob(t)

	assert.True(t, p.ValidateConfirmation(signedWebhook(t, transactionObj(true, false), true)))
	assert.True(t, p.ValidateConfirmation(signedWebhook(t, transactionObj(true, false), false)))

	tampered := signedWebhook(t, transactionObj(true, false), true)
	tampered.Payload["obj"].(map[string]any)["amount_cents"] = json.Number("100")
	assert.False(t, p.ValidateConfirmation(tampered))

	flipped := signedWebhook(t, transactionObj(true, false), true)
	flipped.Payload["obj"].(map[string]any)["success"] = false
	assert.False(t, p.ValidateConfirmation(flipped))

	unsigned := signedWebhook(t, transactionObj(true, false), true)
	unsigned.Headers = http.Header{}
	assert.False(t, p.ValidateConfirmation(unsigned))

	missingKey := signedWebhook(t, transactionObj(true, false), true)
	delete(missingKey.Payload["obj"].(map[string]any), "currency")
	assert.False(t, p.ValidateConfirmation(missingKey))

	assert.False(t, p.ValidateConfirmation(provider.Confirmation{Source: provider.SourceWebhook}))
}

func TestValidateConfirmation_QueryHMAC(t *testing.T) {
	p := newConfirmationPaymob(t)

	conf := signedWebhook(t, transactionObj(true, false), true)
	sig := conf.Headers.Get("X-Paymob-Signature")
	conf.Headers = http.Header{}
	conf.Query = signature.ParseQuery("hmac=" + sig)
	assert.True(t, p.ValidateConfirmation(conf))

	conf.Query = signature.ParseQuery("hmac=deadbeef")
	assert.False(t, p.ValidateConfirmation(conf))
}

func TestValidateConfirmation_ExplicitKeyList(t *testing.T) {
	p := newConfirmationPaymob(t)

	payload := map[string]any{
		"id":                "192036465",
		"merchant_order_id": "Moda-12-2",
		"success":           true,
		"signatureKeys":     []any{"success", "merchant_order_id", "id"},
	}
	conf := provider.Confirmation{Source: provider.SourceWebhook, Payload: payload, Headers: http.Header{}}
	sig, ok := signature.SignKeyList(testHMACSecret, fields(conf), []string{"id", "merchant_order_id", "success"})
	require.True(t, ok)
	conf.Headers.Set("x-paymob-signature", sig)

	assert.True(t, p.ValidateConfirmation(conf))

	payload["signatureKeys"] = "id,success"
	assert.False(t, p.ValidateConfirmation(conf))
}

func TestValidateConfirmation_Redirect(t *testing.T) {
	p := newConfirmationPaymob(t)

	query := "id=192036465&pending=false&amount_cents=15075&success=true&currency=EGP&order=217503754&merchant_order_id=Moda-12-2"
	conf := provider.Confirmation{Source: provider.SourceRedirect, Query: signature.ParseQuery(query)}
	sig, ok := signature.SignKeyList(testHMACSecret, fields(conf), defaultSignatureKeys)
	require.True(t, ok)

	signed := provider.Confirmation{Source: provider.SourceRedirect, Query: signature.ParseQuery(query + "&hmac=" + sig)}
	assert.True(t, p.ValidateConfirmation(signed))
	assert.False(t, p.ValidateConfirmation(conf))
}

func TestInterpretConfirmation(t *testing.T) {
	p := newConfirmationPaymob(t)

	tests := []struct {
		name    string
		success bool
		pending bool
		paid    bool
		action  bool
	}{
		{name: "paid", success: true, paid: true},
		{name: "declined", success: false},
		{name: "pending", success: false, pending: true, action: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := p.InterpretConfirmation(signedWebhook(t, transactionObj(tt.success, tt.pending), true))
			require.NoError(t, err)

			assert.Equal(t, tt.paid, result.Success)
			assert.Equal(t, tt.action, result.RequiresAction)
			assert.Equal(t, "Moda-12-2", result.OrderReference)
			assert.Equal(t, "150.75", result.Amount.StringFixed(2))
			assert.Equal(t, "217503754", result.GatewayPaymentID)
			assert.Equal(t, "192036465", result.PaymentDetails["transaction_id"])
			if tt.paid {
				assert.Equal(t, "192036465", result.TransactionID)
			}
			if !tt.paid && !tt.action {
				assert.Equal(t, "Insufficient funds", result.ErrorMessage)
			}
		})
	}
}

func TestInterpretConfirmation_RedirectStrings(t *testing.T) {
	p := newConfirmationPaymob(t)

	conf := provider.Confirmation{
		Source: provider.SourceRedirect,
		Query:  signature.ParseQuery("id=55&pending=false&success=true&amount_cents=1000&currency=EGP&order=77&merchant_order_id=Moda-3"),
	}
	result, err := p.InterpretConfirmation(conf)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "55", result.TransactionID)
	assert.Equal(t, "77", result.GatewayPaymentID)
	assert.Equal(t, "10.00", result.Amount.StringFixed(2))
}

func TestInterpretConfirmation_FractionalCents(t *testing.T) {
	p := newConfirmationPaymob(t)

	_, err := p.InterpretConfirmation(provider.Confirmation{
		Source: provider.SourceRedirect,
		Query:  signature.ParseQuery("id=55&pending=false&success=true&amount_cents=1000.5&currency=EGP&order=77&merchant_order_id=Moda-3"),
	})
	assert.ErrorIs(t, err, provider.ErrValidation)
}

func TestInterpretConfirmation_MissingReference(t *testing.T) {
	p := newConfirmationPaymob(t)

	_, err := p.InterpretConfirmation(provider.Confirmation{
		Source: provider.SourceRedirect,
		Query:  signature.ParseQuery("id=55&success=true"),
	})
	assert.ErrorIs(t, err, provider.ErrValidation)
}
