package provider

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeMap(t *testing.T) {
	input := map[string]any{
		"amount": "150.75",
		"paymentMethod": map[string]any{
			"type": "card",
			"card": map[string]any{
				"cardHolderName": "Mona Adel",
				"cardNumber":     "5123 4500 0000 0008",
				"cvv":            "100",
				"expiryMonth":    "05",
				"expiryYear":     "30",
			},
		},
		"items":         []any{map[string]any{"card_number": "4111111111111111"}},
		"Authorization": "sk_live_123",
		"client_secret": "csk_abc",
	}

	out := SanitizeMap(input)

	card := out["paymentMethod"].(map[string]any)["card"].(map[string]any)
	assert.Equal(t, "5123********0008", card["cardNumber"])
	assert.Equal(t, "***", card["cvv"])
	assert.Equal(t, "**", card["expiryMonth"])
	assert.Equal(t, "Mona Adel", card["cardHolderName"])

	items := out["items"].([]any)
	assert.Equal(t, "4111********1111", items[0].(map[string]any)["card_number"])

	assert.Equal(t, "***REDACTED***", out["Authorization"])
	assert.Equal(t, "***REDACTED***", out["client_secret"])
	assert.Equal(t, "150.75", out["amount"])

	// input untouched
	assert.Equal(t, "100", input["paymentMethod"].(map[string]any)["card"].(map[string]any)["cvv"])
}

func TestMaskCardNumber(t *testing.T) {
	assert.Equal(t, "****", maskCardNumber("1234"))
	assert.Equal(t, "****", maskCardNumber("1234-5678"))
	assert.Equal(t, "5123********0008", maskCardNumber("5123-4500-0000-0008"))
}

func TestSanitizedBody(t *testing.T) {
	type cardBody struct {
		Number string `json:"number"`
		CVV    string `json:"cvv"`
		Amount string `json:"amount"`
	}

	raw := sanitizedBody(cardBody{Number: "5123450000000008", CVV: "123", Amount: "10.00"})
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	assert.Equal(t, "5123********0008", got["number"])
	assert.Equal(t, "***", got["cvv"])
	assert.Equal(t, "10.00", got["amount"])
	assert.NotContains(t, raw, "5123450000000008")

	assert.Equal(t, "", sanitizedBody(nil))
}
