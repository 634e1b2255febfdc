package paymob

import (
	"strings"

	"github.com/mstgnz/storepay/provider"
	"github.com/mstgnz/storepay/provider/signature"
)

// defaultSignatureKeys are signed when a confirmation does not name its own keys
var defaultSignatureKeys = []string{"amount_cents", "currency", "id", "merchant_order_id", "order_id", "pending", "success"}

// fields flattens a Paymob confirmation. Webhooks wrap the transaction in "obj"
// with the order nested inside; redirects carry flat query parameters.
func fields(conf provider.Confirmation) map[string]any {
	src := conf.Fields()
	if obj := provider.MapValue(conf.Payload, "obj"); obj != nil {
		src = obj
	}

	out := make(map[string]any, len(src)+2)
	for k, v := range src {
		out[k] = v
	}
	if order := provider.MapValue(src, "order"); order != nil {
		if _, ok := out["order_id"]; !ok {
			out["order_id"] = order["id"]
		}
		if _, ok := out["merchant_order_id"]; !ok {
			if ref := provider.StringValue(order, "merchant_order_id"); ref != "" {
				out["merchant_order_id"] = ref
			}
		}
	}
	if _, ok := out["order_id"]; !ok {
		if v, ok := out["order"]; ok {
			out["order_id"] = v
		}
	}
	if _, ok := out["merchant_order_id"]; !ok {
		if ref := provider.StringValue(out, "special_reference"); ref != "" {
			out["merchant_order_id"] = ref
		}
	}
	delete(out, "order")
	return out
}

// ValidateConfirmation checks the signed key list under the HMAC secret. The
// signature is read from the X-Paymob-Signature header, the "hmac" field or the
// "hmac" query parameter.
func (p *Paymob) ValidateConfirmation(conf provider.Confirmation) bool {
	data := fields(conf)
	if len(data) == 0 {
		return false
	}

	keys, ok := signature.SignatureKeys(data)
	if !ok {
		if _, present := data["signatureKeys"]; present {
			return false
		}
		keys = defaultSignatureKeys
	}

	supplied := signature.HeaderValue(conf.Headers, headerSignature)
	if supplied == "" {
		supplied = provider.StringValue(conf.Payload, "hmac")
	}
	if supplied == "" {
		supplied = provider.StringValue(data, "hmac")
	}
	if supplied == "" {
		supplied = conf.Query.Get("hmac")
	}
	return signature.VerifyKeyList(p.cfg.HMACSecret, data, keys, supplied)
}

// InterpretConfirmation maps an authenticated confirmation to a result. The
// reference is the special_reference we sent at intention time.
func (p *Paymob) InterpretConfirmation(conf provider.Confirmation) (*provider.PaymentResult, error) {
	data := fields(conf)

	ref := provider.StringValue(data, "merchant_order_id")
	if ref == "" {
		return nil, provider.NewValidationError("merchant_order_id", "is missing from the %s confirmation", conf.Source)
	}

	txID := provider.StringValue(data, "id")

	var result *provider.PaymentResult
	switch {
	case truthy(data["pending"]):
		result = provider.ActionRequired(ref, "", "Payment is still being processed")
	case truthy(data["success"]):
		result = provider.Succeeded(ref, txID)
	default:
		msg := provider.StringValue(provider.MapValue(data, "data"), "message")
		if msg == "" {
			msg = provider.StringValue(data, "txn_response_code")
		}
		result = provider.Failed(ref, msg)
	}

	if cents, ok := provider.DecimalValue(data, "amount_cents"); ok {
		if !cents.IsInteger() {
			return nil, provider.NewValidationError("amount_cents", "%s is not a whole number of cents", cents)
		}
		result.Amount = provider.FromMinorUnits(cents.IntPart())
	}
	result.Currency = provider.StringValue(data, "currency")

	if orderID := provider.StringValue(data, "order_id"); orderID != "" {
		result.GatewayPaymentID = orderID
		result.WithDetail("order_id", orderID)
	}
	if txID != "" {
		result.WithDetail("transaction_id", txID)
	}
	if ref := provider.StringValue(data, "special_reference"); ref != "" {
		result.WithDetail("special_reference", ref)
	}

	return result.WithRaw([]byte(conf.Raw())), nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "true") || t == "1"
	default:
		return false
	}
}
