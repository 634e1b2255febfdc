package kashier

import (
	"strings"

	"github.com/mstgnz/storepay/provider"
	"github.com/mstgnz/storepay/provider/signature"
)

// ValidateConfirmation authenticates a browser redirect by the signature over its
// query and a webhook by the X-Kashier-Signature HMAC over data.signatureKeys.
func (k *Kashier) ValidateConfirmation(conf provider.Confirmation) bool {
	switch conf.Source {
	case provider.SourceRedirect:
		return signature.VerifyResponse(k.cfg.APIKey, conf.Query)
	case provider.SourceWebhook:
		data := conf.Data()
		keys, ok := signature.SignatureKeys(data)
		if !ok {
			return false
		}
		supplied := signature.HeaderValue(conf.Headers, headerWebhookSig)
		return signature.VerifyKeyList(k.cfg.APIKey, data, keys, supplied)
	default:
		return false
	}
}

// InterpretConfirmation maps an authenticated redirect or webhook to a result.
// The reference is Kashier's merchantOrderId, i.e. our merchant reference.
func (k *Kashier) InterpretConfirmation(conf provider.Confirmation) (*provider.PaymentResult, error) {
	fields := conf.Fields()

	ref := provider.StringValue(fields, "merchantOrderId")
	if ref == "" {
		return nil, provider.NewValidationError("merchantOrderId", "is missing from the %s confirmation", conf.Source)
	}

	status := strings.ToUpper(provider.StringValue(fields, "paymentStatus"))
	if status == "" {
		status = strings.ToUpper(provider.StringValue(fields, "status"))
	}

	var result *provider.PaymentResult
	switch status {
	case envelopeSuccess, statusCaptured, statusAuthorized:
		result = provider.Succeeded(ref, firstNonEmpty(fields, "transactionId", "paymentId", "kashierOrderId", "orderId"))
	case statusPending, statusInitiated:
		result = provider.ActionRequired(ref, "", "Payment is still being processed")
	default:
		msg := provider.StringValue(fields, "message")
		if msg == "" {
			msg = provider.StringValue(fields, "errorMessage")
		}
		result = provider.Failed(ref, msg)
	}

	if amount, ok := provider.DecimalValue(fields, "amount"); ok {
		result.Amount = amount
	}
	result.Currency = provider.StringValue(fields, "currency")

	if id := firstNonEmpty(fields, "kashierOrderId", "orderId"); id != "" {
		result.GatewayPaymentID = id
		result.WithDetail("kashierOrderId", id)
	}
	for _, key := range []string{"transactionId", "orderReference", "method", "maskedCard", "cardBrand"} {
		if v := provider.StringValue(fields, key); v != "" {
			result.WithDetail(key, v)
		}
	}
	result.WithDetail("status", status)

	return result.WithRaw([]byte(conf.Raw())), nil
}

func firstNonEmpty(fields map[string]any, keys ...string) string {
	for _, key := range keys {
		if v := provider.StringValue(fields, key); v != "" {
			return v
		}
	}
	return ""
}
