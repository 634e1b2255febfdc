package provider

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/mstgnz/storepay/infra/logger"
	"github.com/mstgnz/storepay/infra/opensearch"
	"github.com/shopspring/decimal"
)

// ExchangeRecord is one request/response pair with a gateway
type ExchangeRecord struct {
	Gateway      string
	Operation    string
	Method       string
	Endpoint     string
	OrderID      int64
	Reference    string
	Amount       decimal.Decimal
	Currency     string
	RequestID    string
	StatusCode   int
	RequestBody  any
	ResponseBody []byte
	Duration     time.Duration
	Err          error
}

// AuditLogger records gateway exchanges for operational diagnosis
type AuditLogger interface {
	LogExchange(ctx context.Context, rec ExchangeRecord)
}

// NopAudit discards every record
type NopAudit struct{}

func (NopAudit) LogExchange(context.Context, ExchangeRecord) {}

type openSearchAudit struct {
	logger  *opensearch.Logger
	timeout time.Duration
}

// NewOpenSearchAudit indexes sanitized exchanges in the gateway's log index.
// Indexing runs in the background so a slow cluster never delays a payment.
func NewOpenSearchAudit(l *opensearch.Logger) AuditLogger {
	if l == nil {
		return NopAudit{}
	}
	return &openSearchAudit{logger: l, timeout: 5 * time.Second}
}

func (a *openSearchAudit) LogExchange(_ context.Context, rec ExchangeRecord) {
	entry := opensearch.GatewayLog{
		Timestamp: time.Now().UTC(),
		Gateway:   rec.Gateway,
		Operation: rec.Operation,
		Method:    rec.Method,
		Endpoint:  rec.Endpoint,
		RequestID: rec.RequestID,
		OrderID:   rec.OrderID,
		Reference: rec.Reference,
		Amount:    rec.Amount.InexactFloat64(),
		Currency:  rec.Currency,
		Success:   rec.Err == nil && rec.StatusCode >= 200 && rec.StatusCode < 300,
		Request:   opensearch.RequestLog{Body: sanitizedBody(rec.RequestBody)},
		Response: opensearch.ResponseLog{
			StatusCode:       rec.StatusCode,
			Body:             string(rec.ResponseBody),
			ProcessingTimeMs: rec.Duration.Milliseconds(),
		},
	}
	if rec.Err != nil {
		entry.Error = opensearch.ErrorInfo{Code: "GATEWAY_ERROR", Message: rec.Err.Error()}
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.logger.LogGatewayExchange(ctx, entry); err != nil {
			logger.Warn("failed to index gateway exchange", logger.LogContext{
				Gateway: rec.Gateway,
				OrderID: rec.OrderID,
				Fields:  map[string]any{"operation": rec.Operation, "error": err.Error()},
			})
		}
	}()
}

// sanitizedBody renders a request body as JSON with card data masked
func sanitizedBody(body any) string {
	if body == nil {
		return ""
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return opensearch.SanitizeForLog(string(raw))
	}
	out, err := json.Marshal(SanitizeMap(m))
	if err != nil {
		return ""
	}
	return string(out)
}

// SanitizeMap returns a copy of data with card numbers masked and CVVs and
// credentials redacted, at any depth
func SanitizeMap(data map[string]any) map[string]any {
	if sanitized, ok := sanitizeValue(data).(map[string]any); ok {
		return sanitized
	}
	return data
}

func sanitizeValue(data any) any {
	switch v := data.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, value := range v {
			out[key] = sanitizeField(key, value)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = sanitizeValue(item)
		}
		return out
	default:
		return v
	}
}

func sanitizeField(key string, value any) any {
	k := strings.ToLower(key)
	switch {
	case strings.Contains(k, "cardnumber") || strings.Contains(k, "card_number") || k == "pan":
		if s, ok := value.(string); ok {
			return maskCardNumber(s)
		}
		return "***REDACTED***"
	case strings.Contains(k, "cvv") || strings.Contains(k, "cvc"):
		return "***"
	case k == "number":
		if s, ok := value.(string); ok {
			return maskCardNumber(s)
		}
		return "***REDACTED***"
	case strings.Contains(k, "expiry"):
		return "**"
	case strings.Contains(k, "secret") || strings.Contains(k, "password") || k == "authorization" || k == "token" || k == "hmac" || k == "api_key":
		return "***REDACTED***"
	default:
		return sanitizeValue(value)
	}
}

// maskCardNumber keeps the first and last four digits
func maskCardNumber(cardNumber string) string {
	cleaned := strings.ReplaceAll(strings.ReplaceAll(cardNumber, " ", ""), "-", "")
	if len(cleaned) <= 8 {
		return "****"
	}
	return cleaned[:4] + "********" + cleaned[len(cleaned)-4:]
}
