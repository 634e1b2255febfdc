package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// GatewayLog is one outbound exchange with a payment gateway
type GatewayLog struct {
	Timestamp time.Time   `json:"timestamp"`
	Gateway   string      `json:"gateway"`
	Operation string      `json:"operation"`
	Method    string      `json:"method"`
	Endpoint  string      `json:"endpoint"`
	RequestID string      `json:"request_id"`
	OrderID   int64       `json:"order_id,omitempty"`
	Reference string      `json:"reference,omitempty"`
	Amount    float64     `json:"amount,omitempty"`
	Currency  string      `json:"currency,omitempty"`
	Success   bool        `json:"success"`
	Request   RequestLog  `json:"request"`
	Response  ResponseLog `json:"response"`
	Error     ErrorInfo   `json:"error,omitempty"`
}

// RequestLog represents request details
type RequestLog struct {
	Body string `json:"body,omitempty"`
}

// ResponseLog represents response details
type ResponseLog struct {
	StatusCode       int    `json:"status_code"`
	Body             string `json:"body,omitempty"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
}

// ErrorInfo represents error details
type ErrorInfo struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Logger handles OpenSearch logging operations
type Logger struct {
	client *Client
}

// NewLogger creates a new OpenSearch logger
func NewLogger(client *Client) *Logger {
	return &Logger{
		client: client,
	}
}

// LogGatewayExchange indexes a sanitized gateway exchange
func (l *Logger) LogGatewayExchange(ctx context.Context, log GatewayLog) error {
	if !l.client.IsEnabled() {
		return nil
	}

	if log.Timestamp.IsZero() {
		log.Timestamp = time.Now().UTC()
	}
	if log.RequestID == "" {
		log.RequestID = uuid.New().String()
	}
	log.Request.Body = SanitizeForLog(log.Request.Body)
	log.Response.Body = SanitizeForLog(log.Response.Body)

	return l.index(ctx, l.client.GetLogIndexName(log.Gateway), log)
}

// LogSystemEvent logs a system event to OpenSearch
func (l *Logger) LogSystemEvent(ctx context.Context, entry any) error {
	if !l.client.IsEnabled() {
		return nil
	}
	return l.index(ctx, systemLogsIndex, entry)
}

func (l *Logger) index(ctx context.Context, indexName string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal log: %w", err)
	}

	req := opensearchapi.IndexRequest{
		Index: indexName,
		Body:  bytes.NewReader(body),
	}

	res, err := req.Do(ctx, l.client.GetClient())
	if err != nil {
		return fmt.Errorf("failed to index log: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("opensearch error: %s", res.String())
	}

	return nil
}

// SearchOrderLogs returns the most recent gateway exchanges for an order
func (l *Logger) SearchOrderLogs(ctx context.Context, gateway string, orderID int64) ([]GatewayLog, error) {
	if !l.client.IsEnabled() {
		return nil, fmt.Errorf("logging is disabled")
	}

	searchQuery := map[string]any{
		"query": map[string]any{
			"term": map[string]any{"order_id": orderID},
		},
		"sort": []map[string]any{
			{"timestamp": map[string]string{"order": "desc"}},
		},
		"size": 100,
	}

	queryJSON, err := json.Marshal(searchQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	req := opensearchapi.SearchRequest{
		Index: []string{l.client.GetLogIndexName(gateway)},
		Body:  bytes.NewReader(queryJSON),
	}

	res, err := req.Do(ctx, l.client.GetClient())
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("opensearch search error: %s", res.String())
	}

	var searchResult struct {
		Hits struct {
			Hits []struct {
				Source GatewayLog `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&searchResult); err != nil {
		return nil, fmt.Errorf("failed to decode search results: %w", err)
	}

	logs := make([]GatewayLog, len(searchResult.Hits.Hits))
	for i, hit := range searchResult.Hits.Hits {
		logs[i] = hit.Source
	}

	return logs, nil
}

var sensitivePatterns = compileSensitivePatterns(
	"cardNumber", "card_number", "cvv", "cvc", "cardHolderName", "card_holder_name",
	"apiKey", "api_key", "secretKey", "secret_key", "client_secret", "password", "token",
	"authorization", "hmac", "signature",
)

type sensitivePattern struct {
	field string
	res   []*regexp.Regexp
}

func compileSensitivePatterns(fields ...string) []sensitivePattern {
	out := make([]sensitivePattern, 0, len(fields))
	for _, field := range fields {
		out = append(out, sensitivePattern{
			field: field,
			res: []*regexp.Regexp{
				regexp.MustCompile(fmt.Sprintf(`"%s"\s*:\s*"[^"]*"`, field)),
				regexp.MustCompile(fmt.Sprintf(`"%s"\s*:\s*'[^']*'`, field)),
				regexp.MustCompile(fmt.Sprintf(`%s=[^&\s"]+`, field)),
			},
		})
	}
	return out
}

// SanitizeForLog redacts card data and credentials from a raw JSON or query body
func SanitizeForLog(data string) string {
	result := data
	for _, p := range sensitivePatterns {
		for _, re := range p.res {
			result = re.ReplaceAllString(result, fmt.Sprintf(`"%s":"***REDACTED***"`, p.field))
		}
	}
	return result
}
