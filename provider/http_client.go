package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// DefaultGatewayTimeout bounds every gateway call when no timeout is configured
const DefaultGatewayTimeout = 30 * time.Second

// HTTPClientConfig represents configuration for a gateway HTTP client
type HTTPClientConfig struct {
	BaseURL        string
	Timeout        time.Duration
	DefaultHeaders map[string]string
}

// HTTPRequest represents a standardized gateway request
type HTTPRequest struct {
	Method      string
	Endpoint    string
	Headers     map[string]string
	Body        any
	QueryParams map[string]string

	// audit context
	Operation string
	OrderID   int64
	Reference string
	Amount    decimal.Decimal
	Currency  string
	RequestID string
}

// HTTPResponse represents a gateway response
type HTTPResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// GatewayHTTPClient sends requests to one gateway. It never retries: a timeout or
// a non-2xx answer is reported once as a GatewayError and the caller decides.
type GatewayHTTPClient struct {
	gateway string
	r       *resty.Client
	audit   AuditLogger
}

// NewGatewayHTTPClient creates a client bound to a gateway base URL
func NewGatewayHTTPClient(gateway string, cfg HTTPClientConfig, audit AuditLogger) *GatewayHTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultGatewayTimeout
	}
	if audit == nil {
		audit = NopAudit{}
	}

	r := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "StorePay/1.0")
	for key, value := range cfg.DefaultHeaders {
		r.SetHeader(key, value)
	}

	return &GatewayHTTPClient{gateway: gateway, r: r, audit: audit}
}

// SendJSON sends a JSON request. On transport failure or a non-2xx status it
// returns a *GatewayError; the response is still returned when one was received.
func (c *GatewayHTTPClient) SendJSON(ctx context.Context, req *HTTPRequest) (*HTTPResponse, error) {
	if req.Method == "" {
		req.Method = http.MethodPost
	}

	r := c.r.R().
		SetContext(ctx).
		SetHeaders(req.Headers).
		SetQueryParams(req.QueryParams)
	if req.Body != nil {
		r.SetHeader("Content-Type", "application/json").SetBody(req.Body)
	}

	start := time.Now()
	resp, err := r.Execute(req.Method, req.Endpoint)
	elapsed := time.Since(start)

	rec := ExchangeRecord{
		Gateway:     c.gateway,
		Operation:   req.Operation,
		Method:      req.Method,
		Endpoint:    req.Endpoint,
		OrderID:     req.OrderID,
		Reference:   req.Reference,
		Amount:      req.Amount,
		Currency:    req.Currency,
		RequestID:   req.RequestID,
		RequestBody: req.Body,
		Duration:    elapsed,
	}

	if err != nil {
		gerr := &GatewayError{Gateway: c.gateway, Operation: req.Operation, Err: transportError(err)}
		rec.Err = gerr
		c.audit.LogExchange(ctx, rec)
		return nil, gerr
	}

	out := &HTTPResponse{
		StatusCode: resp.StatusCode(),
		Headers:    resp.Header(),
		Body:       resp.Body(),
		Duration:   elapsed,
	}
	rec.StatusCode = out.StatusCode
	rec.ResponseBody = out.Body

	if out.StatusCode < 200 || out.StatusCode >= 300 {
		gerr := &GatewayError{
			Gateway:    c.gateway,
			Operation:  req.Operation,
			StatusCode: out.StatusCode,
			Body:       string(out.Body),
		}
		rec.Err = gerr
		c.audit.LogExchange(ctx, rec)
		return out, gerr
	}

	c.audit.LogExchange(ctx, rec)
	return out, nil
}

func transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
		return fmt.Errorf("request timed out: %w", err)
	}
	return fmt.Errorf("request failed: %w", err)
}
