package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mstgnz/storepay/infra/logger"
	"github.com/mstgnz/storepay/infra/response"
	"github.com/mstgnz/storepay/order"
	"github.com/mstgnz/storepay/provider"
	"github.com/mstgnz/storepay/provider/signature"
)

const maxConfirmationBody = 1 << 20

// CallbackHandler receives gateway redirects and webhooks
type CallbackHandler struct {
	payments   PaymentService
	successURL string
	failureURL string
}

// NewCallbackHandler creates a callback handler redirecting browsers to the storefront pages
func NewCallbackHandler(payments PaymentService, successURL, failureURL string) *CallbackHandler {
	return &CallbackHandler{
		payments:   payments,
		successURL: successURL,
		failureURL: failureURL,
	}
}

// WebhookAck is returned to gateways after a webhook is applied
type WebhookAck struct {
	OrderID   int64  `json:"orderId"`
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

// HandleCallback applies a browser redirect and sends the customer to the storefront
func (h *CallbackHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	gateway := chi.URLParam(r, "gateway")
	log := logger.WithGateway(gateway).SetRequestID(middleware.GetReqID(r.Context()))

	conf, err := readConfirmation(r, provider.SourceRedirect)
	if err != nil {
		log.Warn("Unreadable payment callback")
		h.redirectFailure(w, r, 0, "invalid_request", err)
		return
	}

	outcome, err := h.payments.ProcessConfirmation(ctx, gateway, conf)
	if err != nil {
		log.AddField("error", err.Error()).Warn("Payment callback rejected")
		h.redirectFailure(w, r, 0, errorCode(err), err)
		return
	}

	status := outcome.Order.PaymentStatus
	if status == order.StatusFailed {
		h.redirectFailure(w, r, outcome.Order.ID, "payment_failed", nil)
		return
	}

	if h.successURL == "" {
		response.Success(w, http.StatusOK, "Payment callback processed", WebhookAck{
			OrderID:   outcome.Order.ID,
			Status:    string(status),
			Duplicate: outcome.Duplicate,
		})
		return
	}
	http.Redirect(w, r, withQuery(h.successURL, url.Values{
		"orderId": {strconv.FormatInt(outcome.Order.ID, 10)},
		"status":  {string(status)},
	}), http.StatusFound)
}

func (h *CallbackHandler) redirectFailure(w http.ResponseWriter, r *http.Request, orderID int64, code string, err error) {
	if h.failureURL == "" {
		if err == nil {
			err = errors.New(code)
		}
		writeError(w, r, "Payment callback failed", err)
		return
	}

	params := url.Values{"status": {string(order.StatusFailed)}, "error": {code}}
	if orderID > 0 {
		params.Set("orderId", strconv.FormatInt(orderID, 10))
	}
	http.Redirect(w, r, withQuery(h.failureURL, params), http.StatusFound)
}

// HandleWebhook applies a server-to-server notification. It answers synchronously
// so the gateway retries when applying fails.
func (h *CallbackHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	gateway := chi.URLParam(r, "gateway")

	conf, err := readConfirmation(r, provider.SourceWebhook)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid webhook payload", err)
		return
	}

	outcome, err := h.payments.ProcessConfirmation(ctx, gateway, conf)
	if err != nil {
		writeError(w, r, "Webhook rejected", err)
		return
	}

	message := "Webhook processed"
	if outcome.Duplicate {
		message = "Webhook already processed"
	}
	response.Success(w, http.StatusOK, message, WebhookAck{
		OrderID:   outcome.Order.ID,
		Status:    string(outcome.Order.PaymentStatus),
		Duplicate: outcome.Duplicate,
	})
}

// readConfirmation captures a confirmation exactly as received. The query keeps its
// original order since redirect signatures cover it verbatim.
func readConfirmation(r *http.Request, source provider.ConfirmationSource) (provider.Confirmation, error) {
	conf := provider.Confirmation{
		Source:  source,
		Query:   signature.ParseQuery(r.URL.RawQuery),
		Headers: r.Header.Clone(),
	}
	if r.Body == nil {
		return conf, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxConfirmationBody+1))
	if err != nil {
		return conf, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxConfirmationBody {
		return conf, provider.NewValidationError("body", "exceeds %d bytes", maxConfirmationBody)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return conf, nil
	}
	conf.RawBody = body

	if strings.Contains(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		conf.Query = append(conf.Query, signature.ParseQuery(string(body))...)
		return conf, nil
	}

	payload, err := provider.DecodeJSON(body)
	if err != nil {
		return conf, provider.NewValidationError("body", "is not valid JSON")
	}
	conf.Payload = payload
	return conf, nil
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, provider.ErrSignature):
		return "invalid_signature"
	case errors.Is(err, provider.ErrNotFound):
		return "unknown_order"
	case errors.Is(err, provider.ErrValidation):
		return "invalid_request"
	case errors.Is(err, provider.ErrPrecondition):
		return "order_not_payable"
	default:
		return "processing_error"
	}
}

func withQuery(base string, params url.Values) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
