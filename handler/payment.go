package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mstgnz/storepay/infra/logger"
	"github.com/mstgnz/storepay/infra/middle"
	"github.com/mstgnz/storepay/infra/response"
	"github.com/mstgnz/storepay/order"
	"github.com/mstgnz/storepay/payment"
	"github.com/mstgnz/storepay/provider"
	"github.com/shopspring/decimal"
)

const requestTimeout = 30 * time.Second

// PaymentService is the part of the orchestrator the HTTP layer drives
type PaymentService interface {
	InitializePayment(ctx context.Context, orderID int64) (*provider.PaymentResult, error)
	PayWithCard(ctx context.Context, orderID int64, card provider.CardData) (*provider.PaymentResult, error)
	PayWithWallet(ctx context.Context, orderID int64, wallet provider.WalletData) (*provider.PaymentResult, error)
	Refund(ctx context.Context, req payment.RefundRequest) (*provider.RefundResult, error)
	ProcessConfirmation(ctx context.Context, gateway string, conf provider.Confirmation) (*payment.ConfirmationOutcome, error)
}

// ReturnRefunder refunds approved return items
type ReturnRefunder interface {
	RefundReturn(ctx context.Context, returnID int64) (*provider.RefundResult, error)
}

// OrderReader loads orders for status lookups
type OrderReader interface {
	GetOrder(ctx context.Context, id int64) (*order.Order, error)
}

// PaymentHandler handles payment related HTTP requests
type PaymentHandler struct {
	payments PaymentService
	returns  ReturnRefunder
	orders   OrderReader
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(payments PaymentService, returns ReturnRefunder, orders OrderReader) *PaymentHandler {
	return &PaymentHandler{
		payments: payments,
		returns:  returns,
		orders:   orders,
	}
}

// PaymentStatusView is the storefront's view of an order's payment
type PaymentStatusView struct {
	OrderID       int64           `json:"orderId"`
	Status        string          `json:"status"`
	PaymentMethod string          `json:"paymentMethod"`
	PaymentID     string          `json:"paymentId,omitempty"`
	Total         decimal.Decimal `json:"total"`
	Attempts      int             `json:"attempts"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// refundBody is the JSON body of a direct refund
type refundBody struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

// InitializePayment starts a redirect payment for an order
func (h *PaymentHandler) InitializePayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	orderID, ok := orderIDParam(w, r, "orderID")
	if !ok {
		return
	}

	result, err := h.payments.InitializePayment(ctx, orderID)
	if err != nil {
		writeError(w, r, "Payment initialization failed", err)
		return
	}
	writePaymentResult(w, result)
}

// PayWithCard charges card data directly
func (h *PaymentHandler) PayWithCard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	orderID, ok := orderIDParam(w, r, "orderID")
	if !ok {
		return
	}

	var card provider.CardData
	if err := json.NewDecoder(r.Body).Decode(&card); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	result, err := h.payments.PayWithCard(ctx, orderID, card)
	if err != nil {
		writeError(w, r, "Card payment failed", err)
		return
	}
	writePaymentResult(w, result)
}

// PayWithWallet starts a mobile wallet payment
func (h *PaymentHandler) PayWithWallet(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	orderID, ok := orderIDParam(w, r, "orderID")
	if !ok {
		return
	}

	var wallet provider.WalletData
	if err := json.NewDecoder(r.Body).Decode(&wallet); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	result, err := h.payments.PayWithWallet(ctx, orderID, wallet)
	if err != nil {
		writeError(w, r, "Wallet payment failed", err)
		return
	}
	writePaymentResult(w, result)
}

// GetPaymentStatus returns the payment state of an order
func (h *PaymentHandler) GetPaymentStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	orderID, ok := orderIDParam(w, r, "orderID")
	if !ok {
		return
	}

	o, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeError(w, r, "Failed to get payment status", err)
		return
	}

	response.Success(w, http.StatusOK, "Payment status retrieved", PaymentStatusView{
		OrderID:       o.ID,
		Status:        string(o.PaymentStatus),
		PaymentMethod: o.PaymentMethod,
		PaymentID:     o.PaymentID,
		Total:         o.Total,
		Attempts:      o.PaymentAttempts,
		UpdatedAt:     o.UpdatedAt,
	})
}

// RefundPayment refunds part or all of a paid order
func (h *PaymentHandler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	orderID, ok := orderIDParam(w, r, "orderID")
	if !ok {
		return
	}

	var body refundBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	result, err := h.payments.Refund(ctx, payment.RefundRequest{
		OrderID: orderID,
		Amount:  body.Amount,
		Reason:  body.Reason,
	})
	if err != nil {
		writeError(w, r, "Refund failed", err)
		return
	}
	writeRefundResult(w, result)
}

// RefundReturn refunds the approved items of a return
func (h *PaymentHandler) RefundReturn(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	returnID, ok := orderIDParam(w, r, "returnID")
	if !ok {
		return
	}

	result, err := h.returns.RefundReturn(ctx, returnID)
	if err != nil {
		if result != nil && errors.Is(err, payment.ErrRefundFailed) {
			logger.Warn("Return refund declined", logger.LogContext{
				RequestID: middleware.GetReqID(r.Context()),
				Fields:    map[string]any{"return_id": returnID, "message": result.ErrorMessage},
			})
			response.Failure(w, http.StatusBadGateway, "Refund declined", result)
			return
		}
		writeError(w, r, "Return refund failed", err)
		return
	}
	writeRefundResult(w, result)
}

func writePaymentResult(w http.ResponseWriter, result *provider.PaymentResult) {
	switch {
	case result.Success:
		response.Success(w, http.StatusOK, "Payment processed", result)
	case result.RequiresAction:
		response.Success(w, http.StatusOK, "Payment requires customer action", result)
	default:
		response.Failure(w, http.StatusPaymentRequired, "Payment declined", result)
	}
}

func writeRefundResult(w http.ResponseWriter, result *provider.RefundResult) {
	switch {
	case result.NotApplicable:
		response.Success(w, http.StatusOK, "Refund not needed", result)
	case result.Success:
		response.Success(w, http.StatusOK, "Refund processed", result)
	default:
		response.Failure(w, http.StatusBadGateway, "Refund declined", result)
	}
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, provider.ErrValidation), errors.Is(err, provider.ErrMethodNotSupported):
		return http.StatusBadRequest
	case errors.Is(err, provider.ErrSignature):
		return http.StatusUnauthorized
	case errors.Is(err, provider.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, provider.ErrPrecondition), errors.Is(err, order.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, provider.ErrGateway), errors.Is(err, payment.ErrRefundFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error(message, err, logger.LogContext{
			RequestID: middleware.GetReqID(r.Context()),
			Fields:    map[string]any{"path": r.URL.Path, "client_ip": middle.GetClientIP(r)},
		})
		if status == http.StatusInternalServerError {
			// internal details stay in the log
			response.Error(w, status, message, errors.New("internal error"))
			return
		}
	}
	response.Error(w, status, message, err)
}

func orderIDParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		response.Error(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s", name), nil)
		return 0, false
	}
	return id, true
}
