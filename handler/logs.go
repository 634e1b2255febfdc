package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/mstgnz/storepay/infra/opensearch"
	"github.com/mstgnz/storepay/infra/response"
)

// LogSearcher reads indexed gateway exchanges
type LogSearcher interface {
	SearchOrderLogs(ctx context.Context, gateway string, orderID int64) ([]opensearch.GatewayLog, error)
}

// GatewayResolver maps an order's payment method to its gateway
type GatewayResolver interface {
	GatewayName(method string) (string, error)
}

// LogsHandler serves the audit trail of gateway calls made for an order
type LogsHandler struct {
	search   LogSearcher
	orders   OrderReader
	gateways GatewayResolver
}

// NewLogsHandler creates a new logs handler. A nil search disables the endpoint.
func NewLogsHandler(search LogSearcher, orders OrderReader, gateways GatewayResolver) *LogsHandler {
	return &LogsHandler{search: search, orders: orders, gateways: gateways}
}

// OrderLogs lists gateway exchanges for an order, newest first. The gateway
// defaults to the one serving the order's payment method.
func (h *LogsHandler) OrderLogs(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if h.search == nil {
		response.Error(w, http.StatusServiceUnavailable, "Gateway logging is disabled", nil)
		return
	}

	orderID, ok := orderIDParam(w, r, "orderID")
	if !ok {
		return
	}

	gateway := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("gateway")))
	if gateway == "" {
		o, err := h.orders.GetOrder(ctx, orderID)
		if err != nil {
			writeError(w, r, "Failed to load order", err)
			return
		}
		gateway, err = h.gateways.GatewayName(o.PaymentMethod)
		if err != nil {
			writeError(w, r, "Failed to resolve gateway", err)
			return
		}
	}

	logs, err := h.search.SearchOrderLogs(ctx, gateway, orderID)
	if err != nil {
		writeError(w, r, "Failed to search logs", err)
		return
	}

	response.Success(w, http.StatusOK, "Logs retrieved", map[string]any{
		"orderId": orderID,
		"gateway": gateway,
		"count":   len(logs),
		"logs":    logs,
	})
}
