package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mstgnz/storepay/infra/logger"
	"github.com/mstgnz/storepay/order"
	"github.com/mstgnz/storepay/provider"
	"github.com/mstgnz/storepay/provider/cod"
)

// ErrRefundFailed is returned when the gateway declined a returns-driven refund
var ErrRefundFailed = errors.New("refund failed")

// RefundCoordinator refunds approved return lines through the orchestrator
type RefundCoordinator struct {
	store        order.Store
	gateways     *provider.Factory
	orchestrator *Orchestrator
	now          func() time.Time
}

// NewRefundCoordinator creates a coordinator sharing the orchestrator's store and gateways
func NewRefundCoordinator(store order.Store, gateways *provider.Factory, orchestrator *Orchestrator) *RefundCoordinator {
	return &RefundCoordinator{
		store:        store,
		gateways:     gateways,
		orchestrator: orchestrator,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// RefundReturn refunds the approved lines of a return. Cash on delivery orders
// need no refund and succeed without a gateway call. refunded_at is set only
// after the gateway confirms; on failure the return is left as it was and the
// error is returned. A return is refunded at most once: the orchestrator checks
// for a recorded refund under the order lock, and a refund recorded by an earlier
// attempt that could not set refunded_at is completed here without a gateway call.
func (c *RefundCoordinator) RefundReturn(ctx context.Context, returnID int64) (*provider.RefundResult, error) {
	ret, err := c.store.GetReturn(ctx, returnID)
	if err != nil {
		return nil, err
	}
	if ret.RefundedAt != nil {
		return nil, provider.NewPreconditionError(ret.OrderID, "return %d was already refunded", ret.ID)
	}

	amount := ret.ApprovedTotal()
	if !amount.IsPositive() {
		return nil, provider.NewValidationError("items", "return %d has no approved items to refund", ret.ID)
	}

	ord, err := c.store.GetOrder(ctx, ret.OrderID)
	if err != nil {
		return nil, err
	}
	gw, err := c.gateways.ForOrder(ord)
	if err != nil {
		return nil, err
	}

	log := logger.WithOrder(ord.ID, gw.Name()).
		AddField("return_id", ret.ID).
		AddField("amount", provider.FormatAmount(amount))

	if gw.Name() == cod.Name {
		log.Info("Refund not needed for cash on delivery order")
		return &provider.RefundResult{
			Success:       true,
			NotApplicable: true,
			Amount:        amount,
			ErrorMessage:  "refund not needed for cash on delivery",
		}, nil
	}

	prior, err := c.store.ReturnRefund(ctx, ret.ID)
	switch {
	case err == nil:
		if err := c.store.MarkReturnRefunded(ctx, ret.ID, c.now()); err != nil {
			return nil, fmt.Errorf("failed to mark return refunded: %w", err)
		}
		log.AddField("refund_id", prior.GatewayRefundID).Info("Return marked refunded from an earlier refund")
		return provider.RefundSucceeded(prior.GatewayRefundID, "", prior.Amount), nil
	case !errors.Is(err, order.ErrRefundNotFound):
		return nil, err
	}

	result, err := c.orchestrator.Refund(ctx, RefundRequest{
		OrderID:  ord.ID,
		Amount:   amount,
		Reason:   ret.Reason,
		ReturnID: ret.ID,
	})
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return result, fmt.Errorf("%w: %s", ErrRefundFailed, result.ErrorMessage)
	}

	if err := c.store.MarkReturnRefunded(ctx, ret.ID, c.now()); err != nil {
		log.Error("Refund succeeded but the return could not be marked refunded", err)
		return result, fmt.Errorf("failed to mark return refunded: %w", err)
	}
	log.AddField("refund_id", result.RefundID).Info("Return refunded")
	return result, nil
}
