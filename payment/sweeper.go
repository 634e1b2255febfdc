package payment

import (
	"context"
	"time"

	"github.com/mstgnz/storepay/infra/logger"
	"github.com/mstgnz/storepay/order"
	"github.com/mstgnz/storepay/provider"
	"github.com/robfig/cron/v3"
)

const (
	defaultPendingTTL    = 2 * time.Hour
	defaultSweepSchedule = "0 */5 * * * *"
)

// Sweeper fails checkouts that were started but never confirmed. Only orders
// on gateways that confirm asynchronously are considered.
type Sweeper struct {
	cron         *cron.Cron
	store        order.Store
	gateways     *provider.Factory
	orchestrator *Orchestrator
	ttl          time.Duration
	schedule     string
	now          func() time.Time
}

// NewSweeper creates a sweeper running on schedule (cron with seconds)
func NewSweeper(store order.Store, gateways *provider.Factory, orchestrator *Orchestrator, ttl time.Duration, schedule string) *Sweeper {
	if ttl <= 0 {
		ttl = defaultPendingTTL
	}
	if schedule == "" {
		schedule = defaultSweepSchedule
	}
	return &Sweeper{
		cron:         cron.New(cron.WithSeconds()),
		store:        store,
		gateways:     gateways,
		orchestrator: orchestrator,
		ttl:          ttl,
		schedule:     schedule,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Start registers the sweep job and starts the scheduler
func (s *Sweeper) Start() error {
	logger.Info("Starting pending payment sweeper", logger.LogContext{Fields: map[string]any{
		"schedule": s.schedule,
		"ttl":      s.ttl.String(),
	}})

	_, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			logger.Error("Pending payment sweep failed", err)
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for a running sweep
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	logger.Info("Pending payment sweeper stopped")
}

// Sweep fails every stale pending order and returns how many it failed
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	stale, err := s.store.StalePending(ctx, s.now().Add(-s.ttl))
	if err != nil {
		return 0, err
	}

	failed := 0
	for i := range stale {
		o := &stale[i]
		gw, err := s.gateways.ForOrder(o)
		if err != nil {
			logger.Warn("Skipping pending order with unknown payment method", logger.LogContext{
				OrderID: o.ID,
				Fields:  map[string]any{"method": o.PaymentMethod},
			})
			continue
		}
		if !gw.Supports(provider.FeatureWebhooks) {
			continue
		}

		updated, err := s.orchestrator.ProcessFailedPayment(ctx, o.ID, gw.Name(), map[string]any{
			"error_message": "payment timed out",
			"timed_out_at":  s.now().Format(time.RFC3339),
		})
		if err != nil {
			logger.Error("Failed to time out pending payment", err, logger.LogContext{OrderID: o.ID, Gateway: gw.Name()})
			continue
		}
		if updated.PaymentStatus == order.StatusFailed {
			failed++
		}
	}

	if failed > 0 {
		logger.Info("Timed out pending payments", logger.LogContext{Fields: map[string]any{"count": failed}})
	}
	return failed, nil
}
