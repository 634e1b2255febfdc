package payment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mstgnz/storepay/infra/logger"
	"github.com/mstgnz/storepay/infra/opensearch"
	"github.com/shopspring/decimal"
)

// EventType names a domain event
type EventType string

const (
	EventPaymentSucceeded EventType = "payment.succeeded"
	EventPaymentFailed    EventType = "payment.failed"
	EventRefundCompleted  EventType = "refund.completed"
)

// Event is published after the corresponding state change is committed
type Event struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	OrderID       int64           `json:"order_id"`
	Gateway       string          `json:"gateway"`
	TransactionID string          `json:"transaction_id,omitempty"`
	RefundID      string          `json:"refund_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

func newEvent(t EventType, orderID int64, gateway string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		OrderID:    orderID,
		Gateway:    gateway,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher delivers domain events to whoever sends notifications, updates
// inventory and so on. Publish must not block the payment flow.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(ctx context.Context, event Event)

func (f PublisherFunc) Publish(ctx context.Context, event Event) { f(ctx, event) }

type logPublisher struct {
	search *opensearch.Logger
}

// NewLogPublisher logs every event and, when search is non-nil, indexes it as a system event
func NewLogPublisher(search *opensearch.Logger) Publisher {
	return &logPublisher{search: search}
}

func (p *logPublisher) Publish(_ context.Context, event Event) {
	logger.Info("Payment event: "+string(event.Type), logger.LogContext{
		Gateway: event.Gateway,
		OrderID: event.OrderID,
		Fields: map[string]any{
			"event_id":       event.ID,
			"transaction_id": event.TransactionID,
			"refund_id":      event.RefundID,
			"amount":         event.Amount.StringFixed(2),
		},
	})

	if p.search == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.search.LogSystemEvent(ctx, event); err != nil {
			logger.Warn("Failed to index payment event", logger.LogContext{
				OrderID: event.OrderID,
				Fields:  map[string]any{"event": string(event.Type), "error": err.Error()},
			})
		}
	}()
}

// Recorder keeps published events in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of everything published so far
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of type t
func (r *Recorder) OfType(t EventType) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) {}
