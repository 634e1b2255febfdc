package payment

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	r.Publish(context.Background(), newEvent(EventPaymentSucceeded, 1, "kashier"))
	r.Publish(context.Background(), newEvent(EventRefundCompleted, 1, "kashier"))

	assert.Len(t, r.Events(), 2)
	assert.Len(t, r.OfType(EventRefundCompleted), 1)
	assert.Empty(t, r.OfType(EventPaymentFailed))
}

func TestNewEvent(t *testing.T) {
	e := newEvent(EventPaymentFailed, 42, "paymob")
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, int64(42), e.OrderID)
	assert.Equal(t, "paymob", e.Gateway)
	assert.False(t, e.OccurredAt.IsZero())
	assert.NotEqual(t, e.ID, newEvent(EventPaymentFailed, 42, "paymob").ID)
}

func TestPublisherFunc(t *testing.T) {
	var got []EventType
	p := PublisherFunc(func(_ context.Context, e Event) { got = append(got, e.Type) })
	p.Publish(context.Background(), newEvent(EventPaymentSucceeded, 1, "cod"))
	assert.Equal(t, []EventType{EventPaymentSucceeded}, got)
}

func TestLogPublisher_WithoutSearch(t *testing.T) {
	e := newEvent(EventRefundCompleted, 7, "kashier")
	e.Amount = decimal.RequireFromString("12.50")
	assert.NotPanics(t, func() {
		NewLogPublisher(nil).Publish(context.Background(), e)
	})
}
