package order

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/mstgnz/storepay/provider"
	"github.com/shopspring/decimal"
)

// MemoryStore keeps everything in process. Used in tests and when no database
// path is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	orders   map[int64]*Order
	returns  map[int64]*ReturnOrder
	refunds  map[int64][]Refund
	nextID   int64
	nextRet  int64
	nextItem int64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:  make(map[int64]*Order),
		returns: make(map[int64]*ReturnOrder),
		refunds: make(map[int64][]Refund),
	}
}

func (s *MemoryStore) CreateOrder(_ context.Context, o *Order) error {
	details, err := cloneDetails(o.PaymentDetails)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if o.ID == 0 {
		s.nextID++
		o.ID = s.nextID
	} else if o.ID > s.nextID {
		s.nextID = o.ID
	}
	stampOrder(o)

	stored := *o
	stored.PaymentDetails = details
	s.orders[o.ID] = &stored
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id int64) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyOrder(o)
}

func (s *MemoryStore) TransitionPayment(_ context.Context, id int64, from, to PaymentStatus, update PaymentUpdate) (bool, error) {
	if err := checkTransition(from, to); err != nil {
		return false, err
	}
	details, err := cloneDetails(update.Details)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return false, ErrNotFound
	}
	if o.PaymentStatus != from {
		return false, nil
	}

	o.PaymentStatus = to
	if update.PaymentID != "" {
		o.PaymentID = update.PaymentID
	}
	if update.Details != nil {
		o.PaymentDetails = details
	}
	o.UpdatedAt = now()
	return true, nil
}

func (s *MemoryStore) MergePaymentDetails(_ context.Context, id int64, details map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	merged, err := cloneDetails(MergeDetails(o.PaymentDetails, details))
	if err != nil {
		return err
	}
	o.PaymentDetails = merged
	o.UpdatedAt = now()
	return nil
}

func (s *MemoryStore) IncrementAttempts(_ context.Context, id int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return 0, ErrNotFound
	}
	o.PaymentAttempts++
	o.UpdatedAt = now()
	return o.PaymentAttempts, nil
}

func (s *MemoryStore) StalePending(_ context.Context, cutoff time.Time) ([]Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Order
	for _, o := range s.orders {
		if o.PaymentStatus == StatusPending && o.PaymentAttempts > 0 && o.UpdatedAt.Before(cutoff) {
			c, err := copyOrder(o)
			if err != nil {
				return nil, err
			}
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) AddRefund(_ context.Context, r *Refund) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[r.OrderID]; !ok {
		return ErrNotFound
	}
	if r.ReturnID != 0 {
		if _, ok := s.findReturnRefund(r.ReturnID); ok {
			return ErrDuplicateRefund
		}
	}
	stampRefund(r)
	s.refunds[r.OrderID] = append(s.refunds[r.OrderID], *r)
	return nil
}

func (s *MemoryStore) RefundedTotal(_ context.Context, orderID int64) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, r := range s.refunds[orderID] {
		total = total.Add(r.Amount)
	}
	return total, nil
}

func (s *MemoryStore) ReturnRefund(_ context.Context, returnID int64) (*Refund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.findReturnRefund(returnID)
	if !ok {
		return nil, ErrRefundNotFound
	}
	return &r, nil
}

func (s *MemoryStore) findReturnRefund(returnID int64) (Refund, bool) {
	for _, refunds := range s.refunds {
		for _, r := range refunds {
			if r.ReturnID == returnID {
				return r, true
			}
		}
	}
	return Refund{}, false
}

func (s *MemoryStore) CreateReturn(_ context.Context, r *ReturnOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[r.OrderID]; !ok {
		return ErrNotFound
	}
	if r.ID == 0 {
		s.nextRet++
		r.ID = s.nextRet
	} else if r.ID > s.nextRet {
		s.nextRet = r.ID
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now()
	}

	stored := *r
	stored.Items = make([]ReturnItem, len(r.Items))
	for i, item := range r.Items {
		if item.ID == 0 {
			s.nextItem++
			item.ID = s.nextItem
			r.Items[i].ID = item.ID
		}
		stored.Items[i] = item
	}
	s.returns[r.ID] = &stored
	return nil
}

func (s *MemoryStore) GetReturn(_ context.Context, id int64) (*ReturnOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.returns[id]
	if !ok {
		return nil, ErrReturnNotFound
	}
	out := *r
	out.Items = append([]ReturnItem(nil), r.Items...)
	if r.RefundedAt != nil {
		at := *r.RefundedAt
		out.RefundedAt = &at
	}
	return &out, nil
}

func (s *MemoryStore) MarkReturnRefunded(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.returns[id]
	if !ok {
		return ErrReturnNotFound
	}
	at = at.UTC()
	r.RefundedAt = &at
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func copyOrder(o *Order) (*Order, error) {
	details, err := cloneDetails(o.PaymentDetails)
	if err != nil {
		return nil, err
	}
	out := *o
	out.PaymentDetails = details
	if o.ShippingAddress != nil {
		addr := *o.ShippingAddress
		out.ShippingAddress = &addr
	}
	return &out, nil
}

func stampOrder(o *Order) {
	if o.PaymentStatus == "" {
		o.PaymentStatus = StatusPending
	}
	o.Total = o.Total.Round(2)
	t := now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = t
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = o.CreatedAt
	}
}

func stampRefund(r *Refund) {
	if r.ID == "" {
		r.ID = newRefundID()
	}
	r.Amount = r.Amount.Round(2)
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now()
	}
}

// encodeDetails and decodeDetails give both stores the same JSON view of
// payment details, numbers included.
func encodeDetails(details map[string]any) (string, error) {
	if len(details) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(details)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeDetails(raw string) (map[string]any, error) {
	if raw == "" || raw == "{}" || raw == "null" {
		return map[string]any{}, nil
	}
	return provider.DecodeJSON([]byte(raw))
}

func cloneDetails(details map[string]any) (map[string]any, error) {
	raw, err := encodeDetails(details)
	if err != nil {
		return nil, err
	}
	return decodeDetails(raw)
}
