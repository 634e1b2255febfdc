package payment

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers confirmations that were already applied, so a gateway that
// delivers the same webhook twice (or a redirect and a webhook for the same
// transaction) is acknowledged without touching the order again.
type Deduper interface {
	// Seen marks key and reports whether it was already marked
	Seen(ctx context.Context, key string) (bool, error)

	// Forget releases key so a delivery that failed midway can be retried
	Forget(ctx context.Context, key string) error
}

const defaultDedupTTL = 24 * time.Hour

type redisDeduper struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func (d *redisDeduper) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+":"+key, "1", d.ttl).Result()
	if err != nil {
		return false, err
	}
	// false => already exists => duplicate
	return !ok, nil
}

func (d *redisDeduper) Forget(ctx context.Context, key string) error {
	return d.client.Del(ctx, d.prefix+":"+key).Err()
}

type memoryDeduper struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	ttl    time.Duration
	nextGC time.Time
}

// NewMemoryDeduper keeps keys in process for ttl
func NewMemoryDeduper(ttl time.Duration) Deduper {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	return &memoryDeduper{
		seen:   make(map[string]time.Time),
		ttl:    ttl,
		nextGC: time.Now().Add(ttl),
	}
}

func (d *memoryDeduper) Seen(_ context.Context, key string) (bool, error) {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if exp, ok := d.seen[key]; ok && exp.After(now) {
		return true, nil
	}

	d.seen[key] = now.Add(d.ttl)
	if now.After(d.nextGC) {
		for k, exp := range d.seen {
			if exp.Before(now) {
				delete(d.seen, k)
			}
		}
		d.nextGC = now.Add(d.ttl)
	}

	return false, nil
}

func (d *memoryDeduper) Forget(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
	return nil
}

// NewDeduper builds a Redis deduper and falls back to in-memory when addr is
// empty or Redis cannot be reached. The returned client is nil on fallback.
func NewDeduper(addr, pass string, db int, ttl time.Duration) (Deduper, *redis.Client, error) {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	if addr == "" {
		return NewMemoryDeduper(ttl), nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: pass,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return NewMemoryDeduper(ttl), nil, err
	}

	return &redisDeduper{
		client: client,
		prefix: "storepay:confirmation",
		ttl:    ttl,
	}, client, nil
}
