package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rty23111-ctrl/agent-identity/internal/kv"
)

const (
	KeyPrefix = "rate:"

	// counters outlive their window by this much
	ttlGrace = 5 * time.Second
)

type Decision struct {
	Allowed           bool
	Bucket            string
	IP                string
	Count             int64
	Limit             int
	WindowSeconds     int
	RetryAfterSeconds int
}

// Limiter is a fixed-window counter per bucket and client IP. When the
// store implements kv.Incrementer the bump is a single atomic operation;
// otherwise it is a read followed by a write and concurrent callers may
// over-count, never under-count.
type Limiter struct {
	store kv.Store
	cfg   Config
	now   func() time.Time
}

func NewLimiter(store kv.Store, cfg Config) *Limiter {
	return &Limiter{store: store, cfg: cfg, now: time.Now}
}

func (l *Limiter) SetClock(now func() time.Time) {
	l.now = now
}

// Allow checks bucket against its configured ceiling and window.
func (l *Limiter) Allow(ctx context.Context, bucket, ip string) (Decision, error) {
	return l.Check(ctx, bucket, ip, l.cfg.Max(bucket), l.cfg.Window())
}

func (l *Limiter) Check(ctx context.Context, bucket, ip string, maxRequests, windowSeconds int) (Decision, error) {
	if maxRequests < 1 {
		maxRequests = 1
	}
	if windowSeconds < 1 {
		windowSeconds = 1
	}

	windowID := l.now().Unix() / int64(windowSeconds)
	key := fmt.Sprintf("%s%s:%s:%d", KeyPrefix, bucket, ip, windowID)
	ttl := time.Duration(windowSeconds)*time.Second + ttlGrace

	count, err := l.bump(ctx, key, ttl)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{
		Allowed:       count <= int64(maxRequests),
		Bucket:        bucket,
		IP:            ip,
		Count:         count,
		Limit:         maxRequests,
		WindowSeconds: windowSeconds,
	}
	if !d.Allowed {
		d.RetryAfterSeconds = windowSeconds
	}
	return d, nil
}

func (l *Limiter) bump(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if inc, ok := l.store.(kv.Incrementer); ok {
		n, err := inc.Incr(ctx, key, ttl)
		if err != nil {
			return 0, fmt.Errorf("rate limit increment: %w", err)
		}
		return n, nil
	}

	var current int64
	raw, err := l.store.Get(ctx, key)
	switch {
	case errors.Is(err, kv.ErrNotFound):
	case err != nil:
		return 0, fmt.Errorf("rate limit read: %w", err)
	default:
		current, _ = strconv.ParseInt(string(raw), 10, 64)
	}

	next := current + 1
	if err := l.store.Put(ctx, key, []byte(strconv.FormatInt(next, 10)), ttl); err != nil {
		return 0, fmt.Errorf("rate limit write: %w", err)
	}
	return next, nil
}
