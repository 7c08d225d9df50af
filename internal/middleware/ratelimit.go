package middleware

import (
	"context"
	"sync"
	"time"

	"mcpcore/internal/errs"
	"mcpcore/internal/jsonrpc"
)

// TokenBucket is a simple token-bucket limiter: tokens refill continuously
// at refillRate per second up to maxTokens, and Allow consumes one token if
// available.
//
// Grounded verbatim on go-claw's internal/gateway/ratelimit.go TokenBucket.
type TokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
	lastAccess time.Time
}

// NewTokenBucket builds a bucket allowing requestsPerMinute sustained,
// bursting up to burstSize.
func NewTokenBucket(requestsPerMinute, burstSize int) *TokenBucket {
	rate := float64(requestsPerMinute) / 60.0
	now := time.Now()
	return &TokenBucket{
		tokens:     float64(burstSize),
		maxTokens:  float64(burstSize),
		refillRate: rate,
		lastRefill: now,
		lastAccess: now,
	}
}

// Allow reports whether a request may proceed, consuming a token if so.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}
	tb.lastRefill = now
	tb.lastAccess = now

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true
	}
	return false
}

// LastAccess reports when Allow was last called on this bucket.
func (tb *TokenBucket) LastAccess() time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.lastAccess
}

// KeyFunc extracts the rate-limit bucketing key from an inbound request:
// by session, by method, globally, or by a caller-supplied rule.
type KeyFunc func(sessionID string, req *jsonrpc.Request) string

// ByClientID buckets on the session id, so each client gets its own budget.
func ByClientID(sessionID string, req *jsonrpc.Request) string { return sessionID }

// ByMethod buckets on the method name, so a noisy method can't starve
// others sharing the same session.
func ByMethod(sessionID string, req *jsonrpc.Request) string { return req.Method }

// Global buckets every request into a single shared budget.
func Global(sessionID string, req *jsonrpc.Request) string { return "" }

// RateLimiter is an inbound Middleware enforcing a token-bucket budget per
// key, with a background sweep evicting buckets idle past maxAge.
type RateLimiter struct {
	mu                sync.RWMutex
	buckets           map[string]*TokenBucket
	requestsPerMinute int
	burstSize         int
	keyFunc           KeyFunc
}

// NewRateLimiter builds a RateLimiter. keyFunc selects the bucketing
// strategy (ByClientID, ByMethod, Global, or a custom KeyFunc).
func NewRateLimiter(requestsPerMinute, burstSize int, keyFunc KeyFunc) *RateLimiter {
	if keyFunc == nil {
		keyFunc = ByClientID
	}
	return &RateLimiter{
		buckets:           make(map[string]*TokenBucket),
		requestsPerMinute: requestsPerMinute,
		burstSize:         burstSize,
		keyFunc:           keyFunc,
	}
}

// Middleware returns the Middleware enforcing this limiter's budget.
func (rl *RateLimiter) Middleware() Middleware {
	return func(next Next) Next {
		return func(ctx context.Context, sessionID string, req *jsonrpc.Request) *jsonrpc.Response {
			key := rl.keyFunc(sessionID, req)
			bucket := rl.getBucket(key)
			if !bucket.Allow() {
				return jsonrpc.NewError(req.ID, errs.New(errs.RateLimitError, "rate limit exceeded"))
			}
			return next(ctx, sessionID, req)
		}
	}
}

func (rl *RateLimiter) getBucket(key string) *TokenBucket {
	rl.mu.RLock()
	bucket, exists := rl.buckets[key]
	rl.mu.RUnlock()
	if exists {
		return bucket
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if bucket, exists = rl.buckets[key]; exists {
		return bucket
	}
	bucket = NewTokenBucket(rl.requestsPerMinute, rl.burstSize)
	rl.buckets[key] = bucket
	return bucket
}

// BucketCount reports how many distinct keys currently have a bucket.
func (rl *RateLimiter) BucketCount() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.buckets)
}

// StartEviction launches a goroutine that periodically removes buckets idle
// past maxAge, bounding memory growth from unique session ids or methods.
func (rl *RateLimiter) StartEviction(ctx context.Context, interval, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.evictStale(maxAge)
			}
		}
	}()
}

func (rl *RateLimiter) evictStale(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, bucket := range rl.buckets {
		if bucket.LastAccess().Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}
