// Package dedup implements an in-flight request deduplication cache: a
// fixed-capacity store keyed by a request fingerprint (method + canonicalized
// params, optionally scoped to a session — see DESIGN.md Open Question 1),
// with a TTL so a duplicate call arriving after the original's result has
// expired is treated as new.
//
// Grounded on tenzoki-agen's use of dgraph-io/ristretto for bounded,
// high-throughput caches; ristretto's admission policy gives this package
// LRU-like eviction under load without hand-rolling one.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// entry is what the cache stores per fingerprint: the in-flight call's
// result once it completes, and a done channel, closed on completion, that
// other callers for the same fingerprint block on.
type entry struct {
	mu     sync.Mutex
	done   chan struct{}
	result interface{}
	err    error
}

// Cache deduplicates concurrent calls that share a fingerprint: the first
// caller for a given fingerprint actually runs fn; every concurrent caller
// for the same fingerprint blocks on the first call's result instead of
// re-running fn — satisfying the "exactly one false among N concurrent"
// style invariant the spec requires of the dedup layer.
type Cache struct {
	ttl   time.Duration
	store *ristretto.Cache[string, *entry]

	mu      sync.Mutex
	pending map[string]*entry
}

// New builds a Cache holding up to capacity fingerprints, each entry
// expiring after ttl.
func New(capacity int64, ttl time.Duration) (*Cache, error) {
	store, err := ristretto.NewCache(&ristretto.Config[string, *entry]{
		NumCounters: capacity * 10,
		MaxCost:     capacity,
		BufferItems: 64,
		// Each entry costs exactly 1, so MaxCost counts fingerprints.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{ttl: ttl, store: store, pending: make(map[string]*entry)}, nil
}

// Fingerprint computes a stable fingerprint for a method + canonicalized
// params pair, optionally scoped to a session id (pass "" when the
// transport has no session concept, per DESIGN.md Open Question 1).
func Fingerprint(sessionID, method string, params interface{}) (string, error) {
	canon, err := canonicalize(params)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(sessionID))
	h.Write([]byte{0})
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write(canon)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalize produces a deterministic byte representation of params by
// round-tripping through a sorted-key JSON re-encoding (encoding/json
// already sorts map keys on marshal, which is sufficient canonicalization
// for fingerprinting purposes).
func canonicalize(params interface{}) ([]byte, error) {
	return json.Marshal(params)
}

// Do runs fn unless a call for the same fingerprint is already in flight or
// cached, in which case it returns that call's (possibly still-pending)
// result instead of invoking fn again.
func (c *Cache) Do(ctx context.Context, fingerprint string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	c.mu.Lock()
	if e, ok := c.pending[fingerprint]; ok {
		c.mu.Unlock()
		return waitFor(ctx, e)
	}
	if cached, ok := c.store.Get(fingerprint); ok {
		c.mu.Unlock()
		return waitFor(ctx, cached)
	}

	e := &entry{done: make(chan struct{})}
	c.pending[fingerprint] = e
	c.mu.Unlock()

	result, err := fn(ctx)
	e.result, e.err = result, err
	close(e.done)

	c.mu.Lock()
	delete(c.pending, fingerprint)
	c.mu.Unlock()

	c.store.SetWithTTL(fingerprint, e, 1, c.ttl)
	c.store.Wait()

	return result, err
}

func waitFor(ctx context.Context, e *entry) (interface{}, error) {
	select {
	case <-e.done:
		return e.result, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close releases the underlying ristretto cache's background resources.
func (c *Cache) Close() {
	c.store.Close()
}
