// Package reqcontext builds per-request context.Context values for handler
// invocations, with correlation-id propagation across nested requests,
// OpenTelemetry span creation, and an optional pool of pre-built contexts
// for latency-sensitive call sites.
//
// Grounded on turbomcp's context_factory.rs ContextFactory: the same four
// creation strategies (Fresh/Inherit/Scoped/Pooled), the same
// parent-correlation-id request-scope stack, and the same pool-hit/pool-miss
// metrics, translated from Rust's Arc<RwLock<...>>+tracing::Span shape into
// Go's context.Context value-propagation idiom plus
// go.opentelemetry.io/otel/trace spans.
package reqcontext

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// CorrelationID identifies one request chain across nested handler calls.
type CorrelationID string

// NewCorrelationID generates a fresh random correlation id.
func NewCorrelationID() CorrelationID {
	return CorrelationID(uuid.New().String())
}

type scopeKey struct{}

// RequestScope is the per-request bookkeeping a Factory attaches to every
// context it builds: a correlation id, this scope's parent (if any, for
// Inherit-strategy contexts), when it was created, and free-form metadata
// inherited down the chain.
type RequestScope struct {
	CorrelationID       CorrelationID
	ParentCorrelationID CorrelationID
	CreatedAt           time.Time
	Metadata            map[string]string
}

func newRootScope() RequestScope {
	return RequestScope{CorrelationID: NewCorrelationID(), CreatedAt: time.Now(), Metadata: map[string]string{}}
}

func (s RequestScope) createChild() RequestScope {
	metadata := make(map[string]string, len(s.Metadata))
	for k, v := range s.Metadata {
		metadata[k] = v
	}
	return RequestScope{
		CorrelationID:       NewCorrelationID(),
		ParentCorrelationID: s.CorrelationID,
		CreatedAt:           time.Now(),
		Metadata:            metadata,
	}
}

// ScopeFromContext retrieves the RequestScope a Factory attached to ctx, if
// any.
func ScopeFromContext(ctx context.Context) (RequestScope, bool) {
	scope, ok := ctx.Value(scopeKey{}).(RequestScope)
	return scope, ok
}

// Strategy selects how a Factory builds a new context for a handler call.
type Strategy int

const (
	// Fresh builds a context with no inheritance from any ongoing request
	// scope — a new root scope every time.
	Fresh Strategy = iota
	// Inherit builds a context as a child of the current top-of-stack scope,
	// propagating its correlation id and metadata.
	Inherit
	// Scoped builds an isolated context (a fresh root scope, like Fresh) but
	// is kept as a distinct strategy name so call sites can express intent
	// (e.g. "this resource read should not share scope with its caller")
	// even though today it shares Fresh's mechanics.
	Scoped
	// Pooled reuses a previously-returned context when one is available and
	// unexpired, falling back to Inherit otherwise.
	Pooled
)

// Config tunes a Factory.
type Config struct {
	MaxPoolSize    int
	PoolTTL        time.Duration
	EnableTracing  bool
	DefaultStrategy Strategy
}

// DefaultConfig matches turbomcp's ContextFactoryConfig::default(): a
// 100-entry pool with a 5-minute TTL, tracing on, Inherit as the default
// strategy.
func DefaultConfig() Config {
	return Config{MaxPoolSize: 100, PoolTTL: 5 * time.Minute, EnableTracing: true, DefaultStrategy: Inherit}
}

// Metrics tracks Factory activity with atomic counters, safe for concurrent
// use without a lock.
type Metrics struct {
	ContextsCreated int64
	PoolHits        int64
	PoolMisses      int64
	ContextsEvicted int64
}

func (m *Metrics) recordCreated() { atomic.AddInt64(&m.ContextsCreated, 1) }
func (m *Metrics) recordPoolHit() { atomic.AddInt64(&m.PoolHits, 1) }
func (m *Metrics) recordPoolMiss() { atomic.AddInt64(&m.PoolMisses, 1) }
func (m *Metrics) recordEvicted() { atomic.AddInt64(&m.ContextsEvicted, 1) }

// Snapshot returns a point-in-time copy of the counters.
func (m *Metrics) Snapshot() Metrics {
	return Metrics{
		ContextsCreated: atomic.LoadInt64(&m.ContextsCreated),
		PoolHits:        atomic.LoadInt64(&m.PoolHits),
		PoolMisses:      atomic.LoadInt64(&m.PoolMisses),
		ContextsEvicted: atomic.LoadInt64(&m.ContextsEvicted),
	}
}

type pooledEntry struct {
	scope     RequestScope
	createdAt time.Time
	useCount  int64
}

func (p *pooledEntry) expired(ttl time.Duration) bool {
	return time.Since(p.createdAt) > ttl
}

// Factory builds per-handler-call contexts, mirroring turbomcp's
// ContextFactory: a scope stack for inheritance, an optional pool for the
// Pooled strategy, and a tracer for span creation.
type Factory struct {
	cfg     Config
	tracer  trace.Tracer
	metrics Metrics

	mu         sync.Mutex
	scopeStack []RequestScope
	pool       []*pooledEntry
}

// New builds a Factory. tracer may be nil, in which case span creation is
// skipped even if cfg.EnableTracing is true.
func New(cfg Config, tracer trace.Tracer) *Factory {
	return &Factory{cfg: cfg, tracer: tracer}
}

// CreateForTool builds a context for a tool handler invocation, using the
// Inherit strategy (turbomcp's create_for_tool always uses Inherit).
func (f *Factory) CreateForTool(ctx context.Context, toolName string) (context.Context, func(), error) {
	return f.create(ctx, "tool", toolName, Inherit)
}

// CreateForResource builds a context for a resource handler invocation,
// using the Scoped strategy.
func (f *Factory) CreateForResource(ctx context.Context, resourceURI string) (context.Context, func(), error) {
	return f.create(ctx, "resource", resourceURI, Scoped)
}

// CreateForPrompt builds a context for a prompt handler invocation, using
// the Fresh strategy.
func (f *Factory) CreateForPrompt(ctx context.Context, promptName string) (context.Context, func(), error) {
	return f.create(ctx, "prompt", promptName, Fresh)
}

// Create builds a context using an explicitly chosen strategy.
func (f *Factory) Create(ctx context.Context, handlerType, name string, strategy Strategy) (context.Context, func(), error) {
	return f.create(ctx, handlerType, name, strategy)
}

func (f *Factory) create(ctx context.Context, handlerType, name string, strategy Strategy) (context.Context, func(), error) {
	switch strategy {
	case Pooled:
		return f.createPooled(ctx, handlerType, name)
	case Inherit:
		return f.createInherited(ctx, handlerType, name)
	case Fresh, Scoped:
		return f.createFresh(ctx, handlerType, name, strategy)
	default:
		return f.createFresh(ctx, handlerType, name, strategy)
	}
}

func (f *Factory) createFresh(ctx context.Context, handlerType, name string, strategy Strategy) (context.Context, func(), error) {
	scope := newRootScope()
	scope.Metadata["handler_type"] = handlerType
	scope.Metadata["handler_name"] = name

	out := context.WithValue(ctx, scopeKey{}, scope)
	out, end := f.maybeStartSpan(out, spanName(strategy), scope)
	f.metrics.recordCreated()
	return out, end, nil
}

func (f *Factory) createInherited(ctx context.Context, handlerType, name string) (context.Context, func(), error) {
	f.mu.Lock()
	var scope RequestScope
	if len(f.scopeStack) > 0 {
		scope = f.scopeStack[len(f.scopeStack)-1].createChild()
	} else {
		scope = newRootScope()
	}
	scope.Metadata["handler_type"] = handlerType
	scope.Metadata["handler_name"] = name
	f.scopeStack = append(f.scopeStack, scope)
	f.mu.Unlock()

	out := context.WithValue(ctx, scopeKey{}, scope)
	out, span := f.maybeStartSpan(out, "context_inherited", scope)
	f.metrics.recordCreated()

	end := func() {
		span()
		f.mu.Lock()
		if n := len(f.scopeStack); n > 0 && f.scopeStack[n-1].CorrelationID == scope.CorrelationID {
			f.scopeStack = f.scopeStack[:n-1]
		}
		f.mu.Unlock()
	}
	return out, end, nil
}

func (f *Factory) createPooled(ctx context.Context, handlerType, name string) (context.Context, func(), error) {
	f.mu.Lock()
	var reused *pooledEntry
	if n := len(f.pool); n > 0 {
		reused = f.pool[n-1]
		f.pool = f.pool[:n-1]
	}
	f.mu.Unlock()

	if reused != nil && !reused.expired(f.cfg.PoolTTL) {
		reused.useCount++
		f.metrics.recordPoolHit()
		scope := reused.scope
		scope.Metadata["handler_type"] = handlerType
		scope.Metadata["handler_name"] = name
		out := context.WithValue(ctx, scopeKey{}, scope)
		out, end := f.maybeStartSpan(out, "context_pooled", scope)
		return out, end, nil
	}
	if reused != nil {
		f.metrics.recordEvicted()
	}
	f.metrics.recordPoolMiss()
	return f.createInherited(ctx, handlerType, name)
}

// ReturnToPool offers scope back to the pool for reuse by a future Pooled
// request, if the pool has room.
func (f *Factory) ReturnToPool(scope RequestScope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pool) < f.cfg.MaxPoolSize {
		f.pool = append(f.pool, &pooledEntry{scope: scope, createdAt: time.Now()})
	}
}

// CleanupPool removes expired entries from the pool.
func (f *Factory) CleanupPool() {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.pool[:0]
	for _, p := range f.pool {
		if p.expired(f.cfg.PoolTTL) {
			f.metrics.recordEvicted()
			continue
		}
		kept = append(kept, p)
	}
	f.pool = kept
}

// CurrentScope returns the top of the request-scope stack, if any.
func (f *Factory) CurrentScope() (RequestScope, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.scopeStack) == 0 {
		return RequestScope{}, false
	}
	return f.scopeStack[len(f.scopeStack)-1], true
}

// Metrics returns a snapshot of this Factory's counters.
func (f *Factory) Metrics() Metrics { return f.metrics.Snapshot() }

func (f *Factory) maybeStartSpan(ctx context.Context, name string, scope RequestScope) (context.Context, func()) {
	if !f.cfg.EnableTracing || f.tracer == nil {
		return ctx, func() {}
	}
	out, span := f.tracer.Start(ctx, name, trace.WithAttributes())
	return out, func() { span.End() }
}

func spanName(strategy Strategy) string {
	switch strategy {
	case Fresh:
		return "context_fresh"
	case Scoped:
		return "context_scoped"
	case Pooled:
		return "context_pooled"
	default:
		return "context_inherited"
	}
}
