// Package router dispatches JSON-RPC requests to registered MCP method
// handlers, preserving batch ordering and optionally deduplicating
// concurrent identical calls.
//
// Grounded on the teacher's internal/application/router.go RequestRouter,
// which dispatched a single ToolRequest to a single handler by name prefix;
// generalized here to dispatch by full JSON-RPC method name across every
// MCP primitive (tools/call, prompts/get, resources/read, ...), and to
// process jsonrpc.Batch values while preserving request/notification order
// the way the batch's own insertion order recorded it.
package router

import (
	"context"
	"fmt"
	"sync"

	"mcpcore/internal/errs"
	"mcpcore/internal/jsonrpc"
	"mcpcore/internal/robustness/dedup"
)

// HandlerFunc handles one already-unmarshaled request's raw params and
// returns a result to be marshaled into the Response, or an error.
type HandlerFunc func(ctx context.Context, sessionID string, params interface{}) (interface{}, error)

// Router holds a method name → HandlerFunc dispatch table.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	dedup    *dedup.Cache
}

// Option configures a Router at construction time.
type Option func(*Router)

// WithDedup enables single-execution-among-concurrent-callers semantics for
// every dispatched request, using cache as the fingerprint store.
func WithDedup(cache *dedup.Cache) Option {
	return func(r *Router) { r.dedup = cache }
}

// New builds an empty Router.
func New(opts ...Option) *Router {
	r := &Router{handlers: make(map[string]HandlerFunc)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle registers h as the handler for method. Registering the same method
// twice overwrites the previous handler, matching the teacher's
// last-registration-wins map assignment.
func (r *Router) Handle(method string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[method] = h
}

func (r *Router) lookup(method string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[method]
	return h, ok
}

// Dispatch routes a single Request to its registered handler and builds the
// Response envelope, including the MethodNotFound case.
func (r *Router) Dispatch(ctx context.Context, sessionID string, req *jsonrpc.Request) *jsonrpc.Response {
	h, ok := r.lookup(req.Method)
	if !ok {
		return jsonrpc.NewError(req.ID, errs.New(errs.MethodNotFound, fmt.Sprintf("method not found: %s", req.Method)))
	}

	run := func(ctx context.Context) (interface{}, error) {
		return h(ctx, sessionID, req.Params)
	}

	var (
		result interface{}
		err    error
	)
	if r.dedup != nil {
		fp, fpErr := dedup.Fingerprint(sessionID, req.Method, req.Params)
		if fpErr != nil {
			return jsonrpc.NewError(req.ID, errs.New(errs.InternalError, fpErr.Error()))
		}
		result, err = r.dedup.Do(ctx, fp, run)
	} else {
		result, err = run(ctx)
	}

	if err != nil {
		return jsonrpc.NewError(req.ID, errs.FromError(err))
	}
	return jsonrpc.NewResult(req.ID, result)
}

// DispatchNotification routes a Notification to its registered handler,
// discarding any result since notifications have no response. Errors are
// returned to the caller for logging; DispatchBatch discards them, since the
// JSON-RPC spec defines no response channel for a notification's failure.
func (r *Router) DispatchNotification(ctx context.Context, sessionID string, n *jsonrpc.Notification) error {
	h, ok := r.lookup(n.Method)
	if !ok {
		return fmt.Errorf("router: no handler for notification method %q", n.Method)
	}
	_, err := h(ctx, sessionID, n.Params)
	return err
}

// DispatchBatch processes a parsed Batch in its original insertion order,
// returning one Response per Request (notifications produce no Response,
// per JSON-RPC semantics) in the same relative order they appeared in the
// batch.
func (r *Router) DispatchBatch(ctx context.Context, sessionID string, batch *jsonrpc.Batch) []*jsonrpc.Response {
	responses := make([]*jsonrpc.Response, 0, len(batch.Requests))
	for _, item := range batch.Ordered() {
		switch v := item.(type) {
		case *jsonrpc.Request:
			responses = append(responses, r.Dispatch(ctx, sessionID, v))
		case *jsonrpc.Notification:
			_ = r.DispatchNotification(ctx, sessionID, v)
		}
	}
	return responses
}
