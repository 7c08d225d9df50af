// Package middleware chains request/response interceptors around the
// router's dispatch step: rate limiting and authentication on the inbound
// side, with room for outbound interceptors (logging, metrics) wrapping the
// response.
//
// The chaining idiom (func(next) wraps and returns a new handler of the
// same type) is grounded on unraid-management-agent's
// daemon/services/api/middleware.go http.Handler chain, generalized from
// http.Handler to the jsonrpc.Request/Response domain this runtime actually
// dispatches.
package middleware

import (
	"context"

	"mcpcore/internal/jsonrpc"
)

// Next is the next step in an inbound middleware chain: ultimately the
// router's own Dispatch.
type Next func(ctx context.Context, sessionID string, req *jsonrpc.Request) *jsonrpc.Response

// Middleware wraps a Next into another Next, observing or rejecting the
// request before (or instead of) calling through.
type Middleware func(next Next) Next

// Chain composes middlewares in the order given: the first middleware in
// the slice is outermost (runs first, sees the request before anything
// else, sees the response after everything else).
func Chain(middlewares ...Middleware) Middleware {
	return func(final Next) Next {
		next := final
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
