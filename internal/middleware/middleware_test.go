package middleware

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"mcpcore/internal/jsonrpc"
)

func TestChain_RunsInDeclaredOrder(t *testing.T) {
	var order []string

	trace := func(name string) Middleware {
		return func(next Next) Next {
			return func(ctx context.Context, sessionID string, req *jsonrpc.Request) *jsonrpc.Response {
				order = append(order, name)
				return next(ctx, sessionID, req)
			}
		}
	}

	final := func(ctx context.Context, sessionID string, req *jsonrpc.Request) *jsonrpc.Response {
		order = append(order, "final")
		return jsonrpc.NewResult(req.ID, "ok")
	}

	chained := Chain(trace("outer"), trace("inner"))(final)
	req := &jsonrpc.Request{JSONRPC: jsonrpc.Version, ID: jsonrpc.NewNumberID(1), Method: "m"}
	resp := chained(context.Background(), "", req)

	assert.Equal(t, []string{"outer", "inner", "final"}, order)
	assert.Equal(t, "ok", resp.Result)
}

func TestChain_MiddlewareCanShortCircuit(t *testing.T) {
	reached := false
	blocker := func(next Next) Next {
		return func(ctx context.Context, sessionID string, req *jsonrpc.Request) *jsonrpc.Response {
			return jsonrpc.NewError(req.ID, nil)
		}
	}
	final := func(ctx context.Context, sessionID string, req *jsonrpc.Request) *jsonrpc.Response {
		reached = true
		return jsonrpc.NewResult(req.ID, "ok")
	}

	chained := Chain(blocker)(final)
	req := &jsonrpc.Request{JSONRPC: jsonrpc.Version, ID: jsonrpc.NewNumberID(1), Method: "m"}
	chained(context.Background(), "", req)

	assert.False(t, reached)
}
