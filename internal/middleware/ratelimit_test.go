package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"mcpcore/internal/jsonrpc"
)

func TestTokenBucket_AllowsUpToBurst(t *testing.T) {
	tb := NewTokenBucket(60, 3)
	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())
}

func TestTokenBucket_RefillsOverTime(t *testing.T) {
	tb := NewTokenBucket(600, 1) // 10 tokens/sec
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())
	time.Sleep(150 * time.Millisecond)
	assert.True(t, tb.Allow())
}

func TestRateLimiter_BlocksAfterBudgetExhausted(t *testing.T) {
	rl := NewRateLimiter(60, 1, ByClientID)
	mw := rl.Middleware()

	final := func(ctx context.Context, sessionID string, req *jsonrpc.Request) *jsonrpc.Response {
		return jsonrpc.NewResult(req.ID, "ok")
	}
	handler := mw(final)

	req := &jsonrpc.Request{JSONRPC: jsonrpc.Version, ID: jsonrpc.NewNumberID(1), Method: "m"}
	first := handler(context.Background(), "client-1", req)
	second := handler(context.Background(), "client-1", req)

	assert.Nil(t, first.Error)
	assert.NotNil(t, second.Error)
}

func TestRateLimiter_SeparateKeysHaveSeparateBudgets(t *testing.T) {
	rl := NewRateLimiter(60, 1, ByClientID)
	mw := rl.Middleware()
	final := func(ctx context.Context, sessionID string, req *jsonrpc.Request) *jsonrpc.Response {
		return jsonrpc.NewResult(req.ID, "ok")
	}
	handler := mw(final)

	req := &jsonrpc.Request{JSONRPC: jsonrpc.Version, ID: jsonrpc.NewNumberID(1), Method: "m"}
	a := handler(context.Background(), "client-a", req)
	b := handler(context.Background(), "client-b", req)

	assert.Nil(t, a.Error)
	assert.Nil(t, b.Error)
	assert.Equal(t, 2, rl.BucketCount())
}

func TestRateLimiter_EvictionRemovesStaleBuckets(t *testing.T) {
	rl := NewRateLimiter(60, 1, ByClientID)
	_ = rl.getBucket("stale-client")
	assert.Equal(t, 1, rl.BucketCount())

	rl.evictStale(0) // everything is "stale" relative to now+0
	assert.Equal(t, 0, rl.BucketCount())
}
