package router

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mcpcore/internal/errs"
	"mcpcore/internal/jsonrpc"
	"mcpcore/internal/robustness/dedup"
)

func TestDispatch_RoutesToHandler(t *testing.T) {
	r := New()
	r.Handle("echo", func(ctx context.Context, sessionID string, params interface{}) (interface{}, error) {
		return params, nil
	})

	req := &jsonrpc.Request{JSONRPC: jsonrpc.Version, ID: jsonrpc.NewNumberID(1), Method: "echo", Params: "hi"}
	resp := r.Dispatch(context.Background(), "", req)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "hi", resp.Result)
}

func TestDispatch_UnknownMethodReturnsMethodNotFound(t *testing.T) {
	r := New()
	req := &jsonrpc.Request{JSONRPC: jsonrpc.Version, ID: jsonrpc.NewNumberID(1), Method: "nope"}
	resp := r.Dispatch(context.Background(), "", req)
	require.NotNil(t, resp.Error)
	assert.Equal(t, errs.MethodNotFound, resp.Error.Code)
}

func TestDispatch_HandlerErrorIsClassified(t *testing.T) {
	r := New()
	r.Handle("boom", func(ctx context.Context, sessionID string, params interface{}) (interface{}, error) {
		return nil, assertError("invalid arguments: name required")
	})
	req := &jsonrpc.Request{JSONRPC: jsonrpc.Version, ID: jsonrpc.NewNumberID(1), Method: "boom"}
	resp := r.Dispatch(context.Background(), "", req)
	require.NotNil(t, resp.Error)
	assert.Equal(t, errs.InvalidParams, resp.Error.Code)
}

type assertError string

func (e assertError) Error() string { return string(e) }

func TestDispatchNotification_RunsHandlerWithNoResponse(t *testing.T) {
	r := New()
	var called int32
	r.Handle("notify/log", func(ctx context.Context, sessionID string, params interface{}) (interface{}, error) {
		atomic.AddInt32(&called, 1)
		return nil, nil
	})
	n := &jsonrpc.Notification{JSONRPC: jsonrpc.Version, Method: "notify/log"}
	err := r.DispatchNotification(context.Background(), "", n)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&called))
}

func TestDispatchBatch_PreservesOrderAcrossRequestsAndNotifications(t *testing.T) {
	r := New()
	var seen []string
	r.Handle("a", func(ctx context.Context, sessionID string, params interface{}) (interface{}, error) {
		seen = append(seen, "a")
		return "a-result", nil
	})
	r.Handle("b", func(ctx context.Context, sessionID string, params interface{}) (interface{}, error) {
		seen = append(seen, "b")
		return nil, nil
	})
	r.Handle("c", func(ctx context.Context, sessionID string, params interface{}) (interface{}, error) {
		seen = append(seen, "c")
		return "c-result", nil
	})

	batch := &jsonrpc.Batch{}
	batch.AddRequest(&jsonrpc.Request{JSONRPC: jsonrpc.Version, ID: jsonrpc.NewNumberID(1), Method: "a"})
	batch.AddNotification(&jsonrpc.Notification{JSONRPC: jsonrpc.Version, Method: "b"})
	batch.AddRequest(&jsonrpc.Request{JSONRPC: jsonrpc.Version, ID: jsonrpc.NewNumberID(2), Method: "c"})

	responses := r.DispatchBatch(context.Background(), "", batch)

	assert.Equal(t, []string{"a", "b", "c"}, seen)
	require.Len(t, responses, 2)
	assert.Equal(t, "a-result", responses[0].Result)
	assert.Equal(t, "c-result", responses[1].Result)
}

func TestDispatch_WithDedup_ConcurrentCallsShareExecution(t *testing.T) {
	cache, err := dedup.New(1000, time.Minute)
	require.NoError(t, err)
	defer cache.Close()

	var executions int32
	r := New(WithDedup(cache))
	r.Handle("slow", func(ctx context.Context, sessionID string, params interface{}) (interface{}, error) {
		atomic.AddInt32(&executions, 1)
		time.Sleep(10 * time.Millisecond)
		return "done", nil
	})

	req := &jsonrpc.Request{JSONRPC: jsonrpc.Version, ID: jsonrpc.NewNumberID(1), Method: "slow"}

	done := make(chan *jsonrpc.Response, 2)
	go func() { done <- r.Dispatch(context.Background(), "sess", req) }()
	go func() { done <- r.Dispatch(context.Background(), "sess", req) }()

	r1 := <-done
	r2 := <-done
	assert.Equal(t, "done", r1.Result)
	assert.Equal(t, "done", r2.Result)
	assert.Equal(t, int32(1), atomic.LoadInt32(&executions))
}
