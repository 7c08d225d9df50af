package httpsse

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSSE_PostDeliversRequest(t *testing.T) {
	tr := New("127.0.0.1:0")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, tr.Start(ctx))
	defer tr.Close()

	addr := tr.listener.Addr().String()
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0", "id": 1, "method": "ping",
	})
	require.NoError(t, err)

	go func() {
		resp, err := http.Post("http://"+addr+"/mcp", "application/json", bytes.NewReader(body))
		if err == nil {
			resp.Body.Close()
		}
	}()

	select {
	case req := <-tr.Receive():
		assert.Equal(t, "ping", req.Method)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for request")
	}
}

func TestHTTPSSE_SessionCountStartsZero(t *testing.T) {
	tr := New("127.0.0.1:0")
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Close()
	assert.Equal(t, 0, tr.SessionCount())
}

func TestHTTPSSE_CloseIsIdempotent(t *testing.T) {
	tr := New("127.0.0.1:0")
	require.NoError(t, tr.Start(context.Background()))
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
}
