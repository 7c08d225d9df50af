package tcpunix

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mcpcore/internal/jsonrpc"
)

func TestTCPUnix_NewlineDelimitedRoundTrip(t *testing.T) {
	tr := New("tcp", "127.0.0.1:0", NewlineDelimited)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan error, 1)
	go func() { started <- tr.Start(ctx) }()

	// tr.Start blocks in Accept until a client connects; dial the listener
	// once it exists. Start() binds the listener synchronously before
	// accepting, so poll briefly for the address to appear via a helper
	// client connection attempt.
	var conn net.Conn
	require.Eventually(t, func() bool {
		if tr.listener == nil {
			return false
		}
		c, err := net.Dial("tcp", tr.listener.Addr().String())
		if err != nil {
			return false
		}
		conn = c
		return true
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, <-started)
	defer tr.Close()
	defer conn.Close()

	_, err := conn.Write([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n"))
	require.NoError(t, err)

	select {
	case req := <-tr.Receive():
		assert.Equal(t, "ping", req.Method)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for request")
	}

	resp := jsonrpc.NewResult(jsonrpc.NewNumberID(1), "pong")
	require.NoError(t, tr.Send(ctx, resp))

	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	var decoded jsonrpc.Response
	require.NoError(t, json.Unmarshal(trimTrailingNewline(buf[:n]), &decoded))
	assert.Equal(t, jsonrpc.Version, decoded.JSONRPC)
}
