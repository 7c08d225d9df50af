package stdio

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mcpcore/internal/jsonrpc"
	"mcpcore/internal/transport"
)

func TestStdio_StartReceivesRequest(t *testing.T) {
	in := bytes.NewBufferString(`{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n")
	var out bytes.Buffer

	tr := New(in, &out)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, tr.Start(ctx))
	defer tr.Close()

	select {
	case req := <-tr.Receive():
		assert.Equal(t, "ping", req.Method)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for request")
	}
}

func TestStdio_SendWritesNewlineDelimitedJSON(t *testing.T) {
	in := bytes.NewBufferString("")
	var out bytes.Buffer

	tr := New(in, &out)
	ctx := context.Background()
	require.NoError(t, tr.Start(ctx))
	defer tr.Close()

	resp := jsonrpc.NewResult(jsonrpc.NewNumberID(1), map[string]string{"ok": "true"})
	require.NoError(t, tr.Send(ctx, resp))

	line := out.String()
	assert.True(t, bytes.HasSuffix([]byte(line), []byte("\n")))
	var decoded jsonrpc.Response
	require.NoError(t, json.Unmarshal([]byte(line[:len(line)-1]), &decoded))
	assert.Equal(t, jsonrpc.Version, decoded.JSONRPC)
}

func TestStdio_InvalidJSONRPCVersionGetsInlineError(t *testing.T) {
	in := bytes.NewBufferString(`{"jsonrpc":"1.0","id":1,"method":"ping"}` + "\n")
	var out bytes.Buffer

	tr := New(in, &out)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, tr.Start(ctx))
	defer tr.Close()

	require.Eventually(t, func() bool {
		return out.Len() > 0
	}, 2*time.Second, 10*time.Millisecond)

	assert.Contains(t, out.String(), "jsonrpc")
}

func TestStdio_StartIsIdempotent(t *testing.T) {
	// An open pipe with no data keeps the peer connected; an empty buffer
	// would hit EOF and disconnect between the two Start calls.
	in, inWriter := io.Pipe()
	defer inWriter.Close()
	var out bytes.Buffer
	tr := New(in, &out)
	ctx := context.Background()
	require.NoError(t, tr.Start(ctx))
	require.NoError(t, tr.Start(ctx))
	assert.Equal(t, transport.Connected, tr.State())
	tr.Close()
}

func TestStdio_CloseIsIdempotent(t *testing.T) {
	in := bytes.NewBufferString("")
	var out bytes.Buffer
	tr := New(in, &out)
	require.NoError(t, tr.Start(context.Background()))
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.Equal(t, transport.Disconnected, tr.State())
}
