// Package stdio implements the Transport interface over newline-delimited
// JSON on os.Stdin/os.Stdout, the simplest and most common MCP carrier.
//
// Grounded on the teacher's internal/domain/transport.go StdioTransport:
// same bufio.Reader/Writer plumbing, same bounded request channel, same
// inline parse-error/invalid-request handling in the read loop — adapted to
// report through the shared transport.StateMachine/EventEmitter instead of
// a bare bool.
package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"mcpcore/internal/errs"
	"mcpcore/internal/jsonrpc"
	"mcpcore/internal/transport"
)

// requestChanCapacity matches the teacher's StdioTransport buffered
// channel size.
const requestChanCapacity = 10

// defaultMaxMessageSize bounds a single encoded message at 4MiB, enforced
// before any write so an oversized response never partially hits the wire.
const defaultMaxMessageSize = 4 << 20

// Transport is a stdio-backed transport.Transport.
type Transport struct {
	reader *bufio.Reader
	writer *bufio.Writer

	sm       *transport.StateMachine
	emitter  *transport.EventEmitter
	cm       *transport.CapabilityMetrics
	reqChan  chan *jsonrpc.Request
	writeMu  sync.Mutex
	closeOnce sync.Once
	done     chan struct{}
}

// New builds a stdio Transport reading from r and writing to w — normally
// os.Stdin and os.Stdout, but parameterized for testing. Stdio is a single
// pipe to one peer: no streaming/bidirectional/multiplexing/compression
// contract beyond the base request/response exchange.
func New(r io.Reader, w io.Writer) *Transport {
	return &Transport{
		reader:  bufio.NewReader(r),
		writer:  bufio.NewWriter(w),
		sm:      transport.NewStateMachine(),
		emitter: transport.NewEventEmitter(),
		cm:      transport.NewCapabilityMetrics(transport.Capabilities{MaxMessageSize: defaultMaxMessageSize}),
		reqChan: make(chan *jsonrpc.Request, requestChanCapacity),
		done:    make(chan struct{}),
	}
}

// Start transitions to Connected and launches the read loop. Idempotent:
// calling Start twice while already Connected is a no-op.
func (t *Transport) Start(ctx context.Context) error {
	if t.sm.State() == transport.Connected {
		return nil
	}
	if err := t.sm.Transition(transport.Connecting); err != nil {
		return err
	}
	if err := t.sm.Transition(transport.Connected); err != nil {
		return err
	}
	t.emitter.Emit(transport.Event{Kind: transport.EventConnected})
	go t.readLoop(ctx)
	return nil
}

func (t *Transport) readLoop(ctx context.Context) {
	defer close(t.reqChan)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		default:
		}

		line, err := t.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				_ = t.sm.Transition(transport.Disconnecting)
				_ = t.sm.Transition(transport.Disconnected)
				t.emitter.Emit(transport.Event{Kind: transport.EventDisconnected})
				return
			}
			t.cm.RecordError()
			_ = t.sm.Transition(transport.Failed)
			t.emitter.Emit(transport.Event{Kind: transport.EventError, Err: err})
			return
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var probe struct {
			JSONRPC string `json:"jsonrpc"`
		}
		if err := json.Unmarshal(line, &probe); err != nil {
			_ = t.Send(ctx, jsonrpc.NewError(jsonrpc.ID{}, errs.New(errs.ParseError, "invalid JSON: "+err.Error())))
			continue
		}
		if probe.JSONRPC != jsonrpc.Version {
			_ = t.Send(ctx, jsonrpc.NewError(jsonrpc.ID{}, errs.New(errs.InvalidRequest, "jsonrpc field must be \"2.0\"")))
			continue
		}

		var req jsonrpc.Request
		if err := json.Unmarshal(line, &req); err != nil {
			_ = t.Send(ctx, jsonrpc.NewError(jsonrpc.ID{}, errs.New(errs.ParseError, "invalid request: "+err.Error())))
			continue
		}

		t.cm.RecordReceived(len(line))
		t.emitter.Emit(transport.Event{Kind: transport.EventMessageReceived})
		select {
		case t.reqChan <- &req:
		case <-ctx.Done():
			return
		}
	}
}

// Send writes resp as one line of JSON followed by '\n'. Fails before any
// write if the encoded payload exceeds Capabilities().MaxMessageSize.
func (t *Transport) Send(ctx context.Context, resp *jsonrpc.Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("stdio: marshal response: %w", err)
	}
	if err := t.cm.CheckSize(len(data)); err != nil {
		t.cm.RecordError()
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.writer.Write(data); err != nil {
		t.cm.RecordError()
		return fmt.Errorf("stdio: write: %w", err)
	}
	if err := t.writer.WriteByte('\n'); err != nil {
		t.cm.RecordError()
		return fmt.Errorf("stdio: write newline: %w", err)
	}
	if err := t.writer.Flush(); err != nil {
		t.cm.RecordError()
		return fmt.Errorf("stdio: flush: %w", err)
	}
	t.cm.RecordSent(len(data))
	t.emitter.Emit(transport.Event{Kind: transport.EventMessageSent})
	return nil
}

// Receive returns the inbound request channel.
func (t *Transport) Receive() <-chan *jsonrpc.Request { return t.reqChan }

// Close stops the read loop and transitions to Disconnected. Idempotent.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		_ = t.sm.Transition(transport.Disconnecting)
		_ = t.sm.Transition(transport.Disconnected)
	})
	return nil
}

// State reports the current connection state.
func (t *Transport) State() transport.State { return t.sm.State() }

// Events exposes the transport's lifecycle event stream.
func (t *Transport) Events() <-chan transport.Event { return t.emitter.Listen() }

// TransportType identifies this carrier as "stdio".
func (t *Transport) TransportType() string { return "stdio" }

// Capabilities reports stdio's fixed capability set.
func (t *Transport) Capabilities() transport.Capabilities { return t.cm.Capabilities() }

// Metrics reports this transport's cumulative send/receive counters.
func (t *Transport) Metrics() transport.Metrics { return t.cm.Metrics() }

var _ transport.Transport = (*Transport)(nil)
