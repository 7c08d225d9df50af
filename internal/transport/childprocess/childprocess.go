// Package childprocess implements the Transport interface by spawning a
// child process and bridging its stdout and stderr through two background
// goroutines, each feeding a bounded channel — the same shape as the
// teacher's StdioTransport read loop, generalized to own a subprocess
// rather than being the top-level process itself. A third goroutine waits
// for the child to exit. Writes to the child's stdin are made synchronously
// by Send; there is no stdin goroutine or outbound queue.
package childprocess

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"mcpcore/internal/errs"
	"mcpcore/internal/jsonrpc"
	"mcpcore/internal/transport"
)

// channelCapacity bounds each of the two bridging channels (requests read
// from stdout, lines read from stderr).
const channelCapacity = 100

// defaultMaxMessageSize bounds a single encoded message at 16MiB.
const defaultMaxMessageSize = 16 << 20

// StderrLine is one line the child process wrote to its stderr, surfaced
// for the embedder to log.
type StderrLine struct {
	Line string
}

// Transport spawns Command/Args as a child process and speaks
// newline-delimited JSON over its stdin/stdout.
type Transport struct {
	command string
	args    []string

	sm      *transport.StateMachine
	emitter *transport.EventEmitter
	cm      *transport.CapabilityMetrics
	reqChan chan *jsonrpc.Request
	stderrChan chan StderrLine

	cmd       *exec.Cmd
	stdin     io.WriteCloser
	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// New builds a Transport that will spawn command with args once Start is
// called.
func New(command string, args ...string) *Transport {
	return &Transport{
		command: command,
		args:    args,
		sm:      transport.NewStateMachine(),
		emitter: transport.NewEventEmitter(),
		cm: transport.NewCapabilityMetrics(transport.Capabilities{
			MaxMessageSize: defaultMaxMessageSize,
		}),
		reqChan:    make(chan *jsonrpc.Request, channelCapacity),
		stderrChan: make(chan StderrLine, channelCapacity),
		done:       make(chan struct{}),
	}
}

// Start spawns the child process and launches the stdin-writer (implicit,
// via Send), stdout-reader, and stderr-logger goroutines.
func (t *Transport) Start(ctx context.Context) error {
	if t.sm.State() == transport.Connected {
		return nil
	}
	if err := t.sm.Transition(transport.Connecting); err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, t.command, t.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		_ = t.sm.Transition(transport.Failed)
		return fmt.Errorf("childprocess: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = t.sm.Transition(transport.Failed)
		return fmt.Errorf("childprocess: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = t.sm.Transition(transport.Failed)
		return fmt.Errorf("childprocess: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		_ = t.sm.Transition(transport.Failed)
		return fmt.Errorf("childprocess: start %s: %w", t.command, err)
	}

	t.cmd = cmd
	t.stdin = stdin

	if err := t.sm.Transition(transport.Connected); err != nil {
		return err
	}
	t.emitter.Emit(transport.Event{Kind: transport.EventConnected})

	t.wg.Add(2)
	go t.stdoutReader(ctx, stdout)
	go t.stderrLogger(stderr)
	go t.waitForExit()

	return nil
}

func (t *Transport) stdoutReader(ctx context.Context, stdout io.Reader) {
	defer t.wg.Done()
	defer close(t.reqChan)

	reader := bufio.NewReader(stdout)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		default:
		}

		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var req jsonrpc.Request
		if err := json.Unmarshal(line, &req); err != nil {
			t.cm.RecordError()
			_ = t.Send(ctx, jsonrpc.NewError(jsonrpc.ID{}, errs.New(errs.ParseError, "invalid child output: "+err.Error())))
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

func (t *Transport) stderrLogger(stderr io.Reader) {
	defer t.wg.Done()
	defer close(t.stderrChan)

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		select {
		case t.stderrChan <- StderrLine{Line: scanner.Text()}:
		case <-t.done:
			return
		}
	}
}

func (t *Transport) waitForExit() {
	if t.cmd == nil {
		return
	}
	err := t.cmd.Wait()
	_ = t.sm.Transition(transport.Disconnecting)
	_ = t.sm.Transition(transport.Disconnected)
	t.emitter.Emit(transport.Event{Kind: transport.EventDisconnected, Err: err})
}

// Send writes resp as newline-delimited JSON to the child's stdin. Fails
// before any write if the encoded payload exceeds
// Capabilities().MaxMessageSize.
func (t *Transport) Send(ctx context.Context, resp *jsonrpc.Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("childprocess: marshal response: %w", err)
	}
	if err := t.cm.CheckSize(len(data)); err != nil {
		t.cm.RecordError()
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.stdin == nil {
		return fmt.Errorf("childprocess: not started")
	}
	data = append(data, '\n')
	if _, err := t.stdin.Write(data); err != nil {
		t.cm.RecordError()
		return fmt.Errorf("childprocess: write stdin: %w", err)
	}
	t.cm.RecordSent(len(data))
	t.emitter.Emit(transport.Event{Kind: transport.EventMessageSent})
	return nil
}

// Receive returns the inbound request channel, fed by the child's stdout.
func (t *Transport) Receive() <-chan *jsonrpc.Request { return t.reqChan }

// Stderr returns the channel of lines the child wrote to its stderr.
func (t *Transport) Stderr() <-chan StderrLine { return t.stderrChan }

// Close signals the goroutines to stop and kills the child process if still
// running. Idempotent.
func (t *Transport) Close() error {
	var closeErr error
	t.closeOnce.Do(func() {
		close(t.done)
		if t.stdin != nil {
			_ = t.stdin.Close()
		}
		if t.cmd != nil && t.cmd.Process != nil {
			_ = t.cmd.Process.Kill()
		}
		_ = t.sm.Transition(transport.Disconnecting)
		_ = t.sm.Transition(transport.Disconnected)
	})
	return closeErr
}

// State reports the current connection state.
func (t *Transport) State() transport.State { return t.sm.State() }

// Events exposes the transport's lifecycle event stream.
func (t *Transport) Events() <-chan transport.Event { return t.emitter.Listen() }

// TransportType identifies this carrier as "childprocess".
func (t *Transport) TransportType() string { return "childprocess" }

// Capabilities reports this transport's fixed capability set.
func (t *Transport) Capabilities() transport.Capabilities { return t.cm.Capabilities() }

// Metrics reports this transport's cumulative send/receive counters.
func (t *Transport) Metrics() transport.Metrics { return t.cm.Metrics() }

var _ transport.Transport = (*Transport)(nil)
