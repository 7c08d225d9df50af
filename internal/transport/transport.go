// Package transport defines the Transport abstraction every concrete
// carrier (stdio, TCP/Unix, child-process, HTTP/SSE/WS, Tower-bridge)
// implements, plus the connection state machine and event emitter shared
// across them.
//
// Grounded on the teacher's internal/domain/transport.go Transport
// interface, generalized with an explicit state machine (the teacher's
// StdioTransport/HTTPTransport track only a bool `closed`) per the spec's
// Disconnected/Connecting/Connected/Disconnecting/Disconnected(+Failed)
// requirement.
package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"mcpcore/internal/jsonrpc"
)

// Transport is the interface every concrete carrier implements. Accepting
// this interface (rather than a concrete type) is what lets the router,
// failover, and Tower-bridge layers stay carrier-agnostic.
type Transport interface {
	// Start brings the transport up: binds a listener, spawns a child
	// process, opens a connection — whatever "connected" means for this
	// carrier. Start must be idempotent: calling it twice while already
	// connected is a no-op, not an error.
	Start(ctx context.Context) error
	// Send writes one Response (or Notification, carried as a Response
	// with no ID by convention at this layer) to the peer. Send fails
	// before any I/O if the encoded payload exceeds the transport's
	// Capabilities().MaxMessageSize.
	Send(ctx context.Context, resp *jsonrpc.Response) error
	// Receive returns the channel of inbound requests. The channel is
	// closed when the transport transitions to Disconnected or Failed.
	Receive() <-chan *jsonrpc.Request
	// Close tears the transport down. Close must be idempotent.
	Close() error
	// State reports the transport's current connection state.
	State() State
	// TransportType identifies the carrier kind ("stdio", "tcp", "unix",
	// "childprocess", "http", "towerbridge"), for logging and metrics
	// labeling.
	TransportType() string
	// Capabilities reports what this carrier supports: message size
	// bound, streaming/bidirectional/multiplexing/compression support.
	Capabilities() Capabilities
	// Metrics reports this transport instance's cumulative send/receive
	// counters.
	Metrics() Metrics
}

// Endpointer is implemented by transports with an addressable network
// endpoint (TCP, Unix, HTTP); stdio and child-process transports have
// none, matching the spec's "optional endpoint()" operation.
type Endpointer interface {
	Endpoint() string
}

// Capabilities describes what a transport instance supports.
type Capabilities struct {
	// MaxMessageSize bounds an encoded message's byte size; zero means
	// unbounded.
	MaxMessageSize int64
	SupportsStreaming     bool
	SupportsBidirectional bool
	SupportsMultiplexing  bool
	SupportsCompression   bool
	CompressionAlgorithms []string
}

// Metrics is a point-in-time snapshot of a transport instance's cumulative
// I/O counters.
type Metrics struct {
	MessagesSent     int64
	MessagesReceived int64
	BytesSent        int64
	BytesReceived    int64
	Errors           int64
}

// CapabilityMetrics is embedded by concrete transports to hold their fixed
// Capabilities, track the Metrics() counters, and enforce
// MaxMessageSize before any I/O happens.
type CapabilityMetrics struct {
	caps Capabilities

	messagesSent     int64
	messagesReceived int64
	bytesSent        int64
	bytesReceived    int64
	errors           int64
}

// NewCapabilityMetrics builds a CapabilityMetrics reporting caps.
func NewCapabilityMetrics(caps Capabilities) *CapabilityMetrics {
	return &CapabilityMetrics{caps: caps}
}

// Capabilities returns the fixed capability set this transport was built
// with.
func (c *CapabilityMetrics) Capabilities() Capabilities { return c.caps }

// Metrics returns a snapshot of the cumulative I/O counters.
func (c *CapabilityMetrics) Metrics() Metrics {
	return Metrics{
		MessagesSent:     atomic.LoadInt64(&c.messagesSent),
		MessagesReceived: atomic.LoadInt64(&c.messagesReceived),
		BytesSent:        atomic.LoadInt64(&c.bytesSent),
		BytesReceived:    atomic.LoadInt64(&c.bytesReceived),
		Errors:           atomic.LoadInt64(&c.errors),
	}
}

// CheckSize enforces MaxMessageSize, returning an error before any I/O if
// size exceeds the configured bound (zero means unbounded).
func (c *CapabilityMetrics) CheckSize(size int) error {
	if c.caps.MaxMessageSize > 0 && int64(size) > c.caps.MaxMessageSize {
		return fmt.Errorf("transport: message size %d exceeds max_message_size %d", size, c.caps.MaxMessageSize)
	}
	return nil
}

// RecordSent updates the sent-message counters after a successful write.
func (c *CapabilityMetrics) RecordSent(size int) {
	atomic.AddInt64(&c.messagesSent, 1)
	atomic.AddInt64(&c.bytesSent, int64(size))
}

// RecordReceived updates the received-message counters after a successful
// read.
func (c *CapabilityMetrics) RecordReceived(size int) {
	atomic.AddInt64(&c.messagesReceived, 1)
	atomic.AddInt64(&c.bytesReceived, int64(size))
}

// RecordError increments the error counter.
func (c *CapabilityMetrics) RecordError() {
	atomic.AddInt64(&c.errors, 1)
}

// State is one of the five states in the transport's connection lifecycle.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// validTransitions enumerates the legal state transitions. Disconnected may
// move to Connecting (a connect attempt) or Failed (e.g. an async dial
// error reported out of band). Any other edge is rejected so a transport
// implementation can never observe an inconsistent state sequence.
var validTransitions = map[State][]State{
	Disconnected:  {Connecting, Failed},
	Connecting:    {Connected, Failed, Disconnected},
	Connected:     {Disconnecting, Failed},
	Disconnecting: {Disconnected, Failed},
	Failed:        {Disconnected, Connecting},
}

// StateMachine is a small, mutex-guarded state machine concrete transports
// embed to get consistent state tracking and transition validation for
// free.
type StateMachine struct {
	mu    sync.RWMutex
	state State
	subs  []chan State
}

// NewStateMachine builds a StateMachine starting in Disconnected.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: Disconnected}
}

// State returns the current state.
func (sm *StateMachine) State() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

// Transition attempts to move to next, returning an error if the edge is
// not legal from the current state. Idempotent "transitions" to the
// current state (e.g. Connect on an already-Connected transport) succeed
// without notifying subscribers, satisfying the idempotent-connect
// invariant.
func (sm *StateMachine) Transition(next State) error {
	sm.mu.Lock()
	if sm.state == next {
		sm.mu.Unlock()
		return nil
	}
	allowed := validTransitions[sm.state]
	ok := false
	for _, s := range allowed {
		if s == next {
			ok = true
			break
		}
	}
	if !ok {
		from := sm.state
		sm.mu.Unlock()
		return fmt.Errorf("transport: illegal state transition %s -> %s", from, next)
	}
	sm.state = next
	subs := append([]chan State(nil), sm.subs...)
	sm.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- next:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel that receives every subsequent state
// transition. The channel is buffered (capacity 1); a transition that
// arrives while the buffer is still full is dropped, so a slow subscriber
// never blocks the transport but may miss later states.
func (sm *StateMachine) Subscribe() <-chan State {
	ch := make(chan State, 1)
	sm.mu.Lock()
	sm.subs = append(sm.subs, ch)
	sm.mu.Unlock()
	return ch
}

// EventKind identifies the kind of lifecycle event an EventEmitter reports.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventError
	EventMessageReceived
	EventMessageSent
)

// Event is one transport lifecycle notification.
type Event struct {
	Kind EventKind
	Err  error
}

// EventEmitter fans a transport's lifecycle events out to any number of
// listeners, independent of the Receive() request channel, so robustness
// components (health checker, circuit breaker) can observe connection
// health without competing for inbound requests.
type EventEmitter struct {
	mu        sync.RWMutex
	listeners []chan Event
}

// NewEventEmitter builds an empty EventEmitter.
func NewEventEmitter() *EventEmitter {
	return &EventEmitter{}
}

// Listen registers a new listener channel (buffered, capacity 32) and
// returns it.
func (e *EventEmitter) Listen() <-chan Event {
	ch := make(chan Event, 32)
	e.mu.Lock()
	e.listeners = append(e.listeners, ch)
	e.mu.Unlock()
	return ch
}

// Emit delivers ev to every registered listener, dropping it for any
// listener whose buffer is full rather than blocking the caller.
func (e *EventEmitter) Emit(ev Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, ch := range e.listeners {
		select {
		case ch <- ev:
		default:
		}
	}
}
