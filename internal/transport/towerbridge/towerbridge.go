// Package towerbridge adapts an arbitrary request/response service function
// into the Transport interface, the way a Tower middleware stack bridges a
// generic `Service<Request> -> Response` trait into whatever transport
// carries it. It keeps its own session table (keyed by the JSON-RPC id of
// each request it sees) with a background sweeper that evicts idle
// sessions, independent of whatever carries bytes underneath.
//
// Grounded on tenzoki-agen's internal/broker/service.go request/session
// bookkeeping pattern (a central dispatcher tracking per-client state
// around an inner call), adapted into Go's http.RoundTripper-style
// "function as service" idiom instead of a trait object.
package towerbridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"mcpcore/internal/jsonrpc"
	"mcpcore/internal/transport"
)

// Service is the generic request/response function this bridge adapts —
// analogous to Tower's `Service<Request>` trait, expressed as a plain Go
// function type since Go has no trait objects.
type Service func(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error)

// bridgeSession tracks one logical caller's last-seen time for idle
// eviction purposes.
type bridgeSession struct {
	clientID     string
	lastActivity time.Time
}

// Transport wraps an inner Transport, routing every inbound request through
// a Service before re-emitting the Service's response — and maintaining a
// session table keyed by request id.
type Transport struct {
	inner   transport.Transport
	service Service

	sm      *transport.StateMachine
	emitter *transport.EventEmitter
	reqChan chan *jsonrpc.Request

	mu           sync.Mutex
	sessions     map[string]*bridgeSession
	idleTimeout  time.Duration
	sweeper      *cron.Cron
	closeOnce    sync.Once
	done         chan struct{}
}

// New builds a bridge over inner, dispatching every request through
// service and evicting sessions idle longer than idleTimeout. A
// idleTimeout of zero disables the sweeper.
func New(inner transport.Transport, service Service, idleTimeout time.Duration) *Transport {
	return &Transport{
		inner:       inner,
		service:     service,
		sm:          transport.NewStateMachine(),
		emitter:     transport.NewEventEmitter(),
		reqChan:     make(chan *jsonrpc.Request, 64),
		sessions:    make(map[string]*bridgeSession),
		idleTimeout: idleTimeout,
		done:        make(chan struct{}),
	}
}

// Start starts the inner transport, begins the dispatch loop, and schedules
// the idle-session sweeper (every minute) if idleTimeout > 0.
func (t *Transport) Start(ctx context.Context) error {
	if t.sm.State() == transport.Connected {
		return nil
	}
	if err := t.sm.Transition(transport.Connecting); err != nil {
		return err
	}
	if err := t.inner.Start(ctx); err != nil {
		_ = t.sm.Transition(transport.Failed)
		return fmt.Errorf("towerbridge: start inner transport: %w", err)
	}
	if err := t.sm.Transition(transport.Connected); err != nil {
		return err
	}
	t.emitter.Emit(transport.Event{Kind: transport.EventConnected})

	if t.idleTimeout > 0 {
		t.sweeper = cron.New()
		_, err := t.sweeper.AddFunc("@every 1m", t.sweepIdleSessions)
		if err != nil {
			return fmt.Errorf("towerbridge: schedule sweeper: %w", err)
		}
		t.sweeper.Start()
	}

	go t.dispatchLoop(ctx)
	return nil
}

func (t *Transport) dispatchLoop(ctx context.Context) {
	defer close(t.reqChan)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case req, ok := <-t.inner.Receive():
			if !ok {
				return
			}
			t.touchSession(clientIDFromRequest(req))
			select {
			case t.reqChan <- req:
			default:
			}
			resp, err := t.service(ctx, req)
			if err != nil {
				continue
			}
			if resp != nil {
				_ = t.inner.Send(ctx, resp)
			}
		}
	}
}

func clientIDFromRequest(req *jsonrpc.Request) string {
	return req.ID.String()
}

func (t *Transport) touchSession(clientID string) {
	if clientID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[clientID]; ok {
		s.lastActivity = time.Now()
		return
	}
	t.sessions[clientID] = &bridgeSession{clientID: clientID, lastActivity: time.Now()}
}

func (t *Transport) sweepIdleSessions() {
	cutoff := time.Now().Add(-t.idleTimeout)
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, s := range t.sessions {
		if s.lastActivity.Before(cutoff) {
			delete(t.sessions, id)
		}
	}
}

// SessionCount returns the number of tracked sessions.
func (t *Transport) SessionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Send delegates to the inner transport.
func (t *Transport) Send(ctx context.Context, resp *jsonrpc.Response) error {
	return t.inner.Send(ctx, resp)
}

// Receive returns the bridge's own observer channel. Each request is copied
// onto it (and dropped if it is full) just before being handed to Service;
// this channel exists for observers (metrics, logging) that want to see
// traffic without participating in dispatch.
func (t *Transport) Receive() <-chan *jsonrpc.Request { return t.reqChan }

// Close stops the sweeper and closes the inner transport. Idempotent.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		if t.sweeper != nil {
			<-t.sweeper.Stop().Done()
		}
		err = t.inner.Close()
		_ = t.sm.Transition(transport.Disconnecting)
		_ = t.sm.Transition(transport.Disconnected)
	})
	return err
}

// State reports the current connection state.
func (t *Transport) State() transport.State { return t.sm.State() }

// Events exposes the bridge's own lifecycle event stream. Inner-transport
// events are not replayed here; observers wanting those should listen on
// the inner transport directly.
func (t *Transport) Events() <-chan transport.Event { return t.emitter.Listen() }

// TransportType reports the inner transport's type, since the bridge owns
// no I/O of its own.
func (t *Transport) TransportType() string { return t.inner.TransportType() }

// Capabilities delegates to the inner transport.
func (t *Transport) Capabilities() transport.Capabilities { return t.inner.Capabilities() }

// Metrics delegates to the inner transport.
func (t *Transport) Metrics() transport.Metrics { return t.inner.Metrics() }

var _ transport.Transport = (*Transport)(nil)
