// Package httpsse implements the Transport interface over HTTP: a POST
// endpoint for client-to-server requests, a GET SSE stream and a WebSocket
// endpoint for server-to-client delivery, each keyed by a session id.
//
// Grounded on the teacher's internal/domain/transport.go HTTPTransport
// (POST /mcp/message, GET /mcp SSE, sessionId query param, 30s keep-alive
// ticker) and unraid-management-agent's daemon/services/mcp/transport.go
// SSETransport (per-client channel, CORS headers, Broadcast/ClientCount),
// routed with gorilla/mux and upgraded with gorilla/websocket instead of
// the teacher's bare net/http mux.
package httpsse

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"mcpcore/internal/jsonrpc"
	"mcpcore/internal/transport"
)

const (
	keepAliveInterval = 30 * time.Second
	sessionChanCapacity = 64
	// defaultMaxMessageSize bounds a single encoded message at 16MiB.
	defaultMaxMessageSize = 16 << 20
)

// session tracks one connected client, whether over SSE or WebSocket.
type session struct {
	id       string
	outbound chan *jsonrpc.Response
	ws       *websocket.Conn
}

// Transport serves MCP over HTTP at a configurable address, exposing
// POST /mcp (submit a request), GET /mcp/sse (subscribe via SSE), and
// GET /mcp/ws (subscribe via WebSocket).
type Transport struct {
	addr string

	sm      *transport.StateMachine
	emitter *transport.EventEmitter
	cm      *transport.CapabilityMetrics
	reqChan chan *jsonrpc.Request

	server   *http.Server
	listener net.Listener
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*session

	closeOnce sync.Once
}

// New builds a Transport that will listen at addr once Start is called.
func New(addr string) *Transport {
	return &Transport{
		addr:    addr,
		sm:      transport.NewStateMachine(),
		emitter: transport.NewEventEmitter(),
		cm: transport.NewCapabilityMetrics(transport.Capabilities{
			MaxMessageSize:        defaultMaxMessageSize,
			SupportsStreaming:     true,
			SupportsBidirectional: true,
		}),
		reqChan:  make(chan *jsonrpc.Request, 128),
		sessions: make(map[string]*session),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Start binds the listener and begins serving. Idempotent.
func (t *Transport) Start(ctx context.Context) error {
	if t.sm.State() == transport.Connected {
		return nil
	}
	if err := t.sm.Transition(transport.Connecting); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		_ = t.sm.Transition(transport.Failed)
		return fmt.Errorf("httpsse: listen %s: %w", t.addr, err)
	}
	t.listener = ln

	router := mux.NewRouter()
	router.Use(corsMiddleware)
	router.HandleFunc("/mcp", t.handlePost).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/mcp/sse", t.handleSSE).Methods(http.MethodGet)
	router.HandleFunc("/mcp/ws", t.handleWS).Methods(http.MethodGet)

	t.server = &http.Server{Handler: router}
	go func() {
		_ = t.server.Serve(ln)
	}()

	if err := t.sm.Transition(transport.Connected); err != nil {
		return err
	}
	t.emitter.Emit(transport.Event{Kind: transport.EventConnected})
	return nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (t *Transport) handlePost(w http.ResponseWriter, r *http.Request) {
	if err := t.cm.CheckSize(int(r.ContentLength)); err != nil {
		t.cm.RecordError()
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	var req jsonrpc.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		t.cm.RecordError()
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	t.cm.RecordReceived(int(r.ContentLength))
	t.emitter.Emit(transport.Event{Kind: transport.EventMessageReceived})
	select {
	case t.reqChan <- &req:
		w.WriteHeader(http.StatusAccepted)
	case <-r.Context().Done():
		http.Error(w, "request cancelled", http.StatusGatewayTimeout)
	}
}

func (t *Transport) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sess := &session{id: uuid.NewString(), outbound: make(chan *jsonrpc.Response, sessionChanCapacity)}
	t.addSession(sess)
	defer t.removeSession(sess.id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(w, "event: endpoint\ndata: /mcp?sessionId=%s\n\n", sess.id)
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprintf(w, ": keep-alive\n\n")
			flusher.Flush()
		case resp, ok := <-sess.outbound:
			if !ok {
				return
			}
			data, err := json.Marshal(resp)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (t *Transport) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sess := &session{id: uuid.NewString(), outbound: make(chan *jsonrpc.Response, sessionChanCapacity), ws: conn}
	t.addSession(sess)
	defer t.removeSession(sess.id)
	defer conn.Close()

	go func() {
		for resp := range sess.outbound {
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}()

	for {
		var req jsonrpc.Request
		if err := conn.ReadJSON(&req); err != nil {
			t.cm.RecordError()
			return
		}
		t.cm.RecordReceived(0)
		t.emitter.Emit(transport.Event{Kind: transport.EventMessageReceived})
		t.reqChan <- &req
	}
}

func (t *Transport) addSession(s *session) {
	t.mu.Lock()
	t.sessions[s.id] = s
	t.mu.Unlock()
}

func (t *Transport) removeSession(id string) {
	t.mu.Lock()
	if s, ok := t.sessions[id]; ok {
		close(s.outbound)
		delete(t.sessions, id)
	}
	t.mu.Unlock()
}

// SessionCount returns the number of connected SSE/WS sessions, mirroring
// unraid's SSETransport.ClientCount.
func (t *Transport) SessionCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// Send broadcasts resp to every connected session. HTTP transports have no
// single return channel the way stdio does, since a client may be
// connected over SSE/WS independently of which POST triggered this
// response; broadcasting and letting each session's own correlation id
// filter it client-side matches the teacher's and unraid's session model.
func (t *Transport) Send(ctx context.Context, resp *jsonrpc.Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("httpsse: marshal response: %w", err)
	}
	if err := t.cm.CheckSize(len(data)); err != nil {
		t.cm.RecordError()
		return err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range t.sessions {
		select {
		case s.outbound <- resp:
		default:
		}
	}
	t.cm.RecordSent(len(data))
	t.emitter.Emit(transport.Event{Kind: transport.EventMessageSent})
	return nil
}

// Receive returns the inbound request channel, fed by POST bodies and
// WebSocket frames.
func (t *Transport) Receive() <-chan *jsonrpc.Request { return t.reqChan }

// Close shuts the HTTP server down. Idempotent.
func (t *Transport) Close() error {
	var closeErr error
	t.closeOnce.Do(func() {
		_ = t.sm.Transition(transport.Disconnecting)
		if t.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			closeErr = t.server.Shutdown(ctx)
		}
		t.mu.Lock()
		for id, s := range t.sessions {
			close(s.outbound)
			delete(t.sessions, id)
		}
		t.mu.Unlock()
		_ = t.sm.Transition(transport.Disconnected)
		t.emitter.Emit(transport.Event{Kind: transport.EventDisconnected})
	})
	return closeErr
}

// State reports the current connection state.
func (t *Transport) State() transport.State { return t.sm.State() }

// Events exposes the transport's lifecycle event stream.
func (t *Transport) Events() <-chan transport.Event { return t.emitter.Listen() }

// TransportType identifies this carrier as "http".
func (t *Transport) TransportType() string { return "http" }

// Capabilities reports this transport's fixed capability set.
func (t *Transport) Capabilities() transport.Capabilities { return t.cm.Capabilities() }

// Metrics reports this transport's cumulative send/receive counters.
func (t *Transport) Metrics() transport.Metrics { return t.cm.Metrics() }

// Endpoint reports the address this transport listens on.
func (t *Transport) Endpoint() string { return t.addr }

var (
	_ transport.Transport  = (*Transport)(nil)
	_ transport.Endpointer = (*Transport)(nil)
)
