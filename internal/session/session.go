// Package session tracks connected MCP clients: a bounded table keyed by
// client id ordered by last activity, token-based authentication, a bounded
// request history and event log feeding usage analytics, and a background
// sweeper that evicts sessions idle past a timeout. Session analytics never
// retain raw credential values, mirroring the teacher's own discipline
// (confirmed by its property tests asserting ValidateCredentials error
// messages never leak a password or token) generalized into an explicit
// redaction step applied before any request is recorded.
//
// Grounded on the teacher's credential-map-by-tool-name shape
// (internal/domain/auth.go's AuthenticationManager.credentials) generalized
// into a token->client table, and on towerbridge's robfig/cron/v3-driven
// idle sweep for the eviction loop. The capacity-eviction order (evict the
// session with the oldest LastActivity first) is a plain container/list LRU
// rather than ristretto's admission policy, since the table's eviction
// order must be deterministic and independently observable as an emitted
// event — ristretto stays in use in internal/robustness/dedup, where
// admission-policy eviction is an acceptable tradeoff for a pure
// dedup cache with no externally-visible ordering contract.
package session

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// sensitiveFields are argument/metadata keys whose values are replaced with
// a redaction marker before being retained in request history.
var sensitiveFields = map[string]bool{
	"password": true,
	"token":    true,
	"api_key":  true,
	"apikey":   true,
	"secret":   true,
	"auth":     true,
}

// RedactedMarker replaces a sensitive field's value in recorded request
// parameters.
const RedactedMarker = "[REDACTED]"

// Redact returns a copy of fields with any sensitive key's value replaced
// by RedactedMarker, leaving non-sensitive keys untouched.
func Redact(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if isSensitiveKey(k) {
			out[k] = RedactedMarker
			continue
		}
		out[k] = v
	}
	return out
}

func isSensitiveKey(key string) bool {
	return sensitiveFields[strings.ToLower(key)]
}

// EventKind identifies the kind of session lifecycle event.
type EventKind int

const (
	// EventAuthenticated fires when a session successfully authenticates.
	EventAuthenticated EventKind = iota
	// EventTerminated fires when a session is evicted or explicitly
	// removed; Reason distinguishes "capacity_eviction" from a manual
	// Terminate call.
	EventTerminated
	// EventExpired fires when the idle sweeper evicts a session for
	// inactivity.
	EventExpired
)

func (k EventKind) String() string {
	switch k {
	case EventAuthenticated:
		return "authenticated"
	case EventTerminated:
		return "terminated"
	case EventExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Event is one session lifecycle notification, retained in the Manager's
// bounded event history.
type Event struct {
	Kind      EventKind
	ClientID  string
	Reason    string
	Timestamp time.Time
}

// RequestInfo is one recorded request against a session, with any sensitive
// parameter values redacted before storage.
type RequestInfo struct {
	ClientID  string
	Method    string
	Params    map[string]interface{}
	Success   bool
	Timestamp time.Time
}

// Session is one connected client's tracked state.
type Session struct {
	ClientID      string
	TransportType string
	CreatedAt     time.Time
	LastActivity  time.Time
	Authenticated bool
	ClientName    string
	Metadata      map[string]interface{}

	mu           sync.Mutex
	requestCount int64
	elem         *list.Element // this session's node in the Manager's LRU list
}

// Touch records activity on the session, advancing LastActivity and
// incrementing its request count.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActivity = time.Now()
	s.requestCount++
}

// RequestCount reports how many requests this session has made.
func (s *Session) RequestCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestCount
}

// Analytics summarizes usage across every session the Manager has ever
// tracked, per get_analytics.
type Analytics struct {
	TotalSessions      int
	TotalRequests      int64
	TotalSuccesses     int64
	TotalFailures      int64
	ActiveSessions     int
	AvgSessionDuration time.Duration
	TopClients         []ClientCount
	TopMethods         []MethodCount
	RequestsPerMinute  float64
}

// ClientCount pairs a client id with its request count, for TopClients.
type ClientCount struct {
	ClientID string
	Count    int64
}

// MethodCount pairs a method name with its call count, for TopMethods.
type MethodCount struct {
	Method string
	Count  int64
}

// topN is how many entries get_analytics reports for TopClients/TopMethods.
const topN = 5

// requestHistoryCapacity bounds the request-history FIFO.
const requestHistoryCapacity = 1000

// eventHistoryCapacity bounds the session-event FIFO.
const eventHistoryCapacity = 1000

// Manager is a bounded table of live Sessions ordered by last activity,
// with capacity-based LRU eviction, an independent idle-timeout sweeper, a
// token->client authentication table, and bounded request/event history
// feeding analytics.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	order    *list.List // front = most recently active, back = least
	capacity int

	idleTimeout time.Duration
	cron        *cron.Cron

	tokens map[string]string // token -> clientID

	requestHistory []RequestInfo
	events         []Event

	totalSessionsEver   int
	totalRequests       int64
	totalSuccesses      int64
	totalFailures       int64
	closedDurationSum   time.Duration
	closedDurationCount int64
}

// Config tunes a Manager.
type Config struct {
	Capacity    int64
	IdleTimeout time.Duration
}

// DefaultConfig bounds the table at 10,000 sessions, evicting after 30
// minutes of inactivity.
func DefaultConfig() Config {
	return Config{Capacity: 10_000, IdleTimeout: 30 * time.Minute}
}

// New builds a Manager. Call StartSweeper to begin the idle-eviction loop.
func New(cfg Config) (*Manager, error) {
	capacity := int(cfg.Capacity)
	if capacity <= 0 {
		capacity = int(DefaultConfig().Capacity)
	}
	return &Manager{
		sessions:    make(map[string]*Session),
		order:       list.New(),
		capacity:    capacity,
		idleTimeout: cfg.IdleTimeout,
		tokens:      make(map[string]string),
	}, nil
}

// GetOrCreate returns the existing session for clientID, or creates a fresh
// one with an empty transport type. Advances the session's LastActivity and
// LRU position.
func (m *Manager) GetOrCreate(clientID string) *Session {
	return m.GetOrCreateTransport(clientID, "")
}

// GetOrCreateTransport is GetOrCreate with an explicit transport type,
// recorded only when the session is first created.
func (m *Manager) GetOrCreateTransport(clientID, transportType string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[clientID]; ok {
		m.order.MoveToFront(s.elem)
		s.mu.Lock()
		s.LastActivity = time.Now()
		s.mu.Unlock()
		return s
	}

	if len(m.sessions) >= m.capacity {
		m.evictOldestLocked()
	}

	now := time.Now()
	s := &Session{
		ClientID:      clientID,
		TransportType: transportType,
		CreatedAt:     now,
		LastActivity:  now,
		Metadata:      make(map[string]interface{}),
	}
	s.elem = m.order.PushFront(clientID)
	m.sessions[clientID] = s
	m.totalSessionsEver++
	return s
}

// evictOldestLocked removes the session at the back of the LRU list (the
// one with the oldest LastActivity), emitting a capacity_eviction Terminated
// event. Callers must hold m.mu.
func (m *Manager) evictOldestLocked() {
	back := m.order.Back()
	if back == nil {
		return
	}
	clientID := back.Value.(string)
	m.removeLocked(clientID)
	m.recordEventLocked(Event{
		Kind:      EventTerminated,
		ClientID:  clientID,
		Reason:    "capacity_eviction",
		Timestamp: time.Now(),
	})
}

// removeLocked deletes clientID's session and list node. Callers must hold
// m.mu.
func (m *Manager) removeLocked(clientID string) {
	s, ok := m.sessions[clientID]
	if !ok {
		return
	}
	m.order.Remove(s.elem)
	delete(m.sessions, clientID)
	m.closedDurationSum += time.Since(s.CreatedAt)
	m.closedDurationCount++
}

// Get returns a session by id, if present. Does not alter LRU order,
// mirroring a read-only lookup.
func (m *Manager) Get(clientID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[clientID]
	return s, ok
}

// Authenticate marks clientID's session authenticated under clientName and
// registers token in the token->client table, so a later request carrying
// only a bearer token can be attributed to its session. Creates the session
// if it does not already exist.
func (m *Manager) Authenticate(clientID, token, clientName string) *Session {
	s := m.GetOrCreate(clientID)
	s.mu.Lock()
	s.Authenticated = true
	s.ClientName = clientName
	s.mu.Unlock()

	m.mu.Lock()
	if token != "" {
		m.tokens[token] = clientID
	}
	m.recordEventLocked(Event{
		Kind:      EventAuthenticated,
		ClientID:  clientID,
		Timestamp: time.Now(),
	})
	m.mu.Unlock()
	return s
}

// ClientIDForToken resolves a previously authenticated token to its client
// id.
func (m *Manager) ClientIDForToken(token string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clientID, ok := m.tokens[token]
	return clientID, ok
}

// RecordRequest appends a redacted RequestInfo to the bounded request
// history and updates analytics counters. params is redacted via Redact
// before storage, so no sensitive field value is ever retained.
func (m *Manager) RecordRequest(clientID, method string, params map[string]interface{}, success bool) {
	if s, ok := m.Get(clientID); ok {
		s.Touch()
	}

	info := RequestInfo{
		ClientID:  clientID,
		Method:    method,
		Params:    Redact(params),
		Success:   success,
		Timestamp: time.Now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[clientID]; ok {
		m.order.MoveToFront(s.elem)
	}

	m.requestHistory = append(m.requestHistory, info)
	if len(m.requestHistory) > requestHistoryCapacity {
		m.requestHistory = m.requestHistory[len(m.requestHistory)-requestHistoryCapacity:]
	}

	m.totalRequests++
	if success {
		m.totalSuccesses++
	} else {
		m.totalFailures++
	}
}

// Terminate evicts clientID's session immediately and records a Terminated
// event with the given reason (e.g. "client_disconnect", "manual").
func (m *Manager) Terminate(clientID, reason string) {
	m.mu.Lock()
	m.removeLocked(clientID)
	m.recordEventLocked(Event{
		Kind:      EventTerminated,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now(),
	})
	m.mu.Unlock()
}

// Remove evicts a session immediately without recording a reason, kept for
// callers that only need eviction, not an auditable termination reason.
func (m *Manager) Remove(clientID string) {
	m.mu.Lock()
	m.removeLocked(clientID)
	m.mu.Unlock()
}

// Count reports how many client ids this Manager is currently tracking.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// GetAnalytics computes totals, active session count, average session
// duration, top clients and methods by request count, and the requests/min
// rate over the last hour of recorded history.
func (m *Manager) GetAnalytics() Analytics {
	m.mu.Lock()
	defer m.mu.Unlock()

	clientCounts := make(map[string]int64)
	methodCounts := make(map[string]int64)
	var recentCount int64
	cutoff := time.Now().Add(-time.Hour)
	for _, r := range m.requestHistory {
		clientCounts[r.ClientID]++
		methodCounts[r.Method]++
		if r.Timestamp.After(cutoff) {
			recentCount++
		}
	}

	totalDuration := m.closedDurationSum
	for _, s := range m.sessions {
		s.mu.Lock()
		totalDuration += time.Since(s.CreatedAt)
		s.mu.Unlock()
	}
	sampleCount := m.closedDurationCount + int64(len(m.sessions))
	var avgDuration time.Duration
	if sampleCount > 0 {
		avgDuration = totalDuration / time.Duration(sampleCount)
	}

	return Analytics{
		TotalSessions:      m.totalSessionsEver,
		TotalRequests:      m.totalRequests,
		TotalSuccesses:     m.totalSuccesses,
		TotalFailures:      m.totalFailures,
		ActiveSessions:     len(m.sessions),
		AvgSessionDuration: avgDuration,
		TopClients:         topClientCounts(clientCounts, topN),
		TopMethods:         topMethodCounts(methodCounts, topN),
		RequestsPerMinute:  float64(recentCount) / 60.0,
	}
}

func topClientCounts(counts map[string]int64, n int) []ClientCount {
	out := make([]ClientCount, 0, len(counts))
	for id, c := range counts {
		out = append(out, ClientCount{ClientID: id, Count: c})
	}
	sortDescending(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func topMethodCounts(counts map[string]int64, n int) []MethodCount {
	out := make([]MethodCount, 0, len(counts))
	for method, c := range counts {
		out = append(out, MethodCount{Method: method, Count: c})
	}
	sortDescending(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// sortDescending is a tiny insertion sort sized for topN-length slices,
// avoiding a sort.Slice closure allocation for a handful of elements.
func sortDescending[T any](s []T, less func(i, j int) bool) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && less(j, j-1); j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// GetRequestHistory returns the most recent limit requests (all of them if
// limit <= 0 or exceeds the recorded count), newest last.
func (m *Manager) GetRequestHistory(limit int) []RequestInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lastN(m.requestHistory, limit)
}

// GetSessionEvents returns the most recent limit session lifecycle events
// (all of them if limit <= 0 or exceeds the recorded count), newest last.
func (m *Manager) GetSessionEvents(limit int) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lastN(m.events, limit)
}

func lastN[T any](s []T, limit int) []T {
	if limit <= 0 || limit >= len(s) {
		out := make([]T, len(s))
		copy(out, s)
		return out
	}
	out := make([]T, limit)
	copy(out, s[len(s)-limit:])
	return out
}

// recordEventLocked appends ev to the bounded event history. Callers must
// hold m.mu.
func (m *Manager) recordEventLocked(ev Event) {
	m.events = append(m.events, ev)
	if len(m.events) > eventHistoryCapacity {
		m.events = m.events[len(m.events)-eventHistoryCapacity:]
	}
}

// StartSweeper launches a cron job (default: every 5 minutes) that evicts
// sessions idle past idleTimeout, recording an Expired event for each.
func (m *Manager) StartSweeper(spec string) error {
	if spec == "" {
		spec = "@every 5m"
	}
	m.cron = cron.New()
	_, err := m.cron.AddFunc(spec, m.sweepIdleOnce)
	if err != nil {
		return err
	}
	m.cron.Start()
	return nil
}

// sweepIdleOnce evicts every session whose LastActivity is older than
// idleTimeout, emitting an Expired event per eviction. The package's tests
// call it directly to exercise the sweep without waiting on the cron
// schedule.
func (m *Manager) sweepIdleOnce() {
	cutoff := time.Now().Add(-m.idleTimeout)

	m.mu.Lock()
	var stale []string
	for id, s := range m.sessions {
		s.mu.Lock()
		last := s.LastActivity
		s.mu.Unlock()
		if last.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		m.removeLocked(id)
		m.recordEventLocked(Event{
			Kind:      EventExpired,
			ClientID:  id,
			Timestamp: time.Now(),
		})
	}
	m.mu.Unlock()
}

// Stop halts the sweeper cron, if running.
func (m *Manager) Stop() {
	if m.cron != nil {
		ctx := m.cron.Stop()
		<-ctx.Done()
	}
}
