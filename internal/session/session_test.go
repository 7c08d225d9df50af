package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedact_MasksSensitiveFields(t *testing.T) {
	fields := map[string]interface{}{
		"password": "hunter2",
		"token":    "abc123",
		"username": "alice",
	}
	redacted := Redact(fields)
	assert.Equal(t, RedactedMarker, redacted["password"])
	assert.Equal(t, RedactedMarker, redacted["token"])
	assert.Equal(t, "alice", redacted["username"])
}

func TestRedact_CaseInsensitiveKeys(t *testing.T) {
	fields := map[string]interface{}{"API_Key": "xyz"}
	redacted := Redact(fields)
	assert.Equal(t, RedactedMarker, redacted["API_Key"])
}

func TestGetOrCreate_ReturnsSameSessionForSameID(t *testing.T) {
	m, err := New(DefaultConfig())
	require.NoError(t, err)
	defer m.Stop()

	s1 := m.GetOrCreate("client-1")
	s2 := m.GetOrCreate("client-1")
	assert.Same(t, s1, s2)
}

func TestGetOrCreate_DifferentIDsGetDifferentSessions(t *testing.T) {
	m, err := New(DefaultConfig())
	require.NoError(t, err)
	defer m.Stop()

	s1 := m.GetOrCreate("client-1")
	s2 := m.GetOrCreate("client-2")
	assert.NotSame(t, s1, s2)
	assert.Equal(t, 2, m.Count())
}

func TestSession_TouchIncrementsRequestCount(t *testing.T) {
	m, err := New(DefaultConfig())
	require.NoError(t, err)
	defer m.Stop()

	s := m.GetOrCreate("client-1")
	s.Touch()
	s.Touch()
	assert.Equal(t, int64(2), s.RequestCount())
}

func TestRemove_EvictsSession(t *testing.T) {
	m, err := New(DefaultConfig())
	require.NoError(t, err)
	defer m.Stop()

	m.GetOrCreate("client-1")
	m.Remove("client-1")
	_, ok := m.Get("client-1")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Count())
}

func TestSweepIdleOnce_EvictsSessionsPastIdleTimeout(t *testing.T) {
	m, err := New(Config{Capacity: 1000, IdleTimeout: 10 * time.Millisecond})
	require.NoError(t, err)
	defer m.Stop()

	m.GetOrCreate("stale-client")
	time.Sleep(20 * time.Millisecond)

	m.sweepIdleOnce()
	_, ok := m.Get("stale-client")
	assert.False(t, ok)
}

func TestSweepIdleOnce_KeepsActiveSessions(t *testing.T) {
	m, err := New(Config{Capacity: 1000, IdleTimeout: time.Hour})
	require.NoError(t, err)
	defer m.Stop()

	m.GetOrCreate("active-client")
	m.sweepIdleOnce()
	_, ok := m.Get("active-client")
	assert.True(t, ok)
}

func TestSweepIdleOnce_EmitsExpiredEvent(t *testing.T) {
	m, err := New(Config{Capacity: 1000, IdleTimeout: 10 * time.Millisecond})
	require.NoError(t, err)
	defer m.Stop()

	m.GetOrCreate("stale-client")
	time.Sleep(20 * time.Millisecond)
	m.sweepIdleOnce()

	events := m.GetSessionEvents(0)
	require.Len(t, events, 1)
	assert.Equal(t, EventExpired, events[0].Kind)
	assert.Equal(t, "stale-client", events[0].ClientID)
}

func TestGetOrCreate_EvictsOldestActiveSessionAtCapacity(t *testing.T) {
	m, err := New(Config{Capacity: 2, IdleTimeout: time.Hour})
	require.NoError(t, err)
	defer m.Stop()

	m.GetOrCreate("client-a")
	time.Sleep(time.Millisecond)
	m.GetOrCreate("client-b")
	time.Sleep(time.Millisecond)
	m.GetOrCreate("client-c") // client-a is least-recently-active, evicted

	assert.Equal(t, 2, m.Count())
	_, aStillThere := m.Get("client-a")
	assert.False(t, aStillThere)
	_, bStillThere := m.Get("client-b")
	assert.True(t, bStillThere)
	_, cStillThere := m.Get("client-c")
	assert.True(t, cStillThere)

	events := m.GetSessionEvents(0)
	require.Len(t, events, 1)
	assert.Equal(t, EventTerminated, events[0].Kind)
	assert.Equal(t, "capacity_eviction", events[0].Reason)
	assert.Equal(t, "client-a", events[0].ClientID)
}

func TestGetOrCreate_TouchingASessionProtectsItFromEviction(t *testing.T) {
	m, err := New(Config{Capacity: 2, IdleTimeout: time.Hour})
	require.NoError(t, err)
	defer m.Stop()

	m.GetOrCreate("client-a")
	time.Sleep(time.Millisecond)
	m.GetOrCreate("client-b")
	time.Sleep(time.Millisecond)
	m.GetOrCreate("client-a") // re-touch: client-a is now most recently active
	time.Sleep(time.Millisecond)
	m.GetOrCreate("client-c") // client-b is now least-recently-active, evicted

	_, aStillThere := m.Get("client-a")
	assert.True(t, aStillThere)
	_, bStillThere := m.Get("client-b")
	assert.False(t, bStillThere)
}

func TestAuthenticate_MarksSessionAndRegistersToken(t *testing.T) {
	m, err := New(DefaultConfig())
	require.NoError(t, err)
	defer m.Stop()

	s := m.Authenticate("client-1", "tok-abc", "Alice")
	assert.True(t, s.Authenticated)
	assert.Equal(t, "Alice", s.ClientName)

	clientID, ok := m.ClientIDForToken("tok-abc")
	require.True(t, ok)
	assert.Equal(t, "client-1", clientID)

	events := m.GetSessionEvents(0)
	require.Len(t, events, 1)
	assert.Equal(t, EventAuthenticated, events[0].Kind)
}

func TestRecordRequest_RedactsSensitiveParamsBeforeStorage(t *testing.T) {
	m, err := New(DefaultConfig())
	require.NoError(t, err)
	defer m.Stop()

	m.GetOrCreate("client-1")
	m.RecordRequest("client-1", "tools/call", map[string]interface{}{
		"password": "hunter2",
		"tool":     "search",
	}, true)

	history := m.GetRequestHistory(0)
	require.Len(t, history, 1)
	assert.Equal(t, RedactedMarker, history[0].Params["password"])
	assert.Equal(t, "search", history[0].Params["tool"])
}

func TestRecordRequest_HistoryIsBoundedFIFO(t *testing.T) {
	m, err := New(DefaultConfig())
	require.NoError(t, err)
	defer m.Stop()

	m.GetOrCreate("client-1")
	for i := 0; i < requestHistoryCapacity+10; i++ {
		m.RecordRequest("client-1", "ping", nil, true)
	}

	history := m.GetRequestHistory(0)
	assert.Len(t, history, requestHistoryCapacity)
}

func TestGetRequestHistory_RespectsLimit(t *testing.T) {
	m, err := New(DefaultConfig())
	require.NoError(t, err)
	defer m.Stop()

	m.GetOrCreate("client-1")
	for i := 0; i < 5; i++ {
		m.RecordRequest("client-1", "ping", nil, true)
	}

	history := m.GetRequestHistory(2)
	assert.Len(t, history, 2)
}

func TestGetAnalytics_TracksTotalsAndTopEntries(t *testing.T) {
	m, err := New(DefaultConfig())
	require.NoError(t, err)
	defer m.Stop()

	m.GetOrCreate("client-1")
	m.GetOrCreate("client-2")
	m.RecordRequest("client-1", "tools/call", nil, true)
	m.RecordRequest("client-1", "tools/call", nil, true)
	m.RecordRequest("client-2", "tools/list", nil, false)

	analytics := m.GetAnalytics()
	assert.Equal(t, 2, analytics.TotalSessions)
	assert.Equal(t, int64(3), analytics.TotalRequests)
	assert.Equal(t, int64(2), analytics.TotalSuccesses)
	assert.Equal(t, int64(1), analytics.TotalFailures)
	assert.Equal(t, 2, analytics.ActiveSessions)
	require.NotEmpty(t, analytics.TopClients)
	assert.Equal(t, "client-1", analytics.TopClients[0].ClientID)
	assert.Equal(t, int64(2), analytics.TopClients[0].Count)
	require.NotEmpty(t, analytics.TopMethods)
	assert.Equal(t, "tools/call", analytics.TopMethods[0].Method)
}

func TestTerminate_RecordsReasonAndEvictsSession(t *testing.T) {
	m, err := New(DefaultConfig())
	require.NoError(t, err)
	defer m.Stop()

	m.GetOrCreate("client-1")
	m.Terminate("client-1", "client_disconnect")

	_, ok := m.Get("client-1")
	assert.False(t, ok)

	events := m.GetSessionEvents(0)
	require.Len(t, events, 1)
	assert.Equal(t, EventTerminated, events[0].Kind)
	assert.Equal(t, "client_disconnect", events[0].Reason)
}
