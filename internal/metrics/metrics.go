package metrics

import "sync"

// Counter names. A follow-up task can standardize and export these via a
// richer backend; for now a flat event map is enough to drive
// PrometheusHandler and operational dashboards.
const (
	ConnectionsTotal      = "connections_total"
	DisconnectsTotal      = "disconnects_total"
	AuthFailure           = "auth_failure"
	DispatcherErrorsTotal = "dispatcher_errors_total"

	MessagesInTotal  = "messages_in_total"
	MessagesOutTotal = "messages_out_total"
	RelayMessagesTotal = "relay_messages_total"
	RelayDroppedTotal  = "relay_dropped_total"

	DropReasonRateLimited  = "rate_limited"
	DropReasonBadMessage   = "bad_message_dropped"
	DropReasonUnknownPeer  = "unknown_peer_dropped"

	SessionsCreatedTotal = "sessions_created_total"
	SessionsStartedTotal = "sessions_started_total"
	SessionsPausedTotal  = "sessions_paused_total"
	SessionsClosedTotal  = "sessions_closed_total"

	SessionSvcCallsTotal  = "sessionsvc_calls_total"
	SessionSvcErrorsTotal = "sessionsvc_errors_total"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// Production operators scrape it via PrometheusHandler; this type exists so
// the broker's hot paths stay testable without pulling in a metrics client.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Add(name string, delta uint64) {
	if delta == 0 {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		cp[k] = v
	}
	return cp
}
