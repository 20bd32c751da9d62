// Package vpn implements the session orchestrator: it supervises one tunnel
// process per user, polls its management port for transfer counters, and
// emits lifecycle events to connected clients.
package vpn

import (
	"math"
	"sync"
	"time"
)

// State is the lifecycle phase of a session. Transitions only move forward:
// starting -> connected -> closing -> closed. Closed is terminal.
type State string

const (
	StateStarting  State = "starting"
	StateConnected State = "connected"
	StateClosing   State = "closing"
	StateClosed    State = "closed"
)

func (s State) String() string {
	return string(s)
}

func (s State) IsValid() bool {
	switch s {
	case StateStarting, StateConnected, StateClosing, StateClosed:
		return true
	default:
		return false
	}
}

func (s State) rank() int {
	switch s {
	case StateStarting:
		return 0
	case StateConnected:
		return 1
	case StateClosing:
		return 2
	case StateClosed:
		return 3
	default:
		return -1
	}
}

// Telemetry holds the running transfer counters for one session. Counters
// are monotonic within a session; a new session starts at zero.
type Telemetry struct {
	SentBytes     uint64
	ReceivedBytes uint64
	StartedAt     time.Time
	LastPolledAt  time.Time
	Degraded      bool
}

// Stats is the reportable view of a session's telemetry.
type Stats struct {
	SentMB     float64 `json:"sentMB"`
	ReceivedMB float64 `json:"receivedMB"`
	UptimeSec  int64   `json:"uptimeSec"`
	Degraded   bool    `json:"degraded,omitempty"`
}

// Session is the orchestrator's record of one user's active or transitioning
// tunnel. The orchestrator exclusively owns state transitions; the poller
// only updates telemetry counters.
type Session struct {
	UserID      string
	ID          string
	ControlPort int

	mu        sync.Mutex
	state     State
	telemetry Telemetry

	proc       Process
	pollCancel func()

	finalizeOnce sync.Once
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// advance moves the session state forward. It returns false when the target
// state does not strictly follow the current one, leaving the state intact.
func (s *Session) advance(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if to.rank() <= s.state.rank() {
		return false
	}
	s.state = to
	return true
}

func (s *Session) attachProcess(p Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proc = p
}

func (s *Session) process() Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc
}

// setPollCancel installs the poller's cancel func, but only while the
// session has not moved past connected. It returns false once teardown has
// begun, so a poller can never be registered after cleanup stopped looking
// for one.
func (s *Session) setPollCancel(cancel func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.rank() > StateConnected.rank() {
		return false
	}
	s.pollCancel = cancel
	return true
}

// stopPolling cancels the session's poller, if running. Idempotent.
func (s *Session) stopPolling() {
	s.mu.Lock()
	cancel := s.pollCancel
	s.pollCancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// updateCounters applies a successful poll result. Counter regressions are
// ignored so reported values stay monotonic within one session.
func (s *Session) updateCounters(sent, received uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sent >= s.telemetry.SentBytes {
		s.telemetry.SentBytes = sent
	}
	if received >= s.telemetry.ReceivedBytes {
		s.telemetry.ReceivedBytes = received
	}
	s.telemetry.LastPolledAt = time.Now()
}

func (s *Session) markDegraded(degraded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.telemetry.Degraded = degraded
}

func (s *Session) telemetrySnapshot() Telemetry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.telemetry
}

// Stats converts the current counters to mebibytes (2 decimal places) and
// seconds of uptime.
func (s *Session) Stats() Stats {
	t := s.telemetrySnapshot()
	return Stats{
		SentMB:     toMB(t.SentBytes),
		ReceivedMB: toMB(t.ReceivedBytes),
		UptimeSec:  int64(time.Since(t.StartedAt) / time.Second),
		Degraded:   t.Degraded,
	}
}

// StartedAt returns the session creation time.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.telemetry.StartedAt
}

func toMB(bytes uint64) float64 {
	return math.Round(float64(bytes)/(1024*1024)*100) / 100
}
