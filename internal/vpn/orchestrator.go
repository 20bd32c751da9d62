package vpn

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/tunnelx/tunnelx/internal/notify"
	"github.com/tunnelx/tunnelx/internal/obs"
)

// Notifier delivers an event to one specific user's push channel.
type Notifier interface {
	SendTo(userID string, event interface{}) bool
}

// Broadcaster fans an event out to every subscribed observer.
type Broadcaster interface {
	Broadcast(event interface{})
}

// ConnectionStore persists the per-user connection flag.
type ConnectionStore interface {
	SetConnected(userID string, connected bool) error
}

// ConnectionStoreFunc adapts a function to the ConnectionStore interface.
type ConnectionStoreFunc func(userID string, connected bool) error

func (f ConnectionStoreFunc) SetConnected(userID string, connected bool) error {
	return f(userID, connected)
}

// SessionStats is one entry of the all-sessions stats listing.
type SessionStats struct {
	UserID         string    `json:"userId"`
	State          State     `json:"state"`
	SentMB         float64   `json:"sentMB"`
	ReceivedMB     float64   `json:"receivedMB"`
	UptimeSec      int64     `json:"uptimeSec"`
	Degraded       bool      `json:"degraded,omitempty"`
	ConnectedSince time.Time `json:"connectedSince"`
	ManagementPort int       `json:"managementPort"`
}

// Orchestrator supervises tunnel processes: it owns the registry, spawns and
// tears down processes, runs the telemetry poller per connected session and
// emits lifecycle events. All state transitions happen here; every path a
// session can die through converges on the same idempotent finalize step.
type Orchestrator struct {
	registry  *Registry
	runner    Runner
	notifier  Notifier
	broadcast Broadcaster
	store     ConnectionStore
	poller    *Poller
}

func NewOrchestrator(registry *Registry, runner Runner, notifier Notifier, broadcast Broadcaster, store ConnectionStore, pollInterval time.Duration) *Orchestrator {
	return &Orchestrator{
		registry:  registry,
		runner:    runner,
		notifier:  notifier,
		broadcast: broadcast,
		store:     store,
		poller:    &Poller{Interval: pollInterval, Broadcast: broadcast},
	}
}

// Registry exposes the session registry for read-side consumers.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Start accepts a start request: it registers the session, spawns the tunnel
// process and returns. Establishment is asynchronous; success is reported
// through the broadcast path once the process signals a completed
// negotiation.
func (o *Orchestrator) Start(ctx context.Context, userID string) error {
	sess, err := o.registry.TryCreate(userID)
	if err != nil {
		return err
	}

	proc, err := o.runner.Start(ctx, userID, sess.ControlPort)
	if err != nil {
		o.registry.Remove(userID, sess)
		return err
	}
	sess.attachProcess(proc)

	obs.SessionStartsTotal.Inc()
	obs.ActiveSessions.Inc()
	log.Printf("[vpn] user %s: session %s starting on management port %d", userID, sess.ID, sess.ControlPort)

	go o.watchOutput(sess, proc)
	go o.watchExit(sess, proc)
	return nil
}

// Stop initiates teardown of the user's session. It acknowledges as soon as
// teardown is underway; process termination completes in the background.
func (o *Orchestrator) Stop(userID string) error {
	sess, ok := o.registry.Get(userID)
	if !ok {
		return ErrNoActiveSession
	}
	go o.teardown(sess, "stop requested")
	return nil
}

// ForceStop is the admin-initiated variant of Stop: the affected user's
// bound channel additionally receives a forceDisconnect status update.
func (o *Orchestrator) ForceStop(userID, actingAdmin string) error {
	sess, ok := o.registry.Get(userID)
	if !ok {
		return ErrNoActiveSession
	}
	log.Printf("[vpn] user %s: force stop by admin %s", userID, actingAdmin)
	if !sess.advance(StateClosing) {
		// Teardown already underway; acknowledge without re-notifying.
		return nil
	}
	o.notifier.SendTo(userID, notify.NewForceDisconnect(userID))
	go o.closeSession(sess, "forced by admin")
	return nil
}

// GetStats returns the user's current telemetry, or ErrNoActiveSession.
func (o *Orchestrator) GetStats(userID string) (Stats, error) {
	sess, ok := o.registry.Get(userID)
	if !ok {
		return Stats{}, ErrNoActiveSession
	}
	return sess.Stats(), nil
}

// ListAllStats returns telemetry for every live session.
func (o *Orchestrator) ListAllStats() []SessionStats {
	sessions := o.registry.List()
	out := make([]SessionStats, 0, len(sessions))
	for _, sess := range sessions {
		stats := sess.Stats()
		out = append(out, SessionStats{
			UserID:         sess.UserID,
			State:          sess.State(),
			SentMB:         stats.SentMB,
			ReceivedMB:     stats.ReceivedMB,
			UptimeSec:      stats.UptimeSec,
			Degraded:       stats.Degraded,
			ConnectedSince: sess.StartedAt(),
			ManagementPort: sess.ControlPort,
		})
	}
	return out
}

// Shutdown tears down every live session and waits for cleanup, bounded by
// the context.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	for _, sess := range o.registry.List() {
		go o.teardown(sess, "server shutting down")
	}
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for o.registry.Len() > 0 {
		select {
		case <-ctx.Done():
			log.Printf("[vpn] shutdown: %d sessions still closing", o.registry.Len())
			return
		case <-ticker.C:
		}
	}
}

// watchOutput consumes the process stdout stream. The ready marker promotes
// the session to connected and starts the poller.
func (o *Orchestrator) watchOutput(sess *Session, proc Process) {
	for line := range proc.Output() {
		if !strings.Contains(line, readyMarker) {
			continue
		}
		if !sess.advance(StateConnected) {
			continue
		}
		log.Printf("[vpn] user %s: tunnel established", sess.UserID)

		// The cancel must be visible before the poller runs: if the
		// process already died and cleanup finished in the meantime,
		// the install is refused and no poller starts.
		pollCtx, cancel := context.WithCancel(context.Background())
		if !sess.setPollCancel(cancel) {
			cancel()
			continue
		}
		o.poller.Start(pollCtx, sess)

		if err := o.store.SetConnected(sess.UserID, true); err != nil {
			log.Printf("[vpn] user %s: persist connection flag: %v", sess.UserID, err)
		}
		o.broadcast.Broadcast(notify.NewAdminRefresh(sess.UserID, true))
	}
}

// watchExit finalizes the session once the process has exited for any
// reason. Together with teardown this is the single unconditional cleanup
// path: explicit stops terminate the process, which lands here.
func (o *Orchestrator) watchExit(sess *Session, proc Process) {
	<-proc.Done()
	o.finalize(sess, "process exited")
}

// teardown initiates the closing sequence. If the session is already closing
// or closed this is a no-op.
func (o *Orchestrator) teardown(sess *Session, reason string) {
	if !sess.advance(StateClosing) {
		return
	}
	o.closeSession(sess, reason)
}

// closeSession runs once the closing transition is won: stop the poller,
// then signal the process. The subsequent exit triggers finalize.
func (o *Orchestrator) closeSession(sess *Session, reason string) {
	log.Printf("[vpn] user %s: closing session (%s)", sess.UserID, reason)
	sess.stopPolling()
	if proc := sess.process(); proc != nil {
		if err := proc.Terminate(); err != nil {
			log.Printf("[vpn] user %s: terminate process: %v", sess.UserID, err)
		}
	}
	obs.SessionsClosedTotal.WithLabelValues(reasonLabel(reason)).Inc()
}

// finalize is the idempotent terminal step every session reaches exactly
// once: report last known stats, evict from the registry, persist the
// connection flag and broadcast the change.
func (o *Orchestrator) finalize(sess *Session, reason string) {
	sess.finalizeOnce.Do(func() {
		// Closing is entered before the poll cancel is consumed, so a
		// concurrent setPollCancel either lands first (and is cancelled
		// here) or is refused.
		sess.advance(StateClosing)
		sess.stopPolling()

		// Last known values go out before the session disappears.
		stats := sess.Stats()
		o.broadcast.Broadcast(notify.NewStatsUpdate(sess.UserID, stats.SentMB, stats.ReceivedMB, stats.UptimeSec))

		o.registry.Remove(sess.UserID, sess)
		sess.advance(StateClosed)

		if err := o.store.SetConnected(sess.UserID, false); err != nil {
			log.Printf("[vpn] user %s: persist connection flag: %v", sess.UserID, err)
		}
		o.broadcast.Broadcast(notify.NewAdminRefresh(sess.UserID, false))

		obs.ActiveSessions.Dec()
		obs.SessionDurationSeconds.Observe(time.Since(sess.StartedAt()).Seconds())
		log.Printf("[vpn] user %s: session %s closed (%s)", sess.UserID, sess.ID, reason)
	})
}

func reasonLabel(reason string) string {
	switch reason {
	case "stop requested":
		return "stop"
	case "forced by admin":
		return "force_stop"
	case "server shutting down":
		return "shutdown"
	default:
		return "exit"
	}
}
