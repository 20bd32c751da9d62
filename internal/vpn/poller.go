package vpn

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"time"

	"github.com/tunnelx/tunnelx/internal/notify"
	"github.com/tunnelx/tunnelx/internal/obs"
)

const (
	pollDialTimeout = 3 * time.Second
	pollIOTimeout   = 3 * time.Second

	// degradedThreshold is the number of consecutive poll failures after
	// which the session's telemetry is flagged degraded. Polling continues;
	// only the orchestrator ends sessions.
	degradedThreshold = 3
)

// Poller periodically opens a short-lived connection to a session's
// management port, issues a status query and updates the session counters.
// It runs only while the session is connected.
type Poller struct {
	Interval  time.Duration
	Broadcast Broadcaster
}

// Start launches the polling loop for the session. The loop stops when the
// context is cancelled.
func (p *Poller) Start(ctx context.Context, sess *Session) {
	go p.run(ctx, sess)
}

func (p *Poller) run(ctx context.Context, sess *Session) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.pollOnce(ctx, sess); err != nil {
				failures++
				obs.PollsTotal.WithLabelValues("error").Inc()
				log.Printf("[poll] user %s: %v (%d consecutive failures)", sess.UserID, err, failures)
				if failures == degradedThreshold {
					sess.markDegraded(true)
					log.Printf("[poll] user %s: telemetry degraded", sess.UserID)
				}
				continue
			}
			if failures >= degradedThreshold {
				sess.markDegraded(false)
				log.Printf("[poll] user %s: telemetry recovered", sess.UserID)
			}
			failures = 0
			obs.PollsTotal.WithLabelValues("ok").Inc()
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context, sess *Session) error {
	d := net.Dialer{Timeout: pollDialTimeout}
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("127.0.0.1:%d", sess.ControlPort))
	if err != nil {
		return fmt.Errorf("%w: dial management port: %v", ErrTelemetryUnavailable, err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(pollIOTimeout))
	if _, err := io.WriteString(conn, statusCommand); err != nil {
		return fmt.Errorf("%w: send status query: %v", ErrTelemetryUnavailable, err)
	}

	reply, err := readStatusReply(conn)
	if err != nil {
		return err
	}
	sent, received, err := parseStatus(reply)
	if err != nil {
		return err
	}

	sess.updateCounters(sent, received)
	stats := sess.Stats()
	p.Broadcast.Broadcast(notify.NewStatsUpdate(sess.UserID, stats.SentMB, stats.ReceivedMB, stats.UptimeSec))
	return nil
}
