package vpn

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// ErrTelemetryUnavailable covers failed or malformed telemetry polls. The
// failure is logged and the poll skipped; session state is never affected.
var ErrTelemetryUnavailable = errors.New("telemetry unavailable")

// statusCommand queries the management interface for per-interface counters.
const statusCommand = "status 2\n"

// endMarker terminates a management status reply.
const endMarker = "END"

var (
	sentPattern     = regexp.MustCompile(`TUN/TAP write bytes,(\d+)`)
	receivedPattern = regexp.MustCompile(`TUN/TAP read bytes,(\d+)`)
)

// readStatusReply accumulates the reply until the END marker line.
func readStatusReply(r io.Reader) (string, error) {
	var b strings.Builder
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		b.WriteString(line)
		b.WriteByte('\n')
		if strings.TrimSpace(line) == endMarker {
			return b.String(), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("%w: read status reply: %v", ErrTelemetryUnavailable, err)
	}
	return "", fmt.Errorf("%w: reply ended without %s marker", ErrTelemetryUnavailable, endMarker)
}

// parseStatus extracts the sent/received byte counters from a status reply.
func parseStatus(reply string) (sent, received uint64, err error) {
	sentMatch := sentPattern.FindStringSubmatch(reply)
	recvMatch := receivedPattern.FindStringSubmatch(reply)
	if sentMatch == nil || recvMatch == nil {
		return 0, 0, fmt.Errorf("%w: counters missing from status reply", ErrTelemetryUnavailable)
	}

	sent, err = strconv.ParseUint(sentMatch[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: parse sent counter: %v", ErrTelemetryUnavailable, err)
	}
	received, err = strconv.ParseUint(recvMatch[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: parse received counter: %v", ErrTelemetryUnavailable, err)
	}
	return sent, received, nil
}
