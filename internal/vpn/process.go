package vpn

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/tunnelx/tunnelx/internal/logutil"
)

// ErrSpawnFailed wraps OS-level failures to launch the tunnel binary.
var ErrSpawnFailed = errors.New("failed to launch tunnel process")

// readyMarker on the tunnel's stdout signals a completed negotiation.
const readyMarker = "Initialization Sequence Completed"

// Runner spawns tunnel processes with their control interface bound to a
// management port.
type Runner interface {
	Start(ctx context.Context, userID string, controlPort int) (Process, error)
}

// Process is an exclusive handle to one running tunnel process.
type Process interface {
	// Output streams stdout lines; the channel is closed when the process exits.
	Output() <-chan string
	// Done is closed once the process has exited for any reason.
	Done() <-chan struct{}
	// Terminate signals the process to exit gracefully, escalating to a
	// forceful kill if it does not stop in time.
	Terminate() error
}

// CredentialSource supplies optional VPN provider credentials for the
// --auth-user-pass file.
type CredentialSource interface {
	VPNCredentials() (username, password string, ok bool)
}

// OpenVPNRunner launches the external OpenVPN binary.
type OpenVPNRunner struct {
	BinaryPath  string
	ConfigPath  string
	Credentials CredentialSource
}

func (r *OpenVPNRunner) Start(ctx context.Context, userID string, controlPort int) (Process, error) {
	args := []string{
		"--config", r.ConfigPath,
		"--management", "127.0.0.1", fmt.Sprintf("%d", controlPort),
	}

	var authFile string
	if r.Credentials != nil {
		if user, pass, ok := r.Credentials.VPNCredentials(); ok {
			f, err := os.CreateTemp("", "tunnelx-auth-*")
			if err != nil {
				return nil, fmt.Errorf("%w: write auth file: %v", ErrSpawnFailed, err)
			}
			if _, err := fmt.Fprintf(f, "%s\n%s\n", user, pass); err != nil {
				f.Close()
				os.Remove(f.Name())
				return nil, fmt.Errorf("%w: write auth file: %v", ErrSpawnFailed, err)
			}
			f.Close()
			authFile = f.Name()
			args = append(args, "--auth-user-pass", authFile)
		}
	}

	cmd := exec.Command(r.BinaryPath, args...)
	proc, err := startCommand(cmd, userID)
	if err != nil {
		if authFile != "" {
			os.Remove(authFile)
		}
		return nil, err
	}

	if authFile != "" {
		// OpenVPN reads the file at startup; discard it once the process ends.
		go func() {
			<-proc.Done()
			os.Remove(authFile)
		}()
	}
	return proc, nil
}

// execProcess wraps an exec.Cmd with line-oriented stdout streaming.
type execProcess struct {
	cmd  *exec.Cmd
	out  chan string
	done chan struct{}
}

func startCommand(cmd *exec.Cmd, userID string) (*execProcess, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	p := &execProcess{
		cmd:  cmd,
		out:  make(chan string, 16),
		done: make(chan struct{}),
	}

	var readers sync.WaitGroup
	readers.Add(2)

	go func() {
		defer readers.Done()
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			p.out <- scanner.Text()
		}
	}()

	go func() {
		defer readers.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			log.Printf("[vpn] user %s stderr: %s", userID, logutil.SanitizeForLog(scanner.Text()))
		}
	}()

	go func() {
		readers.Wait()
		err := cmd.Wait()
		close(p.out)
		close(p.done)
		if err != nil {
			log.Printf("[vpn] user %s process exited: %v", userID, err)
		}
	}()

	return p, nil
}

func (p *execProcess) Output() <-chan string {
	return p.out
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

var errStillRunning = errors.New("process still running")

// Terminate sends the platform's graceful stop signal and waits briefly for
// the process to exit, killing it outright if the signal cannot be delivered
// or the process lingers.
func (p *execProcess) Terminate() error {
	if err := p.cmd.Process.Signal(terminateSignal); err != nil {
		return p.cmd.Process.Kill()
	}

	backoff := retry.WithMaxRetries(10, retry.NewConstant(200*time.Millisecond))
	err := retry.Do(context.Background(), backoff, func(ctx context.Context) error {
		select {
		case <-p.done:
			return nil
		default:
			return retry.RetryableError(errStillRunning)
		}
	})
	if err != nil {
		return p.cmd.Process.Kill()
	}
	return nil
}
