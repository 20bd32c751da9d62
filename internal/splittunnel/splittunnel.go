package splittunnel

import (
	"context"
	"fmt"
	"log"
	"net"
	"os/exec"
	"runtime"
	"time"

	"github.com/tunnelx/tunnelx/internal/obs"
)

const (
	resolveTimeout = 5 * time.Second
	installTimeout = 10 * time.Second
)

// Outcome classifies how a single target fared.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
)

// TargetResult reports the per-target routing outcome.
type TargetResult struct {
	Target    string   `json:"target"`
	Outcome   Outcome  `json:"outcome"`
	Addresses []string `json:"addresses,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// Result aggregates a whole Apply batch.
type Result struct {
	Applied int            `json:"applied"`
	Partial int            `json:"partial"`
	Failed  int            `json:"failed"`
	Targets []TargetResult `json:"targets"`
}

// Resolver turns a hostname into addresses.
type Resolver interface {
	Resolve(ctx context.Context, host string) ([]net.IP, error)
}

// RouteInstaller installs one host-route exception towards the gateway.
type RouteInstaller interface {
	Install(ctx context.Context, ip net.IP, gateway string) error
}

// Applier installs best-effort route exclusions so that traffic to the given
// targets bypasses the tunnel. Failures are per-target; a batch never aborts
// and never rolls back entries already applied.
type Applier struct {
	Gateway   string
	Resolver  Resolver
	Installer RouteInstaller
}

func New(gateway string) *Applier {
	return &Applier{
		Gateway:   gateway,
		Resolver:  dnsResolver{},
		Installer: execInstaller{},
	}
}

// Apply resolves each target and installs one route per resolved address.
// IP-literal targets skip resolution.
func (a *Applier) Apply(ctx context.Context, targets []string) Result {
	res := Result{Targets: make([]TargetResult, 0, len(targets))}
	for _, target := range targets {
		tr := a.applyTarget(ctx, target)
		switch tr.Outcome {
		case OutcomeApplied:
			res.Applied++
		case OutcomePartial:
			res.Partial++
		default:
			res.Failed++
		}
		res.Targets = append(res.Targets, tr)
	}
	return res
}

func (a *Applier) applyTarget(ctx context.Context, target string) TargetResult {
	tr := TargetResult{Target: target}

	var addrs []net.IP
	if ip := net.ParseIP(target); ip != nil {
		addrs = []net.IP{ip}
	} else {
		rctx, cancel := context.WithTimeout(ctx, resolveTimeout)
		defer cancel()
		resolved, err := a.Resolver.Resolve(rctx, target)
		if err != nil || len(resolved) == 0 {
			log.Printf("[split-tunnel] %s: resolution failed: %v", target, err)
			obs.RouteInstallsTotal.WithLabelValues("resolve_failed").Inc()
			tr.Outcome = OutcomeFailed
			tr.Errors = append(tr.Errors, fmt.Sprintf("resolve: %v", err))
			return tr
		}
		addrs = resolved
	}

	installed := 0
	for _, ip := range addrs {
		ictx, cancel := context.WithTimeout(ctx, installTimeout)
		err := a.Installer.Install(ictx, ip, a.Gateway)
		cancel()
		if err != nil {
			log.Printf("[split-tunnel] %s: route %s via %s failed: %v", target, ip, a.Gateway, err)
			obs.RouteInstallsTotal.WithLabelValues("error").Inc()
			tr.Errors = append(tr.Errors, fmt.Sprintf("%s: %v", ip, err))
			continue
		}
		obs.RouteInstallsTotal.WithLabelValues("ok").Inc()
		tr.Addresses = append(tr.Addresses, ip.String())
		installed++
	}

	switch {
	case installed == len(addrs):
		tr.Outcome = OutcomeApplied
	case installed > 0:
		tr.Outcome = OutcomePartial
	default:
		tr.Outcome = OutcomeFailed
	}
	return tr
}

type dnsResolver struct{}

func (dnsResolver) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return nil, err
	}
	return addrs, nil
}

type execInstaller struct{}

func (execInstaller) Install(ctx context.Context, ip net.IP, gateway string) error {
	name, args, err := routeCommand(runtime.GOOS, ip, gateway)
	if err != nil {
		return err
	}
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %v (%s)", name, err, string(out))
	}
	return nil
}

// routeCommand builds the platform host-route command.
func routeCommand(goos string, ip net.IP, gateway string) (string, []string, error) {
	switch goos {
	case "windows":
		return "route", []string{"ADD", ip.String(), "MASK", "255.255.255.255", gateway, "METRIC", "1"}, nil
	case "linux":
		return "ip", []string{"route", "add", ip.String() + "/32", "via", gateway}, nil
	case "darwin":
		return "route", []string{"-n", "add", "-host", ip.String(), gateway}, nil
	default:
		return "", nil, fmt.Errorf("no route command for %s", goos)
	}
}
