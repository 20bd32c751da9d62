package splittunnel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"reflect"
	"testing"
)

type fakeResolver struct {
	hosts map[string][]string
}

func (r fakeResolver) Resolve(_ context.Context, host string) ([]net.IP, error) {
	addrs, ok := r.hosts[host]
	if !ok {
		return nil, fmt.Errorf("lookup %s: no such host", host)
	}
	out := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, net.ParseIP(a))
	}
	return out, nil
}

type fakeInstaller struct {
	failFor   map[string]bool
	installed []string
}

func (i *fakeInstaller) Install(_ context.Context, ip net.IP, gateway string) error {
	if i.failFor[ip.String()] {
		return errors.New("route command exited 1")
	}
	i.installed = append(i.installed, ip.String()+" via "+gateway)
	return nil
}

func newTestApplier(hosts map[string][]string, failFor map[string]bool) (*Applier, *fakeInstaller) {
	inst := &fakeInstaller{failFor: failFor}
	return &Applier{
		Gateway:   "10.81.32.1",
		Resolver:  fakeResolver{hosts: hosts},
		Installer: inst,
	}, inst
}

func TestApplyMixedResolution(t *testing.T) {
	a, inst := newTestApplier(map[string][]string{
		"ok.example": {"93.184.216.34"},
	}, nil)

	res := a.Apply(context.Background(), []string{"ok.example", "bad.invalid"})

	if res.Applied != 1 || res.Failed != 1 || res.Partial != 0 {
		t.Errorf("result = %d applied / %d partial / %d failed, want 1/0/1", res.Applied, res.Partial, res.Failed)
	}
	if len(inst.installed) != 1 || inst.installed[0] != "93.184.216.34 via 10.81.32.1" {
		t.Errorf("installed routes = %v", inst.installed)
	}

	byTarget := make(map[string]TargetResult)
	for _, tr := range res.Targets {
		byTarget[tr.Target] = tr
	}
	if byTarget["ok.example"].Outcome != OutcomeApplied {
		t.Errorf("ok.example outcome = %s", byTarget["ok.example"].Outcome)
	}
	if byTarget["bad.invalid"].Outcome != OutcomeFailed {
		t.Errorf("bad.invalid outcome = %s", byTarget["bad.invalid"].Outcome)
	}
	if len(byTarget["bad.invalid"].Errors) == 0 {
		t.Error("failed target carries no error detail")
	}
}

func TestApplyFailureDoesNotAbortBatch(t *testing.T) {
	// bad target first: later targets must still be routed.
	a, inst := newTestApplier(map[string][]string{
		"ok.example": {"93.184.216.34"},
	}, nil)

	res := a.Apply(context.Background(), []string{"bad.invalid", "ok.example"})
	if res.Applied != 1 {
		t.Errorf("applied = %d, want 1", res.Applied)
	}
	if len(inst.installed) != 1 {
		t.Errorf("installed = %v, want one route", inst.installed)
	}
}

func TestApplyPartialTarget(t *testing.T) {
	a, _ := newTestApplier(map[string][]string{
		"multi.example": {"10.0.0.1", "10.0.0.2", "10.0.0.3"},
	}, map[string]bool{"10.0.0.2": true})

	res := a.Apply(context.Background(), []string{"multi.example"})
	if res.Partial != 1 || res.Applied != 0 || res.Failed != 0 {
		t.Errorf("result = %d/%d/%d, want 0 applied, 1 partial, 0 failed", res.Applied, res.Partial, res.Failed)
	}
	tr := res.Targets[0]
	if len(tr.Addresses) != 2 || len(tr.Errors) != 1 {
		t.Errorf("partial target: %d addresses, %d errors", len(tr.Addresses), len(tr.Errors))
	}
}

func TestApplyIPLiteralSkipsResolution(t *testing.T) {
	// Resolver knows nothing; an IP literal must still route.
	a, inst := newTestApplier(nil, nil)

	res := a.Apply(context.Background(), []string{"192.0.2.7"})
	if res.Applied != 1 {
		t.Fatalf("applied = %d, want 1", res.Applied)
	}
	if inst.installed[0] != "192.0.2.7 via 10.81.32.1" {
		t.Errorf("installed = %v", inst.installed)
	}
}

func TestApplyAllInstallsFail(t *testing.T) {
	a, _ := newTestApplier(map[string][]string{
		"ok.example": {"10.0.0.1"},
	}, map[string]bool{"10.0.0.1": true})

	res := a.Apply(context.Background(), []string{"ok.example"})
	if res.Failed != 1 {
		t.Errorf("failed = %d, want 1", res.Failed)
	}
	if res.Targets[0].Outcome != OutcomeFailed {
		t.Errorf("outcome = %s, want failed", res.Targets[0].Outcome)
	}
}

func TestApplyEmptyBatch(t *testing.T) {
	a, _ := newTestApplier(nil, nil)
	res := a.Apply(context.Background(), nil)
	if res.Applied != 0 || res.Partial != 0 || res.Failed != 0 || len(res.Targets) != 0 {
		t.Errorf("empty batch produced %+v", res)
	}
}

func TestRouteCommandPerPlatform(t *testing.T) {
	ip := net.ParseIP("93.184.216.34")
	gw := "10.81.32.1"

	tests := []struct {
		goos string
		name string
		args []string
	}{
		{"windows", "route", []string{"ADD", "93.184.216.34", "MASK", "255.255.255.255", gw, "METRIC", "1"}},
		{"linux", "ip", []string{"route", "add", "93.184.216.34/32", "via", gw}},
		{"darwin", "route", []string{"-n", "add", "-host", "93.184.216.34", gw}},
	}
	for _, tt := range tests {
		name, args, err := routeCommand(tt.goos, ip, gw)
		if err != nil {
			t.Errorf("%s: %v", tt.goos, err)
			continue
		}
		if name != tt.name || !reflect.DeepEqual(args, tt.args) {
			t.Errorf("%s: got %s %v, want %s %v", tt.goos, name, args, tt.name, tt.args)
		}
	}

	if _, _, err := routeCommand("plan9", ip, gw); err == nil {
		t.Error("expected error for unsupported platform")
	}
}
