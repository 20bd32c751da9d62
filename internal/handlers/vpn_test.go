package handlers

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"

	"github.com/tunnelx/tunnelx/internal/database"
	"github.com/tunnelx/tunnelx/internal/splittunnel"
)

func TestConnectAndReject(t *testing.T) {
	setupHandlers(t)
	user := createTestUser(t, "alice@example.com", "pw", "user")

	rec := doJSON(t, Connect, http.MethodPost, "/api/vpn/connect", nil, user)
	if rec.Code != http.StatusOK {
		t.Fatalf("connect: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, ok := Orch.Registry().Get(user.ID); !ok {
		t.Fatal("connect did not register a session")
	}

	rec = doJSON(t, Connect, http.MethodPost, "/api/vpn/connect", nil, user)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("second connect: expected 400, got %d", rec.Code)
	}
	if decodeBody(t, rec)["message"] != "VPN already connected for this user" {
		t.Errorf("unexpected message: %s", rec.Body.String())
	}
}

func TestDisconnect(t *testing.T) {
	setupHandlers(t)
	user := createTestUser(t, "alice@example.com", "pw", "user")

	rec := doJSON(t, Disconnect, http.MethodPost, "/api/vpn/disconnect", nil, user)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("disconnect without session: expected 400, got %d", rec.Code)
	}

	doJSON(t, Connect, http.MethodPost, "/api/vpn/connect", nil, user)
	rec = doJSON(t, Disconnect, http.MethodPost, "/api/vpn/disconnect", nil, user)
	if rec.Code != http.StatusOK {
		t.Errorf("disconnect: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUserStats(t *testing.T) {
	setupHandlers(t)
	user := createTestUser(t, "alice@example.com", "pw", "user")

	rec := doJSON(t, UserStats, http.MethodPost, "/api/auth/stats", nil, user)
	if rec.Code != http.StatusNotFound {
		t.Errorf("stats without session: expected 404, got %d", rec.Code)
	}

	doJSON(t, Connect, http.MethodPost, "/api/vpn/connect", nil, user)
	rec = doJSON(t, UserStats, http.MethodPost, "/api/auth/stats", nil, user)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", rec.Code)
	}
	data, ok := decodeBody(t, rec)["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing data envelope: %s", rec.Body.String())
	}
	if data["sentMB"] != float64(0) || data["receivedMB"] != float64(0) {
		t.Errorf("fresh session reports non-zero counters: %v", data)
	}
}

func TestListStats(t *testing.T) {
	setupHandlers(t)
	a := createTestUser(t, "a@example.com", "pw", "user")
	b := createTestUser(t, "b@example.com", "pw", "user")
	doJSON(t, Connect, http.MethodPost, "/api/vpn/connect", nil, a)
	doJSON(t, Connect, http.MethodPost, "/api/vpn/connect", nil, b)

	rec := doJSON(t, ListStats, http.MethodGet, "/api/vpn/stats", nil, a)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	list, ok := decodeBody(t, rec)["vpnStats"].([]interface{})
	if !ok || len(list) != 2 {
		t.Errorf("vpnStats = %v, want 2 entries", list)
	}
}

type staticResolver map[string][]string

func (r staticResolver) Resolve(_ context.Context, host string) ([]net.IP, error) {
	addrs, ok := r[host]
	if !ok {
		return nil, fmt.Errorf("lookup %s: no such host", host)
	}
	out := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, net.ParseIP(a))
	}
	return out, nil
}

type recordingInstaller struct{ routes []string }

func (i *recordingInstaller) Install(_ context.Context, ip net.IP, gateway string) error {
	i.routes = append(i.routes, ip.String())
	return nil
}

func TestApplySplitTunnel(t *testing.T) {
	setupHandlers(t)
	user := createTestUser(t, "alice@example.com", "pw", "user")

	inst := &recordingInstaller{}
	SplitTunnel = &splittunnel.Applier{
		Gateway:   "10.81.32.1",
		Resolver:  staticResolver{"ok.example": {"93.184.216.34"}},
		Installer: inst,
	}

	rec := doJSON(t, ApplySplitTunnel, http.MethodPost, "/api/vpn/split-tunnel", map[string]interface{}{
		"domains": []string{"ok.example", "bad.invalid"},
	}, user)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(inst.routes) != 1 {
		t.Errorf("installed routes = %v", inst.routes)
	}

	fresh, _ := database.GetUserByID(user.ID)
	if !fresh.IsSplitTunneling {
		t.Error("split-tunnel flag not persisted")
	}
}

func TestApplySplitTunnelPresetsFallback(t *testing.T) {
	setupHandlers(t)
	user := createTestUser(t, "alice@example.com", "pw", "user")

	inst := &recordingInstaller{}
	SplitTunnel = &splittunnel.Applier{
		Gateway:   "10.81.32.1",
		Resolver:  staticResolver{"preset.example": {"198.51.100.9"}},
		Installer: inst,
	}
	SplitTunnelPresets = []string{"preset.example"}

	rec := doJSON(t, ApplySplitTunnel, http.MethodPost, "/api/vpn/split-tunnel", map[string]interface{}{}, user)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(inst.routes) != 1 || inst.routes[0] != "198.51.100.9" {
		t.Errorf("installed routes = %v", inst.routes)
	}
}

func TestApplySplitTunnelNoTargets(t *testing.T) {
	setupHandlers(t)
	user := createTestUser(t, "alice@example.com", "pw", "user")
	SplitTunnelPresets = nil

	rec := doJSON(t, ApplySplitTunnel, http.MethodPost, "/api/vpn/split-tunnel", map[string]interface{}{}, user)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}
