package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/tunnelx/tunnelx/internal/database"
	"github.com/tunnelx/tunnelx/internal/middleware"
	"github.com/tunnelx/tunnelx/internal/notify"
	"github.com/tunnelx/tunnelx/internal/splittunnel"
	"github.com/tunnelx/tunnelx/internal/vpn"
)

// Wired from main.go during init.
var (
	Orch        *vpn.Orchestrator
	Hub         *notify.Hub
	Dir         *notify.Directory
	SplitTunnel *splittunnel.Applier

	// SplitTunnelPresets is the fallback target list applied when a
	// split-tunnel request names no domains.
	SplitTunnelPresets []string
)

// Connect starts a tunnel session for the authenticated user. The response
// acknowledges initiation; establishment is reported through the push channel.
func Connect(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)

	err := Orch.Start(r.Context(), user.ID)
	switch {
	case errors.Is(err, vpn.ErrSessionExists):
		writeError(w, http.StatusBadRequest, "VPN already connected for this user")
		return
	case errors.Is(err, vpn.ErrPortExhausted):
		writeError(w, http.StatusServiceUnavailable, "No management port available, try again later")
		return
	case err != nil:
		log.Printf("[vpn] user %s: start failed: %v", user.ID, err)
		writeError(w, http.StatusInternalServerError, "Failed to start OpenVPN")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "VPN connection initializing..."})
}

func Disconnect(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)

	if err := Orch.Stop(user.ID); err != nil {
		writeError(w, http.StatusBadRequest, "No active VPN connection")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "VPN disconnected successfully"})
}

// UserStats returns the caller's current session telemetry. Mirrors the
// push payload so clients can poll as a fallback.
func UserStats(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)

	stats, err := Orch.GetStats(user.ID)
	if errors.Is(err, vpn.ErrNoActiveSession) {
		writeError(w, http.StatusNotFound, "No active VPN connection")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"sentMB":     stats.SentMB,
			"receivedMB": stats.ReceivedMB,
			"uptimeSec":  stats.UptimeSec,
		},
	})
}

// ListStats returns telemetry for every live session, annotated with the
// owning user. Admin only.
func ListStats(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		vpn.SessionStats
		Email string `json:"email,omitempty"`
		Name  string `json:"name,omitempty"`
	}

	stats := Orch.ListAllStats()
	out := make([]entry, 0, len(stats))
	for _, st := range stats {
		e := entry{SessionStats: st}
		if user, err := database.GetUserByID(st.UserID); err == nil {
			e.Email = user.Email
			e.Name = user.Name
		}
		out = append(out, e)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"vpnStats": out})
}

// ApplySplitTunnel installs best-effort route exclusions for the given
// domains, falling back to the configured presets when none are named.
func ApplySplitTunnel(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)

	var body struct {
		Domains []string `json:"domains"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	targets := body.Domains
	if len(targets) == 0 {
		targets = SplitTunnelPresets
	}
	if len(targets) == 0 {
		writeError(w, http.StatusBadRequest, "No domains provided")
		return
	}

	result := SplitTunnel.Apply(r.Context(), targets)
	if result.Applied+result.Partial > 0 {
		if err := database.SetUserSplitTunneling(user.ID, true); err != nil {
			log.Printf("[vpn] user %s: persist split-tunnel flag: %v", user.ID, err)
		}
	}

	status := http.StatusOK
	if result.Applied == 0 && result.Partial == 0 {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]interface{}{
		"message": "Split tunneling applied.",
		"result":  result,
	})
}
