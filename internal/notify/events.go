// Package notify delivers push events to connected clients: the Hub fans
// events out to every subscribed observer (admin dashboards), while the
// Directory targets the single live channel bound to one user.
package notify

// AdminRefreshEvent is broadcast whenever a user's connection flag flips,
// prompting observers to refresh their view.
type AdminRefreshEvent struct {
	Type        string `json:"type"`
	UserID      string `json:"userId"`
	IsConnected bool   `json:"isConnected"`
}

func NewAdminRefresh(userID string, connected bool) AdminRefreshEvent {
	return AdminRefreshEvent{Type: "adminRefresh", UserID: userID, IsConnected: connected}
}

// StatsUpdateEvent is broadcast after each successful telemetry poll.
type StatsUpdateEvent struct {
	Type       string  `json:"type"`
	UserID     string  `json:"userId"`
	SentMB     float64 `json:"sentMB"`
	ReceivedMB float64 `json:"receivedMB"`
	UptimeSec  int64   `json:"uptimeSec"`
}

func NewStatsUpdate(userID string, sentMB, receivedMB float64, uptimeSec int64) StatsUpdateEvent {
	return StatsUpdateEvent{
		Type:       "vpnStatsUpdate",
		UserID:     userID,
		SentMB:     sentMB,
		ReceivedMB: receivedMB,
		UptimeSec:  uptimeSec,
	}
}

// StatusUpdateEvent is delivered only to the bound channel of the affected
// user. Type is one of forceDisconnect, addedAdmin, removedAdmin.
type StatusUpdateEvent struct {
	Type        string `json:"type"`
	UserID      string `json:"userId"`
	Message     string `json:"message"`
	IsConnected *bool  `json:"isConnected,omitempty"`
	Role        string `json:"role,omitempty"`
}

func NewForceDisconnect(userID string) StatusUpdateEvent {
	disconnected := false
	return StatusUpdateEvent{
		Type:        "forceDisconnect",
		UserID:      userID,
		Message:     "Your VPN connection was reset by an administrator.",
		IsConnected: &disconnected,
	}
}

func NewRoleChange(userID, role string) StatusUpdateEvent {
	ev := StatusUpdateEvent{UserID: userID, Role: role}
	if role == "admin" {
		ev.Type = "addedAdmin"
		ev.Message = `Your role has been changed to "admin".`
	} else {
		ev.Type = "removedAdmin"
		ev.Message = `Your role has been changed to "user".`
	}
	return ev
}

// RefetchEvent asks every connected client to re-pull its state.
type RefetchEvent struct {
	Type string `json:"type"`
}

func NewRefetch() RefetchEvent {
	return RefetchEvent{Type: "refetch"}
}
