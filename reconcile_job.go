package main

import (
	"github.com/tunnelx/tunnelx/internal/database"
	"github.com/tunnelx/tunnelx/internal/vpn"
)

// reconcileConnectionFlags clears the persisted connected flag for users with
// no live session. The registry is the source of truth; the flag can go stale
// after a crash or a missed cleanup write. Returns how many flags were cleared.
func reconcileConnectionFlags(reg *vpn.Registry) (int, error) {
	users, err := database.ConnectedUsers()
	if err != nil {
		return 0, err
	}

	cleared := 0
	for i := range users {
		if _, live := reg.Get(users[i].ID); live {
			continue
		}
		if err := database.SetUserConnected(users[i].ID, false); err != nil {
			return cleared, err
		}
		cleared++
	}
	return cleared, nil
}
