package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tunnelx/tunnelx/internal/database"
	"github.com/tunnelx/tunnelx/internal/middleware"
	"github.com/tunnelx/tunnelx/internal/notify"
	"github.com/tunnelx/tunnelx/internal/vpn"
)

func ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := database.ListUsers()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list users")
		return
	}
	result := make([]userResponse, 0, len(users))
	for i := range users {
		result = append(result, toUserResponse(&users[i]))
	}
	writeJSON(w, http.StatusOK, result)
}

// AddAdmin promotes a user. The affected user's bound channel receives a
// role-change event; nothing is sent when the role is already admin.
func AddAdmin(w http.ResponseWriter, r *http.Request) {
	setRole(w, r, "admin")
}

func RemoveAdmin(w http.ResponseWriter, r *http.Request) {
	setRole(w, r, "user")
}

func setRole(w http.ResponseWriter, r *http.Request, role string) {
	id := chi.URLParam(r, "userId")
	user, err := database.GetUserByID(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}

	msg := `User already has role "` + role + `".`
	if user.Role != role {
		if err := database.SetUserRole(id, role); err != nil {
			writeError(w, http.StatusInternalServerError, "Server error")
			return
		}
		user.Role = role
		msg = `Role changed to "` + role + `".`

		Dir.SendTo(id, notify.NewRoleChange(id, role))
		Hub.Broadcast(notify.NewRefetch())
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": msg,
		"user":    map[string]string{"email": user.Email, "role": user.Role},
	})
}

// AdminDisconnect force-stops another user's tunnel session.
func AdminDisconnect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "userId")
	if _, err := database.GetUserByID(id); err != nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}

	admin := middleware.GetUser(r)
	if err := Orch.ForceStop(id, admin.ID); err != nil {
		if errors.Is(err, vpn.ErrNoActiveSession) {
			writeError(w, http.StatusBadRequest, "No active VPN connection")
			return
		}
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "User disconnected successfully"})
}
