package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/tunnelx/tunnelx/internal/auth"
	"github.com/tunnelx/tunnelx/internal/config"
	"github.com/tunnelx/tunnelx/internal/database"
	"github.com/tunnelx/tunnelx/internal/middleware"
	"github.com/tunnelx/tunnelx/internal/notify"
)

// maxRefreshTokens caps how many refresh tokens one user may hold; the
// oldest ones are purged on login beyond this.
const maxRefreshTokens = 10

type userResponse struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	Name             string     `json:"name"`
	Role             string     `json:"role"`
	IsOnline         bool       `json:"isOnline"`
	IsConnected      bool       `json:"isConnected"`
	IsSplitTunneling bool       `json:"isSplitTunneling"`
	LastLogin        time.Time  `json:"lastLogin"`
}

func toUserResponse(u *database.User) userResponse {
	return userResponse{
		ID:               u.ID,
		Email:            u.Email,
		Name:             u.Name,
		Role:             u.Role,
		IsOnline:         u.IsOnline,
		IsConnected:      u.IsConnected,
		IsSplitTunneling: u.IsSplitTunneling,
		LastLogin:        u.LastLogin,
	}
}

func Register(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Email == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password required")
		return
	}

	if existing, _ := database.GetUserByEmail(body.Email); existing != nil {
		writeError(w, http.StatusConflict, "Email already registered")
		return
	}

	hash, err := auth.HashPassword(body.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}

	user := &database.User{
		Name:         body.Name,
		Email:        body.Email,
		PasswordHash: hash,
		Role:         "user",
	}
	if err := database.CreateUser(user); err != nil {
		writeError(w, http.StatusConflict, "Email already registered")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"message": "User registered"})
}

func Login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Email == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password required")
		return
	}

	user, err := database.GetUserByEmail(body.Email)
	if err != nil || !auth.CheckPassword(user.PasswordHash, body.Password) {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	accessToken, err := auth.SignAccessToken([]byte(config.Cfg.JWTSecret), user.ID, user.Email, user.Role, config.Cfg.AccessTokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}
	refreshToken := auth.NewRefreshToken()
	if err := database.SaveRefreshToken(user.ID, refreshToken, time.Now().Add(config.Cfg.RefreshTokenTTL)); err != nil {
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}
	if n, err := database.CountUserRefreshTokens(user.ID); err == nil && n > maxRefreshTokens {
		if err := database.DeleteUserRefreshTokens(user.ID); err == nil {
			database.SaveRefreshToken(user.ID, refreshToken, time.Now().Add(config.Cfg.RefreshTokenTTL))
		}
	}

	database.SetUserOnline(user.ID, true)
	database.TouchLastLogin(user.ID)
	user.IsOnline = true

	Hub.Broadcast(notify.NewRefetch())

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accessToken":  accessToken,
		"refreshToken": refreshToken,
		"user":         toUserResponse(user),
	})
}

func Refresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "Missing refresh token")
		return
	}

	user, token, err := database.GetUserByRefreshToken(body.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	if time.Now().After(token.ExpiresAt) {
		database.DeleteRefreshToken(body.RefreshToken)
		writeError(w, http.StatusForbidden, "Refresh token expired")
		return
	}

	accessToken, err := auth.SignAccessToken([]byte(config.Cfg.JWTSecret), user.ID, user.Email, user.Role, config.Cfg.AccessTokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"accessToken": accessToken})
}

func ResetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OldPassword string `json:"old_pwd"`
		NewPassword string `json:"new_pwd"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.OldPassword == "" || body.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "Missing old/new password")
		return
	}

	user := middleware.GetUser(r)
	if !auth.CheckPassword(user.PasswordHash, body.OldPassword) {
		writeError(w, http.StatusUnauthorized, "Incorrect password (Please provide correct password to change).")
		return
	}

	hash, err := auth.HashPassword(body.NewPassword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}
	if err := database.UpdateUserPassword(user.ID, hash); err != nil {
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}
	// All existing sessions are invalidated with the old password.
	database.DeleteUserRefreshTokens(user.ID)

	writeJSON(w, http.StatusCreated, map[string]string{"message": "Password has been reset."})
}

// Logout marks the user offline, revokes the presented refresh token and
// tears down any live tunnel session.
func Logout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	json.NewDecoder(r.Body).Decode(&body)

	user := middleware.GetUser(r)
	if body.RefreshToken != "" {
		database.DeleteRefreshToken(body.RefreshToken)
	}

	if err := Orch.Stop(user.ID); err == nil {
		log.Printf("[auth] user %s: disconnecting tunnel on logout", user.ID)
	}

	database.SetUserOnline(user.ID, false)
	Hub.Broadcast(notify.NewRefetch())

	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toUserResponse(middleware.GetUser(r)))
}
