package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/tunnelx/tunnelx/internal/crypto"
	"github.com/tunnelx/tunnelx/internal/database"
)

// Settings keys for the tunnel provider credentials handed to each spawned
// process. Values are stored encrypted.
const (
	settingVPNUsername = "vpn_username"
	settingVPNPassword = "vpn_password"
)

// GetVPNCredentials returns the stored provider credentials with the secret
// portions masked.
func GetVPNCredentials(w http.ResponseWriter, r *http.Request) {
	username, password := storedVPNCredentials()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"username":   username,
		"password":   crypto.Mask(password),
		"configured": username != "" && password != "",
	})
}

func UpdateVPNCredentials(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Username == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	encUser, err := crypto.Encrypt(body.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}
	encPass, err := crypto.Encrypt(body.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}
	if err := database.SetSetting(settingVPNUsername, encUser); err != nil {
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}
	if err := database.SetSetting(settingVPNPassword, encPass); err != nil {
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Credentials updated"})
}

func storedVPNCredentials() (username, password string) {
	if enc, err := database.GetSetting(settingVPNUsername); err == nil {
		username, _ = crypto.Decrypt(enc)
	}
	if enc, err := database.GetSetting(settingVPNPassword); err == nil {
		password, _ = crypto.Decrypt(enc)
	}
	return username, password
}

// VPNCredentialStore exposes the stored credentials to the tunnel runner.
type VPNCredentialStore struct{}

func (VPNCredentialStore) VPNCredentials() (string, string, bool) {
	username, password := storedVPNCredentials()
	if username == "" || password == "" {
		return "", "", false
	}
	return username, password, true
}
