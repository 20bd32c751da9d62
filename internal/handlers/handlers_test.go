package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/tunnelx/tunnelx/internal/auth"
	"github.com/tunnelx/tunnelx/internal/config"
	"github.com/tunnelx/tunnelx/internal/database"
	"github.com/tunnelx/tunnelx/internal/middleware"
	"github.com/tunnelx/tunnelx/internal/notify"
	"github.com/tunnelx/tunnelx/internal/vpn"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB creates a fresh in-memory SQLite database for each test.
func setupTestDB(t *testing.T) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	database.DB = db
	if err := db.AutoMigrate(&database.User{}, &database.RefreshToken{}, &database.Setting{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

// stubProcess never emits output; it exits when terminated.
type stubProcess struct {
	out      chan string
	done     chan struct{}
	exitOnce sync.Once
}

func newStubProcess() *stubProcess {
	return &stubProcess{out: make(chan string, 1), done: make(chan struct{})}
}

func (p *stubProcess) Output() <-chan string { return p.out }
func (p *stubProcess) Done() <-chan struct{} { return p.done }
func (p *stubProcess) Terminate() error {
	p.exitOnce.Do(func() {
		close(p.out)
		close(p.done)
	})
	return nil
}

type stubRunner struct{}

func (stubRunner) Start(ctx context.Context, userID string, controlPort int) (vpn.Process, error) {
	return newStubProcess(), nil
}

// setupHandlers wires the package globals against in-memory fakes.
func setupHandlers(t *testing.T) {
	t.Helper()
	setupTestDB(t)
	config.Cfg.JWTSecret = "handler-test-secret"
	config.Cfg.AccessTokenTTL = 30 * time.Minute
	config.Cfg.RefreshTokenTTL = 7 * 24 * time.Hour

	Hub = notify.NewHub()
	Dir = notify.NewDirectory(10 * time.Millisecond)
	Orch = vpn.NewOrchestrator(
		vpn.NewRegistry(7505, 7600),
		stubRunner{},
		Dir,
		Hub,
		vpn.ConnectionStoreFunc(database.SetUserConnected),
		time.Hour,
	)
	SplitTunnelPresets = nil
}

// createTestUser inserts a user and returns the record.
func createTestUser(t *testing.T, email, password, role string) *database.User {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	user := &database.User{Name: "Test User", Email: email, PasswordHash: hash, Role: role}
	if err := database.CreateUser(user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

// doJSON runs the handler with an optional JSON body and authenticated user.
func doJSON(t *testing.T, h http.HandlerFunc, method, target string, payload interface{}, user *database.User) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Content-Type", "application/json")
	if user != nil {
		req = middleware.WithUser(req, user)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func timeInFuture() time.Time {
	return time.Now().Add(time.Hour)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal response %q: %v", rec.Body.String(), err)
	}
	return out
}
