package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/tunnelx/tunnelx/internal/auth"
	"github.com/tunnelx/tunnelx/internal/config"
	"github.com/tunnelx/tunnelx/internal/database"
	"github.com/tunnelx/tunnelx/internal/notify"
)

const (
	wsWriteTimeout = 5 * time.Second

	// targetedBuffer queues targeted events for one socket. Lifecycle
	// events are rare; a small buffer suffices.
	targetedBuffer = 8
)

// wsChannel adapts one websocket connection to the notification directory.
// Targeted sends are queued and drained by the connection's write loop so a
// single goroutine owns all writes.
type wsChannel struct {
	out    chan interface{}
	closed atomic.Bool
}

func newWSChannel() *wsChannel {
	return &wsChannel{out: make(chan interface{}, targetedBuffer)}
}

func (c *wsChannel) Send(event interface{}) error {
	if c.closed.Load() {
		return errors.New("channel closed")
	}
	select {
	case c.out <- event:
		return nil
	default:
		return errors.New("channel backed up")
	}
}

func (c *wsChannel) Alive() bool {
	return !c.closed.Load()
}

// PushSocket upgrades the connection and streams push events: broadcast
// events from the hub plus targeted events bound to this user. Browsers
// cannot set headers on websocket dials, so the access token arrives as a
// query parameter.
func PushSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	claims, err := auth.ParseAccessToken([]byte(config.Cfg.JWTSecret), token)
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}
	user, err := database.GetUserByID(claims.Subject)
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[ws] user %s: accept failed: %v", user.ID, err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := newWSChannel()
	Dir.Bind(user.ID, ch)
	sub := Hub.Subscribe()
	log.Printf("[ws] user %s: push channel connected", user.ID)

	defer func() {
		ch.closed.Store(true)
		sub.Close()
		Dir.Unbind(ch)
		log.Printf("[ws] user %s: push channel disconnected", user.ID)
	}()

	// Write loop. Exits when either source closes or a write fails.
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for {
			var event interface{}
			var ok bool
			select {
			case <-ctx.Done():
				return
			case event, ok = <-sub.Events():
			case event, ok = <-ch.out:
			}
			if !ok {
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(wctx, conn, event)
			wcancel()
			if err != nil {
				return
			}
		}
	}()

	// Read loop: keeps the connection alive and accepts client signals.
	for {
		var msg struct {
			Type string `json:"type"`
		}
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			break
		}
		if msg.Type == "toggled" {
			Hub.Broadcast(notify.NewRefetch())
		}
	}
	cancel()
	<-writeDone
}
