package notify

import (
	"log"
	"sync"
	"time"
)

// Channel is one live push connection bound to a user.
type Channel interface {
	Send(event interface{}) error
	Alive() bool
}

// Directory maps a user id to its single authoritative push channel.
//
// Unbinding is deferred by a grace window so that a fast reconnect (new
// channel bound while the old one tears down) never loses its fresh binding:
// the delayed removal fires only if the stored channel is still the exact
// instance that disconnected.
type Directory struct {
	mu       sync.Mutex
	grace    time.Duration
	bindings map[string]Channel
}

func NewDirectory(grace time.Duration) *Directory {
	return &Directory{grace: grace, bindings: make(map[string]Channel)}
}

// Bind associates the channel with the user. If the user already has a live
// binding, Bind keeps it; a dead previous channel is replaced immediately.
func (d *Directory) Bind(userID string, ch Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if prev, ok := d.bindings[userID]; ok && prev != ch && prev.Alive() {
		log.Printf("[ws] user %s already bound to a live channel, keeping existing binding", userID)
		return
	}
	d.bindings[userID] = ch
}

// Unbind schedules removal of the binding that holds exactly this channel
// instance after the grace window. A newer binding for the same user made
// during the window is left untouched.
func (d *Directory) Unbind(ch Channel) {
	time.AfterFunc(d.grace, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for uid, bound := range d.bindings {
			if bound == ch {
				delete(d.bindings, uid)
				log.Printf("[ws] user %s unbound", uid)
				return
			}
		}
	})
}

// SendTo delivers the event to the user's bound channel. A user with no
// binding is not an error: the event is simply not delivered.
func (d *Directory) SendTo(userID string, event interface{}) bool {
	d.mu.Lock()
	ch, ok := d.bindings[userID]
	d.mu.Unlock()
	if !ok {
		return false
	}
	if err := ch.Send(event); err != nil {
		log.Printf("[ws] send to user %s failed: %v", userID, err)
		return false
	}
	return true
}

// Bound reports whether the user currently has a binding.
func (d *Directory) Bound(userID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.bindings[userID]
	return ok
}
