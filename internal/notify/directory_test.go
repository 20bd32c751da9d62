package notify

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeChannel struct {
	mu     sync.Mutex
	alive  bool
	events []interface{}
	fail   bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{alive: true}
}

func (c *fakeChannel) Send(event interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("write failed")
	}
	c.events = append(c.events, event)
	return nil
}

func (c *fakeChannel) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

func (c *fakeChannel) kill() {
	c.mu.Lock()
	c.alive = false
	c.mu.Unlock()
}

func (c *fakeChannel) received() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestSendToUnboundUser(t *testing.T) {
	d := NewDirectory(time.Millisecond)
	if d.SendTo("nobody", NewRefetch()) {
		t.Error("expected delivered=false for unbound user")
	}
}

func TestBindAndSendTo(t *testing.T) {
	d := NewDirectory(time.Millisecond)
	ch := newFakeChannel()
	d.Bind("u1", ch)

	if !d.SendTo("u1", NewForceDisconnect("u1")) {
		t.Fatal("expected delivery to bound channel")
	}
	if ch.received() != 1 {
		t.Errorf("expected 1 event, got %d", ch.received())
	}
}

func TestBindKeepsLiveBinding(t *testing.T) {
	d := NewDirectory(time.Millisecond)
	first := newFakeChannel()
	second := newFakeChannel()

	d.Bind("u1", first)
	d.Bind("u1", second) // first still alive: must not be replaced

	d.SendTo("u1", NewRefetch())
	if first.received() != 1 || second.received() != 0 {
		t.Errorf("expected event on first channel only, got first=%d second=%d",
			first.received(), second.received())
	}
}

func TestBindReplacesDeadBinding(t *testing.T) {
	d := NewDirectory(time.Millisecond)
	first := newFakeChannel()
	second := newFakeChannel()

	d.Bind("u1", first)
	first.kill()
	d.Bind("u1", second)

	d.SendTo("u1", NewRefetch())
	if second.received() != 1 {
		t.Errorf("expected event on replacement channel, got %d", second.received())
	}
}

func TestUnbindAfterGrace(t *testing.T) {
	d := NewDirectory(10 * time.Millisecond)
	ch := newFakeChannel()
	d.Bind("u1", ch)

	ch.kill()
	d.Unbind(ch)

	if !d.Bound("u1") {
		t.Fatal("binding removed before grace window elapsed")
	}

	deadline := time.Now().Add(time.Second)
	for d.Bound("u1") {
		if time.Now().After(deadline) {
			t.Fatal("binding not removed after grace window")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestUnbindSparesFastReconnect(t *testing.T) {
	d := NewDirectory(20 * time.Millisecond)
	old := newFakeChannel()
	d.Bind("u1", old)

	old.kill()
	d.Unbind(old)

	// Reconnect inside the grace window with a fresh channel.
	fresh := newFakeChannel()
	d.Bind("u1", fresh)

	time.Sleep(60 * time.Millisecond)

	if !d.Bound("u1") {
		t.Fatal("fresh binding was removed by a stale delayed unbind")
	}
	if !d.SendTo("u1", NewRefetch()) || fresh.received() != 1 {
		t.Error("expected delivery to the fresh channel")
	}
}

func TestSendToFailingChannel(t *testing.T) {
	d := NewDirectory(time.Millisecond)
	ch := newFakeChannel()
	ch.fail = true
	d.Bind("u1", ch)
	if d.SendTo("u1", NewRefetch()) {
		t.Error("expected delivered=false when the channel write fails")
	}
}
