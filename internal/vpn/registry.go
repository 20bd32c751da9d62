package vpn

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSessionExists is returned by TryCreate when the user already has a
	// live session.
	ErrSessionExists = errors.New("session already exists for user")

	// ErrNoActiveSession is returned by operations that need a live session.
	ErrNoActiveSession = errors.New("no active session for user")

	// ErrPortExhausted is returned when no management port is free.
	ErrPortExhausted = errors.New("no free management port")
)

// maxPortAttempts bounds the random draws before falling back to a scan of
// the range.
const maxPortAttempts = 32

// Registry is the authoritative map from user id to live session. Creation
// and removal are atomic under one mutex, so two concurrent start requests
// for the same user yield exactly one session. Management ports are drawn
// from the complement of the in-use set, never blindly.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ports    map[int]struct{}
	portMin  int
	portMax  int
	rng      *rand.Rand
}

func NewRegistry(portMin, portMax int) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		ports:    make(map[int]struct{}),
		portMin:  portMin,
		portMax:  portMax,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// TryCreate atomically registers a new session for the user with a unique
// management port. It fails with ErrSessionExists if the user already has a
// session and ErrPortExhausted when the port range is fully in use.
func (r *Registry) TryCreate(userID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[userID]; exists {
		return nil, ErrSessionExists
	}

	port, err := r.allocatePortLocked()
	if err != nil {
		return nil, err
	}

	sess := &Session{
		UserID:      userID,
		ID:          uuid.New().String(),
		ControlPort: port,
		state:       StateStarting,
		telemetry:   Telemetry{StartedAt: time.Now()},
	}
	r.sessions[userID] = sess
	r.ports[port] = struct{}{}
	return sess, nil
}

// allocatePortLocked draws a free port: random attempts first, then a linear
// scan from a random offset. It only fails when every port is held.
func (r *Registry) allocatePortLocked() (int, error) {
	span := r.portMax - r.portMin + 1
	if len(r.ports) >= span {
		return 0, ErrPortExhausted
	}

	for i := 0; i < maxPortAttempts; i++ {
		p := r.portMin + r.rng.Intn(span)
		if _, taken := r.ports[p]; !taken {
			return p, nil
		}
	}

	offset := r.rng.Intn(span)
	for i := 0; i < span; i++ {
		p := r.portMin + (offset+i)%span
		if _, taken := r.ports[p]; !taken {
			return p, nil
		}
	}
	return 0, ErrPortExhausted
}

// Get returns the user's live session, if any.
func (r *Registry) Get(userID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[userID]
	return sess, ok
}

// Remove drops the session and releases its port, but only if the registry
// still holds this exact session. A stale removal racing a fresh session for
// the same user is a no-op.
func (r *Registry) Remove(userID string, sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.sessions[userID]
	if !ok || current != sess {
		return
	}
	delete(r.sessions, userID)
	delete(r.ports, sess.ControlPort)
}

// List returns a snapshot of all live sessions.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
