// Package session tracks live connections, the identity each one is bound
// to and the booking rooms it has joined. Nothing here is persisted; clients
// rebuild their subscriptions by joining again after a reconnect.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"runnerhub/booking"
	"runnerhub/models"
)

type Authenticator interface {
	Authenticate(credential string) (models.Identity, error)
}

type Bookings interface {
	Lookup(ctx context.Context, id string) (models.Booking, error)
}

type Session struct {
	ID          string
	Identity    models.Identity
	ConnectedAt time.Time

	mu   sync.RWMutex
	subs map[string]struct{}
}

// Subscribed reports whether s has joined bookingID.
func (s *Session) Subscribed(bookingID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.subs[bookingID]
	return ok
}

// Rooms returns the bookings s has joined.
func (s *Session) Rooms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.subs))
	for id := range s.subs {
		out = append(out, id)
	}
	return out
}

type Registry struct {
	auth     Authenticator
	bookings Bookings
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
	rooms    map[string]map[string]*Session
}

func NewRegistry(auth Authenticator, bookings Bookings) *Registry {
	return &Registry{
		auth:     auth,
		bookings: bookings,
		now:      func() time.Time { return time.Now().UTC() },
		sessions: make(map[string]*Session),
		rooms:    make(map[string]map[string]*Session),
	}
}

func (r *Registry) Authenticate(credential string) (models.Identity, error) {
	return r.auth.Authenticate(credential)
}

// Register binds a new connection to identity. Registering an existing
// connection id replaces the old session and drops its rooms.
func (r *Registry) Register(identity models.Identity, connID string) *Session {
	s := &Session{
		ID:          connID,
		Identity:    identity,
		ConnectedAt: r.now(),
		subs:        make(map[string]struct{}),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[connID]; ok {
		r.dropLocked(old)
	}
	r.sessions[connID] = s
	return s
}

// Subscribe adds s to the booking's room after checking the booking exists
// and s's identity may access it.
func (r *Registry) Subscribe(ctx context.Context, s *Session, bookingID string) error {
	b, err := r.bookings.Lookup(ctx, bookingID)
	if err != nil {
		return err
	}
	if !booking.CanAccess(b, s.Identity) {
		return fmt.Errorf("%s may not join booking %s: %w", s.Identity.ID, bookingID, models.ErrForbidden)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.ID] != s {
		return fmt.Errorf("session %s is disconnected: %w", s.ID, models.ErrTransport)
	}
	room, ok := r.rooms[bookingID]
	if !ok {
		room = make(map[string]*Session)
		r.rooms[bookingID] = room
	}
	room[s.ID] = s

	s.mu.Lock()
	s.subs[bookingID] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (r *Registry) Unsubscribe(s *Session, bookingID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(s, bookingID)
}

// Disconnect removes s and all its subscriptions. Safe to call twice.
func (r *Registry) Disconnect(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.ID] == s {
		r.dropLocked(s)
	}
}

// SubscribersOf returns a snapshot of the booking's room.
func (r *Registry) SubscribersOf(bookingID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.rooms[bookingID]
	out := make([]*Session, 0, len(room))
	for _, s := range room {
		out = append(out, s)
	}
	return out
}

func (r *Registry) Get(connID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[connID]
	return s, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) dropLocked(s *Session) {
	for _, id := range s.Rooms() {
		r.leaveLocked(s, id)
	}
	delete(r.sessions, s.ID)
}

func (r *Registry) leaveLocked(s *Session, bookingID string) {
	if room, ok := r.rooms[bookingID]; ok && room[s.ID] == s {
		delete(room, s.ID)
		if len(room) == 0 {
			delete(r.rooms, bookingID)
		}
	}
	s.mu.Lock()
	delete(s.subs, bookingID)
	s.mu.Unlock()
}
