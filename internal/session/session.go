// Package session holds the signed-in state shared by the controller and the
// remote gateway. It is an explicit value passed to constructors, not a
// package-level global; components that care about transitions subscribe to
// it.
package session

import "sync"

// State is the current auth state: a user identifier when signed in, empty
// otherwise. Safe for concurrent use.
type State struct {
	mu     sync.RWMutex
	userID string
	subs   map[int]func(authenticated bool)
	nextID int
}

func NewState() *State {
	return &State{subs: make(map[int]func(bool))}
}

// UserID returns the signed-in user identifier, or ok=false when signed out.
func (s *State) UserID() (id string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID, s.userID != ""
}

// Authenticated reports whether a user is signed in.
func (s *State) Authenticated() bool {
	_, ok := s.UserID()
	return ok
}

// SignIn records the user identifier and notifies subscribers if the
// authenticated state changed.
func (s *State) SignIn(userID string) {
	s.set(userID)
}

// SignOut clears the session and notifies subscribers if the authenticated
// state changed.
func (s *State) SignOut() {
	s.set("")
}

func (s *State) set(userID string) {
	s.mu.Lock()
	was := s.userID != ""
	s.userID = userID
	is := s.userID != ""
	var subs []func(bool)
	if was != is {
		subs = make([]func(bool), 0, len(s.subs))
		for _, fn := range s.subs {
			subs = append(subs, fn)
		}
	}
	s.mu.Unlock()

	// Callbacks run outside the lock so they can read the state back.
	for _, fn := range subs {
		fn(is)
	}
}

// Subscribe registers a callback invoked on every transition between signed
// in and signed out. It returns an unsubscribe function.
func (s *State) Subscribe(fn func(authenticated bool)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}
