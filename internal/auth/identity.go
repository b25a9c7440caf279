package auth

import (
	"context"
	"strings"
	"sync"

	apperrors "github.com/charlesng35/fixhub/pkg/errors"
)

// Identity is the authenticated user acting on a request or client session.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

// Valid reports whether the identity carries a user id.
func (i *Identity) Valid() bool {
	return i != nil && strings.TrimSpace(i.ID) != ""
}

type identityKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity stored in ctx, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(Identity)
	if !ok || !id.Valid() {
		return Identity{}, false
	}
	return id, true
}

// RequireIdentity returns the identity stored in ctx or an unauthenticated error.
func RequireIdentity(ctx context.Context) (Identity, error) {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return Identity{}, apperrors.ErrUnauthorized
	}
	return id, nil
}

// Session holds the identity of a long-lived client (a websocket connection or an
// embedded UI) and notifies listeners on login and logout.
type Session struct {
	mu        sync.RWMutex
	current   *Identity
	listeners map[int]func(*Identity)
	nextID    int
}

// NewSession creates a session, optionally already signed in.
func NewSession(initial *Identity) *Session {
	s := &Session{listeners: make(map[int]func(*Identity))}
	if initial.Valid() {
		cpy := *initial
		s.current = &cpy
	}
	return s
}

// CurrentUser returns the signed-in identity or nil.
func (s *Session) CurrentUser() *Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	cpy := *s.current
	return &cpy
}

// Context decorates ctx with the current identity when one is signed in.
func (s *Session) Context(ctx context.Context) context.Context {
	if id := s.CurrentUser(); id != nil {
		return WithIdentity(ctx, *id)
	}
	return ctx
}

// SignIn replaces the current identity and notifies listeners.
func (s *Session) SignIn(id Identity) {
	if !id.Valid() {
		s.SignOut()
		return
	}
	s.set(&id)
}

// SignOut clears the current identity and notifies listeners with nil.
func (s *Session) SignOut() {
	s.set(nil)
}

// OnAuthChange registers fn for login/logout events. The returned func removes it.
func (s *Session) OnAuthChange(fn func(*Identity)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Session) set(id *Identity) {
	s.mu.Lock()
	prev := s.current
	s.current = id
	listeners := make([]func(*Identity), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	if prev == nil && id == nil {
		return
	}
	if prev != nil && id != nil && *prev == *id {
		return
	}
	for _, fn := range listeners {
		var snapshot *Identity
		if id != nil {
			cpy := *id
			snapshot = &cpy
		}
		fn(snapshot)
	}
}
