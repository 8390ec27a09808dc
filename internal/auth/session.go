package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// tokenKey is the local store key the signed-in token is persisted under.
const tokenKey = "auth.token"

// TokenStore persists the current token. Implemented by [localstore.Store].
type TokenStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// ChangeFunc is called after the bound identity changes. userID is empty
// when the session became anonymous.
type ChangeFunc func(ctx context.Context, userID string)

// Session holds the identity currently bound to this device.
type Session struct {
	store  TokenStore
	secret []byte
	log    *slog.Logger

	mu     sync.Mutex
	userID string
	subs   map[int]ChangeFunc
	nextID int
}

// NewSession restores the persisted identity, if any. A stored token that
// no longer verifies is discarded and the session starts anonymous.
func NewSession(ctx context.Context, store TokenStore, secret []byte, logger *slog.Logger) (*Session, error) {
	s := &Session{
		store:  store,
		secret: secret,
		log:    logger,
		subs:   make(map[int]ChangeFunc),
	}

	raw, ok, err := store.Get(ctx, tokenKey)
	if err != nil {
		return nil, fmt.Errorf("reading stored token: %w", err)
	}
	if !ok {
		return s, nil
	}
	userID, err := VerifyToken(raw, secret)
	if err != nil {
		logger.Warn("discarding stored identity token", "error", err)
		if derr := store.Delete(ctx, tokenKey); derr != nil {
			logger.Error("deleting stored token", "error", derr)
		}
		return s, nil
	}
	s.userID = userID
	return s, nil
}

// Current returns the bound user id. ok is false for an anonymous session.
func (s *Session) Current() (userID string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID, s.userID != ""
}

// SignIn verifies token, persists it and binds its user id. Subscribers are
// notified only when the identity actually changes.
func (s *Session) SignIn(ctx context.Context, token string) (string, error) {
	userID, err := VerifyToken(token, s.secret)
	if err != nil {
		return "", err
	}
	if err := s.store.Set(ctx, tokenKey, token); err != nil {
		return "", fmt.Errorf("persisting token: %w", err)
	}
	s.log.Info("signed in", "user_id", userID)
	s.bind(ctx, userID)
	return userID, nil
}

// SignOut forgets the stored token and returns the session to the
// anonymous scope.
func (s *Session) SignOut(ctx context.Context) error {
	if err := s.store.Delete(ctx, tokenKey); err != nil {
		return fmt.Errorf("removing token: %w", err)
	}
	s.log.Info("signed out")
	s.bind(ctx, "")
	return nil
}

// Refresh re-reads the stored token so a sign-in or sign-out made by
// another process reaches this one. A missing or unverifiable token makes
// the session anonymous. Subscribers are notified only on change.
func (s *Session) Refresh(ctx context.Context) error {
	raw, ok, err := s.store.Get(ctx, tokenKey)
	if err != nil {
		return fmt.Errorf("reading stored token: %w", err)
	}
	userID := ""
	if ok {
		if userID, err = VerifyToken(raw, s.secret); err != nil {
			s.log.Warn("ignoring stored identity token", "error", err)
			userID = ""
		}
	}
	if prev, _ := s.Current(); prev != userID {
		s.log.Info("identity changed by another process", "from", prev, "to", userID)
	}
	s.bind(ctx, userID)
	return nil
}

// Watch calls [Session.Refresh] every interval until ctx is done.
func (s *Session) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				s.log.Warn("refreshing identity", "error", err)
			}
		}
	}
}

// Subscribe registers fn for identity changes and returns a function that
// unregisters it.
func (s *Session) Subscribe(fn ChangeFunc) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Session) bind(ctx context.Context, userID string) {
	s.mu.Lock()
	if s.userID == userID {
		s.mu.Unlock()
		return
	}
	s.userID = userID
	subs := make([]ChangeFunc, 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(ctx, userID)
	}
}
