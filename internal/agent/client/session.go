package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenStore persists the bearer token between runs.
type TokenStore interface {
	Token(ctx context.Context) (string, error)
	SetToken(ctx context.Context, token string) error
	ClearToken(ctx context.Context) error
}

// Refresher obtains a new token when the server rejects the current one.
type Refresher interface {
	Refresh(ctx context.Context, current string) (string, error)
}

// RefreshFunc adapts a function to Refresher.
type RefreshFunc func(ctx context.Context, current string) (string, error)

// Refresh calls f.
func (f RefreshFunc) Refresh(ctx context.Context, current string) (string, error) {
	return f(ctx, current)
}

// ErrNoRefresh is returned by a refresher that has nothing newer to offer.
var ErrNoRefresh = errors.New("no fresh token available")

// Session owns the device's login. Tokens are issued elsewhere; the agent
// only checks that one is present and unexpired before sending it.
type Session struct {
	mu        sync.Mutex
	store     TokenStore
	refresher Refresher
	now       func() time.Time
}

// NewSession returns a session over store. refresher may be nil, in which
// case any 401 logs the device out.
func NewSession(store TokenStore, refresher Refresher) *Session {
	return &Session{store: store, refresher: refresher, now: time.Now}
}

// Token implements TokenSource.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, err := s.store.Token(ctx)
	if err != nil {
		return "", err
	}
	if tok == "" {
		return "", fmt.Errorf("%w: not logged in", ErrAuth)
	}
	if exp, ok := Expiry(tok); ok && !exp.After(s.now()) {
		return "", fmt.Errorf("%w: token expired at %s", ErrAuth, exp.UTC().Format(time.RFC3339))
	}
	return tok, nil
}

// Login validates and saves a token.
func (s *Session) Login(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.login(ctx, token)
}

func (s *Session) login(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	sub, err := Subject(token)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAuth, err)
	}
	if sub == "" {
		return fmt.Errorf("%w: token has no subject", ErrAuth)
	}
	if exp, ok := Expiry(token); ok && !exp.After(s.now()) {
		return fmt.Errorf("%w: token already expired", ErrAuth)
	}
	return s.store.SetToken(ctx, token)
}

// Refresh replaces a rejected token. When no replacement can be had the
// session is logged out; queued work stays on the device.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.store.Token(ctx)
	if err != nil {
		return err
	}
	if s.refresher == nil {
		return s.logout(ctx, ErrNoRefresh)
	}
	next, err := s.refresher.Refresh(ctx, current)
	if err == nil && (next == "" || next == current) {
		err = ErrNoRefresh
	}
	if err == nil {
		err = s.login(ctx, next)
	}
	if err != nil {
		return s.logout(ctx, err)
	}
	return nil
}

func (s *Session) logout(ctx context.Context, cause error) error {
	if err := s.store.ClearToken(ctx); err != nil {
		return errors.Join(cause, err)
	}
	return fmt.Errorf("%w: logged out: %w", ErrAuth, cause)
}

// Logout forgets the token.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.ClearToken(ctx)
}

// Subject reads the sub claim without verifying the signature; only the
// server can do that.
func Subject(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	return claims.GetSubject()
}

// Expiry reads the exp claim. ok is false when the token has none.
func Expiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// FileRefresher re-reads a token file that an external login helper keeps
// current.
func FileRefresher(path string) RefreshFunc {
	return func(_ context.Context, current string) (string, error) {
		if path == "" {
			return "", ErrNoRefresh
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read token file: %w", err)
		}
		tok := strings.TrimSpace(string(raw))
		if tok == "" || tok == current {
			return "", ErrNoRefresh
		}
		return tok, nil
	}
}
