package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"housekeeping-sync/internal/backend"
	"housekeeping-sync/internal/model"
	"housekeeping-sync/internal/store"
)

var (
	// ErrLoggedOut means there is no usable token and none can be obtained.
	ErrLoggedOut = errors.New("logged out")
	// ErrMissingCredentials is returned when username or password is blank.
	ErrMissingCredentials = errors.New("username and password are required")
)

// Backend is the part of the backend client the provider needs.
type Backend interface {
	Login(ctx context.Context, username, password string) (backend.Tokens, error)
	Signup(ctx context.Context, username, password string) error
	Refresh(ctx context.Context, refreshToken string) (backend.Tokens, error)
}

// Provider owns the persisted session and hands out valid bearer tokens.
type Provider struct {
	backend Backend
	store   store.Store
	now     func() time.Time

	refreshMu sync.Mutex

	mu        sync.Mutex
	sess      model.Session
	listeners []func(authenticated bool)
}

// New creates a provider. Call Load before use.
func New(b Backend, s store.Store) *Provider {
	return &Provider{backend: b, store: s, now: time.Now, sess: model.Session{ID: model.SessionID}}
}

// Load reads the persisted session.
func (p *Provider) Load(ctx context.Context) error {
	sess, err := p.store.Load(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.sess = sess
	p.mu.Unlock()
	return nil
}

// OnChange registers fn to be called whenever the signed-in state flips.
func (p *Provider) OnChange(fn func(authenticated bool)) {
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

func (p *Provider) notify(authenticated bool) {
	p.mu.Lock()
	fns := append([]func(bool){}, p.listeners...)
	p.mu.Unlock()
	for _, fn := range fns {
		fn(authenticated)
	}
}

// Authenticated reports whether a token is held. It does not check expiry.
func (p *Provider) Authenticated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sess.Token != ""
}

// Username returns the signed-in user, or "".
func (p *Provider) Username() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sess.Username
}

// LockedFloor returns the floor preference, if any.
func (p *Provider) LockedFloor() *string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess.LockedFloor == nil {
		return nil
	}
	v := *p.sess.LockedFloor
	return &v
}

// SetLockedFloor persists the floor preference; nil unlocks.
func (p *Provider) SetLockedFloor(ctx context.Context, floor *string) error {
	if err := p.store.SetLockedFloor(ctx, floor); err != nil {
		return err
	}
	p.mu.Lock()
	p.sess.LockedFloor = floor
	p.mu.Unlock()
	return nil
}

// Login signs in and persists the token pair.
func (p *Provider) Login(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return ErrMissingCredentials
	}
	t, err := p.backend.Login(ctx, username, password)
	if err != nil {
		return err
	}
	if err := p.store.SaveLogin(ctx, t.Token, t.RefreshToken, t.Username); err != nil {
		return err
	}
	p.mu.Lock()
	p.sess.Token, p.sess.RefreshToken, p.sess.Username = t.Token, t.RefreshToken, t.Username
	p.mu.Unlock()
	log.Printf("auth: signed in as %s", t.Username)
	p.notify(true)
	return nil
}

// Signup creates an account without signing in.
func (p *Provider) Signup(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return ErrMissingCredentials
	}
	return p.backend.Signup(ctx, username, password)
}

// Logout forgets the token pair and user. The in-memory session is
// cleared even if persisting that fails.
func (p *Provider) Logout(ctx context.Context) error {
	p.mu.Lock()
	was := p.sess.Token != ""
	p.sess.Token, p.sess.RefreshToken, p.sess.Username = "", "", ""
	p.mu.Unlock()
	if was {
		p.notify(false)
	}
	return p.store.Clear(ctx)
}

// EnsureValidToken returns the current token, refreshing it first if it
// has expired. When no token can be obtained the session is cleared and
// ErrLoggedOut is returned.
func (p *Provider) EnsureValidToken(ctx context.Context) (string, error) {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	p.mu.Lock()
	token, refresh := p.sess.Token, p.sess.RefreshToken
	p.mu.Unlock()

	if token == "" {
		return "", ErrLoggedOut
	}
	exp, err := TokenExpiry(token)
	if err == nil && (exp.IsZero() || p.now().Before(exp)) {
		return token, nil
	}

	if refresh == "" {
		p.forceLogout(ctx, "token expired and no refresh token")
		return "", ErrLoggedOut
	}
	t, err := p.backend.Refresh(ctx, refresh)
	if err != nil {
		p.forceLogout(ctx, fmt.Sprintf("refresh failed: %v", err))
		return "", fmt.Errorf("%w: %v", ErrLoggedOut, err)
	}
	if t.RefreshToken == "" {
		t.RefreshToken = refresh
	}
	if err := p.store.SaveTokens(ctx, t.Token, t.RefreshToken); err != nil {
		log.Printf("auth: failed to persist refreshed token: %v", err)
	}
	p.mu.Lock()
	p.sess.Token, p.sess.RefreshToken = t.Token, t.RefreshToken
	p.mu.Unlock()
	return t.Token, nil
}

func (p *Provider) forceLogout(ctx context.Context, reason string) {
	log.Printf("auth: signing out: %s", reason)
	if err := p.Logout(ctx); err != nil {
		log.Printf("auth: failed to clear session: %v", err)
	}
}

// TokenExpiry reads the exp claim without verifying the signature; the
// backend verifies. A token without exp yields the zero time.
func TokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("failed to parse token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid exp claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, nil
	}
	return exp.Time, nil
}
