// Package session owns the lifecycle of the sync account credential: it
// stores access and refresh tokens encrypted at rest, tracks expiry, and
// refreshes them on demand.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrijs2005/plotkeeper/internal/common"
	"github.com/dmitrijs2005/plotkeeper/internal/logging"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// DefaultExpiryMargin makes a token that expires this soon count as expired.
const DefaultExpiryMargin = 60 * time.Second

// Grant is the result of a successful authorization or refresh.
type Grant struct {
	Provider     string
	UserID       string
	Email        string
	AccessToken  string
	RefreshToken string
	// ExpiresAt may be zero, in which case the access token's exp claim is
	// used.
	ExpiresAt time.Time
}

// Refresher exchanges a refresh token for a new grant.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Grant, error)
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func WithExpiryMargin(d time.Duration) Option { return func(m *Manager) { m.margin = d } }

type Manager struct {
	store     Store
	cipher    *Cipher
	refresher Refresher
	log       logging.Logger
	now       func() time.Time
	margin    time.Duration

	mu      sync.Mutex
	state   State
	lastErr error
	// state before the current connect attempt
	prior State
}

func NewManager(store Store, cipher *Cipher, refresher Refresher, log logging.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		cipher:    cipher,
		refresher: refresher,
		log:       log.With("module", "session"),
		now:       time.Now,
		margin:    DefaultExpiryMargin,
		state:     StateDisconnected,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Init derives the starting state from what is persisted.
func (m *Manager) Init(ctx context.Context) (State, error) {
	s, err := m.store.Get(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.state, m.lastErr = StateError, err
		return m.state, err
	}
	if s != nil {
		m.state = StateConnected
	} else {
		m.state = StateDisconnected
	}
	return m.state, nil
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// BeginConnect enters connecting. A second call while already connecting
// starts nothing and reports false.
func (m *Manager) BeginConnect() (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateConnecting {
		return m.state, false
	}
	m.prior = m.state
	m.state, m.lastErr = StateConnecting, nil
	return m.state, true
}

// CompleteConnect persists the grant and enters connected.
func (m *Manager) CompleteConnect(ctx context.Context, g Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &Session{Provider: g.Provider, UserID: g.UserID, Email: g.Email}
	if err := m.applyGrant(s, g); err != nil {
		m.state, m.lastErr = StateError, err
		return err
	}
	if err := m.store.Set(ctx, s); err != nil {
		m.state, m.lastErr = StateError, err
		return fmt.Errorf("store session: %w", err)
	}
	m.state, m.lastErr = StateConnected, nil
	m.log.Info(ctx, "session connected", "user", g.UserID, "expires_at", s.ExpiresAt)
	return nil
}

// FailConnect records a failed authorization flow. A failed reconnect
// leaves the stored session untouched, so a manager that was connected
// stays connected and only LastError reports the failure.
func (m *Manager) FailConnect(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErr = err
	if m.prior == StateConnected {
		m.state = StateConnected
		return
	}
	m.state = StateError
}

// Disconnect forgets the session.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	m.state, m.lastErr = StateDisconnected, nil
	return nil
}

// Identity returns the stored account, or nil.
func (m *Manager) Identity(ctx context.Context) (*Session, error) {
	s, err := m.store.Get(ctx)
	if err != nil || s == nil {
		return nil, err
	}
	cp := *s
	cp.AccessTokenCipher, cp.RefreshTokenCipher = "", ""
	return &cp, nil
}

// AccessToken returns a token valid for at least the expiry margin,
// refreshing the session if needed.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.store.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	if s == nil {
		return "", ErrNotConnected
	}
	if s.AccessTokenCipher == "" && s.RefreshTokenCipher == "" {
		return "", ErrTokenUnavailable
	}

	if s.AccessTokenCipher != "" && m.now().Add(m.margin).Before(s.ExpiresAt) {
		token, legacy, err := m.cipher.Decrypt(s.AccessTokenCipher)
		if err == nil {
			if legacy {
				m.migrate(ctx, s)
			}
			return token, nil
		}
		m.log.Warn(ctx, "access token undecryptable, refreshing", "error", err)
	}
	return m.refreshLocked(ctx, s)
}

// RefreshSession exchanges the refresh token for a new access token.
func (m *Manager) RefreshSession(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.store.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	if s == nil {
		return "", ErrNotConnected
	}
	return m.refreshLocked(ctx, s)
}

func (m *Manager) refreshLocked(ctx context.Context, s *Session) (string, error) {
	if s.RefreshTokenCipher == "" {
		return "", ErrRefreshUnavailable
	}
	rt, _, err := m.cipher.Decrypt(s.RefreshTokenCipher)
	if err != nil {
		return "", err
	}

	g, err := m.refresher.Refresh(ctx, rt)
	if err != nil {
		if errors.Is(err, common.ErrorUnauthorized) || errors.Is(err, common.ErrRefreshTokenExpired) ||
			errors.Is(err, common.ErrInvalidToken) {
			return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
		}
		return "", fmt.Errorf("refresh session: %w", err)
	}
	if g.RefreshToken == "" {
		g.RefreshToken = rt
	}
	if err := m.applyGrant(s, g); err != nil {
		return "", err
	}
	if err := m.store.Set(ctx, s); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	m.log.Debug(ctx, "session refreshed", "expires_at", s.ExpiresAt)
	return g.AccessToken, nil
}

// Diagnose reports, without touching the network, whether a usable token
// path exists.
func (m *Manager) Diagnose(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.store.Get(ctx)
	if err != nil {
		return err
	}
	if s == nil {
		return ErrNotConnected
	}
	if s.AccessTokenCipher != "" && m.now().Add(m.margin).Before(s.ExpiresAt) {
		if _, _, err := m.cipher.Decrypt(s.AccessTokenCipher); err == nil {
			return nil
		}
	}
	if s.RefreshTokenCipher == "" {
		if s.AccessTokenCipher == "" {
			return ErrTokenUnavailable
		}
		return ErrRefreshUnavailable
	}
	_, _, err = m.cipher.Decrypt(s.RefreshTokenCipher)
	return err
}

func (m *Manager) applyGrant(s *Session, g Grant) error {
	access, err := m.cipher.Encrypt(g.AccessToken)
	if err != nil {
		return err
	}
	refresh := ""
	if g.RefreshToken != "" {
		if refresh, err = m.cipher.Encrypt(g.RefreshToken); err != nil {
			return err
		}
	}
	if g.UserID != "" {
		s.UserID = g.UserID
	}
	if g.Provider != "" {
		s.Provider = g.Provider
	}
	s.AccessTokenCipher = access
	s.RefreshTokenCipher = refresh
	s.ExpiresAt = g.ExpiresAt
	if s.ExpiresAt.IsZero() {
		s.ExpiresAt = tokenExpiry(g.AccessToken)
	}
	return nil
}

// migrate re-encrypts legacy ciphers in the current format.
func (m *Manager) migrate(ctx context.Context, s *Session) {
	for _, field := range []*string{&s.AccessTokenCipher, &s.RefreshTokenCipher} {
		if *field == "" {
			continue
		}
		plain, legacy, err := m.cipher.Decrypt(*field)
		if err != nil || !legacy {
			continue
		}
		if enc, err := m.cipher.Encrypt(plain); err == nil {
			*field = enc
		}
	}
	if err := m.store.Set(ctx, s); err != nil {
		m.log.Warn(ctx, "token cipher migration not saved", "error", err)
		return
	}
	m.log.Info(ctx, "token cipher migrated")
}

// tokenExpiry reads the exp claim without verifying the signature; the
// server verifies, the client only needs to know when to refresh.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
