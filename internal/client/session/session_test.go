package session

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/dmitrijs2005/plotkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/plotkeeper/internal/common"
	"github.com/dmitrijs2005/plotkeeper/internal/cryptox"
	"github.com/dmitrijs2005/plotkeeper/internal/logging"
)

// encryptLegacy produces a value in the format written before key
// derivation moved to the key file.
func encryptLegacy(c *Cipher, plain string) (string, error) {
	sealed, err := cryptox.Seal([]byte(plain), c.legacy)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

type memStore struct {
	s      *Session
	setErr error
}

func (m *memStore) Get(context.Context) (*Session, error) {
	if m.s == nil {
		return nil, nil
	}
	cp := *m.s
	return &cp, nil
}

func (m *memStore) Set(_ context.Context, s *Session) error {
	if m.setErr != nil {
		return m.setErr
	}
	cp := *s
	m.s = &cp
	return nil
}

func (m *memStore) Clear(context.Context) error { m.s = nil; return nil }

type fakeRefresher struct {
	calls int
	grant Grant
	err   error
	got   string
}

func (f *fakeRefresher) Refresh(_ context.Context, rt string) (Grant, error) {
	f.calls++
	f.got = rt
	return f.grant, f.err
}

var now = time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(store Store, r Refresher) *Manager {
	c := NewCipher([]byte("0123456789abcdef0123456789abcdef"), []byte("salt-salt-salt!!"))
	return NewManager(store, c, r, logging.NewNop(), WithClock(func() time.Time { return now }))
}

func connect(t *testing.T, m *Manager, expires time.Time) {
	t.Helper()
	_, started := m.BeginConnect()
	require.True(t, started)
	require.NoError(t, m.CompleteConnect(context.Background(), Grant{
		Provider: "plotkeeper", UserID: "u1", AccessToken: "access-1", RefreshToken: "refresh-1", ExpiresAt: expires,
	}))
}

func TestCipher_RoundTripAndLegacy(t *testing.T) {
	c := NewCipher([]byte("secret-secret-secret-secret-1234"), []byte("0123456789abcdef"))

	enc, err := c.Encrypt("token")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(enc, "v2:"))
	plain, legacy, err := c.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, "token", plain)
	assert.False(t, legacy)

	old, err := encryptLegacy(c, "token")
	require.NoError(t, err)
	plain, legacy, err = c.Decrypt(old)
	require.NoError(t, err)
	assert.Equal(t, "token", plain)
	assert.True(t, legacy)

	other := NewCipher([]byte("another-secret-another-secret-12"), []byte("0123456789abcdef"))
	_, _, err = other.Decrypt(enc)
	assert.ErrorIs(t, err, ErrDecryptFailed)

	_, _, err = c.Decrypt("v2:!!!")
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestBeginConnect_Idempotent(t *testing.T) {
	m := newTestManager(&memStore{}, &fakeRefresher{})

	st, started := m.BeginConnect()
	assert.Equal(t, StateConnecting, st)
	assert.True(t, started)

	st, started = m.BeginConnect()
	assert.Equal(t, StateConnecting, st)
	assert.False(t, started)

	m.FailConnect(errors.New("denied"))
	assert.Equal(t, StateError, m.State())
	assert.EqualError(t, m.LastError(), "denied")
}

func TestFailConnect_ReconnectKeepsExistingSession(t *testing.T) {
	store := &memStore{}
	m := newTestManager(store, &fakeRefresher{})
	connect(t, m, now.Add(time.Hour))

	st, started := m.BeginConnect()
	require.True(t, started)
	assert.Equal(t, StateConnecting, st)

	m.FailConnect(errors.New("browser closed"))
	assert.Equal(t, StateConnected, m.State())
	assert.EqualError(t, m.LastError(), "browser closed")

	token, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)

	// a later failure from a disconnected start is still an error
	require.NoError(t, m.Disconnect(context.Background()))
	m.BeginConnect()
	m.FailConnect(errors.New("denied"))
	assert.Equal(t, StateError, m.State())
}

func TestCompleteConnect_StoresEncrypted(t *testing.T) {
	store := &memStore{}
	m := newTestManager(store, &fakeRefresher{})
	connect(t, m, now.Add(time.Hour))

	assert.Equal(t, StateConnected, m.State())
	require.NotNil(t, store.s)
	assert.NotContains(t, store.s.AccessTokenCipher, "access-1")
	assert.NotContains(t, store.s.RefreshTokenCipher, "refresh-1")

	id, err := m.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
	assert.Empty(t, id.AccessTokenCipher)
}

func TestAccessToken_ValidTokenNoRefresh(t *testing.T) {
	r := &fakeRefresher{}
	m := newTestManager(&memStore{}, r)
	connect(t, m, now.Add(time.Hour))

	tok, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok)
	assert.Equal(t, 0, r.calls)
}

func TestAccessToken_WithinMarginRefreshes(t *testing.T) {
	r := &fakeRefresher{grant: Grant{AccessToken: "access-2", RefreshToken: "refresh-2", ExpiresAt: now.Add(time.Hour)}}
	store := &memStore{}
	m := newTestManager(store, r)
	connect(t, m, now.Add(30*time.Second))

	tok, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-2", tok)
	assert.Equal(t, 1, r.calls)
	assert.Equal(t, "refresh-1", r.got)

	// the new pair was persisted
	tok, err = m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-2", tok)
	assert.Equal(t, 1, r.calls)
	assert.Equal(t, now.Add(time.Hour), store.s.ExpiresAt)
}

func TestAccessToken_ErrorClasses(t *testing.T) {
	ctx := context.Background()

	t.Run("not connected", func(t *testing.T) {
		m := newTestManager(&memStore{}, &fakeRefresher{})
		_, err := m.AccessToken(ctx)
		assert.ErrorIs(t, err, ErrNotConnected)
		assert.False(t, IsAuthFatal(err))
	})

	t.Run("no tokens at all", func(t *testing.T) {
		m := newTestManager(&memStore{s: &Session{UserID: "u1"}}, &fakeRefresher{})
		_, err := m.AccessToken(ctx)
		assert.ErrorIs(t, err, ErrTokenUnavailable)
		assert.True(t, IsAuthFatal(err))
	})

	t.Run("expired and no refresh token", func(t *testing.T) {
		store := &memStore{}
		m := newTestManager(store, &fakeRefresher{})
		connect(t, m, now.Add(-time.Minute))
		store.s.RefreshTokenCipher = ""
		_, err := m.AccessToken(ctx)
		assert.ErrorIs(t, err, ErrRefreshUnavailable)
		assert.True(t, IsAuthFatal(err))
	})

	t.Run("refresh token undecryptable", func(t *testing.T) {
		store := &memStore{}
		m := newTestManager(store, &fakeRefresher{})
		connect(t, m, now.Add(-time.Minute))
		store.s.RefreshTokenCipher = "v2:AAAAAAAAAAAAAAAAAAAAAAAAAAAA"
		_, err := m.AccessToken(ctx)
		assert.ErrorIs(t, err, ErrDecryptFailed)
		assert.True(t, IsAuthFatal(err))
	})

	t.Run("refresh rejected", func(t *testing.T) {
		m := newTestManager(&memStore{}, &fakeRefresher{err: common.ErrorUnauthorized})
		connect(t, m, now.Add(-time.Minute))
		_, err := m.AccessToken(ctx)
		assert.ErrorIs(t, err, ErrRefreshFailed)
		assert.True(t, IsAuthFatal(err))
	})

	t.Run("refresh transport failure is transient", func(t *testing.T) {
		unavailable := errors.New("unavailable")
		m := newTestManager(&memStore{}, &fakeRefresher{err: unavailable})
		connect(t, m, now.Add(-time.Minute))
		_, err := m.AccessToken(ctx)
		assert.ErrorIs(t, err, unavailable)
		assert.False(t, IsAuthFatal(err))
	})
}

func TestAccessToken_MigratesLegacyCipher(t *testing.T) {
	store := &memStore{}
	m := newTestManager(store, &fakeRefresher{})
	connect(t, m, now.Add(time.Hour))

	legacyAccess, err := encryptLegacy(m.cipher, "access-1")
	require.NoError(t, err)
	legacyRefresh, err := encryptLegacy(m.cipher, "refresh-1")
	require.NoError(t, err)
	store.s.AccessTokenCipher = legacyAccess
	store.s.RefreshTokenCipher = legacyRefresh

	tok, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok)
	assert.True(t, strings.HasPrefix(store.s.AccessTokenCipher, "v2:"))
	assert.True(t, strings.HasPrefix(store.s.RefreshTokenCipher, "v2:"))
}

func TestDiagnose(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	m := newTestManager(store, &fakeRefresher{})
	assert.ErrorIs(t, m.Diagnose(ctx), ErrNotConnected)

	connect(t, m, now.Add(-time.Minute))
	assert.NoError(t, m.Diagnose(ctx), "refresh token still usable")

	store.s.RefreshTokenCipher = "garbage"
	assert.ErrorIs(t, m.Diagnose(ctx), ErrDecryptFailed)

	store.s.RefreshTokenCipher = ""
	assert.ErrorIs(t, m.Diagnose(ctx), ErrRefreshUnavailable)

	require.NoError(t, m.Disconnect(ctx))
	assert.Equal(t, StateDisconnected, m.State())
	assert.Nil(t, store.s)
}

func TestCompleteConnect_ExpiryFromJWT(t *testing.T) {
	exp := now.Add(2 * time.Hour).Truncate(time.Second)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	store := &memStore{}
	m := newTestManager(store, &fakeRefresher{})
	m.BeginConnect()
	require.NoError(t, m.CompleteConnect(context.Background(), Grant{UserID: "u1", AccessToken: token, RefreshToken: "r"}))
	assert.True(t, store.s.ExpiresAt.Equal(exp))
}

func TestInit_FromPersistedSession(t *testing.T) {
	m := newTestManager(&memStore{s: &Session{UserID: "u1"}}, &fakeRefresher{})
	st, err := m.Init(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateConnected, st)
}

func TestLoadCipher_AndMetadataStore(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`CREATE TABLE metadata (key TEXT PRIMARY KEY, value BLOB NOT NULL);`)
	require.NoError(t, err)
	repo := metadata.NewSQLiteRepository(db)
	ctx := context.Background()

	keyFile := filepath.Join(t.TempDir(), "sync.key")
	c1, err := LoadCipher(ctx, keyFile, repo)
	require.NoError(t, err)
	info, err := os.Stat(keyFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	enc, err := c1.Encrypt("tok")
	require.NoError(t, err)

	c2, err := LoadCipher(ctx, keyFile, repo)
	require.NoError(t, err)
	plain, _, err := c2.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, "tok", plain)

	store := NewMetadataStore(repo)
	got, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.Set(ctx, &Session{UserID: "u1", AccessTokenCipher: enc}))
	got, err = store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)

	require.NoError(t, store.Clear(ctx))
	got, err = store.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}
