package cryptox

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveMasterKey_Deterministic(t *testing.T) {
	password := []byte("secret-password")
	salt := []byte("fixed-salt")

	key1 := DeriveMasterKey(password, salt)
	key2 := DeriveMasterKey(password, salt)

	require.Equal(t, key1, key2)
	require.Len(t, key1, 32)
}

func TestDeriveMasterKey_DifferentInputs(t *testing.T) {
	password := []byte("secret-password")

	key1 := DeriveMasterKey(password, []byte("salt-1"))
	key2 := DeriveMasterKey(password, []byte("salt-2"))

	if bytes.Equal(key1, key2) {
		t.Errorf("expected different results for different salts, got same")
	}
}

func TestMakeVerifier_Stable(t *testing.T) {
	k := []byte("master")
	require.Equal(t, MakeVerifier(k), MakeVerifier(k))
	require.Len(t, MakeVerifier(k), 32)
	require.NotEqual(t, MakeVerifier(k), MakeVerifier([]byte("other")))
}

func TestSealOpen_RoundTrip(t *testing.T) {
	key := DeriveMasterKey([]byte("pw"), []byte("salt"))

	sealed, err := Seal([]byte("access-token"), key)
	require.NoError(t, err)
	require.Greater(t, len(sealed), NonceSize)

	plain, err := Open(sealed, key)
	require.NoError(t, err)
	require.Equal(t, "access-token", string(plain))
}

func TestSeal_UsesFreshNonce(t *testing.T) {
	key := LegacyKey([]byte("k"))
	a, err := Seal([]byte("same"), key)
	require.NoError(t, err)
	b, err := Seal([]byte("same"), key)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestOpen_WrongKeyFails(t *testing.T) {
	sealed, err := Seal([]byte("x"), LegacyKey([]byte("a")))
	require.NoError(t, err)

	_, err = Open(sealed, LegacyKey([]byte("b")))
	require.Error(t, err)
}

func TestOpen_ShortInput(t *testing.T) {
	_, err := Open([]byte{1, 2, 3}, LegacyKey([]byte("a")))
	require.ErrorIs(t, err, ErrShortCiphertext)
}

func TestSealDetached_RoundTrip(t *testing.T) {
	key := LegacyKey([]byte("legacy"))
	ct, nonce, err := SealDetached([]byte("refresh"), key)
	require.NoError(t, err)
	require.Len(t, nonce, NonceSize)

	plain, err := OpenDetached(ct, nonce, key)
	require.NoError(t, err)
	require.Equal(t, "refresh", string(plain))
}

func TestSeal_BadKeyLength(t *testing.T) {
	_, err := Seal([]byte("x"), []byte("short"))
	require.Error(t, err)
}
