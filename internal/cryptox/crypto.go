// Package cryptox wraps the primitives plotkeeper uses: argon2id key
// derivation, login verifiers, and AES-GCM sealing of small secrets.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"

	"golang.org/x/crypto/argon2"
)

// NonceSize is the AES-GCM nonce length used by Seal.
const NonceSize = 12

// ErrShortCiphertext is returned by Open when the input cannot hold a nonce.
var ErrShortCiphertext = errors.New("ciphertext too short")

// MakeVerifier returns the value a server stores to check a derived key
// without learning it.
func MakeVerifier(masterKey []byte) []byte {
	hash := sha256.Sum256(masterKey)
	return hash[:]
}

// DeriveMasterKey stretches password with salt using argon2id into a
// 32-byte key suitable for AES-256.
func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, 32)
}

// LegacyKey is the pre-argon2 key derivation (a single SHA-256 pass).
// It is kept only so old ciphertexts can still be opened and re-sealed.
func LegacyKey(secret []byte) []byte {
	hash := sha256.Sum256(secret)
	return hash[:]
}

// Seal encrypts plaintext with AES-GCM under key and returns nonce||ciphertext.
//
// The key must be 16, 24, or 32 bytes long. A fresh random nonce is drawn for
// every call.
func Seal(plaintext, key []byte) ([]byte, error) {
	ciphertext, nonce, err := SealDetached(plaintext, key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(ciphertext))
	out = append(out, nonce...)
	return append(out, ciphertext...), nil
}

// Open reverses Seal.
func Open(sealed, key []byte) ([]byte, error) {
	if len(sealed) < NonceSize {
		return nil, ErrShortCiphertext
	}
	return OpenDetached(sealed[NonceSize:], sealed[:NonceSize], key)
}

// OpenDetached decrypts a ciphertext whose nonce is stored separately.
func OpenDetached(ciphertext, nonce, key []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aesgcm.NonceSize() {
		return nil, ErrShortCiphertext
	}
	return aesgcm.Open(nil, nonce, ciphertext, nil)
}

// SealDetached encrypts plaintext and returns the ciphertext and nonce
// separately.
func SealDetached(plaintext, key []byte) (ciphertext, nonce []byte, err error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	return aesgcm.Seal(nil, nonce, plaintext, nil), nonce, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
