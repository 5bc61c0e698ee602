package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/dmitrijs2005/plotkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/plotkeeper/internal/common"
	"github.com/dmitrijs2005/plotkeeper/internal/cryptox"
	"github.com/dmitrijs2005/plotkeeper/internal/filex"
)

const (
	cipherPrefix = "v2:"
	secretSize   = 32
	saltSize     = 16
)

// Cipher encrypts tokens at rest. The current format is "v2:" followed by
// base64(nonce||ciphertext) under an argon2-derived key. Unprefixed values
// are the legacy format, sealed under a plain SHA-256 of the secret.
type Cipher struct {
	key    []byte
	legacy []byte
}

func NewCipher(secret, salt []byte) *Cipher {
	return &Cipher{
		key:    cryptox.DeriveMasterKey(secret, salt),
		legacy: cryptox.LegacyKey(secret),
	}
}

func (c *Cipher) Encrypt(plain string) (string, error) {
	sealed, err := cryptox.Seal([]byte(plain), c.key)
	if err != nil {
		return "", fmt.Errorf("encrypt token: %w", err)
	}
	return cipherPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt returns the plaintext and whether value was in the legacy format
// and should be re-encrypted.
func (c *Cipher) Decrypt(value string) (string, bool, error) {
	key, legacy := c.key, false
	if rest, ok := strings.CutPrefix(value, cipherPrefix); ok {
		value = rest
	} else {
		key, legacy = c.legacy, true
	}

	sealed, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrDecryptFailed, err)
	}
	plain, err := cryptox.Open(sealed, key)
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrDecryptFailed, err)
	}
	return string(plain), legacy, nil
}

// LoadCipher builds the token cipher from the secret in keyFile and the salt
// kept in the metadata store, creating either one on first use.
func LoadCipher(ctx context.Context, keyFile string, repo metadata.Repository) (*Cipher, error) {
	secret, err := loadOrCreateSecret(keyFile)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(secret)

	salt, err := repo.Get(ctx, metadata.KeyCipherSalt)
	if err != nil {
		return nil, err
	}
	if salt == nil {
		salt = common.GenerateRandByteArray(saltSize)
		if err := repo.Set(ctx, metadata.KeyCipherSalt, salt); err != nil {
			return nil, err
		}
	}
	return NewCipher(secret, salt), nil
}

func loadOrCreateSecret(path string) ([]byte, error) {
	secret, err := os.ReadFile(path)
	if err == nil && len(secret) >= secretSize {
		return secret, nil
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	secret = common.GenerateRandByteArray(secretSize)
	err = filex.WriteFileAtomic(path, 0o600, func(w io.Writer) error {
		_, err := w.Write(secret)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create key file: %w", err)
	}
	return secret, nil
}
