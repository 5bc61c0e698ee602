package session

import (
	"errors"

	"github.com/dmitrijs2005/plotkeeper/internal/common"
)

var (
	ErrNotConnected       = errors.New("sync is not connected")
	ErrTokenUnavailable   = errors.New("access token unavailable")
	ErrRefreshUnavailable = errors.New("refresh token unavailable")
	ErrRefreshFailed      = errors.New("session refresh failed")
	ErrDecryptFailed      = errors.New("token decrypt failed")
)

// IsAuthFatal reports whether err means the stored credential can never
// work again and the session has to be dropped.
func IsAuthFatal(err error) bool {
	return errors.Is(err, ErrTokenUnavailable) ||
		errors.Is(err, ErrRefreshUnavailable) ||
		errors.Is(err, ErrRefreshFailed) ||
		errors.Is(err, ErrDecryptFailed) ||
		errors.Is(err, common.ErrRefreshTokenExpired)
}
