package rpc

import (
	"time"

	"github.com/dmitrijs2005/plotkeeper/internal/models"
)

type RegisterRequest struct {
	Username string `json:"username"`
	Salt     []byte `json:"salt"`
	Verifier []byte `json:"verifier"`
}

type RegisterResponse struct {
	UserID string `json:"userId"`
}

type GetSaltRequest struct {
	Username string `json:"username"`
}

type GetSaltResponse struct {
	Salt []byte `json:"salt"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Verifier []byte `json:"verifier"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// TokenResponse answers both Login and Refresh.
type TokenResponse struct {
	UserID       string    `json:"userId"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type PingRequest struct{}

type PingResponse struct {
	Status     string    `json:"status"`
	ServerTime time.Time `json:"serverTime"`
}

type FetchBundleRequest struct {
	// UserID must match the token subject when set.
	UserID string `json:"userId,omitempty"`
	// ProjectIDs narrows the fetch; empty means every project of the user.
	ProjectIDs []string `json:"projectIds,omitempty"`
}

type FetchBundleResponse struct {
	Bundle models.Bundle `json:"bundle"`
}

type UpsertBundleRequest struct {
	Bundle models.Bundle `json:"bundle"`
}

type UpsertBundleResponse struct {
	// Stored counts rows written; rows older than the stored copy are
	// skipped.
	Stored  int `json:"stored"`
	Skipped int `json:"skipped"`
}
