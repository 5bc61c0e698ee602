// Package services contains application services for the plotkeeper client.
// This file defines the authentication service: register and the
// salt/verifier login flow that produces a session grant.
package services

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/plotkeeper/internal/client/orchestrator"
	"github.com/dmitrijs2005/plotkeeper/internal/client/session"
	"github.com/dmitrijs2005/plotkeeper/internal/common"
	"github.com/dmitrijs2005/plotkeeper/internal/cryptox"
)

// AuthClient is the part of the remote client the auth flow needs.
type AuthClient interface {
	Register(ctx context.Context, userName string, salt []byte, verifier []byte) error
	GetSalt(ctx context.Context, userName string) ([]byte, error)
	Login(ctx context.Context, userName string, verifier []byte) (session.Grant, error)
	Ping(ctx context.Context) error
}

// AuthService registers accounts and logs in against the remote store.
// The password never leaves the process: the server only sees the salt
// and the argon2-derived verifier.
type AuthService struct {
	client AuthClient
}

// NewAuthService constructs an AuthService bound to the given API client.
func NewAuthService(client AuthClient) *AuthService {
	return &AuthService{client: client}
}

// Register creates a new account on the server. It generates a random salt,
// derives a master key from the provided password, computes a verifier,
// and sends salt/verifier to the server.
func (a *AuthService) Register(ctx context.Context, username string, password []byte) error {
	salt := common.GenerateRandByteArray(32)
	key := cryptox.DeriveMasterKey(password, salt)
	verifier := cryptox.MakeVerifier(key)

	if err := a.client.Register(ctx, username, salt, verifier); err != nil {
		return fmt.Errorf("register error: %w", err)
	}
	return nil
}

// Login fetches the account salt, derives the verifier and exchanges it
// for a token pair.
func (a *AuthService) Login(ctx context.Context, username string, password []byte) (session.Grant, error) {
	salt, err := a.client.GetSalt(ctx, username)
	if err != nil {
		return session.Grant{}, fmt.Errorf("get salt error: %w", err)
	}

	key := cryptox.DeriveMasterKey(password, salt)
	g, err := a.client.Login(ctx, username, cryptox.MakeVerifier(key))
	if err != nil {
		return session.Grant{}, fmt.Errorf("login error: %w", err)
	}
	return g, nil
}

// Authorizer binds credentials into an orchestrator.Authorize callback.
func (a *AuthService) Authorizer(username string, password []byte) orchestrator.Authorize {
	return func(ctx context.Context) (session.Grant, error) {
		return a.Login(ctx, username, password)
	}
}

// Ping proxies a liveness check to the underlying client.
func (a *AuthService) Ping(ctx context.Context) error {
	return a.client.Ping(ctx)
}
