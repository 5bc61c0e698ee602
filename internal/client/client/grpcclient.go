package client

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/dmitrijs2005/plotkeeper/internal/client/session"
	"github.com/dmitrijs2005/plotkeeper/internal/common"
	"github.com/dmitrijs2005/plotkeeper/internal/logging"
	"github.com/dmitrijs2005/plotkeeper/internal/models"
	"github.com/dmitrijs2005/plotkeeper/internal/rpc"
)

// DefaultTimeout bounds each remote call.
const DefaultTimeout = 15 * time.Second

// TokenSource supplies access tokens for authenticated calls. The session
// manager implements it.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	RefreshSession(ctx context.Context) (string, error)
}

type GRPCClient struct {
	endpointURL string
	conn        *grpc.ClientConn
	cc          grpc.ClientConnInterface
	tokens      TokenSource
	timeout     time.Duration
	log         logging.Logger
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Delete(common.AccessTokenHeaderName)
	md.Set(common.AccessTokenHeaderName, token)

	return metadata.NewOutgoingContext(ctx, md)
}

func accessTokenFrom(ctx context.Context) string {
	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(common.AccessTokenHeaderName); len(v) > 0 {
		return v[0]
	}
	return ""
}

// accessTokenInterceptor attaches the access token to authenticated calls
// and, when the server reports it expired, refreshes the session once and
// retries.
func (s *GRPCClient) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply interface{},
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if !rpc.RequiresAuth(method) {
		return invoker(ctx, method, req, reply, cc, opts...)
	}

	token := accessTokenFrom(ctx)
	if token == "" && s.tokens != nil {
		t, err := s.tokens.AccessToken(ctx)
		if err != nil {
			return err
		}
		token = t
	}
	ctx = withAccessToken(ctx, token)

	err := invoker(ctx, method, req, reply, cc, opts...)
	if err == nil {
		return nil
	}

	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Unauthenticated || st.Message() != common.ErrTokenExpired.Error() {
		return err
	}
	if s.tokens == nil {
		return err
	}

	token, rerr := s.tokens.RefreshSession(ctx)
	if rerr != nil {
		return rerr
	}

	// tokens refreshed, retry with the new access token
	return invoker(withAccessToken(ctx, token), method, req, reply, cc, opts...)
}

func NewGRPCClient(endpointURL string, log logging.Logger) (*GRPCClient, error) {
	c := &GRPCClient{endpointURL: endpointURL, timeout: DefaultTimeout, log: log.With("module", "remote_client")}
	if err := c.InitGRPCClient(); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *GRPCClient) InitGRPCClient() error {
	conn, err := grpc.NewClient(s.endpointURL,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(s.accessTokenInterceptor))
	if err != nil {
		return err
	}
	s.conn = conn
	s.cc = conn
	return nil
}

// SetTokenSource installs the source used when a call carries no token.
func (s *GRPCClient) SetTokenSource(ts TokenSource) { s.tokens = ts }

// SetTimeout overrides DefaultTimeout; zero keeps the default.
func (s *GRPCClient) SetTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

func (s *GRPCClient) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *GRPCClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	d := s.timeout
	if d <= 0 {
		d = DefaultTimeout
	}
	return context.WithTimeout(ctx, d)
}

func (s *GRPCClient) Register(ctx context.Context, userName string, salt []byte, verifier []byte) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	req := &rpc.RegisterRequest{Username: userName, Salt: salt, Verifier: verifier}
	if _, err := rpc.Call[rpc.RegisterRequest, rpc.RegisterResponse](ctx, s.cc, rpc.MethodRegister, req); err != nil {
		return s.mapError(err)
	}
	return nil
}

func (s *GRPCClient) GetSalt(ctx context.Context, userName string) ([]byte, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	resp, err := rpc.Call[rpc.GetSaltRequest, rpc.GetSaltResponse](ctx, s.cc, rpc.MethodGetSalt, &rpc.GetSaltRequest{Username: userName})
	if err != nil {
		return nil, s.mapError(err)
	}
	return resp.Salt, nil
}

// Login proves knowledge of the verifier and returns the issued grant.
func (s *GRPCClient) Login(ctx context.Context, userName string, verifier []byte) (session.Grant, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	req := &rpc.LoginRequest{Username: userName, Verifier: verifier}
	resp, err := rpc.Call[rpc.LoginRequest, rpc.TokenResponse](ctx, s.cc, rpc.MethodLogin, req)
	if err != nil {
		return session.Grant{}, s.mapError(err)
	}
	return toGrant(resp, userName), nil
}

// Refresh implements session.Refresher.
func (s *GRPCClient) Refresh(ctx context.Context, refreshToken string) (session.Grant, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	req := &rpc.RefreshRequest{RefreshToken: refreshToken}
	resp, err := rpc.Call[rpc.RefreshRequest, rpc.TokenResponse](ctx, s.cc, rpc.MethodRefresh, req)
	if err != nil {
		return session.Grant{}, s.mapError(err)
	}
	return toGrant(resp, ""), nil
}

func toGrant(r *rpc.TokenResponse, email string) session.Grant {
	return session.Grant{
		Provider:     "plotkeeper",
		UserID:       r.UserID,
		Email:        email,
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresAt:    r.ExpiresAt,
	}
}

func (s *GRPCClient) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	resp, err := rpc.Call[rpc.PingRequest, rpc.PingResponse](ctx, s.cc, rpc.MethodPing, &rpc.PingRequest{})
	if err != nil {
		return s.mapError(err)
	}
	if resp.Status != "OK" {
		return ErrUnavailable
	}
	return nil
}

// FetchBundle downloads every project the account holds.
func (s *GRPCClient) FetchBundle(ctx context.Context, token, userID string) (models.Bundle, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if token != "" {
		ctx = withAccessToken(ctx, token)
	}

	resp, err := rpc.Call[rpc.FetchBundleRequest, rpc.FetchBundleResponse](ctx, s.cc, rpc.MethodFetchBundle, &rpc.FetchBundleRequest{UserID: userID})
	if err != nil {
		return models.Bundle{}, fmt.Errorf("fetch bundle: %w", s.mapError(err))
	}
	if err := resp.Bundle.Validate(); err != nil {
		return models.Bundle{}, fmt.Errorf("%w: remote bundle: %w", common.ErrorValidation, err)
	}
	s.log.Debug(ctx, "bundle fetched", "projects", len(resp.Bundle.Projects), "chapters", len(resp.Bundle.Chapters))
	return resp.Bundle, nil
}

// UpsertBundle pushes b to the remote store.
func (s *GRPCClient) UpsertBundle(ctx context.Context, token string, b models.Bundle) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if token != "" {
		ctx = withAccessToken(ctx, token)
	}

	resp, err := rpc.Call[rpc.UpsertBundleRequest, rpc.UpsertBundleResponse](ctx, s.cc, rpc.MethodUpsertBundle, &rpc.UpsertBundleRequest{Bundle: b})
	if err != nil {
		return fmt.Errorf("upsert bundle: %w", s.mapError(err))
	}
	s.log.Debug(ctx, "bundle pushed", "stored", resp.Stored, "skipped", resp.Skipped)
	return nil
}

func (s *GRPCClient) mapError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("rpc error: %w", err)
	}
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return ErrUnauthorized
	case codes.Unavailable, codes.DeadlineExceeded:
		return ErrUnavailable
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", common.ErrorValidation, st.Message())
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}
