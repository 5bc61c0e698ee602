package rpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/dmitrijs2005/plotkeeper/internal/models"
)

type echoService struct {
	upserted models.Bundle
}

func (e *echoService) Register(_ context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	return &RegisterResponse{UserID: "id-" + req.Username}, nil
}

func (e *echoService) GetSalt(context.Context, *GetSaltRequest) (*GetSaltResponse, error) {
	return &GetSaltResponse{Salt: []byte{1, 2, 3}}, nil
}

func (e *echoService) Login(context.Context, *LoginRequest) (*TokenResponse, error) {
	return nil, status.Error(codes.Unauthenticated, "bad verifier")
}

func (e *echoService) Refresh(context.Context, *RefreshRequest) (*TokenResponse, error) {
	return &TokenResponse{AccessToken: "a"}, nil
}

func (e *echoService) Ping(context.Context, *PingRequest) (*PingResponse, error) {
	return &PingResponse{Status: "OK"}, nil
}

func (e *echoService) FetchBundle(context.Context, *FetchBundleRequest) (*FetchBundleResponse, error) {
	return &FetchBundleResponse{Bundle: e.upserted}, nil
}

func (e *echoService) UpsertBundle(_ context.Context, req *UpsertBundleRequest) (*UpsertBundleResponse, error) {
	e.upserted = req.Bundle
	return &UpsertBundleResponse{Stored: len(req.Bundle.Chapters)}, nil
}

func dial(t *testing.T, impl Service, opts ...grpc.ServerOption) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(opts...)
	RegisterService(srv, impl)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestCall_RoundTripsThroughServiceDesc(t *testing.T) {
	conn := dial(t, &echoService{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reg, err := Call[RegisterRequest, RegisterResponse](ctx, conn, MethodRegister, &RegisterRequest{Username: "ann"})
	require.NoError(t, err)
	assert.Equal(t, "id-ann", reg.UserID)

	salt, err := Call[GetSaltRequest, GetSaltResponse](ctx, conn, MethodGetSalt, &GetSaltRequest{Username: "ann"})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, salt.Salt)

	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := models.Bundle{Chapters: []models.Chapter{{ID: "c1", ProjectID: "p1", UpdatedAt: ts}}}
	up, err := Call[UpsertBundleRequest, UpsertBundleResponse](ctx, conn, MethodUpsertBundle, &UpsertBundleRequest{Bundle: b})
	require.NoError(t, err)
	assert.Equal(t, 1, up.Stored)

	got, err := Call[FetchBundleRequest, FetchBundleResponse](ctx, conn, MethodFetchBundle, &FetchBundleRequest{})
	require.NoError(t, err)
	require.Len(t, got.Bundle.Chapters, 1)
	assert.Equal(t, "c1", got.Bundle.Chapters[0].ID)
}

func TestCall_StatusErrorPassesThrough(t *testing.T) {
	conn := dial(t, &echoService{})
	_, err := Call[LoginRequest, TokenResponse](context.Background(), conn, MethodLogin, &LoginRequest{})
	require.Error(t, err)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestUnary_InterceptorSeesFullMethodAndTypedRequest(t *testing.T) {
	var seen string
	var req any
	icpt := func(ctx context.Context, r any, info *grpc.UnaryServerInfo, h grpc.UnaryHandler) (any, error) {
		seen, req = info.FullMethod, r
		return h(ctx, r)
	}
	conn := dial(t, &echoService{}, grpc.UnaryInterceptor(icpt))

	_, err := Call[PingRequest, PingResponse](context.Background(), conn, MethodPing, &PingRequest{})
	require.NoError(t, err)
	assert.Equal(t, MethodPing, seen)
	assert.IsType(t, &PingRequest{}, req)
}

func TestRequiresAuth(t *testing.T) {
	assert.True(t, RequiresAuth(MethodFetchBundle))
	assert.True(t, RequiresAuth(MethodUpsertBundle))
	assert.False(t, RequiresAuth(MethodLogin))
	assert.False(t, RequiresAuth(MethodRefresh))
}
