// Package grpc exposes the remote store over gRPC.
package grpc

import (
	"context"
	"net"
	"time"

	"github.com/dmitrijs2005/plotkeeper/internal/logging"
	domain "github.com/dmitrijs2005/plotkeeper/internal/models"
	"github.com/dmitrijs2005/plotkeeper/internal/rpc"
	"github.com/dmitrijs2005/plotkeeper/internal/server/models"
	"github.com/dmitrijs2005/plotkeeper/internal/server/services"
	"google.golang.org/grpc"
)

type userSvc interface {
	RefreshToken(ctx context.Context, refreshToken string) (*services.TokenPair, error)
	Register(ctx context.Context, username string, salt, verifier []byte) (*models.User, error)
	GetSalt(ctx context.Context, username string) ([]byte, error)
	Login(ctx context.Context, username string, verifierCandidate []byte) (*services.TokenPair, error)
}

type bundleSvc interface {
	Fetch(ctx context.Context, userID string, projectIDs []string) (domain.Bundle, error)
	Upsert(ctx context.Context, userID string, b domain.Bundle) (services.UpsertResult, error)
}

type GRPCServer struct {
	address   string
	users     userSvc
	bundles   bundleSvc
	logger    logging.Logger
	jwtSecret []byte
	now       func() time.Time
}

var _ rpc.Service = (*GRPCServer)(nil)

func NewGRPCServer(a string, l logging.Logger, us userSvc, bs bundleSvc, secretKey string) *GRPCServer {
	return &GRPCServer{
		address:   a,
		logger:    l.With("module", "grpc_server"),
		users:     us,
		bundles:   bs,
		jwtSecret: []byte(secretKey),
		now:       time.Now,
	}
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor, s.accessTokenInterceptor))

	rpc.RegisterService(srv, s)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}
