package grpc

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/plotkeeper/internal/common"
	"github.com/dmitrijs2005/plotkeeper/internal/rpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func (s *GRPCServer) Register(ctx context.Context, req *rpc.RegisterRequest) (*rpc.RegisterResponse, error) {

	s.logger.Info(ctx, "Registration request", "username", req.Username)

	user, err := s.users.Register(ctx, req.Username, req.Salt, req.Verifier)
	if err != nil {
		s.logger.Error(ctx, "registration failed", "username", req.Username, "error", err)
		return nil, toStatus(err)
	}

	s.logger.Info(ctx, "Registered", "username", req.Username, "user", user.ID)
	return &rpc.RegisterResponse{UserID: user.ID}, nil
}

func (s *GRPCServer) GetSalt(ctx context.Context, req *rpc.GetSaltRequest) (*rpc.GetSaltResponse, error) {

	salt, err := s.users.GetSalt(ctx, req.Username)
	if err != nil {
		return nil, toStatus(err)
	}

	return &rpc.GetSaltResponse{Salt: salt}, nil
}

func (s *GRPCServer) Login(ctx context.Context, req *rpc.LoginRequest) (*rpc.TokenResponse, error) {

	tokens, err := s.users.Login(ctx, req.Username, req.Verifier)
	if err != nil {
		s.logger.Warn(ctx, "login failed", "username", req.Username, "error", err)
		return nil, toStatus(err)
	}

	return tokenResponse(tokens.UserID, tokens.AccessToken, tokens.RefreshToken, tokens.ExpiresAt), nil
}

func (s *GRPCServer) Refresh(ctx context.Context, req *rpc.RefreshRequest) (*rpc.TokenResponse, error) {

	tokens, err := s.users.RefreshToken(ctx, req.RefreshToken)
	if err != nil {
		return nil, toStatus(err)
	}

	return tokenResponse(tokens.UserID, tokens.AccessToken, tokens.RefreshToken, tokens.ExpiresAt), nil
}

func (s *GRPCServer) Ping(ctx context.Context, req *rpc.PingRequest) (*rpc.PingResponse, error) {
	return &rpc.PingResponse{Status: "OK", ServerTime: s.now().UTC()}, nil
}

func (s *GRPCServer) FetchBundle(ctx context.Context, req *rpc.FetchBundleRequest) (*rpc.FetchBundleResponse, error) {

	userID, ok := userIDFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Internal, "user id missing from context")
	}
	if req.UserID != "" && req.UserID != userID {
		return nil, status.Error(codes.PermissionDenied, "user mismatch")
	}

	b, err := s.bundles.Fetch(ctx, userID, req.ProjectIDs)
	if err != nil {
		s.logger.Error(ctx, "fetch failed", "user", userID, "error", err)
		return nil, toStatus(err)
	}

	return &rpc.FetchBundleResponse{Bundle: b}, nil
}

func (s *GRPCServer) UpsertBundle(ctx context.Context, req *rpc.UpsertBundleRequest) (*rpc.UpsertBundleResponse, error) {

	userID, ok := userIDFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Internal, "user id missing from context")
	}

	res, err := s.bundles.Upsert(ctx, userID, req.Bundle)
	if err != nil {
		s.logger.Error(ctx, "upsert failed", "user", userID, "error", err)
		return nil, toStatus(err)
	}

	return &rpc.UpsertBundleResponse{Stored: res.Stored, Skipped: res.Skipped}, nil
}

func tokenResponse(userID, access, refresh string, expiresAt time.Time) *rpc.TokenResponse {
	return &rpc.TokenResponse{
		UserID:       userID,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt.UTC(),
	}
}

// toStatus maps service errors onto gRPC codes. Internal failures are not
// described to the caller.
func toStatus(err error) error {
	switch {
	case errors.Is(err, common.ErrorUnauthorized):
		return status.Error(codes.Unauthenticated, "unauthorized")
	case errors.Is(err, common.ErrRefreshTokenExpired):
		return status.Error(codes.Unauthenticated, common.ErrRefreshTokenExpired.Error())
	case errors.Is(err, common.ErrorValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, common.ErrorAlreadyExists):
		return status.Error(codes.AlreadyExists, "already exists")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
