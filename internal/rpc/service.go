// Package rpc is the gRPC contract between the sync client and the remote
// store. Messages travel as JSON documents inside a protobuf BytesValue, so
// the service descriptor is declared by hand instead of generated.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const ServiceName = "plotkeeper.sync.SyncService"

const (
	MethodRegister     = "/" + ServiceName + "/Register"
	MethodGetSalt      = "/" + ServiceName + "/GetSalt"
	MethodLogin        = "/" + ServiceName + "/Login"
	MethodRefresh      = "/" + ServiceName + "/Refresh"
	MethodPing         = "/" + ServiceName + "/Ping"
	MethodFetchBundle  = "/" + ServiceName + "/FetchBundle"
	MethodUpsertBundle = "/" + ServiceName + "/UpsertBundle"
)

// RequiresAuth reports whether method needs an access token.
func RequiresAuth(method string) bool {
	switch method {
	case MethodFetchBundle, MethodUpsertBundle:
		return true
	}
	return false
}

// Service is implemented by the remote store.
type Service interface {
	Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error)
	GetSalt(ctx context.Context, req *GetSaltRequest) (*GetSaltResponse, error)
	Login(ctx context.Context, req *LoginRequest) (*TokenResponse, error)
	Refresh(ctx context.Context, req *RefreshRequest) (*TokenResponse, error)
	Ping(ctx context.Context, req *PingRequest) (*PingResponse, error)
	FetchBundle(ctx context.Context, req *FetchBundleRequest) (*FetchBundleResponse, error)
	UpsertBundle(ctx context.Context, req *UpsertBundleRequest) (*UpsertBundleResponse, error)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Service)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Register", Handler: unary(MethodRegister, Service.Register)},
		{MethodName: "GetSalt", Handler: unary(MethodGetSalt, Service.GetSalt)},
		{MethodName: "Login", Handler: unary(MethodLogin, Service.Login)},
		{MethodName: "Refresh", Handler: unary(MethodRefresh, Service.Refresh)},
		{MethodName: "Ping", Handler: unary(MethodPing, Service.Ping)},
		{MethodName: "FetchBundle", Handler: unary(MethodFetchBundle, Service.FetchBundle)},
		{MethodName: "UpsertBundle", Handler: unary(MethodUpsertBundle, Service.UpsertBundle)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "plotkeeper/sync.proto",
}

// RegisterService attaches impl to s.
func RegisterService(s grpc.ServiceRegistrar, impl Service) {
	s.RegisterService(&ServiceDesc, impl)
}

func unary[Req, Resp any](fullMethod string, call func(Service, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(wrapperspb.BytesValue)
		if err := dec(in); err != nil {
			return nil, err
		}
		req := new(Req)
		if err := Decode(in, req); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}

		handler := func(ctx context.Context, r any) (any, error) {
			resp, err := call(srv.(Service), ctx, r.(*Req))
			if err != nil {
				return nil, err
			}
			return Encode(resp)
		}
		if interceptor == nil {
			return handler(ctx, req)
		}
		return interceptor(ctx, req, &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}, handler)
	}
}

// Call invokes method on cc with req and decodes the reply.
func Call[Req, Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, req *Req, opts ...grpc.CallOption) (*Resp, error) {
	in, err := Encode(req)
	if err != nil {
		return nil, err
	}
	out := new(wrapperspb.BytesValue)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	resp := new(Resp)
	if err := Decode(out, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func Encode(v any) (*wrapperspb.BytesValue, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return wrapperspb.Bytes(b), nil
}

func Decode(m *wrapperspb.BytesValue, v any) error {
	if len(m.GetValue()) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.GetValue(), v); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return nil
}
