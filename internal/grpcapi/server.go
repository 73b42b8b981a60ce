// Package grpcapi exposes the standard gRPC health service behind the same
// request gate the HTTP layer uses.
package grpcapi

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"warden.dev/internal/auth"
	"warden.dev/internal/obs"
)

// ServiceName is the name reported through the health service.
const ServiceName = "warden.auth"

// Gatekeeper evaluates a bearer token against a requirement.
type Gatekeeper interface {
	Evaluate(ctx context.Context, token string, req auth.Requirement) auth.GateResult
}

// Pinger reports readiness of a backing dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

type methodPolicy struct {
	public  bool
	require auth.Requirement
}

// methodPolicies is the static access table. Methods missing from it require Admin.
var methodPolicies = map[string]methodPolicy{
	"/grpc.health.v1.Health/Check": {public: true},
	"/grpc.health.v1.Health/Watch": {public: true},
	"/grpc.health.v1.Health/List":  {require: auth.RequireRoles(auth.RoleAdmin)},
}

var fallbackPolicy = methodPolicy{require: auth.RequireRoles(auth.RoleAdmin)}

func policyFor(method string) methodPolicy {
	if p, ok := methodPolicies[method]; ok {
		return p
	}
	return fallbackPolicy
}

// Server wraps a grpc.Server with health reporting and auth interceptors.
type Server struct {
	srv    *grpc.Server
	health *health.Server
	gate   Gatekeeper
	ready  Pinger
}

func New(gate Gatekeeper, ready Pinger, opts ...grpc.ServerOption) *Server {
	s := &Server{gate: gate, ready: ready, health: health.NewServer()}
	opts = append(opts,
		grpc.ChainUnaryInterceptor(s.UnaryInterceptor),
		grpc.ChainStreamInterceptor(s.StreamInterceptor),
	)
	s.srv = grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(s.srv, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// GRPC returns the underlying server for additional registrations.
func (s *Server) GRPC() *grpc.Server { return s.srv }

func (s *Server) Serve(lis net.Listener) error { return s.srv.Serve(lis) }

// Probe pings the backing store and publishes the result as health status.
func (s *Server) Probe(ctx context.Context) error {
	var err error
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		err = s.ready.Ping(ctx)
	}
	st := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
	obs.SetReady(err == nil)
	return err
}

// Stop drains in-flight calls until ctx expires, then forces shutdown.
func (s *Server) Stop(ctx context.Context) {
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.srv.Stop()
	}
}

func (s *Server) UnaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	ctx, err := s.authorize(ctx, info.FullMethod)
	if err != nil {
		return nil, err
	}
	return handler(ctx, req)
}

func (s *Server) StreamInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	ctx, err := s.authorize(ss.Context(), info.FullMethod)
	if err != nil {
		return err
	}
	return handler(srv, &authedStream{ServerStream: ss, ctx: ctx})
}

func (s *Server) authorize(ctx context.Context, method string) (context.Context, error) {
	policy := policyFor(method)
	if policy.public {
		return ctx, nil
	}
	res := s.gate.Evaluate(ctx, bearerFromMetadata(ctx), policy.require)
	obs.ObserveGate("grpc", res.State.String())
	if res.State != auth.GateAuthorized {
		obs.Named("grpc").Debug("call denied",
			zap.String("method", method),
			zap.String("state", res.State.String()),
			zap.Error(res.Err))
		return ctx, statusFromError(res.Err)
	}
	return auth.ContextWithIdentity(ctx, res.Identity), nil
}

type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context { return s.ctx }

func bearerFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
			return strings.TrimSpace(v[7:])
		}
	}
	return ""
}

// statusFromError maps the auth error taxonomy onto gRPC codes.
func statusFromError(err error) error {
	msg := func(fallback string) string {
		if m, ok := auth.Message(err); ok {
			return m
		}
		return fallback
	}
	switch {
	case errors.Is(err, auth.ErrInvalidCredential), errors.Is(err, auth.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "Unauthorized")
	case errors.Is(err, auth.ErrForbidden):
		return status.Error(codes.PermissionDenied, "Forbidden resource")
	case errors.Is(err, auth.ErrNotFound):
		return status.Error(codes.NotFound, msg("not found"))
	case errors.Is(err, auth.ErrConflict):
		return status.Error(codes.AlreadyExists, msg("already exists"))
	case errors.Is(err, auth.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, msg("invalid input"))
	default:
		obs.Named("grpc").Error("call failed", zap.Error(err))
		return status.Error(codes.Internal, "Internal server error")
	}
}
