// Package grpcserver implements the optional gRPC OTLP receiver of
// SPEC_FULL.md §2: the same Export RPC collectors already speak over
// HTTP, available on a second listener when OTLP_GRPC_ADDR is
// configured. It shares the ingest queue and OTLP mapper with
// internal/handler.OTelHandler — this is additive surface, not a
// replacement for the HTTP OTLP endpoint spec.md §6 requires.
package grpcserver

import (
	"context"
	"net"

	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/xtrace/xtrace/internal/ingest"
	"github.com/xtrace/xtrace/internal/middleware"
	"github.com/xtrace/xtrace/internal/otlp"
	apperrors "github.com/xtrace/xtrace/internal/pkg/errors"
	"github.com/xtrace/xtrace/internal/pkg/logger"
)

// TraceService implements coltracepb.TraceServiceServer. Grounded on
// Majkie-otelguard/backend/internal/api/grpc/otlp_service.go's shape
// (embed UnimplementedTraceServiceServer, read incoming metadata,
// return ExportTraceServiceResponse{}), composed with this service's
// own ingest queue and OTLP mapper rather than a second domain model.
type TraceService struct {
	coltracepb.UnimplementedTraceServiceServer

	queue              *ingest.Queue
	auth               *middleware.Auth
	defaultEnvironment string
}

// NewTraceService builds the gRPC OTLP receiver over the same queue and
// auth boundary the HTTP OTLP handler uses.
func NewTraceService(queue *ingest.Queue, auth *middleware.Auth, defaultEnvironment string) *TraceService {
	return &TraceService{queue: queue, auth: auth, defaultEnvironment: defaultEnvironment}
}

// Export implements the OTLP TraceService Export RPC (spec.md §6,
// extended to gRPC transport by SPEC_FULL.md §2). Authorization is read
// from the "authorization" incoming-metadata key, the gRPC analogue of
// the HTTP header of the same name.
func (s *TraceService) Export(ctx context.Context, req *coltracepb.ExportTraceServiceRequest) (*coltracepb.ExportTraceServiceResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is nil")
	}

	projectID, ok := s.auth.AuthenticateOTLP(ctx, authHeader(ctx))
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "unauthorized")
	}

	for _, item := range otlp.Map(req, projectID, s.defaultEnvironment) {
		if err := s.queue.Offer(item); err != nil {
			return nil, grpcError(err)
		}
	}

	return &coltracepb.ExportTraceServiceResponse{}, nil
}

func authHeader(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func grpcError(err error) error {
	appErr := apperrors.GetAppError(err)
	if appErr == nil {
		return status.Error(codes.Internal, err.Error())
	}
	switch appErr.StatusCode {
	case 429:
		return status.Error(codes.ResourceExhausted, appErr.Message)
	case 503:
		return status.Error(codes.Unavailable, appErr.Message)
	default:
		return status.Error(codes.Internal, appErr.Message)
	}
}

// Server wraps a *grpc.Server bound to one listener, started and
// stopped from cmd/server alongside the HTTP server.
type Server struct {
	grpcServer *grpc.Server
	addr       string
}

// NewServer registers TraceService on a new grpc.Server listening at
// addr.
func NewServer(addr string, svc *TraceService) *Server {
	grpcServer := grpc.NewServer()
	coltracepb.RegisterTraceServiceServer(grpcServer, svc)
	return &Server{grpcServer: grpcServer, addr: addr}
}

// Run blocks serving until Stop is called or the listener fails.
func (s *Server) Run() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	logger.Info("starting gRPC OTLP receiver", zap.String("addr", s.addr))
	return s.grpcServer.Serve(lis)
}

// Stop gracefully stops the gRPC server, letting in-flight RPCs finish.
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}
