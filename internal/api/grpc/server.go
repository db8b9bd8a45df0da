// Package grpc provides the gRPC API for hestia records.
package grpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	herrors "github.com/pegacorn/hestia/internal/errors"
	"github.com/pegacorn/hestia/internal/query"
	"github.com/pegacorn/hestia/internal/repository"
	"github.com/pegacorn/hestia/pkg/types"
)

// RecordServer implements RecordServiceServer over a repository set.
type RecordServer struct {
	repos *repository.Set
}

// NewRecordServer creates a new gRPC record server.
func NewRecordServer(repos *repository.Set) *RecordServer {
	return &RecordServer{repos: repos}
}

// Read returns the stored body of one record.
func (s *RecordServer) Read(ctx context.Context, req *ReadRequest) (*ReadResponse, error) {
	repo, err := s.repos.Lookup(req.Kind)
	if err != nil {
		return nil, toStatus(err)
	}
	body, err := repo.Read(ctx, req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ReadResponse{Body: json.RawMessage(body)}, nil
}

// Search streams every matching body. Results are sent as the store yields
// them, so a client that stops reading stops the scan.
func (s *RecordServer) Search(req *SearchRequest, stream grpc.ServerStreamingServer[SearchResponse]) error {
	repo, err := s.repos.Lookup(req.Kind)
	if err != nil {
		return toStatus(err)
	}
	seq, err := repo.Search(stream.Context(), query.Params(req.Params))
	if err != nil {
		return toStatus(err)
	}
	for body, err := range seq {
		if err != nil {
			return toStatus(err)
		}
		if err := stream.Send(&SearchResponse{Body: json.RawMessage(body)}); err != nil {
			return err
		}
	}
	return nil
}

// Create writes one record, generating an id when the body has none.
func (s *RecordServer) Create(ctx context.Context, req *CreateRequest) (*CreateResponse, error) {
	repo, err := s.repos.Lookup(req.Kind)
	if err != nil {
		return nil, toStatus(err)
	}
	if len(req.Body) == 0 {
		return nil, status.Error(codes.InvalidArgument, "body is required")
	}
	rec, err := types.NewRecord(repo.Kind(), req.Body)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid record: %v", err)
	}
	outcome, err := repo.Create(ctx, rec)
	if err != nil {
		return nil, toStatus(err)
	}
	return &CreateResponse{Outcome: outcome}, nil
}

// NewServer builds a gRPC server with the record service and the standard
// health service registered. The returned health server reports the record
// service as serving; callers flip it on shutdown.
func NewServer(repos *repository.Set, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(unaryLogging),
		grpc.ChainStreamInterceptor(streamLogging),
	}, opts...)
	srv := grpc.NewServer(opts...)
	RegisterRecordServiceServer(srv, NewRecordServer(repos))

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}

// toStatus maps an error to a gRPC status.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	code := codes.Internal
	switch {
	case herrors.IsNotFound(err):
		code = codes.NotFound
	case herrors.IsInvalidParameter(err):
		code = codes.InvalidArgument
	case herrors.IsUnsupported(err):
		code = codes.Unimplemented
	case herrors.IsConnectivity(err):
		code = codes.Unavailable
	}
	return status.Error(code, err.Error())
}

func unaryLogging(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	logCall(ctx, info.FullMethod, start, err)
	return resp, err
}

func streamLogging(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now()
	err := handler(srv, ss)
	logCall(ss.Context(), info.FullMethod, start, err)
	return err
}

func logCall(ctx context.Context, method string, start time.Time, err error) {
	code := status.Code(err)
	level := slog.LevelDebug
	switch code {
	case codes.OK, codes.NotFound, codes.InvalidArgument, codes.Unimplemented:
	default:
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "rpc completed",
		"component", "grpc",
		"method", method,
		"code", code.String(),
		"latency_ms", time.Since(start).Milliseconds(),
		"request_id", extractRequestID(ctx),
	)
}

// extractRequestID extracts or generates a request ID from the gRPC context.
func extractRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get("x-request-id"); len(ids) > 0 {
			return ids[0]
		}
	}
	return uuid.New().String()
}
