// Package grpcserver exposes live books over gRPC. Every query is answered
// by the book's own actor, so a reply reflects all operations routed
// before it.
package grpcserver

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"matchbook/domain/orderbook"
	"matchbook/service"
)

// Books is the part of the registry the server reads.
type Books interface {
	Snapshot(ctx context.Context, id string) (orderbook.Snapshot, bool, error)
	Stats(ctx context.Context) ([]service.BookStats, error)
}

type Server struct {
	books Books
	log   *zap.Logger
}

func NewServer(books Books, log *zap.Logger) *Server {
	return &Server{books: books, log: log.Named("grpc")}
}

// NewGRPCServer builds a grpc.Server with the query service registered.
func NewGRPCServer(books Books, log *zap.Logger, opts ...grpc.ServerOption) *grpc.Server {
	srv := NewServer(books, log)
	opts = append(opts, grpc.ChainUnaryInterceptor(srv.logCalls))
	g := grpc.NewServer(opts...)
	RegisterBookQueryServer(g, srv)
	return g
}

func (s *Server) GetBook(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	id := req.GetValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "book id required")
	}
	snap, ok, err := s.books.Snapshot(ctx, id)
	if err != nil {
		return nil, status.FromContextError(err).Err()
	}
	if !ok {
		return nil, status.Errorf(codes.NotFound, "book %q not found", id)
	}
	out, err := structpb.NewStruct(bookFields(snap))
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *Server) ListBooks(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	stats, err := s.books.Stats(ctx)
	if err != nil {
		return nil, status.FromContextError(err).Err()
	}

	books := make([]any, 0, len(stats))
	for _, st := range stats {
		books = append(books, map[string]any{
			"id":       st.Snapshot.BookID,
			"state":    st.State.String(),
			"applied":  st.Applied,
			"rejected": st.Rejected,
			"buys":     len(st.Snapshot.Buys),
			"sells":    len(st.Snapshot.Sells),
		})
	}
	out, err := structpb.NewStruct(map[string]any{"books": books})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func bookFields(s orderbook.Snapshot) map[string]any {
	return map[string]any{
		"book":  s.BookID,
		"buys":  entryList(s.Buys),
		"sells": entryList(s.Sells),
	}
}

func entryList(entries []orderbook.Entry) []any {
	out := make([]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"id":      e.ID,
			"price":   e.Price.String(),
			"volume":  e.Volume,
			"arrival": e.Arrival,
		})
	}
	return out
}

func (s *Server) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.log.Debug("call",
		zap.String("method", info.FullMethod),
		zap.Duration("took", time.Since(start)),
		zap.String("code", status.Code(err).String()),
	)
	return resp, err
}
