package grpcserver

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"hybridbook/pkg/logger"
)

const requestIDKey = "x-request-id"

// LoggingInterceptor tags the context with a request id and logs every call.
func LoggingInterceptor(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		id := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get(requestIDKey); len(v) > 0 {
				id = v[0]
			}
		}
		if id == "" {
			id = ulid.Make().String()
		}
		ctx = logger.WithRequestID(ctx, id)

		start := time.Now()
		resp, err := handler(ctx, req)
		log.InfoContext(ctx, "grpc call",
			logger.NewField("method", info.FullMethod),
			logger.NewField("code", status.Code(err).String()),
			logger.NewField("duration", time.Since(start)),
		)
		return resp, err
	}
}

// NewGRPCServer builds a server with the exchange service registered.
func NewGRPCServer(srv ExchangeServer, log *logger.Logger, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(LoggingInterceptor(log)))
	s := grpc.NewServer(opts...)
	Register(s, srv)
	return s
}
