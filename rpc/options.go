package rpc

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// MaxMsgSize is the largest message the services accept,
// given the block size of the nodes involved.
// A clone page may exceed one block by up to one more block.
func MaxMsgSize(blockSize int) int {
	return 2*blockSize + 1<<20
}

// DialOptions are the options a client needs to talk to the services in this module.
// Callers may append their own, e.g. transport credentials or a custom dialer.
func DialOptions(blockSize int) []grpc.DialOption {
	limit := MaxMsgSize(blockSize)
	return []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(CodecName),
			grpc.MaxCallRecvMsgSize(limit),
			grpc.MaxCallSendMsgSize(limit),
		),
	}
}

// ServerOptions are the options for a gRPC server hosting the services in this module.
// Every call's context carries logger,
// and every call is logged when it finishes.
func ServerOptions(logger zerolog.Logger, blockSize int) []grpc.ServerOption {
	limit := MaxMsgSize(blockSize)
	return []grpc.ServerOption{
		grpc.MaxRecvMsgSize(limit),
		grpc.MaxSendMsgSize(limit),
		grpc.ChainUnaryInterceptor(unaryLogger(logger)),
		grpc.ChainStreamInterceptor(streamLogger(logger)),
	}
}

func unaryLogger(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		log := logger.With().Str("method", info.FullMethod).Logger()
		resp, err := handler(log.WithContext(ctx), req)
		logDone(log, start, err)
		return resp, err
	}
}

func streamLogger(logger zerolog.Logger) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		log := logger.With().Str("method", info.FullMethod).Logger()
		err := handler(srv, loggingStream{ServerStream: ss, ctx: log.WithContext(ss.Context())})
		logDone(log, start, err)
		return err
	}
}

func logDone(log zerolog.Logger, start time.Time, err error) {
	elapsed := time.Since(start)
	if err != nil {
		log.Warn().Err(err).Dur("elapsed", elapsed).Msg("call failed")
		return
	}
	log.Debug().Dur("elapsed", elapsed).Msg("call done")
}

type loggingStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s loggingStream) Context() context.Context {
	return s.ctx
}
