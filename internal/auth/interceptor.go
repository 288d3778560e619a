// ABOUTME: gRPC interceptors that require an operator bearer token
// ABOUTME: Extracts the token from metadata and stores the operator in the handler context

package auth

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// logAuthFailure logs an authentication failure with the peer address.
func logAuthFailure(ctx context.Context, logger *slog.Logger, reason string, attrs ...any) {
	if logger == nil {
		return
	}
	base := []any{"reason", reason}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		base = append(base, "peer_addr", p.Addr.String())
	}
	logger.Warn("auth failure", append(base, attrs...)...)
}

// UnaryInterceptor rejects unary calls without a valid bearer token.
func UnaryInterceptor(tokens TokenVerifier, logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		op, err := authenticate(ctx, tokens, logger, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(WithOperator(ctx, op), req)
	}
}

// StreamInterceptor rejects streams without a valid bearer token.
func StreamInterceptor(tokens TokenVerifier, logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		op, err := authenticate(ss.Context(), tokens, logger, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{
			ServerStream: ss,
			ctx:          WithOperator(ss.Context(), op),
		})
	}
}

func authenticate(ctx context.Context, tokens TokenVerifier, logger *slog.Logger, method string) (*Operator, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		logAuthFailure(ctx, logger, "missing metadata", "method", method)
		return nil, status.Error(codes.Unauthenticated, "missing metadata")
	}

	values := md.Get("authorization")
	if len(values) == 0 {
		logAuthFailure(ctx, logger, "missing authorization", "method", method)
		return nil, status.Error(codes.Unauthenticated, "missing authorization header")
	}

	token, problem := extractBearerToken(values[0])
	if problem != "" {
		logAuthFailure(ctx, logger, problem, "method", method)
		return nil, status.Error(codes.Unauthenticated, problem)
	}

	subject, err := tokens.Verify(token)
	if err != nil {
		logAuthFailure(ctx, logger, "token rejected", "method", method, "error", err)
		if errors.Is(err, ErrExpiredToken) {
			return nil, status.Error(codes.Unauthenticated, "token expired")
		}
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}
	return &Operator{Subject: subject}, nil
}

// wrappedServerStream overrides the stream context.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
