// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package grpcauth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/holomush/credkeep/internal/auth"
	"github.com/holomush/credkeep/pkg/errutil"
)

// healthPrefix is the full-method prefix of the standard health service.
const healthPrefix = "/grpc.health.v1.Health/"

// authorizationKey is the metadata key carrying "Bearer <token>".
const authorizationKey = "authorization"

// Authenticator resolves an Authorization value into an identity.
// *auth.Guard satisfies it.
type Authenticator interface {
	Authenticate(ctx context.Context, authorization string) (*auth.Identity, error)
}

// exempt reports whether fullMethod may be called without a token.
func exempt(fullMethod string) bool {
	return strings.HasPrefix(fullMethod, healthPrefix)
}

// authenticate attaches the caller identity to ctx. Guard rejections map to
// Unauthenticated; store failures map to Internal without detail.
func authenticate(ctx context.Context, guard Authenticator, logger *slog.Logger, fullMethod string) (context.Context, error) {
	var header string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(authorizationKey); len(values) > 0 {
			header = values[0]
		}
	}

	id, err := guard.Authenticate(ctx, header)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			return nil, status.Error(codes.Unauthenticated, "unauthorized")
		}
		errutil.LogErrorContext(ctx, logger.With("method", fullMethod), "grpc authentication failed", err)
		return nil, status.Error(codes.Internal, "internal server error")
	}
	return auth.WithIdentity(ctx, id), nil
}

// UnaryInterceptor authenticates every unary call except health checks.
func UnaryInterceptor(guard Authenticator, logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if exempt(info.FullMethod) {
			return handler(ctx, req)
		}
		ctx, err := authenticate(ctx, guard, logger, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamInterceptor authenticates every stream except health watches.
func StreamInterceptor(guard Authenticator, logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if exempt(info.FullMethod) {
			return handler(srv, ss)
		}
		ctx, err := authenticate(ss.Context(), guard, logger, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &identityStream{ServerStream: ss, ctx: ctx})
	}
}

// identityStream overrides Context so handlers see the identity.
type identityStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *identityStream) Context() context.Context {
	return s.ctx
}
