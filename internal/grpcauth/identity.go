// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package grpcauth

import (
	"context"

	"github.com/samber/oops"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/holomush/credkeep/internal/auth"
)

const (
	identityServiceName = "credkeep.v1.Identity"
	whoAmIMethod        = "/" + identityServiceName + "/WhoAmI"
)

// IdentityServer answers who the authenticated caller is.
type IdentityServer interface {
	WhoAmI(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error)
}

// identityService reads the identity the interceptors attached to the context.
type identityService struct{}

func (identityService) WhoAmI(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "unauthorized")
	}
	fields := map[string]any{
		"user_id": id.UserID.String(),
		"email":   id.Email,
	}
	if id.User != nil {
		fields["role"] = id.User.Role
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal server error")
	}
	return out, nil
}

func whoAmIHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IdentityServer).WhoAmI(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: whoAmIMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IdentityServer).WhoAmI(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// identityServiceDesc uses well-known message types, so no generated code is
// needed.
var identityServiceDesc = grpc.ServiceDesc{
	ServiceName: identityServiceName,
	HandlerType: (*IdentityServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "WhoAmI",
		Handler:    whoAmIHandler,
	}},
	Metadata: "credkeep/v1/identity",
}

// WhoAmIResult is the caller identity as the server resolved it.
type WhoAmIResult struct {
	UserID string
	Email  string
	Role   string
}

// WhoAmI returns the identity behind the client's access token.
func (c *Client) WhoAmI(ctx context.Context) (WhoAmIResult, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, whoAmIMethod, &emptypb.Empty{}, out); err != nil {
		return WhoAmIResult{}, oops.Code("GRPC_WHOAMI_FAILED").Wrap(err)
	}
	f := out.GetFields()
	return WhoAmIResult{
		UserID: f["user_id"].GetStringValue(),
		Email:  f["email"].GetStringValue(),
		Role:   f["role"].GetStringValue(),
	}, nil
}
