package interceptors

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// AccessValidator validates an owner access token and returns the owner id.
type AccessValidator interface {
	ValidateAccess(token string) (string, error)
}

var (
	errNoCredentials  = status.Error(codes.Unauthenticated, "owner access token required")
	errBadCredentials = status.Error(codes.Unauthenticated, "invalid or expired access token")
)

// AuthUnary puts the owner named by the request's bearer token into the context. Methods
// in public skip the check: device RPCs carry device tokens in their messages, and health
// checks carry nothing.
func AuthUnary(tokens AccessValidator, public map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if public[info.FullMethod] {
			return handler(ctx, req)
		}
		ownerID, err := authenticate(ctx, tokens)
		if err != nil {
			return nil, err
		}
		return handler(WithOwner(ctx, ownerID), req)
	}
}

func authenticate(ctx context.Context, tokens AccessValidator) (string, error) {
	raw, ok := bearerToken(ctx)
	if !ok {
		return "", errNoCredentials
	}
	ownerID, err := tokens.ValidateAccess(raw)
	if err != nil || ownerID == "" {
		return "", errBadCredentials
	}
	return ownerID, nil
}

// bearerToken returns the token of an "authorization: Bearer <token>" header.
func bearerToken(ctx context.Context) (string, bool) {
	vals := metadata.ValueFromIncomingContext(ctx, "authorization")
	if len(vals) == 0 {
		return "", false
	}
	scheme, tok, ok := strings.Cut(strings.TrimSpace(vals[0]), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}
