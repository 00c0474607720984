package interceptors

import (
	"context"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"device-lock-control-plane/internal/api/lockv1"
	"device-lock-control-plane/internal/security"
)

func withAuthorization(value string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", value))
}

func TestAuthUnary(t *testing.T) {
	tokens, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	access, _, err := tokens.IssueAccess("owner-1")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	public := map[string]bool{
		lockv1.DeviceService_Enroll_FullMethodName:      true,
		lockv1.HealthService_HealthCheck_FullMethodName: true,
	}
	interceptor := AuthUnary(tokens, public)

	tests := []struct {
		name      string
		ctx       context.Context
		method    string
		wantCode  codes.Code
		wantOwner string
	}{
		{"public without token", context.Background(), lockv1.DeviceService_Enroll_FullMethodName, codes.OK, ""},
		{"public ignores bad token", withAuthorization("Bearer garbage"), lockv1.HealthService_HealthCheck_FullMethodName, codes.OK, ""},
		{"owner without token", context.Background(), lockv1.OwnerService_IssueLock_FullMethodName, codes.Unauthenticated, ""},
		{"owner with valid token", withAuthorization("Bearer " + access), lockv1.OwnerService_IssueLock_FullMethodName, codes.OK, "owner-1"},
		{"owner with bad token", withAuthorization("Bearer invalid-token"), lockv1.OwnerService_IssueLock_FullMethodName, codes.Unauthenticated, ""},
		{"owner with basic auth", withAuthorization("Basic " + access), lockv1.OwnerService_ListDevices_FullMethodName, codes.Unauthenticated, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				called = true
				ownerID, _ := GetOwnerID(ctx)
				if ownerID != tt.wantOwner {
					t.Errorf("owner = %q, want %q", ownerID, tt.wantOwner)
				}
				return "success", nil
			}
			resp, err := interceptor(tt.ctx, "request", &grpc.UnaryServerInfo{FullMethod: tt.method}, handler)
			if status.Code(err) != tt.wantCode {
				t.Fatalf("code = %v, want %v", status.Code(err), tt.wantCode)
			}
			if tt.wantCode == codes.OK && (!called || resp != "success") {
				t.Errorf("handler called = %v, resp = %v", called, resp)
			}
			if tt.wantCode != codes.OK && called {
				t.Error("handler must not run for rejected calls")
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		ctx    context.Context
		want   string
		wantOK bool
	}{
		{"plain", withAuthorization("Bearer token123"), "token123", true},
		{"lower-case scheme", withAuthorization("bearer token123"), "token123", true},
		{"padded", withAuthorization("  Bearer   token123  "), "token123", true},
		{"no metadata", context.Background(), "", false},
		{"other scheme", withAuthorization("Basic token123"), "", false},
		{"scheme only", withAuthorization("Bearer"), "", false},
		{"empty token", withAuthorization("Bearer    "), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := bearerToken(tt.ctx)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("bearerToken = %q, %v, want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
