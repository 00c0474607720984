package interceptors

import (
	"context"
	"errors"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"

	"device-lock-control-plane/internal/api/lockv1"
	"device-lock-control-plane/internal/audit/domain"
)

type recordingTrail struct {
	calls []domain.Event
}

func (r *recordingTrail) Record(ctx context.Context, ev domain.Event) {
	r.calls = append(r.calls, ev)
}

func okHandler(resp interface{}) grpc.UnaryHandler {
	return func(ctx context.Context, req interface{}) (interface{}, error) { return resp, nil }
}

func TestAuditUnary_SkipMethod(t *testing.T) {
	trail := &recordingTrail{}
	interceptor := AuditUnary(trail, map[string]bool{lockv1.HealthService_HealthCheck_FullMethodName: true})
	ctx := WithOwner(context.Background(), "owner-1")
	resp, err := interceptor(ctx, &lockv1.HealthCheckRequest{}, &grpc.UnaryServerInfo{FullMethod: lockv1.HealthService_HealthCheck_FullMethodName}, okHandler("success"))
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if resp != "success" {
		t.Errorf("response = %v, want success", resp)
	}
	if len(trail.calls) != 0 {
		t.Errorf("audit calls = %d, want 0", len(trail.calls))
	}
}

func TestAuditUnary_OwnerRequestWithDevice(t *testing.T) {
	trail := &recordingTrail{}
	interceptor := AuditUnary(trail, nil)
	ctx := WithOwner(context.Background(), "owner-1")
	req := &lockv1.IssueLockRequest{DeviceID: "dev-1", DurationMinutes: 30}
	if _, err := interceptor(ctx, req, &grpc.UnaryServerInfo{FullMethod: lockv1.OwnerService_IssueLock_FullMethodName}, okHandler(&lockv1.IssueLockResponse{})); err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if len(trail.calls) != 1 {
		t.Fatalf("audit calls = %d, want 1", len(trail.calls))
	}
	got := trail.calls[0]
	want := domain.Event{OwnerID: "owner-1", DeviceID: "dev-1", Action: domain.ActionLockIssued, Resource: domain.ResourceLock}
	if got != want {
		t.Errorf("call = %+v, want %+v", got, want)
	}
}

func TestAuditUnary_DeviceIDFromResponse(t *testing.T) {
	trail := &recordingTrail{}
	interceptor := AuditUnary(trail, nil)
	ctx := WithOwner(context.Background(), "owner-1")
	resp := &lockv1.CreateProvisioningResponse{DeviceID: "dev-new"}
	if _, err := interceptor(ctx, &lockv1.CreateProvisioningRequest{Name: "tablet"}, &grpc.UnaryServerInfo{FullMethod: lockv1.OwnerService_CreateProvisioning_FullMethodName}, okHandler(resp)); err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if len(trail.calls) != 1 || trail.calls[0].DeviceID != "dev-new" || trail.calls[0].Action != domain.ActionProvisioned {
		t.Errorf("calls = %+v", trail.calls)
	}
}

func TestAuditUnary_NoOwnerNotAudited(t *testing.T) {
	trail := &recordingTrail{}
	interceptor := AuditUnary(trail, nil)
	req := &lockv1.GetLockStatusRequest{DeviceID: "dev-1"}
	if _, err := interceptor(context.Background(), req, &grpc.UnaryServerInfo{FullMethod: lockv1.DeviceService_GetLockStatus_FullMethodName}, okHandler(nil)); err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if len(trail.calls) != 0 {
		t.Errorf("audit calls = %d, want 0", len(trail.calls))
	}
}

func TestAuditUnary_HandlerError(t *testing.T) {
	trail := &recordingTrail{}
	interceptor := AuditUnary(trail, nil)
	ctx := WithOwner(context.Background(), "owner-1")
	handlerErr := errors.New("handler failed")
	_, err := interceptor(ctx, &lockv1.DeleteDeviceRequest{DeviceID: "dev-1"}, &grpc.UnaryServerInfo{FullMethod: lockv1.OwnerService_DeleteDevice_FullMethodName},
		func(ctx context.Context, req interface{}) (interface{}, error) { return nil, handlerErr })
	if !errors.Is(err, handlerErr) {
		t.Fatalf("err = %v, want handler error", err)
	}
	if len(trail.calls) != 1 {
		t.Fatalf("audit calls = %d, want 1", len(trail.calls))
	}
	if c := trail.calls[0]; c.Action != "delete" || c.Resource != domain.ResourceDevice || c.Metadata != domain.MetadataFailed {
		t.Errorf("call = %+v", c)
	}
}

func TestAuditUnary_NilLogger(t *testing.T) {
	interceptor := AuditUnary(nil, nil)
	ctx := WithOwner(context.Background(), "owner-1")
	if _, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: lockv1.OwnerService_ListDevices_FullMethodName}, okHandler(nil)); err != nil {
		t.Fatalf("interceptor: %v", err)
	}
}

func TestClientIP_XForwardedFor(t *testing.T) {
	md := metadata.New(map[string]string{"x-forwarded-for": "192.168.1.1"})
	ctx := metadata.NewIncomingContext(context.Background(), md)
	if ip := ClientIP(ctx); ip != "192.168.1.1" {
		t.Errorf("ClientIP = %q, want %q", ip, "192.168.1.1")
	}
}

func TestClientIP_XForwardedFor_WithComma(t *testing.T) {
	md := metadata.New(map[string]string{"x-forwarded-for": "192.168.1.1, 10.0.0.1"})
	ctx := metadata.NewIncomingContext(context.Background(), md)
	if ip := ClientIP(ctx); ip != "192.168.1.1" {
		t.Errorf("ClientIP = %q, want %q", ip, "192.168.1.1")
	}
}

func TestClientIP_XRealIP(t *testing.T) {
	md := metadata.New(map[string]string{"x-real-ip": "10.0.0.1"})
	ctx := metadata.NewIncomingContext(context.Background(), md)
	if ip := ClientIP(ctx); ip != "10.0.0.1" {
		t.Errorf("ClientIP = %q, want %q", ip, "10.0.0.1")
	}
}

func TestClientIP_XForwardedFor_Precedence(t *testing.T) {
	md := metadata.New(map[string]string{"x-forwarded-for": "192.168.1.1", "x-real-ip": "10.0.0.1"})
	ctx := metadata.NewIncomingContext(context.Background(), md)
	if ip := ClientIP(ctx); ip != "192.168.1.1" {
		t.Errorf("ClientIP = %q, want %q", ip, "192.168.1.1")
	}
}

func TestClientIP_PeerAddress(t *testing.T) {
	addr, _ := net.ResolveTCPAddr("tcp", "127.0.0.1:12345")
	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: addr})
	if ip := ClientIP(ctx); ip != "127.0.0.1" {
		t.Errorf("ClientIP = %q, want %q", ip, "127.0.0.1")
	}
}

func TestClientIP_Unknown(t *testing.T) {
	if ip := ClientIP(context.Background()); ip != "unknown" {
		t.Errorf("ClientIP = %q, want %q", ip, "unknown")
	}
}

func TestClientIP_Whitespace(t *testing.T) {
	md := metadata.New(map[string]string{"x-forwarded-for": "  192.168.1.1  "})
	ctx := metadata.NewIncomingContext(context.Background(), md)
	if ip := ClientIP(ctx); ip != "192.168.1.1" {
		t.Errorf("ClientIP = %q, want %q", ip, "192.168.1.1")
	}
}
