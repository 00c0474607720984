package lockv1

import (
	"context"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

type fakeHealth struct {
	calls int
}

func (f *fakeHealth) HealthCheck(context.Context, *HealthCheckRequest) (*HealthCheckResponse, error) {
	f.calls++
	return &HealthCheckResponse{Status: ServingStatusServing}, nil
}

func TestCodecRegistered(t *testing.T) {
	c := encoding.GetCodec(CodecName)
	if c == nil {
		t.Fatal("json codec not registered")
	}
	var req GetRuleSetRequest
	if err := c.Unmarshal(nil, &req); err != nil {
		t.Errorf("Unmarshal empty body: %v", err)
	}
	b, err := c.Marshal(&GetRuleSetRequest{DeviceID: "d1", SinceVersion: 3})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if err := c.Unmarshal(b, &req); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if req.DeviceID != "d1" || req.SinceVersion != 3 {
		t.Errorf("decoded %+v", req)
	}
}

func TestUnaryHandler_RunsInterceptor(t *testing.T) {
	srv := &fakeHealth{}
	handler := HealthService_ServiceDesc.Methods[0].Handler
	dec := func(v any) error { return nil }

	var seen string
	interceptor := func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		seen = info.FullMethod
		if _, ok := req.(*HealthCheckRequest); !ok {
			t.Errorf("interceptor got %T", req)
		}
		return next(ctx, req)
	}
	resp, err := handler(srv, context.Background(), dec, interceptor)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if resp.(*HealthCheckResponse).Status != ServingStatusServing {
		t.Errorf("resp = %+v", resp)
	}
	if seen != HealthService_HealthCheck_FullMethodName {
		t.Errorf("FullMethod = %q", seen)
	}

	if _, err := handler(srv, context.Background(), dec, nil); err != nil {
		t.Fatalf("handler without interceptor: %v", err)
	}
	if srv.calls != 2 {
		t.Errorf("calls = %d, want 2", srv.calls)
	}
}

func TestUnimplementedServers(t *testing.T) {
	var s UnimplementedOwnerServiceServer
	_, err := s.IssueLock(context.Background(), &IssueLockRequest{})
	if status.Code(err) != codes.Unimplemented {
		t.Errorf("IssueLock: want Unimplemented, got %v", err)
	}

	var h HealthServiceServer = UnimplementedHealthServiceServer{}
	if _, err := h.HealthCheck(context.Background(), &HealthCheckRequest{}); status.Code(err) != codes.Unimplemented {
		t.Errorf("HealthCheck: want Unimplemented, got %v", err)
	}
}
