package interceptors

import (
	"context"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"

	"device-lock-control-plane/internal/audit"
	"device-lock-control-plane/internal/audit/domain"
)

// deviceScoped is implemented by requests and responses that name a device.
type deviceScoped interface {
	GetDeviceID() string
}

// AuditUnary records every owner-authenticated RPC not in skipMethods on the trail, failed
// ones included. Device RPCs carry no owner and are recorded by their handlers.
func AuditUnary(trail audit.Recorder, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		if trail == nil || skipMethods[info.FullMethod] {
			return resp, err
		}
		ownerID, _ := GetOwnerID(ctx)
		if ownerID == "" {
			return resp, err
		}
		ar := audit.ParseFullMethod(info.FullMethod)
		ev := domain.Event{OwnerID: ownerID, DeviceID: deviceIDOf(req, resp), Action: ar.Action, Resource: ar.Resource}
		if err != nil {
			ev.Metadata = domain.MetadataFailed
		}
		trail.Record(ctx, ev)
		return resp, err
	}
}

// deviceIDOf prefers the request's device id; provisioning only learns it from the response.
func deviceIDOf(req, resp interface{}) string {
	if d, ok := req.(deviceScoped); ok {
		if id := d.GetDeviceID(); id != "" {
			return id
		}
	}
	if d, ok := resp.(deviceScoped); ok {
		return d.GetDeviceID()
	}
	return ""
}

// ClientIP returns the client IP from gRPC metadata (x-forwarded-for, x-real-ip) or peer, or "unknown".
func ClientIP(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get("x-forwarded-for"); len(vals) > 0 {
			if s := strings.TrimSpace(vals[0]); s != "" {
				if i := strings.Index(s, ","); i > 0 {
					s = strings.TrimSpace(s[:i])
				}
				return s
			}
		}
		if vals := md.Get("x-real-ip"); len(vals) > 0 {
			if s := strings.TrimSpace(vals[0]); s != "" {
				return s
			}
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}
	return "unknown"
}
