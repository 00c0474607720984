package audit

import (
	"strings"

	"device-lock-control-plane/internal/api/lockv1"
	"device-lock-control-plane/internal/audit/domain"
)

// ActionResource holds action and resource derived from a gRPC full method name.
type ActionResource struct {
	Action   string
	Resource string
}

// Methods whose audit entry is more specific than the generic verb mapping.
var methodOverrides = map[string]ActionResource{
	lockv1.OwnerService_CreateProvisioning_FullMethodName:  {Action: domain.ActionProvisioned, Resource: domain.ResourceDevice},
	lockv1.OwnerService_ReissueProvisioning_FullMethodName: {Action: domain.ActionReprovisioned, Resource: domain.ResourceDevice},
	lockv1.OwnerService_IssueLock_FullMethodName:           {Action: domain.ActionLockIssued, Resource: domain.ResourceLock},
	lockv1.OwnerService_UpdateSettings_FullMethodName:      {Action: domain.ActionSettingsUpdated, Resource: domain.ResourceDevice},
	lockv1.OwnerService_SetLockPreference_FullMethodName:   {Action: domain.ActionUpdate, Resource: domain.ResourceLockPreference},
	lockv1.DeviceService_Enroll_FullMethodName:             {Action: domain.ActionEnrolled, Resource: domain.ResourceDevice},
}

// ParseFullMethod returns action and resource for a gRPC full method (e.g. /lock.v1.OwnerService/GetDevice).
// Action is a verb: get, list, create, update, delete, or a lowercase method name for others.
// Resource is derived from the method noun when the service is a facade (OwnerService/GetDevice -> device),
// otherwise from the service name (AuditService -> audit).
func ParseFullMethod(fullMethod string) ActionResource {
	if ar, ok := methodOverrides[fullMethod]; ok {
		return ar
	}
	// fullMethod format: /lock.v1.ServiceName/MethodName
	slash := strings.LastIndex(fullMethod, "/")
	if slash < 0 {
		return ActionResource{Action: "unknown", Resource: "unknown"}
	}
	method := fullMethod[slash+1:]
	beforeSlash := fullMethod[:slash]
	dot := strings.LastIndex(beforeSlash, ".")
	if dot < 0 {
		return ActionResource{Action: strings.ToLower(method), Resource: "unknown"}
	}
	action, noun := splitMethod(method)
	resource := lowerFirst(singular(noun))
	if resource == "" {
		resource = serviceToResource(beforeSlash[dot+1:])
	}
	return ActionResource{Action: action, Resource: resource}
}

func serviceToResource(serviceName string) string {
	s := lowerFirst(strings.TrimSuffix(serviceName, "Service"))
	if s == "" {
		return "unknown"
	}
	return s
}

var verbs = []struct{ prefix, action string }{
	{"Get", "get"},
	{"List", "list"},
	{"Create", "create"},
	{"Update", "update"},
	{"Delete", "delete"},
	{"Set", "update"},
	{"Issue", "issue"},
	{"Report", "report"},
}

// splitMethod splits a method like GetDevice into ("get", "Device").
func splitMethod(method string) (string, string) {
	for _, v := range verbs {
		if strings.HasPrefix(method, v.prefix) && len(method) > len(v.prefix) {
			return v.action, method[len(v.prefix):]
		}
	}
	return strings.ToLower(method), ""
}

func singular(noun string) string {
	if strings.HasSuffix(noun, "us") || strings.HasSuffix(noun, "ss") {
		return noun
	}
	return strings.TrimSuffix(noun, "s")
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
