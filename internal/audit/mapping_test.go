package audit

import "testing"

func TestParseFullMethod(t *testing.T) {
	tests := []struct {
		method   string
		action   string
		resource string
	}{
		{"/lock.v1.OwnerService/GetDevice", "get", "device"},
		{"/lock.v1.OwnerService/ListDevices", "list", "device"},
		{"/lock.v1.OwnerService/DeleteDevice", "delete", "device"},
		{"/lock.v1.OwnerService/GetLockPreference", "get", "lockPreference"},
		{"/lock.v1.OwnerService/IssueLock", "lock_issued", "lock"},
		{"/lock.v1.OwnerService/CreateProvisioning", "provisioned", "device"},
		{"/lock.v1.OwnerService/ReissueProvisioning", "reprovisioned", "device"},
		{"/lock.v1.OwnerService/UpdateSettings", "settings_updated", "device"},
		{"/lock.v1.OwnerService/SetLockPreference", "update", "lockPreference"},
		{"/lock.v1.DeviceService/Enroll", "enrolled", "device"},
		{"/lock.v1.DeviceService/ReportState", "report", "state"},
		{"/lock.v1.DeviceService/GetLockStatus", "get", "lockStatus"},
		{"/lock.v1.AuditService/ListAuditLogs", "list", "auditLog"},
		{"/lock.v1.HealthService/HealthCheck", "healthcheck", "health"},
		{"NoSlash", "unknown", "unknown"},
		{"/Service/Method", "method", "unknown"},
	}
	for _, tt := range tests {
		got := ParseFullMethod(tt.method)
		if got.Action != tt.action || got.Resource != tt.resource {
			t.Errorf("ParseFullMethod(%q) = %+v, want {%s %s}", tt.method, got, tt.action, tt.resource)
		}
	}
}

func TestServiceToResource(t *testing.T) {
	if got := serviceToResource("Service"); got != "unknown" {
		t.Errorf("serviceToResource(Service) = %q", got)
	}
	if got := serviceToResource("OwnerService"); got != "owner" {
		t.Errorf("serviceToResource(OwnerService) = %q", got)
	}
}
