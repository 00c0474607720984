package handler

import (
	"context"
	"errors"
	"testing"

	"device-lock-control-plane/internal/api/lockv1"
)

// mockPinger implements Pinger for tests.
type mockPinger struct {
	pingErr error
}

func (m *mockPinger) PingContext(context.Context) error {
	return m.pingErr
}

// mockPolicyChecker implements PolicyChecker for tests.
type mockPolicyChecker struct {
	healthErr error
}

func (m *mockPolicyChecker) HealthCheck(context.Context) error {
	return m.healthErr
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name   string
		db     Pinger
		policy PolicyChecker
		want   lockv1.ServingStatus
	}{
		{"no dependencies", nil, nil, lockv1.ServingStatusServing},
		{"healthy", &mockPinger{}, &mockPolicyChecker{}, lockv1.ServingStatusServing},
		{"database down", &mockPinger{pingErr: errors.New("connection refused")}, &mockPolicyChecker{}, lockv1.ServingStatusNotServing},
		{"policy broken", &mockPinger{}, &mockPolicyChecker{healthErr: errors.New("eval failed")}, lockv1.ServingStatusNotServing},
		{"policy only", nil, &mockPolicyChecker{}, lockv1.ServingStatusServing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(tt.db, tt.policy, nil)
			resp, err := srv.HealthCheck(context.Background(), &lockv1.HealthCheckRequest{})
			if err != nil {
				t.Fatalf("HealthCheck: %v", err)
			}
			if resp.Status != tt.want {
				t.Errorf("status = %v, want %v", resp.Status, tt.want)
			}
		})
	}
}
