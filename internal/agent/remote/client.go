// Package remote is the agent's client for the control plane DeviceService.
package remote

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"device-lock-control-plane/internal/api/lockv1"
	rsdomain "device-lock-control-plane/internal/ruleset/domain"
)

// DefaultCallTimeout bounds a single DeviceService call.
const DefaultCallTimeout = 15 * time.Second

// LockStatus is the server's latest lock for the device. Token is empty when no lock
// was ever issued.
type LockStatus struct {
	Token          string
	LockUntil      time.Time
	RuleSetVersion int64
}

// Report is the state mirror sent to the server after each sync.
type Report struct {
	DeviceID         string
	InstallationID   string
	State            string
	LockUntil        time.Time
	RuleSetVersion   int64
	EngagedBackends  []string
	EnforcementError string
	SyncedAt         time.Time
}

// Client wraps a lockv1.DeviceServiceClient with domain types and per-call timeouts.
type Client struct {
	rpc     lockv1.DeviceServiceClient
	conn    *grpc.ClientConn
	timeout time.Duration
}

// New returns a Client over an existing DeviceService client.
func New(rpc lockv1.DeviceServiceClient) *Client {
	return &Client{rpc: rpc, timeout: DefaultCallTimeout}
}

// Dial connects to the control plane at addr. The connection is established lazily on
// the first call.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	if addr == "" {
		return nil, errors.New("remote: server address is required")
	}
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	c := New(lockv1.NewDeviceServiceClient(conn))
	c.conn = conn
	return c, nil
}

// Close releases the connection opened by Dial.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Enroll presents the provisioning token and returns the device id the server bound
// to this installation.
func (c *Client) Enroll(ctx context.Context, provisionToken, installationID string, capabilities []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resp, err := c.rpc.Enroll(ctx, &lockv1.EnrollRequest{
		Token:          provisionToken,
		InstallationID: installationID,
		Capabilities:   capabilities,
	})
	if err != nil {
		return "", err
	}
	return resp.DeviceID, nil
}

func (c *Client) LockStatus(ctx context.Context, deviceID, installationID string) (LockStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resp, err := c.rpc.GetLockStatus(ctx, &lockv1.GetLockStatusRequest{DeviceID: deviceID, InstallationID: installationID})
	if err != nil {
		return LockStatus{}, err
	}
	out := LockStatus{Token: resp.Token, RuleSetVersion: resp.RuleSetVersion}
	if resp.LockUntil != nil {
		out.LockUntil = resp.LockUntil.UTC()
	}
	return out, nil
}

// RuleSet returns the device's RuleSet when it is newer than since, or nil when unchanged.
func (c *Client) RuleSet(ctx context.Context, deviceID, installationID string, since int64) (*rsdomain.RuleSet, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resp, err := c.rpc.GetRuleSet(ctx, &lockv1.GetRuleSetRequest{
		DeviceID:       deviceID,
		InstallationID: installationID,
		SinceVersion:   since,
	})
	if err != nil {
		return nil, err
	}
	if !resp.Changed || resp.RuleSet == nil {
		return nil, nil
	}
	return ruleSetFromAPI(resp.RuleSet), nil
}

func (c *Client) ReportState(ctx context.Context, r Report) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req := &lockv1.ReportStateRequest{
		DeviceID:        r.DeviceID,
		InstallationID:  r.InstallationID,
		State:           r.State,
		RuleSetVersion:  r.RuleSetVersion,
		EngagedBackends: r.EngagedBackends,
		EnforcementErr:  r.EnforcementError,
		SyncedAt:        r.SyncedAt.UTC(),
	}
	if !r.LockUntil.IsZero() {
		until := r.LockUntil.UTC()
		req.LockUntil = &until
	}
	_, err := c.rpc.ReportState(ctx, req)
	return err
}

func ruleSetFromAPI(rs *lockv1.RuleSet) *rsdomain.RuleSet {
	cats := make(map[string]bool, len(rs.Categories))
	for k, v := range rs.Categories {
		cats[k] = v
	}
	return &rsdomain.RuleSet{
		DeviceID:       rs.DeviceID,
		Version:        rs.Version,
		Categories:     cats,
		BlockedDomains: append([]string(nil), rs.BlockedDomains...),
		Policy:         rsdomain.Policy{DefaultUnknownSNI: rs.Policy.DefaultUnknownSNI},
		GeneratedAt:    rs.GeneratedAt.UTC(),
	}
}
