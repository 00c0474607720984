package enforce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const defaultHookTimeout = 30 * time.Second

// runner executes a hook program with stdin.
type runner func(ctx context.Context, name string, args []string, stdin []byte) error

// CommandBackend delegates a capability to an OS hook program. The program is invoked
// with a trailing "engage" or "disengage" argument and receives the policy as JSON on stdin.
type CommandBackend struct {
	capability Capability
	argv       []string
	timeout    time.Duration
	run        runner
	lookPath   func(string) (string, error)
}

// NewCommandBackend returns a backend for capability that runs command, split on spaces.
// An empty command yields a backend that is never available.
func NewCommandBackend(capability Capability, command string) *CommandBackend {
	return &CommandBackend{
		capability: capability,
		argv:       strings.Fields(command),
		timeout:    defaultHookTimeout,
		run:        execRun,
		lookPath:   exec.LookPath,
	}
}

func (b *CommandBackend) Capability() Capability { return b.capability }

func (b *CommandBackend) Available() bool {
	if len(b.argv) == 0 {
		return false
	}
	_, err := b.lookPath(b.argv[0])
	return err == nil
}

type hookPayload struct {
	Action         string          `json:"action"`
	LockUntil      *time.Time      `json:"lockUntil,omitempty"`
	RuleSetVersion int64           `json:"ruleSetVersion,omitempty"`
	Categories     map[string]bool `json:"categories,omitempty"`
	BlockedDomains []string        `json:"blockedDomains,omitempty"`
}

func (b *CommandBackend) Engage(ctx context.Context, p Policy) error {
	payload := hookPayload{Action: "engage", LockUntil: &p.LockUntil}
	if p.RuleSet != nil {
		payload.RuleSetVersion = p.RuleSet.Version
		payload.Categories = p.RuleSet.Categories
		payload.BlockedDomains = p.RuleSet.BlockedDomains
	}
	return b.invoke(ctx, payload)
}

func (b *CommandBackend) Disengage(ctx context.Context) error {
	return b.invoke(ctx, hookPayload{Action: "disengage"})
}

func (b *CommandBackend) invoke(ctx context.Context, payload hookPayload) error {
	if len(b.argv) == 0 {
		return errors.New("no hook command configured")
	}
	stdin, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode hook payload: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	args := append(append([]string(nil), b.argv[1:]...), payload.Action)
	return b.run(ctx, b.argv[0], args, stdin)
}

func execRun(ctx context.Context, name string, args []string, stdin []byte) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			return fmt.Errorf("%s %s: %w", name, args[len(args)-1], err)
		}
		return fmt.Errorf("%s %s: %w: %s", name, args[len(args)-1], err, msg)
	}
	return nil
}
