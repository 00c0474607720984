package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/open-policy-agent/opa/v1/rego"
)

const denyQuery = "data.altrii.lock_issuance.deny"

// DefaultLockPolicy is the built-in lock-issuance policy. Custom policies must use the
// same package and produce a deny set of strings.
const DefaultLockPolicy = `package altrii.lock_issuance

deny contains "subscription is not active" if {
	not input.subscription.active
}

deny contains "duration must be positive" if {
	input.request.duration_minutes <= 0
}

deny contains "duration exceeds the maximum lock duration" if {
	input.request.duration_minutes > input.limits.max_minutes
}
`

// OPAEvaluator evaluates lock-issuance policies using OPA Rego.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles module (DefaultLockPolicy when empty) and returns an evaluator.
func NewOPAEvaluator(ctx context.Context, module string) (*OPAEvaluator, error) {
	if module == "" {
		module = DefaultLockPolicy
	}
	pq, err := rego.New(
		rego.Query(denyQuery),
		rego.Module("lock_issuance.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile lock policy: %w", err)
	}
	return &OPAEvaluator{query: pq}, nil
}

// LoadPolicyFile reads a Rego module from path. An empty path returns "".
func LoadPolicyFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read lock policy: %w", err)
	}
	return string(b), nil
}

// HealthCheck evaluates the compiled policy against a request that every sane policy
// allows. Does not touch the database.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	_, err := e.eval(ctx, LockInput{SubscriptionActive: true, DeviceEnrolled: true, DurationMinutes: 1, MaxMinutes: 60})
	return err
}

// EvaluateLock evaluates the lock-issuance policy. Evaluation failures are returned as
// errors; callers must not issue a lock without a decision.
func (e *OPAEvaluator) EvaluateLock(ctx context.Context, in LockInput) (LockDecision, error) {
	reasons, err := e.eval(ctx, in)
	if err != nil {
		return LockDecision{}, err
	}
	return LockDecision{Allowed: len(reasons) == 0, Reasons: reasons}, nil
}

func (e *OPAEvaluator) eval(ctx context.Context, in LockInput) ([]string, error) {
	rs, err := e.query.Eval(ctx, rego.EvalInput(buildInput(in)))
	if err != nil {
		return nil, fmt.Errorf("eval lock policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, errors.New("policy query returned no result")
	}
	set, ok := rs[0].Expressions[0].Value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("policy deny has type %T, want set", rs[0].Expressions[0].Value)
	}
	reasons := make([]string, 0, len(set))
	for _, v := range set {
		s, ok := v.(string)
		if !ok {
			s = fmt.Sprint(v)
		}
		reasons = append(reasons, s)
	}
	sort.Strings(reasons)
	return reasons, nil
}

func buildInput(in LockInput) map[string]interface{} {
	return map[string]interface{}{
		"subscription": map[string]interface{}{
			"active": in.SubscriptionActive,
		},
		"device": map[string]interface{}{
			"enrolled": in.DeviceEnrolled,
		},
		"request": map[string]interface{}{
			"duration_minutes": in.DurationMinutes,
		},
		"limits": map[string]interface{}{
			"max_minutes": in.MaxMinutes,
		},
	}
}
