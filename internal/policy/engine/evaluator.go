package engine

import "context"

// LockInput is the document a lock-issuance policy decides on.
type LockInput struct {
	SubscriptionActive bool
	DeviceEnrolled     bool
	DurationMinutes    int
	MaxMinutes         int
}

// LockDecision is the outcome of a lock-issuance policy. Reasons lists every denial;
// Allowed is true only when there are none.
type LockDecision struct {
	Allowed bool
	Reasons []string
}

// Evaluator evaluates lock-issuance policies using OPA or other engines.
type Evaluator interface {
	// EvaluateLock decides whether an owner may issue a lock with the given parameters.
	EvaluateLock(ctx context.Context, in LockInput) (LockDecision, error)
	// HealthCheck reports whether the engine can evaluate its policy.
	HealthCheck(ctx context.Context) error
}
