package domain

import "time"

// Billing statuses mirrored from the payment provider.
const (
	StatusActive   = "ACTIVE"
	StatusTrialing = "TRIALING"
	StatusPastDue  = "PAST_DUE"
	StatusCanceled = "CANCELED"
)

// Subscription is the billing state of an owner. Billing itself is handled elsewhere;
// this service only reads whether the owner may use paid features.
type Subscription struct {
	OwnerID          string
	Status           string
	CurrentPeriodEnd *time.Time
	UpdatedAt        time.Time
}

// Active reports whether the subscription permits provisioning and locking.
// Past-due subscriptions stay usable during the provider's retry window.
func (s *Subscription) Active() bool {
	if s == nil {
		return false
	}
	switch s.Status {
	case StatusActive, StatusTrialing, StatusPastDue:
		return true
	}
	return false
}
