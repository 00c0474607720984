package domain

// DefaultLockMinutes is the lock duration used when an owner has not chosen one.
const DefaultLockMinutes = 60

// LockPreference is an owner's preferred lock duration.
type LockPreference struct {
	OwnerID string
	Minutes int
}

// ClampMinutes bounds m to 1..max. A non-positive m yields DefaultLockMinutes (itself bounded by max).
func ClampMinutes(m, max int) int {
	if m <= 0 {
		m = DefaultLockMinutes
	}
	if max > 0 && m > max {
		m = max
	}
	if m < 1 {
		m = 1
	}
	return m
}
