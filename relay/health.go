package relay

import (
	"math"
	"time"
)

// Kind distinguishes long-lived managed relays from ones opened for a
// bounded discovery or publish task.
type Kind uint8

const (
	// Persistent relays are re-attempted indefinitely and survive bulk
	// cleanup.
	Persistent Kind = iota
	// Temporary relays live until CleanupTemporaryConnections removes
	// them. They are never dropped automatically.
	Temporary
)

func (k Kind) String() string {
	if k == Temporary {
		return "temporary"
	}
	return "persistent"
}

// AuthStatus is the NIP-42 authentication state of one relay.
type AuthStatus uint8

const (
	AuthNotRequired AuthStatus = iota
	AuthRequired
	Authenticating
	Authenticated
	AuthFailed
)

func (s AuthStatus) String() string {
	switch s {
	case AuthRequired:
		return "required"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case AuthFailed:
		return "failed"
	default:
		return "not_required"
	}
}

// Health is the read-only snapshot of one relay's connection record.
type Health struct {
	URL  string
	Kind Kind

	Connected       bool
	LastConnectedAt time.Time
	LastAttemptAt   time.Time

	SuccessCount        int
	FailureCount        int
	ConsecutiveFailures int

	AuthStatus    AuthStatus
	LastAuthAt    time.Time
	LastAuthError string
}

// BackoffConfig parameterizes reconnection delays.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// Delay returns the reconnection delay after the given number of
// consecutive failures: Initial for one failure, then
// min(Max, Initial * 2^(n-2) * Multiplier). It is non-decreasing in n.
func (c BackoffConfig) Delay(consecutiveFailures int) time.Duration {
	if consecutiveFailures <= 0 {
		return 0
	}
	if consecutiveFailures == 1 {
		return c.Initial
	}
	d := float64(c.Initial) * math.Pow(2, float64(consecutiveFailures-2)) * c.Multiplier
	if d > float64(c.Max) || math.IsInf(d, 1) {
		return c.Max
	}
	return time.Duration(d)
}

// record is the mutable connection record behind a Health snapshot. It is
// guarded by the Manager's mutex; the Link it holds is owned exclusively
// by the record.
type record struct {
	Health
	link       Link
	connecting bool
}

func (r *record) snapshot() Health {
	return r.Health
}
