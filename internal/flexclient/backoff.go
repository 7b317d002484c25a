package flexclient

import (
	"math"
	"math/rand"
	"time"
)

// RetryConfig tunes the poll retry schedule. All fields are
// configuration-tunable per spec §4.2, so tests can make the schedule
// deterministic by fixing Rand.
type RetryConfig struct {
	InitialWait         time.Duration
	Attempts            int
	BackoffBase         time.Duration
	BackoffMax          time.Duration
	JitterMinMultiplier float64
	JitterMaxMultiplier float64

	// Rand is the source of jitter. If nil, each delay draws from a fresh
	// rand.Rand seeded from the current time; tests inject a fixed-sequence
	// Rand to make delays deterministic.
	Rand *rand.Rand
}

func (c RetryConfig) rng() *rand.Rand {
	if c.Rand != nil {
		return c.Rand
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// delayForAttempt computes the backoff delay before attempt (0-indexed),
// given the error code that triggered the retry. Delay =
// max(floor_for_code, clamp(base*2^attempt, 0, max)) * U(jitter_min, jitter_max),
// per spec §4.2.
func (c RetryConfig) delayForAttempt(attempt int, code ErrorCode) time.Duration {
	exp := float64(c.BackoffBase) * math.Pow(2, float64(attempt))
	if exp > float64(c.BackoffMax) {
		exp = float64(c.BackoffMax)
	}
	if exp < 0 {
		exp = 0
	}

	floorSeconds := RetryFloorSeconds(code)
	floor := time.Duration(floorSeconds * float64(time.Second))
	base := exp
	if float64(floor) > base {
		base = float64(floor)
	}

	jitterMin, jitterMax := c.JitterMinMultiplier, c.JitterMaxMultiplier
	if jitterMax <= jitterMin {
		jitterMax = jitterMin
	}
	multiplier := jitterMin + c.rng().Float64()*(jitterMax-jitterMin)

	return time.Duration(base * multiplier)
}
