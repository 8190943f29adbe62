package engine

import "time"

// Backoff returns the capped exponential delay before the given retry
// (1-based). It is a pure function of the persisted retry count so the
// schedule survives a process restart.
func Backoff(base, cap time.Duration, retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	if retry > 32 {
		return cap
	}
	d := base << uint(retry-1)
	if d <= 0 || d > cap {
		return cap
	}
	return d
}
