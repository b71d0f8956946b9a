// Package retry implements the pure backoff schedule the Dispatcher
// consults when a provider verdict is retryable.
package retry

import "time"

// schedule is pinned by spec.md §4.6 / §9: fast retry for true
// transients, aggressive spacing thereafter so a provider outage isn't
// hammered.
var schedule = []time.Duration{
	1 * time.Second,
	5 * time.Second,
	30 * time.Second,
	300 * time.Second,
	1800 * time.Second,
}

// Backoff returns the delay to wait before the next attempt, given the
// attempt count *after* the failure that just occurred. Indexed by
// min(attemptsAfterFailure-1, len(schedule)-1), clamping to the last
// entry for any attempt beyond the schedule's length. Pure function:
// same input always yields same output.
func Backoff(attemptsAfterFailure int) time.Duration {
	idx := attemptsAfterFailure - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	return schedule[idx]
}

// NextAttemptAt returns now advanced by the backoff for
// attemptsAfterFailure.
func NextAttemptAt(now time.Time, attemptsAfterFailure int) time.Time {
	return now.Add(Backoff(attemptsAfterFailure))
}
