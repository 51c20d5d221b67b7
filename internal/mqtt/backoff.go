package mqtt

import "time"

// backoffDelay computes the reconnect delay for the given attempt:
// the initial delay doubles each attempt and is capped at max.
// Attempt 0 returns initial.
func backoffDelay(attempt int, initial, max time.Duration) time.Duration {
	delay := initial
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
