package canvas

import "time"

// cooldownWait returns how long a user whose last accepted write (or
// issuance) was at lastWriteAt still has to wait at now. Zero means a
// write is allowed: elapsed == cooldown is accepted.
func cooldownWait(lastWriteAt, now time.Time, cooldown time.Duration) time.Duration {
	elapsed := now.Sub(lastWriteAt)
	if elapsed >= cooldown {
		return 0
	}
	return cooldown - elapsed
}
