package cache

import (
	"fmt"

	"github.com/google/uuid"
)

// JobStatusKey names the status mirror entry of a scraping job.
func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:status:%s", jobID)
}

// RateLimitKey names the request counter of one API key for the window
// starting at windowStart (unix seconds).
func RateLimitKey(keyPrefix string, windowStart int64) string {
	return fmt.Sprintf("ratelimit:%s:%d", keyPrefix, windowStart)
}

// ConversationLockKey guards thread resolution and run creation for one job.
func ConversationLockKey(jobID uuid.UUID) string {
	return fmt.Sprintf("lock:conversation:%s", jobID)
}
