package offramp

import (
	"log"
	"sync"
	"time"
)

// rateLimitedLogger drops repeats within the interval. Used on hot paths
// (cache-layer failures) where every request would otherwise log the same
// storage error.
type rateLimitedLogger struct {
	mu       sync.Mutex
	prefix   string
	lastAt   time.Time
	interval time.Duration
}

func newRateLimitedLogger(prefix string, interval time.Duration) *rateLimitedLogger {
	return &rateLimitedLogger{prefix: prefix, interval: interval}
}

func (l *rateLimitedLogger) Printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if !l.lastAt.IsZero() && now.Sub(l.lastAt) < l.interval {
		return
	}
	l.lastAt = now
	log.Printf(l.prefix+": "+format, args...)
}
