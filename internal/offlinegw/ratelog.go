package offlinegw

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// rateLimitedLogger drops warnings that arrive within interval of the last
// one it printed, so an offline origin does not flood the log.
type rateLimitedLogger struct {
	mu       sync.Mutex
	lastAt   time.Time
	interval time.Duration
	dropped  int
}

func newRateLimitedLogger(interval time.Duration) *rateLimitedLogger {
	return &rateLimitedLogger{interval: interval}
}

func (l *rateLimitedLogger) Printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if !l.lastAt.IsZero() && now.Sub(l.lastAt) < l.interval {
		l.dropped++
		return
	}
	l.lastAt = now
	entry := logrus.NewEntry(logrus.StandardLogger())
	if l.dropped > 0 {
		entry = entry.WithField("suppressed", l.dropped)
		l.dropped = 0
	}
	entry.Warnf(format, args...)
}
