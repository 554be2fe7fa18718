// Package spam implements the per-user rate limits: a sliding one-minute
// message window and a command cooldown.
package spam

import (
	"sync"
	"time"
)

type Limiter struct {
	mu           sync.Mutex
	maxPerMinute int
	cooldown     time.Duration
	messages     map[int64][]time.Time
	lastCommand  map[int64]time.Time
	now          func() time.Time
}

func NewLimiter(maxPerMinute int, cooldown time.Duration) *Limiter {
	if maxPerMinute <= 0 {
		maxPerMinute = 20
	}
	return &Limiter{
		maxPerMinute: maxPerMinute,
		cooldown:     cooldown,
		messages:     make(map[int64][]time.Time),
		lastCommand:  make(map[int64]time.Time),
		now:          time.Now,
	}
}

// AllowMessage records a message attempt and reports whether the user is
// still under the per-minute limit.
func (l *Limiter) AllowMessage(userID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	windowStart := now.Add(-time.Minute)

	recent := l.messages[userID][:0]
	for _, ts := range l.messages[userID] {
		if ts.After(windowStart) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= l.maxPerMinute {
		l.messages[userID] = recent
		return false
	}

	l.messages[userID] = append(recent, now)
	return true
}

// AllowCommand reports whether the cooldown since the user's previous
// command has elapsed, and starts a new one if so.
func (l *Limiter) AllowCommand(userID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if last, ok := l.lastCommand[userID]; ok && now.Before(last.Add(l.cooldown)) {
		return false
	}
	l.lastCommand[userID] = now
	return true
}

// Reset clears tracking for a user.
func (l *Limiter) Reset(userID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.messages, userID)
	delete(l.lastCommand, userID)
}
