package evaluator

import (
	"sync"
	"time"
)

const (
	minInterval = 10 * time.Second
	slotTTL     = 20 * time.Second
)

// KeyedLimiter enforces a minimum interval between evaluator calls per
// (sessionCode, studentName) pair. Slots self-expire after the TTL so
// the map does not grow with churned students.
type KeyedLimiter struct {
	mu       sync.Mutex
	slots    map[string]time.Time
	interval time.Duration
	ttl      time.Duration
	now      func() time.Time
}

// NewKeyedLimiter creates a limiter with the protocol defaults: one call
// per key per 10 s, slots cleared 20 s after the last accepted call.
func NewKeyedLimiter() *KeyedLimiter {
	return &KeyedLimiter{
		slots:    make(map[string]time.Time),
		interval: minInterval,
		ttl:      slotTTL,
		now:      time.Now,
	}
}

// Key builds the limiter key for a student within a session.
func Key(sessionCode, studentName string) string {
	return sessionCode + "/" + studentName
}

// Allow reports whether a new evaluator call may start for key. A false
// return means the previous accepted call is still within the interval;
// the caller skips evaluation entirely.
func (l *KeyedLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if last, ok := l.slots[key]; ok && now.Sub(last) < l.interval {
		return false
	}
	l.slots[key] = now
	l.sweepLocked(now)
	return true
}

// Cleanup drops every slot past its TTL. Safe to call periodically; the
// lazy sweep in Allow usually keeps the map small on its own.
func (l *KeyedLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweepLocked(l.now())
}

func (l *KeyedLimiter) sweepLocked(now time.Time) {
	for key, last := range l.slots {
		if now.Sub(last) > l.ttl {
			delete(l.slots, key)
		}
	}
}
