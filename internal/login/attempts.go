package login

import (
	"sync"
	"time"
)

const (
	// DefaultAttemptWindow is the sliding window login attempts are counted over.
	DefaultAttemptWindow = 60 * time.Second
	// DefaultMaxAttempts is the number of attempts allowed per client inside the window.
	DefaultMaxAttempts = 12
)

// AttemptLedger counts login attempts per client over a sliding window.
// Entries are pruned when a client is checked, nothing runs in the background.
type AttemptLedger struct {
	mu       sync.Mutex
	attempts map[string][]time.Time // client -> attempt timestamps, oldest first

	max    int
	window time.Duration
	now    func() time.Time
}

// NewAttemptLedger creates a ledger allowing max attempts per window.
func NewAttemptLedger(max int, window time.Duration) *AttemptLedger {
	if max <= 0 {
		max = DefaultMaxAttempts
	}
	if window <= 0 {
		window = DefaultAttemptWindow
	}

	return &AttemptLedger{
		attempts: make(map[string][]time.Time),
		max:      max,
		window:   window,
		now:      time.Now,
	}
}

// Allow records an attempt for client and returns true, or returns false without
// recording anything when the window is already full.
func (l *AttemptLedger) Allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := prune(l.attempts[client], now.Add(-l.window))

	if len(recent) >= l.max {
		l.attempts[client] = recent
		return false
	}

	l.attempts[client] = append(recent, now)
	return true
}

// Count returns the attempts currently inside the window for client.
func (l *AttemptLedger) Count(client string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	recent := prune(l.attempts[client], l.now().Add(-l.window))
	if len(recent) == 0 {
		delete(l.attempts, client)
		return 0
	}
	l.attempts[client] = recent
	return len(recent)
}

// prune drops timestamps older than cutoff. Attempts exactly on the window edge still count.
func prune(attempts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(attempts) && attempts[i].Before(cutoff) {
		i++
	}
	return attempts[i:]
}
