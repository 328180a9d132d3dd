package limits

import (
	"sync"
	"time"
)

// ChatLimiter enforces the chat contract per connection: at most `maxPerWindow`
// messages inside a sliding `window`, with a `cooldown` between consecutive
// messages. A token bucket can't express the exact sliding-window semantics
// the clients are promised, so timestamps are kept per connection.
type ChatLimiter struct {
	mu           sync.Mutex
	conns        map[int64]*chatWindow
	window       time.Duration
	maxPerWindow int
	cooldown     time.Duration
}

type chatWindow struct {
	timestamps []time.Time
	lastAt     time.Time
}

func NewChatLimiter(window time.Duration, maxPerWindow int, cooldown time.Duration) *ChatLimiter {
	return &ChatLimiter{
		conns:        make(map[int64]*chatWindow),
		window:       window,
		maxPerWindow: maxPerWindow,
		cooldown:     cooldown,
	}
}

// Allow records the attempt if it passes; a rejected message consumes nothing.
func (l *ChatLimiter) Allow(connID int64) bool {
	return l.allowAt(connID, time.Now())
}

func (l *ChatLimiter) allowAt(connID int64, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.conns[connID]
	if !ok {
		w = &chatWindow{}
		l.conns[connID] = w
	}

	if !w.lastAt.IsZero() && now.Sub(w.lastAt) < l.cooldown {
		return false
	}

	cutoff := now.Add(-l.window)
	valid := w.timestamps[:0]
	for _, ts := range w.timestamps {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}
	w.timestamps = valid

	if len(w.timestamps) >= l.maxPerWindow {
		return false
	}

	w.timestamps = append(w.timestamps, now)
	w.lastAt = now
	return true
}

// Forget drops the connection's window after disconnect.
func (l *ChatLimiter) Forget(connID int64) {
	l.mu.Lock()
	delete(l.conns, connID)
	l.mu.Unlock()
}
