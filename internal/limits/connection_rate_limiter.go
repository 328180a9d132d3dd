package limits

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ConnectionRateLimiter throttles WebSocket upgrade attempts.
//
// Two levels:
//   - Per-IP: one address cannot flood the hub with connections
//   - Global: distributed floods cannot exhaust the process
//
// Token buckets (golang.org/x/time/rate) allow legitimate reconnect bursts
// while bounding the sustained rate.
type ConnectionRateLimiter struct {
	ipMu       sync.Mutex
	ipLimiters map[string]*ipLimiterEntry
	ipBurst    int
	ipRate     float64
	ipTTL      time.Duration

	globalLimiter *rate.Limiter

	logger zerolog.Logger

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

type ipLimiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

type ConnectionRateLimiterConfig struct {
	IPBurst     int           // max burst upgrades per IP (default 10)
	IPRate      float64       // sustained upgrades/sec per IP (default 1.0)
	IPTTL       time.Duration // drop idle IP entries after this (default 5m)
	GlobalBurst int           // max burst upgrades process-wide (default 300)
	GlobalRate  float64       // sustained upgrades/sec process-wide (default 50)
	Logger      zerolog.Logger
}

func NewConnectionRateLimiter(config ConnectionRateLimiterConfig) *ConnectionRateLimiter {
	if config.IPBurst == 0 {
		config.IPBurst = 10
	}
	if config.IPRate == 0 {
		config.IPRate = 1.0
	}
	if config.IPTTL == 0 {
		config.IPTTL = 5 * time.Minute
	}
	if config.GlobalBurst == 0 {
		config.GlobalBurst = 300
	}
	if config.GlobalRate == 0 {
		config.GlobalRate = 50.0
	}

	l := &ConnectionRateLimiter{
		ipLimiters:    make(map[string]*ipLimiterEntry),
		ipBurst:       config.IPBurst,
		ipRate:        config.IPRate,
		ipTTL:         config.IPTTL,
		globalLimiter: rate.NewLimiter(rate.Limit(config.GlobalRate), config.GlobalBurst),
		logger:        config.Logger.With().Str("component", "connection_rate_limiter").Logger(),
		stopCleanup:   make(chan struct{}),
	}

	l.cleanupTicker = time.NewTicker(1 * time.Minute)
	go l.cleanupLoop()

	return l
}

// Allow reports whether an upgrade from ip may proceed. Global check first so
// a single hot IP cannot mask system-wide pressure in the logs.
func (l *ConnectionRateLimiter) Allow(ip string) bool {
	if !l.globalLimiter.Allow() {
		l.logger.Warn().Str("client_ip", ip).Msg("Global connection rate limit exceeded")
		return false
	}

	l.ipMu.Lock()
	entry, ok := l.ipLimiters[ip]
	if !ok {
		entry = &ipLimiterEntry{limiter: rate.NewLimiter(rate.Limit(l.ipRate), l.ipBurst)}
		l.ipLimiters[ip] = entry
	}
	entry.lastAccess = time.Now()
	l.ipMu.Unlock()

	if !entry.limiter.Allow() {
		l.logger.Warn().Str("client_ip", ip).Msg("Per-IP connection rate limit exceeded")
		return false
	}
	return true
}

func (l *ConnectionRateLimiter) cleanupLoop() {
	for {
		select {
		case <-l.cleanupTicker.C:
			cutoff := time.Now().Add(-l.ipTTL)
			l.ipMu.Lock()
			for ip, entry := range l.ipLimiters {
				if entry.lastAccess.Before(cutoff) {
					delete(l.ipLimiters, ip)
				}
			}
			l.ipMu.Unlock()
		case <-l.stopCleanup:
			return
		}
	}
}

// Stop terminates the cleanup goroutine.
func (l *ConnectionRateLimiter) Stop() {
	l.stopOnce.Do(func() {
		l.cleanupTicker.Stop()
		close(l.stopCleanup)
	})
}
