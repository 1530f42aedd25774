// Package auth guards the HTTP surface: API-key validation, per-IP sliding
// window rate limits, and input sanitisation.
package auth

import (
	"sync"
	"time"
)

// LimiterConfig tunes the per-IP sliding windows.
type LimiterConfig struct {
	PerMinute     int
	PerHour       int
	BlockDuration time.Duration
}

func (c *LimiterConfig) applyDefaults() {
	if c.PerMinute == 0 {
		c.PerMinute = 60
	}
	if c.PerHour == 0 {
		c.PerHour = 1000
	}
	if c.BlockDuration == 0 {
		c.BlockDuration = time.Hour
	}
}

const limiterShards = 16

type clientWindow struct {
	requests     []time.Time
	blockedUntil time.Time
}

type limiterShard struct {
	mu      sync.Mutex
	clients map[string]*clientWindow
}

// Limiter enforces per-client sliding windows over one minute and one hour.
// Exceeding the hour window blocks the client for the configured duration.
// Sharded so concurrent requests from different clients rarely contend.
type Limiter struct {
	config LimiterConfig
	shards [limiterShards]*limiterShard
	now    func() time.Time
}

// NewLimiter creates a rate limiter with the given windows.
func NewLimiter(config LimiterConfig) *Limiter {
	config.applyDefaults()
	l := &Limiter{config: config, now: time.Now}
	for i := range l.shards {
		l.shards[i] = &limiterShard{clients: make(map[string]*clientWindow)}
	}
	return l
}

func (l *Limiter) shard(client string) *limiterShard {
	var h uint32 = 2166136261
	for i := 0; i < len(client); i++ {
		h ^= uint32(client[i])
		h *= 16777619
	}
	return l.shards[h%limiterShards]
}

// Allow records a request for the client and reports whether it is within
// the limits. When denied, retryAfter is the wait before the next attempt
// may succeed.
func (l *Limiter) Allow(client string) (ok bool, retryAfter time.Duration) {
	now := l.now()
	shard := l.shard(client)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	w := shard.clients[client]
	if w == nil {
		w = &clientWindow{}
		shard.clients[client] = w
	}
	if now.Before(w.blockedUntil) {
		return false, w.blockedUntil.Sub(now)
	}

	// Prune entries older than the hour window.
	hourAgo := now.Add(-time.Hour)
	keep := w.requests[:0]
	for _, t := range w.requests {
		if t.After(hourAgo) {
			keep = append(keep, t)
		}
	}
	w.requests = keep

	if len(w.requests) >= l.config.PerHour {
		w.blockedUntil = now.Add(l.config.BlockDuration)
		return false, l.config.BlockDuration
	}

	minuteAgo := now.Add(-time.Minute)
	inMinute := 0
	for i := len(w.requests) - 1; i >= 0; i-- {
		if !w.requests[i].After(minuteAgo) {
			break
		}
		inMinute++
	}
	if inMinute >= l.config.PerMinute {
		oldest := w.requests[len(w.requests)-inMinute]
		retry := oldest.Add(time.Minute).Sub(now)
		if retry < time.Second {
			retry = time.Second
		}
		return false, retry
	}

	w.requests = append(w.requests, now)
	return true, 0
}
