package oauth

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// registerRatePerMinute bounds dynamic client registrations per
	// remote address.
	registerRatePerMinute = 10

	// rateLimiterMaxEntries caps tracked addresses so an attacker
	// cannot grow the map without bound.
	rateLimiterMaxEntries = 10000

	rateLimiterIdleEvict = 30 * time.Minute
)

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// ipRateLimiter applies a token-bucket limit per remote address.
// Entries idle longer than rateLimiterIdleEvict are pruned lazily when
// the map is full.
type ipRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	limit   rate.Limit
	burst   int
}

func newIPRateLimiter(perMinute int) *ipRateLimiter {
	return &ipRateLimiter{
		entries: make(map[string]*limiterEntry),
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   perMinute,
	}
}

// Allow reports whether the identifier may proceed.
func (rl *ipRateLimiter) Allow(identifier string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, ok := rl.entries[identifier]
	if !ok {
		if len(rl.entries) >= rateLimiterMaxEntries {
			rl.pruneLocked(now)
		}
		// Nothing idle to prune: evict the least recently seen entry
		// so the cap holds even under sustained churn.
		if len(rl.entries) >= rateLimiterMaxEntries {
			rl.evictOldestLocked()
		}
		e = &limiterEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.entries[identifier] = e
	}
	e.lastAccess = now
	return e.limiter.Allow()
}

func (rl *ipRateLimiter) pruneLocked(now time.Time) {
	for id, e := range rl.entries {
		if now.Sub(e.lastAccess) > rateLimiterIdleEvict {
			delete(rl.entries, id)
		}
	}
}

func (rl *ipRateLimiter) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, e := range rl.entries {
		if oldestID == "" || e.lastAccess.Before(oldest) {
			oldestID = id
			oldest = e.lastAccess
		}
	}
	if oldestID != "" {
		delete(rl.entries, oldestID)
	}
}

// remoteIP extracts the bare host from a request's RemoteAddr.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
