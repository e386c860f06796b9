package server

import (
	"net"
	"net/http"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// DefaultLimiterCapacity bounds the number of token buckets kept at once.
const DefaultLimiterCapacity = 10000

// limiterPool holds one token bucket per client and session. The least
// recently used bucket is dropped when the pool is full.
type limiterPool struct {
	cache *lru.Cache[string, *rate.Limiter]
	rps   float64
	burst int
}

func newLimiterPool(rps float64, burst, capacity int) *limiterPool {
	if burst <= 0 {
		burst = 1
	}
	if capacity <= 0 {
		capacity = DefaultLimiterCapacity
	}
	cache, _ := lru.New[string, *rate.Limiter](capacity)
	return &limiterPool{cache: cache, rps: rps, burst: burst}
}

func (p *limiterPool) get(key string) *rate.Limiter {
	if l, ok := p.cache.Get(key); ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(p.rps), p.burst)
	if prev, ok, _ := p.cache.PeekOrAdd(key, l); ok {
		return prev
	}
	return l
}

// Allow reports whether a request for key may proceed now.
func (p *limiterPool) Allow(key string) bool {
	if p.rps <= 0 {
		return true
	}
	return p.get(key).Allow()
}

// forget drops every bucket of a session, whichever client it came from.
func (p *limiterPool) forget(sessionID string) {
	for _, key := range p.cache.Keys() {
		if sessionOf(key) == sessionID {
			p.cache.Remove(key)
		}
	}
}

func (p *limiterPool) size() int {
	return p.cache.Len()
}

// limiterKey combines the client address with the session the client named.
// Requests without a session share their client's bucket.
func limiterKey(r *http.Request, sessionID string) string {
	return clientIP(r) + "|" + sessionID
}

func sessionOf(key string) string {
	_, session, _ := strings.Cut(key, "|")
	return session
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
