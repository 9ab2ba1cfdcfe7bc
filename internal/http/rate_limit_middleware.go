package httpx

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const rateLimiterSweepInterval = 5 * time.Minute

// Rate budget classes. A user's reads and writes are counted separately.
const (
	rateClassRead     = "read"
	rateClassWrite    = "write"
	rateClassRealtime = "realtime"
)

// RateLimiter counts requests per key in fixed windows.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) rateDecision
	Close()
}

type rateDecision struct {
	allowed   bool
	remaining int
	reset     time.Time
}

func decide(count int64, limit int, reset time.Time) rateDecision {
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return rateDecision{allowed: count <= int64(limit), remaining: remaining, reset: reset}
}

type windowCounter struct {
	count int64
	reset time.Time
}

type memoryRateLimiter struct {
	mu       sync.Mutex
	counters map[string]*windowCounter
	now      func() time.Time
	stop     chan struct{}
	once     sync.Once
}

// NewMemoryRateLimiter returns a process-local limiter. Counters are lost on restart.
func NewMemoryRateLimiter() RateLimiter {
	return newMemoryRateLimiter(time.Now, rateLimiterSweepInterval)
}

func newMemoryRateLimiter(now func() time.Time, sweepEvery time.Duration) *memoryRateLimiter {
	rl := &memoryRateLimiter{
		counters: make(map[string]*windowCounter),
		now:      now,
		stop:     make(chan struct{}),
	}
	if sweepEvery > 0 {
		go rl.sweep(sweepEvery)
	}
	return rl
}

func (rl *memoryRateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	c, ok := rl.counters[key]
	if !ok || !now.Before(c.reset) {
		c = &windowCounter{reset: now.Add(window)}
		rl.counters[key] = c
	}
	if c.count < int64(limit) {
		c.count++
		return decide(c.count, limit, c.reset)
	}
	// Rejected requests do not extend the count past limit+1.
	return decide(int64(limit)+1, limit, c.reset)
}

func (rl *memoryRateLimiter) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.evictExpired()
		case <-rl.stop:
			return
		}
	}
}

func (rl *memoryRateLimiter) evictExpired() int {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	evicted := 0
	for key, c := range rl.counters {
		if !now.Before(c.reset) {
			delete(rl.counters, key)
			evicted++
		}
	}
	return evicted
}

func (rl *memoryRateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}

// rateKeyFunc derives the limiter key for a request; "" falls back to the client IP scoped to the route.
type rateKeyFunc func(*http.Request) string

func (r *Router) withRateLimit(route string, limit int, window time.Duration, keyFn rateKeyFunc, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if limit <= 0 || r.limiter == nil {
			next(w, req)
			return
		}
		key := keyFn(req)
		if key == "" {
			key = ipRateKey(req, route)
		}
		decision := r.limiter.Allow(req.Context(), key, limit, window)
		applyRateHeaders(w, limit, decision)
		if !decision.allowed {
			r.metrics.recordRateLimitHit(route, rateMetricKey(key))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, req)
	}
}

func (r *Router) handlerAuthRate(route, class string, limit int, window time.Duration, next http.HandlerFunc) http.HandlerFunc {
	return r.requireAuth(r.withRateLimit(route, limit, window, rateLimitKeyUser(class), next))
}

// userRate authenticates the caller and applies the read or write budget by method.
func (r *Router) userRate(route string, next http.HandlerFunc) http.HandlerFunc {
	read := r.withRateLimit(route, rateLimitUserRead, rateWindowDefault, rateLimitKeyUser(rateClassRead), next)
	write := r.withRateLimit(route, rateLimitUserWrite, rateWindowDefault, rateLimitKeyUser(rateClassWrite), next)
	return r.requireAuth(func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			read(w, req)
		default:
			write(w, req)
		}
	})
}

func rateLimitKeyUser(class string) rateKeyFunc {
	return func(req *http.Request) string {
		info, ok := authInfoFromContext(req.Context())
		if !ok || info.UserID <= 0 {
			return ""
		}
		return "user:" + strconv.FormatInt(info.UserID, 10) + ":" + class
	}
}

// rateLimitKeyIP counts per client IP. Each scope has its own counter.
func rateLimitKeyIP(scope string) rateKeyFunc {
	return func(req *http.Request) string {
		return ipRateKey(req, scope)
	}
}

func ipRateKey(req *http.Request, scope string) string {
	ip := clientIP(req)
	if ip == "" {
		ip = "unknown"
	}
	return "ip:" + ip + ":" + scope
}

func rateMetricKey(key string) string {
	if idx := strings.IndexByte(key, ':'); idx > 0 {
		return key[:idx]
	}
	if key == "" {
		return "unknown"
	}
	return key
}

func applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(decision.remaining))
	if !decision.reset.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.reset.Unix(), 10))
	}
}
