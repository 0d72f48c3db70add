package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/forgo/trellis/internal/model"
)

// RateLimiter keeps one token bucket per client key
type RateLimiter struct {
	mu       sync.Mutex
	clients  map[string]*client
	limit    rate.Limit
	burst    int
	idle     time.Duration // Buckets unused for this long are dropped
	cleanup  time.Duration // Cleanup interval for idle buckets
	keyFunc  func(*http.Request) string
	stopOnce sync.Once
	stopChan chan struct{}
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitConfig holds rate limiter configuration
type RateLimitConfig struct {
	RPS     float64       `mapstructure:"rps"`     // Sustained requests per second (default 10)
	Burst   int           `mapstructure:"burst"`   // Max burst (default 20)
	Idle    time.Duration `mapstructure:"idle"`    // Idle bucket lifetime (default 10 minutes)
	Cleanup time.Duration `mapstructure:"cleanup"` // Cleanup interval (default 5 minutes)
	// KeyFunc picks the client key. Defaults to the authenticated user's
	// identity, falling back to the remote IP.
	KeyFunc func(*http.Request) string `mapstructure:"-"`
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}
	if cfg.Idle <= 0 {
		cfg.Idle = 10 * time.Minute
	}
	if cfg.Cleanup <= 0 {
		cfg.Cleanup = 5 * time.Minute
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientKey
	}

	rl := &RateLimiter{
		clients:  make(map[string]*client),
		limit:    rate.Limit(cfg.RPS),
		burst:    cfg.Burst,
		idle:     cfg.Idle,
		cleanup:  cfg.Cleanup,
		keyFunc:  cfg.KeyFunc,
		stopChan: make(chan struct{}),
	}

	// Start cleanup goroutine
	go rl.cleanupLoop()

	return rl
}

// Stop stops the rate limiter cleanup goroutine
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopChan) })
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupIdle(time.Now())
		case <-rl.stopChan:
			return
		}
	}
}

func (rl *RateLimiter) cleanupIdle(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-rl.idle)
	for key, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, key)
		}
	}
}

// Allow reports whether a request for key may proceed now. When it may not,
// retryAfter is how long until a token is available.
func (rl *RateLimiter) Allow(key string) (allowed bool, retryAfter time.Duration) {
	return rl.allowAt(key, time.Now())
}

func (rl *RateLimiter) allowAt(key string, now time.Time) (bool, time.Duration) {
	rl.mu.Lock()
	c, ok := rl.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[key] = c
	}
	c.lastSeen = now
	rl.mu.Unlock()

	res := c.limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Burst returns the bucket size.
func (rl *RateLimiter) Burst() int {
	return rl.burst
}

// ClientKey identifies the caller by authenticated identity, falling back to
// the remote IP.
func ClientKey(r *http.Request) string {
	if user := GetUser(r.Context()); user.IsAuthenticated() {
		return "user:" + user.Identity()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}

// RateLimit returns a middleware that applies rate limiting. Rejected
// requests raise a 429 carrying Retry-After.
func RateLimit(limiter *RateLimiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, retryAfter := limiter.Allow(limiter.keyFunc(r))

			limit := strconv.Itoa(limiter.burst)
			w.Header().Set("X-RateLimit-Limit", limit)

			if !allowed {
				seconds := int(math.Ceil(retryAfter.Seconds()))
				if seconds < 1 {
					seconds = 1
				}
				err, _ := model.NewHTTPError(http.StatusTooManyRequests,
					model.WithDetail("rate limit exceeded, retry in "+strconv.Itoa(seconds)+"s"),
					model.WithHeader("Retry-After", strconv.Itoa(seconds)),
					model.WithHeader("X-RateLimit-Limit", limit),
				)
				Raise(w, r, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
