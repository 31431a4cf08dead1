package middleware

import (
	"context"
	"math"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultMaxAttemptsPerMinute is the failed authentication budget per
	// client when none is configured.
	DefaultMaxAttemptsPerMinute = 10

	// DefaultMaxTrackedClients bounds how many clients are remembered at once.
	DefaultMaxTrackedClients = 10000

	sweepInterval = time.Minute
	idleClientTTL = 5 * time.Minute
)

type clientBudget struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter meters failed authentication attempts per client. Each client
// may fail up to the configured number of times in a burst, after which the
// budget refills evenly over a minute. Successful requests are never metered.
type RateLimiter struct {
	mu         sync.Mutex
	clients    map[string]*clientBudget
	perMinute  int
	maxClients int
	now        func() time.Time
	cancel     context.CancelFunc
}

// NewRateLimiter starts a limiter allowing maxPerMinute failures per client.
// Pass 0 to use DefaultMaxAttemptsPerMinute. Idle clients are forgotten by a
// background sweep that runs until ctx ends or Stop is called.
func NewRateLimiter(ctx context.Context, maxPerMinute int) *RateLimiter {
	if maxPerMinute <= 0 {
		maxPerMinute = DefaultMaxAttemptsPerMinute
	}
	ctx, cancel := context.WithCancel(ctx)
	rl := &RateLimiter{
		clients:    make(map[string]*clientBudget),
		perMinute:  maxPerMinute,
		maxClients: DefaultMaxTrackedClients,
		now:        time.Now,
		cancel:     cancel,
	}
	go rl.sweep(ctx)
	return rl
}

// RecordFailure spends one unit of client's budget. When the budget is
// already exhausted nothing is spent, ok is false and retryAfter tells how
// long until the next failure would be accepted.
func (rl *RateLimiter) RecordFailure(client string) (retryAfter time.Duration, ok bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	budget := rl.budgetLocked(client, now)

	reservation := budget.limiter.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return delay, false
	}
	return 0, true
}

// Exhausted reports whether client has no failures left to spend, and if so
// how long until one is available again.
func (rl *RateLimiter) Exhausted(client string) (retryAfter time.Duration, exhausted bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	budget, ok := rl.clients[client]
	if !ok {
		return 0, false
	}
	tokens := budget.limiter.TokensAt(rl.now())
	if tokens >= 1 {
		return 0, false
	}
	perToken := float64(time.Second) / float64(budget.limiter.Limit())
	return time.Duration((1 - tokens) * perToken), true
}

// Tracked reports how many clients currently hold a budget.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

func (rl *RateLimiter) budgetLocked(client string, now time.Time) *clientBudget {
	budget, ok := rl.clients[client]
	if !ok {
		if len(rl.clients) >= rl.maxClients {
			rl.evictLeastRecentLocked()
		}
		budget = &clientBudget{
			limiter: rate.NewLimiter(rate.Limit(float64(rl.perMinute)/60.0), rl.perMinute),
		}
		rl.clients[client] = budget
	}
	budget.lastSeen = now
	return budget
}

// Stop ends the background sweep.
func (rl *RateLimiter) Stop() {
	rl.cancel()
}

func (rl *RateLimiter) sweep(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.forgetIdle()
		}
	}
}

func (rl *RateLimiter) forgetIdle() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-idleClientTTL)
	for client, budget := range rl.clients {
		if budget.lastSeen.Before(cutoff) {
			delete(rl.clients, client)
		}
	}
}

func (rl *RateLimiter) evictLeastRecentLocked() {
	var (
		victim string
		oldest time.Time
	)
	for client, budget := range rl.clients {
		if victim == "" || budget.lastSeen.Before(oldest) {
			victim = client
			oldest = budget.lastSeen
		}
	}
	delete(rl.clients, victim)
}

// retryAfterSeconds renders d for a Retry-After header, rounding up.
func retryAfterSeconds(d time.Duration) int {
	return max(1, int(math.Ceil(d.Seconds())))
}

// ClientIP returns the host part of an http.Request RemoteAddr.
func ClientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
