package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const limiterIdle = 3 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// StaffLimiter keeps one token bucket per authenticated staff member.
type StaffLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	visitors map[uuid.UUID]*visitor
	now      func() time.Time
}

func NewStaffLimiter(perSecond float64, burst int) *StaffLimiter {
	if burst < 1 {
		burst = 1
	}
	return &StaffLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		visitors: make(map[uuid.UUID]*visitor),
		now:      time.Now,
	}
}

func (l *StaffLimiter) get(id uuid.UUID) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	v, ok := l.visitors[id]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[id] = v
	}
	v.lastSeen = now
	return v.limiter
}

// Cleanup drops buckets idle for longer than a few minutes.
func (l *StaffLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-limiterIdle)
	for id, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, id)
		}
	}
}

// Run calls Cleanup every minute until ctx is cancelled.
func (l *StaffLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}

func (l *StaffLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// Middleware must run after Authenticate.
func (l *StaffLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFromContext(r.Context())
		if claims == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
			return
		}

		limiter := l.get(claims.StaffID)
		if !limiter.Allow() {
			res := limiter.Reserve()
			delay := res.Delay()
			res.Cancel()
			w.Header().Set("Retry-After", strconv.Itoa(int(delay/time.Second)+1))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many requests"})
			return
		}

		next.ServeHTTP(w, r)
	})
}
