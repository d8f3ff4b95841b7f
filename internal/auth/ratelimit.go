package auth

import (
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	// MaxFailedLogins is the number of bad login attempts tolerated per
	// client within the window.
	MaxFailedLogins = 5

	// FailureWindow is how long failed attempts count against a client.
	FailureWindow = 15 * time.Minute
)

type failureRecord struct {
	count     int
	firstFail time.Time
}

// LoginLimiter throttles repeated failed logins per client IP. Entries expire
// lazily; stale clients are pruned whenever a new failure is recorded.
type LoginLimiter struct {
	mu       sync.Mutex
	failures map[string]*failureRecord
	maxFails int
	window   time.Duration
	now      func() time.Time
}

// NewLoginLimiter creates a limiter with the default thresholds.
func NewLoginLimiter() *LoginLimiter {
	return &LoginLimiter{
		failures: make(map[string]*failureRecord),
		maxFails: MaxFailedLogins,
		window:   FailureWindow,
		now:      time.Now,
	}
}

// Allow reports whether the client may attempt a login.
func (l *LoginLimiter) Allow(clientIP string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.failures[clientIP]
	if !ok || l.now().Sub(rec.firstFail) > l.window {
		return true
	}
	return rec.count < l.maxFails
}

// RecordFailure counts one failed login for the client.
func (l *LoginLimiter) RecordFailure(clientIP string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	rec, ok := l.failures[clientIP]
	if !ok || now.Sub(rec.firstFail) > l.window {
		l.failures[clientIP] = &failureRecord{count: 1, firstFail: now}
		return
	}
	rec.count++
}

// RecordSuccess clears the failure history for the client.
func (l *LoginLimiter) RecordSuccess(clientIP string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.failures, clientIP)
}

func (l *LoginLimiter) pruneLocked(now time.Time) {
	for ip, rec := range l.failures {
		if now.Sub(rec.firstFail) > l.window {
			delete(l.failures, ip)
		}
	}
}

// GetClientIP extracts the client IP from the request, preferring proxy
// headers over RemoteAddr.
func GetClientIP(r *http.Request) string {
	// X-Forwarded-For may contain multiple IPs; take the first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}
