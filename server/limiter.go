package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// limiter allows at most limit control requests per client within window.
type limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	clients map[string][]time.Time
	swept   time.Time
	now     func() time.Time
}

func newLimiter(limit int, window time.Duration) *limiter {
	return &limiter{
		limit:   limit,
		window:  window,
		clients: make(map[string][]time.Time),
		now:     time.Now,
	}
}

func (l *limiter) allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	if now.Sub(l.swept) >= l.window {
		l.sweep(cutoff)
		l.swept = now
	}

	var recent []time.Time
	for _, ts := range l.clients[client] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	if len(recent) >= l.limit {
		l.clients[client] = recent
		return false
	}
	l.clients[client] = append(recent, now)
	return true
}

// sweep drops clients with no request after cutoff.
func (l *limiter) sweep(cutoff time.Time) {
	for client, times := range l.clients {
		if len(times) == 0 || !times[len(times)-1].After(cutoff) {
			delete(l.clients, client)
		}
	}
}

// clientIP returns the peer address. The first X-Forwarded-For hop is used
// only when trustProxy is set, since clients can write that header freely.
func clientIP(r *http.Request, trustProxy bool) string {
	if xff := r.Header.Get("X-Forwarded-For"); trustProxy && xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// limited rejects requests beyond the limiter's budget with 429.
func (s *Server) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r, s.trustProxy)
		if !s.limiter.allow(ip) {
			s.logger.Warn("Rate limit exceeded", "ip", ip, "path", r.URL.Path)
			http.Error(w, "Too many requests. Please try again later.", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}
