package api

import (
    "log"
    "net"
    "net/http"
    "strconv"
    "sync"
    "time"

    "golang.org/x/time/rate"

    "bustrack/internal/metrics"
)

// IPRateLimiter stores a rate limiter for each client IP.
type IPRateLimiter struct {
    mu  sync.Mutex
    ips map[string]*rate.Limiter
    r   rate.Limit
    b   int
}

func NewIPRateLimiter(r rate.Limit, b int) *IPRateLimiter {
    return &IPRateLimiter{ips: map[string]*rate.Limiter{}, r: r, b: b}
}

func (l *IPRateLimiter) limiter(ip string) *rate.Limiter {
    l.mu.Lock()
    defer l.mu.Unlock()
    lim, ok := l.ips[ip]
    if !ok {
        lim = rate.NewLimiter(l.r, l.b)
        l.ips[ip] = lim
    }
    return lim
}

// Middleware rejects requests over the per-IP budget with 429.
func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        ip, _, err := net.SplitHostPort(r.RemoteAddr)
        if err != nil {
            ip = r.RemoteAddr
        }
        if !l.limiter(ip).Allow() {
            writeProblem(w, http.StatusTooManyRequests, "Rate limited", "too many requests", r.URL.Path)
            return
        }
        next.ServeHTTP(w, r)
    })
}

type statusRecorder struct {
    http.ResponseWriter
    status int
}

func (r *statusRecorder) WriteHeader(code int) {
    r.status = code
    r.ResponseWriter.WriteHeader(code)
}

// LogMiddleware logs each request and records HTTP metrics. WebSocket
// upgrades bypass the recorder so hijacking still works.
func LogMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if r.Header.Get("Upgrade") == "websocket" {
            next.ServeHTTP(w, r)
            return
        }
        start := time.Now()
        rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
        next.ServeHTTP(rec, r)
        dur := time.Since(start)
        status := strconv.Itoa(rec.status)
        metrics.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
        metrics.HTTPDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(dur.Seconds())
        log.Printf("%s %s %s %d %v", r.RemoteAddr, r.Method, r.URL.Path, rec.status, dur)
    })
}
