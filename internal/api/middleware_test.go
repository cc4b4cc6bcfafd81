package api

import (
    "net/http"
    "net/http/httptest"
    "testing"
)

func TestIPRateLimiter(t *testing.T) {
    limiter := NewIPRateLimiter(1, 2)
    handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusOK)
    }))

    codes := []int{}
    for i := 0; i < 4; i++ {
        req := httptest.NewRequest(http.MethodGet, "/v1/telemetria", nil)
        req.RemoteAddr = "10.0.0.1:1234"
        w := httptest.NewRecorder()
        handler.ServeHTTP(w, req)
        codes = append(codes, w.Code)
    }
    if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
        t.Fatalf("burst requests rejected: %v", codes)
    }
    if codes[3] != http.StatusTooManyRequests {
        t.Fatalf("over-budget request not limited: %v", codes)
    }

    // A different IP has its own budget.
    req := httptest.NewRequest(http.MethodGet, "/v1/telemetria", nil)
    req.RemoteAddr = "10.0.0.2:1234"
    w := httptest.NewRecorder()
    handler.ServeHTTP(w, req)
    if w.Code != http.StatusOK {
        t.Fatalf("second ip limited: %d", w.Code)
    }
}

func TestLogMiddlewarePreservesStatus(t *testing.T) {
    handler := LogMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusTeapot)
    }))
    req := httptest.NewRequest(http.MethodGet, "/x", nil)
    w := httptest.NewRecorder()
    handler.ServeHTTP(w, req)
    if w.Code != http.StatusTeapot {
        t.Fatalf("status = %d", w.Code)
    }
}
