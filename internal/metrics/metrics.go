package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
)

var (
    // Registry is the dedicated Prometheus registry for the API
    Registry = prometheus.NewRegistry()
    // HTTPRequests counts requests by method, path, and status
    HTTPRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
        []string{"method", "path", "status"},
    )
    // HTTPDuration records request durations in seconds
    HTTPDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"method", "path", "status"},
    )

    // TelemetryIngested counts telemetry events by source (api, broker) and
    // result (stored, deduped, rejected, error)
    TelemetryIngested = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "telemetry_ingested_total", Help: "Telemetry events by source and result."},
        []string{"source", "result"},
    )
    // Notifications counts LISTEN/NOTIFY handling outcomes (forwarded, dropped)
    Notifications = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "notifications_total", Help: "Change notifications by outcome."},
        []string{"outcome"},
    )
    // Broadcasts counts hub broadcasts by event name
    Broadcasts = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "hub_broadcasts_total", Help: "Hub broadcasts by event name."},
        []string{"event"},
    )
    // WSSessions tracks the number of connected WebSocket sessions
    WSSessions = prometheus.NewGauge(
        prometheus.GaugeOpts{Name: "hub_sessions", Help: "Connected WebSocket sessions."},
    )
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
    regOnce.Do(func() {
        Registry.MustRegister(HTTPRequests)
        Registry.MustRegister(HTTPDuration)
        Registry.MustRegister(TelemetryIngested)
        Registry.MustRegister(Notifications)
        Registry.MustRegister(Broadcasts)
        Registry.MustRegister(WSSessions)
        // Go/process collectors on our registry
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once
