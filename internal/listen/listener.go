// Package listen maintains the single LISTEN connection that turns
// database inserts into hub broadcasts. The decoupling means any writer
// (including bulk loaders bypassing the API) still reaches observers, and
// broadcast failures never roll back persistence.
package listen

import (
    "context"
    "encoding/json"
    "log"

    "github.com/jackc/pgx/v5"

    "bustrack/internal/metrics"
    "bustrack/internal/model"
)

// Channel is the pg_notify channel raised by the telemetry insert trigger.
const Channel = "telemetria_inserted"

// Broadcaster is the hub surface the listener needs.
type Broadcaster interface {
    Broadcast(event string, data any)
}

// Listener holds exactly one long-lived subscription connection per process.
type Listener struct {
    dsn    string
    getHub func() (Broadcaster, error)
}

func New(dsn string, getHub func() (Broadcaster, error)) *Listener {
    return &Listener{dsn: dsn, getHub: getHub}
}

// Run connects, subscribes and forwards notifications until ctx is done or
// the connection fails. No auto-reconnect yet; a connection-level error
// ends the loop after logging.
// TODO: reconnect with backoff instead of returning on connection errors.
func (l *Listener) Run(ctx context.Context) error {
    conn, err := pgx.Connect(ctx, l.dsn)
    if err != nil {
        return err
    }
    defer func() { _ = conn.Close(context.Background()) }()

    if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
        return err
    }
    log.Printf("listen: subscribed to %s", Channel)

    for {
        n, err := conn.WaitForNotification(ctx)
        if err != nil {
            if ctx.Err() != nil {
                return ctx.Err()
            }
            log.Printf("listen: connection error: %v", err)
            return err
        }
        l.handle(n.Payload)
    }
}

// handle parses one notification payload and forwards it to the hub.
// Payload is the inserted row as JSON (row_to_json in the trigger); anything
// unparsable is forwarded as the raw string rather than dropped.
func (l *Listener) handle(raw string) {
    data := decodePayload(raw)
    b, err := l.getHub()
    if err != nil {
        // A hub that is not up yet just loses this notification.
        log.Printf("listen: dropping notification, hub not ready: %v", err)
        metrics.Notifications.WithLabelValues("dropped").Inc()
        return
    }
    b.Broadcast(model.EventTelemetryInserted, data)
    metrics.Notifications.WithLabelValues("forwarded").Inc()
}

func decodePayload(raw string) any {
    var ev model.Event
    if err := json.Unmarshal([]byte(raw), &ev); err == nil && (ev.StopID != "" || ev.BusID != "") {
        // Bare row from the trigger; wrap into the broadcast contract.
        // Projections are not computed here, observers fall back to the
        // telemetry fields themselves.
        return model.BroadcastPayload{Telemetry: &ev, Source: "db"}
    }
    var v any
    if err := json.Unmarshal([]byte(raw), &v); err == nil {
        return v
    }
    return raw
}
