// Package ingest is the broker-sourced half of the ingestion gateway:
// field devices publish to pattern topics and messages converge on the
// same append-only store as the HTTP path.
package ingest

import (
    "context"
    "encoding/json"
    "log"
    "strings"
    "time"

    redis "github.com/redis/go-redis/v9"

    "bustrack/internal/errs"
    "bustrack/internal/metrics"
    "bustrack/internal/model"
    "bustrack/internal/store"
)

// Broadcaster matches the hub surface used for the best-effort direct emit.
type Broadcaster interface {
    Broadcast(event string, data any)
}

// Consumer subscribes to the device topics and persists each message.
// Unlike the HTTP path it performs NO reference-existence checks: device
// availability wins over strictness here, so unknown ids only fail at the
// constraint level. Do not unify the two paths without a product decision.
type Consumer struct {
    Store  store.Store
    GetHub func() (Broadcaster, error)
    Topics []string
}

func NewConsumer(s store.Store, topics []string, getHub func() (Broadcaster, error)) *Consumer {
    if len(topics) == 0 {
        topics = []string{"paradas/*/event", "buses/*/location"}
    }
    return &Consumer{Store: s, Topics: topics, GetHub: getHub}
}

// Run subscribes via Redis pattern subscription and processes messages
// until ctx is done.
func (c *Consumer) Run(ctx context.Context, redisURL string) error {
    opt, err := redis.ParseURL(redisURL)
    if err != nil {
        return err
    }
    rdb := redis.NewClient(opt)
    defer func() { _ = rdb.Close() }()

    ps := rdb.PSubscribe(ctx, c.Topics...)
    defer func() { _ = ps.Close() }()
    if _, err := ps.Receive(ctx); err != nil {
        return err
    }
    log.Printf("ingest: subscribed to %s", strings.Join(c.Topics, ", "))

    ch := ps.Channel()
    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case msg, ok := <-ch:
            if !ok {
                return nil
            }
            if err := c.HandleMessage(ctx, msg.Channel, msg.Payload); err != nil {
                log.Printf("ingest: %s: %v", msg.Channel, err)
            }
        }
    }
}

// HandleMessage normalizes and persists one broker message. Also serves
// POST /v1/simulate, which feeds synthetic messages through the exact same
// path.
func (c *Consumer) HandleMessage(ctx context.Context, topic, payload string) error {
    env, raw := parsePayload(payload)
    if res := Validate(env); !res.Valid {
        // Best-effort only. Logged, never fatal.
        log.Printf("ingest: validation warnings on %s: %s", topic, strings.Join(res.Warnings, "; "))
    }

    ev := model.Event{
        BusID:      env.BusID,
        StopID:     env.StopID,
        Kind:       env.Type,
        RawPayload: raw,
        MsgID:      env.MsgID,
    }
    if ev.Kind == "" {
        ev.Kind = kindFromTopic(topic)
    }
    if env.TS != "" {
        if t, err := time.Parse(time.RFC3339, env.TS); err == nil {
            ev.TS = t
        }
    }

    stored, deduped, err := c.Store.AppendTelemetry(ctx, ev)
    if err != nil {
        if errs.IsReference(err) {
            // Constraint-level rejection of an unknown bus/stop. Accepted
            // consequence of skipping the existence check on this path.
            metrics.TelemetryIngested.WithLabelValues("broker", "rejected").Inc()
            log.Printf("ingest: %s references unknown entity: %v", topic, err)
            return nil
        }
        metrics.TelemetryIngested.WithLabelValues("broker", "error").Inc()
        return err
    }
    if deduped {
        metrics.TelemetryIngested.WithLabelValues("broker", "deduped").Inc()
        log.Printf("ingest: duplicate msgId %s absorbed", stored.MsgID)
        return nil
    }
    metrics.TelemetryIngested.WithLabelValues("broker", "stored").Inc()

    // Best-effort direct emit of the raw topic event; the persisted row
    // itself reaches observers through the notification channel.
    if c.GetHub != nil {
        if h, err := c.GetHub(); err == nil {
            h.Broadcast(model.EventStopEvent, map[string]any{"topic": topic, "payload": json.RawMessage(raw)})
        }
    }
    return nil
}

// parsePayload decodes the message as an Envelope where possible; anything
// unparsable is kept verbatim as {"raw": "..."} so nothing is lost.
func parsePayload(payload string) (Envelope, json.RawMessage) {
    var env Envelope
    if err := json.Unmarshal([]byte(payload), &env); err == nil {
        return env, json.RawMessage(payload)
    }
    wrapped, _ := json.Marshal(map[string]string{"raw": payload})
    return Envelope{}, wrapped
}

// kindFromTopic derives a fallback event kind from the topic shape, e.g.
// buses/bus-1/location -> bus_location.
func kindFromTopic(topic string) string {
    parts := strings.Split(topic, "/")
    if len(parts) >= 3 {
        prefix := parts[0]
        switch prefix {
        case "paradas":
            prefix = "parada"
        case "buses":
            prefix = "bus"
        }
        return prefix + "_" + parts[len(parts)-1]
    }
    return "broker_event"
}
