package store

import (
    "context"
    "errors"

    "bustrack/internal/model"
)

// TelemetryFilter narrows history queries. Limit is clamped to [1,1000]
// (default 100) and Offset to >= 0 by implementations.
type TelemetryFilter struct {
    BusID  string
    StopID string
    Limit  int
    Offset int
}

// Store is the persistence interface used by the API server, the broker
// consumer and the listener wiring.
type Store interface {
    // Telemetry. AppendTelemetry is append-only: when ev.MsgID is set and a
    // row with that id already exists, the call is a no-op that returns the
    // stored row with deduped=true. The dedup race is resolved by the
    // uniqueness constraint, never by a read-then-write check.
    AppendTelemetry(ctx context.Context, ev model.Event) (stored model.Event, deduped bool, err error)
    ListTelemetry(ctx context.Context, f TelemetryFilter) ([]model.Event, error)

    // Buses
    CreateBus(ctx context.Context, b model.Bus) (model.Bus, error)
    GetBus(ctx context.Context, id string) (model.Bus, error)
    ListBuses(ctx context.Context) ([]model.Bus, error)
    UpdateBus(ctx context.Context, id string, p model.BusPatch) (model.Bus, error)
    DeleteBus(ctx context.Context, id string) error

    // Stops
    CreateStop(ctx context.Context, s model.Stop) (model.Stop, error)
    GetStop(ctx context.Context, id string) (model.Stop, error)
    ListStops(ctx context.Context) ([]model.Stop, error)
    UpdateStop(ctx context.Context, id string, p model.StopPatch) (model.Stop, error)
    DeleteStop(ctx context.Context, id string) error

    // Existence checks used by the direct ingestion path before insert,
    // to avoid opaque constraint failures.
    BusExists(ctx context.Context, id string) (bool, error)
    StopExists(ctx context.Context, id string) (bool, error)

    // Realtime projections used to enrich ingestion responses. Return
    // ErrNotFound when no telemetry exists yet; callers treat that as
    // optional-enrichment failure, not fatal.
    CurrentBusState(ctx context.Context, id string) (model.BusRealtime, error)
    CurrentStopState(ctx context.Context, id string) (model.StopRealtime, error)

    Ping(ctx context.Context) error
}

var ErrNotFound = errors.New("not found")

func clampFilter(f TelemetryFilter) TelemetryFilter {
    if f.Limit <= 0 {
        f.Limit = 100
    }
    if f.Limit > 1000 {
        f.Limit = 1000
    }
    if f.Offset < 0 {
        f.Offset = 0
    }
    return f
}
