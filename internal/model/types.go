package model

import (
    "encoding/json"
    "time"
)

// Wire field names follow the campus deployment's existing contract
// (Spanish column names on the telemetry table and socket payloads).

// Event is a single telemetry observation about a bus at a stop.
// Rows are append-only; an Event is never mutated after insert.
type Event struct {
    ID         int64           `json:"id,omitempty"`
    BusID      string          `json:"bus_id,omitempty"`
    StopID     string          `json:"parada_id,omitempty"`
    Kind       string          `json:"evento"`
    TS         time.Time       `json:"ts"`
    Passengers *int            `json:"numero_pasajeros,omitempty"`
    RawPayload json.RawMessage `json:"raw_payload,omitempty"`
    RSSI       *int            `json:"rssi,omitempty"`
    RouteID    string          `json:"route_id,omitempty"`
    Seq        *int            `json:"orden,omitempty"`
    MsgID      string          `json:"msg_id,omitempty"`
    CreatedAt  time.Time       `json:"created_at,omitempty"`
}

// Bus is a reference-data row describing a fleet vehicle.
type Bus struct {
    BusID       string    `json:"bus_id"`
    Plate       string    `json:"placa,omitempty"`
    Status      string    `json:"estado"`
    Capacity    *int      `json:"capacidad,omitempty"`
    Description string    `json:"descripcion,omitempty"`
    CreatedAt   time.Time `json:"created_at,omitempty"`
}

// BusPatch carries partial updates; nil fields are left untouched.
type BusPatch struct {
    Plate       *string `json:"placa,omitempty"`
    Status      *string `json:"estado,omitempty"`
    Capacity    *int    `json:"capacidad,omitempty"`
    Description *string `json:"descripcion,omitempty"`
}

// Stop is a reference-data row describing a campus stop.
type Stop struct {
    StopID      string     `json:"parada_id"`
    Name        string     `json:"nombre"`
    Status      string     `json:"estado"`
    Description string     `json:"descripcion,omitempty"`
    Seq         *int       `json:"orden,omitempty"`
    CoordX      *float64   `json:"coord_x,omitempty"`
    CoordY      *float64   `json:"coord_y,omitempty"`
    LastBusSeen *time.Time `json:"ultima_conexion_bus,omitempty"`
    UpdatedAt   *time.Time `json:"ultima_actualizacion,omitempty"`
    CreatedAt   time.Time  `json:"created_at,omitempty"`
}

// StopPatch carries partial updates; nil fields are left untouched.
type StopPatch struct {
    Name        *string  `json:"nombre,omitempty"`
    Status      *string  `json:"estado,omitempty"`
    Description *string  `json:"descripcion,omitempty"`
    Seq         *int     `json:"orden,omitempty"`
    CoordX      *float64 `json:"coord_x,omitempty"`
    CoordY      *float64 `json:"coord_y,omitempty"`
}

// BusRealtime is the latest-telemetry projection for one bus
// (vw_buses_realtime). Best-effort: may be missing when no telemetry exists.
type BusRealtime struct {
    BusID      string     `json:"bus_id"`
    LastStopID string     `json:"ultima_parada,omitempty"`
    LastEvent  string     `json:"ultimo_evento,omitempty"`
    LastSeen   *time.Time `json:"ultima_vez,omitempty"`
    Passengers *int       `json:"numero_pasajeros,omitempty"`
}

// StopRealtime is the latest-telemetry projection for one stop
// (vw_paradas_realtime).
type StopRealtime struct {
    StopID       string     `json:"parada_id"`
    Status       string     `json:"realtime_status"`
    CurrentBusID string     `json:"current_bus_id,omitempty"`
    LastEvent    string     `json:"ultimo_evento,omitempty"`
    LastSeen     *time.Time `json:"ultima_vez,omitempty"`
}

// BroadcastPayload is the body of a telemetria_inserted broadcast.
// Bus and Stop projections are best-effort enrichment and may be nil.
type BroadcastPayload struct {
    Telemetry *Event        `json:"telemetria"`
    Bus       *BusRealtime  `json:"bus"`
    Stop      *StopRealtime `json:"parada"`
    Source    string        `json:"source,omitempty"`
    Status    string        `json:"status,omitempty"`
}

// Broadcast event names shared by the hub, the listener and observers.
const (
    EventTelemetryInserted = "telemetria_inserted"
    EventStopEvent         = "parada_event"
    EventRefreshStops      = "refresh_paradas"
)
