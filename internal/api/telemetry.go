package api

import (
    "context"
    "encoding/json"
    "errors"
    "log"
    "net/http"
    "strconv"
    "time"

    "bustrack/internal/errs"
    "bustrack/internal/metrics"
    "bustrack/internal/model"
    "bustrack/internal/store"
)

// telemetryIn is the POST /v1/telemetria body. ts may be any RFC3339
// instant; raw_payload may be structured JSON or a bare string.
type telemetryIn struct {
    BusID      string          `json:"bus_id"`
    StopID     string          `json:"parada_id"`
    Kind       string          `json:"evento"`
    Passengers *int            `json:"numero_pasajeros"`
    TS         string          `json:"ts"`
    RawPayload json.RawMessage `json:"raw_payload"`
    RSSI       *int            `json:"rssi"`
    RouteID    string          `json:"route_id"`
    Seq        *int            `json:"orden"`
    MsgID      string          `json:"msg_id"`
}

// TelemetryHandler handles POST and GET /v1/telemetria.
func (s *Server) TelemetryHandler(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodPost:
        s.ingestTelemetry(w, r)
    case http.MethodGet:
        s.listTelemetry(w, r)
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// ingestTelemetry is the direct ingestion path: validate, check references
// before insert (avoids opaque constraint failures), persist, then return
// the stored row enriched with current bus/stop projections.
func (s *Server) ingestTelemetry(w http.ResponseWriter, r *http.Request) {
    var in telemetryIn
    if err := decodeJSON(r, &in); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    ev, err := s.buildEvent(r.Context(), in)
    if err != nil {
        metrics.TelemetryIngested.WithLabelValues("api", "rejected").Inc()
        writeError(w, r, err)
        return
    }

    stored, deduped, err := s.Store.AppendTelemetry(r.Context(), ev)
    if err != nil {
        metrics.TelemetryIngested.WithLabelValues("api", "error").Inc()
        writeError(w, r, err)
        return
    }
    if deduped {
        metrics.TelemetryIngested.WithLabelValues("api", "deduped").Inc()
    } else {
        metrics.TelemetryIngested.WithLabelValues("api", "stored").Inc()
    }

    payload := s.enrich(r.Context(), stored)

    // Broadcast normally flows through the notification channel; the
    // direct emit is a dev convenience and never fails the request.
    if !deduped && s.Cfg != nil && s.Cfg.Server.EmitOnIngest {
        if h, err := s.GetHub(); err == nil {
            payload.Source = "api"
            h.Broadcast(model.EventTelemetryInserted, payload)
        } else {
            log.Printf("api: emit skipped, hub not ready: %v", err)
        }
    }

    writeOK(w, http.StatusCreated, payload)
}

// buildEvent validates and normalizes the request into an Event.
func (s *Server) buildEvent(ctx context.Context, in telemetryIn) (model.Event, error) {
    var ev model.Event
    if in.BusID == "" || in.StopID == "" || in.Kind == "" {
        return ev, errs.Validationf("bus_id, parada_id y evento son requeridos")
    }

    if ok, err := s.busExists(ctx, in.BusID); err != nil {
        return ev, &errs.TransientError{Op: "bus lookup", Err: err}
    } else if !ok {
        return ev, &errs.ReferenceError{Entity: "bus", ID: in.BusID}
    }
    if ok, err := s.stopExists(ctx, in.StopID); err != nil {
        return ev, &errs.TransientError{Op: "parada lookup", Err: err}
    } else if !ok {
        return ev, &errs.ReferenceError{Entity: "parada", ID: in.StopID}
    }

    ts := time.Now().UTC()
    if in.TS != "" {
        parsed, err := time.Parse(time.RFC3339, in.TS)
        if err != nil {
            return ev, errs.Validationf("ts inválido: %s", in.TS)
        }
        ts = parsed
    }
    if in.Passengers != nil && *in.Passengers < 0 {
        return ev, errs.Validationf("numero_pasajeros debe ser >= 0")
    }

    return model.Event{
        BusID:      in.BusID,
        StopID:     in.StopID,
        Kind:       in.Kind,
        TS:         ts,
        Passengers: in.Passengers,
        RawPayload: normalizeRawPayload(in.RawPayload),
        RSSI:       in.RSSI,
        RouteID:    in.RouteID,
        Seq:        in.Seq,
        MsgID:      in.MsgID,
    }, nil
}

// enrich attaches the best-effort realtime projections. Projection
// failures are logged and leave the field nil, never failing the request.
func (s *Server) enrich(ctx context.Context, ev model.Event) model.BroadcastPayload {
    payload := model.BroadcastPayload{Telemetry: &ev}
    if b, err := s.Store.CurrentBusState(ctx, ev.BusID); err == nil {
        payload.Bus = &b
    } else if !errors.Is(err, store.ErrNotFound) {
        log.Printf("api: vw_buses_realtime lookup failed: %v", err)
    }
    if st, err := s.Store.CurrentStopState(ctx, ev.StopID); err == nil {
        payload.Stop = &st
    } else if !errors.Is(err, store.ErrNotFound) {
        log.Printf("api: vw_paradas_realtime lookup failed: %v", err)
    }
    return payload
}

// normalizeRawPayload keeps structured payloads verbatim and wraps bare or
// unparsable strings as {"raw": "..."}. Never fails the request.
func normalizeRawPayload(raw json.RawMessage) json.RawMessage {
    if len(raw) == 0 {
        return nil
    }
    var v any
    if err := json.Unmarshal(raw, &v); err == nil {
        if s, ok := v.(string); ok {
            var inner any
            if err := json.Unmarshal([]byte(s), &inner); err == nil {
                b, _ := json.Marshal(inner)
                return b
            }
            wrapped, _ := json.Marshal(map[string]string{"raw": s})
            return wrapped
        }
        return raw
    }
    wrapped, _ := json.Marshal(map[string]string{"raw": string(raw)})
    return wrapped
}

// listTelemetry handles GET /v1/telemetria?limit&offset&bus_id&parada_id,
// reverse chronological.
func (s *Server) listTelemetry(w http.ResponseWriter, r *http.Request) {
    q := r.URL.Query()
    f := store.TelemetryFilter{
        BusID:  q.Get("bus_id"),
        StopID: q.Get("parada_id"),
        Limit:  atoiDefault(q.Get("limit"), 100),
        Offset: atoiDefault(q.Get("offset"), 0),
    }
    rows, err := s.Store.ListTelemetry(r.Context(), f)
    if err != nil {
        writeError(w, r, err)
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{"ok": true, "count": len(rows), "data": rows})
}

func atoiDefault(s string, def int) int {
    if s == "" {
        return def
    }
    n, err := strconv.Atoi(s)
    if err != nil {
        return def
    }
    return n
}
