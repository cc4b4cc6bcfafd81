package store

import (
    "context"
    "regexp"
    "sort"
    "sync"
    "time"

    "bustrack/internal/errs"
    "bustrack/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
// It mirrors the Postgres behavior closely enough for dev and tests,
// including msg_id dedup and the realtime projections.
type Memory struct {
    mu      sync.Mutex
    nextID  int64
    events  []model.Event
    byMsgID map[string]int64 // msg_id -> event id
    buses   map[string]model.Bus
    stops   map[string]model.Stop

    // OnInsert, when set, is called synchronously after each actual insert.
    // It stands in for the database NOTIFY trigger when running without
    // Postgres; the listener path is unavailable then.
    OnInsert func(model.Event)
}

func NewMemory() *Memory {
    return &Memory{
        byMsgID: map[string]int64{},
        buses:   map[string]model.Bus{},
        stops:   map[string]model.Stop{},
    }
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) AppendTelemetry(ctx context.Context, ev model.Event) (model.Event, bool, error) {
    m.mu.Lock()
    if ev.MsgID != "" {
        if id, ok := m.byMsgID[ev.MsgID]; ok {
            for _, e := range m.events {
                if e.ID == id {
                    m.mu.Unlock()
                    return e, true, nil
                }
            }
        }
    }
    m.nextID++
    ev.ID = m.nextID
    if ev.TS.IsZero() {
        ev.TS = time.Now().UTC()
    }
    ev.CreatedAt = time.Now().UTC()
    m.events = append(m.events, ev)
    if ev.MsgID != "" {
        m.byMsgID[ev.MsgID] = ev.ID
    }
    hook := m.OnInsert
    m.mu.Unlock()
    if hook != nil {
        hook(ev)
    }
    return ev, false, nil
}

func (m *Memory) ListTelemetry(ctx context.Context, f TelemetryFilter) ([]model.Event, error) {
    f = clampFilter(f)
    m.mu.Lock()
    defer m.mu.Unlock()
    matched := []model.Event{}
    for _, e := range m.events {
        if f.BusID != "" && e.BusID != f.BusID {
            continue
        }
        if f.StopID != "" && e.StopID != f.StopID {
            continue
        }
        matched = append(matched, e)
    }
    sort.Slice(matched, func(i, j int) bool {
        if !matched[i].TS.Equal(matched[j].TS) {
            return matched[i].TS.After(matched[j].TS)
        }
        return matched[i].ID > matched[j].ID
    })
    if f.Offset >= len(matched) {
        return []model.Event{}, nil
    }
    matched = matched[f.Offset:]
    if len(matched) > f.Limit {
        matched = matched[:f.Limit]
    }
    return matched, nil
}

func (m *Memory) CreateBus(ctx context.Context, b model.Bus) (model.Bus, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    if _, ok := m.buses[b.BusID]; ok {
        return model.Bus{}, &errs.ConflictError{Msg: "bus_id ya existe"}
    }
    if b.Status == "" {
        b.Status = "activo"
    }
    b.CreatedAt = time.Now().UTC()
    m.buses[b.BusID] = b
    return b, nil
}

func (m *Memory) GetBus(ctx context.Context, id string) (model.Bus, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    b, ok := m.buses[id]
    if !ok {
        return model.Bus{}, ErrNotFound
    }
    return b, nil
}

func (m *Memory) ListBuses(ctx context.Context) ([]model.Bus, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    out := []model.Bus{}
    for _, b := range m.buses {
        out = append(out, b)
    }
    sort.Slice(out, func(i, j int) bool { return out[i].BusID < out[j].BusID })
    return out, nil
}

func (m *Memory) UpdateBus(ctx context.Context, id string, p model.BusPatch) (model.Bus, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    b, ok := m.buses[id]
    if !ok {
        return model.Bus{}, ErrNotFound
    }
    if p.Plate != nil {
        b.Plate = *p.Plate
    }
    if p.Status != nil {
        b.Status = *p.Status
    }
    if p.Capacity != nil {
        b.Capacity = p.Capacity
    }
    if p.Description != nil {
        b.Description = *p.Description
    }
    m.buses[id] = b
    return b, nil
}

func (m *Memory) DeleteBus(ctx context.Context, id string) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    if _, ok := m.buses[id]; !ok {
        return ErrNotFound
    }
    delete(m.buses, id)
    return nil
}

func (m *Memory) CreateStop(ctx context.Context, s model.Stop) (model.Stop, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    if _, ok := m.stops[s.StopID]; ok {
        return model.Stop{}, &errs.ConflictError{Msg: "parada_id ya existe"}
    }
    if s.Status == "" {
        s.Status = "activa"
    }
    s.CreatedAt = time.Now().UTC()
    m.stops[s.StopID] = s
    return s, nil
}

func (m *Memory) GetStop(ctx context.Context, id string) (model.Stop, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    s, ok := m.stops[id]
    if !ok {
        return model.Stop{}, ErrNotFound
    }
    return s, nil
}

func (m *Memory) ListStops(ctx context.Context) ([]model.Stop, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    out := []model.Stop{}
    for _, s := range m.stops {
        out = append(out, s)
    }
    sort.Slice(out, func(i, j int) bool {
        si, sj := out[i], out[j]
        if si.Seq != nil && sj.Seq != nil && *si.Seq != *sj.Seq {
            return *si.Seq < *sj.Seq
        }
        if (si.Seq != nil) != (sj.Seq != nil) {
            return si.Seq != nil
        }
        return si.Name < sj.Name
    })
    return out, nil
}

func (m *Memory) UpdateStop(ctx context.Context, id string, p model.StopPatch) (model.Stop, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    s, ok := m.stops[id]
    if !ok {
        return model.Stop{}, ErrNotFound
    }
    if p.Name != nil {
        s.Name = *p.Name
    }
    if p.Status != nil {
        s.Status = *p.Status
    }
    if p.Description != nil {
        s.Description = *p.Description
    }
    if p.Seq != nil {
        s.Seq = p.Seq
    }
    if p.CoordX != nil {
        s.CoordX = p.CoordX
    }
    if p.CoordY != nil {
        s.CoordY = p.CoordY
    }
    now := time.Now().UTC()
    s.UpdatedAt = &now
    m.stops[id] = s
    return s, nil
}

func (m *Memory) DeleteStop(ctx context.Context, id string) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    if _, ok := m.stops[id]; !ok {
        return ErrNotFound
    }
    delete(m.stops, id)
    return nil
}

func (m *Memory) BusExists(ctx context.Context, id string) (bool, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    _, ok := m.buses[id]
    return ok, nil
}

func (m *Memory) StopExists(ctx context.Context, id string) (bool, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    _, ok := m.stops[id]
    return ok, nil
}

func (m *Memory) CurrentBusState(ctx context.Context, id string) (model.BusRealtime, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    latest, ok := m.latestByBus(id)
    if !ok {
        return model.BusRealtime{}, ErrNotFound
    }
    ts := latest.TS
    return model.BusRealtime{
        BusID:      id,
        LastStopID: latest.StopID,
        LastEvent:  latest.Kind,
        LastSeen:   &ts,
        Passengers: latest.Passengers,
    }, nil
}

func (m *Memory) CurrentStopState(ctx context.Context, id string) (model.StopRealtime, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    latest, ok := m.latestByStop(id)
    if !ok {
        return model.StopRealtime{}, ErrNotFound
    }
    ts := latest.TS
    return model.StopRealtime{
        StopID:       id,
        Status:       ClassifyKind(latest.Kind),
        CurrentBusID: latest.BusID,
        LastEvent:    latest.Kind,
        LastSeen:     &ts,
    }, nil
}

func (m *Memory) latestByBus(id string) (model.Event, bool) {
    var latest model.Event
    found := false
    for _, e := range m.events {
        if e.BusID != id {
            continue
        }
        if !found || e.TS.After(latest.TS) || (e.TS.Equal(latest.TS) && e.ID > latest.ID) {
            latest = e
            found = true
        }
    }
    return latest, found
}

func (m *Memory) latestByStop(id string) (model.Event, bool) {
    var latest model.Event
    found := false
    for _, e := range m.events {
        if e.StopID != id {
            continue
        }
        if !found || e.TS.After(latest.TS) || (e.TS.Equal(latest.TS) && e.ID > latest.ID) {
            latest = e
            found = true
        }
    }
    return latest, found
}

var (
    arrivedPat     = regexp.MustCompile(`(?i)llego|arriv`)
    approachingPat = regexp.MustCompile(`(?i)detect|aproxim|camino`)
)

// ClassifyKind maps a free-form event kind to a stop status. Mirrors the
// CASE expression in vw_paradas_realtime so both stores agree.
func ClassifyKind(kind string) string {
    switch {
    case arrivedPat.MatchString(kind):
        return "arrived"
    case approachingPat.MatchString(kind):
        return "approaching"
    default:
        return "idle"
    }
}
