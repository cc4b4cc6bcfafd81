// Package observer rebuilds per-stop runtime state from a snapshot fetch
// plus the live broadcast stream. State here is disposable: it lives only
// in observer memory and is idempotently reconstructable, so a missed
// broadcast self-heals on the next snapshot.
package observer

import (
    "regexp"
    "sort"
    "sync"
    "time"

    "bustrack/internal/model"
)

// Status is the bounded per-stop state machine:
// idle -> approaching -> arrived -> idle (on timeout or explicit idle).
type Status string

const (
    StatusIdle        Status = "idle"
    StatusApproaching Status = "approaching"
    StatusArrived     Status = "arrived"
)

// DefaultStaleAfter is how long an un-refreshed approaching/arrived stop
// keeps its status before reverting to idle.
const DefaultStaleAfter = 20 * time.Second

// Synthesized placeholder stops land at the center of the map.
const (
    defaultCoordX = 0.5
    defaultCoordY = 0.5
)

// BusETA is one active bus at a stop.
type BusETA struct {
    ID    string `json:"id"`
    Label string `json:"label"`
    ETA   string `json:"eta"`
}

// StopState is the derived runtime state for one stop. Buses has map
// semantics keyed by bus id (upsert, not append); Status == idle implies
// Buses is empty.
type StopState struct {
    ID     string   `json:"id"`
    Name   string   `json:"name"`
    X      float64  `json:"x"`
    Y      float64  `json:"y"`
    Status Status   `json:"status"`
    Buses  []BusETA `json:"buses"`
}

// Reconciler merges broadcast payloads into per-stop state with staleness
// timeouts. It is driven by a single event loop on the observer side; the
// mutex only serializes timer callbacks against event application.
type Reconciler struct {
    mu         sync.Mutex
    stops      map[string]*StopState
    timers     map[string]*time.Timer
    gen        map[string]uint64
    staleAfter time.Duration

    // afterFunc is swappable in tests.
    afterFunc func(d time.Duration, f func()) *time.Timer
}

// Option tunes a Reconciler.
type Option func(*Reconciler)

// WithStaleAfter overrides the staleness timeout.
func WithStaleAfter(d time.Duration) Option {
    return func(r *Reconciler) { r.staleAfter = d }
}

func New(opts ...Option) *Reconciler {
    r := &Reconciler{
        stops:      map[string]*StopState{},
        timers:     map[string]*time.Timer{},
        gen:        map[string]uint64{},
        staleAfter: DefaultStaleAfter,
        afterFunc:  time.AfterFunc,
    }
    for _, o := range opts {
        o(r)
    }
    return r
}

// LoadSnapshot replaces the whole mapping from a full stop fetch. Pending
// timers are cancelled; live events re-arm them as they come in.
func (r *Reconciler) LoadSnapshot(stops []model.Stop) {
    r.mu.Lock()
    defer r.mu.Unlock()
    for id, t := range r.timers {
        t.Stop()
        delete(r.timers, id)
    }
    r.stops = map[string]*StopState{}
    for _, s := range stops {
        st := &StopState{
            ID:     s.StopID,
            Name:   s.Name,
            X:      defaultCoordX,
            Y:      defaultCoordY,
            Status: StatusIdle,
            Buses:  []BusETA{},
        }
        if st.Name == "" {
            st.Name = s.StopID
        }
        if s.CoordX != nil {
            st.X = *s.CoordX
        }
        if s.CoordY != nil {
            st.Y = *s.CoordY
        }
        r.stops[s.StopID] = st
    }
}

// Apply merges one broadcast payload. Applying the same payload twice
// yields the same state as applying it once.
func (r *Reconciler) Apply(p model.BroadcastPayload) {
    t := p.Telemetry
    if t == nil || t.StopID == "" {
        return
    }
    status := Classify(p.Status, t.Kind)

    r.mu.Lock()
    defer r.mu.Unlock()

    st, ok := r.stops[t.StopID]
    if !ok {
        // Unknown stop: synthesize a minimal placeholder so the observer
        // never errors; the next snapshot fetch fills in the real record.
        st = &StopState{ID: t.StopID, Name: t.StopID, X: defaultCoordX, Y: defaultCoordY, Status: StatusIdle, Buses: []BusETA{}}
        r.stops[t.StopID] = st
    }

    st.Status = status
    if status == StatusIdle {
        st.Buses = []BusETA{}
    } else if t.BusID != "" {
        eta := "~2 min"
        if status == StatusArrived {
            eta = "now"
        }
        upsertBus(st, BusETA{ID: t.BusID, Label: "Bus " + t.BusID, ETA: eta})
    }

    r.armTimerLocked(t.StopID)
}

// Refresh is called on a refresh_paradas signal; the caller re-fetches the
// snapshot and passes it here.
func (r *Reconciler) Refresh(stops []model.Stop) { r.LoadSnapshot(stops) }

// armTimerLocked (re)schedules the staleness reversion for a stop,
// cancelling any prior pending timer first so two rapid events never leave
// two competing timers. Last event wins.
func (r *Reconciler) armTimerLocked(stopID string) {
    if prev, ok := r.timers[stopID]; ok {
        prev.Stop()
    }
    r.gen[stopID]++
    gen := r.gen[stopID]
    r.timers[stopID] = r.afterFunc(r.staleAfter, func() {
        r.expire(stopID, gen)
    })
}

// expire forces the stop back to idle unless a newer event superseded the
// timer in the meantime.
func (r *Reconciler) expire(stopID string, gen uint64) {
    r.mu.Lock()
    defer r.mu.Unlock()
    if r.gen[stopID] != gen {
        return
    }
    delete(r.timers, stopID)
    if st, ok := r.stops[stopID]; ok {
        st.Status = StatusIdle
        st.Buses = []BusETA{}
    }
}

// Stop returns a copy of one stop's state.
func (r *Reconciler) Stop(id string) (StopState, bool) {
    r.mu.Lock()
    defer r.mu.Unlock()
    st, ok := r.stops[id]
    if !ok {
        return StopState{}, false
    }
    return copyState(st), true
}

// Stops returns a copy of all stop states, ordered by id.
func (r *Reconciler) Stops() []StopState {
    r.mu.Lock()
    defer r.mu.Unlock()
    out := make([]StopState, 0, len(r.stops))
    for _, st := range r.stops {
        out = append(out, copyState(st))
    }
    sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
    return out
}

// Close cancels all pending timers.
func (r *Reconciler) Close() {
    r.mu.Lock()
    defer r.mu.Unlock()
    for id, t := range r.timers {
        t.Stop()
        delete(r.timers, id)
    }
}

var (
    arrivedPat     = regexp.MustCompile(`(?i)llego|arriv`)
    approachingPat = regexp.MustCompile(`(?i)detect|aproxim|camino`)
)

// Classify derives the stop status from an explicit status field when
// present, else from keyword patterns on the event kind.
func Classify(explicit, kind string) Status {
    switch Status(explicit) {
    case StatusIdle, StatusApproaching, StatusArrived:
        return Status(explicit)
    }
    switch {
    case arrivedPat.MatchString(kind):
        return StatusArrived
    case approachingPat.MatchString(kind):
        return StatusApproaching
    default:
        return StatusIdle
    }
}

func upsertBus(st *StopState, b BusETA) {
    for i := range st.Buses {
        if st.Buses[i].ID == b.ID {
            st.Buses[i] = b
            return
        }
    }
    st.Buses = append(st.Buses, b)
}

func copyState(st *StopState) StopState {
    out := *st
    out.Buses = append([]BusETA{}, st.Buses...)
    return out
}
