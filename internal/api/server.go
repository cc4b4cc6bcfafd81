// Package api implements the HTTP surface of the transit telemetry service.
package api

import (
    "context"
    "net/http"
    "time"

    cache "github.com/patrickmn/go-cache"

    "bustrack/config"
    "bustrack/internal/buildinfo"
    "bustrack/internal/hub"
    "bustrack/internal/model"
    "bustrack/internal/store"
)

// Ingestor is the broker-path entry point, exposed over HTTP for the
// simulate endpoint so synthetic messages run through the exact broker code.
type Ingestor interface {
    HandleMessage(ctx context.Context, topic, payload string) error
}

type Server struct {
    Store  store.Store
    Cfg    *config.Config
    Ingest Ingestor
    // GetHub resolves the broadcast hub; typed accessor instead of a
    // runtime probe, so tests can inject and prod wires hub.Get.
    GetHub func() (*hub.Hub, error)

    refCache *cache.Cache
}

func NewServer(cfg *config.Config, st store.Store) *Server {
    return &Server{
        Store:  st,
        Cfg:    cfg,
        GetHub: hub.Get,
        // Reference rows change rarely; a short TTL keeps the per-event
        // existence checks off the database's hot path.
        refCache: cache.New(30*time.Second, time.Minute),
    }
}

func (s *Server) busExists(ctx context.Context, id string) (bool, error) {
    if v, ok := s.refCache.Get("bus:" + id); ok {
        return v.(bool), nil
    }
    ok, err := s.Store.BusExists(ctx, id)
    if err != nil {
        return false, err
    }
    // Only positive results are cached: a just-created bus must be
    // ingestable immediately.
    if ok {
        s.refCache.SetDefault("bus:"+id, true)
    }
    return ok, nil
}

func (s *Server) stopExists(ctx context.Context, id string) (bool, error) {
    if v, ok := s.refCache.Get("parada:" + id); ok {
        return v.(bool), nil
    }
    ok, err := s.Store.StopExists(ctx, id)
    if err != nil {
        return false, err
    }
    if ok {
        s.refCache.SetDefault("parada:"+id, true)
    }
    return ok, nil
}

// WSHandler upgrades observers into hub sessions.
func (s *Server) WSHandler(w http.ResponseWriter, r *http.Request) {
    h, err := s.GetHub()
    if err != nil {
        writeProblem(w, http.StatusServiceUnavailable, "Hub not ready", err.Error(), r.URL.Path)
        return
    }
    h.HandleWS(w, r)
}

// RefreshHandler broadcasts the full-refresh signal telling observers to
// re-fetch the snapshot.
func (s *Server) RefreshHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    h, err := s.GetHub()
    if err != nil {
        writeProblem(w, http.StatusServiceUnavailable, "Hub not ready", err.Error(), r.URL.Path)
        return
    }
    h.Broadcast(model.EventRefreshStops, nil)
    writeOK(w, http.StatusOK, map[string]any{"sessions": h.Sessions()})
}

// SimulateHandler feeds a synthetic broker message through the consumer.
func (s *Server) SimulateHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    if s.Ingest == nil {
        writeProblem(w, http.StatusServiceUnavailable, "Broker path disabled", "no consumer configured", r.URL.Path)
        return
    }
    var req struct {
        Topic   string `json:"topic"`
        Payload any    `json:"payload"`
    }
    if err := decodeJSON(r, &req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if req.Topic == "" {
        writeProblem(w, http.StatusBadRequest, "Invalid request", "topic requerido", r.URL.Path)
        return
    }
    payload := encodePayload(req.Payload)
    if err := s.Ingest.HandleMessage(r.Context(), req.Topic, payload); err != nil {
        writeError(w, r, err)
        return
    }
    writeOK(w, http.StatusOK, nil)
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, http.StatusOK, map[string]any{"ok": true, "build": buildinfo.Info()})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
    defer cancel()
    if err := s.Store.Ping(ctx); err != nil {
        writeProblem(w, http.StatusServiceUnavailable, "Store unavailable", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
