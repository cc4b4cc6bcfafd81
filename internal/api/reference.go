package api

import (
    "net/http"
    "strings"

    "bustrack/internal/model"
)

// Reference-data CRUD for buses and stops. These endpoints are the
// collaborator the ingestion gateway checks against; the telemetry table
// itself stays append-only.

// StopsHandler handles /v1/paradas.
func (s *Server) StopsHandler(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodGet:
        stops, err := s.Store.ListStops(r.Context())
        if err != nil {
            writeError(w, r, err)
            return
        }
        writeJSON(w, http.StatusOK, stops)
    case http.MethodPost:
        var in model.Stop
        if err := decodeJSON(r, &in); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if in.StopID == "" || in.Name == "" {
            writeProblem(w, http.StatusBadRequest, "Invalid request", "parada_id y nombre son requeridos", r.URL.Path)
            return
        }
        created, err := s.Store.CreateStop(r.Context(), in)
        if err != nil {
            writeError(w, r, err)
            return
        }
        writeOK(w, http.StatusCreated, created)
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// StopByIDHandler handles /v1/paradas/{id} and /v1/paradas/{id}/realtime.
func (s *Server) StopByIDHandler(w http.ResponseWriter, r *http.Request) {
    id, sub := splitIDPath(r.URL.Path, "/v1/paradas/")
    if id == "" {
        writeProblem(w, http.StatusNotFound, "Not found", "", r.URL.Path)
        return
    }
    if sub == "realtime" {
        if r.Method != http.MethodGet {
            w.WriteHeader(http.StatusMethodNotAllowed)
            return
        }
        state, err := s.Store.CurrentStopState(r.Context(), id)
        if err != nil {
            writeError(w, r, err)
            return
        }
        writeOK(w, http.StatusOK, state)
        return
    }
    switch r.Method {
    case http.MethodGet:
        stop, err := s.Store.GetStop(r.Context(), id)
        if err != nil {
            writeError(w, r, err)
            return
        }
        writeJSON(w, http.StatusOK, stop)
    case http.MethodPut:
        var patch model.StopPatch
        if err := decodeJSON(r, &patch); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        updated, err := s.Store.UpdateStop(r.Context(), id, patch)
        if err != nil {
            writeError(w, r, err)
            return
        }
        writeOK(w, http.StatusOK, updated)
    case http.MethodDelete:
        if err := s.Store.DeleteStop(r.Context(), id); err != nil {
            writeError(w, r, err)
            return
        }
        writeOK(w, http.StatusOK, map[string]string{"parada_id": id})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// BusesHandler handles /v1/buses.
func (s *Server) BusesHandler(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodGet:
        buses, err := s.Store.ListBuses(r.Context())
        if err != nil {
            writeError(w, r, err)
            return
        }
        writeJSON(w, http.StatusOK, buses)
    case http.MethodPost:
        var in model.Bus
        if err := decodeJSON(r, &in); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if in.BusID == "" {
            writeProblem(w, http.StatusBadRequest, "Invalid request", "bus_id es requerido", r.URL.Path)
            return
        }
        created, err := s.Store.CreateBus(r.Context(), in)
        if err != nil {
            writeError(w, r, err)
            return
        }
        writeOK(w, http.StatusCreated, created)
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// BusByIDHandler handles /v1/buses/{id} and /v1/buses/{id}/realtime.
func (s *Server) BusByIDHandler(w http.ResponseWriter, r *http.Request) {
    id, sub := splitIDPath(r.URL.Path, "/v1/buses/")
    if id == "" {
        writeProblem(w, http.StatusNotFound, "Not found", "", r.URL.Path)
        return
    }
    if sub == "realtime" {
        if r.Method != http.MethodGet {
            w.WriteHeader(http.StatusMethodNotAllowed)
            return
        }
        state, err := s.Store.CurrentBusState(r.Context(), id)
        if err != nil {
            writeError(w, r, err)
            return
        }
        writeOK(w, http.StatusOK, state)
        return
    }
    switch r.Method {
    case http.MethodGet:
        bus, err := s.Store.GetBus(r.Context(), id)
        if err != nil {
            writeError(w, r, err)
            return
        }
        writeJSON(w, http.StatusOK, bus)
    case http.MethodPut:
        var patch model.BusPatch
        if err := decodeJSON(r, &patch); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        updated, err := s.Store.UpdateBus(r.Context(), id, patch)
        if err != nil {
            writeError(w, r, err)
            return
        }
        writeOK(w, http.StatusOK, updated)
    case http.MethodDelete:
        if err := s.Store.DeleteBus(r.Context(), id); err != nil {
            writeError(w, r, err)
            return
        }
        writeOK(w, http.StatusOK, map[string]string{"bus_id": id})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

func splitIDPath(path, prefix string) (id, sub string) {
    rest := strings.TrimPrefix(path, prefix)
    if rest == path {
        return "", ""
    }
    parts := strings.SplitN(strings.Trim(rest, "/"), "/", 2)
    id = parts[0]
    if len(parts) > 1 {
        sub = parts[1]
    }
    return id, sub
}
