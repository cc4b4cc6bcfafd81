package api

import (
    "encoding/json"
    "errors"
    "net/http"

    "bustrack/internal/errs"
    "bustrack/internal/store"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
    Type     string `json:"type"`
    Title    string `json:"title"`
    Status   int    `json:"status"`
    Detail   string `json:"detail,omitempty"`
    Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(status)
    _ = json.NewEncoder(w).Encode(v)
}

// writeOK wraps successful payloads in the {ok, data} envelope the mobile
// clients already consume.
func writeOK(w http.ResponseWriter, status int, data any) {
    writeJSON(w, status, map[string]any{"ok": true, "data": data})
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
    writeJSON(w, status, Problem{
        Type:     "about:blank",
        Title:    title,
        Status:   status,
        Detail:   detail,
        Instance: instance,
    })
}

func decodeJSON(r *http.Request, v any) error {
    return json.NewDecoder(r.Body).Decode(v)
}

// encodePayload turns an arbitrary simulate payload back into the string
// form a device would have published.
func encodePayload(v any) string {
    if s, ok := v.(string); ok {
        return s
    }
    b, err := json.Marshal(v)
    if err != nil {
        return ""
    }
    return string(b)
}

// writeError maps the shared error taxonomy onto status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
    switch {
    case errs.IsValidation(err):
        writeProblem(w, http.StatusBadRequest, "Invalid request", err.Error(), r.URL.Path)
    case errs.IsReference(err):
        writeProblem(w, http.StatusBadRequest, "Unknown reference", err.Error(), r.URL.Path)
    case errs.IsConflict(err):
        writeProblem(w, http.StatusConflict, "Conflict", err.Error(), r.URL.Path)
    case errors.Is(err, store.ErrNotFound):
        writeProblem(w, http.StatusNotFound, "Not found", "", r.URL.Path)
    default:
        writeProblem(w, http.StatusInternalServerError, "Internal error", err.Error(), r.URL.Path)
    }
}
