package ingest

import (
    "encoding/json"
    "time"
)

// Envelope is the shape field devices publish on the broker topics.
type Envelope struct {
    MsgID  string          `json:"msgId"`
    Type   string          `json:"type"`
    StopID string          `json:"stopId"`
    BusID  string          `json:"busId"`
    TS     string          `json:"ts"`
    Meta   json.RawMessage `json:"meta"`
}

// Result is a best-effort validation outcome. Callers decide per path
// whether warnings are fatal; the broker path logs and proceeds.
type Result struct {
    Valid    bool
    Warnings []string
}

// Validate checks the envelope shape without rejecting anything. Broker
// messages are lower-trust but still ingestable.
func Validate(env Envelope) Result {
    var warns []string
    if env.Type == "" {
        warns = append(warns, "missing type")
    }
    if env.StopID == "" && env.BusID == "" {
        warns = append(warns, "missing stopId and busId")
    }
    if env.TS != "" {
        if _, err := time.Parse(time.RFC3339, env.TS); err != nil {
            warns = append(warns, "unparsable ts: "+env.TS)
        }
    }
    return Result{Valid: len(warns) == 0, Warnings: warns}
}
