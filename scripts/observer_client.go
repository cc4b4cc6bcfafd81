// Package main runs a demo observer: snapshot fetch plus live WebSocket
// stream, reconciled into per-stop state.
package main

import (
    "bytes"
    "encoding/json"
    "fmt"
    "log"
    "net/http"
    "net/url"
    "os"
    "time"

    "github.com/gorilla/websocket"

    "bustrack/internal/model"
    "bustrack/internal/observer"
)

type frame struct {
    Event string          `json:"event"`
    Data  json.RawMessage `json:"data,omitempty"`
}

func main() {
    port := os.Getenv("PORT")
    if port == "" {
        port = "8080"
    }
    base := fmt.Sprintf("http://localhost:%s", port)

    // Seed a stop and a bus so the demo has something to track.
    post(base+"/v1/paradas", `{"parada_id":"stop-01","nombre":"Biblioteca","orden":1}`)
    post(base+"/v1/buses", `{"bus_id":"bus-1","placa":"UTP-001"}`)

    rec := observer.New()
    defer rec.Close()

    loadSnapshot(base, rec)

    u := url.URL{Scheme: "ws", Host: fmt.Sprintf("localhost:%s", port), Path: "/ws"}
    conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
    if err != nil {
        log.Fatalf("dial: %v", err)
    }
    defer func() { _ = conn.Close() }()
    log.Printf("connected to %s", u.String())

    // Fire one API ingestion so something arrives on the stream.
    go func() {
        time.Sleep(500 * time.Millisecond)
        post(base+"/v1/telemetria", `{"bus_id":"bus-1","parada_id":"stop-01","evento":"bus_detectado","msg_id":"demo-1"}`)
    }()

    for {
        var f frame
        if err := conn.ReadJSON(&f); err != nil {
            log.Printf("read: %v", err)
            return
        }
        switch f.Event {
        case model.EventTelemetryInserted:
            var p model.BroadcastPayload
            if err := json.Unmarshal(f.Data, &p); err != nil {
                log.Printf("bad payload: %v", err)
                continue
            }
            rec.Apply(p)
            for _, st := range rec.Stops() {
                log.Printf("stop %s: %s buses=%v", st.ID, st.Status, st.Buses)
            }
        case model.EventRefreshStops:
            loadSnapshot(base, rec)
        default:
            log.Printf("event %s", f.Event)
        }
    }
}

func loadSnapshot(base string, rec *observer.Reconciler) {
    resp, err := http.Get(base + "/v1/paradas")
    if err != nil {
        log.Printf("snapshot: %v", err)
        return
    }
    defer func() { _ = resp.Body.Close() }()
    var stops []model.Stop
    if err := json.NewDecoder(resp.Body).Decode(&stops); err != nil {
        log.Printf("snapshot decode: %v", err)
        return
    }
    rec.LoadSnapshot(stops)
    log.Printf("snapshot loaded: %d stops", len(stops))
}

func post(url, body string) {
    resp, err := http.Post(url, "application/json", bytes.NewReader([]byte(body)))
    if err != nil {
        log.Printf("POST %s: %v", url, err)
        return
    }
    _ = resp.Body.Close()
    log.Printf("POST %s -> %d", url, resp.StatusCode)
}
