// Package hub holds the process-wide set of WebSocket observer sessions
// and fans named events out to all of them. One hub per process: Init is
// idempotent and Get fails before Init, making initialization order an
// explicit startup dependency rather than a runtime probe.
package hub

import (
    "log"
    "net/http"
    "sync"
    "time"

    "github.com/google/uuid"
    "github.com/gorilla/websocket"

    "bustrack/internal/errs"
    "bustrack/internal/metrics"
)

// Options tunes session write behavior.
type Options struct {
    WriteTimeout time.Duration
    SendBuffer   int
    CheckOrigin  func(r *http.Request) bool
}

// Frame is the wire envelope written to every session.
type Frame struct {
    Event string `json:"event"`
    Data  any    `json:"data,omitempty"`
}

type session struct {
    id   string
    conn *websocket.Conn
    send chan Frame
}

// Hub is the broadcast hub. Session bookkeeping is mutex-guarded; sends
// are non-blocking so one slow session never stalls a broadcast.
type Hub struct {
    mu       sync.Mutex
    sessions map[string]*session
    opts     Options
    upgrader websocket.Upgrader
}

var (
    instMu   sync.Mutex
    instance *Hub
)

// Init constructs the process hub on first call and returns the existing
// instance afterwards, ignoring later options.
func Init(opts Options) *Hub {
    instMu.Lock()
    defer instMu.Unlock()
    if instance == nil {
        instance = New(opts)
    }
    return instance
}

// Get returns the initialized hub or ErrNotInitialized.
func Get() (*Hub, error) {
    instMu.Lock()
    defer instMu.Unlock()
    if instance == nil {
        return nil, errs.ErrNotInitialized
    }
    return instance, nil
}

// New builds an unregistered hub. Production code goes through Init/Get;
// tests construct hubs directly.
func New(opts Options) *Hub {
    if opts.WriteTimeout <= 0 {
        opts.WriteTimeout = 5 * time.Second
    }
    if opts.SendBuffer <= 0 {
        opts.SendBuffer = 16
    }
    checkOrigin := opts.CheckOrigin
    if checkOrigin == nil {
        checkOrigin = func(_ *http.Request) bool { return true }
    }
    return &Hub{
        sessions: map[string]*session{},
        opts:     opts,
        upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
    }
}

// Broadcast sends a named event to all currently connected sessions.
// No acknowledgment, no retry; sessions with a full buffer drop the frame.
func (h *Hub) Broadcast(event string, data any) {
    f := Frame{Event: event, Data: data}
    h.mu.Lock()
    for _, s := range h.sessions {
        select {
        case s.send <- f:
        default:
        }
    }
    h.mu.Unlock()
    metrics.Broadcasts.WithLabelValues(event).Inc()
}

// Sessions reports the number of connected sessions.
func (h *Hub) Sessions() int {
    h.mu.Lock()
    defer h.mu.Unlock()
    return len(h.sessions)
}

// HandleWS upgrades the request and runs the session until the peer goes
// away. Session lifecycle beyond connect/disconnect logging is the
// transport's business, not the hub's.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
    conn, err := h.upgrader.Upgrade(w, r, nil)
    if err != nil {
        return
    }
    s := &session{id: uuid.NewString(), conn: conn, send: make(chan Frame, h.opts.SendBuffer)}
    h.mu.Lock()
    h.sessions[s.id] = s
    n := len(h.sessions)
    h.mu.Unlock()
    metrics.WSSessions.Set(float64(n))
    log.Printf("hub: session %s connected (%d active)", s.id, n)

    done := make(chan struct{})
    go h.writeLoop(s, done)
    h.readLoop(s)
    close(done)

    h.mu.Lock()
    delete(h.sessions, s.id)
    n = len(h.sessions)
    h.mu.Unlock()
    metrics.WSSessions.Set(float64(n))
    _ = conn.Close()
    log.Printf("hub: session %s disconnected (%d active)", s.id, n)
}

func (h *Hub) writeLoop(s *session, done <-chan struct{}) {
    ticker := time.NewTicker(20 * time.Second)
    defer ticker.Stop()
    for {
        select {
        case <-done:
            return
        case f := <-s.send:
            _ = s.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
            if err := s.conn.WriteJSON(f); err != nil {
                return
            }
        case <-ticker.C:
            _ = s.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
            if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
                return
            }
        }
    }
}

func (h *Hub) readLoop(s *session) {
    s.conn.SetReadLimit(1 << 20)
    _ = s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
    s.conn.SetPongHandler(func(string) error {
        _ = s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
        return nil
    })
    for {
        // Observers only listen; inbound frames just refresh the deadline.
        if _, _, err := s.conn.ReadMessage(); err != nil {
            return
        }
        _ = s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
    }
}

// Close disconnects all sessions. Used by tests and shutdown.
func (h *Hub) Close() {
    h.mu.Lock()
    sessions := make([]*session, 0, len(h.sessions))
    for _, s := range h.sessions {
        sessions = append(sessions, s)
    }
    h.sessions = map[string]*session{}
    h.mu.Unlock()
    for _, s := range sessions {
        _ = s.conn.Close()
    }
    metrics.WSSessions.Set(0)
}
