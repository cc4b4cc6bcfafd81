package hub

import (
    "errors"
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"
    "time"

    "github.com/gorilla/websocket"
    "go.uber.org/goleak"

    "bustrack/internal/errs"
)

func TestMain(m *testing.M) {
    goleak.VerifyTestMain(m)
}

func resetInstance() {
    instMu.Lock()
    instance = nil
    instMu.Unlock()
}

func TestInitAndGetLifecycle(t *testing.T) {
    resetInstance()
    defer resetInstance()

    if _, err := Get(); !errors.Is(err, errs.ErrNotInitialized) {
        t.Fatalf("Get before Init: err = %v, want ErrNotInitialized", err)
    }

    first := Init(Options{SendBuffer: 4})
    second := Init(Options{SendBuffer: 99})
    if first != second {
        t.Fatal("Init must return the same hub on repeated calls")
    }
    if second.opts.SendBuffer != 4 {
        t.Fatalf("later Init options applied: SendBuffer = %d", second.opts.SendBuffer)
    }

    got, err := Get()
    if err != nil {
        t.Fatalf("Get after Init: %v", err)
    }
    if got != first {
        t.Fatal("Get returned a different hub than Init")
    }
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
    t.Helper()
    url := "ws" + strings.TrimPrefix(srv.URL, "http")
    conn, _, err := websocket.DefaultDialer.Dial(url, nil)
    if err != nil {
        t.Fatalf("dial: %v", err)
    }
    return conn
}

func waitSessions(t *testing.T, h *Hub, want int) {
    t.Helper()
    deadline := time.Now().Add(2 * time.Second)
    for h.Sessions() != want {
        if time.Now().After(deadline) {
            t.Fatalf("sessions = %d, want %d", h.Sessions(), want)
        }
        time.Sleep(5 * time.Millisecond)
    }
}

func TestBroadcastReachesAllSessions(t *testing.T) {
    h := New(Options{})
    srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
    defer srv.Close()
    defer h.Close()

    a := dial(t, srv)
    defer a.Close()
    b := dial(t, srv)
    defer b.Close()
    waitSessions(t, h, 2)

    h.Broadcast("parada_event", map[string]string{"parada_id": "s1"})

    for _, conn := range []*websocket.Conn{a, b} {
        _ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
        var f Frame
        if err := conn.ReadJSON(&f); err != nil {
            t.Fatalf("read frame: %v", err)
        }
        if f.Event != "parada_event" {
            t.Fatalf("event = %q, want parada_event", f.Event)
        }
        data, ok := f.Data.(map[string]any)
        if !ok || data["parada_id"] != "s1" {
            t.Fatalf("data = %#v", f.Data)
        }
    }
}

func TestBroadcastDoesNotBlockOnFullBuffer(t *testing.T) {
    h := New(Options{SendBuffer: 1, WriteTimeout: 100 * time.Millisecond})
    srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
    defer srv.Close()
    defer h.Close()

    conn := dial(t, srv)
    defer conn.Close()
    waitSessions(t, h, 1)

    // The client never reads; once the buffer is full further frames are
    // dropped and Broadcast returns immediately.
    done := make(chan struct{})
    go func() {
        for i := 0; i < 100; i++ {
            h.Broadcast("telemetria_inserted", i)
        }
        close(done)
    }()
    select {
    case <-done:
    case <-time.After(2 * time.Second):
        t.Fatal("Broadcast blocked on a slow session")
    }
}

func TestDisconnectRemovesSession(t *testing.T) {
    h := New(Options{})
    srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
    defer srv.Close()
    defer h.Close()

    conn := dial(t, srv)
    waitSessions(t, h, 1)
    conn.Close()
    waitSessions(t, h, 0)
}
