package listen

import (
    "errors"
    "testing"

    "bustrack/internal/errs"
    "bustrack/internal/model"
)

type fakeBroadcaster struct {
    events []string
    datas  []any
}

func (f *fakeBroadcaster) Broadcast(event string, data any) {
    f.events = append(f.events, event)
    f.datas = append(f.datas, data)
}

func TestHandleForwardsRowPayload(t *testing.T) {
    fb := &fakeBroadcaster{}
    l := New("", func() (Broadcaster, error) { return fb, nil })

    l.handle(`{"parada_id":"s1","bus_id":"b1","evento":"bus_llego","msg_id":"m1"}`)

    if len(fb.events) != 1 || fb.events[0] != model.EventTelemetryInserted {
        t.Fatalf("events = %v, want one telemetria_inserted", fb.events)
    }
    p, ok := fb.datas[0].(model.BroadcastPayload)
    if !ok {
        t.Fatalf("data = %#v, want BroadcastPayload", fb.datas[0])
    }
    if p.Source != "db" || p.Telemetry == nil || p.Telemetry.StopID != "s1" || p.Telemetry.Kind != "bus_llego" {
        t.Fatalf("payload = %+v", p)
    }
}

func TestHandleDropsWhenHubNotReady(t *testing.T) {
    calls := 0
    l := New("", func() (Broadcaster, error) {
        calls++
        return nil, errs.ErrNotInitialized
    })

    // Must not panic or retry; the notification is simply lost.
    l.handle(`{"parada_id":"s1","evento":"x"}`)
    if calls != 1 {
        t.Fatalf("getHub calls = %d, want 1", calls)
    }
}

func TestHandleSurvivesHubError(t *testing.T) {
    l := New("", func() (Broadcaster, error) { return nil, errors.New("boom") })
    l.handle(`not json at all`)
}

func TestDecodePayload(t *testing.T) {
    // Row-shaped JSON wraps into the broadcast contract.
    got := decodePayload(`{"bus_id":"b1","evento":"bus_detectado"}`)
    p, ok := got.(model.BroadcastPayload)
    if !ok || p.Telemetry == nil || p.Telemetry.BusID != "b1" {
        t.Fatalf("row payload = %#v", got)
    }

    // Arbitrary JSON passes through decoded.
    got = decodePayload(`{"hello":"world"}`)
    m, ok := got.(map[string]any)
    if !ok || m["hello"] != "world" {
        t.Fatalf("generic payload = %#v", got)
    }

    // Non-JSON passes through as the raw string.
    got = decodePayload(`plain text`)
    if got != "plain text" {
        t.Fatalf("raw payload = %#v", got)
    }
}
