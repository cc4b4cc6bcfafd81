package ingest

import (
    "encoding/json"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "bustrack/internal/model"
    "bustrack/internal/store"
)

type captureHub struct {
    events []string
    datas  []any
}

func (h *captureHub) Broadcast(event string, data any) {
    h.events = append(h.events, event)
    h.datas = append(h.datas, data)
}

func seeded(t *testing.T) *store.Memory {
    t.Helper()
    m := store.NewMemory()
    _, err := m.CreateStop(t.Context(), model.Stop{StopID: "s1", Name: "Biblioteca"})
    require.NoError(t, err)
    _, err = m.CreateBus(t.Context(), model.Bus{BusID: "b1"})
    require.NoError(t, err)
    return m
}

func TestHandleMessageStoresAndEmits(t *testing.T) {
    m := seeded(t)
    h := &captureHub{}
    c := NewConsumer(m, nil, func() (Broadcaster, error) { return h, nil })

    err := c.HandleMessage(t.Context(), "paradas/s1/event", `{"msgId":"m1","type":"bus_detectado","stopId":"s1","busId":"b1","ts":"2026-09-01T10:00:00Z"}`)
    require.NoError(t, err)

    evs, err := m.ListTelemetry(t.Context(), store.TelemetryFilter{})
    require.NoError(t, err)
    require.Len(t, evs, 1)
    assert.Equal(t, "bus_detectado", evs[0].Kind)
    assert.Equal(t, "s1", evs[0].StopID)
    assert.Equal(t, "m1", evs[0].MsgID)
    assert.JSONEq(t, `{"msgId":"m1","type":"bus_detectado","stopId":"s1","busId":"b1","ts":"2026-09-01T10:00:00Z"}`, string(evs[0].RawPayload))

    require.Len(t, h.events, 1)
    assert.Equal(t, model.EventStopEvent, h.events[0])
}

func TestHandleMessageDedupesByMsgID(t *testing.T) {
    m := seeded(t)
    c := NewConsumer(m, nil, nil)

    payload := `{"msgId":"m1","type":"bus_llego","stopId":"s1","busId":"b1"}`
    require.NoError(t, c.HandleMessage(t.Context(), "paradas/s1/event", payload))
    require.NoError(t, c.HandleMessage(t.Context(), "paradas/s1/event", payload))

    evs, err := m.ListTelemetry(t.Context(), store.TelemetryFilter{})
    require.NoError(t, err)
    assert.Len(t, evs, 1, "duplicate msgId must be absorbed, not duplicated")
}

func TestHandleMessageAcceptsUnknownReferences(t *testing.T) {
    // Broker path performs no existence checks; an unknown bus id is
    // persisted as-is on the memory store and only a database foreign key
    // would reject it.
    m := store.NewMemory()
    c := NewConsumer(m, nil, nil)

    err := c.HandleMessage(t.Context(), "buses/ghost/location", `{"type":"bus_location","busId":"ghost"}`)
    require.NoError(t, err)

    evs, err := m.ListTelemetry(t.Context(), store.TelemetryFilter{BusID: "ghost"})
    require.NoError(t, err)
    assert.Len(t, evs, 1)
}

func TestHandleMessageWrapsUnparsablePayload(t *testing.T) {
    m := seeded(t)
    c := NewConsumer(m, nil, nil)

    err := c.HandleMessage(t.Context(), "paradas/s1/event", `garbage not json`)
    require.NoError(t, err)

    evs, err := m.ListTelemetry(t.Context(), store.TelemetryFilter{})
    require.NoError(t, err)
    require.Len(t, evs, 1)
    assert.Equal(t, "parada_event", evs[0].Kind)
    assert.JSONEq(t, `{"raw":"garbage not json"}`, string(evs[0].RawPayload))
}

func TestHandleMessageSurvivesHubFailure(t *testing.T) {
    m := seeded(t)
    c := NewConsumer(m, nil, func() (Broadcaster, error) { return nil, assert.AnError })

    err := c.HandleMessage(t.Context(), "paradas/s1/event", `{"type":"bus_llego","stopId":"s1"}`)
    require.NoError(t, err)

    evs, err := m.ListTelemetry(t.Context(), store.TelemetryFilter{})
    require.NoError(t, err)
    assert.Len(t, evs, 1, "persistence must not depend on the hub")
}

func TestKindFromTopic(t *testing.T) {
    assert.Equal(t, "parada_event", kindFromTopic("paradas/s1/event"))
    assert.Equal(t, "bus_location", kindFromTopic("buses/bus-7/location"))
    assert.Equal(t, "broker_event", kindFromTopic("weird"))
}

func TestParsePayload(t *testing.T) {
    env, raw := parsePayload(`{"msgId":"m9","type":"t"}`)
    assert.Equal(t, "m9", env.MsgID)
    assert.Equal(t, json.RawMessage(`{"msgId":"m9","type":"t"}`), raw)

    env, raw = parsePayload(`]]]`)
    assert.Equal(t, Envelope{}, env)
    assert.JSONEq(t, `{"raw":"]]]"}`, string(raw))
}
