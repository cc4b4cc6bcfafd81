package ingest

import (
    "testing"

    "github.com/stretchr/testify/assert"
)

func TestValidateCleanEnvelope(t *testing.T) {
    res := Validate(Envelope{Type: "bus_llego", StopID: "s1", TS: "2026-09-01T10:00:00Z"})
    assert.True(t, res.Valid)
    assert.Empty(t, res.Warnings)
}

func TestValidateCollectsWarnings(t *testing.T) {
    res := Validate(Envelope{TS: "yesterday"})
    assert.False(t, res.Valid)
    assert.Contains(t, res.Warnings, "missing type")
    assert.Contains(t, res.Warnings, "missing stopId and busId")
    assert.Contains(t, res.Warnings, "unparsable ts: yesterday")
}

func TestValidateBusOnlyEnvelope(t *testing.T) {
    res := Validate(Envelope{Type: "bus_location", BusID: "b1"})
    assert.True(t, res.Valid)
}
