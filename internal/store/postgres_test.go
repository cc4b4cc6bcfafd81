package store

import "testing"

func TestNullIfEmpty(t *testing.T) {
    if v := nullIfEmpty(""); v != nil {
        t.Fatalf("empty string -> nil expected, got %v", v)
    }
    if v := nullIfEmpty("x"); v != "x" {
        t.Fatalf("non-empty -> value expected, got %v", v)
    }
    if v := nullIfEmptyBytes(nil); v != nil {
        t.Fatalf("nil bytes -> nil expected")
    }
    if v := nullIfEmptyBytes([]byte(`{}`)); v == nil {
        t.Fatalf("non-empty bytes -> value expected")
    }
}

func TestClampFilter(t *testing.T) {
    f := clampFilter(TelemetryFilter{})
    if f.Limit != 100 || f.Offset != 0 {
        t.Fatalf("defaults: %+v", f)
    }
    f = clampFilter(TelemetryFilter{Limit: 5000, Offset: -1})
    if f.Limit != 1000 || f.Offset != 0 {
        t.Fatalf("clamps: %+v", f)
    }
    f = clampFilter(TelemetryFilter{Limit: 7, Offset: 3})
    if f.Limit != 7 || f.Offset != 3 {
        t.Fatalf("passthrough: %+v", f)
    }
}
