package errs

import (
    "errors"
    "fmt"
    "testing"
)

func TestTaxonomyPredicates(t *testing.T) {
    val := Validationf("ts inválido: %s", "x")
    ref := &ReferenceError{Entity: "bus", ID: "b9"}
    conf := &ConflictError{Msg: "bus_id ya existe"}

    if !IsValidation(val) || IsValidation(ref) || IsValidation(conf) {
        t.Fatal("IsValidation misclassifies")
    }
    if !IsReference(ref) || IsReference(val) {
        t.Fatal("IsReference misclassifies")
    }
    if !IsConflict(conf) || IsConflict(ref) {
        t.Fatal("IsConflict misclassifies")
    }
}

func TestPredicatesSeeThroughWrapping(t *testing.T) {
    wrapped := fmt.Errorf("append: %w", &ReferenceError{Entity: "parada", ID: "s9"})
    if !IsReference(wrapped) {
        t.Fatal("wrapped ReferenceError not detected")
    }
}

func TestTransientUnwrap(t *testing.T) {
    inner := errors.New("connection refused")
    err := &TransientError{Op: "bus lookup", Err: inner}
    if !errors.Is(err, inner) {
        t.Fatal("TransientError must unwrap to its cause")
    }
    if err.Error() != "bus lookup: connection refused" {
        t.Fatalf("message = %q", err.Error())
    }
}

func TestReferenceErrorMessage(t *testing.T) {
    err := &ReferenceError{Entity: "bus", ID: "b1"}
    if err.Error() != "bus 'b1' no existe" {
        t.Fatalf("message = %q", err.Error())
    }
}
