package engine

import (
	"errors"
	"testing"
)

func TestParseDataType(t *testing.T) {
	for in, want := range map[string]DataType{
		"TYPE_FP32": TypeFP32,
		"fp32":      TypeFP32,
		"INT64":     TypeInt64,
		"type_bool": TypeBool,
	} {
		got, err := ParseDataType(in)
		if err != nil || got != want {
			t.Fatalf("ParseDataType(%q)=%q,%v want %q", in, got, err, want)
		}
	}
	if _, err := ParseDataType("TYPE_STRING"); err == nil {
		t.Fatalf("expected error for unsupported datatype")
	}
}

func TestByteSize(t *testing.T) {
	if got := ByteSize(TypeFP32, Shape{2, 10}); got != 80 {
		t.Fatalf("got %d", got)
	}
	if got := ByteSize(TypeFP32, Shape{-1, 10}); got != -1 {
		t.Fatalf("dynamic shape: got %d", got)
	}
	if got := ByteSize(TypeInvalid, Shape{1}); got != -1 {
		t.Fatalf("invalid type: got %d", got)
	}
}

func TestShapeOverflowIsRejected(t *testing.T) {
	if got := (Shape{4, 1 << 62}).NumElements(); got != -1 {
		t.Fatalf("NumElements wrapped to %d", got)
	}
	if got := (Shape{0, 1 << 62, 1 << 62}).NumElements(); got != 0 {
		t.Fatalf("zero dim: got %d", got)
	}
	if got := ByteSize(TypeFP64, Shape{1 << 61}); got != -1 {
		t.Fatalf("ByteSize wrapped to %d", got)
	}
	if got := ByteSize(TypeFP64, Shape{1 << 50}); got != 8<<50 {
		t.Fatalf("large but valid: got %d", got)
	}
}

func TestShapeHelpers(t *testing.T) {
	s := Shape{-1, 5}
	b := s.WithBatch(3)
	if !b.Equal(Shape{3, 5}) || s[0] != -1 {
		t.Fatalf("WithBatch aliased or wrong: %v %v", s, b)
	}
	if !s.Compatible(Shape{7, 5}) || s.Compatible(Shape{7, 6}) || s.Compatible(Shape{5}) {
		t.Fatalf("Compatible mismatch")
	}
	if s.String() != "[-1,5]" {
		t.Fatalf("String=%s", s.String())
	}
}

func TestGuardRecoversPanic(t *testing.T) {
	err := Guard(func() error { panic("boom") })
	var pe *PanicError
	if !errors.As(err, &pe) || pe.Value != "boom" {
		t.Fatalf("expected PanicError, got %v", err)
	}
	want := errors.New("plain")
	if err := Guard(func() error { return want }); err != want {
		t.Fatalf("expected passthrough error, got %v", err)
	}
}
