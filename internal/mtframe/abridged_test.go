package mtframe

import (
	"bytes"
	"testing"
)

func TestAbridgedRoundTripShort(t *testing.T) {
	var buf bytes.Buffer
	w := NewAbridgedWriter(&buf)
	msg := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if err := w.WriteMessage(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
	if buf.Bytes()[0] != 2 {
		t.Fatalf("expected length byte 2 (8/4), got %d", buf.Bytes()[0])
	}

	r := NewAbridgedReader(&buf)
	got, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, msg) {
		t.Fatalf("round trip mismatch: got=%x want=%x", got, msg)
	}
}

func TestAbridgedRoundTripLong(t *testing.T) {
	var buf bytes.Buffer
	w := NewAbridgedWriter(&buf)
	msg := bytes.Repeat([]byte{0xab}, 4*0x80)
	if err := w.WriteMessage(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
	if buf.Bytes()[0] != abridgedLongLenMarker {
		t.Fatalf("expected long-form marker, got %#x", buf.Bytes()[0])
	}

	r := NewAbridgedReader(&buf)
	got, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, msg) {
		t.Fatalf("round trip mismatch for long message")
	}
}

func TestAbridgedWriteRejectsUnaligned(t *testing.T) {
	var buf bytes.Buffer
	w := NewAbridgedWriter(&buf)
	if err := w.WriteMessage([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for non-multiple-of-4 message")
	}
}
