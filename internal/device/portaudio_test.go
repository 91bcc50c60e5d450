package device

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/rs/zerolog"
)

func TestEncodeFloat32(t *testing.T) {
	input := []float32{0.5, -1.0, 0.25, 0}
	got := encodeFloat32(nil, input)

	if len(got) != len(input)*4 {
		t.Fatalf("expected %d bytes, got %d", len(input)*4, len(got))
	}
	for i, want := range input {
		v := math.Float32frombits(binary.LittleEndian.Uint32(got[i*4:]))
		if v != want {
			t.Fatalf("element %d: expected %f, got %f", i, want, v)
		}
	}
}

func TestEncodeInt16(t *testing.T) {
	input := []int16{1, -1, 32767, -32768}
	got := encodeInt16(nil, input)

	expected := []byte{
		0x01, 0x00,
		0xFF, 0xFF,
		0xFF, 0x7F,
		0x00, 0x80,
	}
	if len(got) != len(expected) {
		t.Fatalf("expected %d bytes, got %d", len(expected), len(got))
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Fatalf("byte %d mismatch: expected %#x, got %#x", i, expected[i], got[i])
		}
	}
}

func TestEncodeReusesBuffer(t *testing.T) {
	buf := make([]byte, 0, 64)
	got := encodeInt16(buf, []int16{1, 2, 3})
	if &got[0] != &buf[:1][0] {
		t.Fatal("expected encode to reuse a buffer with enough capacity")
	}

	grown := encodeFloat32(got, make([]float32, 32))
	if len(grown) != 128 {
		t.Fatalf("expected 128 bytes, got %d", len(grown))
	}
}

func TestPortAudioRequiresOpen(t *testing.T) {
	p := NewPortAudio("", 0, zerolog.Nop())
	if err := p.Configure(Params{}); err != ErrNotOpen {
		t.Errorf("Configure() before Open error = %v, want ErrNotOpen", err)
	}
	if err := p.StartStream(func(Transfer) int { return Continue }); err != ErrNotOpen {
		t.Errorf("StartStream() before Open error = %v, want ErrNotOpen", err)
	}
	if p.IsStreaming() {
		t.Error("unopened driver should not be streaming")
	}
	if err := p.StopStream(); err != nil {
		t.Errorf("StopStream() on idle driver error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close() on unopened driver error = %v", err)
	}
}
