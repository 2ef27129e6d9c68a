package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func TestNewBufferFromPCM16_Roundtrip(t *testing.T) {
	input := make([]byte, 8)
	binary.LittleEndian.PutUint16(input[0:], uint16(0))
	binary.LittleEndian.PutUint16(input[2:], uint16(16384))
	negQuarter := int16(-16384)
	negOne := int16(-1)
	binary.LittleEndian.PutUint16(input[4:], uint16(negQuarter))
	binary.LittleEndian.PutUint16(input[6:], uint16(negOne))

	buf, err := NewBufferFromPCM16(input, 24000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(buf.Samples) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(buf.Samples))
	}
	if buf.SampleRate != 24000 {
		t.Errorf("expected sample rate 24000, got %d", buf.SampleRate)
	}

	out := buf.PCM16()
	if len(out) != len(input) {
		t.Fatalf("expected %d bytes, got %d", len(input), len(out))
	}
	for i := 0; i < len(input); i += 2 {
		in := int16(binary.LittleEndian.Uint16(input[i:]))
		got := int16(binary.LittleEndian.Uint16(out[i:]))
		if diff := int(in) - int(got); diff < -1 || diff > 1 {
			t.Errorf("sample %d: expected %d, got %d", i/2, in, got)
		}
	}
}

func TestNewBufferFromPCM16_InvalidInput(t *testing.T) {
	if _, err := NewBufferFromPCM16(make([]byte, 4), 0); err == nil {
		t.Error("expected error for zero sample rate")
	}
	if _, err := NewBufferFromPCM16(make([]byte, 3), 24000); err == nil {
		t.Error("expected error for odd byte length")
	}
}

func TestPCM16_ClampsOutOfRange(t *testing.T) {
	buf := &Buffer{Samples: []float32{2.0, -2.0}, SampleRate: 24000}

	out := buf.PCM16()
	high := int16(binary.LittleEndian.Uint16(out[0:]))
	low := int16(binary.LittleEndian.Uint16(out[2:]))

	if high != math.MaxInt16 {
		t.Errorf("expected positive clamp to %d, got %d", math.MaxInt16, high)
	}
	if low != -math.MaxInt16 {
		t.Errorf("expected negative clamp to %d, got %d", -math.MaxInt16, low)
	}
}

func TestBuffer_Duration(t *testing.T) {
	buf := &Buffer{Samples: make([]float32, 24000), SampleRate: 24000}
	if d := buf.Duration(); math.Abs(d-1.0) > 1e-9 {
		t.Errorf("expected 1.0s, got %f", d)
	}

	half := &Buffer{Samples: make([]float32, 8000), SampleRate: 16000}
	if d := half.Duration(); math.Abs(d-0.5) > 1e-9 {
		t.Errorf("expected 0.5s, got %f", d)
	}

	zero := &Buffer{Samples: []float32{0.1}, SampleRate: 0}
	if d := zero.Duration(); d != 0 {
		t.Errorf("expected 0 for invalid rate, got %f", d)
	}
}

func TestWrapPCMAsWAV_Header(t *testing.T) {
	pcm := make([]byte, 200)
	wav := WrapPCMAsWAV(pcm, 24000, 1, 16)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("expected %d bytes, got %d", 44+len(pcm), len(wav))
	}
	if !bytes.Equal(wav[0:4], []byte("RIFF")) {
		t.Errorf("expected RIFF magic, got %q", wav[0:4])
	}
	if !bytes.Equal(wav[8:12], []byte("WAVE")) {
		t.Errorf("expected WAVE magic, got %q", wav[8:12])
	}
	if got := binary.LittleEndian.Uint32(wav[4:8]); got != uint32(36+len(pcm)) {
		t.Errorf("expected riff size %d, got %d", 36+len(pcm), got)
	}
	if got := binary.LittleEndian.Uint16(wav[22:24]); got != 1 {
		t.Errorf("expected 1 channel, got %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 24000 {
		t.Errorf("expected sample rate 24000, got %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 48000 {
		t.Errorf("expected byte rate 48000, got %d", got)
	}
	if got := binary.LittleEndian.Uint16(wav[34:36]); got != 16 {
		t.Errorf("expected 16 bits per sample, got %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Errorf("expected data size %d, got %d", len(pcm), got)
	}
}

func TestStreamingWAVHeader_PlaceholderSizes(t *testing.T) {
	header := StreamingWAVHeader(24000, 1, 16)

	if len(header) != 44 {
		t.Fatalf("expected 44 bytes, got %d", len(header))
	}
	if got := binary.LittleEndian.Uint32(header[4:8]); got != 0xFFFFFFFF {
		t.Errorf("expected placeholder riff size, got %d", got)
	}
	if got := binary.LittleEndian.Uint32(header[40:44]); got != 0xFFFFFFFF {
		t.Errorf("expected placeholder data size, got %d", got)
	}
	if got := binary.LittleEndian.Uint32(header[24:28]); got != 24000 {
		t.Errorf("expected sample rate 24000, got %d", got)
	}
}
