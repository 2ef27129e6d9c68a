package audio

import (
	"encoding/binary"
	"fmt"
)

// Buffer holds decoded mono audio samples at a declared sample rate.
// It is the unit of exchange between providers and the converter; one
// synthesis call produces one Buffer (or a sequence of chunk Buffers)
// consumed by exactly one request.
type Buffer struct {
	// Samples are mono samples in the range [-1, 1].
	Samples []float32

	// SampleRate is the rate the producing provider declared, in Hz.
	SampleRate int
}

// NewBufferFromPCM16 decodes little-endian signed 16-bit mono PCM into a Buffer.
func NewBufferFromPCM16(data []byte, sampleRate int) (*Buffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}

	const bytesPerSample = 2
	if len(data)%bytesPerSample != 0 {
		return nil, fmt.Errorf("pcm length %d is not a multiple of %d bytes per sample", len(data), bytesPerSample)
	}

	numSamples := len(data) / bytesPerSample
	samples := make([]float32, numSamples)
	for i := 0; i < numSamples; i++ {
		// Safe PCM16 conversion: the full int16 range is stored as unsigned bytes.
		s := int16(binary.LittleEndian.Uint16(data[i*bytesPerSample:])) //nolint:gosec // Safe PCM16 conversion
		samples[i] = float32(s) / 32768.0
	}

	return &Buffer{Samples: samples, SampleRate: sampleRate}, nil
}

// PCM16 encodes the buffer back to little-endian signed 16-bit mono PCM.
// Samples outside [-1, 1] are clamped.
func (b *Buffer) PCM16() []byte {
	const bytesPerSample = 2
	out := make([]byte, len(b.Samples)*bytesPerSample)
	for i, s := range b.Samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		v := int16(s * 32767.0)
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(v)) //nolint:gosec // Safe PCM16 conversion
	}
	return out
}

// Duration returns the playback length in seconds.
func (b *Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.SampleRate)
}
