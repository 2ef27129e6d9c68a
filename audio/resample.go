package audio

import (
	"encoding/binary"
	"fmt"
)

// Standard audio sample rates for common use cases.
const (
	SampleRate24kHz = 24000 // Native rate of the neural TTS backends
	SampleRate16kHz = 16000 // Native rate of the Polly PCM output
)

// ResamplePCM16 resamples PCM16 audio data from one sample rate to another.
// Uses linear interpolation for reasonable quality resampling.
// Input and output are little-endian 16-bit signed PCM samples.
func ResamplePCM16(input []byte, fromRate, toRate int) ([]byte, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates: from=%d, to=%d", fromRate, toRate)
	}

	if fromRate == toRate {
		// No resampling needed, return a copy
		result := make([]byte, len(input))
		copy(result, input)
		return result, nil
	}

	// Each sample is 2 bytes (16-bit)
	const bytesPerSample = 2
	if len(input)%bytesPerSample != 0 {
		return nil, fmt.Errorf("input length %d is not a multiple of %d bytes per sample", len(input), bytesPerSample)
	}

	numInputSamples := len(input) / bytesPerSample
	if numInputSamples == 0 {
		return []byte{}, nil
	}

	// Calculate output size
	numOutputSamples := int(float64(numInputSamples) * float64(toRate) / float64(fromRate))
	if numOutputSamples == 0 {
		return []byte{}, nil
	}

	// Convert input bytes to samples
	// Note: The uint16->int16 conversion is safe because PCM16 audio uses
	// the full int16 range (-32768 to 32767) stored as unsigned bytes.
	inputSamples := make([]int16, numInputSamples)
	for i := 0; i < numInputSamples; i++ {
		inputSamples[i] = int16(binary.LittleEndian.Uint16(input[i*bytesPerSample:])) //nolint:gosec // Safe PCM16 conversion
	}

	// Resample using linear interpolation
	outputSamples := make([]int16, numOutputSamples)
	ratio := float64(fromRate) / float64(toRate)

	for i := 0; i < numOutputSamples; i++ {
		// Calculate the position in the input
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		if srcIdx >= numInputSamples-1 {
			// At or past the last sample, use the last sample
			outputSamples[i] = inputSamples[numInputSamples-1]
		} else {
			// Linear interpolation between two samples
			s0 := float64(inputSamples[srcIdx])
			s1 := float64(inputSamples[srcIdx+1])
			outputSamples[i] = int16(s0 + frac*(s1-s0))
		}
	}

	// Convert output samples to bytes
	// Note: The int16->uint16 conversion is safe because we're storing PCM16 samples
	// where the full int16 range maps to uint16 for byte encoding.
	output := make([]byte, numOutputSamples*bytesPerSample)
	for i := 0; i < numOutputSamples; i++ {
		//nolint:gosec // Safe PCM16 conversion
		binary.LittleEndian.PutUint16(output[i*bytesPerSample:], uint16(outputSamples[i]))
	}

	return output, nil
}

// Resample converts a buffer to the target sample rate using the same linear
// interpolation as ResamplePCM16. The input buffer is not modified.
func Resample(b *Buffer, toRate int) (*Buffer, error) {
	if b.SampleRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates: from=%d, to=%d", b.SampleRate, toRate)
	}

	if b.SampleRate == toRate {
		out := make([]float32, len(b.Samples))
		copy(out, b.Samples)
		return &Buffer{Samples: out, SampleRate: toRate}, nil
	}

	resampled := interpolate(b.Samples, float64(b.SampleRate)/float64(toRate))
	return &Buffer{Samples: resampled, SampleRate: toRate}, nil
}

// TimeStretch changes playback speed by resampling without changing the
// declared rate. speed > 1 shortens the audio; speed < 1 lengthens it.
// Pitch shifts with tempo; this is the deterministic local fallback for
// providers without native speed control.
func TimeStretch(b *Buffer, speed float64) (*Buffer, error) {
	if speed <= 0 {
		return nil, fmt.Errorf("invalid speed: %v", speed)
	}

	if speed == 1.0 {
		out := make([]float32, len(b.Samples))
		copy(out, b.Samples)
		return &Buffer{Samples: out, SampleRate: b.SampleRate}, nil
	}

	stretched := interpolate(b.Samples, speed)
	return &Buffer{Samples: stretched, SampleRate: b.SampleRate}, nil
}

// interpolate reads input at the given step ratio with linear interpolation.
func interpolate(input []float32, ratio float64) []float32 {
	numInput := len(input)
	if numInput == 0 {
		return []float32{}
	}

	numOutput := int(float64(numInput) / ratio)
	if numOutput == 0 {
		return []float32{}
	}

	output := make([]float32, numOutput)
	for i := 0; i < numOutput; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		if srcIdx >= numInput-1 {
			output[i] = input[numInput-1]
		} else {
			s0 := float64(input[srcIdx])
			s1 := float64(input[srcIdx+1])
			output[i] = float32(s0 + frac*(s1-s0))
		}
	}

	return output
}
