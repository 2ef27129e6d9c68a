package audio

import (
	"encoding/binary"
	"fmt"
	"io"

	mp3 "github.com/hajimehoshi/go-mp3"
)

// DecodeMP3 decodes an MP3 stream into a mono Buffer at the stream's native
// sample rate. Stereo input is downmixed by averaging channels.
func DecodeMP3(r io.Reader) (*Buffer, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("mp3 decode failed: %w", err)
	}

	pcm, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("mp3 read failed: %w", err)
	}

	// go-mp3 always emits 16-bit stereo little-endian frames
	const bytesPerFrame = 4
	numFrames := len(pcm) / bytesPerFrame
	samples := make([]float32, numFrames)
	for i := 0; i < numFrames; i++ {
		left := int16(binary.LittleEndian.Uint16(pcm[i*bytesPerFrame:]))    //nolint:gosec // Safe PCM16 conversion
		right := int16(binary.LittleEndian.Uint16(pcm[i*bytesPerFrame+2:])) //nolint:gosec // Safe PCM16 conversion
		samples[i] = float32(int32(left)+int32(right)) / 2.0 / 32768.0
	}

	return &Buffer{Samples: samples, SampleRate: decoder.SampleRate()}, nil
}
