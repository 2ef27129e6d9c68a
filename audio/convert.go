package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Format identifies a supported output encoding.
type Format string

// Supported output formats.
const (
	FormatWAV Format = "wav"
	FormatMP3 Format = "mp3"
	FormatOGG Format = "ogg"
)

// Audio MIME type constants.
const (
	MIMETypeWAV = "audio/wav"
	MIMETypeMP3 = "audio/mpeg"
	MIMETypeOGG = "audio/ogg"
)

// ErrUnsupportedFormat is returned for any encoding outside {wav, mp3, ogg}.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// ParseFormat validates a format name. The empty string is rejected;
// callers apply their configured default before parsing.
func ParseFormat(name string) (Format, error) {
	switch Format(strings.ToLower(name)) {
	case FormatWAV:
		return FormatWAV, nil
	case FormatMP3:
		return FormatMP3, nil
	case FormatOGG:
		return FormatOGG, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
}

// MIMEType returns the content type served for this format.
func (f Format) MIMEType() string {
	switch f {
	case FormatMP3:
		return MIMETypeMP3
	case FormatOGG:
		return MIMETypeOGG
	default:
		return MIMETypeWAV
	}
}

// Default configuration values.
const (
	DefaultFFmpegPath          = "ffmpeg"
	DefaultFFmpegTimeout       = 300  // 5 minutes
	DefaultFFmpegCheckTimeout  = 5    // seconds for availability check
	DefaultTempFilePermissions = 0600 // owner read/write only

	wavBitsPerSample = 16
	wavChannels      = 1
)

// ConverterConfig configures encoding behavior.
type ConverterConfig struct {
	// FFmpegPath is the path to the ffmpeg binary.
	// Default: "ffmpeg" (uses PATH).
	FFmpegPath string

	// FFmpegTimeout is the maximum time for FFmpeg execution.
	// Default: 5 minutes.
	FFmpegTimeout int // seconds

	// BitRate is the output bitrate for lossy formats (e.g., "128k").
	// Empty means 192k for mp3 and the ffmpeg default for ogg.
	BitRate string
}

// DefaultConverterConfig returns sensible defaults for encoding.
func DefaultConverterConfig() ConverterConfig {
	return ConverterConfig{
		FFmpegPath:    DefaultFFmpegPath,
		FFmpegTimeout: DefaultFFmpegTimeout,
		BitRate:       "",
	}
}

// Converter encodes Buffers into wire formats. WAV is assembled in-process;
// mp3 and ogg are delegated to ffmpeg.
type Converter struct {
	config ConverterConfig
}

// NewConverter creates a converter with the given config.
func NewConverter(config ConverterConfig) *Converter {
	if config.FFmpegPath == "" {
		config.FFmpegPath = DefaultFFmpegPath
	}
	if config.FFmpegTimeout <= 0 {
		config.FFmpegTimeout = DefaultFFmpegTimeout
	}
	return &Converter{config: config}
}

// Encode converts a buffer to the requested format. When targetRate > 0 and
// differs from the buffer's rate, the audio is resampled first. The encoding
// is deterministic for a given buffer and rate.
func (c *Converter) Encode(ctx context.Context, b *Buffer, format Format, targetRate int) ([]byte, error) {
	if len(b.Samples) == 0 {
		return nil, fmt.Errorf("empty audio buffer")
	}

	out := b
	if targetRate > 0 && targetRate != b.SampleRate {
		resampled, err := Resample(b, targetRate)
		if err != nil {
			return nil, err
		}
		out = resampled
	}

	wav := WrapPCMAsWAV(out.PCM16(), out.SampleRate, wavChannels, wavBitsPerSample)

	switch format {
	case FormatWAV:
		return wav, nil
	case FormatMP3, FormatOGG:
		return c.encodeWithFFmpeg(ctx, wav, format)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// EncodeChunk encodes one streaming chunk. When targetRate > 0 and differs
// from the chunk's rate, the PCM is resampled per chunk; as with per-chunk
// time-stretching, the interpolation restarts at each chunk boundary.
//
// Container caveats callers must understand:
//   - wav: the first chunk carries a header with placeholder sizes; the
//     stream is a valid WAV only when fully concatenated, and players that
//     trust the declared length must wait for the end of stream.
//   - mp3: each chunk is an independent frame sequence; mp3 frames are
//     self-delimiting, so concatenated chunks form a playable stream.
//   - ogg: each chunk is an independent logical stream; the concatenation is
//     a chained Ogg stream, which decoders must support chaining to play.
func (c *Converter) EncodeChunk(ctx context.Context, chunk *Buffer, format Format, targetRate int, first, last bool) ([]byte, error) {
	pcm := chunk.PCM16()
	rate := chunk.SampleRate
	if targetRate > 0 && targetRate != rate {
		resampled, err := ResamplePCM16(pcm, rate, targetRate)
		if err != nil {
			return nil, err
		}
		pcm = resampled
		rate = targetRate
	}

	switch format {
	case FormatWAV:
		if first {
			header := StreamingWAVHeader(rate, wavChannels, wavBitsPerSample)
			return append(header, pcm...), nil
		}
		return pcm, nil
	case FormatMP3, FormatOGG:
		if len(pcm) == 0 {
			return nil, nil
		}
		wav := WrapPCMAsWAV(pcm, rate, wavChannels, wavBitsPerSample)
		return c.encodeWithFFmpeg(ctx, wav, format)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}
