// Package audio provides the decoded-sample buffer shared by all TTS
// providers plus every transform applied between synthesis and delivery:
// resampling, time stretching, WAV framing, MP3 decoding, and encoding to
// the supported output formats.
//
// # Architecture
//
// Providers decode upstream audio into a Buffer: mono float32 samples at
// the provider's native rate. A Buffer is created fresh per synthesis call,
// owned by that request, and discarded after encoding. The Converter turns
// Buffers into wire bytes: WAV is assembled in-process, mp3 and ogg are
// delegated to an external ffmpeg binary.
//
// # Usage Example
//
//	conv := audio.NewConverter(audio.DefaultConverterConfig())
//	data, err := conv.Encode(ctx, buf, audio.FormatMP3, 24000)
package audio
