package audio

// WAV header constants.
const (
	wavHeaderSize = 44

	// streamingSizePlaceholder marks RIFF/data sizes that are unknown at
	// header-write time. Players that trust the declared length must wait
	// for the stream to end.
	streamingSizePlaceholder = 0xFFFFFFFF
)

// WrapPCMAsWAV wraps raw PCM audio data in a WAV header.
//
// Parameters:
//   - pcmData: Raw PCM audio bytes (little-endian, signed)
//   - sampleRate: Sample rate in Hz (e.g., 24000)
//   - channels: Number of channels (1=mono, 2=stereo)
//   - bitsPerSample: Bits per sample (typically 16)
//
// Returns a byte slice containing WAV-formatted audio.
func WrapPCMAsWAV(pcmData []byte, sampleRate, channels, bitsPerSample int) []byte {
	dataSize := len(pcmData)

	wav := make([]byte, wavHeaderSize+dataSize)
	writeWAVHeader(wav, sampleRate, channels, bitsPerSample, uint32(36+dataSize), uint32(dataSize))
	copy(wav[wavHeaderSize:], pcmData)

	return wav
}

// StreamingWAVHeader returns a standalone 44-byte WAV header with placeholder
// sizes, for prefixing a PCM stream whose length is not yet known.
func StreamingWAVHeader(sampleRate, channels, bitsPerSample int) []byte {
	wav := make([]byte, wavHeaderSize)
	writeWAVHeader(wav, sampleRate, channels, bitsPerSample, streamingSizePlaceholder, streamingSizePlaceholder)
	return wav
}

func writeWAVHeader(wav []byte, sampleRate, channels, bitsPerSample int, riffSize, dataSize uint32) {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	// RIFF header
	copy(wav[0:4], "RIFF")
	putLE32(wav[4:8], riffSize)
	copy(wav[8:12], "WAVE")

	// fmt subchunk
	copy(wav[12:16], "fmt ")
	putLE32(wav[16:20], 16) // Subchunk1Size for PCM
	putLE16(wav[20:22], 1)  // AudioFormat (1 = PCM)
	putLE16(wav[22:24], uint16(channels))
	putLE32(wav[24:28], uint32(sampleRate))
	putLE32(wav[28:32], uint32(byteRate))
	putLE16(wav[32:34], uint16(blockAlign))
	putLE16(wav[34:36], uint16(bitsPerSample))

	// data subchunk
	copy(wav[36:40], "data")
	putLE32(wav[40:44], dataSize)
}

// putLE16 writes a uint16 in little-endian format.
func putLE16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

// putLE32 writes a uint32 in little-endian format.
func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
