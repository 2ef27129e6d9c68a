// This file contains the WebSocket client for the Edge neural TTS protocol.
// The happy-path network exchange is exercised against a fake WS server in
// edge_test.go; the production endpoint itself is never hit from tests.

package tts

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/akumar23/tts-webapp/audio"
)

const (
	edgeWSEndpoint = "wss://speech.platform.bing.com/consumer/speech/synthesize/readaloud/edge/v1"

	// edgeTrustedClientToken is the public token the Edge browser itself
	// presents; the endpoint is keyless.
	edgeTrustedClientToken = "6A5AA1D4EAFF4E9FB37E23D68491D6F4"

	edgeOrigin    = "chrome-extension://jdiccldimpdaibmpdkjnbmckianbfold"
	edgeUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36 Edg/122.0.0.0"

	// EdgeSampleRate is the rate of the raw PCM output format.
	EdgeSampleRate = 24000

	// Output formats requested from the synthesis service. Raw PCM keeps
	// the decoded-buffer contract container-free; mp3 is used only for
	// the timed narration path where the compressed bytes are stored.
	edgeFormatPCM = "raw-24khz-16bit-mono-pcm"
	edgeFormatMP3 = "audio-24khz-48kbitrate-mono-mp3"

	// EdgeDefaultVoice is used when a request names no voice.
	EdgeDefaultVoice = "en-US-JennyNeural"

	edgeDialTimeout = 15 * time.Second

	// Politeness limit against the free endpoint: it is shared public
	// infrastructure, not a billed API.
	edgeRequestsPerSecond = 5
	edgeBurst             = 5

	// edgeTicksPerMS converts WordBoundary offsets (100ns ticks) to ms.
	edgeTicksPerMS = 10000
)

// edgeVoices is the curated English catalog, in stable order.
var edgeVoices = []Voice{
	{ID: "en-US-JennyNeural", Name: "Jenny", Language: "en-US", Gender: GenderFemale, Description: "Friendly conversational American voice"},
	{ID: "en-US-AriaNeural", Name: "Aria", Language: "en-US", Gender: GenderFemale, Description: "Professional and clear American voice"},
	{ID: "en-US-SaraNeural", Name: "Sara", Language: "en-US", Gender: GenderFemale, Description: "Cheerful young American voice"},
	{ID: "en-US-MichelleNeural", Name: "Michelle", Language: "en-US", Gender: GenderFemale, Description: "Warm and calm American voice"},
	{ID: "en-US-GuyNeural", Name: "Guy", Language: "en-US", Gender: GenderMale, Description: "Casual friendly American male voice"},
	{ID: "en-US-ChristopherNeural", Name: "Christopher", Language: "en-US", Gender: GenderMale, Description: "Professional American male voice"},
	{ID: "en-US-EricNeural", Name: "Eric", Language: "en-US", Gender: GenderMale, Description: "Authoritative American male voice"},
	{ID: "en-GB-SoniaNeural", Name: "Sonia", Language: "en-GB", Gender: GenderFemale, Description: "Professional British female voice"},
	{ID: "en-GB-LibbyNeural", Name: "Libby", Language: "en-GB", Gender: GenderFemale, Description: "Friendly British female voice"},
	{ID: "en-GB-RyanNeural", Name: "Ryan", Language: "en-GB", Gender: GenderMale, Description: "Professional British male voice"},
	{ID: "en-AU-NatashaNeural", Name: "Natasha", Language: "en-AU", Gender: GenderFemale, Description: "Friendly Australian female voice"},
	{ID: "en-AU-WilliamNeural", Name: "William", Language: "en-AU", Gender: GenderMale, Description: "Professional Australian male voice"},
	{ID: "en-IN-NeerjaNeural", Name: "Neerja", Language: "en-IN", Gender: GenderFemale, Description: "Clear Indian English female voice"},
	{ID: "en-IN-PrabhatNeural", Name: "Prabhat", Language: "en-IN", Gender: GenderMale, Description: "Professional Indian English male voice"},
}

// EdgeProvider synthesizes speech through the free Edge neural TTS
// WebSocket service. It requires no credentials.
type EdgeProvider struct {
	wsURL   string
	dialer  *websocket.Dialer
	limiter *rate.Limiter
}

// EdgeOption configures the edge provider.
type EdgeOption func(*EdgeProvider)

// WithEdgeURL sets a custom WebSocket endpoint (for testing).
func WithEdgeURL(url string) EdgeOption {
	return func(p *EdgeProvider) { p.wsURL = url }
}

// WithEdgeDialer sets a custom WebSocket dialer.
func WithEdgeDialer(d *websocket.Dialer) EdgeOption {
	return func(p *EdgeProvider) { p.dialer = d }
}

// NewEdge creates the edge provider.
func NewEdge(opts ...EdgeOption) *EdgeProvider {
	p := &EdgeProvider{
		wsURL: edgeWSEndpoint,
		dialer: &websocket.Dialer{
			HandshakeTimeout: edgeDialTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(edgeRequestsPerSecond), edgeBurst),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (p *EdgeProvider) Name() string { return "edge" }

// RequiresCredentials reports that the edge endpoint is keyless.
func (p *EdgeProvider) RequiresCredentials() bool { return false }

// Voices returns the curated catalog. It never fails.
func (p *EdgeProvider) Voices(context.Context) ([]Voice, error) {
	return edgeVoices, nil
}

// Synthesize converts text to a decoded 24 kHz buffer.
//
//nolint:gocritic // hugeParam: SynthesisConfig passed by value to satisfy Provider
func (p *EdgeProvider) Synthesize(ctx context.Context, text string, config SynthesisConfig) (*audio.Buffer, error) {
	events, err := p.open(ctx, text, config, edgeFormatPCM)
	if err != nil {
		return nil, err
	}

	var pcm []byte
	for ev := range events {
		if ev.err != nil {
			return nil, ev.err
		}
		pcm = append(pcm, ev.audio...)
	}

	if len(pcm) == 0 {
		return nil, upstreamError("edge", "no audio received", fmt.Errorf("empty synthesis result"))
	}

	return audio.NewBufferFromPCM16(pcm, EdgeSampleRate)
}

// SynthesizeStream converts text to audio with streaming output. Chunks are
// decoded as they arrive; samples split across WS frames are carried over
// to the next chunk.
//
//nolint:gocritic // hugeParam: SynthesisConfig passed by value to satisfy Provider
func (p *EdgeProvider) SynthesizeStream(ctx context.Context, text string, config SynthesisConfig) (<-chan AudioChunk, error) {
	events, err := p.open(ctx, text, config, edgeFormatPCM)
	if err != nil {
		return nil, err
	}

	chunks := make(chan AudioChunk, streamChannelBuffer)
	go func() {
		defer close(chunks)

		index := 0
		var carry []byte
		for ev := range events {
			if ev.err != nil {
				sendChunk(ctx, chunks, AudioChunk{Index: index, Err: ev.err})
				return
			}

			data := ev.audio
			if len(carry) > 0 {
				data = append(carry, data...)
				carry = nil
			}
			if len(data)%2 != 0 {
				carry = []byte{data[len(data)-1]}
				data = data[:len(data)-1]
			}
			if len(data) == 0 {
				continue
			}

			buf, decErr := audio.NewBufferFromPCM16(data, EdgeSampleRate)
			if decErr != nil {
				sendChunk(ctx, chunks, AudioChunk{Index: index, Err: decErr})
				return
			}
			if !sendChunk(ctx, chunks, AudioChunk{Buffer: buf, Index: index}) {
				return
			}
			index++
		}
		sendChunk(ctx, chunks, AudioChunk{Index: index, Final: true})
	}()

	return chunks, nil
}

// WordBoundary is the timing of one spoken word within synthesized audio.
type WordBoundary struct {
	Word      string  `json:"word"`
	StartMS   float64 `json:"start_ms"`
	EndMS     float64 `json:"end_ms"`
	CharStart int     `json:"char_start"`
	CharEnd   int     `json:"char_end"`
}

// TimedSynthesis is the result of SynthesizeWithTiming: compressed audio
// plus per-word boundaries for text highlighting during playback.
type TimedSynthesis struct {
	// AudioData is the mp3 audio as produced by the service.
	AudioData []byte

	// WordTimings are word boundaries in playback order.
	WordTimings []WordBoundary

	// DurationMS is the end time of the last spoken word.
	DurationMS float64
}

// SynthesizeWithTiming synthesizes text and collects word-boundary events
// alongside the audio. The audio is kept in the service's native mp3 frame
// format so it can be stored and served without re-encoding.
//
//nolint:gocritic // hugeParam: SynthesisConfig passed by value for symmetry with Provider
func (p *EdgeProvider) SynthesizeWithTiming(ctx context.Context, text string, config SynthesisConfig) (*TimedSynthesis, error) {
	events, err := p.open(ctx, text, config, edgeFormatMP3)
	if err != nil {
		return nil, err
	}

	result := &TimedSynthesis{}
	charPos := 0
	for ev := range events {
		if ev.err != nil {
			return nil, ev.err
		}
		result.AudioData = append(result.AudioData, ev.audio...)

		for _, b := range ev.boundaries {
			// Locate the word in the source text, scanning forward so
			// repeated words land on successive occurrences.
			start := strings.Index(text[charPos:], b.Word)
			if start >= 0 {
				start += charPos
			} else {
				start = strings.Index(text, b.Word)
			}
			if start < 0 {
				start = charPos
			}
			end := start + len(b.Word)
			charPos = end

			b.CharStart = start
			b.CharEnd = end
			result.WordTimings = append(result.WordTimings, b)
			result.DurationMS = b.EndMS
		}
	}

	if len(result.AudioData) == 0 {
		return nil, upstreamError("edge", "no audio received", fmt.Errorf("empty synthesis result"))
	}
	return result, nil
}

// edgeEvent is one parsed message from the synthesis socket.
type edgeEvent struct {
	audio      []byte
	boundaries []WordBoundary
	err        error
}

// open validates the request, dials the service, sends the configuration
// and SSML frames, and returns a channel of parsed events. The channel is
// closed on turn end, error, or ctx cancellation.
//
//nolint:gocritic // hugeParam: SynthesisConfig passed by value
func (p *EdgeProvider) open(ctx context.Context, text string, config SynthesisConfig, format string) (<-chan edgeEvent, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	voice := config.Voice
	if voice == "" {
		voice = EdgeDefaultVoice
	}
	if _, ok := findVoice(edgeVoices, voice); !ok {
		return nil, invalidVoiceError("edge", voice)
	}

	speed := config.Speed
	if speed == 0 {
		speed = 1.0
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	connID := strings.ReplaceAll(uuid.NewString(), "-", "")
	wsURL := fmt.Sprintf("%s?TrustedClientToken=%s&ConnectionId=%s", p.wsURL, edgeTrustedClientToken, connID)

	header := http.Header{}
	header.Set("Origin", edgeOrigin)
	header.Set("User-Agent", edgeUserAgent)

	conn, resp, err := p.dialer.DialContext(ctx, wsURL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, upstreamError("edge", "websocket connection failed", err)
	}

	ts := time.Now().UTC().Format("Mon Jan 02 2006 15:04:05 GMT+0000 (Coordinated Universal Time)")

	speechConfig := fmt.Sprintf(
		"X-Timestamp:%s\r\nContent-Type:application/json; charset=utf-8\r\nPath:speech.config\r\n\r\n"+
			`{"context":{"synthesis":{"audio":{"metadataoptions":{"sentenceBoundaryEnabled":"false","wordBoundaryEnabled":"true"},"outputFormat":"%s"}}}}`,
		ts, format)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(speechConfig)); err != nil {
		_ = conn.Close()
		return nil, upstreamError("edge", "failed to send speech config", err)
	}

	ssml := fmt.Sprintf(
		"X-RequestId:%s\r\nContent-Type:application/ssml+xml\r\nX-Timestamp:%s\r\nPath:ssml\r\n\r\n"+
			"<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='en-US'>"+
			"<voice name='%s'><prosody pitch='+0Hz' rate='%s' volume='+0%%'>%s</prosody></voice></speak>",
		connID, ts, voice, edgeRateString(speed), escapeSSML(text))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(ssml)); err != nil {
		_ = conn.Close()
		return nil, upstreamError("edge", "failed to send ssml", err)
	}

	events := make(chan edgeEvent, streamChannelBuffer)
	done := make(chan struct{})

	// Close the socket on cancellation so the blocked read returns.
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	go p.readEvents(ctx, conn, events, done)

	return events, nil
}

// readEvents parses socket frames into edgeEvents until turn end.
func (p *EdgeProvider) readEvents(ctx context.Context, conn *websocket.Conn, events chan<- edgeEvent, done chan<- struct{}) {
	defer close(done)
	defer close(events)
	defer conn.Close()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				sendEvent(ctx, events, edgeEvent{err: ctx.Err()})
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			sendEvent(ctx, events, edgeEvent{err: upstreamError("edge", "websocket read failed", err)})
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			payload := edgeBinaryAudio(data)
			if len(payload) > 0 {
				if !sendEvent(ctx, events, edgeEvent{audio: payload}) {
					return
				}
			}
		case websocket.TextMessage:
			path, body := splitEdgeMessage(data)
			switch path {
			case "turn.end":
				return
			case "audio.metadata":
				if boundaries := parseEdgeBoundaries(body); len(boundaries) > 0 {
					if !sendEvent(ctx, events, edgeEvent{boundaries: boundaries}) {
						return
					}
				}
			}
		}
	}
}

// sendEvent mirrors sendChunk for the socket event channel. Cancellation is
// the only way the stream forwarder stops draining, so the ctx arm keeps the
// reader from parking once the buffer fills.
func sendEvent(ctx context.Context, out chan<- edgeEvent, ev edgeEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// edgeBinaryAudio extracts the audio payload from a binary frame. The
// frame starts with a big-endian uint16 header length followed by the
// header text and payload.
func edgeBinaryAudio(data []byte) []byte {
	if len(data) < 2 {
		return nil
	}
	headerLen := int(binary.BigEndian.Uint16(data[:2]))
	if len(data) < 2+headerLen {
		return nil
	}
	if !strings.Contains(string(data[2:2+headerLen]), "Path:audio") {
		return nil
	}
	return data[2+headerLen:]
}

// splitEdgeMessage separates a text frame into its Path header value and body.
func splitEdgeMessage(data []byte) (path, body string) {
	msg := string(data)
	headers, rest, found := strings.Cut(msg, "\r\n\r\n")
	if !found {
		return "", ""
	}
	for _, line := range strings.Split(headers, "\r\n") {
		if v, ok := strings.CutPrefix(line, "Path:"); ok {
			path = strings.TrimSpace(v)
		}
	}
	return path, rest
}

// edgeMetadataPayload mirrors the audio.metadata JSON body.
type edgeMetadataPayload struct {
	Metadata []struct {
		Type string `json:"Type"`
		Data struct {
			Offset   float64 `json:"Offset"`
			Duration float64 `json:"Duration"`
			Text     struct {
				Text string `json:"Text"`
			} `json:"text"`
		} `json:"Data"`
	} `json:"Metadata"`
}

// parseEdgeBoundaries extracts WordBoundary entries from a metadata body.
// Offsets arrive in 100-nanosecond ticks. Character offsets are resolved
// later against the source text.
func parseEdgeBoundaries(body string) []WordBoundary {
	var payload edgeMetadataPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil
	}

	var boundaries []WordBoundary
	for _, m := range payload.Metadata {
		if m.Type != "WordBoundary" {
			continue
		}
		startMS := m.Data.Offset / edgeTicksPerMS
		boundaries = append(boundaries, WordBoundary{
			Word:    m.Data.Text.Text,
			StartMS: roundMS(startMS),
			EndMS:   roundMS(startMS + m.Data.Duration/edgeTicksPerMS),
		})
	}
	return boundaries
}

// roundMS rounds to two decimal places for stable timing payloads.
func roundMS(ms float64) float64 {
	return float64(int64(ms*100+0.5)) / 100
}

// edgeRateString converts a speed multiplier to the service's percentage
// rate string: 1.25 becomes "+25%", 0.8 becomes "-20%".
func edgeRateString(speed float64) string {
	pct := int((speed - 1.0) * 100)
	if pct >= 0 {
		return fmt.Sprintf("+%d%%", pct)
	}
	return fmt.Sprintf("%d%%", pct)
}

// escapeSSML escapes the XML-significant characters in spoken text.
func escapeSSML(text string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(text)
}
