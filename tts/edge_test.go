package tts

import (
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

// edgeBinaryFrame assembles a binary audio frame: big-endian header length,
// header text, payload.
func edgeBinaryFrame(payload []byte) []byte {
	header := "X-RequestId:test\r\nContent-Type:audio/x-wav\r\nPath:audio\r\n"
	frame := make([]byte, 2+len(header)+len(payload))
	binary.BigEndian.PutUint16(frame[:2], uint16(len(header)))
	copy(frame[2:], header)
	copy(frame[2+len(header):], payload)
	return frame
}

// fakeEdgeServer upgrades the connection, consumes the config and ssml
// frames, runs the script, and sends turn.end.
func fakeEdgeServer(t *testing.T, script func(t *testing.T, conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("TrustedClientToken") == "" {
			t.Error("missing TrustedClientToken query parameter")
		}
		if r.URL.Query().Get("ConnectionId") == "" {
			t.Error("missing ConnectionId query parameter")
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		// speech.config frame
		_, config, err := conn.ReadMessage()
		if err != nil {
			t.Errorf("reading speech.config: %v", err)
			return
		}
		if !strings.Contains(string(config), "Path:speech.config") {
			t.Errorf("first frame is not speech.config: %s", config)
		}

		// ssml frame
		_, ssml, err := conn.ReadMessage()
		if err != nil {
			t.Errorf("reading ssml: %v", err)
			return
		}
		if !strings.Contains(string(ssml), "Path:ssml") {
			t.Errorf("second frame is not ssml: %s", ssml)
		}

		script(t, conn)

		turnEnd := "X-RequestId:test\r\nPath:turn.end\r\n\r\n{}"
		if err := conn.WriteMessage(websocket.TextMessage, []byte(turnEnd)); err != nil {
			t.Errorf("writing turn.end: %v", err)
		}
	}))
}

// wsURL rewrites an httptest server URL to the ws scheme.
func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestEdgeProvider_Name(t *testing.T) {
	p := NewEdge()
	if p.Name() != "edge" {
		t.Errorf("Name() = %v, want edge", p.Name())
	}
	if p.RequiresCredentials() {
		t.Error("RequiresCredentials() = true, want false")
	}
}

func TestEdgeProvider_Voices(t *testing.T) {
	p := NewEdge()
	voices, err := p.Voices(context.Background())
	if err != nil {
		t.Fatalf("Voices() error = %v", err)
	}
	if len(voices) != 14 {
		t.Errorf("len(Voices()) = %v, want 14", len(voices))
	}
	if _, ok := findVoice(voices, EdgeDefaultVoice); !ok {
		t.Errorf("default voice %v not in catalog", EdgeDefaultVoice)
	}
}

func TestEdgeProvider_Synthesize_EmptyText(t *testing.T) {
	p := NewEdge()
	_, err := p.Synthesize(context.Background(), "", SynthesisConfig{})
	if !errors.Is(err, ErrEmptyText) {
		t.Errorf("Synthesize() error = %v, want ErrEmptyText", err)
	}
}

func TestEdgeProvider_Synthesize_InvalidVoice(t *testing.T) {
	p := NewEdge()
	_, err := p.Synthesize(context.Background(), "Hello", SynthesisConfig{Voice: "de-DE-KatjaNeural"})
	if !errors.Is(err, ErrInvalidVoice) {
		t.Errorf("Synthesize() error = %v, want ErrInvalidVoice", err)
	}
}

func TestEdgeProvider_Synthesize_Success(t *testing.T) {
	payload := pcmBytes(480)
	server := fakeEdgeServer(t, func(t *testing.T, conn *websocket.Conn) {
		if err := conn.WriteMessage(websocket.BinaryMessage, edgeBinaryFrame(payload)); err != nil {
			t.Errorf("writing audio frame: %v", err)
		}
	})
	defer server.Close()

	p := NewEdge(WithEdgeURL(wsURL(server)))

	buf, err := p.Synthesize(context.Background(), "Hello world", SynthesisConfig{})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}

	if len(buf.Samples) != 480 {
		t.Errorf("len(Samples) = %v, want 480", len(buf.Samples))
	}
	if buf.SampleRate != EdgeSampleRate {
		t.Errorf("SampleRate = %v, want %v", buf.SampleRate, EdgeSampleRate)
	}
}

func TestEdgeProvider_SynthesizeStream_ConcatEqualsSynthesize(t *testing.T) {
	frames := [][]byte{pcmBytes(100), pcmBytes(257), pcmBytes(43)}
	script := func(t *testing.T, conn *websocket.Conn) {
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.BinaryMessage, edgeBinaryFrame(f)); err != nil {
				t.Errorf("writing audio frame: %v", err)
			}
		}
	}

	syncServer := fakeEdgeServer(t, script)
	defer syncServer.Close()
	streamServer := fakeEdgeServer(t, script)
	defer streamServer.Close()

	full, err := NewEdge(WithEdgeURL(wsURL(syncServer))).
		Synthesize(context.Background(), "Hello", SynthesisConfig{})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}

	chunks, err := NewEdge(WithEdgeURL(wsURL(streamServer))).
		SynthesizeStream(context.Background(), "Hello", SynthesisConfig{})
	if err != nil {
		t.Fatalf("SynthesizeStream() error = %v", err)
	}

	var streamed []float32
	sawFinal := false
	for chunk := range chunks {
		if chunk.Err != nil {
			t.Fatalf("chunk error = %v", chunk.Err)
		}
		if chunk.Final {
			sawFinal = true
			continue
		}
		streamed = append(streamed, chunk.Buffer.Samples...)
	}

	if !sawFinal {
		t.Error("stream did not deliver a final chunk")
	}
	if len(streamed) != len(full.Samples) {
		t.Fatalf("streamed %v samples, synthesize produced %v", len(streamed), len(full.Samples))
	}
	for i := range streamed {
		if streamed[i] != full.Samples[i] {
			t.Fatalf("sample %v differs", i)
		}
	}
}

func TestEdgeProvider_SynthesizeStream_AbandonedConsumerStops(t *testing.T) {
	// A dedicated server: the turn stays open and write errors after the
	// client hangs up are expected, so fakeEdgeServer's turn.end check does
	// not apply here.
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for i := 0; i < 2; i++ { // speech.config, ssml
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}

		// Far more frames than the event and chunk buffers can absorb.
		frame := edgeBinaryFrame(pcmBytes(128))
		for i := 0; i < 400; i++ {
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	p := NewEdge(WithEdgeURL(wsURL(server)))

	baseline := runtime.NumGoroutine()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chunks, err := p.SynthesizeStream(ctx, "Hello", SynthesisConfig{})
	if err != nil {
		t.Fatalf("SynthesizeStream() error = %v", err)
	}

	// Take one chunk, then walk away without draining the rest.
	<-chunks
	cancel()

	waitForGoroutines(t, baseline)
}

func TestEdgeProvider_SynthesizeWithTiming(t *testing.T) {
	metadata := `{"Metadata":[
		{"Type":"WordBoundary","Data":{"Offset":500000,"Duration":2500000,"text":{"Text":"Hello"}}},
		{"Type":"WordBoundary","Data":{"Offset":3500000,"Duration":2000000,"text":{"Text":"world"}}},
		{"Type":"SentenceBoundary","Data":{"Offset":0,"Duration":0,"text":{"Text":"ignored"}}}
	]}`
	server := fakeEdgeServer(t, func(t *testing.T, conn *websocket.Conn) {
		frame := "X-RequestId:test\r\nContent-Type:application/json\r\nPath:audio.metadata\r\n\r\n" + metadata
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Errorf("writing metadata frame: %v", err)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, edgeBinaryFrame([]byte("mp3-bytes"))); err != nil {
			t.Errorf("writing audio frame: %v", err)
		}
	})
	defer server.Close()

	p := NewEdge(WithEdgeURL(wsURL(server)))

	result, err := p.SynthesizeWithTiming(context.Background(), "Hello world", SynthesisConfig{})
	if err != nil {
		t.Fatalf("SynthesizeWithTiming() error = %v", err)
	}

	if string(result.AudioData) != "mp3-bytes" {
		t.Errorf("AudioData = %q, want mp3-bytes", result.AudioData)
	}

	if len(result.WordTimings) != 2 {
		t.Fatalf("len(WordTimings) = %v, want 2", len(result.WordTimings))
	}

	hello := result.WordTimings[0]
	if hello.Word != "Hello" || hello.StartMS != 50 || hello.EndMS != 300 {
		t.Errorf("timing[0] = %+v, want Hello 50..300", hello)
	}
	if hello.CharStart != 0 || hello.CharEnd != 5 {
		t.Errorf("timing[0] chars = %v..%v, want 0..5", hello.CharStart, hello.CharEnd)
	}

	world := result.WordTimings[1]
	if world.Word != "world" || world.StartMS != 350 || world.EndMS != 550 {
		t.Errorf("timing[1] = %+v, want world 350..550", world)
	}
	if world.CharStart != 6 || world.CharEnd != 11 {
		t.Errorf("timing[1] chars = %v..%v, want 6..11", world.CharStart, world.CharEnd)
	}

	if result.DurationMS != 550 {
		t.Errorf("DurationMS = %v, want 550", result.DurationMS)
	}
}

func TestEdgeProvider_Synthesize_ContextCanceled(t *testing.T) {
	started := make(chan struct{})
	server := fakeEdgeServer(t, func(_ *testing.T, conn *websocket.Conn) {
		close(started)
		// Hold the turn open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	p := NewEdge(WithEdgeURL(wsURL(server)))

	go func() {
		<-started
		cancel()
	}()

	_, err := p.Synthesize(ctx, "Hello", SynthesisConfig{})
	if err == nil {
		t.Fatal("Synthesize() should fail on cancellation")
	}
}

func TestEdgeRateString(t *testing.T) {
	tests := []struct {
		speed float64
		want  string
	}{
		{1.0, "+0%"},
		{1.25, "+25%"},
		{2.0, "+100%"},
		{0.8, "-19%"},
		{0.5, "-50%"},
	}

	for _, tt := range tests {
		if got := edgeRateString(tt.speed); got != tt.want {
			t.Errorf("edgeRateString(%v) = %v, want %v", tt.speed, got, tt.want)
		}
	}
}

func TestEscapeSSML(t *testing.T) {
	got := escapeSSML(`Tom & Jerry <say> "hi"`)
	want := `Tom &amp; Jerry &lt;say&gt; "hi"`
	if got != want {
		t.Errorf("escapeSSML() = %v, want %v", got, want)
	}
}

func TestEdgeBinaryAudio(t *testing.T) {
	payload := []byte{1, 2, 3, 4}
	frame := edgeBinaryFrame(payload)

	got := edgeBinaryAudio(frame)
	if string(got) != string(payload) {
		t.Errorf("edgeBinaryAudio() = %v, want %v", got, payload)
	}

	if edgeBinaryAudio([]byte{0}) != nil {
		t.Error("short frame should yield nil")
	}

	// Non-audio path header.
	header := "Path:other\r\n"
	other := make([]byte, 2+len(header))
	binary.BigEndian.PutUint16(other[:2], uint16(len(header)))
	copy(other[2:], header)
	if edgeBinaryAudio(other) != nil {
		t.Error("non-audio frame should yield nil")
	}
}

func TestSplitEdgeMessage(t *testing.T) {
	path, body := splitEdgeMessage([]byte("X-RequestId:1\r\nPath:turn.end\r\n\r\n{}"))
	if path != "turn.end" {
		t.Errorf("path = %v, want turn.end", path)
	}
	if body != "{}" {
		t.Errorf("body = %v, want {}", body)
	}

	path, _ = splitEdgeMessage([]byte("no separator"))
	if path != "" {
		t.Errorf("path = %v, want empty", path)
	}
}
