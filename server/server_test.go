package server

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akumar23/tts-webapp/audio"
	"github.com/akumar23/tts-webapp/config"
	"github.com/akumar23/tts-webapp/tts"
)

// pcmBytes returns n little-endian PCM16 samples.
func pcmBytes(n int) []byte {
	data := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(i%512))
	}
	return data
}

// fakeProvider is a scriptable tts.Provider for handler tests.
type fakeProvider struct {
	name       string
	needsCreds bool
	synthErr   error
	voices     []tts.Voice
	voicesErr  error

	synthCalls  int
	streamCalls int
	lastConfig  tts.SynthesisConfig
	samples     int
}

func (f *fakeProvider) Name() string              { return f.name }
func (f *fakeProvider) RequiresCredentials() bool { return f.needsCreds }

func (f *fakeProvider) Synthesize(_ context.Context, _ string, config tts.SynthesisConfig) (*audio.Buffer, error) {
	f.synthCalls++
	f.lastConfig = config
	if f.synthErr != nil {
		return nil, f.synthErr
	}
	return audio.NewBufferFromPCM16(pcmBytes(f.sampleCount()), 24000)
}

func (f *fakeProvider) SynthesizeStream(_ context.Context, _ string, config tts.SynthesisConfig) (<-chan tts.AudioChunk, error) {
	f.streamCalls++
	f.lastConfig = config
	if f.synthErr != nil {
		return nil, f.synthErr
	}

	half := f.sampleCount() / 2
	first, _ := audio.NewBufferFromPCM16(pcmBytes(f.sampleCount())[:half*2], 24000)
	second, _ := audio.NewBufferFromPCM16(pcmBytes(f.sampleCount())[half*2:], 24000)

	ch := make(chan tts.AudioChunk, 3)
	ch <- tts.AudioChunk{Buffer: first, Index: 0}
	ch <- tts.AudioChunk{Buffer: second, Index: 1, Final: true}
	close(ch)
	return ch, nil
}

func (f *fakeProvider) Voices(context.Context) ([]tts.Voice, error) {
	if f.voicesErr != nil {
		return nil, f.voicesErr
	}
	return f.voices, nil
}

func (f *fakeProvider) sampleCount() int {
	if f.samples > 0 {
		return f.samples
	}
	return 1200
}

func testSettings() config.Settings {
	settings := config.Defaults()
	settings.DefaultFormat = "wav"
	settings.Cache.Enabled = false
	return settings
}

// newGateway builds a test gateway around fake edge and openai providers.
func newGateway(t *testing.T, settings config.Settings, opts ...Option) (*httptest.Server, *fakeProvider, *fakeProvider) {
	t.Helper()

	edge := &fakeProvider{
		name: tts.EdgeProviderName,
		voices: []tts.Voice{
			{ID: "en-US-JennyNeural", Name: "Jenny", Language: "en-US", Gender: "female"},
		},
	}
	openai := &fakeProvider{
		name:       tts.OpenAIProviderName,
		needsCreds: true,
		voices:     []tts.Voice{{ID: "alloy", Name: "Alloy", Language: "en"}},
	}

	manager := tts.NewManager(tts.ManagerConfig{
		DefaultProvider: settings.DefaultProvider,
		MaxTextLength:   settings.MaxTextLength,
		FallbackEnabled: settings.FallbackEnabled,
	},
		tts.Registration{Provider: edge},
		tts.Registration{Provider: openai, Configured: settings.OpenAIConfigured()},
	)

	srv := NewServer(settings, manager, opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, edge, openai
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeError(t *testing.T, resp *http.Response) errorBody {
	t.Helper()
	defer resp.Body.Close()
	var envelope errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope.Error
}

func TestSynthesize_WAVSuccess(t *testing.T) {
	ts, edge, _ := newGateway(t, testSettings())

	resp := postJSON(t, ts.URL+"/v1/tts/synthesize", synthesizeRequest{
		Text:   "Hello world",
		Voice:  "en-US-JennyNeural",
		Speed:  1.0,
		Format: "wav",
	})
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/wav", resp.Header.Get("Content-Type"))
	assert.Equal(t, "edge", resp.Header.Get("X-Provider"))
	assert.Equal(t, "en-US-JennyNeural", resp.Header.Get("X-Voice"))
	assert.Equal(t, "attachment; filename=speech.wav", resp.Header.Get("Content-Disposition"))
	assert.NotEmpty(t, resp.Header.Get("X-Processing-Time-Ms"))
	assert.NotEmpty(t, resp.Header.Get("X-Audio-Duration-Seconds"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(body, []byte("RIFF")), "response is a WAV file")
	assert.Equal(t, 1, edge.synthCalls)
	assert.Equal(t, 1.0, edge.lastConfig.Speed)
}

func TestSynthesize_DefaultVoiceAndFormat(t *testing.T) {
	ts, edge, _ := newGateway(t, testSettings())

	resp := postJSON(t, ts.URL+"/v1/tts/synthesize", synthesizeRequest{Text: "Hello"})
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "en-US-JennyNeural", resp.Header.Get("X-Voice"))
	assert.Equal(t, "audio/wav", resp.Header.Get("Content-Type"))
	assert.Equal(t, "en-US-JennyNeural", edge.lastConfig.Voice)
}

func TestSynthesize_ValidationErrors(t *testing.T) {
	tests := []struct {
		name       string
		req        synthesizeRequest
		wantStatus int
	}{
		{"empty text", synthesizeRequest{Text: ""}, http.StatusBadRequest},
		{"negative speed", synthesizeRequest{Text: "hi", Speed: -1.0}, http.StatusBadRequest},
		{"speed above gateway bound", synthesizeRequest{Text: "hi", Speed: 3.0}, http.StatusBadRequest},
		{"unsupported format", synthesizeRequest{Text: "hi", Format: "flac"}, http.StatusBadRequest},
		{"unknown provider", synthesizeRequest{Text: "hi", Provider: "espeak"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, edge, _ := newGateway(t, testSettings())

			resp := postJSON(t, ts.URL+"/v1/tts/synthesize", tt.req)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			body := decodeError(t, resp)
			assert.Equal(t, errTypeInvalidRequest, body.Type)
			assert.NotEmpty(t, body.Message)
			assert.Zero(t, edge.synthCalls, "validation failures never reach a provider")
		})
	}
}

func TestSynthesize_TextTooLong(t *testing.T) {
	settings := testSettings()
	settings.MaxTextLength = 10
	ts, edge, _ := newGateway(t, settings)

	resp := postJSON(t, ts.URL+"/v1/tts/synthesize", synthesizeRequest{Text: strings.Repeat("a", 11)})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	decodeError(t, resp)
	assert.Zero(t, edge.synthCalls)
}

func TestSynthesize_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"authentication", tts.ErrAuthentication, http.StatusUnauthorized, errTypeAuthentication},
		{"invalid voice", tts.ErrInvalidVoice, http.StatusBadRequest, errTypeInvalidRequest},
		{"upstream failure", tts.ErrUpstreamUnavailable, http.StatusBadGateway, errTypeUpstream},
		{"internal", fmt.Errorf("boom"), http.StatusInternalServerError, errTypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, edge, _ := newGateway(t, testSettings())
			edge.synthErr = tt.err

			resp := postJSON(t, ts.URL+"/v1/tts/synthesize", synthesizeRequest{Text: "hi"})

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			body := decodeError(t, resp)
			assert.Equal(t, tt.wantType, body.Type)
		})
	}
}

func TestStream_ConcatenationMatchesSynthesize(t *testing.T) {
	ts, edge, _ := newGateway(t, testSettings())

	streamResp := postJSON(t, ts.URL+"/v1/tts/stream", synthesizeRequest{Text: "Hello world", Format: "wav"})
	defer streamResp.Body.Close()
	require.Equal(t, http.StatusOK, streamResp.StatusCode)
	assert.Equal(t, "edge", streamResp.Header.Get("X-Provider"))

	streamed, err := io.ReadAll(streamResp.Body)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(streamed, []byte("RIFF")))

	// The streaming header plus all PCM bytes equals the chunked payload.
	want := audio.StreamingWAVHeader(24000, 1, 16)
	want = append(want, pcmBytes(edge.sampleCount())...)
	assert.Equal(t, want, streamed)
	assert.Equal(t, 1, edge.streamCalls)
}

func TestStream_ValidationBeforeDispatch(t *testing.T) {
	ts, edge, _ := newGateway(t, testSettings())

	resp := postJSON(t, ts.URL+"/v1/tts/stream", synthesizeRequest{Text: "", Format: "wav"})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	decodeError(t, resp)
	assert.Zero(t, edge.streamCalls)
}

func TestOpenAISpeech_NoCredentialUsesEdge(t *testing.T) {
	ts, edge, openai := newGateway(t, testSettings())

	resp := postJSON(t, ts.URL+"/v1/tts/audio/speech", openAISpeechRequest{
		Input:          "Hello compat",
		Voice:          "alloy",
		ResponseFormat: "wav",
	})
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/wav", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("X-Processing-Time-Ms"))
	assert.Equal(t, 1, edge.synthCalls, "credential-less requests route to edge")
	assert.Zero(t, openai.synthCalls)
	// The OpenAI voice name is replaced by the edge default.
	assert.Equal(t, "en-US-JennyNeural", edge.lastConfig.Voice)
}

func TestOpenAISpeech_RequestKeyRoutesToOpenAI(t *testing.T) {
	ts, edge, openai := newGateway(t, testSettings())

	resp := postJSON(t, ts.URL+"/v1/tts/audio/speech?api-key=sk-test", openAISpeechRequest{
		Input:          "Hello compat",
		Voice:          "alloy",
		ResponseFormat: "wav",
	})
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, openai.synthCalls)
	assert.Zero(t, edge.synthCalls)
	assert.Equal(t, "sk-test", openai.lastConfig.APIKey)
	assert.Equal(t, "alloy", openai.lastConfig.Voice)
}

func TestOpenAISpeech_CompatSpeedBounds(t *testing.T) {
	ts, edge, _ := newGateway(t, testSettings())

	// 0.25 is outside the gateway bound but inside the compat bound.
	resp := postJSON(t, ts.URL+"/v1/tts/audio/speech", openAISpeechRequest{
		Input:          "slow",
		ResponseFormat: "wav",
		Speed:          0.25,
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, edge.synthCalls)

	resp = postJSON(t, ts.URL+"/v1/tts/audio/speech", openAISpeechRequest{
		Input:          "too fast",
		ResponseFormat: "wav",
		Speed:          4.5,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	decodeError(t, resp)
}

func TestOpenAISpeech_UnsupportedFormat(t *testing.T) {
	ts, _, _ := newGateway(t, testSettings())

	resp := postJSON(t, ts.URL+"/v1/tts/audio/speech", openAISpeechRequest{
		Input:          "hi",
		ResponseFormat: "flac",
	})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeError(t, resp)
	assert.Equal(t, errTypeInvalidRequest, body.Type)
}

func TestVoices_MergedCatalog(t *testing.T) {
	ts, _, _ := newGateway(t, testSettings())

	resp, err := http.Get(ts.URL + "/v1/tts/voices")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload voicesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Len(t, payload.Voices, 2)
	assert.Equal(t, "edge", payload.Voices[0].Provider)
	assert.Equal(t, "en-US-JennyNeural", payload.Voices[0].ID)
	assert.Equal(t, "openai", payload.Voices[1].Provider)
	assert.Empty(t, payload.Errors)
}

func TestVoices_PartialFailure(t *testing.T) {
	ts, _, openai := newGateway(t, testSettings())
	openai.voicesErr = tts.ErrCatalogUnavailable

	resp, err := http.Get(ts.URL + "/v1/tts/voices")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload voicesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Len(t, payload.Voices, 1, "edge catalog survives the openai failure")
	require.Contains(t, payload.Errors, "openai")
}

func TestVoices_SingleProvider(t *testing.T) {
	ts, _, _ := newGateway(t, testSettings())

	resp, err := http.Get(ts.URL + "/v1/tts/voices?provider=edge")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload voicesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Len(t, payload.Voices, 1)
	assert.Equal(t, "edge", payload.Voices[0].Provider)

	resp, err = http.Get(ts.URL + "/v1/tts/voices?provider=espeak")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	decodeError(t, resp)
}

func TestVoices_CatalogUnavailable(t *testing.T) {
	ts, edge, _ := newGateway(t, testSettings())
	edge.voicesErr = fmt.Errorf("socket closed")

	resp, err := http.Get(ts.URL + "/v1/tts/voices?provider=edge")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	body := decodeError(t, resp)
	assert.Equal(t, errTypeUnavailable, body.Type)
}

func TestProviders_Descriptors(t *testing.T) {
	ts, _, _ := newGateway(t, testSettings())

	resp, err := http.Get(ts.URL + "/v1/tts/providers")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Providers []tts.Descriptor `json:"providers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Len(t, payload.Providers, 2)

	assert.Equal(t, "edge", payload.Providers[0].ID)
	assert.True(t, payload.Providers[0].Configured)
	assert.True(t, payload.Providers[0].Default)

	assert.Equal(t, "openai", payload.Providers[1].ID)
	assert.True(t, payload.Providers[1].RequiresAPIKey)
	assert.False(t, payload.Providers[1].Configured)
}

func TestHealthEndpoints(t *testing.T) {
	ts, _, _ := newGateway(t, testSettings())

	tests := []struct {
		path string
		want map[string]string
	}{
		{"/health", map[string]string{"status": "healthy"}},
		{"/health/ready", map[string]string{"status": "ready", "default_voice": "en-US-JennyNeural"}},
		{"/health/live", map[string]string{"status": "alive"}},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(ts.URL + tt.path)
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, http.StatusOK, resp.StatusCode)

			var payload map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
			assert.Equal(t, tt.want, payload)
		})
	}
}

func TestRequestID_Echoed(t *testing.T) {
	ts, _, _ := newGateway(t, testSettings())

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-123")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "req-123", resp.Header.Get("X-Request-ID"))
}

func TestMetricsHandler_Mounted(t *testing.T) {
	mounted := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	ts, _, _ := newGateway(t, testSettings(), WithMetricsHandler(mounted))

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "# metrics", string(body))
}

func TestShutdown_WithoutStart(t *testing.T) {
	srv := NewServer(testSettings(), tts.NewManager(tts.ManagerConfig{}))
	assert.NoError(t, srv.Shutdown(context.Background()))
}
