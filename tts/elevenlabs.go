package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/akumar23/tts-webapp/audio"
	"github.com/akumar23/tts-webapp/logger"
)

const (
	elevenLabsBaseURL = "https://api.elevenlabs.io/v1"

	// Default timeout for ElevenLabs requests.
	defaultElevenLabsTimeout = 120 * time.Second

	// ElevenLabsSampleRate is the rate of the pcm_24000 output format.
	ElevenLabsSampleRate = 24000

	// elevenLabsOutputFormat selects raw 24 kHz 16-bit mono PCM output.
	elevenLabsOutputFormat = "pcm_24000"

	// elevenLabsModel is the multilingual synthesis model.
	elevenLabsModel = "eleven_multilingual_v2"

	// ElevenLabsDefaultVoice is Rachel, used when a request names no voice.
	ElevenLabsDefaultVoice = "21m00Tcm4TlvDq8ikWAM"

	// elevenLabsStreamReadSize is the PCM read size per streamed chunk.
	elevenLabsStreamReadSize = 8192
)

// elevenLabsSeedVoices is the pre-made voice set shipped with every account.
// It seeds the catalog when the live /voices endpoint cannot be reached.
var elevenLabsSeedVoices = []Voice{
	{ID: "21m00Tcm4TlvDq8ikWAM", Name: "Rachel", Language: "en", Gender: GenderFemale, Description: "Calm, young adult female"},
	{ID: "29vD33N1CtxCmqQRPOHJ", Name: "Drew", Language: "en", Gender: GenderMale, Description: "Well-rounded, middle-aged male"},
	{ID: "2EiwWnXFnvU5JabPnv8n", Name: "Clyde", Language: "en", Gender: GenderMale, Description: "War veteran character voice"},
	{ID: "EXAVITQu4vr4xnSDxMaL", Name: "Sarah", Language: "en", Gender: GenderFemale, Description: "Soft news presenter"},
	{ID: "ErXwobaYiN019PkySvjV", Name: "Antoni", Language: "en", Gender: GenderMale, Description: "Well-rounded narrator"},
	{ID: "MF3mGyEYCl7XYWbV9V6O", Name: "Elli", Language: "en", Gender: GenderFemale, Description: "Emotional, young female"},
	{ID: "TxGEqnHWrfWFTfGW9XjX", Name: "Josh", Language: "en", Gender: GenderMale, Description: "Deep, young male"},
}

// ElevenLabsProvider synthesizes speech through the ElevenLabs API.
// The API has no server-side rate control, so non-unit speeds are applied
// by time-stretching the decoded buffer.
type ElevenLabsProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
	catalog catalogCache
}

// ElevenLabsOption configures the ElevenLabs provider.
type ElevenLabsOption func(*ElevenLabsProvider)

// WithElevenLabsBaseURL sets a custom base URL (for testing or proxies).
func WithElevenLabsBaseURL(url string) ElevenLabsOption {
	return func(p *ElevenLabsProvider) { p.baseURL = url }
}

// WithElevenLabsClient sets a custom HTTP client.
func WithElevenLabsClient(client *http.Client) ElevenLabsOption {
	return func(p *ElevenLabsProvider) { p.client = client }
}

// NewElevenLabs creates the ElevenLabs provider. The apiKey may be empty;
// requests can still carry their own key in SynthesisConfig.APIKey.
func NewElevenLabs(apiKey string, opts ...ElevenLabsOption) *ElevenLabsProvider {
	p := &ElevenLabsProvider{
		apiKey:  apiKey,
		baseURL: elevenLabsBaseURL,
		client:  &http.Client{Timeout: defaultElevenLabsTimeout},
		catalog: catalogCache{fallback: elevenLabsSeedVoices},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (p *ElevenLabsProvider) Name() string { return "elevenlabs" }

// RequiresCredentials reports that an API key is required.
func (p *ElevenLabsProvider) RequiresCredentials() bool { return true }

// elevenLabsRequest is the request body for the text-to-speech endpoint.
type elevenLabsRequest struct {
	Text          string                 `json:"text"`
	ModelID       string                 `json:"model_id"`
	VoiceSettings *elevenLabsVoiceConfig `json:"voice_settings,omitempty"`
}

// elevenLabsVoiceConfig tunes delivery characteristics.
type elevenLabsVoiceConfig struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize converts text to a decoded 24 kHz buffer. Non-unit speed is
// applied by time-stretching after decode.
//
//nolint:gocritic // hugeParam: SynthesisConfig passed by value to satisfy Provider
func (p *ElevenLabsProvider) Synthesize(ctx context.Context, text string, config SynthesisConfig) (*audio.Buffer, error) {
	body, err := p.request(ctx, text, config)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	pcm, err := io.ReadAll(body)
	if err != nil {
		return nil, upstreamError("elevenlabs", "failed reading audio response", err)
	}
	if len(pcm) == 0 {
		return nil, upstreamError("elevenlabs", "no audio received", fmt.Errorf("empty synthesis result"))
	}

	buf, err := audio.NewBufferFromPCM16(pcm, ElevenLabsSampleRate)
	if err != nil {
		return nil, err
	}
	return applySpeed(buf, config.Speed)
}

// SynthesizeStream converts text to audio with streaming output by reading
// the PCM response body incrementally. Each chunk is time-stretched
// independently when a non-unit speed is requested; chunk boundaries land
// on silence rarely enough that the artifact is inaudible in practice.
//
//nolint:gocritic // hugeParam: SynthesisConfig passed by value to satisfy Provider
func (p *ElevenLabsProvider) SynthesizeStream(ctx context.Context, text string, config SynthesisConfig) (<-chan AudioChunk, error) {
	body, err := p.request(ctx, text, config)
	if err != nil {
		return nil, err
	}

	chunks := make(chan AudioChunk, streamChannelBuffer)
	go func() {
		defer close(chunks)
		defer body.Close()

		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				_ = body.Close()
			case <-done:
			}
		}()

		index := 0
		buf := make([]byte, elevenLabsStreamReadSize)
		var carry []byte
		for {
			n, readErr := body.Read(buf)
			if n > 0 {
				data := append(carry, buf[:n]...) //nolint:gocritic // carry is consumed here
				carry = nil
				if len(data)%2 != 0 {
					carry = []byte{data[len(data)-1]}
					data = data[:len(data)-1]
				}
				if len(data) > 0 {
					chunk, decErr := audio.NewBufferFromPCM16(data, ElevenLabsSampleRate)
					if decErr == nil {
						chunk, decErr = applySpeed(chunk, config.Speed)
					}
					if decErr != nil {
						sendChunk(ctx, chunks, AudioChunk{Index: index, Err: decErr})
						return
					}
					if !sendChunk(ctx, chunks, AudioChunk{Buffer: chunk, Index: index}) {
						return
					}
					index++
				}
			}
			if readErr == io.EOF {
				sendChunk(ctx, chunks, AudioChunk{Index: index, Final: true})
				return
			}
			if readErr != nil {
				if ctx.Err() != nil {
					sendChunk(ctx, chunks, AudioChunk{Index: index, Err: ctx.Err()})
					return
				}
				sendChunk(ctx, chunks, AudioChunk{Index: index, Err: upstreamError("elevenlabs", "stream read failed", readErr)})
				return
			}
		}
	}()

	return chunks, nil
}

// Voices returns the live voice catalog, fetched once and cached. The seed
// list answers when the live endpoint cannot be reached before any
// successful fetch.
func (p *ElevenLabsProvider) Voices(ctx context.Context) ([]Voice, error) {
	return p.catalog.get(ctx, p.fetchVoices)
}

// elevenLabsVoicesResponse is the /voices listing shape.
type elevenLabsVoicesResponse struct {
	Voices []struct {
		VoiceID string            `json:"voice_id"`
		Name    string            `json:"name"`
		Labels  map[string]string `json:"labels"`
	} `json:"voices"`
}

func (p *ElevenLabsProvider) fetchVoices(ctx context.Context) ([]Voice, error) {
	if p.apiKey == "" {
		return nil, authenticationError("elevenlabs", "API key is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, upstreamError("elevenlabs", "voices request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.handleError(resp)
	}

	var listing elevenLabsVoicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, upstreamError("elevenlabs", "failed decoding voices response", err)
	}

	voices := make([]Voice, 0, len(listing.Voices))
	for _, v := range listing.Voices {
		voices = append(voices, Voice{
			ID:          v.VoiceID,
			Name:        v.Name,
			Language:    "en",
			Gender:      v.Labels["gender"],
			Description: describeLabels(v.Labels),
		})
	}
	return voices, nil
}

// describeLabels flattens the upstream label map into a short description.
func describeLabels(labels map[string]string) string {
	var parts []string
	for _, key := range []string{"accent", "age", "use case"} {
		if v := labels[key]; v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, ", ")
}

// request validates inputs and performs the upstream call, returning the
// response body on success.
//
//nolint:gocritic // hugeParam: SynthesisConfig passed by value
func (p *ElevenLabsProvider) request(ctx context.Context, text string, config SynthesisConfig) (io.ReadCloser, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = p.apiKey
	}
	if apiKey == "" {
		return nil, authenticationError("elevenlabs", "API key is required")
	}

	voice := config.Voice
	if voice == "" {
		voice = ElevenLabsDefaultVoice
	}

	reqBody := elevenLabsRequest{
		Text:    text,
		ModelID: elevenLabsModel,
		VoiceSettings: &elevenLabsVoiceConfig{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s?output_format=%s", p.baseURL, voice, elevenLabsOutputFormat)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("xi-api-key", apiKey)
	req.Header.Set("Content-Type", "application/json")

	logger.APIRequest("elevenlabs", http.MethodPost, url,
		map[string]string{"xi-api-key": apiKey}, reqBody)

	resp, err := p.client.Do(req)
	if err != nil {
		logger.APIResponse("elevenlabs", 0, "", err)
		return nil, upstreamError("elevenlabs", "request failed", err)
	}
	logger.APIResponse("elevenlabs", resp.StatusCode, "", nil)

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, p.handleError(resp)
	}

	return resp.Body, nil
}

// elevenLabsErrorResponse represents an error response from ElevenLabs.
// The detail field is a string or an object depending on the failure.
type elevenLabsErrorResponse struct {
	Detail json.RawMessage `json:"detail"`
}

// handleError maps an upstream error response onto the error taxonomy.
func (p *ElevenLabsProvider) handleError(resp *http.Response) error {
	message := "unknown error"
	code := fmt.Sprintf("%d", resp.StatusCode)

	var errResp elevenLabsErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && len(errResp.Detail) > 0 {
		var s string
		if json.Unmarshal(errResp.Detail, &s) == nil {
			message = s
		} else {
			var obj struct {
				Status  string `json:"status"`
				Message string `json:"message"`
			}
			if json.Unmarshal(errResp.Detail, &obj) == nil && obj.Message != "" {
				message = obj.Message
				if obj.Status != "" {
					code = obj.Status
				}
			}
		}
	}

	retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500

	var cause error
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		cause = ErrAuthentication
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest:
		cause = fmt.Errorf("%w: %s", ErrInvalidVoice, message)
	default:
		cause = ErrUpstreamUnavailable
	}

	return NewSynthesisError("elevenlabs", code, message, cause, retryable)
}

// applySpeed time-stretches buf for non-unit speeds. Unit and unset speeds
// return buf unchanged.
func applySpeed(buf *audio.Buffer, speed float64) (*audio.Buffer, error) {
	if speed == 0 || speed == 1.0 {
		return buf, nil
	}
	return audio.TimeStretch(buf, speed)
}
