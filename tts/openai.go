package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/akumar23/tts-webapp/audio"
	"github.com/akumar23/tts-webapp/logger"
)

const (
	openAIBaseURL     = "https://api.openai.com/v1"
	openAITTSEndpoint = "/audio/speech"

	// ModelTTS1 is the OpenAI TTS model optimized for speed.
	ModelTTS1 = "tts-1"
	// ModelTTS1HD is the OpenAI TTS model optimized for quality.
	ModelTTS1HD = "tts-1-hd"

	// Default timeout for TTS requests.
	defaultOpenAITimeout = 60 * time.Second

	// HTTP status code threshold for server errors.
	openAIServerErrorThreshold = 500

	// OpenAISampleRate is the rate of the pcm response format.
	OpenAISampleRate = 24000

	// openAIResponseFormat requests raw 24 kHz 16-bit mono PCM so the
	// decoded-buffer contract holds without a container decode step.
	openAIResponseFormat = "pcm"

	// OpenAIDefaultVoice is used when a request names no voice.
	OpenAIDefaultVoice = VoiceAlloy

	// openAIStreamReadSize is the PCM read size per streamed chunk.
	openAIStreamReadSize = 8192
)

// OpenAI voices.
const (
	VoiceAlloy   = "alloy"   // Neutral voice.
	VoiceEcho    = "echo"    // Male voice.
	VoiceFable   = "fable"   // Expressive voice.
	VoiceOnyx    = "onyx"    // Deep male voice.
	VoiceNova    = "nova"    // Female voice.
	VoiceShimmer = "shimmer" // Soft female voice.
)

// openAIVoices is the fixed catalog, in stable order.
var openAIVoices = []Voice{
	{ID: VoiceAlloy, Name: "Alloy", Language: "en", Gender: GenderNeutral, Description: "Balanced, versatile voice"},
	{ID: VoiceEcho, Name: "Echo", Language: "en", Gender: GenderMale, Description: "Warm, confident male voice"},
	{ID: VoiceFable, Name: "Fable", Language: "en", Gender: GenderNeutral, Description: "Expressive, dynamic voice"},
	{ID: VoiceOnyx, Name: "Onyx", Language: "en", Gender: GenderMale, Description: "Deep, authoritative male voice"},
	{ID: VoiceNova, Name: "Nova", Language: "en", Gender: GenderFemale, Description: "Warm, engaging female voice"},
	{ID: VoiceShimmer, Name: "Shimmer", Language: "en", Gender: GenderFemale, Description: "Clear, optimistic female voice"},
}

// OpenAIProvider synthesizes speech through OpenAI's /audio/speech API.
type OpenAIProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
	model   string
}

// OpenAIOption configures the OpenAI provider.
type OpenAIOption func(*OpenAIProvider)

// WithOpenAIBaseURL sets a custom base URL (for testing or proxies).
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(p *OpenAIProvider) { p.baseURL = url }
}

// WithOpenAIClient sets a custom HTTP client.
func WithOpenAIClient(client *http.Client) OpenAIOption {
	return func(p *OpenAIProvider) { p.client = client }
}

// WithOpenAIModel sets the TTS model to use.
func WithOpenAIModel(model string) OpenAIOption {
	return func(p *OpenAIProvider) { p.model = model }
}

// NewOpenAI creates the OpenAI provider. The apiKey may be empty; requests
// can still carry their own key in SynthesisConfig.APIKey.
func NewOpenAI(apiKey string, opts ...OpenAIOption) *OpenAIProvider {
	p := &OpenAIProvider{
		apiKey:  apiKey,
		baseURL: openAIBaseURL,
		client:  &http.Client{Timeout: defaultOpenAITimeout},
		model:   ModelTTS1,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string { return "openai" }

// RequiresCredentials reports that an API key is required.
func (p *OpenAIProvider) RequiresCredentials() bool { return true }

// Voices returns the fixed catalog. It never fails.
func (p *OpenAIProvider) Voices(context.Context) ([]Voice, error) {
	return openAIVoices, nil
}

// openAIRequest is the request body for the speech endpoint.
type openAIRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
}

// Synthesize converts text to a decoded 24 kHz buffer. Speed is applied
// natively by the upstream.
//
//nolint:gocritic // hugeParam: SynthesisConfig passed by value to satisfy Provider
func (p *OpenAIProvider) Synthesize(ctx context.Context, text string, config SynthesisConfig) (*audio.Buffer, error) {
	body, err := p.request(ctx, text, config)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	pcm, err := io.ReadAll(body)
	if err != nil {
		return nil, upstreamError("openai", "failed reading audio response", err)
	}
	if len(pcm) == 0 {
		return nil, upstreamError("openai", "no audio received", fmt.Errorf("empty synthesis result"))
	}

	return audio.NewBufferFromPCM16(pcm, OpenAISampleRate)
}

// SynthesizeStream converts text to audio with streaming output by reading
// the PCM response body incrementally.
//
//nolint:gocritic // hugeParam: SynthesisConfig passed by value to satisfy Provider
func (p *OpenAIProvider) SynthesizeStream(ctx context.Context, text string, config SynthesisConfig) (<-chan AudioChunk, error) {
	body, err := p.request(ctx, text, config)
	if err != nil {
		return nil, err
	}

	chunks := make(chan AudioChunk, streamChannelBuffer)
	go func() {
		defer close(chunks)
		defer body.Close()

		// Close the body on cancellation so the blocked read returns.
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
		buf := make([]byte, openAIStreamReadSize)
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
					chunk, decErr := audio.NewBufferFromPCM16(data, OpenAISampleRate)
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
				sendChunk(ctx, chunks, AudioChunk{Index: index, Err: upstreamError("openai", "stream read failed", readErr)})
				return
			}
		}
	}()

	return chunks, nil
}

// request validates inputs and performs the upstream call, returning the
// response body on success.
//
//nolint:gocritic // hugeParam: SynthesisConfig passed by value
func (p *OpenAIProvider) request(ctx context.Context, text string, config SynthesisConfig) (io.ReadCloser, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = p.apiKey
	}
	if apiKey == "" {
		return nil, authenticationError("openai", "API key is required")
	}

	voice := config.Voice
	if voice == "" {
		voice = OpenAIDefaultVoice
	}
	if _, ok := findVoice(openAIVoices, voice); !ok {
		return nil, invalidVoiceError("openai", voice)
	}

	speed := config.Speed
	if speed == 0 {
		speed = 1.0
	}

	reqBody := openAIRequest{
		Model:          p.model,
		Input:          text,
		Voice:          voice,
		ResponseFormat: openAIResponseFormat,
		Speed:          speed,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+openAITTSEndpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	logger.APIRequest("openai", http.MethodPost, req.URL.String(),
		map[string]string{"Authorization": "Bearer " + apiKey}, reqBody)

	resp, err := p.client.Do(req)
	if err != nil {
		logger.APIResponse("openai", 0, "", err)
		return nil, upstreamError("openai", "request failed", err)
	}
	logger.APIResponse("openai", resp.StatusCode, "", nil)

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, p.handleError(resp)
	}

	return resp.Body, nil
}

// openAIErrorResponse represents an error response from OpenAI.
type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// handleError maps an upstream error response onto the error taxonomy.
func (p *OpenAIProvider) handleError(resp *http.Response) error {
	var errResp openAIErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return NewSynthesisError("openai", fmt.Sprintf("%d", resp.StatusCode), "unknown error",
			fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err),
			resp.StatusCode >= openAIServerErrorThreshold)
	}

	retryable := resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode >= openAIServerErrorThreshold

	var cause error
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		cause = ErrAuthentication
	case resp.StatusCode == http.StatusBadRequest && errResp.Error.Code == "invalid_voice":
		cause = ErrInvalidVoice
	case resp.StatusCode == http.StatusBadRequest:
		cause = fmt.Errorf("bad request")
	default:
		cause = ErrUpstreamUnavailable
	}

	return NewSynthesisError("openai", errResp.Error.Code, errResp.Error.Message, cause, retryable)
}
