package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"

	"github.com/akumar23/tts-webapp/audio"
)

const (
	// PollySampleRate is the synthesis rate. Polly's PCM output supports
	// 8000 and 16000 Hz only.
	PollySampleRate = 16000

	// PollyDefaultVoice is used when a request names no voice.
	PollyDefaultVoice = "Joanna"

	// pollyStreamReadSize is the PCM read size per streamed chunk.
	pollyStreamReadSize = 8192
)

// pollyClient is the subset of the Polly API the provider uses. The AWS SDK
// client satisfies it; tests substitute a fake.
type pollyClient interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
	DescribeVoices(ctx context.Context, params *polly.DescribeVoicesInput, optFns ...func(*polly.Options)) (*polly.DescribeVoicesOutput, error)
}

// PollyProvider synthesizes speech through Amazon Polly. Speed is applied
// natively via SSML prosody. The voice catalog is fetched live from
// DescribeVoices and cached for the process lifetime; there is no static
// fallback, so a failed first fetch reports ErrCatalogUnavailable.
type PollyProvider struct {
	client  pollyClient
	engine  pollytypes.Engine
	catalog catalogCache
}

// PollyOption configures the Polly provider.
type PollyOption func(*PollyProvider)

// WithPollyEngine selects the synthesis engine (standard or neural).
func WithPollyEngine(engine pollytypes.Engine) PollyOption {
	return func(p *PollyProvider) { p.engine = engine }
}

// NewPolly creates the Polly provider around an SDK client.
func NewPolly(client pollyClient, opts ...PollyOption) *PollyProvider {
	p := &PollyProvider{
		client: client,
		engine: pollytypes.EngineNeural,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (p *PollyProvider) Name() string { return "polly" }

// RequiresCredentials reports that AWS credentials are required.
func (p *PollyProvider) RequiresCredentials() bool { return true }

// Synthesize converts text to a decoded 16 kHz buffer.
//
//nolint:gocritic // hugeParam: SynthesisConfig passed by value to satisfy Provider
func (p *PollyProvider) Synthesize(ctx context.Context, text string, config SynthesisConfig) (*audio.Buffer, error) {
	stream, err := p.request(ctx, text, config)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	pcm, err := io.ReadAll(stream)
	if err != nil {
		return nil, upstreamError("polly", "failed reading audio stream", err)
	}
	if len(pcm) == 0 {
		return nil, upstreamError("polly", "no audio received", fmt.Errorf("empty synthesis result"))
	}

	return audio.NewBufferFromPCM16(pcm, PollySampleRate)
}

// SynthesizeStream converts text to audio with streaming output by reading
// the response audio stream incrementally.
//
//nolint:gocritic // hugeParam: SynthesisConfig passed by value to satisfy Provider
func (p *PollyProvider) SynthesizeStream(ctx context.Context, text string, config SynthesisConfig) (<-chan AudioChunk, error) {
	stream, err := p.request(ctx, text, config)
	if err != nil {
		return nil, err
	}

	chunks := make(chan AudioChunk, streamChannelBuffer)
	go func() {
		defer close(chunks)
		defer stream.Close()

		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				_ = stream.Close()
			case <-done:
			}
		}()

		index := 0
		buf := make([]byte, pollyStreamReadSize)
		var carry []byte
		for {
			n, readErr := stream.Read(buf)
			if n > 0 {
				data := append(carry, buf[:n]...) //nolint:gocritic // carry is consumed here
				carry = nil
				if len(data)%2 != 0 {
					carry = []byte{data[len(data)-1]}
					data = data[:len(data)-1]
				}
				if len(data) > 0 {
					chunk, decErr := audio.NewBufferFromPCM16(data, PollySampleRate)
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
				sendChunk(ctx, chunks, AudioChunk{Index: index, Err: upstreamError("polly", "stream read failed", readErr)})
				return
			}
		}
	}()

	return chunks, nil
}

// Voices returns the live catalog for the configured engine, fetched once
// and cached.
func (p *PollyProvider) Voices(ctx context.Context) ([]Voice, error) {
	voices, err := p.catalog.get(ctx, p.fetchVoices)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
	}
	return voices, nil
}

func (p *PollyProvider) fetchVoices(ctx context.Context) ([]Voice, error) {
	var voices []Voice
	input := &polly.DescribeVoicesInput{Engine: p.engine}
	for {
		out, err := p.client.DescribeVoices(ctx, input)
		if err != nil {
			return nil, upstreamError("polly", "describe voices failed", err)
		}
		for _, v := range out.Voices {
			voices = append(voices, Voice{
				ID:       string(v.Id),
				Name:     aws.ToString(v.Name),
				Language: string(v.LanguageCode),
				Gender:   strings.ToLower(string(v.Gender)),
			})
		}
		if out.NextToken == nil {
			break
		}
		input.NextToken = out.NextToken
	}
	return voices, nil
}

// request validates inputs and performs the SynthesizeSpeech call, returning
// the audio stream on success. Non-unit speed is applied through an SSML
// prosody wrapper.
//
//nolint:gocritic // hugeParam: SynthesisConfig passed by value
func (p *PollyProvider) request(ctx context.Context, text string, config SynthesisConfig) (io.ReadCloser, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	voice := config.Voice
	if voice == "" {
		voice = PollyDefaultVoice
	}

	input := &polly.SynthesizeSpeechInput{
		Engine:       p.engine,
		OutputFormat: pollytypes.OutputFormatPcm,
		SampleRate:   aws.String(fmt.Sprintf("%d", PollySampleRate)),
		VoiceId:      pollytypes.VoiceId(voice),
		Text:         aws.String(text),
		TextType:     pollytypes.TextTypeText,
	}

	if config.Speed != 0 && config.Speed != 1.0 {
		ssml := fmt.Sprintf(`<speak><prosody rate="%d%%">%s</prosody></speak>`,
			int(config.Speed*100), escapeSSML(text))
		input.Text = aws.String(ssml)
		input.TextType = pollytypes.TextTypeSsml
	}

	out, err := p.client.SynthesizeSpeech(ctx, input)
	if err != nil {
		return nil, p.handleError(err)
	}
	if out.AudioStream == nil {
		return nil, upstreamError("polly", "no audio received", fmt.Errorf("empty synthesis result"))
	}

	return out.AudioStream, nil
}

// handleError maps SDK failures onto the error taxonomy.
func (p *PollyProvider) handleError(err error) error {
	var textTooLong *pollytypes.TextLengthExceededException
	if errors.As(err, &textTooLong) {
		return NewSynthesisError("polly", textTooLong.ErrorCode(), "text exceeds Polly limit",
			fmt.Errorf("%w: %w", ErrTextTooLong, err), false)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "UnrecognizedClientException", "InvalidSignatureException", "AccessDeniedException", "ExpiredTokenException":
			return authenticationError("polly", "AWS credentials missing or rejected")
		case "ValidationException":
			return NewSynthesisError("polly", apiErr.ErrorCode(), "voice not recognized",
				fmt.Errorf("%w: %w", ErrInvalidVoice, err), false)
		}
	}

	if strings.Contains(err.Error(), "failed to retrieve credentials") {
		return authenticationError("polly", "AWS credentials missing or rejected")
	}

	return upstreamError("polly", "synthesis request failed", err)
}
