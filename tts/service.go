package tts

import (
	"context"

	"github.com/akumar23/tts-webapp/audio"
)

const (
	// streamChannelBuffer is the capacity of streaming chunk channels.
	streamChannelBuffer = 64
)

// Provider converts text to decoded speech audio.
// This interface abstracts the synthesis backends (edge, OpenAI, ElevenLabs,
// Polly) so the routing layer can use any of them interchangeably.
type Provider interface {
	// Name returns the provider identifier (for routing and logging).
	Name() string

	// RequiresCredentials reports whether the provider needs an API key
	// or cloud credentials to synthesize.
	RequiresCredentials() bool

	// Synthesize converts text to a fresh buffer of decoded samples at
	// the provider's declared sample rate. The buffer is owned by the
	// caller and never shared or cached by the provider.
	Synthesize(ctx context.Context, text string, config SynthesisConfig) (*audio.Buffer, error)

	// SynthesizeStream converts text to audio with streaming output.
	// Chunks arrive on the returned channel in production order; the
	// channel is closed when synthesis completes, fails, or ctx is
	// canceled. An error after the first chunk is delivered as a chunk
	// with Err set: the stream is truncated, never rolled back.
	SynthesizeStream(ctx context.Context, text string, config SynthesisConfig) (<-chan AudioChunk, error)

	// Voices returns the provider's voice catalog in stable order.
	// Providers with a live catalog cache the last good fetch; Voices
	// fails with ErrCatalogUnavailable only when no cached catalog
	// exists and the fetch fails.
	Voices(ctx context.Context) ([]Voice, error)
}

// AudioChunk is one streamed piece of synthesized audio.
type AudioChunk struct {
	// Buffer holds the decoded samples for this chunk.
	Buffer *audio.Buffer

	// Index is the chunk sequence number (0-indexed).
	Index int

	// Final indicates this is the last chunk of the stream.
	Final bool

	// Err is set if synthesis failed mid-stream. No further chunks
	// follow a chunk with Err set.
	Err error
}

// SynthesisConfig configures a single synthesis call.
type SynthesisConfig struct {
	// Voice is the provider-specific voice ID. Empty selects the
	// provider's default voice.
	Voice string

	// Speed is the speech rate multiplier (default 1.0). Providers with
	// native rate control apply it upstream; others time-stretch the
	// decoded buffer deterministically.
	Speed float64

	// APIKey optionally carries a request-scoped credential for paid
	// providers. Provider instances are never mutated by it.
	APIKey string
}

// DefaultSynthesisConfig returns sensible defaults for synthesis.
func DefaultSynthesisConfig() SynthesisConfig {
	return SynthesisConfig{Speed: 1.0}
}

// Voice describes a synthetic speaker identity offered by a provider.
type Voice struct {
	// ID is the provider-specific voice identifier.
	ID string `json:"id"`

	// Name is a human-readable voice name.
	Name string `json:"name"`

	// Language is the language tag (e.g., "en-US" or "en").
	Language string `json:"language"`

	// Gender is the voice gender ("male", "female", "neutral").
	Gender string `json:"gender,omitempty"`

	// Description provides additional voice characteristics.
	Description string `json:"description,omitempty"`
}

// Voice gender tags.
const (
	GenderMale    = "male"
	GenderFemale  = "female"
	GenderNeutral = "neutral"
)

// Descriptor describes a registered provider to the routing layer and the
// HTTP surface. It is recomputed from configuration at startup and never
// persisted.
type Descriptor struct {
	// ID is the provider identifier used in requests.
	ID string `json:"id"`

	// Name is the provider display name.
	Name string `json:"name"`

	// Description summarizes the backend.
	Description string `json:"description"`

	// RequiresAPIKey reports whether the provider is credentialed.
	RequiresAPIKey bool `json:"requires_api_key"`

	// APIKeyURL points at where to obtain a key, when one is required.
	APIKeyURL string `json:"api_key_url,omitempty"`

	// IsLocal reports whether synthesis runs without network calls.
	IsLocal bool `json:"is_local"`

	// SupportsStreaming reports whether SynthesizeStream is native.
	SupportsStreaming bool `json:"supports_streaming"`

	// Configured reports whether credentials are present in the process
	// configuration (always true for keyless providers).
	Configured bool `json:"configured"`

	// Default marks the provider selected when a request names none.
	Default bool `json:"default"`
}

// sendChunk delivers a chunk unless ctx is done. An abandoned consumer stops
// draining; without the ctx arm the producer would park in the send forever
// once the channel buffer fills. Returns false when the send was dropped.
func sendChunk(ctx context.Context, out chan<- AudioChunk, chunk AudioChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// findVoice returns the catalog entry matching id, or false when absent.
func findVoice(voices []Voice, id string) (Voice, bool) {
	for _, v := range voices {
		if v.ID == id {
			return v, true
		}
	}
	return Voice{}, false
}
