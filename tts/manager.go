package tts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/akumar23/tts-webapp/audio"
	"github.com/akumar23/tts-webapp/logger"
)

const (
	// maxSpeed is the absolute speed ceiling the routing layer accepts.
	// Individual endpoints apply stricter bounds before dispatch.
	maxSpeed = 4.0

	// EdgeProviderName is the identifier of the keyless provider, the
	// fallback target whenever a credentialed provider cannot serve.
	EdgeProviderName = "edge"

	// OpenAIProviderName is the identifier of the OpenAI provider.
	OpenAIProviderName = "openai"
)

// Request describes one synthesis request after HTTP-level decoding. Zero
// values select defaults: empty Provider resolves per policy, empty Voice
// uses the provider default, zero Speed means 1.0.
type Request struct {
	Text     string
	Provider string
	Voice    string
	Speed    float64
	Format   audio.Format
	APIKey   string
}

// Result carries the synthesis output together with the provider and voice
// that actually served it, for response headers and logging.
type Result struct {
	Buffer   *audio.Buffer
	Provider string
	Voice    string
}

// StreamResult carries a chunk stream together with the provider and voice
// serving it.
type StreamResult struct {
	Chunks   <-chan AudioChunk
	Provider string
	Voice    string
}

// CatalogEntry is one voice of the merged catalog, tagged with its provider.
type CatalogEntry struct {
	Provider string `json:"provider"`
	Voice
}

// Registration pairs a provider with its configuration state. Configured
// reports whether process-level credentials exist; keyless providers are
// always configured.
type Registration struct {
	Provider   Provider
	Configured bool
}

// ManagerConfig holds the routing policy snapshot. It is read once at
// construction and never mutated.
type ManagerConfig struct {
	// DefaultProvider is selected when a request names no provider.
	DefaultProvider string

	// MaxTextLength is the request-level text limit in characters.
	MaxTextLength int

	// FallbackEnabled opts in to cross-provider fallback on upstream
	// failure. It applies to the synchronous path only.
	FallbackEnabled bool
}

// Manager routes synthesis requests across a fixed provider set. The set is
// established at construction; there is no dynamic registration. Manager is
// safe for concurrent use: all fields are read-only after construction.
type Manager struct {
	providers   map[string]Provider
	order       []string
	configured  map[string]bool
	defaultName string
	maxTextLen  int
	fallback    bool
}

// NewManager creates a manager over the given providers. Registration order
// is preserved for catalog listing.
func NewManager(cfg ManagerConfig, regs ...Registration) *Manager {
	m := &Manager{
		providers:   make(map[string]Provider, len(regs)),
		configured:  make(map[string]bool, len(regs)),
		defaultName: cfg.DefaultProvider,
		maxTextLen:  cfg.MaxTextLength,
		fallback:    cfg.FallbackEnabled,
	}
	for _, reg := range regs {
		name := reg.Provider.Name()
		m.providers[name] = reg.Provider
		m.configured[name] = reg.Configured || !reg.Provider.RequiresCredentials()
		m.order = append(m.order, name)
	}
	if m.defaultName == "" {
		m.defaultName = EdgeProviderName
	}
	return m
}

// Resolve maps a requested provider name to a provider. An explicit name
// must match a registered provider; the empty name selects the configured
// default, falling back to the free edge provider when the default needs
// credentials that are absent.
func (m *Manager) Resolve(name string) (Provider, error) {
	if name != "" {
		p, ok := m.providers[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
		}
		return p, nil
	}

	if p, ok := m.providers[m.defaultName]; ok && m.configured[m.defaultName] {
		return p, nil
	}
	if p, ok := m.providers[EdgeProviderName]; ok {
		return p, nil
	}

	logger.Error("no usable TTS provider registered",
		"default", m.defaultName,
		"registered", m.order,
	)
	return nil, ErrNoProviderAvailable
}

// Synthesize validates the request and dispatches it to the resolved
// provider. Validation failures never reach the network. When fallback is
// enabled, an upstream failure on a credentialed provider is retried once
// on the edge provider with that provider's default voice.
func (m *Manager) Synthesize(ctx context.Context, req Request) (*Result, error) {
	p, err := m.Resolve(req.Provider)
	if err != nil {
		return nil, err
	}
	if err := m.validate(req); err != nil {
		return nil, err
	}

	config := SynthesisConfig{Voice: req.Voice, Speed: req.Speed, APIKey: req.APIKey}
	if config.Speed == 0 {
		config.Speed = 1.0
	}

	logger.SynthesisCall(p.Name(), req.Voice, utf8.RuneCountInString(req.Text), config.Speed)

	buf, err := p.Synthesize(ctx, req.Text, config)
	if err != nil {
		if fb, ok := m.fallbackFor(p, err); ok {
			logger.ProviderFallback(p.Name(), fb.Name(), err)
			fbConfig := SynthesisConfig{Speed: config.Speed}
			fbBuf, fbErr := fb.Synthesize(ctx, req.Text, fbConfig)
			if fbErr != nil {
				logger.SynthesisFailed(fb.Name(), "", fbErr)
				return nil, err
			}
			return &Result{Buffer: fbBuf, Provider: fb.Name(), Voice: defaultVoiceFor(fb.Name())}, nil
		}
		logger.SynthesisFailed(p.Name(), req.Voice, err)
		return nil, err
	}

	voice := req.Voice
	if voice == "" {
		voice = defaultVoiceFor(p.Name())
	}
	logger.SynthesisResult(p.Name(), voice, len(buf.Samples), buf.SampleRate, buf.Duration())
	return &Result{Buffer: buf, Provider: p.Name(), Voice: voice}, nil
}

// Stream validates the request and opens a chunk stream on the resolved
// provider. Streams are never eligible for cross-provider fallback: once
// audio may have been written, the result is truncated, not retried.
func (m *Manager) Stream(ctx context.Context, req Request) (*StreamResult, error) {
	p, err := m.Resolve(req.Provider)
	if err != nil {
		return nil, err
	}
	if err := m.validate(req); err != nil {
		return nil, err
	}

	config := SynthesisConfig{Voice: req.Voice, Speed: req.Speed, APIKey: req.APIKey}
	if config.Speed == 0 {
		config.Speed = 1.0
	}

	logger.StreamCall(p.Name(), req.Voice, utf8.RuneCountInString(req.Text))

	chunks, err := p.SynthesizeStream(ctx, req.Text, config)
	if err != nil {
		logger.SynthesisFailed(p.Name(), req.Voice, err)
		return nil, err
	}

	voice := req.Voice
	if voice == "" {
		voice = defaultVoiceFor(p.Name())
	}
	return &StreamResult{Chunks: chunks, Provider: p.Name(), Voice: voice}, nil
}

// ListAllVoices fans out across every registered provider and merges the
// catalogs in registration order. A provider whose catalog is unavailable
// contributes an entry in the returned error map instead of failing the
// whole listing.
func (m *Manager) ListAllVoices(ctx context.Context) ([]CatalogEntry, map[string]error) {
	var mu sync.Mutex
	byProvider := make(map[string][]Voice, len(m.order))
	errsByProvider := make(map[string]error)

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range m.order {
		p := m.providers[name]
		g.Go(func() error {
			voices, err := p.Voices(gctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errsByProvider[p.Name()] = err
				return nil
			}
			byProvider[p.Name()] = voices
			return nil
		})
	}
	_ = g.Wait() // per-provider errors are collected, never propagated

	var merged []CatalogEntry
	for _, name := range m.order {
		for _, v := range byProvider[name] {
			merged = append(merged, CatalogEntry{Provider: name, Voice: v})
		}
	}
	if len(errsByProvider) == 0 {
		errsByProvider = nil
	}
	return merged, errsByProvider
}

// ProviderVoices lists one provider's catalog.
func (m *Manager) ProviderVoices(ctx context.Context, name string) ([]CatalogEntry, error) {
	p, ok := m.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	voices, err := p.Voices(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]CatalogEntry, 0, len(voices))
	for _, v := range voices {
		entries = append(entries, CatalogEntry{Provider: name, Voice: v})
	}
	return entries, nil
}

// Providers describes the registered providers in registration order.
func (m *Manager) Providers() []Descriptor {
	descriptors := make([]Descriptor, 0, len(m.order))
	for _, name := range m.order {
		d := describeProvider(name)
		d.Configured = m.configured[name]
		d.Default = name == m.defaultName
		descriptors = append(descriptors, d)
	}
	return descriptors
}

// Configured reports whether the named provider has process-level
// credentials (always true for keyless providers, false for unknown names).
func (m *Manager) Configured(name string) bool {
	return m.configured[name]
}

// PickOpenAICompatProvider decides which provider serves the
// OpenAI-compatible endpoint: the paid OpenAI provider when a credential
// exists (process config or per-request), otherwise the free edge provider.
func PickOpenAICompatProvider(configKeySet, requestKeySet bool) string {
	if configKeySet || requestKeySet {
		return OpenAIProviderName
	}
	return EdgeProviderName
}

// validate applies request-level checks shared by the sync and stream paths.
func (m *Manager) validate(req Request) error {
	if req.Text == "" {
		return ErrEmptyText
	}
	if m.maxTextLen > 0 && utf8.RuneCountInString(req.Text) > m.maxTextLen {
		return fmt.Errorf("%w: %d characters (max %d)", ErrTextTooLong,
			utf8.RuneCountInString(req.Text), m.maxTextLen)
	}
	if req.Speed < 0 || req.Speed > maxSpeed {
		return fmt.Errorf("%w: %.2f", ErrInvalidSpeed, req.Speed)
	}
	if req.Format != "" {
		if _, err := audio.ParseFormat(string(req.Format)); err != nil {
			return err
		}
	}
	return nil
}

// fallbackFor reports whether the failed call should be retried on the edge
// provider. Only upstream faults on a different provider qualify, and only
// when fallback is enabled.
func (m *Manager) fallbackFor(p Provider, err error) (Provider, bool) {
	if !m.fallback {
		return nil, false
	}
	if !errors.Is(err, ErrUpstreamUnavailable) {
		return nil, false
	}
	if p.Name() == EdgeProviderName {
		return nil, false
	}
	fb, ok := m.providers[EdgeProviderName]
	return fb, ok
}

// defaultVoiceFor names the voice a provider uses when a request carries
// none, for response headers.
func defaultVoiceFor(provider string) string {
	switch provider {
	case EdgeProviderName:
		return EdgeDefaultVoice
	case OpenAIProviderName:
		return OpenAIDefaultVoice
	case "elevenlabs":
		return ElevenLabsDefaultVoice
	case "polly":
		return PollyDefaultVoice
	default:
		return ""
	}
}

// describeProvider returns static descriptor metadata for a provider id.
func describeProvider(name string) Descriptor {
	switch name {
	case EdgeProviderName:
		return Descriptor{
			ID:                name,
			Name:              "Edge Neural TTS",
			Description:       "Free neural voices over the Edge read-aloud service",
			RequiresAPIKey:    false,
			IsLocal:           false,
			SupportsStreaming: true,
		}
	case OpenAIProviderName:
		return Descriptor{
			ID:                name,
			Name:              "OpenAI TTS",
			Description:       "OpenAI tts-1 family voices",
			RequiresAPIKey:    true,
			APIKeyURL:         "https://platform.openai.com/api-keys",
			IsLocal:           false,
			SupportsStreaming: true,
		}
	case "elevenlabs":
		return Descriptor{
			ID:                name,
			Name:              "ElevenLabs",
			Description:       "ElevenLabs multilingual voices",
			RequiresAPIKey:    true,
			APIKeyURL:         "https://elevenlabs.io/app/settings/api-keys",
			IsLocal:           false,
			SupportsStreaming: true,
		}
	case "polly":
		return Descriptor{
			ID:                name,
			Name:              "Amazon Polly",
			Description:       "Amazon Polly neural voices",
			RequiresAPIKey:    true,
			APIKeyURL:         "https://console.aws.amazon.com/iam/",
			IsLocal:           false,
			SupportsStreaming: true,
		}
	default:
		return Descriptor{ID: name, Name: name}
	}
}
