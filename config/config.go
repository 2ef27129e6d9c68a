// Package config loads the immutable gateway settings snapshot: built-in
// defaults, overlaid by an optional YAML file, overlaid by environment
// variables. The merged result is validated against an embedded JSON schema
// before the process starts serving.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	_ "embed"

	"github.com/Masterminds/semver/v3"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var settingsSchema string

// Default settings values.
const (
	DefaultAppName       = "TTS Gateway"
	DefaultHost          = "0.0.0.0"
	DefaultPort          = 8000
	DefaultProvider      = "edge"
	DefaultVoice         = "en-US-JennyNeural"
	DefaultFormat        = "mp3"
	DefaultSampleRate    = 24000
	DefaultMaxTextLength = 5000
	DefaultRedisURL      = "redis://localhost:6379/0"
	DefaultCacheTTL      = 3600
	DefaultFFmpegPath    = "ffmpeg"
)

// CacheSettings configures the redis audio cache.
type CacheSettings struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	RedisURL   string `yaml:"redis_url" json:"redis_url"`
	TTLSeconds int    `yaml:"ttl_seconds" json:"ttl_seconds"`
}

// TelemetrySettings configures the OTLP trace exporter.
type TelemetrySettings struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint,omitempty"`
}

// Settings is the process configuration snapshot. It is loaded once at
// startup and never mutated afterwards; components receive it by value or
// keep their own copies of the fields they need.
type Settings struct {
	AppName string `yaml:"app_name" json:"app_name"`

	// Version optionally pins a deployment version; when present it must
	// be strict semver (MAJOR.MINOR.PATCH, optional v prefix).
	Version string `yaml:"version" json:"version,omitempty"`

	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`

	DefaultProvider string `yaml:"default_provider" json:"default_provider"`
	DefaultVoice    string `yaml:"default_voice" json:"default_voice"`
	DefaultFormat   string `yaml:"default_format" json:"default_format"`
	SampleRate      int    `yaml:"sample_rate" json:"sample_rate"`
	MaxTextLength   int    `yaml:"max_text_length" json:"max_text_length"`
	FallbackEnabled bool   `yaml:"fallback_enabled" json:"fallback_enabled"`

	OpenAIAPIKey     string `yaml:"openai_api_key" json:"openai_api_key,omitempty"`
	ElevenLabsAPIKey string `yaml:"elevenlabs_api_key" json:"elevenlabs_api_key,omitempty"`
	AWSRegion        string `yaml:"aws_region" json:"aws_region,omitempty"`

	Cache     CacheSettings     `yaml:"cache" json:"cache"`
	Telemetry TelemetrySettings `yaml:"telemetry" json:"telemetry"`

	FFmpegPath     string `yaml:"ffmpeg_path" json:"ffmpeg_path"`
	MetricsEnabled bool   `yaml:"metrics_enabled" json:"metrics_enabled"`
}

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{
		AppName:         DefaultAppName,
		Host:            DefaultHost,
		Port:            DefaultPort,
		DefaultProvider: DefaultProvider,
		DefaultVoice:    DefaultVoice,
		DefaultFormat:   DefaultFormat,
		SampleRate:      DefaultSampleRate,
		MaxTextLength:   DefaultMaxTextLength,
		Cache: CacheSettings{
			Enabled:    true,
			RedisURL:   DefaultRedisURL,
			TTLSeconds: DefaultCacheTTL,
		},
		FFmpegPath:     DefaultFFmpegPath,
		MetricsEnabled: true,
	}
}

// Load builds the settings snapshot. path may be empty (defaults + env only)
// or name a YAML file; a named file that does not exist is an error, so a
// typo in --config fails fast instead of silently serving defaults.
func Load(path string) (Settings, error) {
	s := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &s); err != nil {
			return Settings{}, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnv(&s)

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// applyEnv overlays environment variables onto the settings. Provider
// credentials use their conventional names; gateway knobs use TTS_ prefixed
// names to avoid collisions.
func applyEnv(s *Settings) {
	envString(&s.Host, "TTS_HOST")
	envInt(&s.Port, "TTS_PORT")
	envString(&s.DefaultProvider, "TTS_DEFAULT_PROVIDER")
	envString(&s.DefaultVoice, "TTS_DEFAULT_VOICE")
	envString(&s.DefaultFormat, "TTS_DEFAULT_FORMAT")
	envInt(&s.SampleRate, "TTS_SAMPLE_RATE")
	envInt(&s.MaxTextLength, "TTS_MAX_TEXT_LENGTH")
	envBool(&s.FallbackEnabled, "TTS_FALLBACK_ENABLED")

	envString(&s.OpenAIAPIKey, "OPENAI_API_KEY")
	envString(&s.ElevenLabsAPIKey, "ELEVENLABS_API_KEY")
	envString(&s.AWSRegion, "AWS_REGION")

	envBool(&s.Cache.Enabled, "TTS_CACHE_ENABLED")
	envString(&s.Cache.RedisURL, "REDIS_URL")
	envInt(&s.Cache.TTLSeconds, "TTS_CACHE_TTL")

	envString(&s.FFmpegPath, "TTS_FFMPEG_PATH")
	envBool(&s.Telemetry.Enabled, "TTS_TRACING_ENABLED")
	envString(&s.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	envBool(&s.MetricsEnabled, "TTS_METRICS_ENABLED")
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// ValidationError is one field-level schema violation.
type ValidationError struct {
	Field       string
	Description string
	Value       interface{}
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("%s: %s (value: %v)", e.Field, e.Description, e.Value)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Description)
}

// Validate checks the settings against the embedded JSON schema and, when a
// version is set, against strict semver.
func (s Settings) Validate() error {
	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(settingsSchema),
		gojsonschema.NewBytesLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			ve := ValidationError{Field: e.Field(), Description: e.Description(), Value: e.Value()}
			errs = append(errs, ve.Error())
		}
		return fmt.Errorf("invalid settings: %s", strings.Join(errs, "; "))
	}

	if s.Version != "" {
		if _, err := semver.StrictNewVersion(strings.TrimPrefix(s.Version, "v")); err != nil {
			return fmt.Errorf("invalid version %q: %w", s.Version, err)
		}
	}

	return nil
}

// Addr is the listen address in host:port form.
func (s Settings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// OpenAIConfigured reports whether a process-level OpenAI key exists.
func (s Settings) OpenAIConfigured() bool { return s.OpenAIAPIKey != "" }

// ElevenLabsConfigured reports whether a process-level ElevenLabs key exists.
func (s Settings) ElevenLabsConfigured() bool { return s.ElevenLabsAPIKey != "" }

// PollyConfigured reports whether AWS region configuration exists. Actual
// credential resolution is left to the SDK default chain.
func (s Settings) PollyConfigured() bool { return s.AWSRegion != "" }
