package tts

import (
	"errors"
	"fmt"

	"github.com/akumar23/tts-webapp/audio"
)

// Sentinel errors for the synthesis and routing layer. Validation errors
// (empty text, length, speed, voice, format, unknown provider) are client
// errors and are never retried; the remaining errors describe upstream or
// configuration faults. Retry policy belongs to callers in all cases.
var (
	// ErrEmptyText is returned when attempting to synthesize empty text.
	ErrEmptyText = errors.New("text cannot be empty")

	// ErrTextTooLong is returned when text exceeds the configured maximum
	// or a provider's stricter limit.
	ErrTextTooLong = errors.New("text exceeds maximum length")

	// ErrInvalidSpeed is returned for non-positive or absurd speed multipliers.
	ErrInvalidSpeed = errors.New("invalid speech speed")

	// ErrInvalidVoice is returned when the requested voice is not in the
	// selected provider's catalog.
	ErrInvalidVoice = errors.New("invalid or unsupported voice")

	// ErrAuthentication is returned when a provider requires credentials
	// that are absent or rejected by the upstream.
	ErrAuthentication = errors.New("provider authentication failed")

	// ErrUpstreamUnavailable is returned when the backend network call
	// fails, times out, or answers with a server error.
	ErrUpstreamUnavailable = errors.New("upstream TTS service unavailable")

	// ErrUnknownProvider is returned for an explicit provider choice that
	// does not name a registered provider.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrNoProviderAvailable indicates no registered provider is usable.
	// With the keyless edge provider registered this is unreachable; when
	// it occurs it is a configuration fault.
	ErrNoProviderAvailable = errors.New("no TTS provider available")

	// ErrCatalogUnavailable is returned when a live voice catalog fetch
	// fails and no cached catalog exists.
	ErrCatalogUnavailable = errors.New("voice catalog unavailable")
)

// ErrUnsupportedFormat aliases the audio package sentinel so callers can
// match every request-validation error against this package alone.
var ErrUnsupportedFormat = audio.ErrUnsupportedFormat

// SynthesisError provides detailed error information from TTS providers.
type SynthesisError struct {
	// Provider is the TTS provider that returned the error.
	Provider string

	// Code is the provider-specific error code.
	Code string

	// Message is the error message.
	Message string

	// Cause is the underlying error (if any).
	Cause error

	// Retryable indicates if the error is transient and a caller-side
	// retry may succeed. The gateway itself never retries.
	Retryable bool
}

// Error implements the error interface.
func (e *SynthesisError) Error() string {
	if e.Cause != nil {
		return e.Provider + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Provider + ": " + e.Message
}

// Unwrap returns the underlying error.
func (e *SynthesisError) Unwrap() error {
	return e.Cause
}

// NewSynthesisError creates a new SynthesisError.
func NewSynthesisError(provider, code, message string, cause error, retryable bool) *SynthesisError {
	return &SynthesisError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: retryable,
	}
}

// upstreamError wraps a transport-level failure so callers can match
// ErrUpstreamUnavailable while keeping the provider detail for logs.
func upstreamError(provider, message string, cause error) *SynthesisError {
	return NewSynthesisError(provider, "", message,
		fmt.Errorf("%w: %w", ErrUpstreamUnavailable, cause), true)
}

// invalidVoiceError reports a voice id outside the provider's catalog.
func invalidVoiceError(provider, voice string) *SynthesisError {
	return NewSynthesisError(provider, "", "voice not in catalog",
		fmt.Errorf("%w: %q", ErrInvalidVoice, voice), false)
}

// authenticationError reports absent or rejected credentials.
func authenticationError(provider, message string) *SynthesisError {
	return NewSynthesisError(provider, "", message, ErrAuthentication, false)
}
