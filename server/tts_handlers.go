package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/akumar23/tts-webapp/audio"
	"github.com/akumar23/tts-webapp/cache"
	"github.com/akumar23/tts-webapp/logger"
	"github.com/akumar23/tts-webapp/metrics/prometheus"
	"github.com/akumar23/tts-webapp/tts"
)

// synthesizeRequest is the body of POST /v1/tts/synthesize and /stream.
type synthesizeRequest struct {
	Text     string  `json:"text"`
	Provider string  `json:"provider,omitempty"`
	Voice    string  `json:"voice,omitempty"`
	Speed    float64 `json:"speed,omitempty"`
	Format   string  `json:"format,omitempty"`
	APIKey   string  `json:"api_key,omitempty"`
}

// openAISpeechRequest mirrors the OpenAI /v1/audio/speech body.
type openAISpeechRequest struct {
	Model          string  `json:"model,omitempty"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice,omitempty"`
	ResponseFormat string  `json:"response_format,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
}

// decodeJSON reads a capped JSON body into dst.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("decoding request body: %w", err)
	}
	return nil
}

// checkSpeed validates an endpoint-level speed bound. Zero means default.
func checkSpeed(speed, lo, hi float64) error {
	if speed == 0 {
		return nil
	}
	if speed < lo || speed > hi {
		return fmt.Errorf("%w: %.2f (allowed %.2f to %.2f)", tts.ErrInvalidSpeed, speed, lo, hi)
	}
	return nil
}

// resolveFormat applies the configured default format and validates.
func (s *Server) resolveFormat(name string) (audio.Format, error) {
	if name == "" {
		name = s.settings.DefaultFormat
	}
	return audio.ParseFormat(name)
}

// defaultVoice fills in the configured default voice for the edge provider.
// Paid providers keep their own defaults.
func (s *Server) defaultVoice(provider, voice string) string {
	if voice == "" && provider == tts.EdgeProviderName {
		return s.settings.DefaultVoice
	}
	return voice
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req synthesizeRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, errTypeInvalidRequest, err.Error())
		return
	}
	if err := checkSpeed(req.Speed, gatewayMinSpeed, gatewayMaxSpeed); err != nil {
		writeError(w, err)
		return
	}
	format, err := s.resolveFormat(req.Format)
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := s.manager.Resolve(req.Provider)
	if err != nil {
		writeError(w, err)
		return
	}

	provider := p.Name()
	voice := s.defaultVoice(provider, req.Voice)
	speed := req.Speed
	if speed == 0 {
		speed = 1.0
	}

	cacheKey := cache.Key(req.Text, provider, voice, speed, string(format))
	if s.cache != nil {
		if data, ok := s.cache.Get(r.Context(), cacheKey); ok {
			prometheus.RecordCacheHit()
			s.writeAudio(w, data, format, provider, voice, start, -1)
			return
		}
		prometheus.RecordCacheMiss()
	}

	result, err := s.manager.Synthesize(r.Context(), tts.Request{
		Text:     req.Text,
		Provider: req.Provider,
		Voice:    voice,
		Speed:    req.Speed,
		Format:   format,
		APIKey:   req.APIKey,
	})
	if err != nil {
		prometheus.RecordSynthesis(provider, "error", time.Since(start).Seconds())
		writeError(w, err)
		return
	}

	encoded, err := s.converter.Encode(r.Context(), result.Buffer, format, s.settings.SampleRate)
	if err != nil {
		prometheus.RecordSynthesis(result.Provider, "error", time.Since(start).Seconds())
		writeError(w, err)
		return
	}

	prometheus.RecordSynthesis(result.Provider, "success", time.Since(start).Seconds())
	prometheus.RecordSynthesisCharacters(result.Provider, utf8.RuneCountInString(req.Text))

	// The key was computed for the resolved provider; fallback audio came
	// from a different one and must not answer future requests for it.
	if s.cache != nil && result.Provider == provider {
		s.cache.Set(r.Context(), cacheKey, encoded)
	}

	s.writeAudio(w, encoded, format, result.Provider, result.Voice, start, result.Buffer.Duration())
}

// writeAudio writes an encoded audio response with the gateway headers.
// durationSeconds < 0 omits the duration header (cache hits do not know it).
func (s *Server) writeAudio(w http.ResponseWriter, data []byte, format audio.Format, provider, voice string, start time.Time, durationSeconds float64) {
	h := w.Header()
	h.Set("Content-Type", format.MIMEType())
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=speech.%s", format))
	h.Set("X-Processing-Time-Ms", fmt.Sprintf("%.2f", float64(time.Since(start).Microseconds())/1000.0))
	h.Set("X-Provider", provider)
	if voice != "" {
		h.Set("X-Voice", voice)
	}
	if durationSeconds >= 0 {
		h.Set("X-Audio-Duration-Seconds", fmt.Sprintf("%.2f", durationSeconds))
	}
	_, _ = w.Write(data)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var req synthesizeRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, errTypeInvalidRequest, err.Error())
		return
	}
	if err := checkSpeed(req.Speed, gatewayMinSpeed, gatewayMaxSpeed); err != nil {
		writeError(w, err)
		return
	}
	format, err := s.resolveFormat(req.Format)
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := s.manager.Resolve(req.Provider)
	if err != nil {
		writeError(w, err)
		return
	}
	voice := s.defaultVoice(p.Name(), req.Voice)

	result, err := s.manager.Stream(r.Context(), tts.Request{
		Text:     req.Text,
		Provider: req.Provider,
		Voice:    voice,
		Speed:    req.Speed,
		Format:   format,
		APIKey:   req.APIKey,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	prometheus.RecordStreamStart()
	defer prometheus.RecordStreamEnd()

	h := w.Header()
	h.Set("Content-Type", format.MIMEType())
	h.Set("X-Provider", result.Provider)
	h.Set("X-Voice", result.Voice)

	flusher, _ := w.(http.Flusher)
	for chunk := range result.Chunks {
		if chunk.Err != nil {
			// Headers are gone; the best we can do is truncate.
			logger.Warn("stream truncated by upstream failure",
				"provider", result.Provider, "chunk", chunk.Index, "error", chunk.Err)
			return
		}
		if chunk.Buffer == nil || len(chunk.Buffer.Samples) == 0 {
			continue
		}
		encoded, encErr := s.converter.EncodeChunk(r.Context(), chunk.Buffer, format, s.settings.SampleRate, chunk.Index == 0, chunk.Final)
		if encErr != nil {
			logger.Warn("stream chunk encode failed", "chunk", chunk.Index, "error", encErr)
			return
		}
		if _, writeErr := w.Write(encoded); writeErr != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// compatFormats maps OpenAI response_format names onto gateway formats.
var compatFormats = map[string]audio.Format{
	"":     audio.FormatMP3,
	"mp3":  audio.FormatMP3,
	"wav":  audio.FormatWAV,
	"ogg":  audio.FormatOGG,
	"opus": audio.FormatOGG,
}

func (s *Server) handleOpenAISpeech(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req openAISpeechRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, errTypeInvalidRequest, err.Error())
		return
	}
	if err := checkSpeed(req.Speed, compatMinSpeed, compatMaxSpeed); err != nil {
		writeError(w, err)
		return
	}
	format, ok := compatFormats[req.ResponseFormat]
	if !ok {
		writeError(w, fmt.Errorf("%w: %q", audio.ErrUnsupportedFormat, req.ResponseFormat))
		return
	}

	apiKey := r.URL.Query().Get("api-key")
	provider := tts.PickOpenAICompatProvider(s.settings.OpenAIConfigured(), apiKey != "")

	voice := req.Voice
	if provider == tts.EdgeProviderName {
		// OpenAI voice names mean nothing to the edge service.
		voice = s.defaultVoice(provider, "")
	}

	result, err := s.manager.Synthesize(r.Context(), tts.Request{
		Text:     req.Input,
		Provider: provider,
		Voice:    voice,
		Speed:    req.Speed,
		Format:   format,
		APIKey:   apiKey,
	})
	if err != nil {
		prometheus.RecordSynthesis(provider, "error", time.Since(start).Seconds())
		writeError(w, err)
		return
	}

	encoded, err := s.converter.Encode(r.Context(), result.Buffer, format, s.settings.SampleRate)
	if err != nil {
		writeError(w, err)
		return
	}

	prometheus.RecordSynthesis(result.Provider, "success", time.Since(start).Seconds())
	prometheus.RecordSynthesisCharacters(result.Provider, utf8.RuneCountInString(req.Input))

	w.Header().Set("Content-Type", format.MIMEType())
	w.Header().Set("X-Processing-Time-Ms", fmt.Sprintf("%.2f", float64(time.Since(start).Microseconds())/1000.0))
	_, _ = w.Write(encoded)
}

// voicesResponse is the catalog envelope. Errors carries per-provider
// failures for partial results.
type voicesResponse struct {
	Voices []tts.CatalogEntry `json:"voices"`
	Errors map[string]string  `json:"errors,omitempty"`
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	if name := r.URL.Query().Get("provider"); name != "" {
		entries, err := s.manager.ProviderVoices(r.Context(), name)
		if err != nil {
			if !errors.Is(err, tts.ErrUnknownProvider) && !errors.Is(err, tts.ErrCatalogUnavailable) {
				err = fmt.Errorf("%w: %w", tts.ErrCatalogUnavailable, err)
			}
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, voicesResponse{Voices: entries})
		return
	}

	entries, errs := s.manager.ListAllVoices(r.Context())
	resp := voicesResponse{Voices: entries}
	if len(errs) > 0 {
		resp.Errors = make(map[string]string, len(errs))
		for provider, err := range errs {
			resp.Errors[provider] = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"providers": s.manager.Providers(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":        "ready",
		"default_voice": s.settings.DefaultVoice,
	})
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}
