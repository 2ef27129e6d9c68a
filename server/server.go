// Package server exposes the TTS gateway over HTTP: synthesis endpoints, an
// OpenAI-compatible speech endpoint, voice and provider catalogs, the
// audiobook surface, health probes, and metrics.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/akumar23/tts-webapp/audio"
	"github.com/akumar23/tts-webapp/books"
	"github.com/akumar23/tts-webapp/cache"
	"github.com/akumar23/tts-webapp/config"
	"github.com/akumar23/tts-webapp/tts"
)

const (
	// defaultReadHeaderTimeout prevents Slowloris attacks.
	defaultReadHeaderTimeout = 10 * time.Second

	// defaultReadTimeout is the maximum duration for reading the entire
	// request, including the body.
	defaultReadTimeout = 30 * time.Second

	// defaultWriteTimeout is the maximum duration before timing out writes
	// of the response. Synthesis of long texts can take a while.
	defaultWriteTimeout = 300 * time.Second

	// defaultIdleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled.
	defaultIdleTimeout = 120 * time.Second

	// defaultMaxBodySize caps request bodies (20 MB; book uploads carry
	// full texts).
	defaultMaxBodySize int64 = 20 << 20

	// Gateway endpoints accept speeds in [0.5, 2.0]; the compat endpoint
	// mirrors the OpenAI contract of [0.25, 4.0].
	gatewayMinSpeed = 0.5
	gatewayMaxSpeed = 2.0
	compatMinSpeed  = 0.25
	compatMaxSpeed  = 4.0
)

// TimingSynthesizer produces narration audio with word boundaries. The edge
// provider implements it.
type TimingSynthesizer interface {
	SynthesizeWithTiming(ctx context.Context, text string, config tts.SynthesisConfig) (*tts.TimedSynthesis, error)
}

// Option configures a [Server].
type Option func(*Server)

// WithCache attaches the redis audio cache. Without it, every synthesize
// request reaches a provider.
func WithCache(c *cache.AudioCache) Option {
	return func(s *Server) { s.cache = c }
}

// WithMetricsHandler mounts a metrics handler at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithNarrator sets the timing-capable synthesizer used for chapter
// narration.
func WithNarrator(n TimingSynthesizer) Option {
	return func(s *Server) { s.narrator = n }
}

// WithGutenbergClient substitutes the Gutendex client (for tests).
func WithGutenbergClient(c *books.GutenbergClient) Option {
	return func(s *Server) { s.gutenberg = c }
}

// WithBookStore substitutes the book store.
func WithBookStore(store *books.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithConverter substitutes the audio encoder.
func WithConverter(c *audio.Converter) Option {
	return func(s *Server) { s.converter = c }
}

// WithReadTimeout sets the maximum duration for reading the entire request.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) { s.readTimeout = d }
}

// WithWriteTimeout sets the maximum duration before timing out writes of
// the response.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) { s.writeTimeout = d }
}

// WithIdleTimeout sets the keep-alive idle timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) { s.idleTimeout = d }
}

// WithMaxBodySize sets the maximum allowed request body size in bytes.
func WithMaxBodySize(n int64) Option {
	return func(s *Server) { s.maxBodySize = n }
}

// Server is the gateway HTTP server.
type Server struct {
	settings config.Settings
	manager  *tts.Manager

	converter      *audio.Converter
	cache          *cache.AudioCache
	metricsHandler http.Handler

	narrator  TimingSynthesizer
	store     *books.Store
	parser    *books.Parser
	gutenberg *books.GutenbergClient

	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration
	maxBodySize  int64

	httpSrv   *http.Server
	httpSrvMu sync.Mutex
}

// NewServer creates the gateway server over a settings snapshot and a
// provider manager.
func NewServer(settings config.Settings, manager *tts.Manager, opts ...Option) *Server {
	s := &Server{
		settings:     settings,
		manager:      manager,
		readTimeout:  defaultReadTimeout,
		writeTimeout: defaultWriteTimeout,
		idleTimeout:  defaultIdleTimeout,
		maxBodySize:  defaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.converter == nil {
		cfg := audio.DefaultConverterConfig()
		cfg.FFmpegPath = settings.FFmpegPath
		s.converter = audio.NewConverter(cfg)
	}
	if s.store == nil {
		s.store = books.NewStore()
	}
	if s.parser == nil {
		s.parser = books.NewParser()
	}
	if s.gutenberg == nil {
		s.gutenberg = books.NewGutenbergClient()
	}
	return s
}

// Handler returns the routed gateway handler with request-ID injection,
// access logging, metrics, and trace instrumentation applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/tts/synthesize", s.handleSynthesize)
	mux.HandleFunc("POST /v1/tts/stream", s.handleStream)
	mux.HandleFunc("POST /v1/tts/audio/speech", s.handleOpenAISpeech)
	mux.HandleFunc("GET /v1/tts/voices", s.handleVoices)
	mux.HandleFunc("GET /v1/tts/providers", s.handleProviders)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/ready", s.handleReady)
	mux.HandleFunc("GET /health/live", s.handleLive)

	mux.HandleFunc("GET /v1/books/search", s.handleBookSearch)
	mux.HandleFunc("POST /v1/books/import/{gutenbergID}", s.handleBookImport)
	mux.HandleFunc("POST /v1/books/upload", s.handleBookUpload)
	mux.HandleFunc("GET /v1/books", s.handleBookList)
	mux.HandleFunc("GET /v1/books/{bookID}", s.handleBookGet)
	mux.HandleFunc("DELETE /v1/books/{bookID}", s.handleBookDelete)
	mux.HandleFunc("GET /v1/books/{bookID}/chapters", s.handleChapterList)
	mux.HandleFunc("GET /v1/books/{bookID}/chapters/{chapterID}", s.handleChapterGet)
	mux.HandleFunc("POST /v1/books/{bookID}/chapters/{chapterID}/synthesize", s.handleChapterSynthesize)
	mux.HandleFunc("GET /v1/books/{bookID}/chapters/{chapterID}/audio", s.handleChapterAudio)
	mux.HandleFunc("GET /v1/books/{bookID}/chapters/{chapterID}/playback", s.handleChapterPlayback)

	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}

	var handler http.Handler = mux
	handler = s.instrument(handler)
	handler = requestID(handler)
	return otelhttp.NewHandler(handler, "tts-gateway")
}

// ListenAndServe starts the HTTP server on the configured address.
func (s *Server) ListenAndServe() error {
	srv := s.newHTTPServer()
	srv.Addr = s.settings.Addr()

	s.httpSrvMu.Lock()
	s.httpSrv = srv
	s.httpSrvMu.Unlock()

	return srv.ListenAndServe()
}

// Serve starts the HTTP server on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	srv := s.newHTTPServer()

	s.httpSrvMu.Lock()
	s.httpSrv = srv
	s.httpSrvMu.Unlock()

	return srv.Serve(ln)
}

// Shutdown gracefully stops the server, draining in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.httpSrvMu.Lock()
	srv := s.httpSrv
	s.httpSrvMu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

func (s *Server) newHTTPServer() *http.Server {
	return &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		ReadTimeout:       s.readTimeout,
		WriteTimeout:      s.writeTimeout,
		IdleTimeout:       s.idleTimeout,
	}
}
