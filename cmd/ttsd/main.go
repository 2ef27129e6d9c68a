// Command ttsd runs the TTS gateway HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"go.opentelemetry.io/otel"

	"github.com/akumar23/tts-webapp/cache"
	"github.com/akumar23/tts-webapp/config"
	"github.com/akumar23/tts-webapp/logger"
	"github.com/akumar23/tts-webapp/metrics/prometheus"
	"github.com/akumar23/tts-webapp/server"
	"github.com/akumar23/tts-webapp/telemetry"
	"github.com/akumar23/tts-webapp/tts"
	"github.com/akumar23/tts-webapp/version"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetVersionInfo())
		return
	}

	logger.SetVerbose(*verbose)
	version.LogStartup()

	settings, err := config.Load(*configPath)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(settings); err != nil {
		logger.Error("gateway exited", "error", err)
		os.Exit(1)
	}
}

func run(settings config.Settings) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if settings.Telemetry.Enabled {
		telemetry.SetupPropagation()
		tp, err := telemetry.NewTracerProvider(ctx, settings.Telemetry.OTLPEndpoint, settings.AppName)
		if err != nil {
			return fmt.Errorf("initializing tracing: %w", err)
		}
		otel.SetTracerProvider(tp)
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := tp.Shutdown(flushCtx); err != nil {
				logger.Warn("tracer shutdown failed", "error", err)
			}
		}()
	}

	edge := tts.NewEdge()
	registrations := []tts.Registration{
		{Provider: edge, Configured: true},
		{Provider: tts.NewOpenAI(settings.OpenAIAPIKey), Configured: settings.OpenAIConfigured()},
		{Provider: tts.NewElevenLabs(settings.ElevenLabsAPIKey), Configured: settings.ElevenLabsConfigured()},
	}
	if settings.PollyConfigured() {
		client, err := newPollyClient(ctx, settings.AWSRegion)
		if err != nil {
			return fmt.Errorf("initializing polly client: %w", err)
		}
		registrations = append(registrations, tts.Registration{
			Provider:   tts.NewPolly(client),
			Configured: true,
		})
	}

	manager := tts.NewManager(tts.ManagerConfig{
		DefaultProvider: settings.DefaultProvider,
		MaxTextLength:   settings.MaxTextLength,
		FallbackEnabled: settings.FallbackEnabled,
	}, registrations...)

	opts := []server.Option{server.WithNarrator(edge)}

	if settings.Cache.Enabled {
		audioCache, err := cache.New(settings.Cache.RedisURL,
			cache.WithTTL(time.Duration(settings.Cache.TTLSeconds)*time.Second))
		if err != nil {
			logger.Warn("audio cache disabled", "error", err)
		} else {
			defer audioCache.Close()
			opts = append(opts, server.WithCache(audioCache))
		}
	}

	if settings.MetricsEnabled {
		exporter := prometheus.NewExporter(settings.Addr())
		opts = append(opts, server.WithMetricsHandler(exporter.Handler()))
	}

	srv := server.NewServer(settings, manager, opts...)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening",
			append([]any{"addr", settings.Addr(), "default_provider", settings.DefaultProvider},
				version.GetBuildInfo()...)...)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(stopCtx)
}

// newPollyClient builds the AWS Polly client for the configured region.
// Static credentials from the environment take precedence over the SDK's
// default chain so containerized deployments behave predictably.
func newPollyClient(ctx context.Context, region string) (*polly.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}

	key := os.Getenv("AWS_ACCESS_KEY_ID")
	secret := os.Getenv("AWS_SECRET_ACCESS_KEY")
	if key != "" && secret != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(key, secret, os.Getenv("AWS_SESSION_TOKEN"))))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return polly.NewFromConfig(awsCfg), nil
}
