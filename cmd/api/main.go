package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/whatsapp-gemini-relay/cmd/mainconfig"
	"github.com/wolfman30/whatsapp-gemini-relay/internal/api/router"
	"github.com/wolfman30/whatsapp-gemini-relay/internal/channels/whatsapp"
	appconfig "github.com/wolfman30/whatsapp-gemini-relay/internal/config"
	"github.com/wolfman30/whatsapp-gemini-relay/internal/http/handlers"
	"github.com/wolfman30/whatsapp-gemini-relay/internal/observability/metrics"
	"github.com/wolfman30/whatsapp-gemini-relay/internal/relay"
	"github.com/wolfman30/whatsapp-gemini-relay/pkg/logging"
)

func main() {
	if err := appconfig.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to read .env: %v\n", err)
	}

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting whatsapp relay",
		"env", cfg.Env,
		"port", cfg.Port,
		"completion_provider", cfg.CompletionProvider,
	)
	for _, name := range cfg.Missing() {
		logger.Warn("required setting is empty", "name", name)
	}

	ctx := context.Background()

	completer, closeCompleter := setupCompleter(ctx, cfg, logger)
	defer closeCompleter()

	metricsHandler, relayMetrics := setupRelayMetrics()

	waClient := whatsapp.NewClient(cfg.WhatsAppToken, cfg.PhoneNumberID, cfg.WhatsAppHTTPTimeout)
	waClient.SetGraphAPIBase(cfg.WhatsAppAPIBase)

	opts := []relay.Option{relay.WithMetrics(relayMetrics)}
	deduper, closeDeduper := setupDeduper(ctx, cfg, logger)
	defer closeDeduper()
	if deduper != nil {
		opts = append(opts, relay.WithDeduper(deduper))
	}

	service := relay.NewService(relay.NewGenerator(completer, logger), waClient, logger, opts...)
	webhookHandler := handlers.NewWhatsAppWebhookHandler(cfg.WebhookVerifyToken, cfg.WhatsAppAppSecret, service, relayMetrics, logger)

	r := router.New(&router.Config{
		Logger:         logger,
		WebhookHandler: webhookHandler,
		MetricsHandler: metricsHandler,
	})

	// No WriteTimeout: POST /webhook blocks on the completion and Graph API calls.
	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		return
	}

	logger.Info("server stopped")
}

// unavailableCompleter fails every completion with the setup error so that
// users receive the fallback reply instead of silence.
type unavailableCompleter struct {
	err error
}

func (c unavailableCompleter) Complete(context.Context, string) (string, error) {
	return "", c.err
}

func setupCompleter(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (relay.Completer, func()) {
	noop := func() {}

	switch cfg.CompletionProvider {
	case appconfig.ProviderBedrock:
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			return unavailableCompleter{err: err}, noop
		}
		completer, err := relay.NewBedrockCompleter(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID)
		if err != nil {
			logger.Error("failed to configure bedrock completer", "error", err)
			return unavailableCompleter{err: err}, noop
		}
		logger.Info("bedrock completer configured", "model", cfg.BedrockModelID, "region", cfg.AWSRegion)
		return completer, noop
	case appconfig.ProviderGemini, "":
	default:
		logger.Warn("unknown completion provider, using gemini", "provider", cfg.CompletionProvider)
	}

	completer, err := relay.NewGeminiCompleter(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		logger.Error("failed to configure gemini completer", "error", err)
		return unavailableCompleter{err: err}, noop
	}
	logger.Info("gemini completer configured", "model", cfg.GeminiModel)
	return completer, closeWith(completer, logger, "gemini client")
}

func setupDeduper(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (relay.Deduper, func()) {
	if !cfg.DedupEnabled() {
		logger.Info("duplicate suppression disabled")
		return nil, func() {}
	}

	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; duplicate suppression will be best-effort", "error", err, "addr", cfg.RedisAddr)
	} else {
		logger.Info("duplicate suppression enabled", "addr", cfg.RedisAddr, "ttl", cfg.DedupTTL.String())
	}
	return relay.NewRedisDeduper(client, cfg.DedupTTL), closeWith(client, logger, "redis client")
}

func setupRelayMetrics() (http.Handler, *metrics.RelayMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewRelayMetrics(reg)
}

func closeWith(c io.Closer, logger *logging.Logger, name string) func() {
	return func() {
		if err := c.Close(); err != nil {
			logger.Warn("failed to close "+name, "error", err)
		}
	}
}
