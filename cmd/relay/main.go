package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	relaysignal "meetmesh/internal/infrastructure/signal"
	"meetmesh/pkg/config"
	"meetmesh/pkg/logger"
	"meetmesh/pkg/tracing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := os.Getenv("MEETMESH_CONFIG")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		panic(err)
	}

	log := logger.NewSugared(cfg.Logging.Level)
	defer log.Sync()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "meetmesh-relay",
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to init tracing", "error", err)
	}
	defer tp.Shutdown(context.Background())

	relay := relaysignal.NewRelay(relaysignal.RelayConfig{
		JWTSecret:         cfg.Relay.JWTSecret,
		PingInterval:      cfg.Relay.PingInterval,
		PongTimeout:       cfg.Relay.PongTimeout,
		WriteTimeout:      cfg.Relay.WriteTimeout,
		MessagesPerSecond: cfg.Relay.RateLimit.MessagesPerSecond,
		Burst:             cfg.Relay.RateLimit.Burst,
	}, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", relay.HandleWebSocket)
	mux.HandleFunc("/health", relay.HealthCheck)
	if cfg.Monitoring.PrometheusEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	server := &http.Server{
		Addr:    cfg.Relay.Address,
		Handler: mux,
	}

	go func() {
		log.Infow("starting signaling relay", "address", cfg.Relay.Address)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("relay server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down relay")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Relay.ShutdownTimeout)
	defer cancel()

	relay.Shutdown(ctx)
	if err := server.Shutdown(ctx); err != nil {
		log.Errorw("relay shutdown failed", "error", err)
	}
}
