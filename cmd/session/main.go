package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meetmesh/internal/core/domain"
	"meetmesh/internal/core/ports"
	"meetmesh/internal/core/services"
	httphandlers "meetmesh/internal/handlers/http"
	"meetmesh/internal/infrastructure/audio"
	"meetmesh/internal/infrastructure/identity"
	"meetmesh/internal/infrastructure/media"
	"meetmesh/internal/infrastructure/monitoring"
	memoryrepo "meetmesh/internal/infrastructure/repositories/memory"
	redisrepo "meetmesh/internal/infrastructure/repositories/redis"
	relaysignal "meetmesh/internal/infrastructure/signal"
	webrtcinfra "meetmesh/internal/infrastructure/webrtc"
	"meetmesh/pkg/config"
	"meetmesh/pkg/logger"
	"meetmesh/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus"
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
		ServiceName: "meetmesh-session",
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to init tracing", "error", err)
	}
	defer tp.Shutdown(context.Background())

	collector := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)

	toasts := services.NewToastCenter(log)
	toasts.OnNotification(func(n domain.Notification) {
		if n.Code == domain.NotifyPlaybackBlocked {
			collector.RecordAutoplayBlocked()
		}
	})

	var (
		store   ports.ParticipantStore
		channel ports.SignalingChannel
	)
	switch {
	case cfg.Redis.Enabled:
		client, err := redisrepo.NewClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, log)
		if err != nil {
			log.Fatalw("failed to connect to redis", "error", err)
		}
		defer redisrepo.CloseClient(client)
		store = redisrepo.NewParticipantStore(client, log)
		channel = redisrepo.NewSignalingChannel(client, log)

	case cfg.Relay.URL != "":
		store = memoryrepo.NewParticipantStore()
		channel = relaysignal.NewWSChannel(cfg.Relay.URL, func(meetingID domain.MeetingID, id domain.ParticipantID) (string, error) {
			return relaysignal.IssueToken(cfg.Relay.JWTSecret, meetingID, id, 24*time.Hour)
		}, log)

	default:
		store = memoryrepo.NewParticipantStore()
		channel = memoryrepo.NewSignalingChannel()
	}

	displayName := os.Getenv("MEETMESH_DISPLAY_NAME")
	if displayName == "" {
		displayName = "guest"
	}
	ident := identity.NewGenerated(displayName)
	if os.Getenv("MEETMESH_MODERATOR") == "true" {
		ident.AsModerator()
	}

	device := media.NewSyntheticDevice(0.5)
	defer device.Close()

	acquirer := media.NewAcquirer(device, toasts, log)
	levels := media.NewLevelMonitor()
	router := audio.NewRouter(&audio.StreamSinkFactory{Out: io.Discard, Logger: log}, toasts, log)

	webrtcCfg := webrtcinfra.Config{}
	for _, s := range cfg.WebRTC.ICEServers {
		webrtcCfg.ICEServers = append(webrtcCfg.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	webrtcCfg.PortRange.Min = cfg.WebRTC.PortRange.Min
	webrtcCfg.PortRange.Max = cfg.WebRTC.PortRange.Max

	factory := func(meetingID domain.MeetingID, self domain.Identity) ports.PeerManager {
		return webrtcinfra.NewManager(webrtcCfg, channel, toasts, meetingID, self, log)
	}

	orchestrator := services.NewOrchestrator(
		services.Options{
			QualityProfile:  domain.QualityProfile(cfg.Session.QualityProfile),
			SpeakingLevel:   cfg.Session.SpeakingLevel,
			QualityInterval: cfg.Session.QualityInterval,
		},
		store, channel, ident, acquirer, levels, router, factory, device, toasts, collector, log,
	)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	handler := httphandlers.NewSessionHandler(orchestrator)
	handler.SetupRoutes(engine)

	engine.GET("/api/v1/notifications", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"notifications": toasts.Recent()})
	})
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "state": orchestrator.State()})
	})
	if cfg.Monitoring.PrometheusEnabled {
		engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	server := &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: engine,
	}

	go func() {
		log.Infow("starting session API", "address", cfg.HTTP.Address)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("session server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down session node")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := orchestrator.EndCall(ctx); err != nil {
		log.Errorw("end call during shutdown failed", "error", err)
	}
	if err := server.Shutdown(ctx); err != nil {
		log.Errorw("server shutdown failed", "error", err)
	}
}
