package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/your-org/facecheck/internal/api"
	"github.com/your-org/facecheck/internal/api/handlers"
	"github.com/your-org/facecheck/internal/api/ws"
	"github.com/your-org/facecheck/internal/bootstrap"
	"github.com/your-org/facecheck/internal/checkin"
	"github.com/your-org/facecheck/internal/config"
	"github.com/your-org/facecheck/internal/credential"
	"github.com/your-org/facecheck/internal/observability"
	"github.com/your-org/facecheck/internal/presence"
	"github.com/your-org/facecheck/internal/queue"
	"github.com/your-org/facecheck/internal/storage"
	"github.com/your-org/facecheck/internal/upload"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting facecheck API", "port", cfg.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	comps, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		slog.Error("init components", "error", err)
		os.Exit(1)
	}
	defer comps.Close()

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(ctx); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	// WebSocket hub, fed from the EVENTS stream
	hub := ws.NewHub()
	go hub.Run(ctx)

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create event consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	if err := consumer.ConsumeEvents(ctx, "api-events", hub.HandleEvent); err != nil {
		slog.Warn("start event consumer", "error", err)
	}

	issuer := credential.NewIssuer(credential.Config{
		Secret:          cfg.Credentials.Secret,
		Issuer:          cfg.Credentials.Issuer,
		SessionTTL:      cfg.Credentials.SessionTTL,
		ScopedTTL:       cfg.Credentials.ScopedTTL,
		FaceVerifiedTTL: cfg.Credentials.FaceVerifiedTTL,
	})
	machine := credential.NewMachine(issuer, comps.Matcher,
		credential.WithLegacyFaceVerified(cfg.Credentials.LegacyFaceVerified))

	validator, err := presence.NewValidator(cfg.Presence.TrustedNetworks,
		presence.WithClientFlag(cfg.Presence.TrustClientFlag))
	if err != nil {
		slog.Error("parse trusted networks", "error", err)
		os.Exit(1)
	}
	service := checkin.NewService(comps.DB, comps.DB, validator, producer)

	spool, err := upload.NewSpool(cfg.Upload.Dir, cfg.Upload.MaxFileSize)
	if err != nil {
		slog.Error("init upload spool", "error", err)
		os.Exit(1)
	}

	checks := map[string]handlers.Check{
		"postgres": comps.DB.Ping,
		"minio":    minioStore.Ping,
		"nats":     func(context.Context) error { return producer.Ping() },
	}
	if comps.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return comps.Redis.Ping(ctx).Err() }
	}

	router, err := api.NewRouter(api.RouterConfig{
		APIKey:         cfg.Server.APIKey,
		TrustedProxies: cfg.Server.TrustedProxies,
		Machine:        machine,
		Gallery:        comps.Gallery,
		Enroller:       comps.Enroller,
		Identities:     comps.DB,
		Checkin:        service,
		Spool:          spool,
		Objects:        minioStore,
		Tasks:          producer,
		MaxBatch:       cfg.Upload.MaxBatch,
		MaxFileSize:    cfg.Upload.MaxFileSize,
		Checks:         checks,
		Hub:            hub,
	})
	if err != nil {
		slog.Error("build router", "error", err)
		os.Exit(1)
	}

	// Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	cancel()

	slog.Info("API server stopped")
}
