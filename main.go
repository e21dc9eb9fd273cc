package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"aguacachat-sync/internal/config"
	"aguacachat-sync/internal/handlers"
	"aguacachat-sync/internal/identity"
	"aguacachat-sync/internal/logger"
	"aguacachat-sync/internal/observability"
	"aguacachat-sync/internal/rabbitmq"
	"aguacachat-sync/internal/realtime"
	"aguacachat-sync/internal/session"
	"aguacachat-sync/internal/storage"
	"aguacachat-sync/internal/store"
	"aguacachat-sync/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.Environment)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.OTLPAddr, cfg.Environment)
	if err != nil {
		zl.Fatalw("failed to init tracing", "error", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.Exchange, zl)
	defer publisher.Close()
	notifier := telemetry.NewNotifier(publisher, "chat.audit", cfg.Environment, zl)

	st, err := store.Connect(cfg.DBDSN)
	if err != nil {
		zl.Fatalw("failed to connect to db", "error", err)
	}
	defer st.Close()

	var uploader storage.Uploader
	if cfg.S3.Bucket != "" {
		up, err := storage.NewS3Uploader(ctx, storage.S3Config{
			Region:     cfg.S3.Region,
			Bucket:     cfg.S3.Bucket,
			AccessKey:  cfg.S3.AccessKey,
			SecretKey:  cfg.S3.SecretKey,
			Endpoint:   cfg.S3.Endpoint,
			PublicBase: cfg.S3.PublicBase,
		})
		if err != nil {
			zl.Fatalw("failed to build s3 uploader", "error", err)
		}
		uploader = up
	}

	ident, err := identity.NewTokenProvider(cfg.AccessToken)
	if err != nil {
		zl.Fatalw("failed to parse access token", "error", err)
	}

	feed := realtime.NewWSFeed(cfg.RealtimeURL, zl)

	ctrl := session.New(st, feed, ident, notifier, uploader, zl, session.Options{
		PageSize:   cfg.PageSize,
		SweepEvery: cfg.SweepEvery,
	})
	if err := ctrl.Start(ctx); err != nil {
		zl.Fatalw("failed to start session controller", "error", err)
	}

	if cfg.ConversationID != "" {
		if err := ctrl.Select(ctx, cfg.ConversationID); err != nil {
			zl.Warnw("failed to open conversation", "conversation_id", cfg.ConversationID, "error", err)
		}
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("aguacachat-sync"))
	router.Use(observability.HTTPMetricsMiddleware())
	handlers.RegisterRoutes(router, ctrl, notifier, cfg.DebugRoutes)

	srv := &http.Server{Addr: cfg.DebugAddr, Handler: router}
	go func() {
		zl.Infow("debug server listening", "addr", cfg.DebugAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Errorw("debug server error", "error", err)
		}
	}()

	<-ctx.Done()
	zl.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Errorw("debug server shutdown error", "error", err)
	}
}
