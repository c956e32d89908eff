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

	"github.com/gin-gonic/gin"

	"github.com/AnTengye/photoinsight/config"
	"github.com/AnTengye/photoinsight/handler"
	"github.com/AnTengye/photoinsight/middleware"
	"github.com/AnTengye/photoinsight/pkg/logger"
	"github.com/AnTengye/photoinsight/service"
)

func main() {
	var (
		configPath string
		mintToken  string
	)
	flag.StringVar(&configPath, "config", "config.yaml", "path to the YAML configuration")
	flag.StringVar(&mintToken, "mint-token", "", "print an API token for the named client and exit")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	if mintToken != "" {
		token, expiresAt, err := middleware.GenerateToken(mintToken, &cfg.Auth)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to mint token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		fmt.Fprintf(os.Stderr, "expires %s\n", expiresAt.Format(time.RFC3339))
		return
	}

	slog.Info("configuration loaded successfully")

	minioSvc, err := service.NewMinioService(&cfg.Minio)
	if err != nil {
		slog.Error("failed to initialize MINIO service", "error", err)
		os.Exit(1)
	}

	if err := minioSvc.EnsureBucket(context.Background()); err != nil {
		slog.Error("failed to ensure MINIO bucket", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := routeDeps{
		presigner: minioSvc,
		detector:  service.NewLanguageService(&cfg.Language),
		artifacts: minioSvc,
	}

	// stays nil, and never ready, unless the pipeline listens itself
	var pipelineDone chan error
	if cfg.Pipeline.Disabled {
		slog.Info("analysis pipeline disabled")
	} else {
		pipeline := service.NewPipeline(
			minioSvc,
			service.NewVisionService(&cfg.Vision),
			service.NewSpeechService(&cfg.Speech),
			cfg.Pipeline,
		)
		switch cfg.Pipeline.Trigger {
		case config.TriggerWebhook:
			slog.Info("analysis pipeline waiting for pushed notifications", "path", "/events")
			deps.events = pipeline
		case config.TriggerListen:
			pipelineDone = make(chan error, 1)
			go func() {
				pipelineDone <- pipeline.Run(ctx)
			}()
		default:
			slog.Error("unknown pipeline trigger", "trigger", cfg.Pipeline.Trigger)
			os.Exit(1)
		}
	}

	router := setupRouter(cfg, deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-pipelineDone:
		if err != nil {
			slog.Error("analysis pipeline stopped", "error", err)
		}
	}
	stop()
	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server exited gracefully")
}

type routeDeps struct {
	presigner handler.Presigner
	detector  handler.SentimentDetector
	artifacts handler.ArtifactWriter
	// nil unless bucket notifications are pushed to /events
	events handler.EventDispatcher
}

func setupRouter(cfg *config.Config, deps routeDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORS())

	router.GET("/health", handler.Health)

	if deps.events != nil {
		callbackHandler := handler.NewCallbackHandler(deps.events, cfg.Pipeline.WebhookToken)
		router.POST("/events", callbackHandler.HandleCallback)
		if cfg.Pipeline.WebhookToken == "" {
			slog.Warn("webhook_token not set, /events is open")
		}
	}

	authHandler := handler.NewAuthHandler(&cfg.Auth)
	presignedHandler := handler.NewPresignedHandler(deps.presigner, cfg)
	feedbackHandler := handler.NewFeedbackHandler(deps.detector, deps.artifacts, cfg.Pipeline.SentimentArtifacts)

	auth := router.Group("/auth")
	auth.Use(middleware.NoStore())
	auth.Use(middleware.RateLimit(cfg.Server.RateLimit, time.Minute))
	{
		auth.POST("/token", authHandler.IssueToken)
	}

	api := router.Group("/api")
	api.Use(middleware.NoStore())
	api.Use(middleware.RequireToken(&cfg.Auth))
	api.Use(middleware.RateLimit(cfg.Server.RateLimit, time.Minute))
	{
		api.GET("/presigned", presignedHandler.Create)
		api.POST("/feedback", feedbackHandler.Submit)
		api.GET("/whoami", authHandler.WhoAmI)
	}

	if cfg.Auth.JWTSecret == "" {
		slog.Warn("jwt_secret not set, API is open")
	}
	return router
}
