package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nikhilbhutani/docintel/internal/api"
	"github.com/nikhilbhutani/docintel/internal/config"
	"github.com/nikhilbhutani/docintel/internal/credential"
	"github.com/nikhilbhutani/docintel/internal/document"
	"github.com/nikhilbhutani/docintel/internal/extraction"
	"github.com/nikhilbhutani/docintel/internal/llm"
	"github.com/nikhilbhutani/docintel/internal/multimodal"
	"github.com/nikhilbhutani/docintel/internal/requestlog"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Credential broker
	provider, err := credential.NewGoogleProvider([]byte(cfg.Credential.CredsJSON), cfg.Credential.Scopes...)
	if err != nil {
		slog.Error("invalid CREDS_JSON", "error", err)
		os.Exit(1)
	}
	broker := credential.NewBroker(provider,
		credential.WithLogger(logger.With("component", "credential")),
		credential.WithRefreshMargin(cfg.Credential.RefreshMargin),
		credential.WithDefaultInterval(cfg.Credential.DefaultInterval),
	)
	if err := broker.Start(ctx); err != nil {
		slog.Warn("startup credential refresh failed, retrying in background",
			"error", err, "service_account", provider.Email())
	}
	defer broker.Stop()

	// Extractors
	raster := document.NewRasterizer(cfg.Extraction.DPI)
	ocr := document.NewOCRService(cfg.OCR.TesseractPath, cfg.OCR.Language, raster,
		document.WithOCRLogger(logger.With("component", "ocr")))
	if !ocr.IsAvailable(ctx) {
		slog.Warn("tesseract not available, /pdf-ocr will fail", "path", cfg.OCR.TesseractPath)
	}
	vision := multimodal.NewVisionService(llm.NewGateway(cfg.Vision), raster, cfg.Vision.Model,
		multimodal.WithProvider(cfg.Vision.Provider),
		multimodal.WithMaxTokens(cfg.Vision.MaxTokens),
		multimodal.WithTimeout(cfg.Vision.Timeout),
		multimodal.WithLogger(logger.With("component", "vision")),
	)
	if !vision.KnownModel() {
		slog.Warn("vision model not listed for provider, requests may be rejected upstream",
			"provider", cfg.Vision.Provider, "model", cfg.Vision.Model)
	}
	pool := extraction.NewPool(cfg.Extraction.WorkerPoolSize, logger)
	svc := extraction.NewService(document.NewTextDateExtractor(), vision, ocr, pool, logger.With("component", "extraction"))

	// Setup router
	router := api.NewRouter(api.Deps{
		Config:     cfg,
		Logger:     logger,
		Credential: broker,
		Extractor:  svc,
		OCR:        ocr,
		RequestLog: requestlog.NewStore(cfg.RequestLog.Path),
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router.Setup(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting API server",
			"addr", cfg.Addr(),
			"vision_provider", cfg.Vision.Provider,
			"vision_model", cfg.Vision.Model,
			"workers", pool.Size(),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
	case err := <-errCh:
		slog.Error("server error", "error", err)
		exitCode = 1
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	broker.Stop()
	router.Close()
	slog.Info("server stopped")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
