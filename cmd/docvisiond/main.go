package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docvision/docvision/internal/cache"
	"github.com/docvision/docvision/internal/cache/pgstore"
	"github.com/docvision/docvision/internal/cache/redisstore"
	"github.com/docvision/docvision/internal/cache/sqlitestore"
	"github.com/docvision/docvision/internal/common"
	"github.com/docvision/docvision/internal/logo"
	"github.com/docvision/docvision/internal/ocrclient"
	"github.com/docvision/docvision/internal/pipeline"
	"github.com/docvision/docvision/internal/preprocess"
	"github.com/docvision/docvision/internal/retry"
	"github.com/docvision/docvision/internal/server"
	"github.com/docvision/docvision/internal/vision"
)

func main() {
	// Structured logger that outputs messages with variables but no time/level
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey || a.Key == slog.LevelKey {
				return slog.Attr{}
			}
			return a
		},
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Cache)
	if err != nil {
		logger.Error("failed to open cache backend", "backend", cfg.Cache.Backend, "error", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Warn("cache backend close failed", "error", cerr)
		}
	}()
	logger.Info("record cache ready", "backend", cfg.Cache.Backend)

	rc := cache.NewRecordCache(store, logger)

	pre := preprocess.New(preprocess.Config{
		PdftoppmPath: cfg.Preprocess.PdftoppmPath,
		DPI:          cfg.Preprocess.DPI,
	}, logger)

	policy := retryPolicy(cfg.Retry)

	var logos pipeline.LogoDetector
	if cfg.Logo.SignaturesPath != "" {
		sigs, err := logo.LoadSignatures(cfg.Logo.SignaturesPath)
		if err != nil {
			logger.Error("failed to load logo signatures", "path", cfg.Logo.SignaturesPath, "error", err)
			os.Exit(1)
		}
		logos = logo.NewDetector(logo.Config{MaxLogos: cfg.Logo.MaxLogos, Signatures: sigs}, logger)
		logger.Info("logo detector ready", "signatures", len(sigs))
	} else {
		logger.Warn("LOGO_SIGNATURES_PATH not set, logo detection will be skipped")
	}

	var ocr pipeline.OcrClient
	if cfg.OCR.BaseURL != "" {
		ocr = ocrclient.New(ocrclient.Config{
			BaseURL:   cfg.OCR.BaseURL,
			APIKey:    cfg.OCR.APIKey,
			Model:     cfg.OCR.Model,
			Languages: cfg.OCR.Languages,
			Timeout:   cfg.OCR.Timeout,
		}, policy, logger)
		logger.Info("OCR client initialized", "base_url", cfg.OCR.BaseURL, "model", cfg.OCR.Model)
	} else {
		logger.Warn("OCR_BASE_URL not configured, OCR will be skipped")
	}

	var extractor pipeline.VisionClient
	if cfg.Vision.APIKey != "" {
		extractor = vision.New(vision.Config{
			BaseURL:     cfg.Vision.BaseURL,
			APIKey:      cfg.Vision.APIKey,
			Model:       cfg.Vision.Model,
			Temperature: cfg.Vision.Temperature,
			Timeout:     cfg.Vision.Timeout,
			Lenient:     cfg.Vision.Lenient,
		}, policy, logger)
		logger.Info("vision client initialized", "model", cfg.Vision.Model)
	} else {
		logger.Warn("VISION_API_KEY not configured, vision extraction will be skipped")
	}

	pipe := pipeline.New(pipeline.Config{Version: cfg.Pipeline.Version}, pre, logos, ocr, extractor, rc, logger)

	srv := server.New(cfg.Server, pipe, pre, logos, rc, logger)
	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Server.HTTPAddr, "pipeline_version", pipe.Version())
		if serr := httpSrv.ListenAndServe(); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			errCh <- serr
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serr := <-errCh:
		logger.Error("http server failed", "error", serr)
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func openStore(ctx context.Context, cfg common.CacheConfig) (cache.Store, error) {
	switch cfg.Backend {
	case common.CacheBackendMemory:
		return cache.NewMemoryStore(), nil
	case common.CacheBackendRedis:
		return redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			TTL:      cfg.TTL,
		})
	case common.CacheBackendSQLite:
		return sqlitestore.New(cfg.SQLitePath)
	case common.CacheBackendPostgres:
		return pgstore.New(ctx, pgstore.Config{URL: cfg.PostgresURL})
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

func retryPolicy(cfg common.RetryConfig) retry.Policy {
	p := retry.Default()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseDelay > 0 {
		p.BaseDelay = cfg.BaseDelay
	}
	return p
}
