// Package server exposes the analysis pipeline over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/docvision/docvision/internal/cache"
	"github.com/docvision/docvision/internal/common"
	"github.com/docvision/docvision/internal/entity"
	"github.com/docvision/docvision/internal/pipeline"
)

// AnalysisRunner is the slice of the pipeline the server needs.
type AnalysisRunner interface {
	Run(ctx context.Context, data []byte) (*entity.PipelineRecord, error)
	Version() string
}

// Server handles the public API. The logo detector and the record cache
// may be nil; the matching endpoints degrade instead of breaking.
type Server struct {
	cfg    common.ServerConfig
	runner AnalysisRunner
	pre    pipeline.Preprocessor
	logos  pipeline.LogoDetector
	cache  *cache.RecordCache
	limits common.UploadLimits
	logger *slog.Logger
}

func New(
	cfg common.ServerConfig,
	runner AnalysisRunner,
	pre pipeline.Preprocessor,
	logos pipeline.LogoDetector,
	rc *cache.RecordCache,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 16
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	return &Server{
		cfg:    cfg,
		runner: runner,
		pre:    pre,
		logos:  logos,
		cache:  rc,
		limits: common.UploadLimitsFromConfig(cfg),
		logger: logger,
	}
}

// Router builds the HTTP handler with all middleware attached.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(jsonRecoverer(s.logger))
	r.Use(requestIDMiddleware)
	r.Use(wideEventMiddleware(s.logger))

	r.Get("/healthz", s.handleHealthz)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/analyze", s.handleAnalyze)
		r.Post("/visual-cues", s.handleVisualCues)
		r.Get("/records/{hash}", s.handleGetRecord)
	})
	return r
}
