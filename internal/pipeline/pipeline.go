// Package pipeline coordinates one run over a document page: preprocess,
// consult the record cache, fan out to the logo detector and the OCR and
// vision services, and merge everything into a single PipelineRecord.
//
// Only preprocessing can fail a run. Every downstream stage degrades into
// its trace: the record says what worked, what failed, and what was never
// attempted.
package pipeline

import (
	"context"
	"image"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docvision/docvision/constants"
	"github.com/docvision/docvision/internal/common"
	"github.com/docvision/docvision/internal/entity"
)

// Config holds pipeline-level settings.
type Config struct {
	// Version namespaces cache entries. Bump it when preprocessing or any
	// stage changes semantics, so stale records stop matching.
	Version string
}

// Pipeline is safe for concurrent use as long as its collaborators are.
type Pipeline struct {
	cfg    Config
	pre    Preprocessor
	logos  LogoDetector
	ocr    OcrClient
	vision VisionClient
	cache  RecordCache
	logger *slog.Logger
}

func New(cfg Config, pre Preprocessor, logos LogoDetector, ocr OcrClient, vision VisionClient, cache RecordCache, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Version == "" {
		cfg.Version = "v1"
	}
	return &Pipeline{
		cfg:    cfg,
		pre:    pre,
		logos:  logos,
		ocr:    ocr,
		vision: vision,
		cache:  cache,
		logger: logger,
	}
}

// Version returns the cache namespace this pipeline writes under.
func (p *Pipeline) Version() string {
	return p.cfg.Version
}

// Run processes one uploaded document. The returned record always carries
// a full stage set; err is non-nil only when preprocessing rejected the
// input (unsupported format or corrupt content).
func (p *Pipeline) Run(ctx context.Context, data []byte) (*entity.PipelineRecord, error) {
	rid := common.RequestIDFromContext(ctx)
	start := time.Now()

	page, err := p.pre.Preprocess(ctx, data)
	if err != nil {
		p.logger.Error("pipeline.preprocess.failed", "req_id", rid, "error", err)
		return nil, err
	}

	if p.cache != nil {
		if rec, ok := p.cache.Get(ctx, page.ContentHash, p.cfg.Version); ok {
			p.logger.Info("pipeline.cache.hit",
				"req_id", rid,
				"content_hash", page.ContentHash,
				"version", p.cfg.Version,
				"elapsed_ms", time.Since(start).Milliseconds())
			return rec, nil
		}
	}

	rec := &entity.PipelineRecord{
		ContentHash:     page.ContentHash,
		PipelineVersion: p.cfg.Version,
		SourceFormat:    page.SourceFormat,
		Width:           page.Width,
		Height:          page.Height,
		CreatedAt:       time.Now().UTC(),
	}

	// Logo detection is local CPU work; run it before the network fan-out
	// so its cost is not hidden inside the slower remote calls.
	p.runLogoStage(ctx, rid, page.Image, rec)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p.runOcrStage(gctx, rid, page.PNG, rec)
		return nil
	})
	g.Go(func() error {
		p.runVisionStage(gctx, rid, page.PNG, rec)
		return nil
	})
	_ = g.Wait()

	if ctx.Err() != nil {
		p.logger.Warn("pipeline.cancelled",
			"req_id", rid, "content_hash", page.ContentHash)
		return rec, nil
	}

	if p.cache != nil && rec.Stages.Vision.Status == constants.StageOK {
		p.cache.Put(ctx, rec)
		p.logger.Info("pipeline.cache.write",
			"req_id", rid, "content_hash", page.ContentHash, "version", p.cfg.Version)
	}

	p.logger.Info("pipeline.done",
		"req_id", rid,
		"content_hash", page.ContentHash,
		"logo", rec.Stages.Logo.Status,
		"ocr", rec.Stages.Ocr.Status,
		"vision", rec.Stages.Vision.Status,
		"elapsed_ms", time.Since(start).Milliseconds())
	return rec, nil
}

func (p *Pipeline) runLogoStage(ctx context.Context, rid string, img *image.RGBA, rec *entity.PipelineRecord) {
	if p.logos == nil {
		rec.Stages.Logo = entity.StageTrace{Status: constants.StageSkipped}
		p.logger.Debug("pipeline.logo.skipped", "req_id", rid)
		return
	}
	start := time.Now()
	logos, err := p.logos.Detect(ctx, img)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		rec.Stages.Logo = entity.StageTrace{
			Status: constants.StageFailed, Error: err.Error(), DurationMs: elapsed,
		}
		p.logger.Error("pipeline.logo.failed", "req_id", rid, "error", err, "elapsed_ms", elapsed)
		return
	}
	rec.Logos = logos
	rec.Stages.Logo = entity.StageTrace{Status: constants.StageOK, DurationMs: elapsed}
	p.logger.Info("pipeline.logo.ok", "req_id", rid, "logos", len(logos), "elapsed_ms", elapsed)
}

func (p *Pipeline) runOcrStage(ctx context.Context, rid string, pagePNG []byte, rec *entity.PipelineRecord) {
	if p.ocr == nil {
		rec.Stages.Ocr = entity.StageTrace{Status: constants.StageSkipped}
		p.logger.Debug("pipeline.ocr.skipped", "req_id", rid)
		return
	}
	start := time.Now()
	res, err := p.ocr.Recognize(ctx, pagePNG)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		rec.Stages.Ocr = entity.StageTrace{
			Status: constants.StageFailed, Error: err.Error(), DurationMs: elapsed,
		}
		p.logger.Error("pipeline.ocr.failed", "req_id", rid, "error", err, "elapsed_ms", elapsed)
		return
	}
	rec.Ocr = res
	rec.Stages.Ocr = entity.StageTrace{Status: constants.StageOK, DurationMs: elapsed}
	p.logger.Info("pipeline.ocr.ok",
		"req_id", rid, "text_bytes", len(res.FullText), "blocks", len(res.Blocks), "elapsed_ms", elapsed)
}

func (p *Pipeline) runVisionStage(ctx context.Context, rid string, pagePNG []byte, rec *entity.PipelineRecord) {
	if p.vision == nil {
		rec.Stages.Vision = entity.StageTrace{Status: constants.StageSkipped}
		p.logger.Debug("pipeline.vision.skipped", "req_id", rid)
		return
	}
	start := time.Now()
	res, err := p.vision.Extract(ctx, pagePNG)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		rec.Stages.Vision = entity.StageTrace{
			Status: constants.StageFailed, Error: err.Error(), DurationMs: elapsed,
		}
		p.logger.Error("pipeline.vision.failed", "req_id", rid, "error", err, "elapsed_ms", elapsed)
		return
	}
	rec.Vision = res
	rec.Stages.Vision = entity.StageTrace{Status: constants.StageOK, DurationMs: elapsed}
	p.logger.Info("pipeline.vision.ok",
		"req_id", rid, "doc_type", res.DocumentType, "fields", len(res.Fields), "elapsed_ms", elapsed)
}
