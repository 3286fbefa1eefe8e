package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/docvision/docvision/constants"
	"github.com/docvision/docvision/internal/cache"
	"github.com/docvision/docvision/internal/entity"
	"github.com/docvision/docvision/internal/preprocess"
)

type fakePreprocessor struct {
	fn    func(ctx context.Context, data []byte) (*preprocess.CanonicalPage, error)
	calls atomic.Int32
}

func (f *fakePreprocessor) Preprocess(ctx context.Context, data []byte) (*preprocess.CanonicalPage, error) {
	f.calls.Add(1)
	return f.fn(ctx, data)
}

type fakeDetector struct {
	fn    func(ctx context.Context, img *image.RGBA) ([]entity.LogoDetection, error)
	calls atomic.Int32
}

func (f *fakeDetector) Detect(ctx context.Context, img *image.RGBA) ([]entity.LogoDetection, error) {
	f.calls.Add(1)
	return f.fn(ctx, img)
}

type fakeOcr struct {
	fn    func(ctx context.Context, pagePNG []byte) (*entity.OcrResult, error)
	calls atomic.Int32
}

func (f *fakeOcr) Recognize(ctx context.Context, pagePNG []byte) (*entity.OcrResult, error) {
	f.calls.Add(1)
	return f.fn(ctx, pagePNG)
}

type fakeVision struct {
	fn    func(ctx context.Context, pagePNG []byte) (*entity.VisionResult, error)
	calls atomic.Int32
}

func (f *fakeVision) Extract(ctx context.Context, pagePNG []byte) (*entity.VisionResult, error) {
	f.calls.Add(1)
	return f.fn(ctx, pagePNG)
}

// canonicalPage builds a small real page so the logo stage has pixels and
// the clients have PNG bytes.
func canonicalPage(t *testing.T, hash string) *preprocess.CanonicalPage {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 0xFF
	}
	img.SetRGBA(2, 2, color.RGBA{R: 0xAA, A: 0xFF})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding page: %v", err)
	}
	return &preprocess.CanonicalPage{
		Image:        img,
		PNG:          buf.Bytes(),
		ContentHash:  hash,
		Width:        8,
		Height:       8,
		SourceFormat: constants.FormatPNG,
	}
}

func staticPreprocessor(t *testing.T, hash string) *fakePreprocessor {
	t.Helper()
	page := canonicalPage(t, hash)
	return &fakePreprocessor{fn: func(context.Context, []byte) (*preprocess.CanonicalPage, error) {
		return page, nil
	}}
}

func okDetector() *fakeDetector {
	return &fakeDetector{fn: func(context.Context, *image.RGBA) ([]entity.LogoDetection, error) {
		return []entity.LogoDetection{{
			Label:      "acme",
			Confidence: 0.91,
			Box:        entity.BoundingBox{X: 1, Y: 1, W: 4, H: 4},
		}}, nil
	}}
}

func okOcr() *fakeOcr {
	return &fakeOcr{fn: func(context.Context, []byte) (*entity.OcrResult, error) {
		return &entity.OcrResult{
			FullText: "INVOICE #42",
			Blocks:   []entity.OcrBlock{{Lines: []string{"INVOICE #42"}}},
		}, nil
	}}
}

func okVision() *fakeVision {
	return &fakeVision{fn: func(context.Context, []byte) (*entity.VisionResult, error) {
		return &entity.VisionResult{
			DocumentType: "invoice",
			Reasoning:    "invoice header",
			Fields:       map[string]string{"invoice_number": "42"},
		}, nil
	}}
}

// testEnv wires a pipeline around a real in-memory record cache.
type testEnv struct {
	pre    *fakePreprocessor
	logos  *fakeDetector
	ocr    *fakeOcr
	vision *fakeVision
	store  *cache.MemoryStore
	pipe   *Pipeline
}

func newTestEnv(t *testing.T, version string) *testEnv {
	t.Helper()
	env := &testEnv{
		pre:    staticPreprocessor(t, "abc123"),
		logos:  okDetector(),
		ocr:    okOcr(),
		vision: okVision(),
		store:  cache.NewMemoryStore(),
	}
	env.pipe = New(Config{Version: version}, env.pre, env.logos, env.ocr, env.vision, cacheFor(t, env), slog.Default())
	return env
}

// cacheFor rebuilds a RecordCache over the env's store so two pipelines
// can share one backend.
func cacheFor(t *testing.T, env *testEnv) RecordCache {
	t.Helper()
	return cache.NewRecordCache(env.store, slog.Default())
}
