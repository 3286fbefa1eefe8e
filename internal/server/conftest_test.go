package server

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"mime/multipart"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/docvision/docvision/constants"
	"github.com/docvision/docvision/internal/cache"
	"github.com/docvision/docvision/internal/common"
	"github.com/docvision/docvision/internal/entity"
	"github.com/docvision/docvision/internal/preprocess"
)

type fakeRunner struct {
	fn      func(ctx context.Context, data []byte) (*entity.PipelineRecord, error)
	version string
	calls   atomic.Int32
}

func (f *fakeRunner) Run(ctx context.Context, data []byte) (*entity.PipelineRecord, error) {
	f.calls.Add(1)
	return f.fn(ctx, data)
}

func (f *fakeRunner) Version() string {
	if f.version == "" {
		return "v1"
	}
	return f.version
}

type fakePre struct {
	fn func(ctx context.Context, data []byte) (*preprocess.CanonicalPage, error)
}

func (f *fakePre) Preprocess(ctx context.Context, data []byte) (*preprocess.CanonicalPage, error) {
	return f.fn(ctx, data)
}

type fakeLogos struct {
	fn func(ctx context.Context, img *image.RGBA) ([]entity.LogoDetection, error)
}

func (f *fakeLogos) Detect(ctx context.Context, img *image.RGBA) ([]entity.LogoDetection, error) {
	return f.fn(ctx, img)
}

// fixturePNG is a real decodable PNG so upload validation passes.
func fixturePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding fixture: %v", err)
	}
	return buf.Bytes()
}

func testRecord(hash string) *entity.PipelineRecord {
	return &entity.PipelineRecord{
		ContentHash:     hash,
		PipelineVersion: "v1",
		SourceFormat:    "png",
		Width:           64,
		Height:          64,
		Stages: entity.StageSet{
			Logo:   entity.StageTrace{Status: constants.StageOK},
			Ocr:    entity.StageTrace{Status: constants.StageOK},
			Vision: entity.StageTrace{Status: constants.StageOK},
		},
		Vision: &entity.VisionResult{
			DocumentType: "invoice",
			Fields:       map[string]string{},
		},
	}
}

func okRunner() *fakeRunner {
	return &fakeRunner{fn: func(ctx context.Context, data []byte) (*entity.PipelineRecord, error) {
		return testRecord("hash-ok"), nil
	}}
}

func okPre(t *testing.T, hash string) *fakePre {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding page: %v", err)
	}
	return &fakePre{fn: func(context.Context, []byte) (*preprocess.CanonicalPage, error) {
		return &preprocess.CanonicalPage{
			Image:        img,
			PNG:          buf.Bytes(),
			ContentHash:  hash,
			Width:        8,
			Height:       8,
			SourceFormat: constants.FormatPNG,
		}, nil
	}}
}

func okLogos() *fakeLogos {
	return &fakeLogos{fn: func(context.Context, *image.RGBA) ([]entity.LogoDetection, error) {
		return []entity.LogoDetection{{
			Label:      "acme",
			Confidence: 0.9,
			Box:        entity.BoundingBox{X: 1, Y: 1, W: 4, H: 4},
		}}, nil
	}}
}

type testServer struct {
	srv    *httptest.Server
	runner *fakeRunner
	pre    *fakePre
	logos  *fakeLogos
	store  *cache.MemoryStore
	rc     *cache.RecordCache
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		runner: okRunner(),
		pre:    okPre(t, "page-hash"),
		logos:  okLogos(),
		store:  cache.NewMemoryStore(),
	}
	ts.rc = cache.NewRecordCache(ts.store, slog.Default())

	s := New(testConfig(), ts.runner, ts.pre, ts.logos, ts.rc, slog.Default())
	ts.srv = httptest.NewServer(s.Router())
	t.Cleanup(ts.srv.Close)
	return ts
}

func testConfig() common.ServerConfig {
	return common.ServerConfig{
		MaxFiles:     4,
		MaxWorkers:   2,
		MaxImageMB:   10,
		MaxPDFMB:     20,
		MinDimension: 16,
		MaxDimension: 4096,
	}
}

func httptestServer(t *testing.T, s *Server) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return srv
}

// multipartBody builds a form with the given field repeated per file.
func multipartBody(t *testing.T, field string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, data := range files {
		fw, err := mw.CreateFormFile(field, name)
		if err != nil {
			t.Fatalf("creating form file: %v", err)
		}
		if _, err := fw.Write(data); err != nil {
			t.Fatalf("writing form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("closing form: %v", err)
	}
	return &buf, mw.FormDataContentType()
}
