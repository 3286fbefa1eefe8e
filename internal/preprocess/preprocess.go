// Package preprocess turns an uploaded document into its canonical page:
// a fixed-size RGBA canvas whose pixel bytes are hashed to identify the
// content. The hash is the cache key for the whole pipeline, so every
// operation here must be deterministic for identical input bytes.
package preprocess

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"math"
	"time"

	_ "image/jpeg"

	xdraw "golang.org/x/image/draw"

	"github.com/docvision/docvision/constants"
	"github.com/docvision/docvision/internal/common"
)

const (
	// DefaultCanvasSize is the side of the square canonical canvas.
	DefaultCanvasSize = 1024
	// DefaultDPI matches the rasterization density the OCR models were
	// tuned against.
	DefaultDPI      = 302
	defaultPdftoppm = "pdftoppm"
)

// Config controls rasterization and normalization.
type Config struct {
	PdftoppmPath string
	DPI          int
	CanvasSize   int
}

// CanonicalPage is the deterministic, normalized form of one document
// page. Downstream stages all consume it: ContentHash keys the record
// cache, PNG feeds OCR and the vision model, Image feeds logo detection.
type CanonicalPage struct {
	Image        *image.RGBA
	PNG          []byte
	ContentHash  string
	Width        int
	Height       int
	SourceFormat string
}

// Preprocessor decodes, rasterizes and normalizes uploads.
type Preprocessor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

// New builds a Preprocessor with defaults filled in.
func New(cfg Config, logger *slog.Logger) *Preprocessor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PdftoppmPath == "" {
		cfg.PdftoppmPath = defaultPdftoppm
	}
	if cfg.DPI <= 0 {
		cfg.DPI = DefaultDPI
	}
	if cfg.CanvasSize <= 0 {
		cfg.CanvasSize = DefaultCanvasSize
	}
	return &Preprocessor{cfg: cfg, runner: execRunner{}, logger: logger}
}

// Preprocess sniffs the format, decodes the first page and projects it
// onto the canonical canvas. It fails hard with ErrUnsupportedFormat or
// ErrCorruptInput; every other outcome is a usable page.
func (p *Preprocessor) Preprocess(ctx context.Context, data []byte) (*CanonicalPage, error) {
	start := time.Now()

	format, err := DetectFormat(data)
	if err != nil {
		return nil, err
	}

	var src image.Image
	switch format {
	case constants.FormatPDF:
		src, err = p.rasterizeFirstPage(ctx, data)
		if err != nil {
			return nil, err
		}
	default:
		src, _, err = image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, common.NewAppError("CORRUPT_INPUT",
				fmt.Sprintf("decoding %s payload: %v", format, err),
				common.ErrCorruptInput)
		}
	}

	canvas := normalize(src, p.cfg.CanvasSize)
	hash := ContentHash(canvas)

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, common.WrapError(err, "encoding canonical page")
	}

	p.logger.Info("preprocess.page.ready",
		"format", format,
		"content_hash", hash,
		"width", canvas.Bounds().Dx(),
		"height", canvas.Bounds().Dy(),
		"elapsed_ms", time.Since(start).Milliseconds())

	return &CanonicalPage{
		Image:        canvas,
		PNG:          buf.Bytes(),
		ContentHash:  hash,
		Width:        canvas.Bounds().Dx(),
		Height:       canvas.Bounds().Dy(),
		SourceFormat: format,
	}, nil
}

// ContentHash hashes the canvas pixel bytes. Hashing pixels instead of
// input bytes makes re-encoded copies of the same page collide on purpose.
func ContentHash(img *image.RGBA) string {
	sum := sha256.Sum256(img.Pix)
	return hex.EncodeToString(sum[:])
}

// normalize centers src on a white size x size canvas, scaling down with
// bilinear interpolation when the page exceeds the canvas. Pages already
// smaller than the canvas keep their native resolution.
func normalize(src image.Image, size int) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, size, size))
	xdraw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, xdraw.Src)

	sb := src.Bounds()
	sw, sh := sb.Dx(), sb.Dy()
	if sw <= 0 || sh <= 0 {
		return canvas
	}

	scale := math.Min(float64(size)/float64(sw), float64(size)/float64(sh))
	if scale > 1 {
		scale = 1
	}
	dw := int(math.Round(float64(sw) * scale))
	dh := int(math.Round(float64(sh) * scale))
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}
	if dw > size {
		dw = size
	}
	if dh > size {
		dh = size
	}

	x0 := (size - dw) / 2
	y0 := (size - dh) / 2
	dst := image.Rect(x0, y0, x0+dw, y0+dh)
	xdraw.BiLinear.Scale(canvas, dst, src, sb, xdraw.Over, nil)
	return canvas
}
