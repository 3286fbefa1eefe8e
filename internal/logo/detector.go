// Package logo finds known brand marks on the canonical page without any
// network calls. Detection samples the page on a coarse grid, counts
// pixels matching each signature's color per row and column band, and
// keeps the densest contiguous span in each direction as the bounding box.
package logo

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/docvision/docvision/internal/entity"
)

// DefaultMaxLogos caps detections per page.
const DefaultMaxLogos = 4

// A region must collect at least this many matching samples before any
// density math runs, otherwise noise pixels produce one-sample boxes.
const minMatchSamples = 50

// Config controls the detector.
type Config struct {
	MaxLogos   int
	Signatures []Signature
}

// Detector is stateless after construction and safe for concurrent use.
type Detector struct {
	cfg    Config
	logger *slog.Logger
}

func NewDetector(cfg Config, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxLogos <= 0 {
		cfg.MaxLogos = DefaultMaxLogos
	}
	return &Detector{cfg: cfg, logger: logger}
}

// Detect scans img for every configured signature and returns the
// detections sorted by confidence, capped at MaxLogos. A page with no
// matches returns an empty slice, not an error.
func (d *Detector) Detect(ctx context.Context, img *image.RGBA) ([]entity.LogoDetection, error) {
	if img == nil {
		return nil, fmt.Errorf("nil image")
	}
	start := time.Now()

	detections := make([]entity.LogoDetection, 0, len(d.cfg.Signatures))
	for _, sig := range d.cfg.Signatures {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		det, ok := d.matchSignature(img, sig)
		if !ok {
			continue
		}
		detections = append(detections, det)
	}

	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})
	if len(detections) > d.cfg.MaxLogos {
		detections = detections[:d.cfg.MaxLogos]
	}

	d.logger.Info("logo.detect.done",
		"signatures", len(d.cfg.Signatures),
		"detections", len(detections),
		"elapsed_ms", time.Since(start).Milliseconds())
	return detections, nil
}

func (d *Detector) matchSignature(img *image.RGBA, sig Signature) (entity.LogoDetection, bool) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return entity.LogoDetection{}, false
	}

	step := maxInt(1, minInt(w, h)/1200)
	colsSampled := (w + step - 1) / step
	rowsSampled := (h + step - 1) / step
	colCounts := make([]int, colsSampled)
	rowCounts := make([]int, rowsSampled)

	matched := 0
	sampled := 0
	for y := 0; y < h; y += step {
		for x := 0; x < w; x += step {
			sampled++
			if !sig.matches(img.RGBAAt(b.Min.X+x, b.Min.Y+y)) {
				continue
			}
			matched++
			colCounts[x/step]++
			rowCounts[y/step]++
		}
	}

	if sampled == 0 || matched < minMatchSamples {
		return entity.LogoDetection{}, false
	}
	if float64(matched)/float64(sampled) < sig.MinCoverage {
		return entity.LogoDetection{}, false
	}

	rowThreshold := maxInt(2, colsSampled/220) // ~0.45% of samples per row
	colThreshold := maxInt(2, rowsSampled/220)
	rowStart, rowEnd, rowOK := largestDenseSpan(rowCounts, rowThreshold)
	colStart, colEnd, colOK := largestDenseSpan(colCounts, colThreshold)
	if !rowOK || !colOK {
		return entity.LogoDetection{}, false
	}

	minY := rowStart * step
	maxY := minInt(h-1, (rowEnd+1)*step-1)
	minX := colStart * step
	maxX := minInt(w-1, (colEnd+1)*step-1)
	if maxX <= minX || maxY <= minY {
		return entity.LogoDetection{}, false
	}

	pad := maxInt(2, step*2)
	minX = maxInt(0, minX-pad)
	minY = maxInt(0, minY-pad)
	maxX = minInt(w-1, maxX+pad)
	maxY = minInt(h-1, maxY+pad)

	box := entity.BoundingBox{X: minX, Y: minY, W: maxX - minX + 1, H: maxY - minY + 1}

	crop, err := cropBase64(img, box)
	if err != nil {
		d.logger.Warn("logo.crop.failed", "label", sig.Label, "error", err)
	}

	return entity.LogoDetection{
		Label:       sig.Label,
		Confidence:  boxConfidence(img, sig, box, step),
		Box:         box,
		ImageBase64: crop,
	}, true
}

// matches compares per channel; the canonical canvas is always opaque.
func (s Signature) matches(c color.RGBA) bool {
	tol := int(s.Tolerance)
	return absDiff(c.R, s.R) <= tol && absDiff(c.G, s.G) <= tol && absDiff(c.B, s.B) <= tol
}

// boxConfidence is the matching-sample ratio inside the final box,
// rounded to three decimals.
func boxConfidence(img *image.RGBA, sig Signature, box entity.BoundingBox, step int) float64 {
	b := img.Bounds()
	matched, sampled := 0, 0
	for y := box.Y; y < box.Y+box.H; y += step {
		for x := box.X; x < box.X+box.W; x += step {
			sampled++
			if sig.matches(img.RGBAAt(b.Min.X+x, b.Min.Y+y)) {
				matched++
			}
		}
	}
	if sampled == 0 {
		return 0
	}
	return math.Round(float64(matched)/float64(sampled)*1000) / 1000
}

func cropBase64(img *image.RGBA, box entity.BoundingBox) (string, error) {
	r := image.Rect(box.X, box.Y, box.X+box.W, box.Y+box.H).Add(img.Bounds().Min)
	sub := img.SubImage(r)

	var buf bytes.Buffer
	if err := png.Encode(&buf, sub); err != nil {
		return "", fmt.Errorf("encoding crop: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// largestDenseSpan finds the contiguous run of bands at or above
// threshold with the highest mass, favoring longer runs on ties.
func largestDenseSpan(counts []int, threshold int) (int, int, bool) {
	if len(counts) == 0 {
		return 0, 0, false
	}
	if threshold < 1 {
		threshold = 1
	}

	bestStart, bestEnd, bestScore := -1, -1, -1
	curStart, curScore := -1, 0
	for i, c := range counts {
		if c >= threshold {
			if curStart < 0 {
				curStart = i
				curScore = 0
			}
			curScore += c
			continue
		}
		if curStart >= 0 {
			curEnd := i - 1
			spanLen := curEnd - curStart + 1
			if score := curScore + spanLen*threshold; score > bestScore {
				bestStart, bestEnd, bestScore = curStart, curEnd, score
			}
			curStart, curScore = -1, 0
		}
	}
	if curStart >= 0 {
		curEnd := len(counts) - 1
		spanLen := curEnd - curStart + 1
		if score := curScore + spanLen*threshold; score > bestScore {
			bestStart, bestEnd, bestScore = curStart, curEnd, score
		}
	}

	if bestStart < 0 {
		return 0, 0, false
	}
	return bestStart, bestEnd, true
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a) - int(b)
	}
	return int(b) - int(a)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
