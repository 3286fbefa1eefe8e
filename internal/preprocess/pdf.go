package preprocess

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/docvision/docvision/internal/common"
)

// rasterizeFirstPage renders page 1 of a PDF to an image. Multi-page
// documents are trimmed to their first page before rasterization so
// pdftoppm never renders more than one page.
func (p *Preprocessor) rasterizeFirstPage(ctx context.Context, data []byte) (image.Image, error) {
	start := time.Now()

	tmpDir, err := os.MkdirTemp("", "dv-pre-*")
	if err != nil {
		return nil, common.WrapError(err, "creating temp dir")
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			p.logger.Warn("preprocess.pdf.cleanup_failed", "dir", tmpDir, "error", err)
		}
	}()

	srcPath := filepath.Join(tmpDir, "source.pdf")
	if err := os.WriteFile(srcPath, data, 0o600); err != nil {
		return nil, common.WrapError(err, "writing temp pdf")
	}

	pages, err := api.PageCountFile(srcPath)
	if err != nil {
		return nil, common.NewAppError("CORRUPT_INPUT",
			fmt.Sprintf("reading pdf structure: %v", err),
			common.ErrCorruptInput)
	}
	if pages < 1 {
		return nil, common.NewAppError("CORRUPT_INPUT", "pdf has no pages", common.ErrCorruptInput)
	}

	pagePath := srcPath
	if pages > 1 {
		pagePath = filepath.Join(tmpDir, "page1.pdf")
		conf := model.NewDefaultConfiguration()
		conf.ValidationMode = model.ValidationRelaxed
		if err := api.TrimFile(srcPath, pagePath, []string{"1"}, conf); err != nil {
			return nil, common.NewAppError("CORRUPT_INPUT",
				fmt.Sprintf("trimming pdf to first page: %v", err),
				common.ErrCorruptInput)
		}
	}

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r <dpi> -png -f 1 -l 1 <in.pdf> <tmp/page>
	_, errb, err := p.runner.Run(ctx, p.cfg.PdftoppmPath,
		"-r", strconv.Itoa(p.cfg.DPI), "-png", "-f", "1", "-l", "1", pagePath, prefix)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, common.NewAppError("PDFTOPPM_MISSING",
				fmt.Sprintf("%s not found on PATH", p.cfg.PdftoppmPath),
				common.ErrInternal)
		}
		if ctx.Err() != nil {
			return nil, common.WrapError(ctx.Err(), "rasterizing pdf")
		}
		return nil, common.NewAppError("CORRUPT_INPUT",
			fmt.Sprintf("rasterizing pdf: %v: %s", err, truncate(string(errb), 512)),
			common.ErrCorruptInput)
	}

	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if len(matches) == 0 {
		return nil, common.NewAppError("CORRUPT_INPUT",
			"pdftoppm produced no images", common.ErrCorruptInput)
	}

	f, err := os.Open(matches[0])
	if err != nil {
		return nil, common.WrapError(err, "opening rendered page")
	}
	defer func() {
		if err := f.Close(); err != nil {
			p.logger.Warn("preprocess.pdf.close_failed", "path", matches[0], "error", err)
		}
	}()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, common.NewAppError("CORRUPT_INPUT",
			fmt.Sprintf("decoding rendered page: %v", err),
			common.ErrCorruptInput)
	}

	p.logger.Info("preprocess.pdf.rasterized",
		"pages", pages,
		"dpi", p.cfg.DPI,
		"elapsed_ms", time.Since(start).Milliseconds())
	return img, nil
}
