// Package scan finds processable documents on the local filesystem for
// batch runs. It filters by extension, hashes file contents, and flags
// duplicates within one scan so the same bytes are not analyzed twice.
package scan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/docvision/docvision/constants"
	"github.com/docvision/docvision/internal/common"
)

// Result is the per-file scan outcome.
type Result struct {
	Path         string
	HashHex      string
	Size         int64
	Ext          string
	Deduplicated bool
	Err          string
}

// Stats summarizes a directory scan.
type Stats struct {
	Scanned      uint32
	Matched      uint32
	Succeeded    uint32
	Deduplicated uint32
	Failed       uint32
}

// Scanner reads from the local filesystem.
type Scanner struct {
	logger *slog.Logger
}

func NewScanner(logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{logger: logger}
}

// ScanFile hashes a single path and verifies its extension is supported.
func (s *Scanner) ScanFile(ctx context.Context, path string) (Result, error) {
	var out Result

	if err := ctx.Err(); err != nil {
		return out, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return out, fmt.Errorf("abs path: %w", err)
	}

	ext := constants.NormalizeExt(filepath.Ext(abs))
	if !allowedExt(ext) {
		return out, common.NewAppError("UNSUPPORTED_FORMAT",
			fmt.Sprintf("unsupported or missing extension %q", ext), common.ErrUnsupportedFormat)
	}

	f, err := os.Open(abs)
	if err != nil {
		return out, fmt.Errorf("open: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			s.logger.Warn("scan.file.close_failed", "path", abs, "error", cerr)
		}
	}()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return out, fmt.Errorf("hash: %w", err)
	}

	out = Result{
		Path:    abs,
		HashHex: hex.EncodeToString(h.Sum(nil)),
		Size:    size,
		Ext:     ext,
	}
	return out, nil
}

// ScanDirectory walks root, skips hidden entries if requested, and scans
// every file with a supported extension. Returns per-file results plus
// aggregate stats. Individual file failures are recorded, not returned;
// only a broken walk or a cancelled context aborts the scan.
func (s *Scanner) ScanDirectory(ctx context.Context, root string, skipHidden bool) ([]Result, Stats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, Stats{}, errors.New("root path is required")
	}

	var results []Result
	var stats Stats
	seen := map[string]string{} // content hash -> first path

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, Result{Path: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if skipHidden && path != root && isHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !allowedExt(constants.NormalizeExt(filepath.Ext(path))) {
			return nil
		}
		stats.Matched++

		r, err := s.ScanFile(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			results = append(results, Result{Path: path, Err: err.Error()})
			stats.Failed++
			return nil
		}

		if first, dup := seen[r.HashHex]; dup {
			r.Deduplicated = true
			stats.Deduplicated++
			s.logger.Debug("scan.file.duplicate", "path", r.Path, "first", first)
		} else {
			seen[r.HashHex] = r.Path
		}

		results = append(results, r)
		stats.Succeeded++
		return nil
	})
	if err != nil {
		return results, stats, fmt.Errorf("walk: %w", err)
	}

	s.logger.Info("scan.dir.done",
		"root", root,
		"scanned", stats.Scanned,
		"matched", stats.Matched,
		"succeeded", stats.Succeeded,
		"deduplicated", stats.Deduplicated,
		"failed", stats.Failed)
	return results, stats, nil
}

func allowedExt(ext string) bool {
	_, ok := constants.AllowedExtensions[constants.NormalizeExt(ext)]
	return ok
}

func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
