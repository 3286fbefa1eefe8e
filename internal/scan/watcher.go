package scan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/docvision/docvision/constants"
)

// WatchConfig controls Watch.
type WatchConfig struct {
	// Root is the directory watched recursively.
	Root string
	// SkipHidden ignores dot-files and dot-directories under Root.
	SkipHidden bool
	// InitialScan emits files already present under Root before any event.
	InitialScan bool
	// Debounce coalesces rapid write bursts to the same path. Zero emits
	// immediately.
	Debounce time.Duration
}

// Watch reports supported documents appearing under cfg.Root until ctx is
// cancelled. Both returned channels close when watching stops. Newly
// created directories are watched as they appear.
func (s *Scanner) Watch(ctx context.Context, cfg WatchConfig) (<-chan string, <-chan error, error) {
	if strings.TrimSpace(cfg.Root) == "" {
		return nil, nil, errors.New("root path is required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, nil, fmt.Errorf("abs path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("fsnotify: %w", err)
	}

	paths := make(chan string, 256)
	errs := make(chan error, 1)

	emit := func(path string) bool {
		select {
		case paths <- path:
			return true
		case <-ctx.Done():
			return false
		}
	}

	// addTree registers path and every directory below it. Files that land
	// in a directory before its watch attaches produce no events, so the
	// walk emits allowed files when asked; duplicates are absorbed
	// downstream by the record cache.
	addTree := func(path string, emitFiles bool) error {
		return filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if cfg.SkipHidden && p != root && isHidden(p) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return w.Add(p)
			}
			if emitFiles && allowedExt(constants.NormalizeExt(filepath.Ext(p))) {
				if !emit(p) {
					return ctx.Err()
				}
			}
			return nil
		})
	}

	if err := addTree(root, cfg.InitialScan); err != nil {
		_ = w.Close()
		return nil, nil, fmt.Errorf("watch %s: %w", root, err)
	}
	s.logger.Info("scan.watch.started", "root", root, "initial_scan", cfg.InitialScan)

	go func() {
		defer close(paths)
		defer close(errs)
		defer func() {
			if cerr := w.Close(); cerr != nil {
				s.logger.Warn("scan.watch.close_failed", "error", cerr)
			}
		}()

		pending := map[string]struct{}{}
		var timer *time.Timer
		var timerCh <-chan time.Time

		flush := func() {
			for p := range pending {
				delete(pending, p)
				if !emit(p) {
					return
				}
			}
		}

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("scan.watch.stopped", "root", root)
				return
			case <-timerCh:
				timerCh = nil
				flush()
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if e.Op.Has(fsnotify.Create) {
					if fi, serr := os.Stat(e.Name); serr == nil && fi.IsDir() {
						if cfg.SkipHidden && isHidden(e.Name) {
							continue
						}
						if werr := addTree(e.Name, true); werr != nil {
							s.logger.Warn("scan.watch.add_failed", "path", e.Name, "error", werr)
						}
						continue
					}
				} else if !e.Op.Has(fsnotify.Write) {
					// Renames report the old path and removals are not
					// documents; the new location shows up as a create.
					continue
				}
				if cfg.SkipHidden && isHidden(e.Name) {
					continue
				}
				if !allowedExt(constants.NormalizeExt(filepath.Ext(e.Name))) {
					continue
				}
				pending[e.Name] = struct{}{}
				if cfg.Debounce <= 0 {
					flush()
					continue
				}
				if timer == nil {
					timer = time.NewTimer(cfg.Debounce)
				} else {
					timer.Reset(cfg.Debounce)
				}
				timerCh = timer.C
			case werr, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn("scan.watch.error", "error", werr)
				select {
				case errs <- werr:
				default:
				}
			}
		}
	}()

	return paths, errs, nil
}
