package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/docvision/docvision/internal/async"
	"github.com/docvision/docvision/internal/cache"
	"github.com/docvision/docvision/internal/cache/pgstore"
	"github.com/docvision/docvision/internal/cache/redisstore"
	"github.com/docvision/docvision/internal/cache/sqlitestore"
	"github.com/docvision/docvision/internal/common"
	"github.com/docvision/docvision/internal/export"
	"github.com/docvision/docvision/internal/logo"
	"github.com/docvision/docvision/internal/ocrclient"
	"github.com/docvision/docvision/internal/pipeline"
	"github.com/docvision/docvision/internal/preprocess"
	"github.com/docvision/docvision/internal/retry"
	"github.com/docvision/docvision/internal/scan"
	"github.com/docvision/docvision/internal/vision"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func usage() {
	printError("Usage:\n")
	printError("  docvision analyze [flags] <file>     analyze one document, print the record as JSON\n")
	printError("  docvision batch --dir <dir> [flags]  analyze a directory, write an XLSX report\n")
	printError("  docvision watch --dir <dir> [flags]  analyze documents as they appear, print records as JSON lines\n")
}

func main() {
	// Logs go to stderr so stdout stays clean for record JSON and summaries.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "analyze":
		runAnalyze(logger, os.Args[2:])
	case "batch":
		runBatch(logger, os.Args[2:])
	case "watch":
		runWatch(logger, os.Args[2:])
	default:
		printError("Error: unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func runAnalyze(logger *slog.Logger, args []string) {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	timeout := fs.Duration("timeout", 2*time.Minute, "overall processing timeout")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		printError("Error: analyze takes exactly one file argument\n")
		usage()
		os.Exit(2)
	}
	path := fs.Arg(0)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	data, err := os.ReadFile(path)
	if err != nil {
		printError("Error: reading %s: %v\n", path, err)
		os.Exit(1)
	}
	limits := common.UploadLimitsFromConfig(cfg.Server)
	if err := common.ValidateUpload(filepath.Base(path), data, limits); err != nil {
		printError("Error: %s: %v\n", path, err)
		os.Exit(1)
	}

	pipe, closeStore := buildPipeline(ctx, cfg, logger)
	defer closeStore()

	start := time.Now()
	rec, err := pipe.Run(common.WithFilename(ctx, filepath.Base(path)), data)
	if err != nil {
		logger.Error("analysis failed", "file", path, "error", err)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		logger.Error("failed to encode record", "error", err)
		os.Exit(1)
	}
	fmt.Println(string(out))

	logger.Info("analysis OK",
		"file", path,
		"content_hash", rec.ContentHash,
		"logo_status", rec.Stages.Logo.Status,
		"ocr_status", rec.Stages.Ocr.Status,
		"vision_status", rec.Stages.Vision.Status,
		"elapsed", time.Since(start).Round(time.Millisecond).String())
}

func runBatch(logger *slog.Logger, args []string) {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	var (
		dir     = fs.String("dir", "", "directory to analyze (required)")
		out     = fs.String("out", "", "output XLSX file path (optional, defaults to parent directory)")
		hidden  = fs.Bool("hidden", false, "include hidden files and directories")
		workers = fs.Int("workers", 4, "concurrent analysis workers")
		timeout = fs.Duration("timeout", 3*time.Minute, "per-file processing timeout")
	)
	_ = fs.Parse(args)

	if *dir == "" {
		printError("Error: --dir is required\n")
		os.Exit(1)
	}
	if *out == "" {
		*out = filepath.Join(filepath.Dir(*dir), "docvision.xlsx")
	}

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipe, closeStore := buildPipeline(ctx, cfg, logger)
	defer closeStore()

	scanner := scan.NewScanner(logger)
	results, stats, err := scanner.ScanDirectory(ctx, *dir, !*hidden)
	if err != nil {
		logger.Error("directory scan failed", "dir", *dir, "error", err)
		os.Exit(1)
	}

	limits := common.UploadLimitsFromConfig(cfg.Server)

	var (
		mu   sync.Mutex
		rows []export.Row
	)
	addRow := func(row export.Row) {
		mu.Lock()
		rows = append(rows, row)
		mu.Unlock()
	}

	queue := async.NewQueue(func(jobCtx context.Context, job async.Job) error {
		data, err := os.ReadFile(job.Path)
		if err != nil {
			addRow(export.Row{SourcePath: job.Path, Err: err.Error()})
			return err
		}
		if err := common.ValidateUpload(filepath.Base(job.Path), data, limits); err != nil {
			addRow(export.Row{SourcePath: job.Path, Err: err.Error()})
			return err
		}
		rec, err := pipe.Run(common.WithFilename(jobCtx, filepath.Base(job.Path)), data)
		if err != nil {
			addRow(export.Row{SourcePath: job.Path, Err: err.Error()})
			return err
		}
		addRow(export.Row{SourcePath: job.Path, Record: rec})
		return nil
	}, logger, async.WithWorkers(*workers), async.WithProcessTimeout(*timeout))

	submitted := 0
	duplicates := 0
	for _, res := range results {
		if ctx.Err() != nil {
			break
		}
		if res.Err != "" {
			addRow(export.Row{SourcePath: res.Path, Err: res.Err})
			continue
		}
		if res.Deduplicated {
			duplicates++
			continue
		}
		_ = queue.Enqueue(ctx, async.Job{ID: uuid.New(), Path: res.Path, SubmittedAt: time.Now()})
		submitted++
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	queue.Shutdown(drainCtx)

	sort.Slice(rows, func(i, j int) bool { return rows[i].SourcePath < rows[j].SourcePath })

	analyzed := 0
	failures := 0
	for _, row := range rows {
		if row.Err != "" {
			failures++
		} else if row.Record != nil {
			analyzed++
		}
	}

	svc := export.NewService(logger)
	xlsxBytes, err := svc.RecordsXLSX(rows)
	if err != nil {
		logger.Error("failed to build report", "error", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, xlsxBytes, 0644); err != nil {
		logger.Error("failed to write output file", "path", *out, "error", err)
		os.Exit(1)
	}

	logger.Info("batch complete",
		"scanned", stats.Scanned,
		"matched", stats.Matched,
		"submitted", submitted,
		"analyzed", analyzed,
		"failures", failures,
		"duplicates", duplicates,
		"output_file", *out)

	fmt.Printf("Batch analysis complete!\n")
	fmt.Printf("- Files matched: %d\n", stats.Matched)
	fmt.Printf("- Files analyzed: %d\n", analyzed)
	fmt.Printf("- Duplicates skipped: %d\n", duplicates)
	fmt.Printf("- Failures: %d\n", failures)
	fmt.Printf("- Output: %s\n", *out)
}

func runWatch(logger *slog.Logger, args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	var (
		dir      = fs.String("dir", "", "directory to watch (required)")
		hidden   = fs.Bool("hidden", false, "include hidden files and directories")
		initial  = fs.Bool("initial-scan", false, "also analyze files already present")
		workers  = fs.Int("workers", 4, "concurrent analysis workers")
		timeout  = fs.Duration("timeout", 3*time.Minute, "per-file processing timeout")
		debounce = fs.Duration("debounce", 500*time.Millisecond, "quiet period before a changed file is analyzed")
	)
	_ = fs.Parse(args)

	if *dir == "" {
		printError("Error: --dir is required\n")
		os.Exit(1)
	}

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipe, closeStore := buildPipeline(ctx, cfg, logger)
	defer closeStore()

	limits := common.UploadLimitsFromConfig(cfg.Server)

	// Records stream to stdout as they finish, one JSON object per line.
	var outMu sync.Mutex
	enc := json.NewEncoder(os.Stdout)

	queue := async.NewQueue(func(jobCtx context.Context, job async.Job) error {
		data, err := os.ReadFile(job.Path)
		if err != nil {
			return err
		}
		if err := common.ValidateUpload(filepath.Base(job.Path), data, limits); err != nil {
			return err
		}
		rec, err := pipe.Run(common.WithFilename(jobCtx, filepath.Base(job.Path)), data)
		if err != nil {
			return err
		}
		outMu.Lock()
		defer outMu.Unlock()
		return enc.Encode(rec)
	}, logger, async.WithWorkers(*workers), async.WithProcessTimeout(*timeout))

	scanner := scan.NewScanner(logger)
	paths, errs, err := scanner.Watch(ctx, scan.WatchConfig{
		Root:        *dir,
		SkipHidden:  !*hidden,
		InitialScan: *initial,
		Debounce:    *debounce,
	})
	if err != nil {
		logger.Error("watch failed", "dir", *dir, "error", err)
		os.Exit(1)
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case p, ok := <-paths:
			if !ok {
				break loop
			}
			_ = queue.Enqueue(ctx, async.Job{ID: uuid.New(), Path: p, SubmittedAt: time.Now()})
		case werr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logger.Warn("watch degraded", "error", werr)
		}
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	queue.Shutdown(drainCtx)
	logger.Info("watch stopped")
}

// buildPipeline wires the full analysis stack from environment config.
// Stage clients that are not configured stay nil and their stages are
// recorded as skipped.
func buildPipeline(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*pipeline.Pipeline, func()) {
	store, err := openStore(ctx, cfg.Cache)
	if err != nil {
		logger.Error("failed to open cache backend", "backend", cfg.Cache.Backend, "error", err)
		os.Exit(1)
	}
	closeStore := func() {
		if cerr := store.Close(); cerr != nil {
			logger.Warn("cache backend close failed", "error", cerr)
		}
	}

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
			closeStore()
			os.Exit(1)
		}
		logos = logo.NewDetector(logo.Config{MaxLogos: cfg.Logo.MaxLogos, Signatures: sigs}, logger)
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
	} else {
		logger.Warn("VISION_API_KEY not configured, vision extraction will be skipped")
	}

	pipe := pipeline.New(pipeline.Config{Version: cfg.Pipeline.Version}, pre, logos, ocr, extractor, rc, logger)
	return pipe, closeStore
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
