package server

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/docvision/docvision/internal/cache"
	"github.com/docvision/docvision/internal/common"
	"github.com/docvision/docvision/internal/entity"
)

const maxMultipartMemory = 32 << 20

type analyzeEntry struct {
	File   string                 `json:"file"`
	Record *entity.PipelineRecord `json:"record,omitempty"`
	Error  *errorBody             `json:"error,omitempty"`
}

type analyzeResponse struct {
	Results []analyzeEntry `json:"results"`
}

type visualCuesResponse struct {
	File        string                 `json:"file"`
	ContentHash string                 `json:"content_hash"`
	Cues        []entity.LogoDetection `json:"cues"`
}

type healthResponse struct {
	Status     string            `json:"status"`
	Checks     map[string]string `json:"checks"`
	CacheStats *cache.Stats      `json:"cache_stats,omitempty"`
}

// handleAnalyze processes a multipart batch. The response always carries
// one entry per uploaded file; invalid or failed files report their error
// inline instead of failing the whole batch.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid multipart form: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", `form field "files" is required`)
		return
	}
	if len(files) > s.cfg.MaxFiles {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR",
			fmt.Sprintf("too many files: %d exceeds the limit of %d", len(files), s.cfg.MaxFiles))
		return
	}

	results := make([]analyzeEntry, len(files))
	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(s.cfg.MaxWorkers)
	for i, fh := range files {
		g.Go(func() error {
			results[i] = s.analyzeOne(ctx, fh)
			return nil
		})
	}
	_ = g.Wait()

	writeJSON(w, http.StatusOK, analyzeResponse{Results: results})
}

func (s *Server) analyzeOne(ctx context.Context, fh *multipart.FileHeader) analyzeEntry {
	entry := analyzeEntry{File: fh.Filename}

	data, err := readUpload(fh)
	if err != nil {
		s.logger.Warn("analyze.read_failed", "file", fh.Filename, "error", err)
		entry.Error = &errorBody{Code: "BAD_REQUEST", Message: "reading upload: " + err.Error()}
		return entry
	}
	if err := common.ValidateUpload(fh.Filename, data, s.limits); err != nil {
		entry.Error = toErrorBody(err)
		return entry
	}

	rec, err := s.runner.Run(common.WithFilename(ctx, fh.Filename), data)
	if err != nil {
		entry.Error = toErrorBody(err)
		return entry
	}
	entry.Record = rec
	return entry
}

// handleVisualCues runs only preprocessing and logo detection, for callers
// that want fast visual hints without the remote stages.
func (s *Server) handleVisualCues(w http.ResponseWriter, r *http.Request) {
	if s.logos == nil {
		writeError(w, http.StatusNotImplemented, "LOGO_DETECTION_DISABLED",
			"no logo signatures configured")
		return
	}

	f, fh, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", `form field "file" is required`)
		return
	}
	data, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "reading upload: "+err.Error())
		return
	}
	if err := common.ValidateUpload(fh.Filename, data, s.limits); err != nil {
		status, body := statusFor(err)
		writeJSON(w, status, body)
		return
	}

	ctx := common.WithFilename(r.Context(), fh.Filename)
	page, err := s.pre.Preprocess(ctx, data)
	if err != nil {
		status, body := statusFor(err)
		writeJSON(w, status, body)
		return
	}
	cues, err := s.logos.Detect(ctx, page.Image)
	if err != nil {
		status, body := statusFor(err)
		writeJSON(w, status, body)
		return
	}
	if cues == nil {
		cues = []entity.LogoDetection{}
	}

	writeJSON(w, http.StatusOK, visualCuesResponse{
		File:        fh.Filename,
		ContentHash: page.ContentHash,
		Cues:        cues,
	})
}

// handleGetRecord serves a previously computed record by content hash.
func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	if s.cache == nil {
		writeError(w, http.StatusNotFound, "RECORD_NOT_FOUND", "no record for content hash")
		return
	}
	rec, ok := s.cache.Get(r.Context(), hash, s.runner.Version())
	if !ok {
		writeError(w, http.StatusNotFound, "RECORD_NOT_FOUND", "no record for content hash")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Checks: map[string]string{}}
	if s.cache == nil {
		resp.Checks["cache"] = "off"
	} else {
		state := "ok"
		if err := s.cache.Ping(r.Context()); err != nil {
			state = "degraded"
		}
		resp.Checks["cache"] = state
		stats := s.cache.Stats()
		resp.CacheStats = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}
