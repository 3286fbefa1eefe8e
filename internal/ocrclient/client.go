// Package ocrclient talks to the external OCR HTTP service. OCR is a
// soft dependency: callers mark the stage failed on error and move on.
package ocrclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/docvision/docvision/internal/common"
	"github.com/docvision/docvision/internal/entity"
	"github.com/docvision/docvision/internal/retry"
)

// Config holds connection parameters for the OCR service.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	Languages []string
	Timeout   time.Duration
}

// Client is safe for concurrent use.
type Client struct {
	cfg    Config
	httpc  *http.Client
	policy retry.Policy
	logger *slog.Logger
}

func New(cfg Config, policy retry.Policy, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = "page"
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"en"}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		httpc:  &http.Client{Timeout: cfg.Timeout},
		policy: policy,
		logger: logger,
	}
}

type request struct {
	Content       string   `json:"content"`
	MimeType      string   `json:"mime_type"`
	LanguageCodes []string `json:"language_codes,omitempty"`
	Model         string   `json:"model,omitempty"`
}

type response struct {
	Result struct {
		TextAnnotation struct {
			FullText string `json:"full_text"`
			Blocks   []struct {
				Lines []struct {
					Text string `json:"text"`
				} `json:"lines"`
			} `json:"blocks"`
		} `json:"text_annotation"`
	} `json:"result"`
}

// Recognize sends the canonical page PNG and returns the recognized
// text. Failures are normalized onto ErrOCRUnavailable so callers can
// classify the stage without inspecting transport details.
func (c *Client) Recognize(ctx context.Context, pagePNG []byte) (*entity.OcrResult, error) {
	rid := common.RequestIDFromContext(ctx)
	if rid == "" {
		rid = uuid.New().String()
	}
	start := time.Now()
	c.logger.Info("ocr.recognize.start",
		"req_id", rid, "model", c.cfg.Model, "bytes", len(pagePNG))

	payload, err := json.Marshal(request{
		Content:       base64.StdEncoding.EncodeToString(pagePNG),
		MimeType:      "image/png",
		LanguageCodes: c.cfg.Languages,
		Model:         c.cfg.Model,
	})
	if err != nil {
		return nil, common.WrapError(err, "marshaling ocr request")
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/ocr"

	var out response
	err = c.policy.Do(ctx, c.logger, "ocr.recognize", func(ctx context.Context) error {
		return c.post(ctx, endpoint, payload, &out)
	})
	if err != nil {
		c.logger.Error("ocr.recognize.failed",
			"req_id", rid, "elapsed_ms", time.Since(start).Milliseconds(), "error", err)
		return nil, err
	}

	result := out.toEntity()
	c.logger.Info("ocr.recognize.ok",
		"req_id", rid,
		"chars", len(result.FullText),
		"blocks", len(result.Blocks),
		"elapsed_ms", time.Since(start).Milliseconds())
	return result, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload []byte, out *response) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(common.NewAppError("OCR_UNAVAILABLE",
			fmt.Sprintf("building request: %v", err), common.ErrOCRUnavailable))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return common.NewAppError("OCR_UNAVAILABLE",
			fmt.Sprintf("calling ocr service: %v", err), common.ErrOCRUnavailable)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		appErr := common.NewAppError("OCR_UNAVAILABLE",
			fmt.Sprintf("ocr service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))),
			common.ErrOCRUnavailable)
		if isPermanentStatus(resp.StatusCode) {
			return retry.Permanent(appErr)
		}
		return appErr
	}

	*out = response{}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return common.NewAppError("OCR_UNAVAILABLE",
			fmt.Sprintf("decoding ocr response: %v", err), common.ErrOCRUnavailable)
	}
	return nil
}

// isPermanentStatus treats client errors as not retryable, except for
// timeouts and throttling.
func isPermanentStatus(status int) bool {
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return false
	}
	return status >= 400 && status < 500
}

func (r *response) toEntity() *entity.OcrResult {
	ta := r.Result.TextAnnotation

	blocks := make([]entity.OcrBlock, 0, len(ta.Blocks))
	var lines []string
	for _, b := range ta.Blocks {
		eb := entity.OcrBlock{Lines: make([]string, 0, len(b.Lines))}
		for _, l := range b.Lines {
			s := strings.TrimSpace(l.Text)
			if s == "" {
				continue
			}
			eb.Lines = append(eb.Lines, s)
			lines = append(lines, s)
		}
		if len(eb.Lines) > 0 {
			blocks = append(blocks, eb)
		}
	}

	out := &entity.OcrResult{Blocks: blocks}
	out.FullText = strings.TrimSpace(ta.FullText)
	if out.FullText == "" {
		// Some OCR deployments omit full_text; rebuild it from lines.
		out.FullText = strings.Join(lines, "\n")
	}
	return out
}
