// Package vision sends the canonical page to a multimodal LLM and turns
// its answer into a structured classification. Model output is treated as
// hostile input: everything goes through schema validation, and a page the
// model rambled about still yields a well-formed unknown result.
package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/docvision/docvision/constants"
	"github.com/docvision/docvision/internal/common"
	"github.com/docvision/docvision/internal/entity"
	"github.com/docvision/docvision/internal/retry"
)

// Config holds vision model parameters.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	Timeout     time.Duration
	Lenient     bool
}

// Client is safe for concurrent use.
type Client struct {
	cfg    Config
	api    *openai.Client
	schema map[string]any
	policy retry.Policy
	logger *slog.Logger
}

func New(cfg Config, policy retry.Policy, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = "qwen/qwen2.5-vl-72b-instruct"
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Client{
		cfg:    cfg,
		api:    openai.NewClientWithConfig(clientCfg),
		schema: BuildVisionJSONSchema(),
		policy: policy,
		logger: logger,
	}
}

// Extract classifies the page and pulls its text fields. Transport and
// API failures normalize onto ErrVisionUnavailable; unparseable model
// output does not fail, it degrades to the unknown fallback.
func (c *Client) Extract(ctx context.Context, pagePNG []byte) (*entity.VisionResult, error) {
	rid := common.RequestIDFromContext(ctx)
	if rid == "" {
		rid = uuid.New().String()
	}
	start := time.Now()

	c.logger.Info("vision.extract.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"temp", c.cfg.Temperature,
		"bytes", len(pagePNG))

	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pagePNG)
	req := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: buildSystemPrompt(constants.DocumentTypes()),
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: userInstruction},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
						URL:    dataURL,
						Detail: openai.ImageURLDetailHigh,
					}},
				},
			},
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "JSON Schema:\n" + mustJSON(c.schema),
			},
		},
	}

	var content string
	err := c.policy.Do(ctx, c.logger, "vision.extract", func(ctx context.Context) error {
		resp, err := c.api.CreateChatCompletion(ctx, req)
		if err != nil {
			return classifyAPIError(err)
		}
		if len(resp.Choices) == 0 {
			return common.NewAppError("VISION_UNAVAILABLE",
				"no choices in model response", common.ErrVisionUnavailable)
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		c.logger.Error("vision.extract.failed",
			"req_id", rid, "elapsed_ms", time.Since(start).Milliseconds(), "error", err)
		return nil, err
	}

	result := c.parseContent(rid, content)
	c.logger.Info("vision.extract.ok",
		"req_id", rid,
		"doc_type", result.DocumentType,
		"fields", len(result.Fields),
		"elapsed_ms", time.Since(start).Milliseconds())
	return result, nil
}

// parseContent walks the recovery ladder: strip fences, strict parse,
// regex-extract the JSON object, schema-validate, lenient sanitize, and
// finally the unknown fallback.
func (c *Client) parseContent(rid, content string) *entity.VisionResult {
	raw := []byte(StripCodeFences(content))

	if !json.Valid(raw) {
		if extracted, ok := ExtractJSONObject(string(raw)); ok {
			raw = []byte(extracted)
		}
	}

	validated, ok := c.validate(rid, raw)
	if !ok {
		c.logger.Warn("vision.extract.fallback", "req_id", rid, "content_len", len(content))
		return FallbackResult()
	}

	var out struct {
		DocumentType string            `json:"document_type"`
		Reasoning    string            `json:"reasoning"`
		Fields       map[string]string `json:"extracted_textfields"`
	}
	if err := json.Unmarshal(validated, &out); err != nil {
		c.logger.Warn("vision.extract.fallback", "req_id", rid, "error", err)
		return FallbackResult()
	}

	docType, known := constants.CanonicalizeDocType(out.DocumentType)
	if !known {
		c.logger.Warn("vision.extract.unknown_doctype", "req_id", rid, "doc_type", out.DocumentType)
	}
	if out.Fields == nil {
		out.Fields = map[string]string{}
	}
	return &entity.VisionResult{
		DocumentType: string(docType),
		Reasoning:    out.Reasoning,
		Fields:       out.Fields,
	}
}

func (c *Client) validate(rid string, raw []byte) ([]byte, bool) {
	err := ValidateJSONAgainstSchema(c.schema, raw)
	if err == nil {
		return raw, true
	}
	if !c.cfg.Lenient {
		c.logger.Warn("vision.extract.schema_validation_failed", "req_id", rid, "error", err)
		return nil, false
	}

	cleaned, dropped, sErr := SanitizeModelJSON(raw)
	if sErr != nil {
		c.logger.Warn("vision.extract.sanitize_failed", "req_id", rid, "error", sErr)
		return nil, false
	}
	if vErr := ValidateJSONAgainstSchema(c.schema, cleaned); vErr != nil {
		c.logger.Warn("vision.extract.schema_validation_failed", "req_id", rid, "error", vErr)
		return nil, false
	}
	if len(dropped) > 0 {
		c.logger.Warn("vision.extract.lenient_sanitize_applied", "req_id", rid, "dropped", dropped)
	}
	return cleaned, true
}

// classifyAPIError normalizes SDK errors onto ErrVisionUnavailable and
// marks client errors permanent so the retry loop stops early.
func classifyAPIError(err error) error {
	status := 0
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		status = reqErr.HTTPStatusCode
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		status = apiErr.HTTPStatusCode
	}

	appErr := common.NewAppError("VISION_UNAVAILABLE",
		fmt.Sprintf("calling vision model: %v", err), common.ErrVisionUnavailable)
	if status >= 400 && status < 500 &&
		status != http.StatusRequestTimeout && status != http.StatusTooManyRequests {
		return retry.Permanent(appErr)
	}
	return appErr
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
