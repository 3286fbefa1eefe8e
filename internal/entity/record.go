package entity

import (
	"reflect"
	"time"

	"github.com/docvision/docvision/constants"
)

// StageTrace records how a single stage ended.
type StageTrace struct {
	Status     constants.StageStatus `json:"status"`
	Error      string                `json:"error,omitempty"`
	DurationMs int64                 `json:"duration_ms"`
}

// StageSet groups the per-stage traces of one run.
type StageSet struct {
	Logo   StageTrace `json:"logo"`
	Ocr    StageTrace `json:"ocr"`
	Vision StageTrace `json:"vision"`
}

// BoundingBox locates a detection on the canonical page.
type BoundingBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// LogoDetection is one logo candidate found on the page. ImageBase64
// holds a PNG crop of the boxed region.
type LogoDetection struct {
	Label       string      `json:"label"`
	Confidence  float64     `json:"confidence"`
	Box         BoundingBox `json:"box"`
	ImageBase64 string      `json:"image_base64,omitempty"`
}

// OcrBlock groups recognized lines that belong together on the page.
type OcrBlock struct {
	Lines []string `json:"lines"`
}

// OcrResult is the text recognized on the canonical page.
type OcrResult struct {
	FullText string     `json:"full_text"`
	Blocks   []OcrBlock `json:"blocks,omitempty"`
}

// VisionResult is the structured reading produced by the vision model.
type VisionResult struct {
	DocumentType string            `json:"document_type"`
	Reasoning    string            `json:"reasoning"`
	Fields       map[string]string `json:"extracted_textfields"`
}

// PipelineRecord is the merged outcome of one pipeline run over a single
// document page. Records are what the cache stores and the API returns.
type PipelineRecord struct {
	ContentHash     string          `json:"content_hash"`
	PipelineVersion string          `json:"pipeline_version"`
	SourceFormat    string          `json:"source_format"`
	Width           int             `json:"width"`
	Height          int             `json:"height"`
	Stages          StageSet        `json:"stages"`
	Logos           []LogoDetection `json:"logos,omitempty"`
	Ocr             *OcrResult      `json:"ocr,omitempty"`
	Vision          *VisionResult   `json:"vision,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Equivalent reports whether two records describe the same outcome.
// Stage durations and creation time are excluded: repeated runs over the
// same content differ there without meaning anything.
func Equivalent(a, b *PipelineRecord) bool {
	if a == nil || b == nil {
		return a == b
	}
	ca, cb := *a, *b
	ca.Stages = zeroDurations(ca.Stages)
	cb.Stages = zeroDurations(cb.Stages)
	ca.CreatedAt, cb.CreatedAt = time.Time{}, time.Time{}
	return reflect.DeepEqual(ca, cb)
}

func zeroDurations(s StageSet) StageSet {
	s.Logo.DurationMs = 0
	s.Ocr.DurationMs = 0
	s.Vision.DurationMs = 0
	return s
}
