package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/docvision/docvision/constants"
	"github.com/docvision/docvision/internal/entity"
)

func sampleRecord() *entity.PipelineRecord {
	return &entity.PipelineRecord{
		ContentHash:     "deadbeef",
		PipelineVersion: "v1",
		SourceFormat:    "png",
		Width:           1024,
		Height:          768,
		Stages: entity.StageSet{
			Logo:   entity.StageTrace{Status: constants.StageOK, DurationMs: 12},
			Ocr:    entity.StageTrace{Status: constants.StageFailed, Error: "service down", DurationMs: 30},
			Vision: entity.StageTrace{Status: constants.StageOK, DurationMs: 900},
		},
		Logos: []entity.LogoDetection{
			{Label: "acme", Confidence: 0.91},
			{Label: "globex", Confidence: 0.55},
		},
		Vision: &entity.VisionResult{
			DocumentType: "invoice",
			Reasoning:    "invoice header with totals",
			Fields:       map[string]string{"total": "99.00", "invoice_number": "INV-42"},
		},
		CreatedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

// cell tolerates excelize trimming trailing empty cells from GetRows.
func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

func TestRecordsXLSX(t *testing.T) {
	svc := NewService(nil)
	b, err := svc.RecordsXLSX([]Row{
		{SourcePath: "/docs/a.png", Record: sampleRecord()},
		{SourcePath: "/docs/broken.pdf", Err: "corrupt input: decoding pdf"},
	})
	if err != nil {
		t.Fatalf("RecordsXLSX: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("opening workbook: %v", err)
	}
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows("Records")
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header + 2", len(rows))
	}

	if cell(rows[0], 0) != "File" || cell(rows[0], 7) != "Document Type" || cell(rows[0], 13) != "Error" {
		t.Errorf("header = %v", rows[0])
	}

	got := rows[1]
	if cell(got, 0) != "/docs/a.png" {
		t.Errorf("file = %q", cell(got, 0))
	}
	if cell(got, 1) != "deadbeef" || cell(got, 2) != "png" || cell(got, 3) != "1024x768" {
		t.Errorf("meta cells = %q %q %q", cell(got, 1), cell(got, 2), cell(got, 3))
	}
	if cell(got, 4) != "ok 12ms" {
		t.Errorf("logo stage = %q", cell(got, 4))
	}
	if want := "failed 30ms: service down"; cell(got, 5) != want {
		t.Errorf("ocr stage = %q, want %q", cell(got, 5), want)
	}
	if cell(got, 7) != "invoice" {
		t.Errorf("doc type = %q", cell(got, 7))
	}
	if want := "acme (0.91); globex (0.55)"; cell(got, 8) != want {
		t.Errorf("logos = %q, want %q", cell(got, 8), want)
	}
	if want := "invoice_number=INV-42; total=99.00"; cell(got, 10) != want {
		t.Errorf("fields = %q, want %q (sorted)", cell(got, 10), want)
	}
	if cell(got, 12) != "2025-03-01T10:00:00Z" {
		t.Errorf("created = %q", cell(got, 12))
	}
	if cell(got, 13) != "" {
		t.Errorf("error cell = %q, want empty", cell(got, 13))
	}

	failed := rows[2]
	if cell(failed, 0) != "/docs/broken.pdf" {
		t.Errorf("file = %q", cell(failed, 0))
	}
	if cell(failed, 1) != "" || cell(failed, 7) != "" {
		t.Errorf("failed row has record cells: %v", failed)
	}
	if cell(failed, 13) != "corrupt input: decoding pdf" {
		t.Errorf("error = %q", cell(failed, 13))
	}
}

func TestRecordsXLSXEmpty(t *testing.T) {
	svc := NewService(nil)
	b, err := svc.RecordsXLSX(nil)
	if err != nil {
		t.Fatalf("RecordsXLSX: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("opening workbook: %v", err)
	}
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows("Records")
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("rows = %d, want header only", len(rows))
	}
}

func TestFormatStage(t *testing.T) {
	cases := []struct {
		name string
		tr   entity.StageTrace
		want string
	}{
		{"skipped", entity.StageTrace{Status: constants.StageSkipped}, "skipped"},
		{"ok with duration", entity.StageTrace{Status: constants.StageOK, DurationMs: 5}, "ok 5ms"},
		{
			"failed with error",
			entity.StageTrace{Status: constants.StageFailed, Error: "boom", DurationMs: 7},
			"failed 7ms: boom",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := formatStage(tc.tr); got != tc.want {
				t.Errorf("formatStage = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 140); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
	long := strings.Repeat("a", 200)
	got := truncate(long, 140)
	if !strings.HasSuffix(got, "…") {
		t.Errorf("truncated string missing ellipsis: %q", got[130:])
	}
	if len([]rune(got)) != 140 {
		t.Errorf("truncated rune length = %d, want 140", len([]rune(got)))
	}
}
