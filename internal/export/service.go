// Package export renders batch results as an XLSX report.
package export

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/docvision/docvision/internal/entity"
)

// Row pairs one input file with its analysis outcome. Record is nil when
// the file never produced one; Err then says why.
type Row struct {
	SourcePath string
	Record     *entity.PipelineRecord
	Err        string
}

// Service produces XLSX bytes from analysis results.
type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// RecordsXLSX returns an XLSX workbook (as bytes) with one row per input
// file, successes and failures alike.
func (s *Service) RecordsXLSX(rows []Row) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	const sheet = "Records"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)

	headers := []string{
		"File",
		"Content Hash",
		"Format",
		"Dimensions",
		"Logo Stage",
		"OCR Stage",
		"Vision Stage",
		"Document Type",
		"Logos",
		"OCR Text",
		"Extracted Fields",
		"Reasoning",
		"Created At",
		"Error",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	rowIdx := 2
	for _, r := range rows {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, rowIdx)
			_ = f.SetCellValue(sheet, cell, v)
		}

		write(1, r.SourcePath)
		write(14, truncate(r.Err, 140))

		if rec := r.Record; rec != nil {
			write(2, rec.ContentHash)
			write(3, rec.SourceFormat)
			write(4, fmt.Sprintf("%dx%d", rec.Width, rec.Height))
			write(5, formatStage(rec.Stages.Logo))
			write(6, formatStage(rec.Stages.Ocr))
			write(7, formatStage(rec.Stages.Vision))
			if rec.Vision != nil {
				write(8, rec.Vision.DocumentType)
				write(11, truncate(formatFields(rec.Vision.Fields), 140))
				write(12, truncate(rec.Vision.Reasoning, 140))
			}
			write(9, formatLogos(rec.Logos))
			if rec.Ocr != nil {
				write(10, truncate(rec.Ocr.FullText, 140))
			}
			if !rec.CreatedAt.IsZero() {
				write(13, rec.CreatedAt.UTC().Format(time.RFC3339))
			}
		}

		rowIdx++
	}

	_ = f.SetColWidth(sheet, "A", "A", 48) // path
	_ = f.SetColWidth(sheet, "B", "B", 24) // hash
	_ = f.SetColWidth(sheet, "C", "D", 10)
	_ = f.SetColWidth(sheet, "E", "G", 18) // stages
	_ = f.SetColWidth(sheet, "H", "H", 16)
	_ = f.SetColWidth(sheet, "I", "I", 28)
	_ = f.SetColWidth(sheet, "J", "L", 48)
	_ = f.SetColWidth(sheet, "M", "M", 22)
	_ = f.SetColWidth(sheet, "N", "N", 40)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"rows", len(rows),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func formatStage(tr entity.StageTrace) string {
	s := string(tr.Status)
	if tr.DurationMs > 0 {
		s += fmt.Sprintf(" %dms", tr.DurationMs)
	}
	if tr.Error != "" {
		s += ": " + truncate(tr.Error, 60)
	}
	return s
}

func formatLogos(logos []entity.LogoDetection) string {
	if len(logos) == 0 {
		return ""
	}
	parts := make([]string, 0, len(logos))
	for _, l := range logos {
		parts = append(parts, fmt.Sprintf("%s (%.2f)", l.Label, l.Confidence))
	}
	return strings.Join(parts, "; ")
}

func formatFields(fields map[string]string) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+fields[k])
	}
	return strings.Join(parts, "; ")
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
