package cache

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/docvision/docvision/constants"
	"github.com/docvision/docvision/internal/entity"
)

// mockStore lets each test override exactly the calls it cares about.
type mockStore struct {
	getFn func(ctx context.Context, key string) ([]byte, error)
	setFn func(ctx context.Context, key string, value []byte) error
}

func (m *mockStore) Get(ctx context.Context, key string) ([]byte, error) {
	if m.getFn != nil {
		return m.getFn(ctx, key)
	}
	return nil, ErrKeyNotFound
}

func (m *mockStore) Set(ctx context.Context, key string, value []byte) error {
	if m.setFn != nil {
		return m.setFn(ctx, key, value)
	}
	return nil
}

func (m *mockStore) Ping(context.Context) error { return nil }
func (m *mockStore) Close() error               { return nil }

func newTestRecordCache(t *testing.T, store Store) *RecordCache {
	t.Helper()
	return NewRecordCache(store, slog.Default())
}

func newTestRecord(t *testing.T, hash, version string) *entity.PipelineRecord {
	t.Helper()
	return &entity.PipelineRecord{
		ContentHash:     hash,
		PipelineVersion: version,
		SourceFormat:    constants.FormatPNG,
		Width:           1024,
		Height:          1024,
		Stages: entity.StageSet{
			Logo:   entity.StageTrace{Status: constants.StageSkipped},
			Ocr:    entity.StageTrace{Status: constants.StageOK, DurationMs: 12},
			Vision: entity.StageTrace{Status: constants.StageOK, DurationMs: 80},
		},
		Ocr: &entity.OcrResult{FullText: "INVOICE #42"},
		Vision: &entity.VisionResult{
			DocumentType: "invoice",
			Reasoning:    "header says invoice",
			Fields:       map[string]string{"invoice_number": "42"},
		},
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}
