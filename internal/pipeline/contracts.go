package pipeline

import (
	"context"
	"image"

	"github.com/docvision/docvision/internal/entity"
	"github.com/docvision/docvision/internal/preprocess"
)

// The pipeline depends on the narrowest view of each collaborator. Any of
// them except the preprocessor may be absent; the matching stage is then
// recorded as skipped.

type Preprocessor interface {
	Preprocess(ctx context.Context, data []byte) (*preprocess.CanonicalPage, error)
}

type LogoDetector interface {
	Detect(ctx context.Context, img *image.RGBA) ([]entity.LogoDetection, error)
}

type OcrClient interface {
	Recognize(ctx context.Context, pagePNG []byte) (*entity.OcrResult, error)
}

type VisionClient interface {
	Extract(ctx context.Context, pagePNG []byte) (*entity.VisionResult, error)
}

type RecordCache interface {
	Get(ctx context.Context, contentHash, version string) (*entity.PipelineRecord, bool)
	Put(ctx context.Context, rec *entity.PipelineRecord)
}
