package constants

// StageStatus is the canonical outcome for a pipeline stage.
type StageStatus string

// Stable values (these exact strings appear in cached records).
const (
	StageOK      StageStatus = "ok"      // stage produced a result
	StageFailed  StageStatus = "failed"  // stage ran and errored
	StageSkipped StageStatus = "skipped" // stage not configured
)

// Stage names as they appear in records and logs.
const (
	StageLogo   = "logo"
	StageOCR    = "ocr"
	StageVision = "vision"
)
