package common

import (
	"bytes"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	"github.com/docvision/docvision/constants"
)

// ValidationError represents validation failures
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field '%s' with value '%v': %s", e.Field, e.Value, e.Message)
}

// Validator provides validation utilities
type Validator struct {
	errors []ValidationError
}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{
		errors: make([]ValidationError, 0),
	}
}

// Field validates a field and collects errors
func (v *Validator) Field(fieldName string, value interface{}, rules ...ValidationRule) *Validator {
	for _, rule := range rules {
		if err := rule(fieldName, value); err != nil {
			v.errors = append(v.errors, *err)
		}
	}
	return v
}

// HasErrors returns true if there are validation errors
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Errors returns all validation errors
func (v *Validator) Errors() []ValidationError {
	return v.errors
}

// ErrorMessage returns a combined error message as string
func (v *Validator) ErrorMessage() string {
	if !v.HasErrors() {
		return ""
	}

	var messages []string
	for _, err := range v.errors {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, "; ")
}

// ValidationRule represents a single validation rule
type ValidationRule func(fieldName string, value interface{}) *ValidationError

// Required - Common validation rules
func Required(fieldName string, value interface{}) *ValidationError {
	if value == nil {
		return &ValidationError{Field: fieldName, Value: value, Message: "is required"}
	}

	switch v := value.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return &ValidationError{Field: fieldName, Value: value, Message: "is required"}
		}
	case []byte:
		if len(v) == 0 {
			return &ValidationError{Field: fieldName, Value: "<bytes>", Message: "is required"}
		}
	}
	return nil
}

// AllowedExtension checks the filename against the upload allowlist.
func AllowedExtension(fieldName string, value interface{}) *ValidationError {
	name, ok := value.(string)
	if !ok {
		return &ValidationError{Field: fieldName, Value: value, Message: "must be a string"}
	}

	ext := constants.NormalizeExt(filepath.Ext(name))
	if _, ok := constants.AllowedExtensions[ext]; !ok {
		return &ValidationError{
			Field:   fieldName,
			Value:   name,
			Message: "extension must be one of pdf, png, jpg, jpeg",
		}
	}
	return nil
}

// MaxBytes limits the upload payload size.
func MaxBytes(max int64) ValidationRule {
	return func(fieldName string, value interface{}) *ValidationError {
		data, ok := value.([]byte)
		if !ok {
			return &ValidationError{Field: fieldName, Value: value, Message: "must be bytes"}
		}

		if int64(len(data)) > max {
			return &ValidationError{
				Field:   fieldName,
				Value:   fmt.Sprintf("%d bytes", len(data)),
				Message: fmt.Sprintf("must be at most %d bytes", max),
			}
		}
		return nil
	}
}

// DimensionBounds checks decoded image dimensions. Payloads whose header
// does not decode are left for the preprocessor to classify.
func DimensionBounds(min, max int) ValidationRule {
	return func(fieldName string, value interface{}) *ValidationError {
		data, ok := value.([]byte)
		if !ok {
			return &ValidationError{Field: fieldName, Value: value, Message: "must be bytes"}
		}

		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil
		}

		if cfg.Width < min || cfg.Height < min {
			return &ValidationError{
				Field:   fieldName,
				Value:   fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
				Message: fmt.Sprintf("must be at least %dx%d pixels", min, min),
			}
		}
		if cfg.Width > max || cfg.Height > max {
			return &ValidationError{
				Field:   fieldName,
				Value:   fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
				Message: fmt.Sprintf("must be at most %dx%d pixels", max, max),
			}
		}
		return nil
	}
}

// UploadLimits carries the per-file gate configured on the server.
type UploadLimits struct {
	MaxImageBytes int64
	MaxPDFBytes   int64
	MinDimension  int
	MaxDimension  int
}

// UploadLimitsFromConfig translates the MB-denominated knobs.
func UploadLimitsFromConfig(cfg ServerConfig) UploadLimits {
	return UploadLimits{
		MaxImageBytes: int64(cfg.MaxImageMB) << 20,
		MaxPDFBytes:   int64(cfg.MaxPDFMB) << 20,
		MinDimension:  cfg.MinDimension,
		MaxDimension:  cfg.MaxDimension,
	}
}

// ValidateUpload applies the upload gate shared by the HTTP API and the
// batch CLI. A failure here never reaches the pipeline.
func ValidateUpload(filename string, data []byte, limits UploadLimits) error {
	v := NewValidator()
	v.Field("filename", filename, Required, AllowedExtension)

	ext := constants.NormalizeExt(filepath.Ext(filename))
	if ext == "pdf" {
		v.Field("file", data, Required, MaxBytes(limits.MaxPDFBytes))
	} else {
		v.Field("file", data, Required, MaxBytes(limits.MaxImageBytes),
			DimensionBounds(limits.MinDimension, limits.MaxDimension))
	}

	if v.HasErrors() {
		return NewAppError("VALIDATION_ERROR", v.ErrorMessage(), ErrInvalidInput)
	}
	return nil
}
