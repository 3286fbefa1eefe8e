package preprocess

import (
	"bytes"
	"fmt"

	"github.com/docvision/docvision/constants"
	"github.com/docvision/docvision/internal/common"
)

var (
	magicJPEG = []byte{0xFF, 0xD8}
	magicPNG  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	magicPDF  = []byte("%PDF-")
)

// DetectFormat sniffs the payload's magic bytes. File extensions and
// client-declared content types are never trusted.
func DetectFormat(data []byte) (string, error) {
	switch {
	case bytes.HasPrefix(data, magicPNG):
		return constants.FormatPNG, nil
	case bytes.HasPrefix(data, magicJPEG):
		return constants.FormatJPEG, nil
	case bytes.HasPrefix(data, magicPDF):
		return constants.FormatPDF, nil
	}
	return "", common.NewAppError("UNSUPPORTED_FORMAT",
		fmt.Sprintf("payload is not png, jpeg or pdf (%d bytes)", len(data)),
		common.ErrUnsupportedFormat)
}
