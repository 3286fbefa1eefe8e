package logo

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

const (
	defaultTolerance   = 32
	defaultMinCoverage = 0.0005
)

// Signature describes a brand mark by its dominant color. Pages are
// scanned for regions dense in pixels within Tolerance of (R,G,B) per
// channel. MinCoverage is the fraction of sampled page pixels that must
// match before a region is considered at all.
type Signature struct {
	Label       string  `json:"label"`
	R           uint8   `json:"r"`
	G           uint8   `json:"g"`
	B           uint8   `json:"b"`
	Tolerance   uint8   `json:"tolerance"`
	MinCoverage float64 `json:"min_coverage"`
}

// LoadSignatures reads the signature catalog from a JSON file and fills
// in per-signature defaults.
func LoadSignatures(path string) ([]Signature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading signatures: %w", err)
	}

	var sigs []Signature
	if err := json.Unmarshal(data, &sigs); err != nil {
		return nil, fmt.Errorf("parsing signatures: %w", err)
	}

	seen := make(map[string]struct{}, len(sigs))
	for i := range sigs {
		label := strings.TrimSpace(sigs[i].Label)
		if label == "" {
			return nil, fmt.Errorf("signature %d: label is required", i)
		}
		if _, dup := seen[label]; dup {
			return nil, fmt.Errorf("signature %q: duplicate label", label)
		}
		seen[label] = struct{}{}
		sigs[i].Label = label

		if sigs[i].Tolerance == 0 {
			sigs[i].Tolerance = defaultTolerance
		}
		if sigs[i].MinCoverage <= 0 {
			sigs[i].MinCoverage = defaultMinCoverage
		}
		if sigs[i].MinCoverage >= 1 {
			return nil, fmt.Errorf("signature %q: min_coverage must be below 1", label)
		}
	}
	return sigs, nil
}
