package vision

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/docvision/docvision/constants"
	"github.com/docvision/docvision/internal/entity"
)

var reJSONObject = regexp.MustCompile(`\{[\s\S]*\}`)

// Keys models use for the same concepts, mapped to the schema names.
var fieldSynonyms = map[string]string{
	"type":             "document_type",
	"doc_type":         "document_type",
	"documenttype":     "document_type",
	"explanation":      "reasoning",
	"fields":           "extracted_textfields",
	"extracted_fields": "extracted_textfields",
	"text_fields":      "extracted_textfields",
}

// StripCodeFences removes the markdown fences models wrap JSON in despite
// being told not to.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ExtractJSONObject pulls the outermost {...} out of chatter around it.
func ExtractJSONObject(s string) (string, bool) {
	if m := reJSONObject.FindString(s); m != "" {
		return m, true
	}
	return "", false
}

// SanitizeModelJSON renames synonym keys, coerces scalar field values to
// strings and drops whatever cannot validate, so a slightly off response
// can still pass the schema. Returns an error only when the payload is
// not a JSON object at all.
func SanitizeModelJSON(doc []byte) ([]byte, []string, error) {
	var m map[string]any
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, nil, err
	}

	var dropped []string

	for from, to := range fieldSynonyms {
		v, ok := m[from]
		if !ok {
			continue
		}
		if _, exists := m[to]; !exists {
			m[to] = v
		}
		delete(m, from)
	}

	out := make(map[string]any, 3)

	if v, ok := m["document_type"]; ok {
		if s, scalar := coerceScalar(v); scalar && strings.TrimSpace(s) != "" {
			out["document_type"] = strings.TrimSpace(s)
		} else {
			dropped = append(dropped, "document_type")
		}
	}

	if v, ok := m["reasoning"]; ok {
		if s, scalar := coerceScalar(v); scalar && strings.TrimSpace(s) != "" {
			out["reasoning"] = strings.TrimSpace(s)
		} else {
			dropped = append(dropped, "reasoning")
		}
	}

	fields := map[string]any{}
	if raw, ok := m["extracted_textfields"].(map[string]any); ok {
		for k, v := range raw {
			s, scalar := coerceScalar(v)
			if !scalar || strings.TrimSpace(s) == "" {
				dropped = append(dropped, "extracted_textfields."+k)
				continue
			}
			fields[k] = strings.TrimSpace(s)
		}
	}
	out["extracted_textfields"] = fields

	for k := range m {
		switch k {
		case "document_type", "reasoning", "extracted_textfields":
		default:
			dropped = append(dropped, k)
		}
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal sanitized doc: %w", err)
	}
	return b, dropped, nil
}

func coerceScalar(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

// FallbackResult stands in when the model's output cannot be coerced into
// the schema. The stage still counts as ok: the model answered, just not
// in a parseable form, and that is worth recording over failing the run.
func FallbackResult() *entity.VisionResult {
	return &entity.VisionResult{
		DocumentType: string(constants.DocUnknown),
		Reasoning:    "model output could not be parsed as JSON",
		Fields:       map[string]string{},
	}
}
