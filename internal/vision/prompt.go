package vision

import "strings"

// buildSystemPrompt describes the classification task. The JSON-only
// instruction is repeated here because response_format alone is not
// honored by every OpenAI-compatible gateway.
func buildSystemPrompt(docTypes []string) string {
	parts := []string{
		"You are a document understanding system for scanned pages.",
		"Classify the page into exactly one of: " + strings.Join(docTypes, ", ") + ".",
		"Weigh visual layout (logos, headers, stamps, formatting) together with the page text.",
		"Prioritize strong, document-specific identifiers over generic wording.",
		"Never classify a page as aadhaar unless a clear 12-digit Aadhaar number or UIDAI reference is present.",
		"Invoices and receipts are different document types.",
		"If the evidence is insufficient, answer \"unknown\" rather than guessing.",
		"Extract every legible field into extracted_textfields using sensible snake_case names and string values.",
		"In 'reasoning', give 2-3 brief lines naming the visual or textual evidence behind the decision.",
		"Return VALID JSON ONLY. No text outside JSON. No markdown or code fences.",
		"Never output null. If a field is not present, omit it.",
	}
	return strings.Join(parts, " ")
}

const userInstruction = "Classify this document page and return ONLY JSON matching the provided schema."
