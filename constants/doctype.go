package constants

import (
	"strings"
)

type DocumentType string

const (
	DocPassport DocumentType = "passport"
	DocAadhaar  DocumentType = "aadhaar"
	DocPAN      DocumentType = "pan"
	DocContract DocumentType = "contract"
	DocInvoice  DocumentType = "invoice"
	DocReceipt  DocumentType = "receipt"
	DocUnknown  DocumentType = "unknown"
)

var allDocumentTypes = []DocumentType{
	DocPassport,
	DocAadhaar,
	DocPAN,
	DocContract,
	DocInvoice,
	DocReceipt,
	DocUnknown,
}

func DocumentTypes() []string {
	result := make([]string, len(allDocumentTypes))
	for i, dt := range allDocumentTypes {
		result[i] = string(dt)
	}
	return result
}

func CanonicalizeDocType(input string) (DocumentType, bool) {
	if input == "" {
		return DocUnknown, false
	}

	normalized := strings.ToLower(strings.TrimSpace(input))

	// synonyms map
	synonyms := map[string]DocumentType{
		"aadhar":           DocAadhaar,
		"aadhaar card":     DocAadhaar,
		"pan card":         DocPAN,
		"bill":             DocInvoice,
		"tax invoice":      DocInvoice,
		"purchase receipt": DocReceipt,
		"agreement":        DocContract,
		"travel document":  DocPassport,
	}

	if dt, ok := synonyms[normalized]; ok {
		return dt, true
	}

	// check if it matches any known type string
	for _, dt := range allDocumentTypes {
		if normalized == strings.ToLower(string(dt)) {
			return dt, true
		}
	}

	return DocUnknown, false
}
