package gateway

import "strings"

// Capabilities the picker can select a backend for.
const (
	CapabilityOCR        = "ocr"
	CapabilityEnrichment = "enrichment"
	CapabilityERP        = "erp"
)

// OCR backends.
const (
	BackendGoogleVision = "google_vision"
	BackendAWSTextract  = "aws_textract"
	BackendTesseract    = "tesseract"
)

// Enrichment backends.
const (
	BackendClearbit       = "clearbit"
	BackendPeopleDataLabs = "people_data_labs"
)

// ERP backends.
const (
	BackendSAPConnector = "sap_connector"
	BackendDefault      = "default_tool"
)

// SelectBackend picks the concrete backend for a capability from the
// call context. The heuristic is deliberately simple: file extension
// drives OCR selection, vendor naming drives enrichment, and ERP is
// pinned to the single connector. The choice is recorded on the run
// for audit, not used for routing beyond the adapter.
func SelectBackend(capability string, callCtx map[string]string) string {
	switch capability {
	case CapabilityOCR:
		filename := strings.ToLower(callCtx["filename"])
		switch {
		case strings.HasSuffix(filename, ".png"), strings.HasSuffix(filename, ".jpg"):
			return BackendGoogleVision
		case strings.HasSuffix(filename, ".pdf"):
			return BackendAWSTextract
		default:
			return BackendTesseract
		}

	case CapabilityEnrichment:
		vendor := strings.ToUpper(callCtx["vendor"])
		if strings.Contains(vendor, "CORP") {
			return BackendClearbit
		}
		return BackendPeopleDataLabs

	case CapabilityERP:
		return BackendSAPConnector
	}

	return BackendDefault
}
