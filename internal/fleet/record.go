package fleet

import (
	"strings"
	"time"
)

// DocumentType identifies what kind of document a record was extracted from.
type DocumentType string

const (
	DocRegistration DocumentType = "registration"
	DocInsurance    DocumentType = "insurance"
	DocTitle        DocumentType = "title"
	DocOther        DocumentType = "other"
)

// ParseDocumentType maps free-form document type strings onto the known set.
// Anything unrecognized becomes DocOther rather than an error; upstream
// extraction is fuzzy and a bad label should not reject the record.
func ParseDocumentType(s string) DocumentType {
	switch DocumentType(strings.ToLower(strings.TrimSpace(s))) {
	case DocRegistration:
		return DocRegistration
	case DocInsurance:
		return DocInsurance
	case DocTitle:
		return DocTitle
	default:
		return DocOther
	}
}

// ExtractedRecord is one document's worth of extracted vehicle data. Records
// are immutable once ingested; reconciliation reads them, never edits them.
type ExtractedRecord struct {
	VIN          string       `json:"vin"`
	DocumentType DocumentType `json:"document_type"`

	Make         string `json:"make,omitempty"`
	Model        string `json:"model,omitempty"`
	Year         int    `json:"year,omitempty"`
	LicensePlate string `json:"license_plate,omitempty"`
	TruckNumber  string `json:"truck_number,omitempty"`
	DOTNumber    string `json:"dot_number,omitempty"`

	RegistrationNumber string     `json:"registration_number,omitempty"`
	RegistrationState  string     `json:"registration_state,omitempty"`
	RegistrationExpiry *time.Time `json:"registration_expiry,omitempty"`

	InsuranceCarrier string     `json:"insurance_carrier,omitempty"`
	PolicyNumber     string     `json:"policy_number,omitempty"`
	InsuranceExpiry  *time.Time `json:"insurance_expiry,omitempty"`
	CoverageAmount   float64    `json:"coverage_amount,omitempty"`

	ExtractionConfidence float64 `json:"extraction_confidence"`
	SourceFileName       string  `json:"source_file_name,omitempty"`
	NeedsReview          bool    `json:"needs_review,omitempty"`
}

// HasRegistrationData reports whether the record carries registration
// evidence: either the document itself is a registration or any registration
// field was extracted.
func (r *ExtractedRecord) HasRegistrationData() bool {
	if r.DocumentType == DocRegistration {
		return true
	}
	return r.RegistrationNumber != "" || r.RegistrationState != "" || r.RegistrationExpiry != nil
}

// HasInsuranceData reports whether the record carries insurance evidence.
func (r *ExtractedRecord) HasInsuranceData() bool {
	if r.DocumentType == DocInsurance {
		return true
	}
	return r.InsuranceCarrier != "" || r.PolicyNumber != "" || r.InsuranceExpiry != nil || r.CoverageAmount > 0
}

// NormalizeVIN canonicalizes a VIN for use as the reconciliation key:
// surrounding whitespace stripped, letters upper-cased. Returns "" for VINs
// that are empty after normalization; callers treat "" as unreconcilable.
func NormalizeVIN(vin string) string {
	return strings.ToUpper(strings.TrimSpace(vin))
}

// Batch is one upload session's records. Batches are immutable and
// accumulate append-only; reconciliation order follows ingest order.
type Batch struct {
	ID         string            `json:"id"`
	ReceivedAt time.Time         `json:"received_at"`
	Records    []ExtractedRecord `json:"records"`
	FileCount  int               `json:"file_count"`
}
