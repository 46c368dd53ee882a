package fleet

import "time"

// Category classifies how completely a reconciled vehicle is documented.
type Category string

const (
	CategoryComplete         Category = "complete"
	CategoryRegistrationOnly Category = "registration_only"
	CategoryInsuranceOnly    Category = "insurance_only"
	CategoryOrphan           Category = "orphan"
)

// ReconciledVehicle is the merged view of every record sharing one VIN.
// Field values follow the engine's merge policy; provenance is kept in
// Sources so a reviewer can trace each vehicle back to its documents.
type ReconciledVehicle struct {
	VIN          string   `json:"vin"`
	Category     Category `json:"category"`
	Make         string   `json:"make,omitempty"`
	Model        string   `json:"model,omitempty"`
	Year         int      `json:"year,omitempty"`
	LicensePlate string   `json:"license_plate,omitempty"`
	TruckNumber  string   `json:"truck_number,omitempty"`
	DOTNumber    string   `json:"dot_number,omitempty"`

	RegistrationNumber string     `json:"registration_number,omitempty"`
	RegistrationState  string     `json:"registration_state,omitempty"`
	RegistrationExpiry *time.Time `json:"registration_expiry,omitempty"`

	InsuranceCarrier string     `json:"insurance_carrier,omitempty"`
	PolicyNumber     string     `json:"policy_number,omitempty"`
	InsuranceExpiry  *time.Time `json:"insurance_expiry,omitempty"`
	CoverageAmount   float64    `json:"coverage_amount,omitempty"`

	HasRegistration bool `json:"has_registration"`
	HasInsurance    bool `json:"has_insurance"`
	NeedsReview     bool `json:"needs_review"`

	// Sources lists the file names of every contributing record, in
	// ingest order, duplicates included.
	Sources []string `json:"sources,omitempty"`

	// Confidence is the highest extraction confidence seen among the
	// contributing records.
	Confidence float64 `json:"confidence"`
}

// Summary aggregates a reconciliation pass for reporting. TotalVehicles
// counts every distinct VIN, orphans included; the score denominator
// excludes orphans.
type Summary struct {
	TotalVehicles       int `json:"total_vehicles"`
	FullyDocumented     int `json:"fully_documented"`
	MissingInsurance    int `json:"missing_insurance"`
	MissingRegistration int `json:"missing_registration"`
	Unreconciled        int `json:"unreconciled"`

	// ReconciliationScore is the percentage of documentable vehicles that
	// are fully documented, rounded to the nearest whole point.
	ReconciliationScore int `json:"reconciliation_score"`
}

// ReconciliationResult is one full pass over all ingested batches. Each
// vehicle lands in exactly one bucket matching its Category.
type ReconciliationResult struct {
	Complete         []*ReconciledVehicle `json:"complete"`
	RegistrationOnly []*ReconciledVehicle `json:"registration_only"`
	InsuranceOnly    []*ReconciledVehicle `json:"insurance_only"`
	Orphans          []*ReconciledVehicle `json:"orphans"`
	Summary          Summary              `json:"summary"`
	RanAt            time.Time            `json:"ran_at"`
}
