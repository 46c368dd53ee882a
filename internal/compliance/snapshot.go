package compliance

import "time"

// EmissionsSnapshot is the emissions posture reported by a data source.
type EmissionsSnapshot struct {
	Compliant         bool       `json:"compliant"`
	NextInspectionDue *time.Time `json:"next_inspection_due,omitempty"`
	Jurisdictions     []string   `json:"jurisdictions,omitempty"`
}

// SafetySnapshot is the carrier safety posture for a vehicle's operator.
type SafetySnapshot struct {
	Rating             string `json:"rating"`
	OutOfServiceOrders int    `json:"out_of_service_orders"`
}

// RegistrationSnapshot is the registration standing for a vehicle.
type RegistrationSnapshot struct {
	Valid     bool       `json:"valid"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	State     string     `json:"state,omitempty"`
}

// InsuranceSnapshot is the coverage standing for a vehicle.
type InsuranceSnapshot struct {
	Active         bool       `json:"active"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	Carrier        string     `json:"carrier,omitempty"`
	CoverageAmount float64    `json:"coverage_amount,omitempty"`
}

// InspectionSnapshot is the periodic inspection standing for a vehicle.
type InspectionSnapshot struct {
	LastInspection *time.Time `json:"last_inspection,omitempty"`
	NextDue        *time.Time `json:"next_due,omitempty"`
	OpenViolations int        `json:"open_violations"`
}

// VehicleSnapshots bundles one check cycle's inputs. A nil category means
// that source was unavailable or returned nothing; unknown is never treated
// as non-compliant.
type VehicleSnapshots struct {
	Emissions    *EmissionsSnapshot    `json:"emissions,omitempty"`
	Safety       *SafetySnapshot       `json:"safety,omitempty"`
	Registration *RegistrationSnapshot `json:"registration,omitempty"`
	Insurance    *InsuranceSnapshot    `json:"insurance,omitempty"`
	Inspections  *InspectionSnapshot   `json:"inspections,omitempty"`
}

// Empty reports whether every category is unknown.
func (s VehicleSnapshots) Empty() bool {
	return s.Emissions == nil && s.Safety == nil && s.Registration == nil &&
		s.Insurance == nil && s.Inspections == nil
}

// SnapshotEnvelope carries a single category's snapshot, as returned by one
// data source. At most one field is set.
type SnapshotEnvelope struct {
	Emissions    *EmissionsSnapshot    `json:"emissions,omitempty"`
	Safety       *SafetySnapshot       `json:"safety,omitempty"`
	Registration *RegistrationSnapshot `json:"registration,omitempty"`
	Insurance    *InsuranceSnapshot    `json:"insurance,omitempty"`
	Inspections  *InspectionSnapshot   `json:"inspections,omitempty"`
}

// Empty reports whether the envelope carries no snapshot.
func (e *SnapshotEnvelope) Empty() bool {
	return e == nil || (e.Emissions == nil && e.Safety == nil && e.Registration == nil &&
		e.Insurance == nil && e.Inspections == nil)
}

// ApplyTo copies whichever snapshot the envelope carries into s.
func (e *SnapshotEnvelope) ApplyTo(s *VehicleSnapshots) {
	if e == nil {
		return
	}
	if e.Emissions != nil {
		s.Emissions = e.Emissions
	}
	if e.Safety != nil {
		s.Safety = e.Safety
	}
	if e.Registration != nil {
		s.Registration = e.Registration
	}
	if e.Insurance != nil {
		s.Insurance = e.Insurance
	}
	if e.Inspections != nil {
		s.Inspections = e.Inspections
	}
}
