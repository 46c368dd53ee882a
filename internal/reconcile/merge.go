package reconcile

import (
	"fmt"
	"sort"
	"time"

	"github.com/linnemanlabs/fleetwatch/internal/fleet"
)

// Policy selects which record wins when multiple records populate the same
// field for one VIN.
type Policy string

const (
	// LastWriteWins takes each field from the most recently ingested record
	// that populates it.
	LastWriteWins Policy = "last_write_wins"

	// HighestConfidence takes each field from the record with the highest
	// extraction confidence that populates it; equal confidence falls back
	// to ingest order, later wins.
	HighestConfidence Policy = "highest_confidence"
)

// ParsePolicy validates a policy string from configuration.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case LastWriteWins, HighestConfidence:
		return Policy(s), nil
	case "":
		return LastWriteWins, nil
	}
	return "", fmt.Errorf("unknown merge policy %q (want %s or %s)", s, LastWriteWins, HighestConfidence)
}

// merger applies records field by field, tracking whether any field saw two
// distinct non-empty values.
type merger struct {
	conflict bool
}

func (m *merger) str(dst *string, val string) {
	if val == "" {
		return
	}
	if *dst != "" && *dst != val {
		m.conflict = true
	}
	*dst = val
}

func (m *merger) num(dst *int, val int) {
	if val == 0 {
		return
	}
	if *dst != 0 && *dst != val {
		m.conflict = true
	}
	*dst = val
}

func (m *merger) amount(dst *float64, val float64) {
	if val == 0 {
		return
	}
	if *dst != 0 && *dst != val {
		m.conflict = true
	}
	*dst = val
}

func (m *merger) when(dst **time.Time, val *time.Time) {
	if val == nil {
		return
	}
	if *dst != nil && !(*dst).Equal(*val) {
		m.conflict = true
	}
	t := *val
	*dst = &t
}

// mergeGroup folds one VIN's records into a single vehicle. recs must be in
// ingest order; the policy only reorders which record wins each field, the
// provenance fields (Sources, Confidence, Has* flags) always aggregate over
// the whole group.
func mergeGroup(policy Policy, vin string, recs []fleet.ExtractedRecord) *fleet.ReconciledVehicle {
	v := &fleet.ReconciledVehicle{VIN: vin}

	for _, r := range recs {
		if r.SourceFileName != "" {
			v.Sources = append(v.Sources, r.SourceFileName)
		}
		if r.ExtractionConfidence > v.Confidence {
			v.Confidence = r.ExtractionConfidence
		}
		if r.NeedsReview {
			v.NeedsReview = true
		}
		if r.HasRegistrationData() {
			v.HasRegistration = true
		}
		if r.HasInsuranceData() {
			v.HasInsurance = true
		}
	}

	ordered := recs
	if policy == HighestConfidence {
		ordered = make([]fleet.ExtractedRecord, len(recs))
		copy(ordered, recs)
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].ExtractionConfidence < ordered[j].ExtractionConfidence
		})
	}

	var m merger
	for _, r := range ordered {
		m.str(&v.Make, r.Make)
		m.str(&v.Model, r.Model)
		m.num(&v.Year, r.Year)
		m.str(&v.LicensePlate, r.LicensePlate)
		m.str(&v.TruckNumber, r.TruckNumber)
		m.str(&v.DOTNumber, r.DOTNumber)
		m.str(&v.RegistrationNumber, r.RegistrationNumber)
		m.str(&v.RegistrationState, r.RegistrationState)
		m.when(&v.RegistrationExpiry, r.RegistrationExpiry)
		m.str(&v.InsuranceCarrier, r.InsuranceCarrier)
		m.str(&v.PolicyNumber, r.PolicyNumber)
		m.when(&v.InsuranceExpiry, r.InsuranceExpiry)
		m.amount(&v.CoverageAmount, r.CoverageAmount)
	}
	if m.conflict {
		v.NeedsReview = true
	}

	switch {
	case v.HasRegistration && v.HasInsurance:
		v.Category = fleet.CategoryComplete
	case v.HasRegistration:
		v.Category = fleet.CategoryRegistrationOnly
	case v.HasInsurance:
		v.Category = fleet.CategoryInsuranceOnly
	default:
		v.Category = fleet.CategoryOrphan
	}
	return v
}
