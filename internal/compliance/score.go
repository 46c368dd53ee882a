package compliance

import (
	"strings"
	"time"
)

// Coarse category scores. The per-category score is a documented
// approximation of standing, not a weighted function of alert counts.
const (
	scoreUnknown   = 50
	scoreViolation = 10
	scoreExpiring  = 60
	scoreOK        = 100
)

// OverallState derives a vehicle's state from its active alerts: any
// critical alert makes it critical, any high or medium alert makes it
// warning, otherwise it is compliant. Low severity reminders do not degrade
// the state.
func OverallState(alerts []*Alert) State {
	state := StateCompliant
	for _, a := range alerts {
		if !a.Active() {
			continue
		}
		switch a.Severity {
		case SeverityCritical:
			return StateCritical
		case SeverityHigh, SeverityMedium:
			state = StateWarning
		}
	}
	return state
}

// snapshotStanding reports whether a category's snapshot is present and, if
// so, whether it shows the category in good standing.
func snapshotStanding(cat Category, s VehicleSnapshots) (present, valid bool) {
	switch cat {
	case CategoryEmissions:
		if s.Emissions == nil {
			return false, false
		}
		return true, s.Emissions.Compliant
	case CategorySafety:
		if s.Safety == nil {
			return false, false
		}
		return true, !strings.EqualFold(s.Safety.Rating, "unsatisfactory") && s.Safety.OutOfServiceOrders == 0
	case CategoryRegistration:
		if s.Registration == nil {
			return false, false
		}
		return true, s.Registration.Valid
	case CategoryInsurance:
		if s.Insurance == nil {
			return false, false
		}
		return true, s.Insurance.Active
	case CategoryInspections:
		if s.Inspections == nil {
			return false, false
		}
		return true, s.Inspections.OpenViolations == 0
	}
	return false, false
}

// ScoreCategory computes one category's slice of the status from the cycle's
// snapshot and generated alerts. Unknown categories score 50: missing data
// is neither compliance nor violation.
func ScoreCategory(cat Category, s VehicleSnapshots, alerts []*Alert) CategoryStatus {
	count := 0
	expiring := false
	violation := false
	for _, a := range alerts {
		if a.Source != cat || !a.Active() {
			continue
		}
		count++
		switch a.Type {
		case AlertViolation, AlertSafetyRating:
			violation = true
		case AlertExpiration, AlertInspectionDue, AlertRenewal:
			expiring = true
		}
	}

	present, valid := snapshotStanding(cat, s)
	switch {
	case !present:
		return CategoryStatus{State: CatUnknown, Score: scoreUnknown, AlertCount: count}
	case !valid || violation:
		return CategoryStatus{State: CatViolation, Score: scoreViolation, AlertCount: count}
	case expiring:
		return CategoryStatus{State: CatExpiring, Score: scoreExpiring, AlertCount: count}
	default:
		return CategoryStatus{State: CatOK, Score: scoreOK, AlertCount: count}
	}
}

// ComputeStatus assembles a vehicle's full status for one check cycle. The
// overall score is the mean of the five category scores.
func ComputeStatus(vehicleID, vin string, s VehicleSnapshots, alerts []*Alert, now time.Time) *Status {
	cats := make(map[Category]CategoryStatus, len(Categories()))
	total := 0
	for _, cat := range Categories() {
		cs := ScoreCategory(cat, s, alerts)
		cats[cat] = cs
		total += cs.Score
	}
	return &Status{
		VehicleID:    vehicleID,
		VIN:          vin,
		OverallScore: total / len(cats),
		State:        OverallState(alerts),
		Categories:   cats,
		CheckedAt:    now,
	}
}
