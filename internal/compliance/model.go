package compliance

import (
	"errors"
	"fmt"
	"time"
)

// Category is one compliance concern tracked per vehicle.
type Category string

const (
	CategoryEmissions    Category = "emissions"
	CategorySafety       Category = "safety"
	CategoryRegistration Category = "registration"
	CategoryInsurance    Category = "insurance"
	CategoryInspections  Category = "inspections"
)

// Categories returns every category in fixed report order.
func Categories() []Category {
	return []Category{
		CategoryEmissions,
		CategorySafety,
		CategoryRegistration,
		CategoryInsurance,
		CategoryInspections,
	}
}

// Severity orders alerts by urgency.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank maps severity to a sort key, critical first. Unknown severities sort
// last.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	}
	return 4
}

// AlertType classifies what kind of condition an alert reports.
type AlertType string

const (
	AlertExpiration    AlertType = "expiration"
	AlertViolation     AlertType = "violation"
	AlertRenewal       AlertType = "renewal"
	AlertInspectionDue AlertType = "inspection_due"
	AlertSafetyRating  AlertType = "safety_rating"
)

// Alert is one compliance finding for a vehicle. An alert is active while
// ResolvedAt is nil; resolution is terminal.
type Alert struct {
	ID             string     `json:"id"`
	Key            string     `json:"key"`
	VehicleID      string     `json:"vehicle_id"`
	VIN            string     `json:"vin"`
	Type           AlertType  `json:"alert_type"`
	Severity       Severity   `json:"severity"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	DueDate        *time.Time `json:"due_date,omitempty"`
	DaysUntilDue   int        `json:"days_until_due"`
	Source         Category   `json:"source"`
	ActionRequired string     `json:"action_required,omitempty"`
	EstimatedCost  float64    `json:"estimated_cost,omitempty"`
	Jurisdictions  []string   `json:"jurisdictions,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

// Active reports whether the alert has not been resolved.
func (a *Alert) Active() bool { return a.ResolvedAt == nil }

// AlertKey builds the stable identity of an alert. One vehicle can hold at
// most one active alert per (type, source) pair; repeated checks refresh the
// existing alert instead of stacking duplicates.
func AlertKey(vin string, t AlertType, source Category) string {
	return vin + "|" + string(t) + "|" + string(source)
}

// State is the overall compliance state of a vehicle.
type State string

const (
	StateCompliant    State = "compliant"
	StateWarning      State = "warning"
	StateCritical     State = "critical"
	StateNonCompliant State = "non_compliant"
)

// CategoryState is the per-category sub-state inside a Status.
type CategoryState string

const (
	CatOK        CategoryState = "ok"
	CatExpiring  CategoryState = "expiring"
	CatViolation CategoryState = "violation"
	CatUnknown   CategoryState = "unknown"
)

// CategoryStatus is one category's slice of a vehicle's status.
type CategoryStatus struct {
	State      CategoryState `json:"state"`
	Score      int           `json:"score"`
	AlertCount int           `json:"alert_count"`
}

// Status is the full compliance picture for one vehicle at CheckedAt. It is
// overwritten wholesale on every successful check.
type Status struct {
	VehicleID    string                      `json:"vehicle_id"`
	VIN          string                      `json:"vin"`
	OverallScore int                         `json:"overall_score"`
	State        State                       `json:"state"`
	Categories   map[Category]CategoryStatus `json:"categories"`
	CheckedAt    time.Time                   `json:"checked_at"`
}

// Thresholds are the day windows that drive alert severity. An expiry within
// CriticalDays is critical; within HighDays it alerts at the category's
// near-term severity; within MediumDays it gets a renewal reminder.
type Thresholds struct {
	CriticalDays int `json:"critical_days"`
	HighDays     int `json:"high_days"`
	MediumDays   int `json:"medium_days"`
}

// DefaultThresholds returns the standard 7/30/90 day windows.
func DefaultThresholds() Thresholds {
	return Thresholds{CriticalDays: 7, HighDays: 30, MediumDays: 90}
}

// Validate rejects threshold sets that are not strictly increasing positive
// windows.
func (t Thresholds) Validate() error {
	var errs []error
	if t.CriticalDays <= 0 {
		errs = append(errs, fmt.Errorf("critical days must be positive, got %d", t.CriticalDays))
	}
	if t.HighDays <= t.CriticalDays {
		errs = append(errs, fmt.Errorf("high days (%d) must exceed critical days (%d)", t.HighDays, t.CriticalDays))
	}
	if t.MediumDays <= t.HighDays {
		errs = append(errs, fmt.Errorf("medium days (%d) must exceed high days (%d)", t.MediumDays, t.HighDays))
	}
	return errors.Join(errs...)
}
