package compliance

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/oklog/ulid/v2"
)

// noDueDate is the sentinel daysUntil returns when no date is on file. A
// missing date means "not due", never "overdue"; no rule may fire on it.
const noDueDate = 999

// daysUntil returns whole days from now until due, rounded up. Negative
// values mean the date has passed.
func daysUntil(due *time.Time, now time.Time) int {
	if due == nil || due.IsZero() {
		return noDueDate
	}
	return int(math.Ceil(due.Sub(now).Hours() / 24))
}

// inDays phrases a day count for alert descriptions.
func inDays(d int) string {
	switch {
	case d < 0:
		return fmt.Sprintf("%d days overdue", -d)
	case d == 0:
		return "due today"
	case d == 1:
		return "due in 1 day"
	default:
		return fmt.Sprintf("due in %d days", d)
	}
}

// Generator applies the alert rule table to vehicle snapshots. Rules are
// deterministic: the same snapshots and clock always produce the same alert
// set (fresh IDs aside).
type Generator struct {
	thresholds Thresholds
}

// NewGenerator creates a generator. Thresholds must already be validated;
// a bad window set here is a wiring bug.
func NewGenerator(t Thresholds) *Generator {
	if err := t.Validate(); err != nil {
		panic(xerrors.New("invalid thresholds: " + err.Error()))
	}
	return &Generator{thresholds: t}
}

// Thresholds reports the configured windows.
func (g *Generator) Thresholds() Thresholds { return g.thresholds }

// Generate produces the active alert set implied by one cycle's snapshots.
// Nil categories produce nothing: absence of data is not non-compliance.
func (g *Generator) Generate(vehicleID, vin string, s VehicleSnapshots, now time.Time) []*Alert {
	var alerts []*Alert
	alerts = append(alerts, g.emissionsAlerts(vehicleID, vin, s.Emissions, now)...)
	alerts = append(alerts, g.safetyAlerts(vehicleID, vin, s.Safety, now)...)
	alerts = append(alerts, g.registrationAlerts(vehicleID, vin, s.Registration, now)...)
	alerts = append(alerts, g.insuranceAlerts(vehicleID, vin, s.Insurance, now)...)
	alerts = append(alerts, g.inspectionAlerts(vehicleID, vin, s.Inspections, now)...)
	return alerts
}

// nearTermSeverity picks the severity for a due-window hit: critical inside
// the critical window, otherwise the category's own near-term severity.
func (g *Generator) nearTermSeverity(d int, otherwise Severity) Severity {
	if d <= g.thresholds.CriticalDays {
		return SeverityCritical
	}
	return otherwise
}

func baseAlert(vehicleID, vin string, typ AlertType, source Category, now time.Time) *Alert {
	return &Alert{
		ID:        ulid.Make().String(),
		Key:       AlertKey(vin, typ, source),
		VehicleID: vehicleID,
		VIN:       vin,
		Type:      typ,
		Source:    source,
		CreatedAt: now,
	}
}

func (g *Generator) emissionsAlerts(vehicleID, vin string, s *EmissionsSnapshot, now time.Time) []*Alert {
	if s == nil {
		return nil
	}
	var out []*Alert
	if !s.Compliant {
		a := baseAlert(vehicleID, vin, AlertViolation, CategoryEmissions, now)
		a.Severity = SeverityCritical
		a.Title = "Emissions non-compliant"
		a.Description = "Vehicle is out of emissions compliance."
		a.ActionRequired = "Schedule emissions testing and corrective repairs"
		a.Jurisdictions = s.Jurisdictions
		out = append(out, a)
	}
	if d := daysUntil(s.NextInspectionDue, now); d != noDueDate && d <= g.thresholds.HighDays {
		a := baseAlert(vehicleID, vin, AlertInspectionDue, CategoryEmissions, now)
		a.Severity = g.nearTermSeverity(d, SeverityHigh)
		a.Title = "Emissions inspection due"
		a.Description = fmt.Sprintf("Emissions inspection %s (%s).", inDays(d), s.NextInspectionDue.Format("2006-01-02"))
		due := *s.NextInspectionDue
		a.DueDate = &due
		a.DaysUntilDue = d
		a.ActionRequired = "Book an emissions inspection"
		a.Jurisdictions = s.Jurisdictions
		out = append(out, a)
	}
	return out
}

func (g *Generator) safetyAlerts(vehicleID, vin string, s *SafetySnapshot, now time.Time) []*Alert {
	if s == nil || !strings.EqualFold(s.Rating, "unsatisfactory") {
		return nil
	}
	a := baseAlert(vehicleID, vin, AlertSafetyRating, CategorySafety, now)
	a.Severity = SeverityCritical
	a.Title = "Unsatisfactory safety rating"
	a.Description = fmt.Sprintf("Carrier safety rating is %q with %d out-of-service orders.", s.Rating, s.OutOfServiceOrders)
	a.ActionRequired = "Review the carrier safety management plan"
	return []*Alert{a}
}

func (g *Generator) registrationAlerts(vehicleID, vin string, s *RegistrationSnapshot, now time.Time) []*Alert {
	if s == nil {
		return nil
	}
	var out []*Alert
	if !s.Valid {
		a := baseAlert(vehicleID, vin, AlertViolation, CategoryRegistration, now)
		a.Severity = SeverityCritical
		a.Title = "Registration invalid"
		a.Description = "Vehicle registration is not valid."
		if s.State != "" {
			a.Description = fmt.Sprintf("Vehicle registration is not valid in %s.", s.State)
		}
		a.ActionRequired = "Renew or correct the vehicle registration"
		out = append(out, a)
	}
	switch d := daysUntil(s.ExpiresAt, now); {
	case d == noDueDate:
	case d <= g.thresholds.HighDays:
		a := baseAlert(vehicleID, vin, AlertExpiration, CategoryRegistration, now)
		a.Severity = g.nearTermSeverity(d, SeverityMedium)
		a.Title = "Registration expiring"
		a.Description = fmt.Sprintf("Registration %s (%s).", inDays(d), s.ExpiresAt.Format("2006-01-02"))
		due := *s.ExpiresAt
		a.DueDate = &due
		a.DaysUntilDue = d
		a.ActionRequired = "Renew the vehicle registration"
		out = append(out, a)
	case d <= g.thresholds.MediumDays:
		a := baseAlert(vehicleID, vin, AlertRenewal, CategoryRegistration, now)
		a.Severity = SeverityLow
		a.Title = "Registration renewal approaching"
		a.Description = fmt.Sprintf("Registration %s (%s).", inDays(d), s.ExpiresAt.Format("2006-01-02"))
		due := *s.ExpiresAt
		a.DueDate = &due
		a.DaysUntilDue = d
		a.ActionRequired = "Plan the registration renewal"
		out = append(out, a)
	}
	return out
}

func (g *Generator) insuranceAlerts(vehicleID, vin string, s *InsuranceSnapshot, now time.Time) []*Alert {
	if s == nil {
		return nil
	}
	policy := "Insurance policy"
	if s.Carrier != "" {
		policy = fmt.Sprintf("Insurance policy with %s", s.Carrier)
	}

	var out []*Alert
	switch d := daysUntil(s.ExpiresAt, now); {
	case d == noDueDate:
	case d <= g.thresholds.HighDays:
		a := baseAlert(vehicleID, vin, AlertExpiration, CategoryInsurance, now)
		a.Severity = g.nearTermSeverity(d, SeverityHigh)
		a.Title = "Insurance policy expiring"
		a.Description = fmt.Sprintf("%s %s (%s).", policy, inDays(d), s.ExpiresAt.Format("2006-01-02"))
		due := *s.ExpiresAt
		a.DueDate = &due
		a.DaysUntilDue = d
		a.ActionRequired = "Renew the insurance policy"
		out = append(out, a)
	case d <= g.thresholds.MediumDays:
		a := baseAlert(vehicleID, vin, AlertRenewal, CategoryInsurance, now)
		a.Severity = SeverityLow
		a.Title = "Insurance renewal approaching"
		a.Description = fmt.Sprintf("%s %s (%s).", policy, inDays(d), s.ExpiresAt.Format("2006-01-02"))
		due := *s.ExpiresAt
		a.DueDate = &due
		a.DaysUntilDue = d
		a.ActionRequired = "Plan the insurance renewal"
		out = append(out, a)
	}
	return out
}

func (g *Generator) inspectionAlerts(vehicleID, vin string, s *InspectionSnapshot, now time.Time) []*Alert {
	if s == nil {
		return nil
	}
	var out []*Alert
	if s.OpenViolations > 0 {
		a := baseAlert(vehicleID, vin, AlertViolation, CategoryInspections, now)
		a.Severity = SeverityCritical
		a.Title = "Open inspection violations"
		a.Description = fmt.Sprintf("%d open inspection violations on record.", s.OpenViolations)
		a.ActionRequired = "Clear outstanding inspection violations"
		out = append(out, a)
	}
	if d := daysUntil(s.NextDue, now); d != noDueDate && d <= g.thresholds.HighDays {
		a := baseAlert(vehicleID, vin, AlertInspectionDue, CategoryInspections, now)
		a.Severity = g.nearTermSeverity(d, SeverityHigh)
		a.Title = "Periodic inspection due"
		a.Description = fmt.Sprintf("Periodic inspection %s (%s).", inDays(d), s.NextDue.Format("2006-01-02"))
		due := *s.NextDue
		a.DueDate = &due
		a.DaysUntilDue = d
		a.ActionRequired = "Schedule the periodic inspection"
		out = append(out, a)
	}
	return out
}
