package compliance

import "context"

// StoreStats summarizes the store for monitoring dashboards.
type StoreStats struct {
	Vehicles       int     `json:"vehicles"`
	ActiveAlerts   int     `json:"active_alerts"`
	CriticalAlerts int     `json:"critical_alerts"`
	AverageScore   float64 `json:"average_score"`
}

// Store is the persistence interface for alerts and statuses.
//
// UpsertAlerts keys alerts by their stable Key and is scoped to the
// categories refreshed this cycle. An incoming alert matching an active
// stored alert refreshes severity, due date, days and text while preserving
// the stored ID and CreatedAt. A match on a resolved alert with the same due
// date stays resolved; if the due date moved, the incoming alert is inserted
// as a fresh active alert. An active stored alert in a refreshed category
// with no incoming match is resolved automatically: its condition cleared.
// Alerts in categories outside refreshed are left untouched.
type Store interface {
	UpsertAlerts(ctx context.Context, vehicleID string, refreshed []Category, alerts []*Alert) error
	PutStatus(ctx context.Context, status *Status) error
	GetStatus(ctx context.Context, vehicleID string) (*Status, bool, error)
	// ActiveAlerts returns unresolved alerts across all vehicles, sorted by
	// severity rank then ascending DaysUntilDue.
	ActiveAlerts(ctx context.Context) ([]*Alert, error)
	// ResolveAlert marks an alert resolved. Resolving twice is a no-op;
	// ok=false means the ID is unknown.
	ResolveAlert(ctx context.Context, id string) (alert *Alert, ok bool, err error)
	// DeleteVehicle removes the vehicle's status and every alert, resolved
	// or not.
	DeleteVehicle(ctx context.Context, vehicleID string) error
	Stats(ctx context.Context) (*StoreStats, error)
}
