// Package memstore provides an in-memory implementation of compliance.Store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/fleetwatch/internal/compliance"
)

// Store holds alerts and statuses in memory. Suitable for dev/testing.
type Store struct {
	mu       sync.RWMutex
	statuses map[string]*compliance.Status           // vehicle ID -> latest status
	alerts   map[string]map[string]*compliance.Alert // vehicle ID -> alert key -> alert
	owner    map[string]string                       // alert ID -> vehicle ID
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		statuses: make(map[string]*compliance.Status),
		alerts:   make(map[string]map[string]*compliance.Alert),
		owner:    make(map[string]string),
	}
}

func copyStatus(st *compliance.Status) *compliance.Status {
	cp := *st
	cp.Categories = make(map[compliance.Category]compliance.CategoryStatus, len(st.Categories))
	for k, v := range st.Categories {
		cp.Categories[k] = v
	}
	return &cp
}

func copyAlert(a *compliance.Alert) *compliance.Alert {
	cp := *a
	if a.DueDate != nil {
		t := *a.DueDate
		cp.DueDate = &t
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		cp.ResolvedAt = &t
	}
	cp.Jurisdictions = append([]string(nil), a.Jurisdictions...)
	return &cp
}

func sameDue(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// UpsertAlerts applies one cycle's alerts per the Store contract.
func (s *Store) UpsertAlerts(_ context.Context, vehicleID string, refreshed []compliance.Category, alerts []*compliance.Alert) error {
	now := time.Now()

	touched := make(map[compliance.Category]bool, len(refreshed))
	for _, c := range refreshed {
		touched[c] = true
	}
	for _, a := range alerts {
		touched[a.Source] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.alerts[vehicleID]
	if stored == nil {
		stored = make(map[string]*compliance.Alert)
		s.alerts[vehicleID] = stored
	}

	matched := make(map[string]bool, len(alerts))
	for _, in := range alerts {
		matched[in.Key] = true

		cur, ok := stored[in.Key]
		if !ok {
			cp := copyAlert(in)
			stored[in.Key] = cp
			s.owner[cp.ID] = vehicleID
			continue
		}
		if cur.Active() {
			// refresh in place, identity and CreatedAt stay
			cur.Severity = in.Severity
			cur.Title = in.Title
			cur.Description = in.Description
			cur.DueDate = nil
			if in.DueDate != nil {
				t := *in.DueDate
				cur.DueDate = &t
			}
			cur.DaysUntilDue = in.DaysUntilDue
			cur.ActionRequired = in.ActionRequired
			cur.EstimatedCost = in.EstimatedCost
			cur.Jurisdictions = append([]string(nil), in.Jurisdictions...)
			continue
		}
		// resolved: an unchanged due date stays silenced, a moved date
		// re-opens as a fresh alert
		if sameDue(cur.DueDate, in.DueDate) {
			continue
		}
		delete(s.owner, cur.ID)
		cp := copyAlert(in)
		stored[in.Key] = cp
		s.owner[cp.ID] = vehicleID
	}

	// active alerts in refreshed categories that no longer fire have cleared
	for _, cur := range stored {
		if cur.Active() && touched[cur.Source] && !matched[cur.Key] {
			t := now
			cur.ResolvedAt = &t
		}
	}
	return nil
}

// PutStatus stores a copy of the vehicle's status.
func (s *Store) PutStatus(_ context.Context, st *compliance.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[st.VehicleID] = copyStatus(st)
	return nil
}

// GetStatus retrieves the latest status for a vehicle. Returns a copy.
func (s *Store) GetStatus(_ context.Context, vehicleID string) (*compliance.Status, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.statuses[vehicleID]
	if !ok {
		return nil, false, nil
	}
	return copyStatus(st), true, nil
}

// ActiveAlerts returns unresolved alerts across all vehicles, sorted by
// severity rank then ascending days until due.
func (s *Store) ActiveAlerts(_ context.Context) ([]*compliance.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*compliance.Alert
	for _, stored := range s.alerts {
		for _, a := range stored {
			if a.Active() {
				out = append(out, copyAlert(a))
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if ri, rj := out[i].Severity.Rank(), out[j].Severity.Rank(); ri != rj {
			return ri < rj
		}
		if out[i].DaysUntilDue != out[j].DaysUntilDue {
			return out[i].DaysUntilDue < out[j].DaysUntilDue
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ResolveAlert marks an alert resolved. Resolving an already-resolved alert
// is a no-op that still returns it.
func (s *Store) ResolveAlert(_ context.Context, id string) (*compliance.Alert, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vehicleID, ok := s.owner[id]
	if !ok {
		return nil, false, nil
	}
	for _, a := range s.alerts[vehicleID] {
		if a.ID != id {
			continue
		}
		if a.Active() {
			t := time.Now()
			a.ResolvedAt = &t
		}
		return copyAlert(a), true, nil
	}
	return nil, false, nil
}

// DeleteVehicle removes the vehicle's status and all of its alerts.
func (s *Store) DeleteVehicle(_ context.Context, vehicleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.alerts[vehicleID] {
		delete(s.owner, a.ID)
	}
	delete(s.alerts, vehicleID)
	delete(s.statuses, vehicleID)
	return nil
}

// Stats summarizes current store contents.
func (s *Store) Stats(_ context.Context) (*compliance.StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &compliance.StoreStats{Vehicles: len(s.statuses)}
	for _, stored := range s.alerts {
		for _, a := range stored {
			if !a.Active() {
				continue
			}
			stats.ActiveAlerts++
			if a.Severity == compliance.SeverityCritical {
				stats.CriticalAlerts++
			}
		}
	}
	if len(s.statuses) > 0 {
		total := 0
		for _, st := range s.statuses {
			total += st.OverallScore
		}
		stats.AverageScore = float64(total) / float64(len(s.statuses))
	}
	return stats, nil
}
