// Package memfleet provides an in-memory fleet.Store.
package memfleet

import (
	"context"
	"sync"

	"github.com/linnemanlabs/fleetwatch/internal/fleet"
)

// Store keeps reconciled vehicles in memory, keyed by VIN. Safe for
// concurrent use.
type Store struct {
	mu       sync.RWMutex
	vehicles map[string]*fleet.ReconciledVehicle
}

// New creates an empty store.
func New() *Store {
	return &Store{vehicles: make(map[string]*fleet.ReconciledVehicle)}
}

// Apply upserts each vehicle by VIN. Vehicles without a VIN end up in the
// result's error list; the rest still land.
func (s *Store) Apply(_ context.Context, vehicles []*fleet.ReconciledVehicle) (*fleet.ApplyResult, error) {
	res := &fleet.ApplyResult{}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range vehicles {
		if v == nil || v.VIN == "" {
			res.Failed++
			res.Errors = append(res.Errors, fleet.ApplyError{Err: "missing vin"})
			continue
		}
		s.vehicles[v.VIN] = copyVehicle(v)
		res.Processed++
	}
	return res, nil
}

// Get returns a copy of the stored vehicle.
func (s *Store) Get(vin string) (*fleet.ReconciledVehicle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vehicles[vin]
	if !ok {
		return nil, false
	}
	return copyVehicle(v), true
}

// Len returns the number of stored vehicles.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vehicles)
}

func copyVehicle(v *fleet.ReconciledVehicle) *fleet.ReconciledVehicle {
	out := *v
	if v.RegistrationExpiry != nil {
		t := *v.RegistrationExpiry
		out.RegistrationExpiry = &t
	}
	if v.InsuranceExpiry != nil {
		t := *v.InsuranceExpiry
		out.InsuranceExpiry = &t
	}
	out.Sources = append([]string(nil), v.Sources...)
	return &out
}
