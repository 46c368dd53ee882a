package monitor

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/fleetwatch/internal/compliance"
)

// Subscribe registers a callback invoked with the vehicle's status after
// every successful check and on alert resolution. The status is shared
// across subscribers and must be treated as read-only. The returned
// function removes the subscription and is safe to call more than once.
func (s *Scheduler) Subscribe(vehicleID string, fn func(*compliance.Status)) func() {
	if fn == nil {
		panic(xerrors.New("subscription callback is required"))
	}

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	m := s.subs[vehicleID]
	if m == nil {
		m = make(map[int]func(*compliance.Status))
		s.subs[vehicleID] = m
	}
	m[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		if m := s.subs[vehicleID]; m != nil {
			delete(m, id)
			if len(m) == 0 {
				delete(s.subs, vehicleID)
			}
		}
		s.subMu.Unlock()
	}
}

// notifySubscribers invokes callbacks outside every scheduler lock so a
// subscriber can never wedge the registry.
func (s *Scheduler) notifySubscribers(vehicleID string, st *compliance.Status) {
	s.subMu.Lock()
	fns := make([]func(*compliance.Status), 0, len(s.subs[vehicleID]))
	for _, fn := range s.subs[vehicleID] {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		s.safeInvoke(vehicleID, fn, st)
	}
}

func (s *Scheduler) safeInvoke(vehicleID string, fn func(*compliance.Status), st *compliance.Status) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn(context.Background(), "subscriber callback panicked",
				"vehicle_id", vehicleID,
				"panic", fmt.Sprint(r),
			)
		}
	}()
	fn(st)
}

func (s *Scheduler) dropSubscribers(vehicleID string) {
	s.subMu.Lock()
	delete(s.subs, vehicleID)
	s.subMu.Unlock()
}
