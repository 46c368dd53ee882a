// Package fleetapi exposes the fleet reconciliation and monitoring HTTP API.
package fleetapi

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/fleetwatch/internal/compliance"
	"github.com/linnemanlabs/fleetwatch/internal/fleet"
	"github.com/linnemanlabs/fleetwatch/internal/monitor"
	"github.com/linnemanlabs/fleetwatch/internal/reconcile"
)

// Reconciler defines the document reconciliation operations fleetapi needs.
type Reconciler interface {
	IngestBatch(records []fleet.ExtractedRecord) *fleet.Batch
	Snapshot() []reconcile.BatchInfo
	Reconcile() *fleet.ReconciliationResult
}

// MonitorService defines the compliance monitoring operations fleetapi needs.
type MonitorService interface {
	Start(ctx context.Context, cfg monitor.VehicleConfig) error
	Stop(ctx context.Context, vehicleID string) (bool, error)
	StopAll() int
	Monitored(vehicleID string) bool
	Status(ctx context.Context, vehicleID string) (*compliance.Status, bool, error)
	Subscribe(vehicleID string, fn func(*compliance.Status)) func()
	ActiveAlerts(ctx context.Context) ([]*compliance.Alert, error)
	ResolveAlert(ctx context.Context, id string) (*compliance.Alert, bool, error)
	Stats(ctx context.Context) (*monitor.Stats, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger     log.Logger
	engine     Reconciler
	fleetStore fleet.Store
	monitoring MonitorService
}

// New creates a new API handler.
func New(logger log.Logger, engine Reconciler, fleetStore fleet.Store, monitoring MonitorService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if engine == nil {
		panic(xerrors.New("reconciliation engine is required"))
	}
	if fleetStore == nil {
		panic(xerrors.New("fleet store is required"))
	}
	if monitoring == nil {
		panic(xerrors.New("monitor service is required"))
	}
	return &API{
		logger:     logger,
		engine:     engine,
		fleetStore: fleetStore,
		monitoring: monitoring,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/batches", a.handleSubmitBatch)
		r.Get("/batches", a.handleListBatches)
		r.Get("/reconciliation", a.handleReconcile)
		r.Post("/reconciliation/apply", a.handleApplyReconciliation)
		r.Post("/vehicles/{vehicleID}/monitor", a.handleStartMonitoring)
		r.Delete("/vehicles/{vehicleID}/monitor", a.handleStopMonitoring)
		r.Delete("/monitoring", a.handleStopAllMonitoring)
		r.Get("/vehicles/{vehicleID}/status", a.handleVehicleStatus)
		r.Get("/vehicles/{vehicleID}/events", a.handleVehicleEvents)
		r.Get("/alerts", a.handleListAlerts)
		r.Post("/alerts/{id}/resolve", a.handleResolveAlert)
		r.Get("/stats", a.handleStats)
	})
}
