// Package monitor schedules recurring compliance checks per vehicle and fans
// results out to the store, subscribers, and notifiers.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/fleetwatch/internal/compliance"
	"github.com/linnemanlabs/fleetwatch/internal/datasource"
	"github.com/linnemanlabs/fleetwatch/internal/fleet"
)

var tracer = otel.Tracer("github.com/linnemanlabs/fleetwatch/internal/monitor")

// DefaultCheckInterval applies when a vehicle config does not set one.
const DefaultCheckInterval = time.Hour

const (
	defaultFetchTimeout = 10 * time.Second
	notifyTimeout       = 10 * time.Second
)

// Notifier receives newly raised critical alerts.
type Notifier interface {
	Send(ctx context.Context, alert *compliance.Alert, status *compliance.Status) error
}

// VehicleConfig describes one vehicle's monitoring schedule.
type VehicleConfig struct {
	VehicleID     string
	VIN           string
	DOTNumber     string
	CheckInterval time.Duration         // 0 means the scheduler default
	Thresholds    compliance.Thresholds // zero value means the scheduler default
}

// Stats summarizes the monitoring subsystem.
type Stats struct {
	TotalVehicles    int     `json:"total_vehicles"`
	ActiveMonitoring int     `json:"active_monitoring"`
	TotalAlerts      int     `json:"total_alerts"`
	CriticalAlerts   int     `json:"critical_alerts"`
	AverageScore     float64 `json:"average_score"`
}

type entry struct {
	cfg       VehicleConfig
	generator *compliance.Generator
	cancel    context.CancelFunc
	inFlight  atomic.Bool

	// writeMu serializes this entry's store writes with Stop's delete.
	writeMu sync.Mutex

	// lastCritical holds the critical alert keys from the previous cycle so
	// only newly raised ones get notified. Touched only by the check
	// goroutine; inFlight keeps cycles from overlapping.
	lastCritical map[string]bool
}

// Scheduler owns one monitoring entry per vehicle. It is safe for concurrent
// use; entries never block one another.
type Scheduler struct {
	store           compliance.Store
	sources         *datasource.Registry
	thresholds      compliance.Thresholds
	defaultInterval time.Duration
	notifier        Notifier
	logger          log.Logger
	metrics         *Metrics

	now          func() time.Time
	fetchTimeout time.Duration

	mu      sync.Mutex
	entries map[string]*entry

	subMu   sync.Mutex
	subs    map[string]map[int]func(*compliance.Status)
	nextSub int
}

// New creates a scheduler. The notifier and metrics may be nil. A zero
// thresholds value falls back to the defaults and a zero defaultInterval to
// DefaultCheckInterval; anything else must validate.
func New(store compliance.Store, sources *datasource.Registry, thresholds compliance.Thresholds, defaultInterval time.Duration, notifier Notifier, logger log.Logger, metrics *Metrics) *Scheduler {
	if store == nil {
		panic(xerrors.New("compliance store is required"))
	}
	if sources == nil {
		panic(xerrors.New("data source registry is required"))
	}
	if thresholds == (compliance.Thresholds{}) {
		thresholds = compliance.DefaultThresholds()
	}
	if err := thresholds.Validate(); err != nil {
		panic(xerrors.New("invalid thresholds: " + err.Error()))
	}
	if defaultInterval < 0 {
		panic(xerrors.New("default check interval must be positive"))
	}
	if defaultInterval == 0 {
		defaultInterval = DefaultCheckInterval
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Scheduler{
		store:           store,
		sources:         sources,
		thresholds:      thresholds,
		defaultInterval: defaultInterval,
		notifier:        notifier,
		logger:          logger,
		metrics:         metrics,
		now:             time.Now,
		fetchTimeout:    defaultFetchTimeout,
		entries:         make(map[string]*entry),
		subs:            make(map[string]map[int]func(*compliance.Status)),
	}
}

// Start begins monitoring a vehicle: one immediate check, then a recurring
// one every CheckInterval. Starting an already monitored vehicle replaces
// its schedule.
func (s *Scheduler) Start(ctx context.Context, cfg VehicleConfig) error {
	if cfg.VehicleID == "" {
		return fmt.Errorf("vehicle id is required")
	}
	cfg.VIN = fleet.NormalizeVIN(cfg.VIN)
	if cfg.VIN == "" {
		return fmt.Errorf("vin is required")
	}
	if cfg.CheckInterval < 0 {
		return fmt.Errorf("check interval must be positive, got %s", cfg.CheckInterval)
	}
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = s.defaultInterval
	}
	if cfg.Thresholds == (compliance.Thresholds{}) {
		cfg.Thresholds = s.thresholds
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		return fmt.Errorf("thresholds: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e := &entry{
		cfg:          cfg,
		generator:    compliance.NewGenerator(cfg.Thresholds),
		cancel:       cancel,
		lastCritical: make(map[string]bool),
	}

	s.mu.Lock()
	old := s.entries[cfg.VehicleID]
	s.entries[cfg.VehicleID] = e
	active := len(s.entries)
	s.mu.Unlock()

	if old != nil {
		old.cancel()
	}
	if s.metrics != nil {
		s.metrics.ActiveMonitors.Set(float64(active))
	}
	s.logger.Info(ctx, "monitoring started",
		"vehicle_id", cfg.VehicleID,
		"vin", cfg.VIN,
		"check_interval", cfg.CheckInterval.String(),
		"replaced", old != nil,
	)

	go s.run(runCtx, e)
	return nil
}

// Stop cancels a vehicle's schedule and deletes its stored status, alerts,
// and subscribers. The bool reports whether the vehicle was monitored.
func (s *Scheduler) Stop(ctx context.Context, vehicleID string) (bool, error) {
	s.mu.Lock()
	e, ok := s.entries[vehicleID]
	if ok {
		delete(s.entries, vehicleID)
	}
	active := len(s.entries)
	s.mu.Unlock()
	if !ok {
		return false, nil
	}

	e.cancel()
	s.dropSubscribers(vehicleID)
	if s.metrics != nil {
		s.metrics.ActiveMonitors.Set(float64(active))
	}
	s.logger.Info(ctx, "monitoring stopped", "vehicle_id", vehicleID)

	// an in-flight check past its liveness re-check finishes its write first
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if err := s.store.DeleteVehicle(ctx, vehicleID); err != nil {
		return true, fmt.Errorf("delete vehicle data: %w", err)
	}
	return true, nil
}

// StopAll cancels every schedule and drops all subscribers. Stored statuses
// and alerts are kept: shutting the scheduler down must not erase the
// fleet's compliance history.
func (s *Scheduler) StopAll() int {
	s.mu.Lock()
	entries := s.entries
	s.entries = make(map[string]*entry)
	s.mu.Unlock()

	for _, e := range entries {
		e.cancel()
	}

	s.subMu.Lock()
	s.subs = make(map[string]map[int]func(*compliance.Status))
	s.subMu.Unlock()

	if s.metrics != nil {
		s.metrics.ActiveMonitors.Set(0)
	}
	if len(entries) > 0 {
		s.logger.Info(context.Background(), "all monitoring stopped", "stopped", len(entries))
	}
	return len(entries)
}

// Monitored reports whether the vehicle currently has a schedule.
func (s *Scheduler) Monitored(vehicleID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[vehicleID]
	return ok
}

// ResolveAlert resolves an alert and pushes the owning vehicle's current
// status to its subscribers. Resolving twice is a no-op.
func (s *Scheduler) ResolveAlert(ctx context.Context, id string) (*compliance.Alert, bool, error) {
	a, ok, err := s.store.ResolveAlert(ctx, id)
	if err != nil || !ok {
		return nil, ok, err
	}
	if st, found, serr := s.store.GetStatus(ctx, a.VehicleID); serr == nil && found {
		s.notifySubscribers(a.VehicleID, st)
	}
	return a, true, nil
}

// ActiveAlerts lists unresolved alerts across the fleet, most urgent first.
func (s *Scheduler) ActiveAlerts(ctx context.Context) ([]*compliance.Alert, error) {
	return s.store.ActiveAlerts(ctx)
}

// Status returns a vehicle's latest stored status.
func (s *Scheduler) Status(ctx context.Context, vehicleID string) (*compliance.Status, bool, error) {
	return s.store.GetStatus(ctx, vehicleID)
}

// Stats merges store contents with live scheduling state.
func (s *Scheduler) Stats(ctx context.Context) (*Stats, error) {
	ss, err := s.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("store stats: %w", err)
	}
	s.mu.Lock()
	active := len(s.entries)
	s.mu.Unlock()
	return &Stats{
		TotalVehicles:    ss.Vehicles,
		ActiveMonitoring: active,
		TotalAlerts:      ss.ActiveAlerts,
		CriticalAlerts:   ss.CriticalAlerts,
		AverageScore:     ss.AverageScore,
	}, nil
}

func (s *Scheduler) run(ctx context.Context, e *entry) {
	s.tick(ctx, e)
	ticker := time.NewTicker(e.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, e)
		}
	}
}

// tick launches one check unless the previous one is still running.
func (s *Scheduler) tick(ctx context.Context, e *entry) {
	if !e.inFlight.CompareAndSwap(false, true) {
		s.logger.Warn(ctx, "skipping check, previous still running", "vehicle_id", e.cfg.VehicleID)
		if s.metrics != nil {
			s.metrics.TicksSkipped.Inc()
		}
		return
	}
	go func() {
		defer e.inFlight.Store(false)
		s.runCheck(ctx, e)
	}()
}

func (s *Scheduler) runCheck(ctx context.Context, e *entry) {
	cfg := e.cfg
	ctx, span := tracer.Start(ctx, "compliance.check", trace.WithAttributes(
		attribute.String("fleetwatch.vehicle.id", cfg.VehicleID),
		attribute.String("fleetwatch.vehicle.vin", cfg.VIN),
	))
	defer span.End()

	L := s.logger.With("vehicle_id", cfg.VehicleID, "vin", cfg.VIN)
	start := time.Now()

	snaps, unavailable := s.fetchSnapshots(ctx, cfg)
	span.SetAttributes(attribute.Int("fleetwatch.check.unavailable_categories", len(unavailable)))
	if s.metrics != nil {
		for _, c := range unavailable {
			s.metrics.CategoriesUnavailable.WithLabelValues(string(c)).Inc()
		}
	}

	// no category answered: keep the previous status and alerts intact
	if snaps.Empty() {
		L.Warn(ctx, "check abandoned, no category returned data", "unavailable", len(unavailable))
		s.observeCheck(ctx, start, "abandoned")
		return
	}

	now := s.now()
	alerts := e.generator.Generate(cfg.VehicleID, cfg.VIN, snaps, now)
	status := compliance.ComputeStatus(cfg.VehicleID, cfg.VIN, snaps, alerts, now)
	refreshed := refreshedCategories(snaps)

	e.writeMu.Lock()
	if !s.isCurrent(cfg.VehicleID, e) {
		e.writeMu.Unlock()
		L.Info(ctx, "monitoring entry replaced or stopped mid-check, discarding result")
		s.observeCheck(ctx, start, "discarded")
		return
	}
	if err := s.store.UpsertAlerts(ctx, cfg.VehicleID, refreshed, alerts); err != nil {
		e.writeMu.Unlock()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		L.Error(ctx, err, "failed to upsert alerts")
		s.observeCheck(ctx, start, "error")
		return
	}
	if err := s.store.PutStatus(ctx, status); err != nil {
		e.writeMu.Unlock()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		L.Error(ctx, err, "failed to store status")
		s.observeCheck(ctx, start, "error")
		return
	}
	e.writeMu.Unlock()

	if s.metrics != nil {
		for _, a := range alerts {
			s.metrics.AlertsGenerated.WithLabelValues(string(a.Severity)).Inc()
		}
	}

	s.notifySubscribers(cfg.VehicleID, status)
	s.notifyCritical(ctx, e, alerts, status)

	span.SetAttributes(
		attribute.Int("fleetwatch.check.score", status.OverallScore),
		attribute.String("fleetwatch.check.state", string(status.State)),
		attribute.Int("fleetwatch.check.alerts", len(alerts)),
	)
	s.observeCheck(ctx, start, "ok")
	L.Info(ctx, "check complete",
		"score", status.OverallScore,
		"state", string(status.State),
		"alerts", len(alerts),
		"unavailable_categories", len(unavailable),
	)
}

// fetchSnapshots queries every registered source in parallel with a
// per-category deadline. Failed categories are returned so the cycle can
// count them; they stay nil in the snapshot set.
func (s *Scheduler) fetchSnapshots(ctx context.Context, cfg VehicleConfig) (compliance.VehicleSnapshots, []compliance.Category) {
	type result struct {
		category compliance.Category
		env      *compliance.SnapshotEnvelope
		err      error
	}

	var launched int
	results := make(chan result, len(compliance.Categories()))
	for _, c := range compliance.Categories() {
		src, ok := s.sources.Get(c)
		if !ok {
			continue
		}
		launched++
		go func() {
			fctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
			defer cancel()
			env, err := src.Fetch(fctx, cfg.VIN, cfg.DOTNumber)
			results <- result{category: c, env: env, err: err}
		}()
	}

	var snaps compliance.VehicleSnapshots
	var unavailable []compliance.Category
	for range launched {
		r := <-results
		if r.err != nil {
			s.logger.Warn(ctx, "category fetch failed",
				"vin", cfg.VIN,
				"category", string(r.category),
				"error", r.err.Error(),
			)
			unavailable = append(unavailable, r.category)
			continue
		}
		r.env.ApplyTo(&snaps)
	}
	return snaps, unavailable
}

// notifyCritical sends the notifier any critical alert that was not critical
// in the previous cycle.
func (s *Scheduler) notifyCritical(ctx context.Context, e *entry, alerts []*compliance.Alert, status *compliance.Status) {
	seen := make(map[string]bool)
	var fresh []*compliance.Alert
	for _, a := range alerts {
		if a.Severity != compliance.SeverityCritical {
			continue
		}
		seen[a.Key] = true
		if !e.lastCritical[a.Key] {
			fresh = append(fresh, a)
		}
	}
	e.lastCritical = seen

	if s.notifier == nil || len(fresh) == 0 {
		return
	}
	go func() {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		for _, a := range fresh {
			if err := s.notifier.Send(nctx, a, status); err != nil {
				s.logger.Error(nctx, err, "notification failed",
					"alert_id", a.ID,
					"vehicle_id", a.VehicleID,
				)
				if s.metrics != nil {
					s.metrics.NotificationsTotal.WithLabelValues("error").Inc()
				}
				continue
			}
			if s.metrics != nil {
				s.metrics.NotificationsTotal.WithLabelValues("ok").Inc()
			}
		}
	}()
}

func (s *Scheduler) observeCheck(ctx context.Context, start time.Time, outcome string) {
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("fleetwatch.check.outcome", outcome))
	if s.metrics == nil {
		return
	}
	s.metrics.ChecksTotal.WithLabelValues(outcome).Inc()
	s.metrics.CheckDuration.Observe(time.Since(start).Seconds())
}

func (s *Scheduler) isCurrent(vehicleID string, e *entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[vehicleID] == e
}

// refreshedCategories lists the categories a cycle has data for. Only these
// refresh stored alerts; an unknown category leaves its previous alerts
// untouched.
func refreshedCategories(s compliance.VehicleSnapshots) []compliance.Category {
	var out []compliance.Category
	if s.Emissions != nil {
		out = append(out, compliance.CategoryEmissions)
	}
	if s.Safety != nil {
		out = append(out, compliance.CategorySafety)
	}
	if s.Registration != nil {
		out = append(out, compliance.CategoryRegistration)
	}
	if s.Insurance != nil {
		out = append(out, compliance.CategoryInsurance)
	}
	if s.Inspections != nil {
		out = append(out, compliance.CategoryInspections)
	}
	return out
}
