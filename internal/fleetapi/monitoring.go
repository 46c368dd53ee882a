package fleetapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/fleetwatch/internal/compliance"
	"github.com/linnemanlabs/fleetwatch/internal/monitor"
)

type startMonitoringRequest struct {
	VIN                  string `json:"vin"`
	DOTNumber            string `json:"dot_number,omitempty"`
	CheckIntervalSeconds int    `json:"check_interval_seconds,omitempty"`

	Thresholds *struct {
		CriticalDays int `json:"critical_days"`
		HighDays     int `json:"high_days"`
		MediumDays   int `json:"medium_days"`
	} `json:"thresholds,omitempty"`
}

func (a *API) handleStartMonitoring(w http.ResponseWriter, r *http.Request) {
	vehicleID := chi.URLParam(r, "vehicleID")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("fleetwatch.vehicle.id", vehicleID))

	var req startMonitoringRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	cfg := monitor.VehicleConfig{
		VehicleID:     vehicleID,
		VIN:           req.VIN,
		DOTNumber:     req.DOTNumber,
		CheckInterval: time.Duration(req.CheckIntervalSeconds) * time.Second,
	}
	if req.Thresholds != nil {
		cfg.Thresholds = compliance.Thresholds{
			CriticalDays: req.Thresholds.CriticalDays,
			HighDays:     req.Thresholds.HighDays,
			MediumDays:   req.Thresholds.MediumDays,
		}
	}

	if err := a.monitoring.Start(r.Context(), cfg); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleStopMonitoring(w http.ResponseWriter, r *http.Request) {
	vehicleID := chi.URLParam(r, "vehicleID")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("fleetwatch.vehicle.id", vehicleID))

	ok, err := a.monitoring.Stop(r.Context(), vehicleID)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to stop monitoring", "vehicle_id", vehicleID)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not monitored"}`, http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleStopAllMonitoring(w http.ResponseWriter, r *http.Request) {
	stopped := a.monitoring.StopAll()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{"stopped": stopped})
}

func (a *API) handleVehicleStatus(w http.ResponseWriter, r *http.Request) {
	vehicleID := chi.URLParam(r, "vehicleID")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("fleetwatch.vehicle.id", vehicleID))

	status, ok, err := a.monitoring.Status(r.Context(), vehicleID)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get vehicle status", "vehicle_id", vehicleID)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	span.SetAttributes(attribute.String("fleetwatch.vehicle.state", string(status.State)))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.monitoring.Stats(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to compute fleet stats")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}
