package fleetapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/fleetwatch/internal/compliance"
)

func (a *API) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := a.monitoring.ActiveAlerts(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list active alerts")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if alerts == nil {
		alerts = []*compliance.Alert{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (a *API) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("fleetwatch.alert.id", id))

	al, ok, err := a.monitoring.ResolveAlert(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to resolve alert", "alert_id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	a.logger.Info(r.Context(), "alert resolved", "alert_id", id, "vehicle_id", al.VehicleID)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(al)
}
