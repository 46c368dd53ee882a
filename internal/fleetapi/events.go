package fleetapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/fleetwatch/internal/compliance"
)

const sseHeartbeatInterval = 15 * time.Second

// handleVehicleEvents streams status updates for one vehicle as Server-Sent
// Events. The current status is replayed on connect so clients do not wait a
// full check interval for their first event. The stream ends when the client
// disconnects.
func (a *API) handleVehicleEvents(w http.ResponseWriter, r *http.Request) {
	vehicleID := chi.URLParam(r, "vehicleID")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("fleetwatch.vehicle.id", vehicleID))

	if !a.monitoring.Monitored(vehicleID) {
		http.Error(w, `{"error":"not monitored"}`, http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error":"streaming unsupported"}`, http.StatusInternalServerError)
		return
	}

	// Buffered so a stalled client drops updates instead of blocking the
	// scheduler's notify path.
	updates := make(chan *compliance.Status, 8)
	unsubscribe := a.monitoring.Subscribe(vehicleID, func(status *compliance.Status) {
		select {
		case updates <- status:
		default:
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if status, ok, err := a.monitoring.Status(r.Context(), vehicleID); err == nil && ok {
		writeStatusEvent(w, flusher, status)
	}
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case status := <-updates:
			writeStatusEvent(w, flusher, status)
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

func writeStatusEvent(w http.ResponseWriter, flusher http.Flusher, status *compliance.Status) {
	data, err := json.Marshal(status)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: status\ndata: %s\n\n", data)
	flusher.Flush()
}
