package fleetapi

import (
	"encoding/json"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/fleetwatch/internal/fleet"
)

// BatchSummary reports what one submitted batch contained. ByType counts
// records per normalized document type.
type BatchSummary struct {
	BatchID     string         `json:"batch_id"`
	ReceivedAt  time.Time      `json:"received_at"`
	Received    int            `json:"received"`
	MissingVIN  int            `json:"missing_vin"`
	NeedsReview int            `json:"needs_review"`
	ByType      map[string]int `json:"by_type"`
	FileCount   int            `json:"file_count"`
}

type submitBatchRequest struct {
	Records []fleet.ExtractedRecord `json:"records"`
}

func (a *API) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req submitBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if len(req.Records) == 0 {
		http.Error(w, `{"error":"no records"}`, http.StatusBadRequest)
		return
	}

	// Document types arrive as free-form strings; fold them onto the known
	// set before the records become immutable.
	for i := range req.Records {
		req.Records[i].DocumentType = fleet.ParseDocumentType(string(req.Records[i].DocumentType))
	}

	b := a.engine.IngestBatch(req.Records)
	sum := summarizeBatch(b)

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("fleetwatch.batch.id", b.ID),
		attribute.Int("fleetwatch.batch.records", sum.Received),
	)

	a.logger.Info(r.Context(), "batch ingested",
		"batch_id", b.ID,
		"records", sum.Received,
		"files", sum.FileCount,
		"missing_vin", sum.MissingVIN,
		"needs_review", sum.NeedsReview,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(sum)
}

func summarizeBatch(b *fleet.Batch) BatchSummary {
	sum := BatchSummary{
		BatchID:    b.ID,
		ReceivedAt: b.ReceivedAt,
		Received:   len(b.Records),
		ByType:     make(map[string]int),
		FileCount:  b.FileCount,
	}
	for i := range b.Records {
		rec := &b.Records[i]
		sum.ByType[string(rec.DocumentType)]++
		if fleet.NormalizeVIN(rec.VIN) == "" {
			sum.MissingVIN++
		}
		if rec.NeedsReview {
			sum.NeedsReview++
		}
	}
	return sum
}

func (a *API) handleListBatches(w http.ResponseWriter, r *http.Request) {
	batches := a.engine.Snapshot()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"batches": batches,
		"count":   len(batches),
	})
}

func (a *API) handleReconcile(w http.ResponseWriter, r *http.Request) {
	res := a.engine.Reconcile()

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.Int("fleetwatch.reconcile.vehicles", res.Summary.TotalVehicles),
		attribute.Int("fleetwatch.reconcile.score", res.Summary.ReconciliationScore),
	)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(res)
}

// handleApplyReconciliation runs a fresh reconciliation pass and persists
// every merged vehicle, orphans included. Per-vehicle failures are reported
// in the response, not rolled back.
func (a *API) handleApplyReconciliation(w http.ResponseWriter, r *http.Request) {
	res := a.engine.Reconcile()

	vehicles := make([]*fleet.ReconciledVehicle, 0, res.Summary.TotalVehicles)
	vehicles = append(vehicles, res.Complete...)
	vehicles = append(vehicles, res.RegistrationOnly...)
	vehicles = append(vehicles, res.InsuranceOnly...)
	vehicles = append(vehicles, res.Orphans...)

	applied, err := a.fleetStore.Apply(r.Context(), vehicles)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to apply reconciliation")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.Int("fleetwatch.apply.processed", applied.Processed),
		attribute.Int("fleetwatch.apply.failed", applied.Failed),
	)

	a.logger.Info(r.Context(), "reconciliation applied",
		"vehicles", len(vehicles),
		"processed", applied.Processed,
		"failed", applied.Failed,
	)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(applied)
}
