// Package reconcile accumulates upload batches of extracted records and
// merges them into per-VIN reconciled vehicles on demand.
package reconcile

import (
	"math"
	"sync"
	"time"

	"github.com/linnemanlabs/fleetwatch/internal/fleet"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/oklog/ulid/v2"
)

// Engine holds every batch ingested so far. IngestBatch is safe for
// concurrent use; Reconcile reads the batch list and is otherwise pure, so
// identical batch history always yields an identical result.
type Engine struct {
	policy Policy

	mu      sync.Mutex
	batches []*fleet.Batch
}

// New creates an engine with the given merge policy. An empty policy means
// LastWriteWins; anything else unknown is a programmer error.
func New(policy Policy) *Engine {
	switch policy {
	case "":
		policy = LastWriteWins
	case LastWriteWins, HighestConfidence:
	default:
		panic(xerrors.New("unknown merge policy: " + string(policy)))
	}
	return &Engine{policy: policy}
}

// Policy reports the engine's merge policy.
func (e *Engine) Policy() Policy { return e.policy }

// IngestBatch records one upload session's extracted records as an immutable
// batch. The input slice is copied; no merging happens here. FileCount is
// derived from the distinct source file names in the batch.
func (e *Engine) IngestBatch(records []fleet.ExtractedRecord) *fleet.Batch {
	recs := make([]fleet.ExtractedRecord, len(records))
	copy(recs, records)

	files := make(map[string]struct{})
	for _, r := range recs {
		if r.SourceFileName != "" {
			files[r.SourceFileName] = struct{}{}
		}
	}

	b := &fleet.Batch{
		ID:         ulid.Make().String(),
		ReceivedAt: time.Now(),
		Records:    recs,
		FileCount:  len(files),
	}

	e.mu.Lock()
	e.batches = append(e.batches, b)
	e.mu.Unlock()

	return b
}

// BatchInfo summarizes one ingested batch for listings.
type BatchInfo struct {
	ID         string    `json:"id"`
	ReceivedAt time.Time `json:"received_at"`
	Records    int       `json:"records"`
	FileCount  int       `json:"file_count"`
}

// Snapshot lists the ingested batches in ingest order.
func (e *Engine) Snapshot() []BatchInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	infos := make([]BatchInfo, 0, len(e.batches))
	for _, b := range e.batches {
		infos = append(infos, BatchInfo{
			ID:         b.ID,
			ReceivedAt: b.ReceivedAt,
			Records:    len(b.Records),
			FileCount:  b.FileCount,
		})
	}
	return infos
}

// Reconcile merges every ingested record into per-VIN vehicles. Records
// whose VIN normalizes to empty are excluded and counted as unreconciled.
// Vehicles come back in first-seen VIN order.
func (e *Engine) Reconcile() *fleet.ReconciliationResult {
	e.mu.Lock()
	batches := make([]*fleet.Batch, len(e.batches))
	copy(batches, e.batches)
	e.mu.Unlock()

	groups := make(map[string][]fleet.ExtractedRecord)
	var vinOrder []string
	unreconciled := 0

	for _, b := range batches {
		for _, rec := range b.Records {
			vin := fleet.NormalizeVIN(rec.VIN)
			if vin == "" {
				unreconciled++
				continue
			}
			if _, seen := groups[vin]; !seen {
				vinOrder = append(vinOrder, vin)
			}
			groups[vin] = append(groups[vin], rec)
		}
	}

	result := &fleet.ReconciliationResult{RanAt: time.Now()}
	for _, vin := range vinOrder {
		v := mergeGroup(e.policy, vin, groups[vin])
		switch v.Category {
		case fleet.CategoryComplete:
			result.Complete = append(result.Complete, v)
		case fleet.CategoryRegistrationOnly:
			result.RegistrationOnly = append(result.RegistrationOnly, v)
		case fleet.CategoryInsuranceOnly:
			result.InsuranceOnly = append(result.InsuranceOnly, v)
		default:
			result.Orphans = append(result.Orphans, v)
		}
	}

	complete := len(result.Complete)
	documentable := complete + len(result.RegistrationOnly) + len(result.InsuranceOnly)

	score := 0
	if documentable > 0 {
		score = int(math.Round(100 * float64(complete) / float64(documentable)))
	}

	result.Summary = fleet.Summary{
		TotalVehicles:       documentable + len(result.Orphans),
		FullyDocumented:     complete,
		MissingInsurance:    len(result.RegistrationOnly),
		MissingRegistration: len(result.InsuranceOnly),
		Unreconciled:        unreconciled,
		ReconciliationScore: score,
	}
	return result
}
