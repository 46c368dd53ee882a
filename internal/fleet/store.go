package fleet

import "context"

// Store is the persistence boundary for reconciled vehicles. Implementations
// must tolerate repeated Apply calls for the same VIN set; apply is an upsert,
// not an insert.
type Store interface {
	// Apply persists a reconciliation result's vehicles. Partial failure is
	// reported per vehicle in the result rather than aborting the batch.
	Apply(ctx context.Context, vehicles []*ReconciledVehicle) (*ApplyResult, error)
}

// ApplyError records a single vehicle that failed to persist.
type ApplyError struct {
	VIN string `json:"vin"`
	Err string `json:"error"`
}

// ApplyResult summarizes one Apply call.
type ApplyResult struct {
	Processed int          `json:"processed"`
	Failed    int          `json:"failed"`
	Errors    []ApplyError `json:"errors,omitempty"`
}
