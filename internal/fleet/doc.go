// Package fleet holds the vehicle document domain: extracted records as they
// arrive from upstream extraction, immutable upload batches, reconciled
// per-VIN vehicles, and the persistence boundary for applying reconciliation
// results to fleet storage.
package fleet
