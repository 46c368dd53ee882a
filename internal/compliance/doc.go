// Package compliance provides the compliance domain for fleetwatch's
// monitoring system. It defines alerts and per-vehicle status, the snapshot
// inputs fetched from external data sources, the Generator (pure alert
// rules), the scorer, and the Store interface (persistence).
package compliance
