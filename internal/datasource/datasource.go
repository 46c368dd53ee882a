// Package datasource provides per-category compliance data providers and the
// registry the monitoring scheduler fans out over.
package datasource

import (
	"context"
	"net/http"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/fleetwatch/internal/compliance"
)

// Source provides one compliance category's snapshot for a vehicle.
type Source interface {
	Category() compliance.Category
	// Fetch returns the current snapshot for a vehicle. A nil envelope with
	// a nil error means the provider has no data: unknown, never failing.
	Fetch(ctx context.Context, vin, dotNumber string) (*compliance.SnapshotEnvelope, error)
}

// Registry holds the configured source for each compliance category.
type Registry struct {
	sources map[compliance.Category]Source
}

// NewRegistry creates an empty source registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[compliance.Category]Source)}
}

// Register adds a source, keyed by its Category. Registering a second source
// for the same category replaces the first.
func (r *Registry) Register(s Source) {
	r.sources[s.Category()] = s
}

// Get retrieves the source for a category.
func (r *Registry) Get(c compliance.Category) (Source, bool) {
	s, ok := r.sources[c]
	return s, ok
}

// Len returns the number of registered sources.
func (r *Registry) Len() int {
	return len(r.sources)
}

// NewHTTPRegistry registers an HTTP source for every compliance category
// under one base endpoint, each behind its own circuit breaker.
func NewHTTPRegistry(endpoint string, client *http.Client, logger log.Logger) *Registry {
	r := NewRegistry()
	for _, c := range compliance.Categories() {
		r.Register(WithBreaker(NewHTTPSource(c, endpoint, client), logger))
	}
	return r
}
