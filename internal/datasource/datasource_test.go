package datasource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/linnemanlabs/fleetwatch/internal/compliance"
)

func newTestHTTPSource(t *testing.T, category compliance.Category, handler http.HandlerFunc) *HTTPSource {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPSource(category, srv.URL, srv.Client())
}

func TestHTTPSource_FetchInsurance(t *testing.T) {
	t.Parallel()

	src := newTestHTTPSource(t, compliance.CategoryInsurance, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/insurance" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("vin"); got != "1HGCM82633A004352" {
			t.Errorf("vin = %q, want %q", got, "1HGCM82633A004352")
		}
		if got := r.URL.Query().Get("dot"); got != "123456" {
			t.Errorf("dot = %q, want %q", got, "123456")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"active":true,"expires_at":"2026-09-15T00:00:00Z","carrier":"Acme Mutual","coverage_amount":1000000}`)
	})

	env, err := src.Fetch(context.Background(), "1HGCM82633A004352", "123456")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if env == nil || env.Insurance == nil {
		t.Fatal("expected an insurance snapshot")
	}
	if env.Emissions != nil || env.Safety != nil || env.Registration != nil || env.Inspections != nil {
		t.Error("envelope carries more than one category")
	}
	if !env.Insurance.Active {
		t.Error("Active = false, want true")
	}
	if env.Insurance.Carrier != "Acme Mutual" {
		t.Errorf("Carrier = %q, want %q", env.Insurance.Carrier, "Acme Mutual")
	}
	want := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	if env.Insurance.ExpiresAt == nil || !env.Insurance.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", env.Insurance.ExpiresAt, want)
	}
}

func TestHTTPSource_FetchEmissions(t *testing.T) {
	t.Parallel()

	src := newTestHTTPSource(t, compliance.CategoryEmissions, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/emissions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"compliant":false,"jurisdictions":["CA","WA"]}`)
	})

	env, err := src.Fetch(context.Background(), "VIN1", "")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if env == nil || env.Emissions == nil {
		t.Fatal("expected an emissions snapshot")
	}
	if env.Emissions.Compliant {
		t.Error("Compliant = true, want false")
	}
	if len(env.Emissions.Jurisdictions) != 2 || env.Emissions.Jurisdictions[0] != "CA" {
		t.Errorf("Jurisdictions = %v, want [CA WA]", env.Emissions.Jurisdictions)
	}
}

func TestHTTPSource_OmitsEmptyDOT(t *testing.T) {
	t.Parallel()

	src := newTestHTTPSource(t, compliance.CategorySafety, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("dot") {
			t.Error("dot param present, want omitted")
		}
		_, _ = fmt.Fprint(w, `{"rating":"satisfactory"}`)
	})

	if _, err := src.Fetch(context.Background(), "VIN1", ""); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
}

func TestHTTPSource_UnknownVehicle(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusNotFound, http.StatusNoContent} {
		src := newTestHTTPSource(t, compliance.CategoryRegistration, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		})
		env, err := src.Fetch(context.Background(), "VIN1", "")
		if err != nil {
			t.Fatalf("status %d: Fetch: %v", status, err)
		}
		if env != nil {
			t.Errorf("status %d: env = %+v, want nil", status, env)
		}
	}
}

func TestHTTPSource_NullBody(t *testing.T) {
	t.Parallel()

	src := newTestHTTPSource(t, compliance.CategoryInspections, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `null`)
	})

	env, err := src.Fetch(context.Background(), "VIN1", "")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if env != nil {
		t.Errorf("env = %+v, want nil for null body", env)
	}
}

func TestHTTPSource_ServerError(t *testing.T) {
	t.Parallel()

	src := newTestHTTPSource(t, compliance.CategoryInsurance, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = fmt.Fprint(w, "upstream broke")
	})

	_, err := src.Fetch(context.Background(), "VIN1", "")
	if err == nil {
		t.Fatal("expected error for HTTP 500")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %q, want it to mention status code", err.Error())
	}
}

func TestHTTPSource_BadJSON(t *testing.T) {
	t.Parallel()

	src := newTestHTTPSource(t, compliance.CategoryInsurance, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{not json`)
	})

	_, err := src.Fetch(context.Background(), "VIN1", "")
	if err == nil {
		t.Fatal("expected decode error")
	}
	if !strings.Contains(err.Error(), "decode") {
		t.Errorf("error = %q, want it to mention decode", err.Error())
	}
}

func TestHTTPSource_ContextDeadline(t *testing.T) {
	t.Parallel()

	src := newTestHTTPSource(t, compliance.CategoryInspections, func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := src.Fetch(ctx, "VIN1", "")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want context.DeadlineExceeded", err)
	}
}

func TestWithBreaker_PassesThroughSuccess(t *testing.T) {
	t.Parallel()

	src := newTestHTTPSource(t, compliance.CategorySafety, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{"rating":"satisfactory","out_of_service_orders":0}`)
	})
	wrapped := WithBreaker(src, nil)

	if wrapped.Category() != compliance.CategorySafety {
		t.Errorf("Category = %q, want %q", wrapped.Category(), compliance.CategorySafety)
	}
	env, err := wrapped.Fetch(context.Background(), "VIN1", "")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if env == nil || env.Safety == nil || env.Safety.Rating != "satisfactory" {
		t.Fatalf("env = %+v, want safety snapshot", env)
	}
}

func TestWithBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	src := newTestHTTPSource(t, compliance.CategoryEmissions, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	wrapped := WithBreaker(src, nil)

	for i := range breakerTripAfter {
		if _, err := wrapped.Fetch(context.Background(), "VIN1", ""); err == nil {
			t.Fatalf("fetch %d: expected error", i)
		}
	}

	_, err := wrapped.Fetch(context.Background(), "VIN1", "")
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("error = %v, want ErrOpenState", err)
	}
	if got := hits.Load(); got != breakerTripAfter {
		t.Errorf("provider hits = %d, want %d (open breaker must not call through)", got, breakerTripAfter)
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if r.Len() != 0 {
		t.Fatalf("Len = %d, want 0", r.Len())
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	first := NewHTTPSource(compliance.CategoryInsurance, srv.URL, srv.Client())
	second := NewHTTPSource(compliance.CategoryInsurance, srv.URL, srv.Client())
	r.Register(first)
	r.Register(second)

	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1 after re-registering same category", r.Len())
	}
	got, ok := r.Get(compliance.CategoryInsurance)
	if !ok || got != Source(second) {
		t.Error("Get returned the wrong source")
	}
	if _, ok := r.Get(compliance.CategoryEmissions); ok {
		t.Error("Get returned a source for an unregistered category")
	}
}

func TestNewHTTPRegistry_CoversEveryCategory(t *testing.T) {
	t.Parallel()

	r := NewHTTPRegistry("http://provider.internal", nil, nil)
	if r.Len() != len(compliance.Categories()) {
		t.Fatalf("Len = %d, want %d", r.Len(), len(compliance.Categories()))
	}
	for _, c := range compliance.Categories() {
		src, ok := r.Get(c)
		if !ok {
			t.Errorf("no source for %s", c)
			continue
		}
		if src.Category() != c {
			t.Errorf("source category = %s, want %s", src.Category(), c)
		}
	}
}
