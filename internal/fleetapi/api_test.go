package fleetapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/fleetwatch/internal/compliance"
	"github.com/linnemanlabs/fleetwatch/internal/compliance/memstore"
	"github.com/linnemanlabs/fleetwatch/internal/datasource"
	"github.com/linnemanlabs/fleetwatch/internal/fleet"
	"github.com/linnemanlabs/fleetwatch/internal/fleet/memfleet"
	"github.com/linnemanlabs/fleetwatch/internal/monitor"
	"github.com/linnemanlabs/fleetwatch/internal/reconcile"
)

// stubSource serves a fixed snapshot for one category.
type stubSource struct {
	category compliance.Category
	env      *compliance.SnapshotEnvelope
}

func (s *stubSource) Category() compliance.Category { return s.category }

func (s *stubSource) Fetch(context.Context, string, string) (*compliance.SnapshotEnvelope, error) {
	return s.env, nil
}

func insuranceSource(expiresAt time.Time) *stubSource {
	return &stubSource{
		category: compliance.CategoryInsurance,
		env: &compliance.SnapshotEnvelope{
			Insurance: &compliance.InsuranceSnapshot{
				Active:    true,
				ExpiresAt: &expiresAt,
				Carrier:   "Acme Mutual",
			},
		},
	}
}

type testEnv struct {
	router chi.Router
	sched  *monitor.Scheduler
	fleet  *memfleet.Store
}

// newTestEnv wires the API against in-memory stores and a real scheduler.
// With no sources given, a healthy year-out insurance source is registered so
// checks produce a status.
func newTestEnv(t *testing.T, sources ...datasource.Source) *testEnv {
	t.Helper()

	reg := datasource.NewRegistry()
	if len(sources) == 0 {
		sources = []datasource.Source{insuranceSource(time.Now().Add(365 * 24 * time.Hour))}
	}
	for _, src := range sources {
		reg.Register(src)
	}

	sched := monitor.New(memstore.New(), reg, compliance.DefaultThresholds(), 0, nil, log.Nop(), nil)
	t.Cleanup(func() { sched.StopAll() })

	fleetStore := memfleet.New()
	api := New(nil, reconcile.New(reconcile.LastWriteWins), fleetStore, sched)

	r := chi.NewRouter()
	api.RegisterRoutes(r)

	return &testEnv{router: r, sched: sched, fleet: fleetStore}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

//  New / constructor

func TestNew_NilLogger(t *testing.T) {
	t.Parallel()

	api := New(nil, reconcile.New(reconcile.LastWriteWins), memfleet.New(), newTestEnv(t).sched)
	if api == nil {
		t.Fatal("New(nil, ...) returned nil API")
	}
	if api.logger == nil {
		t.Fatal("New(nil, ...) left logger nil; expected Nop logger")
	}
}

func TestNew_MissingDeps_Panics(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	engine := reconcile.New(reconcile.LastWriteWins)
	store := memfleet.New()

	tests := []struct {
		name string
		call func()
	}{
		{"nil engine", func() { New(nil, nil, store, env.sched) }},
		{"nil fleet store", func() { New(nil, engine, nil, env.sched) }},
		{"nil monitor", func() { New(nil, engine, store, nil) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if r := recover(); r == nil {
					t.Fatalf("%s: New did not panic", tt.name)
				}
			}()
			tt.call()
		})
	}
}

// Routing

func TestRegisterRoutes_Batches(t *testing.T) {
	t.Parallel()

	validBody := `{"records":[{"vin":"1FTSW21P88EB00001","document_type":"registration"}]}`

	tests := []struct {
		name       string
		method     string
		body       string
		wantStatus int
	}{
		{"POST valid batch", http.MethodPost, validBody, http.StatusAccepted},
		{"POST invalid JSON", http.MethodPost, `{bad`, http.StatusBadRequest},
		{"POST empty records", http.MethodPost, `{"records":[]}`, http.StatusBadRequest},
		{"GET list", http.MethodGet, "", http.StatusOK},
		{"PUT not allowed", http.MethodPut, "", http.StatusMethodNotAllowed},
		{"DELETE not allowed", http.MethodDelete, "", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(t)
			rec := env.do(t, tt.method, "/api/v1/batches", tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("%s /api/v1/batches = %d, want %d", tt.method, rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRegisterRoutes_MonitoringAndAlerts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"start monitoring", http.MethodPost, "/api/v1/vehicles/truck-1/monitor", `{"vin":"1FTSW21P88EB00001"}`, http.StatusNoContent},
		{"stop unknown vehicle", http.MethodDelete, "/api/v1/vehicles/truck-1/monitor", "", http.StatusNotFound},
		{"status of untracked vehicle", http.MethodGet, "/api/v1/vehicles/truck-1/status", "", http.StatusNotFound},
		{"events of untracked vehicle", http.MethodGet, "/api/v1/vehicles/truck-1/events", "", http.StatusNotFound},
		{"stop all", http.MethodDelete, "/api/v1/monitoring", "", http.StatusOK},
		{"reconciliation report", http.MethodGet, "/api/v1/reconciliation", "", http.StatusOK},
		{"apply reconciliation", http.MethodPost, "/api/v1/reconciliation/apply", "", http.StatusOK},
		{"list alerts", http.MethodGet, "/api/v1/alerts", "", http.StatusOK},
		{"resolve unknown alert", http.MethodPost, "/api/v1/alerts/01ABC/resolve", "", http.StatusNotFound},
		{"stats", http.MethodGet, "/api/v1/stats", "", http.StatusOK},
		{"unknown path", http.MethodGet, "/api/v1/nope", "", http.StatusNotFound},
		{"monitor wrong method", http.MethodGet, "/api/v1/vehicles/truck-1/monitor", "", http.StatusMethodNotAllowed},
		{"stats wrong method", http.MethodPost, "/api/v1/stats", "", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(t)
			rec := env.do(t, tt.method, tt.path, tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.wantStatus)
			}
		})
	}
}

// Batch ingestion

func TestSubmitBatch_Summary(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	body := `{"records":[
		{"vin":"1FTSW21P88EB00001","document_type":"Registration","source_file_name":"reg.pdf"},
		{"vin":"1FTSW21P88EB00001","document_type":"insurance","source_file_name":"ins.pdf"},
		{"vin":"  ","document_type":"lease agreement","source_file_name":"lease.pdf","needs_review":true},
		{"vin":"1XKAD49X5KJ00002","document_type":"title","source_file_name":"reg.pdf"}
	]}`

	rec := env.do(t, http.MethodPost, "/api/v1/batches", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /api/v1/batches = %d, want %d: %s", rec.Code, http.StatusAccepted, rec.Body.String())
	}

	var sum BatchSummary
	if err := json.NewDecoder(rec.Body).Decode(&sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}

	if sum.BatchID == "" {
		t.Error("summary has empty batch_id")
	}
	if sum.Received != 4 {
		t.Errorf("Received = %d, want 4", sum.Received)
	}
	if sum.MissingVIN != 1 {
		t.Errorf("MissingVIN = %d, want 1", sum.MissingVIN)
	}
	if sum.NeedsReview != 1 {
		t.Errorf("NeedsReview = %d, want 1", sum.NeedsReview)
	}
	if sum.FileCount != 3 {
		t.Errorf("FileCount = %d, want 3", sum.FileCount)
	}

	wantByType := map[string]int{"registration": 1, "insurance": 1, "title": 1, "other": 1}
	for typ, want := range wantByType {
		if sum.ByType[typ] != want {
			t.Errorf("ByType[%q] = %d, want %d", typ, sum.ByType[typ], want)
		}
	}

	rec = env.do(t, http.MethodGet, "/api/v1/batches", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/v1/batches = %d, want %d", rec.Code, http.StatusOK)
	}

	var list struct {
		Batches []reconcile.BatchInfo `json:"batches"`
		Count   int                   `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode batch list: %v", err)
	}
	if list.Count != 1 || len(list.Batches) != 1 {
		t.Fatalf("batch list count = %d (len %d), want 1", list.Count, len(list.Batches))
	}
	if list.Batches[0].ID != sum.BatchID {
		t.Errorf("listed batch ID = %q, want %q", list.Batches[0].ID, sum.BatchID)
	}
	if list.Batches[0].Records != 4 {
		t.Errorf("listed batch records = %d, want 4", list.Batches[0].Records)
	}
}

// Reconciliation

func TestReconcileAndApply(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	body := `{"records":[
		{"vin":"1FTSW21P88EB00001","document_type":"registration","registration_number":"REG-99","registration_state":"TX","source_file_name":"reg.pdf"},
		{"vin":"1ftsw21p88eb00001","document_type":"insurance","insurance_carrier":"Acme Mutual","policy_number":"P-1","source_file_name":"ins.pdf"},
		{"vin":"1XKAD49X5KJ00002","document_type":"title","source_file_name":"title.pdf"}
	]}`
	if rec := env.do(t, http.MethodPost, "/api/v1/batches", body); rec.Code != http.StatusAccepted {
		t.Fatalf("POST /api/v1/batches = %d: %s", rec.Code, rec.Body.String())
	}

	rec := env.do(t, http.MethodGet, "/api/v1/reconciliation", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/v1/reconciliation = %d, want %d", rec.Code, http.StatusOK)
	}

	var res fleet.ReconciliationResult
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode reconciliation: %v", err)
	}
	if res.Summary.TotalVehicles != 2 {
		t.Errorf("Summary.TotalVehicles = %d, want 2", res.Summary.TotalVehicles)
	}
	if len(res.Complete) != 1 || res.Complete[0].VIN != "1FTSW21P88EB00001" {
		t.Fatalf("Complete = %+v, want one vehicle with canonical VIN", res.Complete)
	}
	if len(res.Orphans) != 1 {
		t.Errorf("Orphans = %d vehicles, want 1", len(res.Orphans))
	}

	rec = env.do(t, http.MethodPost, "/api/v1/reconciliation/apply", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/v1/reconciliation/apply = %d, want %d", rec.Code, http.StatusOK)
	}

	var applied fleet.ApplyResult
	if err := json.NewDecoder(rec.Body).Decode(&applied); err != nil {
		t.Fatalf("decode apply result: %v", err)
	}
	if applied.Processed != 2 || applied.Failed != 0 {
		t.Errorf("apply = %d processed, %d failed, want 2/0", applied.Processed, applied.Failed)
	}

	if env.fleet.Len() != 2 {
		t.Errorf("fleet store holds %d vehicles, want 2", env.fleet.Len())
	}
	v, ok := env.fleet.Get("1FTSW21P88EB00001")
	if !ok {
		t.Fatal("fleet store missing reconciled vehicle")
	}
	if v.Category != fleet.CategoryComplete {
		t.Errorf("stored vehicle category = %q, want %q", v.Category, fleet.CategoryComplete)
	}
}

// Monitoring logic

func TestStartMonitoring_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"invalid JSON", `{bad`},
		{"missing vin", `{}`},
		{"negative interval", `{"vin":"1FTSW21P88EB00001","check_interval_seconds":-5}`},
		{"unordered thresholds", `{"vin":"1FTSW21P88EB00001","thresholds":{"critical_days":90,"high_days":30,"medium_days":7}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(t)
			rec := env.do(t, http.MethodPost, "/api/v1/vehicles/truck-1/monitor", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("POST monitor = %d, want %d", rec.Code, http.StatusBadRequest)
			}

			var body map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if body["error"] == "" {
				t.Error("error body missing error message")
			}
		})
	}
}

func TestMonitorLifecycle(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/vehicles/truck-1/monitor", `{"vin":"1ftsw21p88eb00001"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("POST monitor = %d: %s", rec.Code, rec.Body.String())
	}

	var status compliance.Status
	waitFor(t, 2*time.Second, func() bool {
		rec := env.do(t, http.MethodGet, "/api/v1/vehicles/truck-1/status", "")
		if rec.Code != http.StatusOK {
			return false
		}
		if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
			return false
		}
		return true
	}, "vehicle status never became available")

	if status.VehicleID != "truck-1" {
		t.Errorf("status.VehicleID = %q, want %q", status.VehicleID, "truck-1")
	}
	if status.VIN != "1FTSW21P88EB00001" {
		t.Errorf("status.VIN = %q, want normalized VIN", status.VIN)
	}
	if status.State != compliance.StateCompliant {
		t.Errorf("status.State = %q, want %q", status.State, compliance.StateCompliant)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/v1/stats = %d, want %d", rec.Code, http.StatusOK)
	}
	var stats monitor.Stats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalVehicles != 1 || stats.ActiveMonitoring != 1 {
		t.Errorf("stats = %d vehicles, %d monitored, want 1/1", stats.TotalVehicles, stats.ActiveMonitoring)
	}

	if rec := env.do(t, http.MethodDelete, "/api/v1/vehicles/truck-1/monitor", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE monitor = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/vehicles/truck-1/status", ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET status after stop = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if rec := env.do(t, http.MethodDelete, "/api/v1/vehicles/truck-1/monitor", ""); rec.Code != http.StatusNotFound {
		t.Errorf("second DELETE monitor = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

// Alert flow

func TestResolveAlert_Flow(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, insuranceSource(time.Now().Add(3*24*time.Hour)))

	rec := env.do(t, http.MethodPost, "/api/v1/vehicles/truck-9/monitor", `{"vin":"1XKAD49X5KJ00002"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("POST monitor = %d: %s", rec.Code, rec.Body.String())
	}

	var listed struct {
		Alerts []*compliance.Alert `json:"alerts"`
		Count  int                 `json:"count"`
	}
	waitFor(t, 2*time.Second, func() bool {
		rec := env.do(t, http.MethodGet, "/api/v1/alerts", "")
		if rec.Code != http.StatusOK {
			return false
		}
		listed = struct {
			Alerts []*compliance.Alert `json:"alerts"`
			Count  int                 `json:"count"`
		}{}
		if err := json.NewDecoder(rec.Body).Decode(&listed); err != nil {
			return false
		}
		return listed.Count > 0
	}, "no alert surfaced for expiring insurance")

	al := listed.Alerts[0]
	if al.Severity != compliance.SeverityCritical {
		t.Errorf("alert severity = %q, want %q", al.Severity, compliance.SeverityCritical)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/alerts/"+al.ID+"/resolve", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("POST resolve = %d: %s", rec.Code, rec.Body.String())
	}
	var resolved compliance.Alert
	if err := json.NewDecoder(rec.Body).Decode(&resolved); err != nil {
		t.Fatalf("decode resolved alert: %v", err)
	}
	if resolved.ResolvedAt == nil {
		t.Error("resolved alert has nil resolved_at")
	}

	// Resolving twice is idempotent.
	if rec := env.do(t, http.MethodPost, "/api/v1/alerts/"+al.ID+"/resolve", ""); rec.Code != http.StatusOK {
		t.Errorf("second resolve = %d, want %d", rec.Code, http.StatusOK)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/alerts", "")
	var after struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&after); err != nil {
		t.Fatalf("decode alert list: %v", err)
	}
	if after.Count != 0 {
		t.Errorf("active alerts after resolve = %d, want 0", after.Count)
	}
}

func TestStopAllMonitoring(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	for _, v := range []struct{ id, vin string }{
		{"truck-1", "1FTSW21P88EB00001"},
		{"truck-2", "1XKAD49X5KJ00002"},
	} {
		rec := env.do(t, http.MethodPost, "/api/v1/vehicles/"+v.id+"/monitor", `{"vin":"`+v.vin+`"}`)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("POST monitor %s = %d", v.id, rec.Code)
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		rec := env.do(t, http.MethodGet, "/api/v1/vehicles/truck-2/status", "")
		return rec.Code == http.StatusOK
	}, "second vehicle never produced a status")

	rec := env.do(t, http.MethodDelete, "/api/v1/monitoring", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("DELETE /api/v1/monitoring = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode stop-all body: %v", err)
	}
	if body["stopped"] != 2 {
		t.Errorf("stopped = %d, want 2", body["stopped"])
	}

	rec = env.do(t, http.MethodGet, "/api/v1/stats", "")
	var stats monitor.Stats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.ActiveMonitoring != 0 {
		t.Errorf("ActiveMonitoring after stop-all = %d, want 0", stats.ActiveMonitoring)
	}
	// Stored history survives a stop-all.
	if stats.TotalVehicles == 0 {
		t.Error("TotalVehicles = 0 after stop-all; stored statuses should remain")
	}
}
