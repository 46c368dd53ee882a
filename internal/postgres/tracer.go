package postgres

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

// pingSQL is the statement pgx issues for connection pings. Pings run every
// few seconds from the pool's health loop and are kept out of query logs
// and metrics.
const pingSQL = ";"

// minLogDuration suppresses log lines for queries that finish faster than
// this. 0 logs every query.
const minLogDuration = 0 * time.Millisecond

// QueryObserver receives one callback per completed query. main installs a
// Prometheus histogram here.
type QueryObserver interface {
	ObserveQuery(ctx context.Context, method, route, outcome string, dur time.Duration)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, method, route, outcome string, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, method, route, outcome string, dur time.Duration) {
	f(ctx, method, route, outcome, dur)
}

var globalObserver atomic.Pointer[observerBox]

type observerBox struct{ QueryObserver }

// SetQueryObserver installs the process-wide query observer. Passing nil
// turns observation off.
func SetQueryObserver(o QueryObserver) {
	if o == nil {
		globalObserver.Store(nil)
		return
	}
	globalObserver.Store(&observerBox{QueryObserver: o})
}

func currentObserver() QueryObserver {
	if b := globalObserver.Load(); b != nil {
		return b.QueryObserver
	}
	return nil
}

// ReqDBStats accumulates the database work done while serving one request.
type ReqDBStats struct {
	mu            sync.Mutex
	queryCount    int
	totalDuration time.Duration
	errorCount    int
}

// AddQuery records one query execution.
func (s *ReqDBStats) AddQuery(dur time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryCount++
	s.totalDuration += dur
	if err != nil {
		s.errorCount++
	}
}

// Snapshot returns the counts accumulated so far.
func (s *ReqDBStats) Snapshot() (queries int, total time.Duration, errs int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryCount, s.totalDuration, s.errorCount
}

type reqStatsKey struct{}

// NewReqDBStatsContext attaches an empty ReqDBStats collector to ctx. The
// query tracer feeds it; middleware reads it back after the handler runs.
func NewReqDBStatsContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, reqStatsKey{}, &ReqDBStats{})
}

// ReqDBStatsFromContext returns the collector attached by
// NewReqDBStatsContext, if any.
func ReqDBStatsFromContext(ctx context.Context) (*ReqDBStats, bool) {
	s, ok := ctx.Value(reqStatsKey{}).(*ReqDBStats)
	return s, ok
}

type httpMethodKey struct{}

// WithHTTPMethod stashes the request method for query metric labels.
func WithHTTPMethod(ctx context.Context, method string) context.Context {
	if method == "" {
		return ctx
	}
	return context.WithValue(ctx, httpMethodKey{}, method)
}

func methodLabel(ctx context.Context) string {
	if m, ok := ctx.Value(httpMethodKey{}).(string); ok {
		return m
	}
	return "UNKNOWN"
}

func routeLabel(ctx context.Context) string {
	if rc := chi.RouteContext(ctx); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unknown"
}

// queryInfo is stashed in the context at query start and read back at query
// end.
type queryInfo struct {
	sql     string
	args    []any
	started time.Time
	caller  string
	handler string
}

type queryInfoKey struct{}

// logTracer decorates another pgx.QueryTracer (otelpgx) with a structured
// log line, a metric observation, and per-request stat accounting for every
// query.
type logTracer struct {
	inner pgx.QueryTracer
}

// withQueryLogging wraps inner so every query is logged and counted.
func withQueryLogging(inner pgx.QueryTracer) pgx.QueryTracer {
	return logTracer{inner: inner}
}

func (t logTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	info := &queryInfo{
		sql:     data.SQL,
		args:    data.Args,
		started: time.Now(),
	}
	info.caller, info.handler = callSite()

	// Inner runs first so the otelpgx span exists before it is annotated.
	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		if info.caller != "" {
			span.SetAttributes(attribute.String("db.caller", info.caller))
		}
		if info.handler != "" {
			span.SetAttributes(attribute.String("db.handler", info.handler))
		}
	}

	return context.WithValue(ctx, queryInfoKey{}, info)
}

func (t logTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	// Inner runs first so the span closes with the right end time.
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	info, ok := ctx.Value(queryInfoKey{}).(*queryInfo)
	if !ok {
		return
	}
	dur := time.Since(info.started)

	if s, ok := ReqDBStatsFromContext(ctx); ok {
		s.AddQuery(dur, data.Err)
	}

	if info.sql == pingSQL {
		return
	}

	if obs := currentObserver(); obs != nil {
		outcome := "ok"
		if data.Err != nil {
			outcome = "error"
		}
		obs.ObserveQuery(ctx, methodLabel(ctx), routeLabel(ctx), outcome, dur)
	}

	if minLogDuration > 0 && dur < minLogDuration && data.Err == nil {
		return
	}

	fields := []any{
		"db.statement", info.sql,
		"db.args", info.args,
		"db.duration", dur.Seconds(),
	}
	if tag := strings.TrimSpace(data.CommandTag.String()); tag != "" {
		op, _, _ := strings.Cut(tag, " ")
		fields = append(fields,
			"db.operation.name", strings.ToUpper(op),
			"pg.command_tag", tag,
			"db.rows", data.CommandTag.RowsAffected(),
		)
	}
	if info.caller != "" {
		fields = append(fields, "db.caller", info.caller)
	}
	if info.handler != "" {
		fields = append(fields, "db.handler", info.handler)
	}
	var pgErr *pgconn.PgError
	if errors.As(data.Err, &pgErr) {
		fields = append(fields,
			"db.error_code", pgErr.Code,
			"db.error_constraint", pgErr.ConstraintName,
		)
	}

	L := log.FromContext(ctx)
	if data.Err != nil {
		L.Error(ctx, data.Err, "db query failed", fields...)
		return
	}
	L.Info(ctx, "db query", fields...)
}

// callSite walks up past pgx and tracer frames to name the store method
// that issued the query and the handler above it.
func callSite() (caller, handler string) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	for {
		fr, more := frames.Next()
		if !more {
			return caller, handler
		}

		fn := fr.Function
		if strings.HasPrefix(fn, "runtime.") ||
			strings.Contains(fn, "github.com/jackc/pgx/v5") ||
			strings.Contains(fn, "github.com/exaring/otelpgx") ||
			strings.Contains(fn, "logTracer.TraceQuery") {
			continue
		}

		if caller == "" {
			caller = trimFuncName(fn)
			continue
		}
		// Helpers in this package sit between the store and its caller.
		if strings.Contains(fn, "/internal/postgres.") {
			continue
		}
		return caller, trimFuncName(fn)
	}
}

// trimFuncName reduces a fully qualified function name to receiver.method.
func trimFuncName(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 && i+1 < len(fn) {
		fn = fn[i+1:]
	}
	if i := strings.Index(fn, "."); i >= 0 && i+1 < len(fn) {
		fn = fn[i+1:]
	}
	return fn
}
