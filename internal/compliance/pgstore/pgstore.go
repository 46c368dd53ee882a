// Package pgstore provides a PostgreSQL implementation of compliance.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/fleetwatch/internal/compliance"
)

var tracer = otel.Tracer("github.com/linnemanlabs/fleetwatch/internal/compliance/pgstore")

//go:embed schema.sql
var schema string

// Store persists alerts and statuses in PostgreSQL. The pool is owned by the
// caller; Store never closes it.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const alertColumns = `id, alert_key, vehicle_id, vin, alert_type, severity, title, description,
	due_date, days_until_due, source, action_required, estimated_cost, jurisdictions, created_at, resolved_at`

// upsertAlertSQL implements the stable-key contract in one statement: an
// active row keeps its id and created_at and refreshes the rest; a resolved
// row with an unchanged due date is skipped; a resolved row with a moved due
// date is replaced wholesale and re-opened.
const upsertAlertSQL = `INSERT INTO compliance_alerts (` + alertColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,NULL)
ON CONFLICT (vehicle_id, alert_key) DO UPDATE SET
	id              = CASE WHEN compliance_alerts.resolved_at IS NULL THEN compliance_alerts.id ELSE EXCLUDED.id END,
	vin             = EXCLUDED.vin,
	alert_type      = EXCLUDED.alert_type,
	severity        = EXCLUDED.severity,
	title           = EXCLUDED.title,
	description     = EXCLUDED.description,
	due_date        = EXCLUDED.due_date,
	days_until_due  = EXCLUDED.days_until_due,
	source          = EXCLUDED.source,
	action_required = EXCLUDED.action_required,
	estimated_cost  = EXCLUDED.estimated_cost,
	jurisdictions   = EXCLUDED.jurisdictions,
	created_at      = CASE WHEN compliance_alerts.resolved_at IS NULL THEN compliance_alerts.created_at ELSE EXCLUDED.created_at END,
	resolved_at     = NULL
WHERE compliance_alerts.resolved_at IS NULL
   OR compliance_alerts.due_date IS DISTINCT FROM EXCLUDED.due_date`

// UpsertAlerts applies one cycle's alerts per the Store contract.
func (s *Store) UpsertAlerts(ctx context.Context, vehicleID string, refreshed []compliance.Category, alerts []*compliance.Alert) error {
	ctx, span := tracer.Start(ctx, "pgstore.UpsertAlerts", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
		attribute.String("fleetwatch.vehicle.id", vehicleID),
		attribute.Int("fleetwatch.alerts.count", len(alerts)),
	))
	defer span.End()

	touched := make(map[compliance.Category]bool, len(refreshed))
	for _, c := range refreshed {
		touched[c] = true
	}
	for _, a := range alerts {
		touched[a.Source] = true
	}
	sources := make([]string, 0, len(touched))
	for c := range touched {
		sources = append(sources, string(c))
	}
	keys := make([]string, 0, len(alerts))
	for _, a := range alerts {
		keys = append(keys, a.Key)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	for _, a := range alerts {
		jurisdictionsJSON, err := json.Marshal(a.Jurisdictions)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("marshal jurisdictions: %w", err)
		}
		_, err = tx.Exec(ctx, upsertAlertSQL,
			a.ID, a.Key, vehicleID, a.VIN, string(a.Type), string(a.Severity), a.Title, a.Description,
			a.DueDate, a.DaysUntilDue, string(a.Source), a.ActionRequired, a.EstimatedCost,
			jurisdictionsJSON, a.CreatedAt,
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("upsert alert %s: %w", a.Key, err)
		}
	}

	// alerts in refreshed categories that did not fire this cycle have cleared
	_, err = tx.Exec(ctx,
		`UPDATE compliance_alerts SET resolved_at = now()
		 WHERE vehicle_id = $1 AND resolved_at IS NULL
		   AND source = ANY($2) AND NOT (alert_key = ANY($3))`,
		vehicleID, sources, keys,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("resolve cleared alerts: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// PutStatus inserts or replaces the vehicle's status.
func (s *Store) PutStatus(ctx context.Context, st *compliance.Status) error {
	ctx, span := tracer.Start(ctx, "pgstore.PutStatus", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
		attribute.String("fleetwatch.vehicle.id", st.VehicleID),
	))
	defer span.End()

	categoriesJSON, err := json.Marshal(st.Categories)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("marshal categories: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO vehicle_statuses (vehicle_id, vin, overall_score, state, categories, checked_at)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (vehicle_id) DO UPDATE SET
			vin           = EXCLUDED.vin,
			overall_score = EXCLUDED.overall_score,
			state         = EXCLUDED.state,
			categories    = EXCLUDED.categories,
			checked_at    = EXCLUDED.checked_at`,
		st.VehicleID, st.VIN, st.OverallScore, string(st.State), categoriesJSON, st.CheckedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert status: %w", err)
	}
	return nil
}

// GetStatus retrieves the latest status for a vehicle.
func (s *Store) GetStatus(ctx context.Context, vehicleID string) (*compliance.Status, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetStatus", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
		attribute.String("fleetwatch.vehicle.id", vehicleID),
	))
	defer span.End()

	var (
		st             compliance.Status
		state          string
		categoriesJSON []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT vehicle_id, vin, overall_score, state, categories, checked_at
		 FROM vehicle_statuses WHERE vehicle_id = $1`,
		vehicleID,
	).Scan(&st.VehicleID, &st.VIN, &st.OverallScore, &state, &categoriesJSON, &st.CheckedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("scan status: %w", err)
	}

	st.State = compliance.State(state)
	if err := json.Unmarshal(categoriesJSON, &st.Categories); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("unmarshal categories: %w", err)
	}
	return &st, true, nil
}

// ActiveAlerts returns unresolved alerts across all vehicles, sorted by
// severity rank then ascending days until due.
func (s *Store) ActiveAlerts(ctx context.Context) ([]*compliance.Alert, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ActiveAlerts", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT `+alertColumns+` FROM compliance_alerts
		 WHERE resolved_at IS NULL
		 ORDER BY CASE severity
			WHEN 'critical' THEN 0
			WHEN 'high' THEN 1
			WHEN 'medium' THEN 2
			WHEN 'low' THEN 3
			ELSE 4 END,
		 days_until_due, id`,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []*compliance.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return out, nil
}

// ResolveAlert marks an alert resolved, keeping the original timestamp when
// it already was.
func (s *Store) ResolveAlert(ctx context.Context, id string) (*compliance.Alert, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ResolveAlert", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
		attribute.String("fleetwatch.alert.id", id),
	))
	defer span.End()

	row := s.pool.QueryRow(ctx,
		`UPDATE compliance_alerts SET resolved_at = COALESCE(resolved_at, now())
		 WHERE id = $1
		 RETURNING `+alertColumns,
		id,
	)
	a, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	return a, true, nil
}

// DeleteVehicle removes the vehicle's status and all of its alerts.
func (s *Store) DeleteVehicle(ctx context.Context, vehicleID string) error {
	ctx, span := tracer.Start(ctx, "pgstore.DeleteVehicle", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "DELETE"),
		attribute.String("fleetwatch.vehicle.id", vehicleID),
	))
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	if _, err := tx.Exec(ctx, `DELETE FROM compliance_alerts WHERE vehicle_id = $1`, vehicleID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("delete alerts: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM vehicle_statuses WHERE vehicle_id = $1`, vehicleID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("delete status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Stats summarizes current store contents.
func (s *Store) Stats(ctx context.Context) (*compliance.StoreStats, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Stats", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var stats compliance.StoreStats
	err := s.pool.QueryRow(ctx,
		`SELECT
			(SELECT COUNT(*) FROM vehicle_statuses),
			(SELECT COALESCE(AVG(overall_score), 0) FROM vehicle_statuses),
			COUNT(*) FILTER (WHERE resolved_at IS NULL),
			COUNT(*) FILTER (WHERE resolved_at IS NULL AND severity = 'critical')
		 FROM compliance_alerts`,
	).Scan(&stats.Vehicles, &stats.AverageScore, &stats.ActiveAlerts, &stats.CriticalAlerts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("scan stats: %w", err)
	}
	return &stats, nil
}

// scanAlert scans one alert row.
func scanAlert(row pgx.Row) (*compliance.Alert, error) {
	var (
		a                 compliance.Alert
		typ, sev, source  string
		jurisdictionsJSON []byte
	)
	err := row.Scan(
		&a.ID, &a.Key, &a.VehicleID, &a.VIN, &typ, &sev, &a.Title, &a.Description,
		&a.DueDate, &a.DaysUntilDue, &source, &a.ActionRequired, &a.EstimatedCost,
		&jurisdictionsJSON, &a.CreatedAt, &a.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("scan alert: %w", err)
	}

	a.Type = compliance.AlertType(typ)
	a.Severity = compliance.Severity(sev)
	a.Source = compliance.Category(source)
	if len(jurisdictionsJSON) > 0 {
		if err := json.Unmarshal(jurisdictionsJSON, &a.Jurisdictions); err != nil {
			return nil, fmt.Errorf("unmarshal jurisdictions: %w", err)
		}
	}
	return &a, nil
}
