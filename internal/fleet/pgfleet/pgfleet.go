// Package pgfleet provides a PostgreSQL implementation of fleet.Store.
package pgfleet

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/fleetwatch/internal/fleet"
)

var tracer = otel.Tracer("github.com/linnemanlabs/fleetwatch/internal/fleet/pgfleet")

//go:embed schema.sql
var schema string

// Store persists reconciled vehicles in PostgreSQL. The pool is owned by the
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

const upsertVehicleSQL = `INSERT INTO fleet_vehicles (
	vin, category, make, model, year, license_plate, truck_number, dot_number,
	registration_number, registration_state, registration_expiry,
	insurance_carrier, policy_number, insurance_expiry, coverage_amount,
	has_registration, has_insurance, needs_review, sources, confidence, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,now())
ON CONFLICT (vin) DO UPDATE SET
	category            = EXCLUDED.category,
	make                = EXCLUDED.make,
	model               = EXCLUDED.model,
	year                = EXCLUDED.year,
	license_plate       = EXCLUDED.license_plate,
	truck_number        = EXCLUDED.truck_number,
	dot_number          = EXCLUDED.dot_number,
	registration_number = EXCLUDED.registration_number,
	registration_state  = EXCLUDED.registration_state,
	registration_expiry = EXCLUDED.registration_expiry,
	insurance_carrier   = EXCLUDED.insurance_carrier,
	policy_number       = EXCLUDED.policy_number,
	insurance_expiry    = EXCLUDED.insurance_expiry,
	coverage_amount     = EXCLUDED.coverage_amount,
	has_registration    = EXCLUDED.has_registration,
	has_insurance       = EXCLUDED.has_insurance,
	needs_review        = EXCLUDED.needs_review,
	sources             = EXCLUDED.sources,
	confidence          = EXCLUDED.confidence,
	updated_at          = now()`

// Apply upserts each vehicle by VIN. Row failures are reported per vehicle
// in the result and never roll back the rows that landed.
func (s *Store) Apply(ctx context.Context, vehicles []*fleet.ReconciledVehicle) (*fleet.ApplyResult, error) {
	ctx, span := tracer.Start(ctx, "pgfleet.Apply", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
		attribute.Int("fleetwatch.vehicles.count", len(vehicles)),
	))
	defer span.End()

	res := &fleet.ApplyResult{}
	for _, v := range vehicles {
		if v == nil || v.VIN == "" {
			res.Failed++
			res.Errors = append(res.Errors, fleet.ApplyError{Err: "missing vin"})
			continue
		}

		sourcesJSON, err := json.Marshal(v.Sources)
		if err != nil {
			span.RecordError(err)
			res.Failed++
			res.Errors = append(res.Errors, fleet.ApplyError{VIN: v.VIN, Err: err.Error()})
			continue
		}

		_, err = s.pool.Exec(ctx, upsertVehicleSQL,
			v.VIN, string(v.Category), v.Make, v.Model, v.Year, v.LicensePlate, v.TruckNumber, v.DOTNumber,
			v.RegistrationNumber, v.RegistrationState, v.RegistrationExpiry,
			v.InsuranceCarrier, v.PolicyNumber, v.InsuranceExpiry, v.CoverageAmount,
			v.HasRegistration, v.HasInsurance, v.NeedsReview, sourcesJSON, v.Confidence,
		)
		if err != nil {
			span.RecordError(err)
			res.Failed++
			res.Errors = append(res.Errors, fleet.ApplyError{VIN: v.VIN, Err: err.Error()})
			continue
		}
		res.Processed++
	}

	span.SetAttributes(
		attribute.Int("fleetwatch.vehicles.processed", res.Processed),
		attribute.Int("fleetwatch.vehicles.failed", res.Failed),
	)
	return res, nil
}
