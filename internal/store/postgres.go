package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/devcarbon/internal/db"
	"github.com/sells-group/devcarbon/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// resultColumns is the carbon_results column order used by resultArgs.
var resultColumns = []string{
	"id", "activity_id", "activity_type", "region_key", "carbon_kg",
	"total_kwh", "tier", "factor_source", "result", "calculated_at",
}

// pgQueries holds the fixed statements reused by the store.
var pgQueries = map[string]string{
	"insert_result": `INSERT INTO carbon_results (id, activity_id, activity_type, region_key, carbon_kg, total_kwh, tier, factor_source, result, calculated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET result = EXCLUDED.result, carbon_kg = EXCLUDED.carbon_kg, tier = EXCLUDED.tier`,
	"get_result":    `SELECT result FROM carbon_results WHERE id = $1`,
	"record_factor": `INSERT INTO factor_records (id, region_key, source, kg_per_kwh, confidence, factor, recorded_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS carbon_results (
	id            TEXT PRIMARY KEY,
	activity_id   TEXT,
	activity_type TEXT NOT NULL,
	region_key    TEXT NOT NULL,
	carbon_kg     DOUBLE PRECISION NOT NULL,
	total_kwh     DOUBLE PRECISION NOT NULL,
	tier          TEXT NOT NULL,
	factor_source TEXT NOT NULL,
	result        JSONB NOT NULL,
	calculated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS factor_records (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	region_key  TEXT NOT NULL,
	source      TEXT NOT NULL,
	kg_per_kwh  DOUBLE PRECISION NOT NULL,
	confidence  TEXT NOT NULL,
	factor      JSONB NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_carbon_results_calculated_at ON carbon_results(calculated_at DESC);
CREATE INDEX IF NOT EXISTS idx_carbon_results_region ON carbon_results(region_key);
CREATE INDEX IF NOT EXISTS idx_factor_records_region ON factor_records(region_key, recorded_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveResult(ctx context.Context, r *model.CarbonCalculationResult) error {
	args, err := resultArgs(r)
	if err != nil {
		return eris.Wrap(err, "postgres: save result")
	}
	_, err = s.pool.Exec(ctx, pgQueries["insert_result"], args...)
	return eris.Wrapf(err, "postgres: save result %s", r.ID)
}

// SaveResults bulk-loads results over COPY, updating rows whose id exists.
func (s *PostgresStore) SaveResults(ctx context.Context, results []model.CarbonCalculationResult) (int64, error) {
	rows := make([][]any, 0, len(results))
	for i := range results {
		args, err := resultArgs(&results[i])
		if err != nil {
			return 0, eris.Wrap(err, "postgres: save results")
		}
		rows = append(rows, args)
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "carbon_results",
		Columns:      resultColumns,
		ConflictKeys: []string{"id"},
		UpdateCols:   []string{"result", "carbon_kg", "tier"},
	}, rows)
	return n, eris.Wrap(err, "postgres: save results")
}

func (s *PostgresStore) GetResult(ctx context.Context, id string) (*model.CarbonCalculationResult, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, pgQueries["get_result"], id).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: result %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get result %s", id)
	}
	return decodeResult(raw)
}

func (s *PostgresStore) ListResults(ctx context.Context, filter ResultFilter) ([]model.CarbonCalculationResult, error) {
	query := `SELECT result FROM carbon_results WHERE true`
	args := []any{}
	argIdx := 1

	if filter.ActivityType != "" {
		query += fmt.Sprintf(` AND activity_type = $%d`, argIdx)
		args = append(args, string(filter.ActivityType))
		argIdx++
	}
	if filter.RegionKey != "" {
		query += fmt.Sprintf(` AND region_key = $%d`, argIdx)
		args = append(args, filter.RegionKey)
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND calculated_at >= $%d`, argIdx)
		args = append(args, filter.Since.UTC())
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY calculated_at DESC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list results")
	}
	defer rows.Close()

	var out []model.CarbonCalculationResult
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "postgres: scan result")
		}
		r, err := decodeResult(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list results iterate")
}

func (s *PostgresStore) RecordFactor(ctx context.Context, regionKey string, f *model.EmissionFactor) error {
	factorJSON, err := json.Marshal(f)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal factor")
	}
	_, err = s.pool.Exec(ctx, pgQueries["record_factor"],
		uuid.New().String(), regionKey, f.Source.Name, f.FactorKgPerKWh,
		string(f.ConfidenceRating), factorJSON, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: record factor %s", regionKey)
}

func (s *PostgresStore) ListFactors(ctx context.Context, regionKey string, limit int) ([]FactorRecord, error) {
	query := `SELECT id, region_key, factor, recorded_at FROM factor_records`
	args := []any{}
	if regionKey != "" {
		query += ` WHERE region_key = $1`
		args = append(args, regionKey)
	}
	query += fmt.Sprintf(` ORDER BY recorded_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, listLimit(limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list factors")
	}
	defer rows.Close()

	var out []FactorRecord
	for rows.Next() {
		var rec FactorRecord
		var raw []byte
		if err := rows.Scan(&rec.ID, &rec.RegionKey, &raw, &rec.RecordedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan factor")
		}
		if err := json.Unmarshal(raw, &rec.Factor); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal factor")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list factors iterate")
}
