package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/devcarbon/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS carbon_results (
	id            TEXT PRIMARY KEY,
	activity_id   TEXT,
	activity_type TEXT NOT NULL,
	region_key    TEXT NOT NULL,
	carbon_kg     REAL NOT NULL,
	total_kwh     REAL NOT NULL,
	tier          TEXT NOT NULL,
	factor_source TEXT NOT NULL,
	result        TEXT NOT NULL,
	calculated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS factor_records (
	id          TEXT PRIMARY KEY,
	region_key  TEXT NOT NULL,
	source      TEXT NOT NULL,
	kg_per_kwh  REAL NOT NULL,
	confidence  TEXT NOT NULL,
	factor      TEXT NOT NULL,
	recorded_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_carbon_results_calculated_at ON carbon_results(calculated_at);
CREATE INDEX IF NOT EXISTS idx_carbon_results_region ON carbon_results(region_key);
CREATE INDEX IF NOT EXISTS idx_factor_records_region ON factor_records(region_key, recorded_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteInsertResult = `INSERT INTO carbon_results
	(id, activity_id, activity_type, region_key, carbon_kg, total_kwh, tier, factor_source, result, calculated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET result = excluded.result, carbon_kg = excluded.carbon_kg, tier = excluded.tier`

func (s *SQLiteStore) SaveResult(ctx context.Context, r *model.CarbonCalculationResult) error {
	args, err := resultArgs(r)
	if err != nil {
		return eris.Wrap(err, "sqlite: save result")
	}
	_, err = s.db.ExecContext(ctx, sqliteInsertResult, args...)
	return eris.Wrapf(err, "sqlite: save result %s", r.ID)
}

func (s *SQLiteStore) SaveResults(ctx context.Context, results []model.CarbonCalculationResult) (int64, error) {
	if len(results) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin save results")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, sqliteInsertResult)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare save results")
	}
	defer stmt.Close() //nolint:errcheck

	for i := range results {
		args, err := resultArgs(&results[i])
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: save results")
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, eris.Wrapf(err, "sqlite: save result %s", results[i].ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit save results")
	}
	return int64(len(results)), nil
}

func (s *SQLiteStore) GetResult(ctx context.Context, id string) (*model.CarbonCalculationResult, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT result FROM carbon_results WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: result %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get result %s", id)
	}
	return decodeResult([]byte(raw))
}

func (s *SQLiteStore) ListResults(ctx context.Context, filter ResultFilter) ([]model.CarbonCalculationResult, error) {
	query := `SELECT result FROM carbon_results WHERE 1=1`
	var args []any

	if filter.ActivityType != "" {
		query += ` AND activity_type = ?`
		args = append(args, string(filter.ActivityType))
	}
	if filter.RegionKey != "" {
		query += ` AND region_key = ?`
		args = append(args, filter.RegionKey)
	}
	if !filter.Since.IsZero() {
		query += ` AND calculated_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY calculated_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list results")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CarbonCalculationResult
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan result")
		}
		r, err := decodeResult([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list results iterate")
}

func (s *SQLiteStore) RecordFactor(ctx context.Context, regionKey string, f *model.EmissionFactor) error {
	factorJSON, err := json.Marshal(f)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal factor")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO factor_records (id, region_key, source, kg_per_kwh, confidence, factor, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), regionKey, f.Source.Name, f.FactorKgPerKWh,
		string(f.ConfidenceRating), string(factorJSON), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: record factor %s", regionKey)
}

func (s *SQLiteStore) ListFactors(ctx context.Context, regionKey string, limit int) ([]FactorRecord, error) {
	query := `SELECT id, region_key, factor, recorded_at FROM factor_records`
	var args []any
	if regionKey != "" {
		query += ` WHERE region_key = ?`
		args = append(args, regionKey)
	}
	query += ` ORDER BY recorded_at DESC LIMIT ?`
	args = append(args, listLimit(limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list factors")
	}
	defer rows.Close() //nolint:errcheck

	var out []FactorRecord
	for rows.Next() {
		var rec FactorRecord
		var raw string
		if err := rows.Scan(&rec.ID, &rec.RegionKey, &raw, &rec.RecordedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan factor")
		}
		if err := json.Unmarshal([]byte(raw), &rec.Factor); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal factor")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list factors iterate")
}

// resultArgs flattens r into the carbon_results column order.
func resultArgs(r *model.CarbonCalculationResult) ([]any, error) {
	if r.ID == "" {
		return nil, eris.New("result has no id")
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, eris.Wrap(err, "marshal result")
	}
	return []any{
		r.ID,
		r.ActivityID,
		string(r.ActivityType),
		r.Region.Key(),
		r.CarbonMassKg,
		r.EnergyBreakdown.TotalKWh,
		string(r.ConfidenceTier),
		r.EmissionFactor.Source.Name,
		string(raw),
		r.CalculatedAt.UTC(),
	}, nil
}

func decodeResult(raw []byte) (*model.CarbonCalculationResult, error) {
	var r model.CarbonCalculationResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal result")
	}
	return &r, nil
}
