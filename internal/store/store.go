// Package store persists calculation results and the emission factors
// behind them.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/devcarbon/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = eris.New("store: not found")

// ResultFilter specifies criteria for listing results.
type ResultFilter struct {
	ActivityType model.ActivityType `json:"activity_type,omitempty"`
	RegionKey    string             `json:"region_key,omitempty"`
	Since        time.Time          `json:"since,omitzero"`
	Limit        int                `json:"limit,omitempty"`
	Offset       int                `json:"offset,omitempty"`
}

// FactorRecord is one entry of the emission factor audit history.
type FactorRecord struct {
	ID         string               `json:"id"`
	RegionKey  string               `json:"region_key"`
	Factor     model.EmissionFactor `json:"factor"`
	RecordedAt time.Time            `json:"recorded_at"`
}

// Store defines the persistence interface for carbon results.
type Store interface {
	// Results
	SaveResult(ctx context.Context, r *model.CarbonCalculationResult) error
	SaveResults(ctx context.Context, results []model.CarbonCalculationResult) (int64, error)
	GetResult(ctx context.Context, id string) (*model.CarbonCalculationResult, error)
	ListResults(ctx context.Context, filter ResultFilter) ([]model.CarbonCalculationResult, error)

	// Factor history
	RecordFactor(ctx context.Context, regionKey string, f *model.EmissionFactor) error
	ListFactors(ctx context.Context, regionKey string, limit int) ([]FactorRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}
