// Package carbon turns development activities into carbon estimates.
package carbon

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/devcarbon/internal/confidence"
	"github.com/sells-group/devcarbon/internal/energy"
	"github.com/sells-group/devcarbon/internal/events"
	"github.com/sells-group/devcarbon/internal/model"
)

// MethodologyVersion identifies the energy and confidence model revision
// stamped on every result.
const MethodologyVersion = "2025.1"

// DefaultConcurrency bounds CalculateBatch fan-out.
const DefaultConcurrency = 8

// FactorResolver returns the emission factor for a region. It must never
// return nil.
type FactorResolver interface {
	Resolve(ctx context.Context, region model.Region) *model.EmissionFactor
}

// Calculator combines the energy model with resolved emission factors.
type Calculator struct {
	energy      *energy.Model
	resolver    FactorResolver
	publisher   events.Publisher
	concurrency int

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// Option configures the Calculator.
type Option func(*Calculator)

// WithPublisher sets where completed results are announced.
func WithPublisher(p events.Publisher) Option {
	return func(c *Calculator) { c.publisher = p }
}

// WithConcurrency bounds the number of activities CalculateBatch works on at once.
func WithConcurrency(n int) Option {
	return func(c *Calculator) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// NewCalculator creates a Calculator.
func NewCalculator(m *energy.Model, resolver FactorResolver, opts ...Option) *Calculator {
	c := &Calculator{
		energy:      m,
		resolver:    resolver,
		concurrency: DefaultConcurrency,
		nowFunc:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Calculate estimates the carbon mass of a single activity. Factor
// resolution cannot fail, so the only errors are invalid activities.
func (c *Calculator) Calculate(ctx context.Context, a model.Activity) (*model.CarbonCalculationResult, error) {
	if err := a.Validate(); err != nil {
		return nil, eris.Wrap(err, "carbon: invalid activity")
	}
	a.Region = a.Region.Normalize()

	breakdown := c.energy.Estimate(a)
	factor := c.resolver.Resolve(ctx, a.Region)
	cf := confidence.Factors(a, factor)

	result := &model.CarbonCalculationResult{
		ID:                 uuid.New().String(),
		ActivityID:         a.ID,
		ActivityType:       a.Type,
		Region:             a.Region,
		CarbonMassKg:       Mass(breakdown.TotalKWh, factor.FactorKgPerKWh),
		ConfidenceTier:     confidence.Tier(cf),
		EnergyBreakdown:    breakdown,
		EmissionFactor:     *factor,
		MethodologyVersion: MethodologyVersion,
		ConfidenceFactors:  cf,
		CalculatedAt:       c.nowFunc().UTC(),
	}

	zap.L().Debug("carbon: calculated",
		zap.String("result_id", result.ID),
		zap.String("activity_type", string(a.Type)),
		zap.String("region", a.Region.Key()),
		zap.Float64("total_kwh", breakdown.TotalKWh),
		zap.Float64("carbon_kg", result.CarbonMassKg),
		zap.String("tier", string(result.ConfidenceTier)),
	)

	if c.publisher != nil {
		c.publisher.Publish(events.Event{
			Type:       events.CalculationCompleted,
			OccurredAt: result.CalculatedAt,
			Result:     *result,
		})
	}
	return result, nil
}

// BatchItem is the outcome for one activity of a batch.
type BatchItem struct {
	Activity model.Activity
	Result   *model.CarbonCalculationResult
	Err      error
}

// CalculateBatch estimates every activity with bounded concurrency. Items
// keep the input order and an invalid activity does not abort the others.
func (c *Calculator) CalculateBatch(ctx context.Context, activities []model.Activity) []BatchItem {
	items := make([]BatchItem, len(activities))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, a := range activities {
		items[i].Activity = a
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				items[i].Err = err
				return nil
			}
			items[i].Result, items[i].Err = c.Calculate(gctx, a)
			return nil
		})
	}
	_ = g.Wait()
	return items
}

// Mass returns totalKWh x factor in kg, rounded to six decimals.
func Mass(totalKWh, kgPerKWh float64) float64 {
	return math.Round(totalKWh*kgPerKWh*1e6) / 1e6
}
