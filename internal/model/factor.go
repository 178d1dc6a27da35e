package model

import (
	"math"
	"time"

	"github.com/rotisserie/eris"
)

// ConfidenceRating is a coarse trust level for a factor or a result.
type ConfidenceRating string

const (
	ConfidenceHigh   ConfidenceRating = "high"
	ConfidenceMedium ConfidenceRating = "medium"
	ConfidenceLow    ConfidenceRating = "low"
)

// FactorSource describes where an emission factor came from.
type FactorSource struct {
	Name        string `json:"name"`
	URL         string `json:"url,omitempty"`
	Methodology string `json:"methodology,omitempty"`
}

// EmissionFactor is the mass of CO2e released per kWh consumed in a region.
type EmissionFactor struct {
	Region                Region           `json:"region"`
	FactorKgPerKWh        float64          `json:"factor_kg_per_kwh"`
	RenewableSharePercent *float64         `json:"renewable_share_percent,omitempty"` // nil when the provider does not report it
	Source                FactorSource     `json:"source"`
	ConfidenceRating      ConfidenceRating `json:"confidence_rating"`
	ValidFrom             time.Time        `json:"valid_from"`
	ValidUntil            time.Time        `json:"valid_until"`
	LastUpdated           time.Time        `json:"last_updated"`
	Default               bool             `json:"default,omitempty"`
}

// Percent returns a pointer to v for optional percentage fields.
func Percent(v float64) *float64 { return &v }

// Validate checks the invariants every usable factor must satisfy.
func (f *EmissionFactor) Validate() error {
	if f == nil {
		return eris.New("emission factor: nil")
	}
	if math.IsNaN(f.FactorKgPerKWh) || math.IsInf(f.FactorKgPerKWh, 0) || f.FactorKgPerKWh <= 0 {
		return eris.Errorf("emission factor: factor must be positive and finite, got %v", f.FactorKgPerKWh)
	}
	if p := f.RenewableSharePercent; p != nil && (math.IsNaN(*p) || *p < 0 || *p > 100) {
		return eris.Errorf("emission factor: renewable share %v outside [0,100]", *p)
	}
	if !f.ValidUntil.After(f.ValidFrom) {
		return eris.Errorf("emission factor: valid_until %s not after valid_from %s",
			f.ValidUntil.Format(time.RFC3339), f.ValidFrom.Format(time.RFC3339))
	}
	switch f.ConfidenceRating {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
	default:
		return eris.Errorf("emission factor: unknown confidence rating %q", f.ConfidenceRating)
	}
	return nil
}
