package model

import "time"

// ConfidenceFactors are the three signals combined into a confidence tier.
type ConfidenceFactors struct {
	DataQuality          float64 `json:"data_quality"`
	MethodologyCertainty float64 `json:"methodology_certainty"`
	TemporalAccuracy     float64 `json:"temporal_accuracy"`
}

// Average returns the unweighted mean of the three factors.
func (c ConfidenceFactors) Average() float64 {
	return (c.DataQuality + c.MethodologyCertainty + c.TemporalAccuracy) / 3
}

// CarbonCalculationResult is the outcome of estimating one activity.
// Results are values; consumers never mutate a published result.
type CarbonCalculationResult struct {
	ID                 string            `json:"id"`
	ActivityID         string            `json:"activity_id,omitempty"`
	ActivityType       ActivityType      `json:"activity_type"`
	Region             Region            `json:"region"`
	CarbonMassKg       float64           `json:"carbon_mass_kg"`
	ConfidenceTier     ConfidenceRating  `json:"confidence_tier"`
	EnergyBreakdown    EnergyBreakdown   `json:"energy_breakdown"`
	EmissionFactor     EmissionFactor    `json:"emission_factor"`
	MethodologyVersion string            `json:"methodology_version"`
	ConfidenceFactors  ConfidenceFactors `json:"confidence_factors"`
	CalculatedAt       time.Time         `json:"calculated_at"`
}
