package model

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validFactor() *EmissionFactor {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &EmissionFactor{
		Region:                Region{Country: "US", StateProvince: "CA"},
		FactorKgPerKWh:        0.35,
		RenewableSharePercent: Percent(42),
		Source:                FactorSource{Name: "electricitymaps"},
		ConfidenceRating:      ConfidenceHigh,
		ValidFrom:             now,
		ValidUntil:            now.Add(time.Hour),
		LastUpdated:           now,
	}
}

func TestEmissionFactorValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, validFactor().Validate())

	tests := []struct {
		name   string
		mutate func(f *EmissionFactor)
		want   string
	}{
		{"zero factor", func(f *EmissionFactor) { f.FactorKgPerKWh = 0 }, "positive"},
		{"negative factor", func(f *EmissionFactor) { f.FactorKgPerKWh = -0.1 }, "positive"},
		{"nan factor", func(f *EmissionFactor) { f.FactorKgPerKWh = math.NaN() }, "positive"},
		{"inf factor", func(f *EmissionFactor) { f.FactorKgPerKWh = math.Inf(1) }, "positive"},
		{"renewable over 100", func(f *EmissionFactor) { f.RenewableSharePercent = Percent(101) }, "renewable share"},
		{"renewable negative", func(f *EmissionFactor) { f.RenewableSharePercent = Percent(-1) }, "renewable share"},
		{"renewable nan", func(f *EmissionFactor) { f.RenewableSharePercent = Percent(math.NaN()) }, "renewable share"},
		{"validity inverted", func(f *EmissionFactor) { f.ValidUntil = f.ValidFrom.Add(-time.Minute) }, "valid_until"},
		{"validity empty", func(f *EmissionFactor) { f.ValidUntil = f.ValidFrom }, "valid_until"},
		{"bad rating", func(f *EmissionFactor) { f.ConfidenceRating = "certain" }, "confidence rating"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := validFactor()
			tt.mutate(f)
			err := f.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEmissionFactorValidate_UnknownRenewableShare(t *testing.T) {
	t.Parallel()

	f := validFactor()
	f.RenewableSharePercent = nil
	require.NoError(t, f.Validate())
	f.RenewableSharePercent = Percent(0)
	require.NoError(t, f.Validate())
}

func TestEmissionFactorValidate_Nil(t *testing.T) {
	t.Parallel()

	var f *EmissionFactor
	assert.Error(t, f.Validate())
}

func TestConfidenceFactorsAverage(t *testing.T) {
	t.Parallel()

	c := ConfidenceFactors{DataQuality: 0.9, MethodologyCertainty: 0.9, TemporalAccuracy: 0.8}
	assert.InDelta(t, 0.8667, c.Average(), 0.0001)
}

func TestEnergyBreakdownITLoad(t *testing.T) {
	t.Parallel()

	b := EnergyBreakdown{ComputeKWh: 0.16, NetworkKWh: 0.005, StorageKWh: 0.002, CoolingKWh: 1}
	assert.InDelta(t, 0.167, b.ITLoadKWh(), 1e-12)
}
