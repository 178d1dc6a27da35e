package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegionKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		region Region
		want   string
	}{
		{"empty", Region{}, GlobalRegionKey},
		{"country only", Region{Country: "de"}, "DE"},
		{"country and state", Region{Country: "US", StateProvince: "ca"}, "US/CA"},
		{"whitespace", Region{Country: " us ", StateProvince: " tx"}, "US/TX"},
		{"grid region ignored", Region{Country: "US", StateProvince: "CA", GridRegion: "CAISO_NORTH"}, "US/CA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.region.Key())
		})
	}
}

func TestRegionCacheKey(t *testing.T) {
	t.Parallel()

	paris := &Coordinates{Latitude: 48.8566, Longitude: 2.3522}
	tests := []struct {
		name   string
		region Region
		want   string
	}{
		{"empty", Region{}, GlobalRegionKey},
		{"country and state", Region{Country: "us", StateProvince: "ca"}, "US/CA"},
		{"grid region", Region{Country: "US", GridRegion: "us-tex-erco"}, "US#US-TEX-ERCO"},
		{"coordinates only", Region{Coordinates: paris}, "@48.86,2.35"},
		{"country and coordinates", Region{Country: "FR", Coordinates: paris}, "FR@48.86,2.35"},
		{"negative zero", Region{Coordinates: &Coordinates{Latitude: -0.001, Longitude: -0.004}}, "@0.00,0.00"},
		{"all fields", Region{Country: "US", StateProvince: "TX", GridRegion: "ERCOT", Coordinates: &Coordinates{Latitude: 30.2672, Longitude: -97.7431}}, "US/TX#ERCOT@30.27,-97.74"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.region.CacheKey())
		})
	}
}

func TestRegionCacheKey_DistinctLocations(t *testing.T) {
	t.Parallel()

	paris := Region{Coordinates: &Coordinates{Latitude: 48.85, Longitude: 2.35}}
	tokyo := Region{Coordinates: &Coordinates{Latitude: 35.68, Longitude: 139.69}}
	ercot := Region{Country: "US", GridRegion: "US-TEX-ERCO"}
	bpat := Region{Country: "US", GridRegion: "US-NW-BPAT"}

	keys := map[string]bool{}
	for _, r := range []Region{paris, tokyo, {}, ercot, bpat, {Country: "US"}} {
		keys[r.CacheKey()] = true
	}
	assert.Len(t, keys, 6)
}

func TestParseRegion(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Region{Country: "US", StateProvince: "CA"}, ParseRegion("US/CA"))
	assert.Equal(t, Region{Country: "US", StateProvince: "CA"}, ParseRegion("us-ca"))
	assert.Equal(t, Region{Country: "FR"}, ParseRegion("fr"))
	assert.Equal(t, Region{}, ParseRegion("  "))
}

func TestRegionHasLocation(t *testing.T) {
	t.Parallel()

	assert.False(t, Region{}.HasLocation())
	assert.True(t, Region{Country: "GB"}.HasLocation())
	assert.True(t, Region{Coordinates: &Coordinates{Latitude: 51.5, Longitude: -0.12}}.HasLocation())
}

func TestRegionString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "US/CA", Region{Country: "US", StateProvince: "CA"}.String())
	assert.Equal(t, "US (CAISO_NORTH)", Region{Country: "US", GridRegion: "CAISO_NORTH"}.String())
}
