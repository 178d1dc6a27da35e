package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// GlobalRegionKey is the cache key used when an activity carries no location.
const GlobalRegionKey = "GLOBAL"

// Coordinates is a WGS84 point.
type Coordinates struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// Region identifies the electricity grid an activity drew power from.
type Region struct {
	Country       string       `json:"country" yaml:"country"`                                   // ISO-3166 alpha-2
	StateProvince string       `json:"state_province,omitempty" yaml:"state_province,omitempty"` // e.g. "CA"
	GridRegion    string       `json:"grid_region,omitempty" yaml:"grid_region,omitempty"`       // provider zone hint
	Coordinates   *Coordinates `json:"coordinates,omitempty" yaml:"coordinates,omitempty"`
}

// ParseRegion parses "US", "US/CA" or "us-ca" into a Region.
func ParseRegion(s string) Region {
	s = strings.TrimSpace(s)
	if s == "" {
		return Region{}
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '/' || r == '-' })
	r := Region{Country: parts[0]}
	if len(parts) > 1 {
		r.StateProvince = parts[1]
	}
	return r.Normalize()
}

// Normalize upper-cases and trims the country and state codes.
func (r Region) Normalize() Region {
	r.Country = strings.ToUpper(strings.TrimSpace(r.Country))
	r.StateProvince = strings.ToUpper(strings.TrimSpace(r.StateProvince))
	r.GridRegion = strings.TrimSpace(r.GridRegion)
	return r
}

// Key returns the cache key for the region: COUNTRY or COUNTRY/STATE.
func (r Region) Key() string {
	n := r.Normalize()
	switch {
	case n.Country == "":
		return GlobalRegionKey
	case n.StateProvince == "":
		return n.Country
	default:
		return n.Country + "/" + n.StateProvince
	}
}

// CacheKey returns the key emission factors are cached under. It extends Key
// with the grid region hint and coordinates rounded to two decimals, since
// providers resolve on those too. A coordinates-only region never maps to
// GlobalRegionKey.
func (r Region) CacheKey() string {
	n := r.Normalize()
	var b strings.Builder
	if n.Country != "" || n.Coordinates == nil {
		b.WriteString(n.Key())
	}
	if n.GridRegion != "" {
		b.WriteString("#")
		b.WriteString(strings.ToUpper(n.GridRegion))
	}
	if c := n.Coordinates; c != nil {
		b.WriteString("@")
		b.WriteString(strconv.FormatFloat(roundCoord(c.Latitude), 'f', 2, 64))
		b.WriteString(",")
		b.WriteString(strconv.FormatFloat(roundCoord(c.Longitude), 'f', 2, 64))
	}
	return b.String()
}

// roundCoord rounds to two decimals (about 1 km) and folds -0 into 0.
func roundCoord(v float64) float64 {
	v = math.Round(v*100) / 100
	if v == 0 {
		return 0
	}
	return v
}

// HasLocation reports whether any location data is present.
func (r Region) HasLocation() bool {
	return strings.TrimSpace(r.Country) != "" || r.Coordinates != nil
}

func (r Region) String() string {
	if r.GridRegion != "" {
		return fmt.Sprintf("%s (%s)", r.Key(), r.GridRegion)
	}
	return r.Key()
}
