package gridintensity

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/devcarbon/internal/model"
)

const (
	electricityMapsName    = "electricitymaps"
	electricityMapsBaseURL = "https://api.electricitymap.org/v3"
)

// ElectricityMaps fetches live grid carbon intensity from the Electricity Maps API.
type ElectricityMaps struct {
	client
	apiKey string
}

// NewElectricityMaps creates an Electricity Maps adapter authenticated with apiKey.
func NewElectricityMaps(apiKey string, opts ...Option) *ElectricityMaps {
	return &ElectricityMaps{
		client: newClient(electricityMapsName, electricityMapsBaseURL, opts),
		apiKey: apiKey,
	}
}

// Name implements Provider.
func (e *ElectricityMaps) Name() string { return electricityMapsName }

// Supports implements Provider.
func (e *ElectricityMaps) Supports(region model.Region) bool {
	return region.Coordinates != nil || electricityMapsZone(region) != ""
}

// electricityMapsPayload is the /carbon-intensity/latest response.
type electricityMapsPayload struct {
	Zone               string    `json:"zone"`
	CarbonIntensity    *float64  `json:"carbonIntensity"` // gCO2eq/kWh
	Datetime           time.Time `json:"datetime"`
	UpdatedAt          time.Time `json:"updatedAt"`
	EmissionFactorType string    `json:"emissionFactorType"`
	IsEstimated        bool      `json:"isEstimated"`
	EstimationMethod   string    `json:"estimationMethod"`

	// renewableShare comes from /power-breakdown/latest.
	renewableShare *float64
}

// electricityMapsBreakdown is the part of the /power-breakdown/latest
// response we read.
type electricityMapsBreakdown struct {
	Zone                string   `json:"zone"`
	RenewablePercentage *float64 `json:"renewablePercentage"`
}

// Fetch implements Provider.
func (e *ElectricityMaps) Fetch(ctx context.Context, region model.Region) (*model.EmissionFactor, error) {
	params := url.Values{}
	if zone := electricityMapsZone(region); zone != "" {
		params.Set("zone", zone)
	} else if c := region.Coordinates; c != nil {
		params.Set("lat", strconv.FormatFloat(c.Latitude, 'f', 4, 64))
		params.Set("lon", strconv.FormatFloat(c.Longitude, 'f', 4, 64))
	} else {
		return nil, eris.Wrapf(ErrDataMissing, "%s: no zone for region %s", electricityMapsName, region)
	}

	header := http.Header{}
	header.Set("auth-token", e.apiKey)

	var p electricityMapsPayload
	reqURL := e.baseURL + "/carbon-intensity/latest?" + params.Encode()
	if err := e.getJSON(ctx, reqURL, header, &p); err != nil {
		return nil, err
	}
	if p.CarbonIntensity != nil {
		if p.Zone != "" {
			params = url.Values{"zone": {p.Zone}}
		}
		p.renewableShare = e.renewableShare(ctx, params, header)
	}
	return finish(electricityMapsName, &p, region, e.nowFunc())
}

// renewableShare reads the zone's renewable percentage. The share is
// optional, so failures are logged and yield nil.
func (e *ElectricityMaps) renewableShare(ctx context.Context, params url.Values, header http.Header) *float64 {
	var b electricityMapsBreakdown
	reqURL := e.baseURL + "/power-breakdown/latest?" + params.Encode()
	if err := e.getJSON(ctx, reqURL, header, &b); err != nil {
		zap.L().Debug("electricitymaps: power breakdown unavailable",
			zap.String("zone", params.Get("zone")),
			zap.Error(err),
		)
		return nil
	}
	return validShare(b.RenewablePercentage)
}

func (p *electricityMapsPayload) toFactor(region model.Region, now time.Time) (*model.EmissionFactor, error) {
	if p.CarbonIntensity == nil {
		return nil, eris.Wrapf(ErrDataMissing, "%s: response missing carbonIntensity", electricityMapsName)
	}

	from := p.Datetime
	if from.IsZero() {
		from = now.Truncate(time.Hour)
	}
	updated := p.UpdatedAt
	if updated.IsZero() {
		updated = now
	}

	rating := model.ConfidenceHigh
	if p.IsEstimated {
		rating = model.ConfidenceMedium
	}
	factorType := p.EmissionFactorType
	if factorType == "" {
		factorType = "lifecycle"
	}

	r := region.Normalize()
	if p.Zone != "" {
		r.GridRegion = p.Zone
	}

	return &model.EmissionFactor{
		Region:                r,
		FactorKgPerKWh:        *p.CarbonIntensity / 1000,
		RenewableSharePercent: p.renewableShare,
		Source: model.FactorSource{
			Name:        electricityMapsName,
			URL:         "https://app.electricitymaps.com/zone/" + p.Zone,
			Methodology: fmt.Sprintf("Electricity Maps hourly %s carbon intensity for zone %s", factorType, p.Zone),
		},
		ConfidenceRating: rating,
		ValidFrom:        from,
		ValidUntil:       from.Add(time.Hour),
		LastUpdated:      updated,
	}, nil
}
