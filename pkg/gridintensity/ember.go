package gridintensity

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/devcarbon/internal/model"
)

const (
	emberName    = "ember"
	emberBaseURL = "https://api.ember-energy.org"

	// emberLookbackYears is how far back the yearly series is requested.
	emberLookbackYears = 3
)

// Ember fetches yearly national power-sector carbon intensity from the Ember API.
type Ember struct {
	client
	apiKey string
}

// NewEmber creates an Ember adapter authenticated with apiKey.
func NewEmber(apiKey string, opts ...Option) *Ember {
	return &Ember{
		client: newClient(emberName, emberBaseURL, opts),
		apiKey: apiKey,
	}
}

// Name implements Provider.
func (e *Ember) Name() string { return emberName }

// Supports implements Provider. Ember publishes national series only.
func (e *Ember) Supports(region model.Region) bool {
	_, ok := iso3[region.Normalize().Country]
	return ok
}

// emberPayload is the /v1/carbon-intensity/yearly response.
type emberPayload struct {
	Data []struct {
		Entity          string   `json:"entity"`
		EntityCode      string   `json:"entity_code"`
		Date            string   `json:"date"`
		IntensityPerKWh *float64 `json:"emissions_intensity_gco2_per_kwh"`
	} `json:"data"`

	// renewableShare is the yearly renewables share of generation, by year.
	renewableShare map[int]float64
}

// emberGeneration is the /v1/electricity-generation/yearly response.
type emberGeneration struct {
	Data []struct {
		Date        string   `json:"date"`
		Series      string   `json:"series"`
		SharePct    *float64 `json:"share_of_generation_pct"`
		IsAggregate bool     `json:"is_aggregate_series"`
	} `json:"data"`
}

// Fetch implements Provider.
func (e *Ember) Fetch(ctx context.Context, region model.Region) (*model.EmissionFactor, error) {
	code, ok := iso3[region.Normalize().Country]
	if !ok {
		return nil, eris.Wrapf(ErrDataMissing, "%s: no entity code for %s", emberName, region)
	}

	now := e.nowFunc()
	params := url.Values{
		"entity_code":         {code},
		"is_aggregate_series": {"false"},
		"start_date":          {strconv.Itoa(now.Year() - emberLookbackYears)},
		"api_key":             {e.apiKey},
	}

	var p emberPayload
	if err := e.getJSON(ctx, e.baseURL+"/v1/carbon-intensity/yearly?"+params.Encode(), nil, &p); err != nil {
		return nil, err
	}
	if len(p.Data) > 0 {
		p.renewableShare = e.renewableShares(ctx, params)
	}
	return finish(emberName, &p, region, now)
}

// renewableShares reads the aggregate Renewables series for the same entity
// and years. The share is optional, so failures are logged and yield nil.
func (e *Ember) renewableShares(ctx context.Context, params url.Values) map[int]float64 {
	q := url.Values{
		"entity_code":         {params.Get("entity_code")},
		"is_aggregate_series": {"true"},
		"series":              {"Renewables"},
		"start_date":          {params.Get("start_date")},
		"api_key":             {e.apiKey},
	}
	var g emberGeneration
	if err := e.getJSON(ctx, e.baseURL+"/v1/electricity-generation/yearly?"+q.Encode(), nil, &g); err != nil {
		zap.L().Debug("ember: generation share unavailable",
			zap.String("entity_code", q.Get("entity_code")),
			zap.Error(err),
		)
		return nil
	}

	shares := make(map[int]float64)
	for _, d := range g.Data {
		if !strings.EqualFold(d.Series, "Renewables") || d.SharePct == nil {
			continue
		}
		if y, err := strconv.Atoi(d.Date); err == nil {
			shares[y] = *d.SharePct
		}
	}
	return shares
}

func (p *emberPayload) toFactor(region model.Region, now time.Time) (*model.EmissionFactor, error) {
	year := 0
	var intensity float64
	entity := ""
	for _, d := range p.Data {
		if d.IntensityPerKWh == nil {
			continue
		}
		y, err := strconv.Atoi(d.Date)
		if err != nil {
			continue
		}
		if y > year {
			year, intensity, entity = y, *d.IntensityPerKWh, d.Entity
		}
	}
	if year == 0 {
		return nil, eris.Wrapf(ErrDataMissing, "%s: no yearly intensity in response", emberName)
	}

	rating := model.ConfidenceMedium
	if now.Year()-year >= 3 {
		rating = model.ConfidenceLow
	}

	var share *float64
	if pct, ok := p.renewableShare[year]; ok {
		share = validShare(&pct)
	}

	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return &model.EmissionFactor{
		Region:                model.Region{Country: region.Normalize().Country},
		FactorKgPerKWh:        intensity / 1000,
		RenewableSharePercent: share,
		Source: model.FactorSource{
			Name:        emberName,
			URL:         "https://ember-energy.org/data/",
			Methodology: fmt.Sprintf("Ember yearly power-sector emissions intensity for %s, %d", entity, year),
		},
		ConfidenceRating: rating,
		ValidFrom:        from,
		ValidUntil:       from.AddDate(1, 0, 0),
		LastUpdated:      now,
	}, nil
}
