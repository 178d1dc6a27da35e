package gridintensity

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/devcarbon/internal/model"
)

const (
	wattTimeName    = "watttime"
	wattTimeBaseURL = "https://api.watttime.org"

	// WattTime tokens expire after 30 minutes.
	wattTimeTokenTTL = 25 * time.Minute

	kgPerLb = 0.45359237
)

// WattTime fetches the marginal operating emissions rate (MOER) for US
// balancing authorities from the WattTime API.
type WattTime struct {
	client
	username string
	password string

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time // zero for a static token
}

// WattTimeCredentials authenticates the adapter. A static Token takes
// precedence over Username/Password login.
type WattTimeCredentials struct {
	Username string
	Password string
	Token    string
}

// NewWattTime creates a WattTime adapter.
func NewWattTime(creds WattTimeCredentials, opts ...Option) *WattTime {
	return &WattTime{
		client:   newClient(wattTimeName, wattTimeBaseURL, opts),
		username: creds.Username,
		password: creds.Password,
		token:    creds.Token,
	}
}

// Name implements Provider.
func (w *WattTime) Name() string { return wattTimeName }

// Supports implements Provider. Only US regions with a known WattTime region
// are served.
func (w *WattTime) Supports(region model.Region) bool {
	return wattTimeRegion(region) != ""
}

// wattTimePayload is the /v3/forecast response.
type wattTimePayload struct {
	Data []struct {
		PointTime time.Time `json:"point_time"`
		Value     *float64  `json:"value"`
	} `json:"data"`
	Meta struct {
		Region                 string    `json:"region"`
		SignalType             string    `json:"signal_type"`
		Units                  string    `json:"units"`
		GeneratedAt            time.Time `json:"generated_at"`
		DataPointPeriodSeconds int       `json:"data_point_period_seconds"`
	} `json:"meta"`
}

type wattTimeLogin struct {
	Token string `json:"token"`
}

// Fetch implements Provider.
func (w *WattTime) Fetch(ctx context.Context, region model.Region) (*model.EmissionFactor, error) {
	ba := wattTimeRegion(region)
	if ba == "" {
		return nil, eris.Wrapf(ErrDataMissing, "%s: no region for %s", wattTimeName, region)
	}

	token, err := w.bearer(ctx)
	if err != nil {
		return nil, err
	}

	params := url.Values{
		"region":        {ba},
		"signal_type":   {"co2_moer"},
		"horizon_hours": {"0"},
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	var p wattTimePayload
	if err := w.getJSON(ctx, w.baseURL+"/v3/forecast?"+params.Encode(), header, &p); err != nil {
		if IsUnavailable(err) {
			w.dropToken()
		}
		return nil, err
	}
	return finish(wattTimeName, &p, region, w.nowFunc())
}

// bearer returns a valid API token, logging in when the cached one expired.
func (w *WattTime) bearer(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.token != "" && (w.tokenExpiry.IsZero() || w.nowFunc().Before(w.tokenExpiry)) {
		return w.token, nil
	}
	if w.username == "" {
		return "", eris.Wrapf(ErrUnavailable, "%s: no credentials configured", wattTimeName)
	}

	header := http.Header{}
	header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(w.username+":"+w.password)))

	var login wattTimeLogin
	if err := w.getJSON(ctx, w.baseURL+"/login", header, &login); err != nil {
		return "", err
	}
	if login.Token == "" {
		return "", eris.Wrapf(ErrUnavailable, "%s: login returned no token", wattTimeName)
	}
	w.token = login.Token
	w.tokenExpiry = w.nowFunc().Add(wattTimeTokenTTL)
	return w.token, nil
}

// dropToken forgets a login token so the next call re-authenticates.
func (w *WattTime) dropToken() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.tokenExpiry.IsZero() {
		w.token = ""
		w.tokenExpiry = time.Time{}
	}
}

func (p *wattTimePayload) toFactor(region model.Region, now time.Time) (*model.EmissionFactor, error) {
	if len(p.Data) == 0 || p.Data[0].Value == nil {
		return nil, eris.Wrapf(ErrDataMissing, "%s: response has no data points", wattTimeName)
	}

	var perKWh float64
	value := *p.Data[0].Value
	switch p.Meta.Units {
	case "lbs_co2_per_mwh", "":
		perKWh = value * kgPerLb / 1000
	case "kg_co2_per_mwh", "g_co2_per_kwh":
		perKWh = value / 1000
	default:
		return nil, eris.Wrapf(ErrDataMissing, "%s: unsupported units %q", wattTimeName, p.Meta.Units)
	}

	from := p.Data[0].PointTime
	if from.IsZero() {
		from = now
	}
	period := time.Duration(p.Meta.DataPointPeriodSeconds) * time.Second
	if period <= 0 {
		period = 5 * time.Minute
	}
	updated := p.Meta.GeneratedAt
	if updated.IsZero() {
		updated = now
	}

	r := region.Normalize()
	r.GridRegion = p.Meta.Region

	// The MOER signal has no generation mix, so the renewable share stays unset.
	return &model.EmissionFactor{
		Region:         r,
		FactorKgPerKWh: perKWh,
		Source: model.FactorSource{
			Name:        wattTimeName,
			URL:         "https://watttime.org/data-science/data-signals/marginal-co2/",
			Methodology: "WattTime marginal operating emissions rate (co2_moer) for balancing authority " + p.Meta.Region,
		},
		ConfidenceRating: model.ConfidenceMedium,
		ValidFrom:        from,
		ValidUntil:       from.Add(period),
		LastUpdated:      updated,
	}, nil
}
