// Package gridintensity fetches regional grid emission factors from external
// carbon-intensity providers and normalizes them to kg CO2e per kWh.
package gridintensity

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/devcarbon/internal/model"
	"github.com/sells-group/devcarbon/internal/resilience"
)

// DefaultTimeout bounds a single provider request.
const DefaultTimeout = 10 * time.Second

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 1 << 20

var (
	// ErrUnavailable is returned for timeouts, transport errors, rate limiting,
	// rejected credentials and 5xx responses.
	ErrUnavailable = eris.New("provider unavailable")
	// ErrDataMissing is returned when a response is malformed or lacks the
	// fields needed to build a factor.
	ErrDataMissing = eris.New("provider data missing")
)

// Provider fetches the current emission factor for a region.
type Provider interface {
	Name() string
	// Supports reports whether the provider can serve the region at all.
	// Unsupported regions are skipped without counting as a failure.
	Supports(region model.Region) bool
	Fetch(ctx context.Context, region model.Region) (*model.EmissionFactor, error)
}

// payload is a decoded provider response, one variant per provider. toFactor
// converts the provider's native units to kg CO2e/kWh.
type payload interface {
	toFactor(region model.Region, now time.Time) (*model.EmissionFactor, error)
}

// Option configures a provider adapter.
type Option func(*client)

// WithBaseURL overrides the provider's API base URL.
func WithBaseURL(u string) Option {
	return func(c *client) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRateLimit sets the requests-per-second limit for the provider.
func WithRateLimit(rps float64) Option {
	return func(c *client) {
		if rps > 0 {
			burst := max(int(rps), 1)
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// client holds the HTTP plumbing shared by every adapter.
type client struct {
	name       string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	timeout    time.Duration
	nowFunc    func() time.Time
}

func newClient(name, baseURL string, opts []Option) client {
	c := client{
		name:    name,
		baseURL: baseURL,
		limiter: rate.NewLimiter(5, 5),
		timeout: DefaultTimeout,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	return c
}

// getJSON performs a GET bounded by the provider timeout and decodes the
// body into out. Failures are classified as ErrUnavailable or ErrDataMissing.
func (c *client) getJSON(ctx context.Context, reqURL string, header http.Header, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrapf(ErrUnavailable, "%s: rate limit: %v", c.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return eris.Wrapf(ErrDataMissing, "%s: build request: %v", c.name, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classify(resilience.TransportError(c.name, err))
	}
	defer resp.Body.Close() //nolint:errcheck

	if err := resilience.ResponseError(c.name, resp); err != nil {
		return classify(err)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return eris.Wrapf(ErrUnavailable, "%s: read body: %v", c.name, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrapf(ErrDataMissing, "%s: parse response: %v", c.name, err)
	}
	return nil
}

// classify maps a failed call onto the provider sentinels. Any transport
// failure means the provider could not answer, whatever its cause.
func classify(err error) error {
	var ce *resilience.CallError
	if errors.As(err, &ce) && (ce.StatusCode == 0 || ce.Outcome.Unavailable()) {
		return eris.Wrapf(ErrUnavailable, "%v (%s)", err, ce.Outcome)
	}
	return eris.Wrapf(ErrDataMissing, "%v (%s)", err, resilience.OutcomeOf(err))
}

// finish converts a decoded payload and checks the factor invariants.
func finish(name string, p payload, region model.Region, now time.Time) (*model.EmissionFactor, error) {
	f, err := p.toFactor(region, now)
	if err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, eris.Wrapf(ErrDataMissing, "%s: %v", name, err)
	}
	return f, nil
}

// validShare drops a renewable share that is missing or outside [0,100].
func validShare(p *float64) *float64 {
	if p == nil || math.IsNaN(*p) || *p < 0 || *p > 100 {
		return nil
	}
	return p
}

// IsUnavailable reports whether err is an ErrUnavailable failure.
func IsUnavailable(err error) bool { return eris.Is(err, ErrUnavailable) }

// IsDataMissing reports whether err is an ErrDataMissing failure.
func IsDataMissing(err error) bool { return eris.Is(err, ErrDataMissing) }
