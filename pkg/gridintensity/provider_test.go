package gridintensity

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/devcarbon/internal/model"
	"github.com/sells-group/devcarbon/internal/resilience"
)

func TestGetJSON_ClassifiesStatus(t *testing.T) {
	tests := []struct {
		code        int
		unavailable bool
		missing     bool
	}{
		{400, false, true},
		{401, true, false},
		{403, true, false},
		{404, false, true},
		{408, true, false},
		{422, false, true},
		{429, true, false},
		{500, true, false},
		{503, true, false},
	}
	for _, tt := range tests {
		srv := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.code)
		})
		c := newClient("test", srv.URL, nil)
		c.limiter = newTestLimiter()

		var out map[string]any
		err := c.getJSON(context.Background(), srv.URL, nil, &out)
		require.Error(t, err, "status %d", tt.code)
		assert.Equal(t, tt.unavailable, IsUnavailable(err), "status %d", tt.code)
		assert.Equal(t, tt.missing, IsDataMissing(err), "status %d", tt.code)
		assert.Contains(t, err.Error(), resilience.ClassifyStatus(tt.code).String())
	}
}

func TestClassify_TransportFailureIsUnavailable(t *testing.T) {
	err := classify(resilience.TransportError("test", errors.New("unsupported protocol scheme")))
	assert.True(t, IsUnavailable(err))

	err = classify(resilience.TransportError("test", context.DeadlineExceeded))
	assert.True(t, IsUnavailable(err))
	assert.Contains(t, err.Error(), "retryable")
}

func TestGetJSON_MalformedBodyIsDataMissing(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"carbonIntensity":`))
	})
	c := newClient("test", srv.URL, nil)
	c.limiter = newTestLimiter()

	var out map[string]any
	err := c.getJSON(context.Background(), srv.URL, nil, &out)
	assert.True(t, IsDataMissing(err))
}

func TestGetJSON_RateLimitCancelled(t *testing.T) {
	c := newClient("test", "http://127.0.0.1:0", []Option{WithRateLimit(0.001)})
	c.limiter.Allow() // drain the single burst token

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out map[string]any
	err := c.getJSON(ctx, "http://127.0.0.1:0/x", nil, &out)
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	assert.Contains(t, err.Error(), "rate limit")
}

func TestGetJSON_SendsAcceptHeader(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "v", r.Header.Get("X-Test"))
		w.Write([]byte(`{"ok":true}`))
	})
	c := newClient("test", srv.URL, nil)
	c.limiter = newTestLimiter()

	var out struct {
		OK bool `json:"ok"`
	}
	h := http.Header{}
	h.Set("X-Test", "v")
	require.NoError(t, c.getJSON(context.Background(), srv.URL, h, &out))
	assert.True(t, out.OK)
}

func TestElectricityMapsZone(t *testing.T) {
	tests := []struct {
		region model.Region
		want   string
	}{
		{model.Region{Country: "US", StateProvince: "CA"}, "US-CAL-CISO"},
		{model.Region{Country: "us", StateProvince: "tx"}, "US-TEX-ERCO"},
		{model.Region{Country: "US"}, ""},
		{model.Region{Country: "CA", StateProvince: "ON"}, "CA-ON"},
		{model.Region{Country: "DE", StateProvince: "BY"}, "DE"},
		{model.Region{Country: "US", GridRegion: "US-NY-NYIS"}, "US-NY-NYIS"},
		{model.Region{Country: "US", StateProvince: "CA", GridRegion: "CAISO_NORTH"}, "US-CAL-CISO"},
		{model.Region{}, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, electricityMapsZone(tt.region), "region %+v", tt.region)
	}
}

func TestWattTimeRegion(t *testing.T) {
	assert.Equal(t, "CAISO_NORTH", wattTimeRegion(model.Region{Country: "US", StateProvince: "CA"}))
	assert.Equal(t, "PJM_DC", wattTimeRegion(model.Region{Country: "US", GridRegion: "pjm_dc"}))
	assert.Equal(t, "", wattTimeRegion(model.Region{Country: "CA", StateProvince: "ON"}))
}

func TestProvidersImplementInterface(t *testing.T) {
	var _ Provider = NewElectricityMaps("k")
	var _ Provider = NewWattTime(WattTimeCredentials{})
	var _ Provider = NewEmber("k")
}
