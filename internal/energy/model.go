// Package energy estimates the electricity a development activity consumed.
package energy

import (
	"strings"

	"github.com/sells-group/devcarbon/internal/model"
)

// Runner classes recognized by RunnerRates.
const (
	RunnerSmall    = "small"
	RunnerStandard = "standard"
	RunnerLarge    = "large"
	RunnerXLarge   = "xlarge"
	RunnerGPU      = "gpu"
)

// Constants holds the coefficients of the energy model. All energy values
// are in kWh.
type Constants struct {
	PerLine           float64            `yaml:"per_line" mapstructure:"per_line"`
	PerDevMinute      float64            `yaml:"per_dev_minute" mapstructure:"per_dev_minute"`
	DevMinutesPerLine float64            `yaml:"dev_minutes_per_line" mapstructure:"dev_minutes_per_line"`
	PerMB             float64            `yaml:"per_mb" mapstructure:"per_mb"`
	BytesPerLine      float64            `yaml:"bytes_per_line" mapstructure:"bytes_per_line"`
	PerRead           float64            `yaml:"per_read" mapstructure:"per_read"`
	PerWrite          float64            `yaml:"per_write" mapstructure:"per_write"`
	RunnerRates       map[string]float64 `yaml:"runner_rates" mapstructure:"runner_rates"` // kWh per runtime minute
	CINetworkPerMin   float64            `yaml:"ci_network_per_min" mapstructure:"ci_network_per_min"`
	CIStoragePerMin   float64            `yaml:"ci_storage_per_min" mapstructure:"ci_storage_per_min"`
	ReviewOverhead    float64            `yaml:"review_overhead" mapstructure:"review_overhead"`
	PUE               float64            `yaml:"pue" mapstructure:"pue"`
	CoolingMultiplier float64            `yaml:"cooling_multiplier" mapstructure:"cooling_multiplier"`
}

// DefaultConstants returns the default model coefficients.
func DefaultConstants() Constants {
	return Constants{
		PerLine:           0.00001,
		PerDevMinute:      0.001,
		DevMinutesPerLine: 0.5,
		PerMB:             0.00006,
		BytesPerLine:      100,
		PerRead:           0.000001,
		PerWrite:          0.000002,
		RunnerRates: map[string]float64{
			RunnerSmall:    0.008,
			RunnerStandard: 0.016,
			RunnerLarge:    0.032,
			RunnerXLarge:   0.064,
			RunnerGPU:      0.15,
		},
		CINetworkPerMin:   0.0005,
		CIStoragePerMin:   0.0002,
		ReviewOverhead:    0.30,
		PUE:               1.4,
		CoolingMultiplier: 0.4,
	}
}

// Model computes energy breakdowns from activities.
type Model struct {
	c Constants
}

// NewModel creates a Model with the given constants. Missing runner rates
// are filled from the defaults.
func NewModel(c Constants) *Model {
	defaults := DefaultConstants()
	rates := make(map[string]float64, len(defaults.RunnerRates))
	for k, v := range defaults.RunnerRates {
		rates[k] = v
	}
	for k, v := range c.RunnerRates {
		rates[strings.ToLower(k)] = v
	}
	c.RunnerRates = rates
	if c.PUE <= 0 {
		c.PUE = defaults.PUE
	}
	return &Model{c: c}
}

// Constants returns the coefficients in use.
func (m *Model) Constants() Constants {
	return m.c
}

// Estimate returns the energy breakdown for a. Types other than ci_run and
// pull_request are estimated as a generic code change.
func (m *Model) Estimate(a model.Activity) model.EnergyBreakdown {
	switch a.Type {
	case model.ActivityCIRun:
		return m.CIRun(a.Payload)
	case model.ActivityPullRequest:
		return m.PullRequest(a.Payload)
	default:
		return m.CodeChange(a.Payload)
	}
}

// CodeChange estimates a commit. Dev minutes and transfer size are derived
// from the line count when not reported.
func (m *Model) CodeChange(p model.Payload) model.EnergyBreakdown {
	c, n, s := m.codeChange(p)
	return m.finish(c, n, s)
}

// CIRun estimates a CI job from its runtime and runner class.
func (m *Model) CIRun(p model.Payload) model.EnergyBreakdown {
	minutes := nonNeg(p.RuntimeSeconds) / 60
	compute := minutes * m.RunnerRate(p.RunnerClass)
	network := minutes * m.c.CINetworkPerMin
	storage := minutes * m.c.CIStoragePerMin
	return m.finish(compute, network, storage)
}

// PullRequest estimates a pull request as its code change plus review
// overhead on every component.
func (m *Model) PullRequest(p model.Payload) model.EnergyBreakdown {
	c, n, s := m.codeChange(p)
	mul := 1 + nonNeg(m.c.ReviewOverhead)
	return m.finish(c*mul, n*mul, s*mul)
}

// RunnerRate returns the kWh-per-minute rate for class. Unknown or empty
// classes use the standard rate.
func (m *Model) RunnerRate(class string) float64 {
	if r, ok := m.c.RunnerRates[strings.ToLower(strings.TrimSpace(class))]; ok {
		return r
	}
	return m.c.RunnerRates[RunnerStandard]
}

func (m *Model) codeChange(p model.Payload) (compute, network, storage float64) {
	lines := float64(max(p.LinesChanged(), 0))

	devMinutes := nonNeg(p.DevMinutes)
	if devMinutes == 0 {
		devMinutes = lines * m.c.DevMinutesPerLine
	}

	transferBytes := float64(max(p.TransferBytes, 0))
	if transferBytes == 0 {
		transferBytes = lines * m.c.BytesPerLine
	}
	transferMB := transferBytes / 1024 / 1024

	reads := p.FileReads
	if reads <= 0 {
		reads = max(p.FilesChanged, 0)
	}

	compute = lines*m.c.PerLine + devMinutes*m.c.PerDevMinute
	network = transferMB * m.c.PerMB
	storage = float64(reads)*m.c.PerRead + lines*m.c.PerWrite
	return compute, network, storage
}

func (m *Model) finish(compute, network, storage float64) model.EnergyBreakdown {
	it := compute + network + storage
	return model.EnergyBreakdown{
		ComputeKWh: compute,
		NetworkKWh: network,
		StorageKWh: storage,
		CoolingKWh: it * m.c.CoolingMultiplier,
		TotalKWh:   it * m.c.PUE,
		PUE:        m.c.PUE,
	}
}

func nonNeg(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
