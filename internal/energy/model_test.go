package energy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/devcarbon/internal/model"
)

const tol = 1e-12

func TestCIRun_StandardTenMinutes(t *testing.T) {
	t.Parallel()
	m := NewModel(DefaultConstants())

	b := m.Estimate(model.Activity{
		Type:    model.ActivityCIRun,
		Payload: model.Payload{RuntimeSeconds: 600, RunnerClass: "standard"},
	})

	assert.InDelta(t, 0.16, b.ComputeKWh, tol)
	assert.InDelta(t, 0.005, b.NetworkKWh, tol)
	assert.InDelta(t, 0.002, b.StorageKWh, tol)
	assert.InDelta(t, 0.167, b.ITLoadKWh(), tol)
	assert.InDelta(t, 0.2338, b.TotalKWh, 1e-9)
	assert.InDelta(t, 0.0668, b.CoolingKWh, 1e-9)
	assert.Equal(t, 1.4, b.PUE)
}

func TestRunnerRate(t *testing.T) {
	t.Parallel()
	m := NewModel(DefaultConstants())

	tests := []struct {
		class string
		want  float64
	}{
		{"small", 0.008},
		{"standard", 0.016},
		{"LARGE", 0.032},
		{" xlarge ", 0.064},
		{"gpu", 0.15},
		{"", 0.016},
		{"quantum", 0.016},
	}
	for _, tt := range tests {
		t.Run(tt.class, func(t *testing.T) {
			assert.InDelta(t, tt.want, m.RunnerRate(tt.class), tol)
		})
	}
}

func TestNewModel_MergesRunnerRates(t *testing.T) {
	t.Parallel()
	c := DefaultConstants()
	c.RunnerRates = map[string]float64{"ARM": 0.005}
	c.PUE = 0
	m := NewModel(c)

	assert.InDelta(t, 0.005, m.RunnerRate("arm"), tol)
	assert.InDelta(t, 0.016, m.RunnerRate("standard"), tol)
	assert.Equal(t, 1.4, m.Constants().PUE)
}

func TestCodeChange_ExplicitPayload(t *testing.T) {
	t.Parallel()
	m := NewModel(DefaultConstants())

	b := m.CodeChange(model.Payload{
		LinesAdded:    80,
		LinesDeleted:  20,
		FilesChanged:  4,
		DevMinutes:    30,
		TransferBytes: 2 * 1024 * 1024,
		FileReads:     10,
	})

	// compute: 100*0.00001 + 30*0.001
	assert.InDelta(t, 0.031, b.ComputeKWh, tol)
	// network: 2 MB * 0.00006
	assert.InDelta(t, 0.00012, b.NetworkKWh, tol)
	// storage: 10*0.000001 + 100*0.000002
	assert.InDelta(t, 0.00021, b.StorageKWh, tol)
	assert.InDelta(t, (0.031+0.00012+0.00021)*1.4, b.TotalKWh, tol)
}

func TestCodeChange_DerivedFields(t *testing.T) {
	t.Parallel()
	m := NewModel(DefaultConstants())

	b := m.CodeChange(model.Payload{LinesAdded: 100, FilesChanged: 5})

	// dev minutes default to 100*0.5, file reads to files changed
	assert.InDelta(t, 100*0.00001+50*0.001, b.ComputeKWh, tol)
	assert.InDelta(t, (100.0*100/1024/1024)*0.00006, b.NetworkKWh, tol)
	assert.InDelta(t, 5*0.000001+100*0.000002, b.StorageKWh, tol)
}

func TestCodeChange_Empty(t *testing.T) {
	t.Parallel()
	b := NewModel(DefaultConstants()).CodeChange(model.Payload{})

	assert.Zero(t, b.TotalKWh)
	assert.Zero(t, b.CoolingKWh)
}

func TestPullRequest_AddsReviewOverhead(t *testing.T) {
	t.Parallel()
	m := NewModel(DefaultConstants())
	p := model.Payload{LinesAdded: 200, FilesChanged: 8, DevMinutes: 60}

	commit := m.CodeChange(p)
	pr := m.PullRequest(p)

	assert.InDelta(t, commit.ComputeKWh*1.3, pr.ComputeKWh, tol)
	assert.InDelta(t, commit.NetworkKWh*1.3, pr.NetworkKWh, tol)
	assert.InDelta(t, commit.StorageKWh*1.3, pr.StorageKWh, tol)
	assert.InDelta(t, commit.TotalKWh*1.3, pr.TotalKWh, 1e-9)
}

func TestEstimate_UnknownTypeIsCodeChange(t *testing.T) {
	t.Parallel()
	m := NewModel(DefaultConstants())
	p := model.Payload{LinesAdded: 42, FilesChanged: 3}

	assert.Equal(t, m.CodeChange(p), m.Estimate(model.Activity{Type: "deploy", Payload: p}))
	assert.Equal(t, m.CodeChange(p), m.Estimate(model.Activity{Type: model.ActivityCommit, Payload: p}))
}

func TestEstimate_NegativeInputsClamped(t *testing.T) {
	t.Parallel()
	m := NewModel(DefaultConstants())

	b := m.CIRun(model.Payload{RuntimeSeconds: -60})
	assert.Zero(t, b.TotalKWh)

	b = m.CodeChange(model.Payload{LinesAdded: -10, TransferBytes: -1, DevMinutes: -5})
	assert.GreaterOrEqual(t, b.ComputeKWh, 0.0)
	assert.GreaterOrEqual(t, b.NetworkKWh, 0.0)
	assert.GreaterOrEqual(t, b.StorageKWh, 0.0)
}

func TestMonotonic_Lines(t *testing.T) {
	t.Parallel()
	m := NewModel(DefaultConstants())

	for _, typ := range []model.ActivityType{model.ActivityCommit, model.ActivityPullRequest} {
		prev := -1.0
		for lines := 0; lines <= 5000; lines += 250 {
			b := m.Estimate(model.Activity{Type: typ, Payload: model.Payload{LinesAdded: lines, FilesChanged: 2}})
			assert.GreaterOrEqual(t, b.ComputeKWh, prev, "%s lines=%d", typ, lines)
			prev = b.ComputeKWh
		}
	}
}

func TestMonotonic_Runtime(t *testing.T) {
	t.Parallel()
	m := NewModel(DefaultConstants())

	for _, class := range []string{RunnerSmall, RunnerStandard, RunnerGPU, "unknown"} {
		prev := -1.0
		for secs := 0.0; secs <= 7200; secs += 300 {
			b := m.CIRun(model.Payload{RuntimeSeconds: secs, RunnerClass: class})
			assert.GreaterOrEqual(t, b.TotalKWh, prev, "%s secs=%v", class, secs)
			prev = b.TotalKWh
		}
	}
}

func TestTotal_IsPUETimesITLoad(t *testing.T) {
	t.Parallel()
	c := DefaultConstants()
	c.PUE = 1.2
	m := NewModel(c)

	b := m.CIRun(model.Payload{RuntimeSeconds: 3600, RunnerClass: RunnerLarge})
	assert.InDelta(t, b.ITLoadKWh()*1.2, b.TotalKWh, tol)
	assert.NotEqual(t, b.TotalKWh, b.ITLoadKWh()+b.CoolingKWh)
}
