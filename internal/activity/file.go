// Package activity loads activity descriptors from YAML or JSON files.
package activity

import (
	"bytes"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/devcarbon/internal/model"
)

// File is the on-disk activity batch format.
type File struct {
	Defaults   Defaults         `yaml:"defaults"`
	Activities []model.Activity `yaml:"activities"`
}

// Defaults fill fields an activity leaves empty.
type Defaults struct {
	Type        model.ActivityType `yaml:"type"`
	Region      model.Region       `yaml:"region"`
	RunnerClass string             `yaml:"runner_class"`
}

// LoadFile reads activities from path. JSON files parse as YAML.
func LoadFile(path string) ([]model.Activity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "activity: read %s", path)
	}
	acts, err := Parse(data)
	if err != nil {
		return nil, eris.Wrapf(err, "activity: %s", path)
	}
	return acts, nil
}

// Parse decodes either a File document or a bare list of activities, applies
// defaults, assigns missing IDs and validates each entry.
func Parse(data []byte) ([]model.Activity, error) {
	var f File
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == '-') {
		if err := yaml.Unmarshal(data, &f.Activities); err != nil {
			return nil, eris.Wrap(err, "activity: parse list")
		}
	} else if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "activity: parse file")
	}

	if len(f.Activities) == 0 {
		return nil, eris.New("activity: no activities found")
	}

	out := make([]model.Activity, len(f.Activities))
	for i, a := range f.Activities {
		a = f.Defaults.apply(a)
		if a.ID == "" {
			a.ID = fmt.Sprintf("activity-%d", i+1)
		}
		if err := a.Validate(); err != nil {
			return nil, eris.Wrapf(err, "activity: entry %d (%s)", i+1, a.ID)
		}
		out[i] = a
	}
	return out, nil
}

func (d Defaults) apply(a model.Activity) model.Activity {
	if a.Type == "" {
		a.Type = d.Type
	}
	if !a.Region.HasLocation() {
		a.Region = d.Region
	}
	if a.Type == model.ActivityCIRun && a.Payload.RunnerClass == "" {
		a.Payload.RunnerClass = d.RunnerClass
	}
	a.Region = a.Region.Normalize()
	return a
}
