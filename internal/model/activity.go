package model

import (
	"math"
	"regexp"

	"github.com/rotisserie/eris"
)

// ActivityType names a kind of software-development activity.
type ActivityType string

const (
	ActivityCommit      ActivityType = "commit"
	ActivityPullRequest ActivityType = "pull_request"
	ActivityCIRun       ActivityType = "ci_run"
)

// Payload carries type-specific activity metadata. Zero means "not reported".
type Payload struct {
	LinesAdded     int     `json:"lines_added,omitempty" yaml:"lines_added,omitempty"`
	LinesDeleted   int     `json:"lines_deleted,omitempty" yaml:"lines_deleted,omitempty"`
	FilesChanged   int     `json:"files_changed,omitempty" yaml:"files_changed,omitempty"`
	DevMinutes     float64 `json:"dev_minutes,omitempty" yaml:"dev_minutes,omitempty"`
	TransferBytes  int64   `json:"transfer_bytes,omitempty" yaml:"transfer_bytes,omitempty"`
	FileReads      int     `json:"file_reads,omitempty" yaml:"file_reads,omitempty"`
	RuntimeSeconds float64 `json:"runtime_seconds,omitempty" yaml:"runtime_seconds,omitempty"`
	RunnerClass    string  `json:"runner_class,omitempty" yaml:"runner_class,omitempty"`
}

// LinesChanged is lines added plus lines deleted.
func (p Payload) LinesChanged() int {
	return p.LinesAdded + p.LinesDeleted
}

// Activity is an inbound request to estimate one development activity.
type Activity struct {
	ID      string       `json:"id,omitempty" yaml:"id,omitempty"`
	Type    ActivityType `json:"type" yaml:"type"`
	Region  Region       `json:"region" yaml:"region"`
	Payload Payload      `json:"payload" yaml:"payload"`
}

var countryCode = regexp.MustCompile(`^[A-Za-z]{2}$`)

// IsCountryCode reports whether s looks like an ISO-3166 alpha-2 code.
func IsCountryCode(s string) bool { return countryCode.MatchString(s) }

// Validate rejects malformed activities before they reach the calculator.
func (a Activity) Validate() error {
	if a.Type == "" {
		return eris.New("activity: type is required")
	}
	p := a.Payload
	if p.LinesAdded < 0 || p.LinesDeleted < 0 || p.FilesChanged < 0 || p.FileReads < 0 {
		return eris.New("activity: line and file counts must be non-negative")
	}
	if !finite(p.DevMinutes) || !finite(p.RuntimeSeconds) {
		return eris.New("activity: dev_minutes and runtime_seconds must be finite numbers")
	}
	if p.DevMinutes < 0 || p.RuntimeSeconds < 0 || p.TransferBytes < 0 {
		return eris.New("activity: durations and transfer size must be non-negative")
	}
	if a.Region.Country != "" && !IsCountryCode(a.Region.Country) {
		return eris.Errorf("activity: country %q is not an ISO-3166 alpha-2 code", a.Region.Country)
	}
	if c := a.Region.Coordinates; c != nil {
		if !finite(c.Latitude) || !finite(c.Longitude) ||
			c.Latitude < -90 || c.Latitude > 90 || c.Longitude < -180 || c.Longitude > 180 {
			return eris.New("activity: coordinates out of range")
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
