// Package confidence scores how much a carbon estimate can be trusted.
package confidence

import "github.com/sells-group/devcarbon/internal/model"

// Tier thresholds on the average factor score.
const (
	HighThreshold   = 0.8
	MediumThreshold = 0.6

	epsilon = 1e-9
)

// DataQuality scores how directly the activity type's energy is measured.
func DataQuality(t model.ActivityType) float64 {
	switch t {
	case model.ActivityCIRun:
		return 0.9
	case model.ActivityCommit:
		return 0.7
	case model.ActivityPullRequest:
		return 0.6
	default:
		return 0.5
	}
}

// MethodologyCertainty scores the emission factor's confidence rating.
func MethodologyCertainty(r model.ConfidenceRating) float64 {
	switch r {
	case model.ConfidenceHigh:
		return 0.9
	case model.ConfidenceMedium:
		return 0.7
	default:
		return 0.5
	}
}

// TemporalAccuracy scores how well the activity is located.
func TemporalAccuracy(r model.Region) float64 {
	if r.HasLocation() {
		return 0.8
	}
	return 0.6
}

// Factors computes all three scores for an activity and its factor.
func Factors(a model.Activity, f *model.EmissionFactor) model.ConfidenceFactors {
	rating := model.ConfidenceLow
	if f != nil {
		rating = f.ConfidenceRating
	}
	return model.ConfidenceFactors{
		DataQuality:          DataQuality(a.Type),
		MethodologyCertainty: MethodologyCertainty(rating),
		TemporalAccuracy:     TemporalAccuracy(a.Region),
	}
}

// Tier maps the average score to a rating.
func Tier(cf model.ConfidenceFactors) model.ConfidenceRating {
	avg := cf.Average()
	switch {
	case avg >= HighThreshold-epsilon:
		return model.ConfidenceHigh
	case avg >= MediumThreshold-epsilon:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}
