// Package report renders calculation results as workbooks and text summaries.
package report

import (
	"io"
	"sort"

	"github.com/rotisserie/eris"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/devcarbon/internal/model"
)

// EPA greenhouse gas equivalency factors.
const (
	KgPerMileDriven  = 0.192
	KgPerPhoneCharge = 0.00822
)

// Summary aggregates a set of results.
type Summary struct {
	Count          int
	TotalKg        float64
	TotalKWh       float64
	DefaultFactors int // results priced with the global default factor
	ByTier         map[model.ConfidenceRating]int
	ByType         map[model.ActivityType]float64 // kg per activity type
}

// Summarize aggregates results.
func Summarize(results []model.CarbonCalculationResult) Summary {
	s := Summary{
		ByTier: make(map[model.ConfidenceRating]int),
		ByType: make(map[model.ActivityType]float64),
	}
	for _, r := range results {
		s.Count++
		s.TotalKg += r.CarbonMassKg
		s.TotalKWh += r.EnergyBreakdown.TotalKWh
		s.ByTier[r.ConfidenceTier]++
		s.ByType[r.ActivityType] += r.CarbonMassKg
		if r.EmissionFactor.Default {
			s.DefaultFactors++
		}
	}
	return s
}

// MilesDriven is the passenger-car distance with the same emissions.
func (s Summary) MilesDriven() float64 { return s.TotalKg / KgPerMileDriven }

// PhoneCharges is the number of smartphone charges with the same emissions.
func (s Summary) PhoneCharges() float64 { return s.TotalKg / KgPerPhoneCharge }

// WriteText writes a human-readable summary using the number formatting of tag.
func WriteText(w io.Writer, s Summary, tag language.Tag) error {
	p := message.NewPrinter(tag)

	lines := []string{
		p.Sprintf("Activities:        %d\n", s.Count),
		p.Sprintf("Energy:            %.4f kWh\n", s.TotalKWh),
		p.Sprintf("Carbon:            %.6f kg CO2e\n", s.TotalKg),
		p.Sprintf("Equivalent to:     %.2f miles driven, %.0f smartphone charges\n", s.MilesDriven(), s.PhoneCharges()),
	}
	if s.DefaultFactors > 0 {
		lines = append(lines, p.Sprintf("Default factor:    %d of %d results used the global default\n", s.DefaultFactors, s.Count))
	}

	if len(s.ByTier) > 0 {
		lines = append(lines, "Confidence:\n")
		for _, tier := range []model.ConfidenceRating{model.ConfidenceHigh, model.ConfidenceMedium, model.ConfidenceLow} {
			if n := s.ByTier[tier]; n > 0 {
				lines = append(lines, p.Sprintf("  %-8s %d\n", tier, n))
			}
		}
	}

	if len(s.ByType) > 0 {
		types := make([]string, 0, len(s.ByType))
		for t := range s.ByType {
			types = append(types, string(t))
		}
		sort.Strings(types)
		lines = append(lines, "By activity type:\n")
		for _, t := range types {
			lines = append(lines, p.Sprintf("  %-13s %.6f kg\n", t, s.ByType[model.ActivityType(t)]))
		}
	}

	for _, l := range lines {
		if _, err := io.WriteString(w, l); err != nil {
			return eris.Wrap(err, "report: write summary")
		}
	}
	return nil
}
