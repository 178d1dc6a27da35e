package report

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/devcarbon/internal/model"
)

// Sheet names written by WriteXLSX.
const (
	ResultsSheet = "Results"
	FactorsSheet = "Factors"
)

var resultsHeader = []string{
	"Result ID", "Activity ID", "Activity Type", "Region", "Carbon (kg CO2e)",
	"Total (kWh)", "Compute (kWh)", "Network (kWh)", "Storage (kWh)", "Cooling (kWh)", "PUE",
	"Confidence", "Factor (kg/kWh)", "Factor Source", "Default Factor", "Methodology", "Calculated At",
}

var factorsHeader = []string{
	"Region", "Source", "Factor (kg/kWh)", "Renewable %", "Confidence", "Valid From", "Valid Until",
}

// WriteXLSX writes results and the distinct emission factors behind them to
// a workbook at path.
func WriteXLSX(path string, results []model.CarbonCalculationResult) error {
	f := xlsx.NewFile()

	rs, err := f.AddSheet(ResultsSheet)
	if err != nil {
		return eris.Wrap(err, "report: add results sheet")
	}
	addHeader(rs, resultsHeader)
	for _, r := range results {
		row := rs.AddRow()
		addStrings(row, r.ID, r.ActivityID, string(r.ActivityType), r.Region.Key())
		addFloats(row,
			r.CarbonMassKg,
			r.EnergyBreakdown.TotalKWh,
			r.EnergyBreakdown.ComputeKWh,
			r.EnergyBreakdown.NetworkKWh,
			r.EnergyBreakdown.StorageKWh,
			r.EnergyBreakdown.CoolingKWh,
			r.EnergyBreakdown.PUE,
		)
		addStrings(row, string(r.ConfidenceTier))
		addFloats(row, r.EmissionFactor.FactorKgPerKWh)
		addStrings(row, r.EmissionFactor.Source.Name, yesNo(r.EmissionFactor.Default),
			r.MethodologyVersion, r.CalculatedAt.UTC().Format(time.RFC3339))
	}

	fs, err := f.AddSheet(FactorsSheet)
	if err != nil {
		return eris.Wrap(err, "report: add factors sheet")
	}
	addHeader(fs, factorsHeader)
	for _, ef := range distinctFactors(results) {
		row := fs.AddRow()
		addStrings(row, ef.Region.String(), ef.Source.Name)
		addFloats(row, ef.FactorKgPerKWh)
		if p := ef.RenewableSharePercent; p != nil {
			addFloats(row, *p)
		} else {
			addStrings(row, "")
		}
		addStrings(row, string(ef.ConfidenceRating),
			ef.ValidFrom.UTC().Format(time.RFC3339), ef.ValidUntil.UTC().Format(time.RFC3339))
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "report: save %s", path)
	}
	return nil
}

// distinctFactors returns one factor per (region, source) in first-seen order.
func distinctFactors(results []model.CarbonCalculationResult) []model.EmissionFactor {
	seen := make(map[string]bool)
	var out []model.EmissionFactor
	for _, r := range results {
		key := r.EmissionFactor.Region.CacheKey() + "|" + r.EmissionFactor.Source.Name
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r.EmissionFactor)
	}
	return out
}

func addHeader(s *xlsx.Sheet, cols []string) {
	addStrings(s.AddRow(), cols...)
}

func addStrings(row *xlsx.Row, vals ...string) {
	for _, v := range vals {
		row.AddCell().SetString(v)
	}
}

func addFloats(row *xlsx.Row, vals ...float64) {
	for _, v := range vals {
		row.AddCell().SetFloat(v)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
