package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/sells-group/devcarbon/internal/activity"
	"github.com/sells-group/devcarbon/internal/model"
	"github.com/sells-group/devcarbon/internal/report"
)

type estimateFlags struct {
	id            string
	typ           string
	region        string
	gridRegion    string
	linesAdded    int
	linesDeleted  int
	filesChanged  int
	devMinutes    float64
	transferBytes int64
	fileReads     int
	runtime       float64
	runner        string

	file   string
	xlsx   string
	format string
	lang   string
}

var estimateOpts estimateFlags

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Estimate the carbon footprint of one activity or a file of activities",
	Example: `  devcarbon estimate --type ci_run --region US/CA --runtime 600
  devcarbon estimate --file activities.yaml --xlsx footprint.xlsx`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		f := estimateOpts

		if f.format != "text" && f.format != "json" {
			return eris.Errorf("unsupported format %q (text or json)", f.format)
		}
		tag, err := language.Parse(f.lang)
		if err != nil {
			return eris.Wrapf(err, "parse --lang %q", f.lang)
		}

		var activities []model.Activity
		if f.file != "" {
			activities, err = activity.LoadFile(f.file)
			if err != nil {
				return err
			}
		} else {
			if f.typ == "" {
				return eris.New("either --type or --file is required")
			}
			activities = []model.Activity{f.toActivity()}
		}

		env, err := initEnv(ctx, cfg, envOptions{mode: "estimate"})
		if err != nil {
			return err
		}
		defer env.Close()

		items := env.Calculator.CalculateBatch(ctx, activities)

		results := make([]model.CarbonCalculationResult, 0, len(items))
		var failed int
		for _, it := range items {
			if it.Err != nil {
				failed++
				zap.L().Error("estimate failed",
					zap.String("activity_id", it.Activity.ID),
					zap.Error(it.Err),
				)
				continue
			}
			results = append(results, *it.Result)
		}
		if len(results) == 0 {
			return eris.Errorf("all %d activities failed", failed)
		}

		if env.Store != nil {
			n, err := env.Store.SaveResults(ctx, results)
			if err != nil {
				return eris.Wrap(err, "save results")
			}
			zap.L().Debug("results saved", zap.Int64("count", n))
		}

		if f.xlsx != "" {
			if err := report.WriteXLSX(f.xlsx, results); err != nil {
				return err
			}
			zap.L().Info("workbook written", zap.String("path", f.xlsx), zap.Int("results", len(results)))
		}

		if err := writeEstimate(cmd.OutOrStdout(), results, f.format, tag); err != nil {
			return err
		}
		if failed > 0 {
			return eris.Errorf("%d of %d activities failed", failed, len(items))
		}
		return nil
	},
}

// toActivity builds a single activity from command-line flags.
func (f estimateFlags) toActivity() model.Activity {
	a := model.Activity{
		ID:     f.id,
		Type:   model.ActivityType(f.typ),
		Region: model.ParseRegion(f.region),
		Payload: model.Payload{
			LinesAdded:     f.linesAdded,
			LinesDeleted:   f.linesDeleted,
			FilesChanged:   f.filesChanged,
			DevMinutes:     f.devMinutes,
			TransferBytes:  f.transferBytes,
			FileReads:      f.fileReads,
			RuntimeSeconds: f.runtime,
			RunnerClass:    f.runner,
		},
	}
	a.Region.GridRegion = f.gridRegion
	return a
}

// writeEstimate prints results as JSON or as per-result lines followed by a
// summary.
func writeEstimate(w io.Writer, results []model.CarbonCalculationResult, format string, tag language.Tag) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(results), "encode results")
	}

	for _, r := range results {
		name := r.ActivityID
		if name == "" {
			name = r.ID
		}
		src := r.EmissionFactor.Source.Name
		if _, err := fmt.Fprintf(w, "%-20s %-12s %-8s %.6f kg CO2e  (%.4f kWh x %.3f kg/kWh %s, %s confidence)\n",
			name, r.ActivityType, r.Region.Key(), r.CarbonMassKg,
			r.EnergyBreakdown.TotalKWh, r.EmissionFactor.FactorKgPerKWh, src, r.ConfidenceTier); err != nil {
			return eris.Wrap(err, "write result")
		}
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return eris.Wrap(err, "write result")
	}
	return report.WriteText(w, report.Summarize(results), tag)
}

func init() {
	f := estimateCmd.Flags()
	f.StringVar(&estimateOpts.id, "id", "", "activity ID")
	f.StringVar(&estimateOpts.typ, "type", "", "activity type (commit, pull_request, ci_run)")
	f.StringVar(&estimateOpts.region, "region", "", "region as COUNTRY or COUNTRY/STATE (e.g. US/CA)")
	f.StringVar(&estimateOpts.gridRegion, "grid-region", "", "provider zone hint (e.g. CAISO_NORTH)")
	f.IntVar(&estimateOpts.linesAdded, "lines-added", 0, "lines added")
	f.IntVar(&estimateOpts.linesDeleted, "lines-deleted", 0, "lines deleted")
	f.IntVar(&estimateOpts.filesChanged, "files", 0, "files changed")
	f.Float64Var(&estimateOpts.devMinutes, "dev-minutes", 0, "developer workstation minutes")
	f.Int64Var(&estimateOpts.transferBytes, "transfer-bytes", 0, "bytes pushed or pulled")
	f.IntVar(&estimateOpts.fileReads, "file-reads", 0, "file reads")
	f.Float64Var(&estimateOpts.runtime, "runtime", 0, "CI runtime in seconds")
	f.StringVar(&estimateOpts.runner, "runner", "", "CI runner class (small, standard, large, xlarge, gpu)")
	f.StringVar(&estimateOpts.file, "file", "", "YAML or JSON file of activities")
	f.StringVar(&estimateOpts.xlsx, "xlsx", "", "write an xlsx workbook to this path")
	f.StringVar(&estimateOpts.format, "format", "text", "output format (text or json)")
	f.StringVar(&estimateOpts.lang, "lang", "en", "BCP 47 language tag for number formatting")
	rootCmd.AddCommand(estimateCmd)
}
