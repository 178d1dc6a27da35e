package main

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/sells-group/devcarbon/internal/model"
	"github.com/sells-group/devcarbon/internal/report"
	"github.com/sells-group/devcarbon/internal/store"
)

var (
	resultsType   string
	resultsRegion string
	resultsSince  time.Duration
	resultsLimit  int
	resultsXLSX   string
	resultsJSON   bool
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "List persisted carbon results",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		filter := store.ResultFilter{
			ActivityType: model.ActivityType(resultsType),
			RegionKey:    regionKey(resultsRegion),
			Limit:        resultsLimit,
		}
		if resultsSince > 0 {
			filter.Since = time.Now().Add(-resultsSince)
		}

		results, err := st.ListResults(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "list results")
		}
		zap.L().Debug("results listed", zap.Int("count", len(results)))

		if resultsXLSX != "" {
			if err := report.WriteXLSX(resultsXLSX, results); err != nil {
				return err
			}
		}

		if resultsJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return eris.Wrap(enc.Encode(results), "encode results")
		}
		return report.WriteText(cmd.OutOrStdout(), report.Summarize(results), language.English)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the store schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}
		zap.L().Info("store migrated", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

// regionKey normalizes a --region flag into a store region key.
func regionKey(s string) string {
	if s == "" {
		return ""
	}
	return model.ParseRegion(s).Key()
}

func init() {
	f := resultsCmd.Flags()
	f.StringVar(&resultsType, "type", "", "filter by activity type")
	f.StringVar(&resultsRegion, "region", "", "filter by region (e.g. US/CA)")
	f.DurationVar(&resultsSince, "since", 0, "only results calculated within this window (e.g. 24h)")
	f.IntVar(&resultsLimit, "limit", 100, "maximum results")
	f.StringVar(&resultsXLSX, "xlsx", "", "write an xlsx workbook to this path")
	f.BoolVar(&resultsJSON, "json", false, "print results as JSON instead of a summary")
	rootCmd.AddCommand(resultsCmd, migrateCmd)
}
