package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/devcarbon/internal/model"
	"github.com/sells-group/devcarbon/internal/resilience"
)

var factorCmd = &cobra.Command{
	Use:   "factor <region>",
	Short: "Resolve the emission factor for a region (e.g. US/CA, DE)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg, envOptions{mode: "estimate"})
		if err != nil {
			return err
		}
		defer env.Close()

		f := env.Resolver.Resolve(ctx, model.ParseRegion(args[0]))

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(f), "encode factor")
	},
}

var breakersResolve []string

var breakersCmd = &cobra.Command{
	Use:   "breakers",
	Short: "Show provider circuit breaker state after probing regions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg, envOptions{mode: "estimate"})
		if err != nil {
			return err
		}
		defer env.Close()

		for _, r := range breakersResolve {
			f := env.Resolver.Resolve(ctx, model.ParseRegion(r))
			fmt.Fprintf(cmd.OutOrStdout(), "resolved %-8s %.4f kg/kWh from %s\n", r, f.FactorKgPerKWh, f.Source.Name)
		}
		return writeBreakers(cmd.OutOrStdout(), env.Breakers.Snapshot())
	},
}

func writeBreakers(w io.Writer, snaps []resilience.BreakerSnapshot) error {
	if len(snaps) == 0 {
		_, err := fmt.Fprintln(w, "no provider has been called")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tSTATE\tFAILURES\tLAST FAILURE")
	for _, s := range snaps {
		last := "-"
		if !s.LastFailure.IsZero() {
			last = s.LastFailure.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.Key, s.State, s.Failures, last)
	}
	return tw.Flush()
}

func init() {
	breakersCmd.Flags().StringSliceVar(&breakersResolve, "resolve", nil, "regions to resolve before printing (e.g. US/CA,DE)")
	rootCmd.AddCommand(factorCmd, breakersCmd)
}
