package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"habitrobust/internal/dynamics"
	"habitrobust/internal/report"
	"habitrobust/internal/store"
	"habitrobust/internal/sweep"
)

var (
	sweepGridCSV string
	sweepNoStore bool

	simReplications int
	simHorizon      int
	simAlpha        float64
	simSeed         uint64
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Evaluate the model over a grid of habit parameters",
	RunE: func(cmd *cobra.Command, args []string) error {
		tuples := cfg.Sweep.Grid.Tuples()
		if sweepGridCSV != "" {
			var err error
			if tuples, err = report.LoadGridCSV(sweepGridCSV); err != nil {
				return err
			}
		}
		if len(tuples) == 0 {
			return fmt.Errorf("empty sweep grid")
		}

		base, err := cfg.Params()
		if err != nil {
			return err
		}
		opts, err := cfg.SolverOptions()
		if err != nil {
			return err
		}

		rep, err := sweep.Run(cmd.Context(), tuples, sweep.Options{
			Base:    base,
			Solver:  opts,
			Horizon: cfg.Sweep.Horizon,
			Xi:      cfg.Sweep.Xi,
			Workers: cfg.Sweep.Workers,
			Logger:  logger,
		})
		if err != nil {
			return err
		}

		if err := os.MkdirAll(cfg.Output.Dir, 0755); err != nil {
			return err
		}
		out := filepath.Join(cfg.Output.Dir, fmt.Sprintf("sweep_%s.csv", rep.ID))
		if err := report.WriteSweepCSV(out, rep); err != nil {
			return err
		}
		logger.Info("Sweep results written", zap.String("path", out))

		if !sweepNoStore {
			st, err := store.Open(cfg.Output.Database)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.SaveRun(cmd.Context(), store.FromReport(rep)); err != nil {
				return err
			}
			logger.Info("Sweep stored", zap.String("run", rep.ID), zap.String("database", cfg.Output.Database))
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "run %s: %d tuples, %d failed\n", rep.ID, len(rep.Results), len(rep.Failed()))
		for _, res := range rep.Failed() {
			fmt.Fprintf(w, "  alpha=%g psi=%g eta=%g: %s: %v\n",
				res.Tuple.Alpha, res.Tuple.Psi, res.Tuple.Eta, res.Kind, res.Err)
		}
		return nil
	},
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Simulate the solved economy and compare with analytic bands",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := solveBaseline()
		if err != nil {
			return err
		}

		res, err := b.Dynamics.Simulate(cmd.Context(), dynamics.SimulationOptions{
			NReplications: simReplications,
			Horizon:       simHorizon,
			Alpha:         simAlpha,
			Seed:          simSeed,
		})
		if err != nil {
			return err
		}
		inc, cons, err := b.Dynamics.AnalyticBands(res.Horizon, res.Alpha)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "\n=== Simulated vs analytic %.0f%% bands (%d histories) ===\n",
			100*(1-res.Alpha), res.NReplications)
		fmt.Fprintf(w, "h\t%24s%24s%24s%24s\n", "income (sim)", "income (exact)", "consumption (sim)", "consumption (exact)")
		for t := 0; t < res.Horizon; t++ {
			fmt.Fprintf(w, "%d\t[%10.6f,%10.6f] [%10.6f,%10.6f] [%10.6f,%10.6f] [%10.6f,%10.6f]\n", t,
				res.Income.Lower[t], res.Income.Upper[t], inc.Lower[t], inc.Upper[t],
				res.Consumption.Lower[t], res.Consumption.Upper[t], cons.Lower[t], cons.Upper[t])
		}
		return nil
	},
}

func init() {
	sweepCmd.Flags().StringVar(&sweepGridCSV, "grid", "", "CSV file of alpha, psi, eta tuples (overrides sweep.grid)")
	sweepCmd.Flags().BoolVar(&sweepNoStore, "no-store", false, "Skip writing the run to the database")

	simulateCmd.Flags().IntVar(&simReplications, "replications", 500, "Number of simulated histories")
	simulateCmd.Flags().IntVar(&simHorizon, "horizon", 40, "Periods per history")
	simulateCmd.Flags().Float64Var(&simAlpha, "alpha", 0.05, "Band significance level")
	simulateCmd.Flags().Uint64Var(&simSeed, "seed", 12345, "Random seed, 0 for time-based")
}
