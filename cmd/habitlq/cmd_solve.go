package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"habitrobust/internal/habit"
	"habitrobust/internal/report"
)

var (
	pathHorizon int
	pathShock   int
	pathCSV     bool
	robustXi    float64
)

var solveCmd = &cobra.Command{
	Use:   "solve",
	Short: "Solve the configured economy and print its state-space form",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := solveBaseline()
		if err != nil {
			return err
		}
		report.Summary(cmd.OutOrStdout(), b)
		return nil
	},
}

var pathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print income and consumption responses to a shock",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := solveBaseline()
		if err != nil {
			return err
		}
		p, err := b.ResponsePathFor(pathHorizon, pathShock)
		if err != nil {
			return err
		}
		report.PrintPath(cmd.OutOrStdout(), p)

		if pathCSV {
			out := filepath.Join(cfg.Output.Dir, fmt.Sprintf("path_shock%d.csv", pathShock))
			if err := os.MkdirAll(cfg.Output.Dir, 0755); err != nil {
				return err
			}
			if err := report.WritePathCSV(out, p); err != nil {
				return err
			}
			logger.Info("Response path written", zap.String("path", out))
		}
		return nil
	},
}

var robustCmd = &cobra.Command{
	Use:   "robust",
	Short: "Print the value sensitivity and uncertainty prices",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := solveBaseline()
		if err != nil {
			return err
		}
		xi := robustXi
		if !cmd.Flags().Changed("xi") {
			xi = cfg.Sweep.Xi
		}
		sol, err := habit.RobustPrice(b, xi)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "xi = %g\n", sol.Xi)
		fmt.Fprintf(w, "Sv         = %v\n", sol.Sv)
		fmt.Fprintf(w, "sv         = %.8g\n", sol.SvConst)
		fmt.Fprintf(w, "price      = %v\n", sol.Price)
		fmt.Fprintf(w, "distortion = %v\n", sol.Distortion)
		return nil
	},
}

func init() {
	pathCmd.Flags().IntVar(&pathHorizon, "horizon", 80, "Number of periods")
	pathCmd.Flags().IntVar(&pathShock, "shock", 0, "Shock component")
	pathCmd.Flags().BoolVar(&pathCSV, "csv", false, "Also write the path to the output directory")

	robustCmd.Flags().Float64Var(&robustXi, "xi", 1, "Ambiguity aversion (defaults to sweep.xi)")
}
