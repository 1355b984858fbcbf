// Command habitlq solves the habit-persistence linear-quadratic economy,
// prints its response paths and uncertainty prices, and sweeps the habit
// parameters in parallel.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"habitrobust/internal/config"
	"habitrobust/internal/habit"
)

var (
	// Global flags
	configPath string
	verbose    bool

	logger *zap.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "habitlq",
	Short: "Habit persistence and robust pricing in a linear-quadratic economy",
	Long: `habitlq builds the log-linear approximation of an endowment economy with
habit persistence, selects its stable solution, and reports consumption
responses to income shocks together with the uncertainty prices of a
decision maker concerned about misspecification.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zc := zap.NewProductionConfig()
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if !verbose && cfg.Logging.Level != "" {
			level, err := zapcore.ParseLevel(cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("invalid log level: %w", err)
			}
			zc.Level = zap.NewAtomicLevelAt(level)
		}

		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return cfg.Validate()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "habitlq.yaml", "Path to the YAML configuration")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(solveCmd, pathCmd, robustCmd, sweepCmd, simulateCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// solveBaseline solves the configured calibration.
func solveBaseline() (*habit.Baseline, error) {
	p, err := cfg.Params()
	if err != nil {
		return nil, err
	}
	opts, err := cfg.SolverOptions()
	if err != nil {
		return nil, err
	}

	logger.Debug("Solving baseline",
		zap.Float64("alpha", p.Alpha),
		zap.Float64("psi", p.Psi),
		zap.Float64("eta", p.Eta),
		zap.String("boundary", opts.Boundary.String()))

	b, err := habit.Solve(p, opts)
	if err != nil {
		logger.Error("Solve failed", zap.Error(err))
		return nil, err
	}
	logger.Info("Baseline solved",
		zap.Float64("threshold", b.Solution.Threshold),
		zap.Float64("residual", b.Solution.Residual))
	return b, nil
}
