// Package config loads the YAML run configuration of the habitlq command.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"habitrobust/internal/model"
	"habitrobust/internal/solver"
	"habitrobust/internal/sweep"
)

// Config is the complete run configuration.
type Config struct {
	Calibration CalibrationConfig `yaml:"calibration"`
	Solver      SolverConfig      `yaml:"solver"`
	Sweep       SweepConfig       `yaml:"sweep"`
	Output      OutputConfig      `yaml:"output"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// CalibrationConfig holds the structural parameters.
type CalibrationConfig struct {
	Alpha float64 `yaml:"alpha"`
	Eta   float64 `yaml:"eta"`
	Psi   float64 `yaml:"psi"`
	Delta float64 `yaml:"delta"`
	Nu    float64 `yaml:"nu"`
	// Zero derives rho = delta + nu
	Rho float64 `yaml:"rho,omitempty"`

	Shocks ShockConfig `yaml:"shocks"`
}

// ShockConfig is the exogenous process with matrices given row by row.
type ShockConfig struct {
	Ax [][]float64 `yaml:"ax"`
	Bx [][]float64 `yaml:"bx"`
	Sy []float64   `yaml:"sy"`
	Fy []float64   `yaml:"fy"`
}

// SolverConfig selects the stable-root boundary.
type SolverConfig struct {
	// "discounted" or "unit-circle"
	Boundary string `yaml:"boundary"`
	// Overrides Boundary when positive
	Threshold float64 `yaml:"threshold,omitempty"`
	Tolerance float64 `yaml:"tolerance"`
}

// SweepConfig is the parameter grid and evaluation settings.
type SweepConfig struct {
	Grid    sweep.Grid `yaml:"grid"`
	Horizon int        `yaml:"horizon"`
	Xi      float64    `yaml:"xi"`
	Workers int        `yaml:"workers"`
}

// OutputConfig controls where results go.
type OutputConfig struct {
	Dir      string `yaml:"dir"`
	Database string `yaml:"database"`
}

// LoggingConfig sets the log level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the baseline calibration and a small sweep grid.
func Default() *Config {
	p := model.DefaultParams()
	opts := solver.DefaultOptions()

	return &Config{
		Calibration: CalibrationConfig{
			Alpha: p.Alpha,
			Eta:   p.Eta,
			Psi:   p.Psi,
			Delta: p.Delta,
			Nu:    p.Nu,
			Shocks: ShockConfig{
				Ax: denseRows(p.Shocks.Ax),
				Bx: denseRows(p.Shocks.Bx),
				Sy: append([]float64(nil), p.Shocks.Sy...),
				Fy: append([]float64(nil), p.Shocks.Fy...),
			},
		},
		Solver: SolverConfig{
			Boundary:  opts.Boundary.String(),
			Tolerance: opts.Tolerance,
		},
		Sweep: SweepConfig{
			Grid: sweep.Grid{
				Alphas: []float64{0, 0.1, 0.5},
				Psis:   []float64{0.3, 1.6},
				Etas:   []float64{2, 100},
			},
			Horizon: 80,
			Xi:      1,
		},
		Output: OutputConfig{
			Dir:      "output",
			Database: ".data/habitlq.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("HABITLQ_DB"); path != "" {
		c.Output.Database = path
	}
	if dir := os.Getenv("HABITLQ_OUTPUT"); dir != "" {
		c.Output.Dir = dir
	}
}

// Validate checks that the calibration is admissible and the remaining
// sections are usable.
func (c *Config) Validate() error {
	p, err := c.Params()
	if err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if _, err := c.SolverOptions(); err != nil {
		return err
	}
	if c.Sweep.Horizon < 1 {
		return fmt.Errorf("%w: sweep horizon must be >= 1, got %d", model.ErrInvalidLength, c.Sweep.Horizon)
	}
	if c.Sweep.Xi < 0 {
		return fmt.Errorf("%w: sweep xi must be >= 0, got %g", model.ErrInvalidParameter, c.Sweep.Xi)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	return nil
}

// Params converts the calibration section into model parameters.
func (c *Config) Params() (model.Params, error) {
	ax, err := rowsDense("ax", c.Calibration.Shocks.Ax)
	if err != nil {
		return model.Params{}, err
	}
	bx, err := rowsDense("bx", c.Calibration.Shocks.Bx)
	if err != nil {
		return model.Params{}, err
	}

	cal := c.Calibration
	return model.Params{
		Alpha: cal.Alpha,
		Eta:   cal.Eta,
		Psi:   cal.Psi,
		Delta: cal.Delta,
		Nu:    cal.Nu,
		Rho:   cal.Rho,
		Shocks: model.ShockProcess{
			Ax: ax,
			Bx: bx,
			Sy: append([]float64(nil), cal.Shocks.Sy...),
			Fy: append([]float64(nil), cal.Shocks.Fy...),
		},
	}, nil
}

// SolverOptions converts the solver section.
func (c *Config) SolverOptions() (solver.Options, error) {
	b, err := solver.ParseBoundary(c.Solver.Boundary)
	if err != nil {
		return solver.Options{}, err
	}
	opts := solver.DefaultOptions()
	opts.Boundary = b
	if c.Solver.Threshold != 0 {
		opts.Threshold = c.Solver.Threshold
	}
	if c.Solver.Tolerance != 0 {
		opts.Tolerance = c.Solver.Tolerance
	}
	return opts, nil
}

func rowsDense(name string, rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("%w: shock matrix %s is empty", model.ErrInvalidLength, name)
	}
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for i, r := range rows {
		if len(r) != cols {
			return nil, fmt.Errorf("%w: row %d of %s has %d entries, want %d",
				model.ErrInvalidLength, i, name, len(r), cols)
		}
		data = append(data, r...)
	}
	return mat.NewDense(len(rows), cols, data), nil
}

func denseRows(m *mat.Dense) [][]float64 {
	r, _ := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = mat.Row(nil, i, m)
	}
	return out
}
