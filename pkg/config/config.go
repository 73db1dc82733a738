// Package config holds the run configuration shared by every psmrank command.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ChrisMcGann/psmrank/pkg/classify"
	"github.com/ChrisMcGann/psmrank/pkg/filter"
)

// ErrInvalidConfig is returned when a setting is out of range.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the run configuration. It is passed by value to every component.
type Config struct {
	Q             float64         `yaml:"q"`              // FDR threshold for training labels and reporting
	InitDirection int             `yaml:"init_direction"` // Feature column to seed with, -1 to search
	MaxIters      int             `yaml:"max_iters"`
	Method        classify.Method `yaml:"method"`
	Seed          int64           `yaml:"seed"` // Fold shuffle seed, <= 0 for a random shuffle
	Pi0           float64         `yaml:"pi0"`  // Null target proportion for final q-values
	Parallel      bool            `yaml:"parallel"`
	MergeScores   bool            `yaml:"merge_scores"`
	GMM           bool            `yaml:"gmm"`

	Normalization  filter.Normalization `yaml:"normalization"`
	OneHotCharge   bool                 `yaml:"one_hot_charge"`
	PeptideProphet bool                 `yaml:"peptide_prophet"`
	Charset        string               `yaml:"charset,omitempty"`

	CPos         []float64 `yaml:"c_pos"`
	CRatios      []float64 `yaml:"c_ratios"`
	LDAShrinkage float64   `yaml:"lda_shrinkage"`
	SolverIters  int       `yaml:"solver_iters,omitempty"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Q:             0.01,
		InitDirection: -1,
		MaxIters:      10,
		Method:        classify.MethodSVMLin,
		Seed:          1,
		Pi0:           1.0,
		MergeScores:   true,
		Normalization: filter.NormStandard,
		OneHotCharge:  true,
		CPos:          []float64{10, 1, 0.1},
		CRatios:       []float64{1, 3, 10},
		LDAShrinkage:  1e-3,
	}
}

// Load reads a YAML file and overlays it on the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("cannot read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	if cfg, err = cfg.normalized(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// WithMethod returns a copy of c using the named backend.
func (c Config) WithMethod(name string) (Config, error) {
	m, err := classify.ParseMethod(name)
	if err != nil {
		return c, err
	}
	c.Method = m
	return c, nil
}

// WithNormalization returns a copy of c using the named feature scaling.
func (c Config) WithNormalization(name string) (Config, error) {
	n, err := filter.ParseNormalization(name)
	if err != nil {
		return c, err
	}
	c.Normalization = n
	return c, nil
}

func (c Config) normalized() (Config, error) {
	c, err := c.WithMethod(string(c.Method))
	if err != nil {
		return c, err
	}
	return c.WithNormalization(string(c.Normalization))
}

// Validate checks every setting and returns the first problem found.
func (c Config) Validate() error {
	switch {
	case c.Q <= 0 || c.Q >= 1:
		return fmt.Errorf("%w: q must be in (0, 1), got %g", ErrInvalidConfig, c.Q)
	case c.InitDirection < -1:
		return fmt.Errorf("%w: init_direction must be -1 or a column index, got %d", ErrInvalidConfig, c.InitDirection)
	case c.MaxIters < 0:
		return fmt.Errorf("%w: max_iters must not be negative, got %d", ErrInvalidConfig, c.MaxIters)
	case c.Pi0 <= 0 || c.Pi0 > 1:
		return fmt.Errorf("%w: pi0 must be in (0, 1], got %g", ErrInvalidConfig, c.Pi0)
	case c.LDAShrinkage < 0:
		return fmt.Errorf("%w: lda_shrinkage must not be negative, got %g", ErrInvalidConfig, c.LDAShrinkage)
	case c.SolverIters < 0:
		return fmt.Errorf("%w: solver_iters must not be negative, got %d", ErrInvalidConfig, c.SolverIters)
	}
	if _, err := classify.ParseMethod(string(c.Method)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := filter.ParseNormalization(string(c.Normalization)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Method.Tuned() {
		if len(c.CPos) == 0 || len(c.CRatios) == 0 {
			return fmt.Errorf("%w: c_pos and c_ratios must not be empty for %s", ErrInvalidConfig, c.Method)
		}
		for _, v := range append(append([]float64(nil), c.CPos...), c.CRatios...) {
			if v <= 0 {
				return fmt.Errorf("%w: class costs must be positive, got %g", ErrInvalidConfig, v)
			}
		}
	}
	return nil
}

// YAML renders the configuration for run records.
func (c Config) YAML() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("cannot marshal config: %w", err)
	}
	return string(data), nil
}
