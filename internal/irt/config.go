package irt

import (
	"fmt"
	"runtime"
)

// Config controls a calibration run. Zero fields take DefaultConfig values.
type Config struct {
	MaxIterations int     `yaml:"max_iterations" json:"max_iterations"`
	Tolerance     float64 `yaml:"tolerance" json:"tolerance"`
	// Bound clips θ and b to [-Bound, Bound]; degenerate items sit on it.
	Bound             float64 `yaml:"bound" json:"bound"`
	MinDiscrimination float64 `yaml:"min_discrimination" json:"min_discrimination"`
	MaxDiscrimination float64 `yaml:"max_discrimination" json:"max_discrimination"`
	// ProportionClip keeps initial proportions inside [clip, 1-clip].
	ProportionClip float64 `yaml:"proportion_clip" json:"proportion_clip"`
	// MaxStep caps a single Newton or Fisher-scoring update.
	MaxStep float64 `yaml:"max_step" json:"max_step"`
	Workers int     `yaml:"workers" json:"workers"`

	// OnIteration, when set, is called after every Step.
	OnIteration func(IterationStats) `yaml:"-" json:"-"`
}

// IterationStats summarises one completed Step.
type IterationStats struct {
	Iteration     int
	MaxChange     float64
	LogLikelihood float64
	Converged     bool
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations:     200,
		Tolerance:         1e-3,
		Bound:             4,
		MinDiscrimination: 0.05,
		MaxDiscrimination: 4,
		ProportionClip:    0.025,
		MaxStep:           1,
		Workers:           runtime.GOMAXPROCS(0),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.Tolerance <= 0 {
		c.Tolerance = d.Tolerance
	}
	if c.Bound <= 0 {
		c.Bound = d.Bound
	}
	if c.MinDiscrimination <= 0 {
		c.MinDiscrimination = d.MinDiscrimination
	}
	if c.MaxDiscrimination <= 0 {
		c.MaxDiscrimination = d.MaxDiscrimination
	}
	if c.ProportionClip <= 0 || c.ProportionClip >= 0.5 {
		c.ProportionClip = d.ProportionClip
	}
	if c.MaxStep <= 0 {
		c.MaxStep = d.MaxStep
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	return c
}

// Validate reports inconsistent settings after defaults are applied.
func (c Config) Validate() error {
	c = c.withDefaults()
	if c.MinDiscrimination >= c.MaxDiscrimination {
		return fmt.Errorf("irt: min_discrimination %.3g must be below max_discrimination %.3g", c.MinDiscrimination, c.MaxDiscrimination)
	}
	return nil
}
