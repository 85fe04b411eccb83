// Package localization implements the 3-axis coordinator that composes
// independent scalar RAKF filters into a single tracked-tag estimator.
package localization

import (
	"fmt"

	"github.com/virtual-origami/pypersonnelloc/internal/ingest"
	"github.com/virtual-origami/pypersonnelloc/internal/obslog"
	"github.com/virtual-origami/pypersonnelloc/internal/rakf"
)

// AxisConfig is the per-axis slice of a coordinator's configuration: every
// per-axis field a Rakf1D needs. The window and model type, shared across
// axes, live on Config.
type AxisConfig struct {
	ModelCoeff          float64
	ModelVariance       float64
	MeasVariance        float64
	InitialVariance     float64
	ResidualThreshold   float64
	AdaptiveThreshold   float64
	Gamma               float64
	AccelerationEnabled bool
}

// Config constructs a Coordinator. ModelType is coordinator-wide (spec.md
// §9 Open Questions resolves the reference's per-axis ambiguity this way);
// Window is likewise shared across axes. Dim selects how many of X, Y, Z
// are populated and active.
type Config struct {
	Dim       int
	ModelType rakf.ModelType
	Window    int
	X, Y, Z   AxisConfig
}

func (c Config) validate() error {
	if c.Dim < 1 || c.Dim > 3 {
		return obslog.NewConfigError(fmt.Sprintf("track_dimension must be 1..3, got %d", c.Dim), nil)
	}
	return nil
}

// Estimate is the assembled output of one Step: the active dimension and a
// position estimate per axis; inactive axes (beyond Dim) are always zero.
type Estimate struct {
	Dimension int
	XEstPos   float64
	YEstPos   float64
	ZEstPos   float64
}

// Coordinator holds up to three Rakf1D instances (X, then Y, then Z) and
// routes telemetry fields to them, per spec.md §4.2.
type Coordinator struct {
	tagID string
	dim   int
	x, y, z *rakf.Filter
}

// New constructs a Coordinator for the given tag id. Axes beyond Dim are
// left nil and always contribute 0 to the assembled estimate.
func New(tagID string, cfg Config) (*Coordinator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	c := &Coordinator{tagID: tagID, dim: cfg.Dim}

	build := func(a AxisConfig) (*rakf.Filter, error) {
		return rakf.New(rakf.Config{
			ModelCoeff:          a.ModelCoeff,
			ModelVariance:       a.ModelVariance,
			MeasVariance:        a.MeasVariance,
			InitialVariance:     a.InitialVariance,
			ResidualThreshold:   a.ResidualThreshold,
			AdaptiveThreshold:   a.AdaptiveThreshold,
			Gamma:               a.Gamma,
			Window:              cfg.Window,
			ModelType:           cfg.ModelType,
			AccelerationEnabled: a.AccelerationEnabled,
		})
	}

	var err error
	if c.x, err = build(cfg.X); err != nil {
		return nil, err
	}
	if cfg.Dim >= 2 {
		if c.y, err = build(cfg.Y); err != nil {
			return nil, err
		}
	}
	if cfg.Dim >= 3 {
		if c.z, err = build(cfg.Z); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// TagID returns the tracked entity identifier this coordinator was built for.
func (c *Coordinator) TagID() string { return c.tagID }

// Dim returns the number of active axes.
func (c *Coordinator) Dim() int { return c.dim }

// Step runs every active axis's filter against one telemetry record and
// assembles the merged estimate (spec.md §4.2, §7). A NumericalFailure on
// one axis does not abort the others: that axis falls back to its kinematic
// prediction x- and the error is reported alongside the estimate so the
// caller can log it, matching the reference's per-axis resilience.
func (c *Coordinator) Step(t ingest.Telemetry) (Estimate, []error) {
	est := Estimate{Dimension: c.dim}
	var errs []error

	if c.x != nil {
		est.XEstPos, errs = stepAxis(c.x, "x", t.XUwbPos, t.Timestamp, t.XImuVel, errs)
	}
	if c.y != nil {
		est.YEstPos, errs = stepAxis(c.y, "y", t.YUwbPos, t.Timestamp, t.YImuVel, errs)
	}
	if c.z != nil {
		est.ZEstPos, errs = stepAxis(c.z, "z", t.ZUwbPos, t.Timestamp, t.ZImuVel, errs)
	}
	return est, errs
}

// AxisError annotates a per-axis step failure with which axis produced it,
// while still unwrapping to the underlying *obslog.Error for errors.Is.
type AxisError struct {
	Axis string
	Err  error
}

func (e *AxisError) Error() string { return e.Axis + ": " + e.Err.Error() }
func (e *AxisError) Unwrap() error { return e.Err }

// stepAxis runs one filter and falls back to its kinematic prediction on
// NumericalFailure, per spec.md §7.
func stepAxis(f *rakf.Filter, axis string, z float64, tMs int64, v float64, errs []error) (float64, []error) {
	x, err := f.Step(z, tMs, v, 0)
	if err != nil {
		return f.Predict(tMs, v, 0), append(errs, &AxisError{Axis: axis, Err: err})
	}
	return x, errs
}
