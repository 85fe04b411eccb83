// Package rakf implements the scalar Robust Adaptive Kalman Filter (Rakf1D):
// a Kalman-like recursion augmented with an M-estimator residual-weighting
// step and an innovation-driven adaptive covariance inflation factor, backed
// by a sliding-window weighted-least-squares auxiliary estimator.
package rakf

import (
	"fmt"
	"math"

	"github.com/virtual-origami/pypersonnelloc/internal/obslog"
)

// ModelType selects whether a filter augments its kinematic prediction with
// IMU-supplied velocity and acceleration terms.
type ModelType string

const (
	// ModelPositionOnly predicts from the state-transition coefficient alone.
	ModelPositionOnly ModelType = "position_only"
	// ModelUWBIMU additionally folds velocity (and, when enabled,
	// acceleration) into the kinematic prediction and the WLS regressor.
	// Under ModelPositionOnly, velocity is forced to 0 regardless of what
	// the caller passes -- spec section 4.1's position_only branch omits
	// the velocity term entirely.
	ModelUWBIMU ModelType = "uwb_imu"
)

// Config holds the immutable construction-time parameters of a single-axis
// filter, named after spec section 3's filter configuration.
type Config struct {
	ModelCoeff        float64 // A
	ModelVariance     float64 // Q
	MeasVariance      float64 // R; meas_sigma = sqrt(R)
	InitialVariance   float64 // P0
	ResidualThreshold float64 // c
	AdaptiveThreshold float64 // c0
	Gamma             float64
	Window            int // N >= 1
	ModelType         ModelType

	// AccelerationEnabled gates a true *_imu_acc input. The reference
	// implementation always forces acceleration to zero even under
	// uwb_imu; this defaults to false to preserve that contract.
	AccelerationEnabled bool
}

func (c Config) validate() error {
	if c.MeasVariance <= 0 {
		return obslog.NewConfigError("meas_variance must be > 0", nil)
	}
	if c.Window < 1 {
		return obslog.NewConfigError("window must be >= 1", nil)
	}
	if c.ModelType != ModelPositionOnly && c.ModelType != ModelUWBIMU {
		return obslog.NewConfigError(fmt.Sprintf("unknown model_type %q", c.ModelType), nil)
	}
	if c.Gamma == 0 {
		return obslog.NewConfigError("gamma must be non-zero", nil)
	}
	return nil
}

// State is the mutable posterior carried between steps.
type State struct {
	X       float64 // posterior state estimate
	P       float64 // posterior state variance
	HasPrev bool    // false until the first successful step
	TPrev   int64   // timestamp of the last successful step, ms

	Meas []float64
	Pos  []float64
	W    []float64
	Vel  []float64 // nil unless ModelType == ModelUWBIMU
	Acc  []float64 // nil unless ModelType == ModelUWBIMU
}

// Filter is a single-axis Robust Adaptive Kalman Filter (Rakf1D).
type Filter struct {
	cfg   Config
	state State
}

// New constructs a Filter with posterior variance seeded at InitialVariance
// and a zero-valued initial state estimate.
func New(cfg Config) (*Filter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	n := cfg.Window
	measSigma := math.Sqrt(cfg.MeasVariance)
	f := &Filter{
		cfg: cfg,
		state: State{
			P:    cfg.InitialVariance,
			Meas: make([]float64, n),
			Pos:  make([]float64, n),
			W:    onesOf(n, 1/measSigma),
		},
	}
	if cfg.ModelType == ModelUWBIMU {
		f.state.Vel = make([]float64, n)
		f.state.Acc = make([]float64, n)
	}
	return f, nil
}

func onesOf(n int, v float64) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = v
	}
	return s
}

// Position returns the current posterior state estimate without stepping.
func (f *Filter) Position() float64 { return f.state.X }

// Variance returns the current posterior state variance without stepping.
func (f *Filter) Variance() float64 { return f.state.P }

// Step runs one RAKF recursion for measurement z observed at tMs
// milliseconds since epoch, with optional IMU velocity/acceleration hints,
// and returns the new posterior position estimate. Non-finite inputs fail
// with InvalidInput; a singular WLS system or a division by zero in the
// adaptive-factor or gain computation fails with NumericalFailure. On
// failure the filter's state (including t_prev) is left unchanged.
func (f *Filter) Step(z float64, tMs int64, v, a float64) (float64, error) {
	if !isFinite(z) || !isFinite(v) || !isFinite(a) {
		return 0, obslog.NewInvalidInput("non-finite filter input", nil)
	}
	if f.cfg.ModelType != ModelUWBIMU {
		v = 0
	}
	if !f.cfg.AccelerationEnabled {
		a = 0
	}

	dt := 0.0
	if f.state.HasPrev {
		dt = float64(tMs-f.state.TPrev) / 1000.0
	}

	xPred := f.cfg.ModelCoeff*f.state.X + v*dt + 0.5*a*dt*dt
	pPred := f.cfg.ModelCoeff*f.state.P*f.cfg.ModelCoeff + f.cfg.ModelVariance
	if !isFinite(pPred) || pPred <= 0 {
		return 0, obslog.NewNumericalFailure("non-positive predicted variance", nil)
	}

	zHat := xPred // C == 1
	r := z - zHat
	measSigma := math.Sqrt(f.cfg.MeasVariance)
	rNorm := math.Abs(r) / measSigma

	var w float64
	if rNorm <= f.cfg.ResidualThreshold {
		w = 1 / measSigma
	} else {
		w = f.cfg.ResidualThreshold / (rNorm * 2 * f.cfg.Gamma * measSigma)
	}
	if !isFinite(w) || w <= 0 {
		return 0, obslog.NewNumericalFailure("non-positive residual weight", nil)
	}

	// A failure after the buffers are shifted below restores them from saved.
	saved := f.StateToDict()
	fail := func(err error) (float64, error) {
		f.state.Pos, f.state.Meas, f.state.Vel, f.state.Acc = saved.Pos, saved.Meas, saved.Vel, saved.Acc
		return 0, err
	}

	// Shift the position/measurement (and, in uwb_imu mode, velocity and
	// acceleration) buffers and write the newest sample into the last slot
	// before fitting the auxiliary regressor. The residual-weight buffer
	// is pushed only after the gain update below, so the regressor below
	// sees weights from the previous step (matching the reference).
	pushRing(f.state.Pos, f.state.X)
	pushRing(f.state.Meas, z)
	if f.cfg.ModelType == ModelUWBIMU {
		pushRing(f.state.Vel, v)
		pushRing(f.state.Acc, a)
	}

	xHat, err := f.solveAux()
	if err != nil {
		return fail(err)
	}

	delta := (xHat - xPred) / pPred

	var alpha float64
	switch {
	case delta < f.cfg.AdaptiveThreshold:
		alpha = 1
	case delta > f.cfg.AdaptiveThreshold && delta < f.cfg.ResidualThreshold:
		alpha = (f.cfg.AdaptiveThreshold / delta) * f.cfg.Gamma
	default:
		alpha = delta * f.cfg.Gamma
	}
	if !isFinite(alpha) || alpha == 0 {
		return fail(obslog.NewNumericalFailure("invalid adaptive factor", nil))
	}

	pOverAlpha := pPred / alpha
	k := pOverAlpha / (pOverAlpha + 1/w)
	if !isFinite(k) {
		return fail(obslog.NewNumericalFailure("non-finite kalman gain", nil))
	}

	x := xPred + k*r
	p := (1 - k) * pPred
	if p < 0 {
		p = 0
	}
	if !isFinite(x) {
		return fail(obslog.NewNumericalFailure("non-finite posterior estimate", nil))
	}

	pushRing(f.state.W, w)

	f.state.X = x
	f.state.P = p
	f.state.TPrev = tMs
	f.state.HasPrev = true

	return x, nil
}

// Predict returns the kinematic prediction x- that a coordinator falls
// back to when Step fails with NumericalFailure, without mutating state.
func (f *Filter) Predict(tMs int64, v, a float64) float64 {
	if f.cfg.ModelType != ModelUWBIMU {
		v = 0
	}
	if !f.cfg.AccelerationEnabled {
		a = 0
	}
	dt := 0.0
	if f.state.HasPrev {
		dt = float64(tMs-f.state.TPrev) / 1000.0
	}
	return f.cfg.ModelCoeff*f.state.X + v*dt + 0.5*a*dt*dt
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// pushRing performs shift-left + write-tail on a fixed-length ring buffer so
// that index len(buf)-1 always holds the most recently written sample.
func pushRing(buf []float64, v float64) {
	copy(buf, buf[1:])
	buf[len(buf)-1] = v
}
