package config

import (
	"github.com/virtual-origami/pypersonnelloc/internal/localization"
	"github.com/virtual-origami/pypersonnelloc/internal/rakf"
)

// CoordinatorConfig converts an `algorithm` block into the coordinator
// configuration the localization package expects, reading each axis's own
// measurement error and initial state variance (spec.md §3, §6's per-axis
// `measurement`/`state_error_variance` triplets) and sharing
// model_type/window across axes per the coordinator-wide resolution in
// spec.md §9.
func (a Algorithm) CoordinatorConfig() localization.Config {
	modelType := rakf.ModelType(a.Model.Type)

	axis := func(i int) localization.AxisConfig {
		return localization.AxisConfig{
			ModelCoeff:          a.Model.Coefficient.Get(i),
			ModelVariance:       a.Error.Model.Get(i),
			MeasVariance:        a.Error.Measurement.Get(i),
			InitialVariance:     a.Error.StateErrorVariance.Get(i),
			ResidualThreshold:   a.Threshold.Residual.Get(i),
			AdaptiveThreshold:   a.Threshold.Adaptive.Get(i),
			Gamma:               a.Threshold.Gamma.Get(i),
			AccelerationEnabled: a.Model.AccelerationEnabled,
		}
	}

	return localization.Config{
		Dim:       a.TrackDimension,
		ModelType: modelType,
		Window:    a.Estimator.Parameter.Count,
		X:         axis(0),
		Y:         axis(1),
		Z:         axis(2),
	}
}
