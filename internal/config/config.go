// Package config loads the YAML configuration tree for the
// personnel-localization service and converts it into the typed parameters
// the core filter and coordinator packages expect (spec.md §6).
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/virtual-origami/pypersonnelloc/internal/obslog"
)

// AxisTriplet carries a per-axis scalar read from a `{x, y, z}` YAML block.
type AxisTriplet struct {
	X float64 `mapstructure:"x"`
	Y float64 `mapstructure:"y"`
	Z float64 `mapstructure:"z"`
}

// Get returns the scalar for the given zero-based axis index (0=x, 1=y, 2=z).
func (t AxisTriplet) Get(axis int) float64 {
	switch axis {
	case 0:
		return t.X
	case 1:
		return t.Y
	default:
		return t.Z
	}
}

// ModelConfig is `algorithm.model`.
type ModelConfig struct {
	Type        string      `mapstructure:"type"`
	Coefficient AxisTriplet `mapstructure:"coefficient"`

	// AccelerationEnabled is not present in the reference configuration
	// schema; it is an additive flag (spec.md §9 Open Questions, §4.1) that
	// lets an operator opt a uwb_imu tracker into a true *_imu_acc input
	// instead of the reference's forced-zero acceleration. Defaults false.
	AccelerationEnabled bool `mapstructure:"acceleration_enabled"`
}

// ErrorConfig is `algorithm.error`.
type ErrorConfig struct {
	Model              AxisTriplet `mapstructure:"model"`
	Measurement        AxisTriplet `mapstructure:"measurement"`
	StateErrorVariance AxisTriplet `mapstructure:"state_error_variance"`
}

// ThresholdConfig is `algorithm.threshold`.
type ThresholdConfig struct {
	Residual AxisTriplet `mapstructure:"residual"`
	Adaptive AxisTriplet `mapstructure:"adaptive"`
	Gamma    AxisTriplet `mapstructure:"gamma"`
}

// EstimatorParameter is `algorithm.estimator.parameter`; Count is the WLS
// sliding-window length N.
type EstimatorParameter struct {
	Count int `mapstructure:"count"`
}

// EstimatorConfig is `algorithm.estimator`.
type EstimatorConfig struct {
	Parameter EstimatorParameter `mapstructure:"parameter"`
}

// Algorithm is `trackers[].algorithm`.
type Algorithm struct {
	Type           string          `mapstructure:"type"`
	TrackDimension int             `mapstructure:"track_dimension"`
	Interval       float64         `mapstructure:"interval"`
	Model          ModelConfig     `mapstructure:"model"`
	Error          ErrorConfig     `mapstructure:"error"`
	Threshold      ThresholdConfig `mapstructure:"threshold"`
	Estimator      EstimatorConfig `mapstructure:"estimator"`
}

// Endpoint is one entry of `protocol.publishers[]` or `protocol.subscribers[]`.
// Only `type: amq` is supported; any other value is a fatal ConfigError
// (spec.md §6).
type Endpoint struct {
	Type         string `mapstructure:"type"`
	URL          string `mapstructure:"url"`
	ExchangeName string `mapstructure:"exchange_name"`
	ExchangeType string `mapstructure:"exchange_type"`
	BindingName  string `mapstructure:"binding_name"`
	QueueName    string `mapstructure:"queue_name"`
	Durable      bool   `mapstructure:"durable"`
}

// Protocol is `trackers[].protocol`.
type Protocol struct {
	Publishers  []Endpoint `mapstructure:"publishers"`
	Subscribers []Endpoint `mapstructure:"subscribers"`
}

// InMemDB is `trackers[].in_mem_db`, optional. When a tracker omits it,
// persistence is skipped entirely (SPEC_FULL.md §4.4).
type InMemDB struct {
	Server struct {
		Address string `mapstructure:"address"`
		Port    int    `mapstructure:"port"`
	} `mapstructure:"server"`
	Credentials struct {
		Password string `mapstructure:"password"`
	} `mapstructure:"credentials"`
}

// Tracker is one entry of `localization.trackers[]`.
type Tracker struct {
	Algorithm Algorithm `mapstructure:"algorithm"`
	Protocol  Protocol  `mapstructure:"protocol"`
	InMemDB   *InMemDB  `mapstructure:"in_mem_db"`
}

// Localization is the `localization` top-level key.
type Localization struct {
	Version  string    `mapstructure:"version"`
	Trackers []Tracker `mapstructure:"trackers"`
}

// Root is the whole configuration document.
type Root struct {
	Localization Localization `mapstructure:"localization"`
}

// Load reads and parses a YAML configuration file at path into a Root,
// failing with ConfigError on a missing file, malformed YAML, or a schema
// violation spec.md §6 calls out as fatal.
func Load(path string) (*Root, error) {
	vp := viper.New()
	vp.SetConfigFile(path)
	vp.SetConfigType("yaml")
	if err := vp.ReadInConfig(); err != nil {
		return nil, obslog.NewConfigError(fmt.Sprintf("failed to read configuration file %q", path), err)
	}

	var root Root
	if err := vp.Unmarshal(&root); err != nil {
		return nil, obslog.NewConfigError("failed to parse configuration", err)
	}

	if err := root.Validate(); err != nil {
		return nil, err
	}
	return &root, nil
}

// Validate enforces the fatal-at-startup schema rules of spec.md §6 and §7:
// unsupported algorithm types, track dimensions outside 1..3, and protocol
// endpoints whose type isn't `amq`.
func (r *Root) Validate() error {
	for i, t := range r.Localization.Trackers {
		if t.Algorithm.Type != "rakf" {
			return obslog.NewConfigError(fmt.Sprintf("trackers[%d]: unsupported algorithm.type %q", i, t.Algorithm.Type), nil)
		}
		if t.Algorithm.TrackDimension < 1 || t.Algorithm.TrackDimension > 3 {
			return obslog.NewConfigError(fmt.Sprintf("trackers[%d]: track_dimension must be 1..3, got %d", i, t.Algorithm.TrackDimension), nil)
		}
		if t.Algorithm.Estimator.Parameter.Count < 1 {
			return obslog.NewConfigError(fmt.Sprintf("trackers[%d]: estimator.parameter.count must be >= 1", i), nil)
		}
		for j, p := range t.Protocol.Publishers {
			if p.Type != "amq" {
				return obslog.NewConfigError(fmt.Sprintf("trackers[%d].protocol.publishers[%d]: unsupported protocol type %q", i, j, p.Type), nil)
			}
		}
		for j, s := range t.Protocol.Subscribers {
			if s.Type != "amq" {
				return obslog.NewConfigError(fmt.Sprintf("trackers[%d].protocol.subscribers[%d]: unsupported protocol type %q", i, j, s.Type), nil)
			}
		}
	}
	return nil
}
