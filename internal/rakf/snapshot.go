package rakf

import "github.com/virtual-origami/pypersonnelloc/internal/obslog"

// Snapshot is the flat, serializable form of a Filter's mutable state,
// suitable for persistence keyed by tag id.
type Snapshot struct {
	X       float64   `json:"x"`
	P       float64   `json:"P"`
	HasPrev bool      `json:"has_prev"`
	TPrev   int64     `json:"t_prev"`
	Meas    []float64 `json:"meas"`
	Pos     []float64 `json:"pos"`
	W       []float64 `json:"w"`
	Vel     []float64 `json:"vel,omitempty"`
	Acc     []float64 `json:"acc,omitempty"`
}

// StateToDict returns a snapshot of the filter's current mutable state.
func (f *Filter) StateToDict() Snapshot {
	return Snapshot{
		X:       f.state.X,
		P:       f.state.P,
		HasPrev: f.state.HasPrev,
		TPrev:   f.state.TPrev,
		Meas:    cloneFloats(f.state.Meas),
		Pos:     cloneFloats(f.state.Pos),
		W:       cloneFloats(f.state.W),
		Vel:     cloneFloats(f.state.Vel),
		Acc:     cloneFloats(f.state.Acc),
	}
}

// UpdateState atomically replaces the filter's mutable state. The
// snapshot's buffers must match the configured window, and uwb_imu filters
// require velocity/acceleration buffers of the same length; otherwise the
// call fails with InvalidInput and the filter's state is left untouched.
func (f *Filter) UpdateState(s Snapshot) error {
	n := f.cfg.Window
	if len(s.Meas) != n || len(s.Pos) != n || len(s.W) != n {
		return obslog.NewInvalidInput("persisted buffer length does not match configured window", nil)
	}
	if f.cfg.ModelType == ModelUWBIMU && (len(s.Vel) != n || len(s.Acc) != n) {
		return obslog.NewInvalidInput("persisted velocity/acceleration buffer length does not match configured window", nil)
	}

	next := State{
		X:       s.X,
		P:       s.P,
		HasPrev: s.HasPrev,
		TPrev:   s.TPrev,
		Meas:    cloneFloats(s.Meas),
		Pos:     cloneFloats(s.Pos),
		W:       cloneFloats(s.W),
	}
	if f.cfg.ModelType == ModelUWBIMU {
		next.Vel = cloneFloats(s.Vel)
		next.Acc = cloneFloats(s.Acc)
	}
	f.state = next
	return nil
}

func cloneFloats(s []float64) []float64 {
	if s == nil {
		return nil
	}
	out := make([]float64, len(s))
	copy(out, s)
	return out
}
