package localization

import (
	"fmt"

	"github.com/virtual-origami/pypersonnelloc/internal/obslog"
	"github.com/virtual-origami/pypersonnelloc/internal/rakf"
)

func missingAxisErr(axis string) error {
	return obslog.NewInvalidInput(fmt.Sprintf("persisted snapshot missing active axis %q", axis), nil)
}

// Snapshot is the persisted-state layout for one tag: an axis-state record
// per active axis, keyed by `personnel_<id>` in the persistence store
// (spec.md §4.4, §6). Inactive axes are omitted.
type Snapshot struct {
	X *rakf.Snapshot `json:"x,omitempty"`
	Y *rakf.Snapshot `json:"y,omitempty"`
	Z *rakf.Snapshot `json:"z,omitempty"`
}

// StateToDict captures the current state of every active axis.
func (c *Coordinator) StateToDict() Snapshot {
	var s Snapshot
	if c.x != nil {
		snap := c.x.StateToDict()
		s.X = &snap
	}
	if c.y != nil {
		snap := c.y.StateToDict()
		s.Y = &snap
	}
	if c.z != nil {
		snap := c.z.StateToDict()
		s.Z = &snap
	}
	return s
}

// UpdateState restores every active axis from a previously captured
// snapshot. A snapshot missing an axis this coordinator has active, or one
// whose buffer shapes disagree with the configured window, fails with
// InvalidInput; axes already restored before the failing one keep their new
// state.
func (c *Coordinator) UpdateState(s Snapshot) error {
	if c.x != nil {
		if s.X == nil {
			return missingAxisErr("x")
		}
		if err := c.x.UpdateState(*s.X); err != nil {
			return err
		}
	}
	if c.y != nil {
		if s.Y == nil {
			return missingAxisErr("y")
		}
		if err := c.y.UpdateState(*s.Y); err != nil {
			return err
		}
	}
	if c.z != nil {
		if s.Z == nil {
			return missingAxisErr("z")
		}
		if err := c.z.UpdateState(*s.Z); err != nil {
			return err
		}
	}
	return nil
}
