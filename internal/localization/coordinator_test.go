package localization

import (
	"errors"
	"math"
	"testing"

	"github.com/virtual-origami/pypersonnelloc/internal/ingest"
	"github.com/virtual-origami/pypersonnelloc/internal/obslog"
	"github.com/virtual-origami/pypersonnelloc/internal/rakf"
)

func axis() AxisConfig {
	return AxisConfig{
		ModelCoeff:        1,
		ModelVariance:     0.01,
		MeasVariance:      1,
		InitialVariance:   1,
		ResidualThreshold: 3,
		AdaptiveThreshold: 0.5,
		Gamma:             1,
	}
}

func threeAxisConfig() Config {
	return Config{
		Dim:       3,
		ModelType: rakf.ModelPositionOnly,
		Window:    1,
		X:         axis(),
		Y:         axis(),
		Z:         axis(),
	}
}

// S4: dim=3 routes each axis's field to its own filter and the assembled
// estimate carries three distinct posteriors.
func TestCoordinator_MultiAxisRouting(t *testing.T) {
	c, err := New("tag-1", threeAxisConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tel := ingest.Telemetry{
		ID:        "tag-1",
		Timestamp: 1000,
		XUwbPos:   1,
		YUwbPos:   2,
		ZUwbPos:   3,
	}
	est, errs := c.Step(tel)
	if len(errs) != 0 {
		t.Fatalf("unexpected axis errors: %v", errs)
	}
	if est.Dimension != 3 {
		t.Errorf("Dimension = %d, want 3", est.Dimension)
	}
	if est.XEstPos == est.YEstPos || est.YEstPos == est.ZEstPos || est.XEstPos == est.ZEstPos {
		t.Errorf("expected three distinct posteriors, got x=%v y=%v z=%v", est.XEstPos, est.YEstPos, est.ZEstPos)
	}
	// Each axis received a distinct, strictly increasing measurement, so the
	// posteriors must preserve that ordering.
	if !(est.XEstPos < est.YEstPos && est.YEstPos < est.ZEstPos) {
		t.Errorf("expected x < y < z, got x=%v y=%v z=%v", est.XEstPos, est.YEstPos, est.ZEstPos)
	}
}

func TestCoordinator_DimLessThanThreeLeavesAxesInactive(t *testing.T) {
	cfg := threeAxisConfig()
	cfg.Dim = 1
	c, err := New("tag-1", cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	est, errs := c.Step(ingest.Telemetry{XUwbPos: 5, YUwbPos: 9, ZUwbPos: 9, Timestamp: 1000})
	if len(errs) != 0 {
		t.Fatalf("unexpected axis errors: %v", errs)
	}
	if est.YEstPos != 0 || est.ZEstPos != 0 {
		t.Errorf("inactive axes must report 0, got y=%v z=%v", est.YEstPos, est.ZEstPos)
	}
}

func TestCoordinator_RejectsOutOfRangeDim(t *testing.T) {
	cfg := threeAxisConfig()
	cfg.Dim = 4
	if _, err := New("tag-1", cfg); !errors.Is(err, obslog.ErrConfig) {
		t.Errorf("err = %v, want ErrConfig", err)
	}
}

// S6: snapshot/restore roundtrip leaves subsequent behavior identical to
// the continued run.
func TestCoordinator_PersistenceRoundtrip(t *testing.T) {
	cfg := threeAxisConfig()

	running, err := New("tag-1", cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, errs := running.Step(ingest.Telemetry{XUwbPos: 0.5, YUwbPos: 0.5, ZUwbPos: 0.5, Timestamp: 1000}); len(errs) != 0 {
		t.Fatalf("seed step errors: %v", errs)
	}

	snap := running.StateToDict()

	restored, err := New("tag-1", cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := restored.UpdateState(snap); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}

	next := ingest.Telemetry{XUwbPos: 0.7, YUwbPos: 0.7, ZUwbPos: 0.7, Timestamp: 2000}
	wantEst, wantErrs := running.Step(next)
	gotEst, gotErrs := restored.Step(next)

	if len(wantErrs) != 0 || len(gotErrs) != 0 {
		t.Fatalf("unexpected errors: want=%v got=%v", wantErrs, gotErrs)
	}
	if !almostEqual(gotEst.XEstPos, wantEst.XEstPos) || !almostEqual(gotEst.YEstPos, wantEst.YEstPos) || !almostEqual(gotEst.ZEstPos, wantEst.ZEstPos) {
		t.Errorf("restored coordinator diverged: got=%+v want=%+v", gotEst, wantEst)
	}
}

func TestCoordinator_NumericalFailureFallsBackToPrediction(t *testing.T) {
	cfg := threeAxisConfig()
	cfg.X.ModelVariance = -10 // drives P- <= 0, forcing NumericalFailure on the x axis
	c, err := New("tag-1", cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	est, errs := c.Step(ingest.Telemetry{XUwbPos: 1, YUwbPos: 1, ZUwbPos: 1, Timestamp: 1000})
	if len(errs) != 1 || !errors.Is(errs[0], obslog.ErrNumericalFailure) {
		t.Fatalf("errs = %v, want exactly one ErrNumericalFailure", errs)
	}
	// x's filter state was never updated, so the fallback equals its
	// (unchanged) kinematic prediction: A*0 = 0.
	if est.XEstPos != 0 {
		t.Errorf("XEstPos = %v, want 0 (prediction fallback)", est.XEstPos)
	}
	if est.YEstPos == 0 {
		t.Errorf("YEstPos unexpectedly 0; y axis should have updated normally")
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9
}
