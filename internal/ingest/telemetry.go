// Package ingest decodes and validates inbound telemetry messages before
// they are enqueued for the service loop to drain.
package ingest

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/virtual-origami/pypersonnelloc/internal/obslog"
)

// Telemetry is the decoded form of one bus message: a UWB position fix plus
// optional IMU velocity hints for a single tracked tag.
type Telemetry struct {
	ID               string  `json:"id"`
	DataAggregatorID string  `json:"data_aggregator_id"`
	Timestamp        int64   `json:"timestamp"`
	XUwbPos          float64 `json:"x_uwb_pos"`
	YUwbPos          float64 `json:"y_uwb_pos"`
	ZUwbPos          float64 `json:"z_uwb_pos"`
	XImuVel          float64 `json:"x_imu_vel"`
	YImuVel          float64 `json:"y_imu_vel"`
	ZImuVel          float64 `json:"z_imu_vel"`
}

// requiredFields mirrors the key set spec.md §4.3 validates presence of.
var requiredFields = []string{
	"id", "x_imu_vel", "y_imu_vel", "z_imu_vel",
	"x_uwb_pos", "y_uwb_pos", "z_uwb_pos",
	"data_aggregator_id", "timestamp",
}

// Decode parses a raw bus message body, checks that every required key is
// present, and verifies every numeric field is finite. A malformed body, a
// missing key, or a non-finite number all fail with InvalidInput so the
// caller can drop the message and continue (spec.md §4.3, §7).
func Decode(body []byte) (Telemetry, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return Telemetry{}, obslog.NewInvalidInput("malformed telemetry payload", err)
	}

	for _, key := range requiredFields {
		if _, ok := raw[key]; !ok {
			return Telemetry{}, obslog.NewInvalidInput(fmt.Sprintf("telemetry payload missing field %q", key), nil)
		}
	}

	var t Telemetry
	if err := json.Unmarshal(body, &t); err != nil {
		return Telemetry{}, obslog.NewInvalidInput("telemetry payload has the wrong field types", err)
	}

	for _, v := range []float64{t.XUwbPos, t.YUwbPos, t.ZUwbPos, t.XImuVel, t.YImuVel, t.ZImuVel} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Telemetry{}, obslog.NewInvalidInput("telemetry payload contains a non-finite value", nil)
		}
	}

	return t, nil
}
