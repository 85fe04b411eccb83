package ingest

import (
	"errors"
	"testing"

	"github.com/virtual-origami/pypersonnelloc/internal/obslog"
)

const validPayload = `{
	"id": "tag-1",
	"data_aggregator_id": "agg-1",
	"timestamp": 1000,
	"x_uwb_pos": 1.5,
	"y_uwb_pos": 2.5,
	"z_uwb_pos": 3.5,
	"x_imu_vel": 0.1,
	"y_imu_vel": 0.2,
	"z_imu_vel": 0.3
}`

func TestDecode_Valid(t *testing.T) {
	tel, err := Decode([]byte(validPayload))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if tel.ID != "tag-1" || tel.Timestamp != 1000 || tel.XUwbPos != 1.5 {
		t.Errorf("unexpected decode result: %+v", tel)
	}
}

// S5: a message missing a required field is dropped with InvalidInput.
func TestDecode_MissingField(t *testing.T) {
	payload := `{
		"id": "tag-1",
		"data_aggregator_id": "agg-1",
		"timestamp": 1000,
		"x_uwb_pos": 1.5,
		"y_uwb_pos": 2.5,
		"z_uwb_pos": 3.5,
		"x_imu_vel": 0.1,
		"z_imu_vel": 0.3
	}`
	_, err := Decode([]byte(payload))
	if !errors.Is(err, obslog.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestDecode_MalformedJSON(t *testing.T) {
	_, err := Decode([]byte("{not json"))
	if !errors.Is(err, obslog.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestDecode_NonFiniteValue(t *testing.T) {
	payload := `{
		"id": "tag-1",
		"data_aggregator_id": "agg-1",
		"timestamp": 1000,
		"x_uwb_pos": 1e999,
		"y_uwb_pos": 2.5,
		"z_uwb_pos": 3.5,
		"x_imu_vel": 0.1,
		"y_imu_vel": 0.2,
		"z_imu_vel": 0.3
	}`
	// 1e999 overflows float64 during JSON number parsing into +Inf is not how
	// encoding/json behaves (it errors instead); exercise the finiteness
	// check directly via a value that parses but is non-finite once decoded
	// through an intermediate computation is not expressible in JSON, so this
	// test instead confirms the overflow path itself is rejected.
	_, err := Decode([]byte(payload))
	if !errors.Is(err, obslog.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestQueue_PushDrainOrder(t *testing.T) {
	q := NewQueue()
	q.Push(Telemetry{ID: "a"})
	q.Push(Telemetry{ID: "b"})
	if q.Len() != 2 {
		t.Fatalf("Len = %d, want 2", q.Len())
	}
	items := q.Drain()
	if len(items) != 2 || items[0].ID != "a" || items[1].ID != "b" {
		t.Fatalf("Drain order = %+v, want [a b]", items)
	}
	if q.Len() != 0 {
		t.Errorf("Len after drain = %d, want 0", q.Len())
	}
	if got := q.Drain(); got != nil {
		t.Errorf("Drain on empty queue = %+v, want nil", got)
	}
}
