// Package service implements the service loop (spec.md §4.5): it builds a
// Coordinator per configured tracker, drains each tracker's ingest queue on
// a fixed interval, and publishes assembled estimates to the plm_walker and
// visual exchanges.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/virtual-origami/pypersonnelloc/internal/config"
	"github.com/virtual-origami/pypersonnelloc/internal/health"
	"github.com/virtual-origami/pypersonnelloc/internal/ingest"
	"github.com/virtual-origami/pypersonnelloc/internal/localization"
	"github.com/virtual-origami/pypersonnelloc/internal/metrics"
	"github.com/virtual-origami/pypersonnelloc/internal/obslog"
	"github.com/virtual-origami/pypersonnelloc/internal/persistence"
	"github.com/virtual-origami/pypersonnelloc/internal/transport/amqp"
)

// plmWalkerEstimate is the reduced record published to the plm_walker
// exchange (spec.md §4.5, §6).
type plmWalkerEstimate struct {
	ID        string  `json:"id"`
	XEstPos   float64 `json:"x_est_pos"`
	YEstPos   float64 `json:"y_est_pos"`
	ZEstPos   float64 `json:"z_est_pos"`
	Timestamp int64   `json:"timestamp"`
}

// visualEstimate is the full merged record published to the visual
// exchange: the input telemetry plus the assembled estimate.
type visualEstimate struct {
	ingest.Telemetry
	Dimension int     `json:"dimension"`
	XEstPos   float64 `json:"x_est_pos"`
	YEstPos   float64 `json:"y_est_pos"`
	ZEstPos   float64 `json:"z_est_pos"`
}

// Tracker is one `localization.trackers[]` entry brought to life: a
// coordinator, its ingest queue, its transports, and its optional
// persistence store.
type Tracker struct {
	name     string
	coord    *localization.Coordinator
	queue    *ingest.Queue
	interval time.Duration

	publishers map[string]*amqp.Publisher
	store      *persistence.Store

	log    *logrus.Entry
	m      *metrics.Metrics
	status *health.Status
}

// NewTracker constructs and connects every collaborator a tracker entry
// names: the coordinator, AMQP publishers/subscribers, and (if configured)
// the Redis persistence store. On a construction failure every connection
// opened so far is closed before returning and the returned cleanup is a
// no-op; on success the returned cleanup tears all of them down.
func NewTracker(name string, cfg config.Tracker, log *logrus.Entry, m *metrics.Metrics, status *health.Status) (*Tracker, func(), error) {
	if cfg.Algorithm.Type != "rakf" {
		return nil, func() {}, obslog.NewConfigError(fmt.Sprintf("tracker %q: unsupported algorithm.type %q", name, cfg.Algorithm.Type), nil)
	}

	coord, err := localization.New(name, cfg.Algorithm.CoordinatorConfig())
	if err != nil {
		return nil, func() {}, err
	}

	t := &Tracker{
		name:       name,
		coord:      coord,
		queue:      ingest.NewQueue(),
		interval:   time.Duration(cfg.Algorithm.Interval * float64(time.Second)),
		publishers: make(map[string]*amqp.Publisher),
		log:        log.WithField("tracker", name),
		m:          m,
		status:     status,
	}

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	if cfg.InMemDB != nil {
		store, closeStore, err := persistence.Open(persistence.Config{
			Address:  cfg.InMemDB.Server.Address,
			Port:     cfg.InMemDB.Server.Port,
			Password: cfg.InMemDB.Credentials.Password,
		})
		if err != nil {
			cleanup()
			return nil, func() {}, err
		}
		t.store = store
		cleanups = append(cleanups, closeStore)
	}

	for _, pubCfg := range cfg.Protocol.Publishers {
		_, ch, closeConn, err := amqp.Dial(pubCfg.URL)
		if err != nil {
			cleanup()
			return nil, func() {}, err
		}
		cleanups = append(cleanups, closeConn)

		pub, err := amqp.NewPublisher(ch, pubCfg, t.log)
		if err != nil {
			cleanup()
			return nil, func() {}, err
		}
		t.publishers[pubCfg.ExchangeName] = pub
	}

	for _, subCfg := range cfg.Protocol.Subscribers {
		_, ch, closeConn, err := amqp.Dial(subCfg.URL)
		if err != nil {
			cleanup()
			return nil, func() {}, err
		}
		cleanups = append(cleanups, closeConn)

		sub, err := amqp.NewSubscriber(ch, subCfg, t.log)
		if err != nil {
			cleanup()
			return nil, func() {}, err
		}
		t.startSubscriber(sub)
	}

	status.SetReady(name, true)
	return t, func() {
		status.Remove(name)
		cleanup()
	}, nil
}

// startSubscriber runs a subscriber's consume loop in its own goroutine:
// the single producer side of the tracker's single-producer/single-consumer
// ingest queue (spec.md §5). The goroutine exits when its connection's
// context is cancelled by the owning cleanup closing the channel.
func (t *Tracker) startSubscriber(sub *amqp.Subscriber) {
	go func() {
		ctx := context.Background()
		err := sub.Run(ctx, func(exchange, binding string, body []byte) {
			t.m.TelemetryReceived.WithLabelValues(exchange).Inc()
			tel, err := ingest.Decode(body)
			if err != nil {
				t.m.TelemetryDropped.WithLabelValues(exchange, "invalid_input").Inc()
				t.log.WithError(err).Warn("dropping telemetry message")
				return
			}
			t.queue.Push(tel)
			t.m.QueueDepth.WithLabelValues(t.name).Set(float64(t.queue.Len()))
		})
		if err != nil {
			t.m.TransportErrors.WithLabelValues("subscribe").Inc()
			t.status.SetReady(t.name, false)
			t.log.WithError(err).Error("subscriber loop exited")
		}
	}()
}

// Tick drains the ingest queue and runs every pending telemetry record
// through the coordinator, publishing an estimate for each (spec.md §4.5).
func (t *Tracker) Tick(ctx context.Context) {
	records := t.queue.Drain()
	t.m.QueueDepth.WithLabelValues(t.name).Set(0)

	for _, rec := range records {
		t.process(ctx, rec)
	}
}

func (t *Tracker) process(ctx context.Context, rec ingest.Telemetry) {
	if t.store != nil {
		snap, err := t.store.Get(ctx, rec.ID)
		if errors.Is(err, obslog.ErrPersistenceMissing) {
			t.m.PersistenceMisses.WithLabelValues(t.name).Inc()
			t.log.WithField("tag_id", rec.ID).Warn("no persisted state for tag, skipping message")
			return
		}
		if err != nil {
			t.m.TransportErrors.WithLabelValues("persistence_get").Inc()
			t.log.WithError(err).WithField("tag_id", rec.ID).Warn("persistence read failed, skipping message")
			return
		}
		if err := t.coord.UpdateState(snap); err != nil {
			t.log.WithError(err).WithField("tag_id", rec.ID).Warn("failed to restore persisted state")
			return
		}
	}

	est, errs := t.coord.Step(rec)
	for _, axisErr := range errs {
		axis := "unknown"
		var ae *localization.AxisError
		if errors.As(axisErr, &ae) {
			axis = ae.Axis
		}
		t.m.NumericalFailures.WithLabelValues(t.name, axis).Inc()
		t.log.WithError(axisErr).WithField("tag_id", rec.ID).Warn("axis step fell back to kinematic prediction")
	}
	for axis := 0; axis < est.Dimension; axis++ {
		t.m.FilterStepsTotal.WithLabelValues(t.name, axisName(axis)).Inc()
	}

	if t.store != nil {
		snap := t.coord.StateToDict()
		if err := t.store.Set(ctx, rec.ID, snap); err != nil {
			t.m.TransportErrors.WithLabelValues("persistence_set").Inc()
			t.log.WithError(err).WithField("tag_id", rec.ID).Warn("persistence write failed")
		}
	}

	t.publish(ctx, "plm_walker", plmWalkerEstimate{
		ID:        rec.ID,
		XEstPos:   est.XEstPos,
		YEstPos:   est.YEstPos,
		ZEstPos:   est.ZEstPos,
		Timestamp: rec.Timestamp,
	})
	t.publish(ctx, "visual", visualEstimate{
		Telemetry: rec,
		Dimension: est.Dimension,
		XEstPos:   est.XEstPos,
		YEstPos:   est.YEstPos,
		ZEstPos:   est.ZEstPos,
	})
}

func (t *Tracker) publish(ctx context.Context, exchange string, payload any) {
	pub, ok := t.publishers[exchange]
	if !ok {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.log.WithError(err).WithField("exchange", exchange).Error("failed to serialize estimate")
		return
	}
	if err := pub.Publish(ctx, body); err != nil {
		t.m.PublishTotal.WithLabelValues(exchange, "error").Inc()
		t.m.TransportErrors.WithLabelValues("publish").Inc()
		t.log.WithError(err).WithField("exchange", exchange).Warn("failed to publish estimate")
		return
	}
	t.m.PublishTotal.WithLabelValues(exchange, "ok").Inc()
}

func axisName(i int) string {
	switch i {
	case 0:
		return "x"
	case 1:
		return "y"
	default:
		return "z"
	}
}
