package service

import (
	"context"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/virtual-origami/pypersonnelloc/internal/config"
	"github.com/virtual-origami/pypersonnelloc/internal/health"
	"github.com/virtual-origami/pypersonnelloc/internal/metrics"
	"github.com/virtual-origami/pypersonnelloc/internal/obslog"
)

// defaultInterval is used when a tracker's configured interval is
// non-positive, so a misconfigured tracker still ticks rather than
// busy-looping.
const defaultInterval = time.Second

// Run drives the outer configuration-reload loop (spec.md §4.5, §9): it
// loads configuration, builds a tracker per `rakf` entry, and ticks each on
// its configured interval until ctx is cancelled (process shutdown) or
// reloadCh fires (SIGHUP-equivalent config reload). On reload, every tracker
// is torn down and the outer loop re-reads configuration from scratch.
func Run(ctx context.Context, configPath string, reloadCh <-chan struct{}, log *logrus.Entry, status *health.Status) error {
	m := metrics.Get()

	for {
		if ctx.Err() != nil {
			return nil
		}

		root, err := config.Load(configPath)
		if err != nil {
			return err
		}
		log.WithField("version", root.Localization.Version).Info("configuration loaded")

		trackers, cleanup, err := buildTrackers(root, log, m, status)
		if err != nil {
			return err
		}

		reloaded := runInner(ctx, trackers, reloadCh, log)
		cleanup()

		if !reloaded {
			return nil
		}
		log.Info("reloading configuration")
	}
}

// buildTrackers constructs one Tracker per `rakf` algorithm entry. Any
// construction failure tears down every tracker already built before this
// one and returns that failure's error (a ConfigError for an unsupported
// algorithm or an unreachable persistence store, a TransportError for an
// unreachable broker).
func buildTrackers(root *config.Root, log *logrus.Entry, m *metrics.Metrics, status *health.Status) ([]*Tracker, func(), error) {
	var trackers []*Tracker
	var cleanups []func()

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	for i, tc := range root.Localization.Trackers {
		if tc.Algorithm.Type != "rakf" {
			cleanup()
			return nil, func() {}, obslog.NewConfigError("unsupported algorithm type", nil)
		}

		name := trackerName(i)
		t, tcleanup, err := NewTracker(name, tc, log, m, status)
		if err != nil {
			cleanup()
			return nil, func() {}, err
		}
		trackers = append(trackers, t)
		cleanups = append(cleanups, tcleanup)
	}

	return trackers, cleanup, nil
}

func trackerName(i int) string {
	return "tracker-" + strconv.Itoa(i)
}

// runInner fans in every tracker's own interval ticker onto a single
// channel of tracker indices and drives Tick from one goroutine, so that no
// two ticks (and thus no two filter steps for the same coordinator) ever
// run concurrently (spec.md §5: the scalar RAKF step must not interleave).
// It returns false when ctx is cancelled (outer loop exits) or true when
// reloadCh fires (outer loop rebuilds trackers from fresh configuration).
func runInner(ctx context.Context, trackers []*Tracker, reloadCh <-chan struct{}, log *logrus.Entry) bool {
	tickCtx, stopTickers := context.WithCancel(ctx)
	defer stopTickers()

	due := make(chan int, len(trackers))
	for i, t := range trackers {
		interval := t.interval
		if interval <= 0 {
			interval = defaultInterval
		}
		go fanInTicks(tickCtx, i, interval, due)
	}

	for {
		select {
		case <-ctx.Done():
			return false
		case <-reloadCh:
			return true
		case i := <-due:
			trackers[i].Tick(ctx)
		}
	}
}

func fanInTicks(ctx context.Context, index int, interval time.Duration, due chan<- int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case due <- index:
			case <-ctx.Done():
				return
			}
		}
	}
}
