// Command localizer runs the personnel-localization service: it reads a
// YAML configuration file, instantiates a Robust Adaptive Kalman Filter
// coordinator per configured tracker, and drains telemetry from AMQP
// exchanges into smoothed position estimates (spec.md §6).
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/virtual-origami/pypersonnelloc/internal/health"
	"github.com/virtual-origami/pypersonnelloc/internal/obslog"
	"github.com/virtual-origami/pypersonnelloc/internal/service"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "YAML configuration file for the personnel localization service (required)")
	healthAddr := flag.String("health-addr", ":8080", "address to serve /healthz, /readyz, and /metrics on")
	flag.Parse()

	log := obslog.New("localizer")

	if *configPath == "" {
		log.Error("--config is required")
		return 1
	}
	if _, err := os.Stat(*configPath); err != nil {
		log.WithError(err).Error("configuration file not readable")
		return 1
	}

	ctx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	reloadCh := make(chan struct{}, 1)
	notifyReload(ctx, reloadCh)

	status := health.NewStatus()
	healthSrv := &http.Server{Addr: *healthAddr, Handler: health.NewRouter(status)}
	go func() {
		if err := healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("health server exited")
		}
	}()
	defer func() { _ = healthSrv.Close() }()

	if err := service.Run(ctx, *configPath, reloadCh, log, status); err != nil {
		var svcErr *obslog.Error
		if errors.As(err, &svcErr) && svcErr.Kind == obslog.KindConfig {
			log.WithError(err).Error("fatal configuration error")
			return 1
		}
		log.WithError(err).Error("service loop exited with error")
		return 1
	}

	return 0
}

// notifyReload forwards SIGHUP to reloadCh for the lifetime of ctx,
// matching the reference's signal_handler-sets-a-flag pattern (spec.md §6,
// §9) but modeled as a channel instead of global mutable state.
func notifyReload(ctx context.Context, reloadCh chan struct{}) {
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		defer signal.Stop(sighup)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sighup:
				select {
				case reloadCh <- struct{}{}:
				default:
				}
			}
		}
	}()
}
