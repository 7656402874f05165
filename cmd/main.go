package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/okian/aidect/internal/adapters/detector"
	"github.com/okian/aidect/internal/adapters/http/responder"
	"github.com/okian/aidect/internal/adapters/zoneminder"
	app "github.com/okian/aidect/internal/app"
	"github.com/okian/aidect/internal/config"
	"github.com/okian/aidect/internal/pacing"
	"github.com/okian/aidect/internal/watchdog"
	"github.com/okian/aidect/pkg/logger"
	"github.com/okian/aidect/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	shutdownTimeout       = 5 * time.Second
	systemMetricsInterval = 10 * time.Second
)

func main() {
	os.Exit(run(os.Args, os.Stderr))
}

// run wires the process for one monitor and returns the exit code.
func run(args []string, stderr io.Writer) int {
	if len(args) != 2 {
		_, _ = fmt.Fprintln(stderr, "Usage: aidect MONITOR_ID")
		return 1
	}

	if err := logger.InitWriter(stderr); err != nil {
		_, _ = fmt.Fprintln(stderr, "failed to initialize logging: "+err.Error())
		return 1
	}
	defer func() { _ = logger.Sync() }()

	monitorID, err := parseMonitorID(args[1])
	if err != nil {
		logger.Get().Error(context.Background(), "invalid monitor id",
			logger.String("arg", args[1]), logger.Error(err))
		return 1
	}

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		logger.Get().Error(ctx, "failed to load config", logger.Error(err))
		return 1
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(ctx, "invalid log_level; falling back to info",
			logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	log := logger.Get().With(
		logger.Int("monitor", monitorID),
		logger.String("run", uuid.NewString()),
	)

	if err := serve(ctx, cfg, monitorID, log); err != nil {
		log.Error(ctx, "terminating", logger.Error(err))
		return 1
	}
	return 0
}

func parseMonitorID(arg string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, fmt.Errorf("monitor id must be positive, got %d", id)
	}
	return id, nil
}

// serve builds the loop and its collaborators, runs it, and shuts down.
func serve(ctx context.Context, cfg *config.Config, monitorID int, log logger.Logger) error {
	zone := cfg.ZoneFor(monitorID)
	classes, err := zone.ClassMap()
	if err != nil {
		return err
	}

	host, err := zoneminder.New(cfg.Host.URL,
		zoneminder.WithCredentials(cfg.Host.User, cfg.Host.Password),
		zoneminder.WithTimeout(cfg.Host.Timeout()),
		zoneminder.WithIdleState(cfg.Host.IdleState),
		zoneminder.WithLogger(log.Named("zoneminder")),
	)
	if err != nil {
		return err
	}
	defer func() { _ = host.Close() }()

	if err := host.Login(ctx); err != nil {
		return err
	}

	region := zone.Rect()
	if zone.Name != "" {
		poly, err := host.Zone(ctx, monitorID, zone.Name)
		if err != nil {
			return err
		}
		region = poly.BoundingBox()
	}

	fps := zone.FPS
	if fps == 0 {
		if fps, err = host.AnalysisFPS(ctx, monitorID); err != nil {
			return err
		}
	}

	pacer, err := pacing.New(fps)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	mm := metrics.NewManager(
		metrics.WithPrometheusRegistry(registry),
		metrics.WithCustomLabels(map[string]string{"monitor": strconv.Itoa(monitorID)}),
	)

	addr := fmt.Sprintf(":%d", responder.Port(cfg.MetricsBasePort, monitorID))
	metricsServer := responder.New(addr, registry, responder.WithLogger(log.Named("responder")))
	if err := metricsServer.Start(ctx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error(ctx, "metrics responder shutdown failed", logger.Error(err))
		}
	}()

	metricsCtx, stopMetrics := context.WithCancel(ctx)
	defer stopMetrics()
	go startSystemMetricsUpdater(metricsCtx, mm)

	wd := watchdog.New(
		time.Duration(cfg.WatchdogFrames*float64(pacer.TargetInterval())),
		watchdog.WithLogger(log.Named("watchdog")),
	)
	defer wd.Stop()

	svc, err := app.New(
		app.Dependencies{
			Frames:    host.Frames(monitorID),
			Detector:  newDetector(cfg, zone, log),
			Annotator: host,
			Pacer:     pacer,
		},
		app.WithLogger(log.Named("loop")),
		app.WithMetrics(mm),
		app.WithWatchdog(wd),
		app.WithMonitorID(monitorID),
		app.WithTriggerID(zone.TriggerID(monitorID)),
		app.WithTag(cfg.TriggerTag),
		app.WithClasses(classes),
		app.WithRegion(region),
		app.WithMinArea(zone.MinArea),
	)
	if err != nil {
		return err
	}

	log.Info(ctx, "starting detection",
		logger.Float64("fps", fps),
		logger.Any("classes", zone.ClassNames()),
		logger.Float64("threshold", zone.Threshold),
		logger.String("region", region.String()),
		logger.Duration("watchdog", wd.Timeout()),
		logger.String("metrics", metricsServer.Addr()))

	err = svc.Serve(ctx)
	if errors.Is(err, watchdog.ErrLivenessViolation) {
		log.Error(ctx, "detection loop stalled", logger.Duration("timeout", wd.Timeout()))
	}
	return err
}

func newDetector(cfg *config.Config, zone config.Zone, log logger.Logger) *detector.Client {
	return detector.New(cfg.Detector.URL,
		detector.WithThreshold(zone.Threshold),
		detector.WithInputSize(zone.Size),
		detector.WithTimeout(cfg.Detector.Timeout()),
		detector.WithJPEGQuality(cfg.Detector.JPEGQuality),
		detector.WithLogger(log.Named("detector")),
	)
}

// startSystemMetricsUpdater refreshes the process gauges until ctx is done.
func startSystemMetricsUpdater(ctx context.Context, m *metrics.Manager) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	updateSystemMetrics(m)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics(m)
		}
	}
}

func updateSystemMetrics(m *metrics.Manager) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.UpdateSystemMemoryUsage(ms.Alloc)
	m.UpdateSystemGoroutineCount(runtime.NumGoroutine())
}
