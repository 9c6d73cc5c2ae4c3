// Package main — cmd/smartqso-sim/main.go
//
// SMART-QSO ground-segment simulator.
//
// Runs the identical flight core (internal/boot) against a simulated
// orbital environment — a sun/eclipse cycle driving solar input and
// battery state of charge — so a ground operator can exercise the
// operational state machine, EPS automatic demotion, and scheduler
// deadline monitoring without flight hardware. Exposes Prometheus metrics
// on 127.0.0.1:9091 (configurable); the flight build never does this.
//
// Startup sequence mirrors cmd/smartqso, with two additions: the
// Prometheus metrics server (step 4a) and the "environment" task that
// drives the simulated sun/eclipse cycle (registered alongside the core
// tasks).
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cheesejaguar/smartqso/internal/boot"
	"github.com/cheesejaguar/smartqso/internal/clock"
	"github.com/cheesejaguar/smartqso/internal/config"
	"github.com/cheesejaguar/smartqso/internal/eps"
	"github.com/cheesejaguar/smartqso/internal/metrics"
	"github.com/cheesejaguar/smartqso/internal/opstate"
	"github.com/cheesejaguar/smartqso/internal/sched"
	"github.com/cheesejaguar/smartqso/internal/simstore"
	"github.com/cheesejaguar/smartqso/internal/telemetry"
)

// opstates enumerates the named operational states for metrics reporting.
var opstates = []opstate.State{opstate.Boot, opstate.Safe, opstate.Detumble, opstate.Idle, opstate.Active, opstate.Emergency}

// orbitPeriodMS approximates a 90-minute LEO orbit, two-thirds sunlit.
const (
	orbitPeriodMS   = 90 * 60 * 1000
	eclipseFraction = 0.35
)

func main() {
	configPath := flag.String("config", "/etc/smartqso/config.yaml", "Path to config.yaml")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("smartqso-sim %s (commit=%s built=%s)\n", config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("smartqso-sim starting",
		zap.String("version", config.Version),
		zap.String("satellite_id", cfg.SatelliteID),
		zap.String("config", *configPath))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := simstore.Open(cfg.Storage.DBPath)
	if err != nil {
		log.Fatal("BoltDB open failed", zap.Error(err), zap.String("path", cfg.Storage.DBPath))
	}
	defer backend.Close() //nolint:errcheck

	m := metrics.New()
	go func() {
		if err := m.Serve(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	src := clock.NewMonotonic()
	core, err := boot.New(cfg, backend, src, log)
	if err != nil {
		log.Fatal("boot sequence failed", zap.Error(err))
	}

	registerCoreTasks(core, cfg, log, m)
	registerEnvironmentTask(core, log, m)

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info("SIGHUP received — reloading config...")
			if _, err := config.Load(*configPath); err != nil {
				log.Error("config hot-reload failed — retaining old config", zap.Error(err))
			} else {
				log.Info("config hot-reload successful")
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Scheduler.TickPeriod)
	defer ticker.Stop()

	log.Info("entering cooperative scheduler loop")
runLoop:
	for {
		select {
		case <-ticker.C:
			core.Sched.Tick()
			m.SchedulerUtilizationPercent.Set(core.Sched.Utilization())
			reportOpState(core, m)
		case sig := <-sigCh:
			log.Info("shutdown signal received", zap.String("signal", sig.String()))
			break runLoop
		}
	}

	cancel()
	core.Sched.Stop()
	persistAll(core, log)
	log.Info("smartqso-sim shutdown complete")
}

func reportOpState(core *boot.Core, m *metrics.Metrics) {
	current := core.OpState.State()
	for _, s := range opstates {
		v := 0.0
		if s == current {
			v = 1.0
		}
		m.CurrentState.WithLabelValues(s.String()).Set(v)
	}
}

func registerCoreTasks(core *boot.Core, cfg *config.Config, log *zap.Logger, m *metrics.Metrics) {
	core.Sched.RegisterDeadlineMissFunc(func(h sched.Handle, overrunUS uint32) {
		m.TaskDeadlineMissesTotal.WithLabelValues(fmt.Sprintf("task_%d", h)).Inc()
		st, err := core.Sched.State(h)
		if err != nil || st != sched.Fault {
			return
		}
		core.OpState.ProcessEvent(opstate.WatchdogTimeout)
		log.Warn("task escalated to FAULT, watchdog timeout raised",
			zap.Int("handle", int(h)), zap.Uint32("overrun_us", overrunUS))
	})

	if h, err := core.Sched.Register("watchdog", sched.Critical, 1000, 500, func() {
		core.Sys.SetWatchdogOK(true)
		m.TaskRunsTotal.WithLabelValues("watchdog").Inc()
	}); err != nil {
		log.Error("failed to register watchdog task", zap.Error(err))
	} else {
		_ = core.Sched.Enable(h)
	}

	if h, err := core.Sched.Register("telemetry", sched.Normal, uint32(cfg.Telemetry.IntervalMS), 0, func() {
		emitTelemetry(core, cfg, log, m)
	}); err != nil {
		log.Error("failed to register telemetry task", zap.Error(err))
	} else {
		_ = core.Sched.Enable(h)
	}

	if h, err := core.Sched.Register("housekeeping", sched.Low, 10000, 0, func() {
		persistAll(core, log)
		m.TaskRunsTotal.WithLabelValues("housekeeping").Inc()
	}); err != nil {
		log.Error("failed to register housekeeping task", zap.Error(err))
	} else {
		_ = core.Sched.Enable(h)
	}
}

// registerEnvironmentTask simulates a sun/eclipse orbital cycle: solar
// input charges the battery while sunlit, load drains it always. Crossing
// the configured EPS thresholds raises the matching opstate events so the
// state machine and EPS controller's automatic demotion can be observed
// end-to-end without flight hardware.
func registerEnvironmentTask(core *boot.Core, log *zap.Logger, m *metrics.Metrics) {
	h, err := core.Sched.Register("environment", sched.High, 1000, 0, func() {
		nowMS := core.Clock.NowMS()
		phase := float64(nowMS%orbitPeriodMS) / float64(orbitPeriodMS)
		sunlit := phase < (1 - eclipseFraction)

		power := core.Sys.Power()
		soc := power.StateOfCharge
		if soc == 0 {
			soc = 0.85
		}
		if sunlit {
			soc += 0.01
			power.SolarPower = 2.5
		} else {
			soc -= 0.015
			power.SolarPower = 0
		}
		soc = math.Max(0, math.Min(1, soc))
		power.StateOfCharge = soc
		power.BatteryVoltage = 6.0 + soc*2.4
		core.Sys.UpdatePower(nowMS, power)

		m.StateOfCharge.Set(soc)

		switch {
		case soc < 0.20:
			core.OpState.ProcessEvent(opstate.PowerCritical)
		case soc < eps.SOCSafeThreshold:
			core.OpState.ProcessEvent(opstate.PowerLow)
		default:
			core.OpState.ProcessEvent(opstate.PowerOK)
		}

		target := targetModeFor(soc)
		if err := core.EPS.SetPowerMode(target, soc); err != nil {
			log.Debug("EPS automatic demotion", zap.Error(err), zap.Float64("soc", soc))
		}
		current := core.EPS.Mode()
		for _, md := range []eps.Mode{eps.Safe, eps.Idle, eps.Active} {
			v := 0.0
			if md == current {
				v = 1
			}
			m.PowerMode.WithLabelValues(md.String()).Set(v)
		}
	})
	if err != nil {
		log.Error("failed to register environment task", zap.Error(err))
		return
	}
	_ = core.Sched.Enable(h)
}

func targetModeFor(soc float64) eps.Mode {
	switch {
	case soc >= eps.SOCPayloadThreshold:
		return eps.Active
	case soc >= eps.SOCIdleThreshold:
		return eps.Idle
	default:
		return eps.Safe
	}
}

func emitTelemetry(core *boot.Core, cfg *config.Config, log *zap.Logger, m *metrics.Metrics) {
	power := core.Sys.Power()
	epsState := core.EPS.State()

	frame := telemetry.Frame{
		TimeMS:      core.Clock.NowMS(),
		Sunlit:      power.SolarPower > 0,
		SOC:         power.StateOfCharge,
		Mode:        epsState.Mode,
		PowerLimitW: epsState.PowerLimitW,
	}
	line := frame.CSVLine()
	log.Info("telemetry frame", zap.String("csv", line))

	beacon := telemetry.AX25Frame(cfg.Telemetry.Callsign, cfg.SatelliteID, cfg.Telemetry.SSID, cfg.Telemetry.SSID, []byte(line))
	log.Debug("AX.25 beacon framed", zap.Int("bytes", len(beacon)))
	m.TaskRunsTotal.WithLabelValues("telemetry").Inc()
}

func persistAll(core *boot.Core, log *zap.Logger) {
	if core.Sys.Dirty() {
		if err := core.Sys.Save(core.Clock.NowMS()); err != nil {
			log.Warn("system state save failed", zap.Error(err))
		}
	}
	if err := core.Faults.Save(); err != nil {
		log.Warn("fault log save failed", zap.Error(err))
	}
	if err := core.Mission.Save(); err != nil {
		log.Warn("mission data save failed", zap.Error(err))
	}
	if err := core.EPS.Save(); err != nil {
		log.Warn("EPS state save failed", zap.Error(err))
	}
}

// buildLogger constructs a zap.Logger with the given level and format.
func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	return cfg.Build()
}
