// Package main — cmd/smartqso/main.go
//
// SMART-QSO flight core entrypoint.
//
// Startup sequence:
//  1. Load and validate config from /etc/smartqso/config.yaml.
//  2. Initialise structured logger (zap).
//  3. Open the persistence backend selected by storage.backend.
//  4. Run the fixed boot sequence (internal/boot): clock, store facade,
//     assertion framework, fault log, system state, mission data, EPS
//     controller, operational state machine, scheduler.
//  5. Register core tasks (watchdog, telemetry, housekeeping) and enable
//     them.
//  6. Drive the cooperative scheduler from a single goroutine — the
//     scheduler itself never spawns one.
//  7. Register SIGHUP for config hot-reload.
//  8. Block on SIGINT/SIGTERM for graceful shutdown.
//
// Shutdown sequence (on SIGINT/SIGTERM):
//  1. Stop the scheduler loop.
//  2. Persist any dirty subsystem state.
//  3. Close the storage backend.
//  4. Flush the logger.
//  5. Exit 0.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cheesejaguar/smartqso/internal/boot"
	"github.com/cheesejaguar/smartqso/internal/clock"
	"github.com/cheesejaguar/smartqso/internal/config"
	"github.com/cheesejaguar/smartqso/internal/opstate"
	"github.com/cheesejaguar/smartqso/internal/sched"
	"github.com/cheesejaguar/smartqso/internal/simstore"
	"github.com/cheesejaguar/smartqso/internal/store"
	"github.com/cheesejaguar/smartqso/internal/store/flightstore"
	"github.com/cheesejaguar/smartqso/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "/etc/smartqso/config.yaml", "Path to config.yaml")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("smartqso %s (commit=%s built=%s)\n", config.Version, config.GitCommit, config.BuildTime)
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

	log.Info("smartqso starting",
		zap.String("version", config.Version),
		zap.String("satellite_id", cfg.SatelliteID),
		zap.String("config", *configPath))

	backend, err := openBackend(cfg)
	if err != nil {
		log.Fatal("storage backend open failed", zap.Error(err), zap.String("backend", cfg.Storage.Backend))
	}
	defer backend.Close() //nolint:errcheck

	src := clock.NewMonotonic()
	core, err := boot.New(cfg, backend, src, log)
	if err != nil {
		log.Fatal("boot sequence failed", zap.Error(err))
	}

	registerCoreTasks(core, cfg, log)

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info("SIGHUP received — reloading config...")
			newCfg, err := config.Load(*configPath)
			if err != nil {
				log.Error("config hot-reload failed — retaining old config", zap.Error(err))
				continue
			}
			log.Info("config hot-reload validated; changes take effect after restart",
				zap.Int("telemetry_interval_ms", newCfg.Telemetry.IntervalMS))
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
		case sig := <-sigCh:
			log.Info("shutdown signal received", zap.String("signal", sig.String()))
			break runLoop
		}
	}

	core.Sched.Stop()
	persistAll(core, log)
	log.Info("smartqso shutdown complete")
}

func openBackend(cfg *config.Config) (store.Backend, error) {
	switch cfg.Storage.Backend {
	case "flight":
		return flightstore.New(), nil
	default:
		return simstore.Open(cfg.Storage.DBPath)
	}
}

// registerCoreTasks wires the watchdog, telemetry and housekeeping tasks
// into the scheduler and enables them. A scheduler deadline-miss callback
// that escalates a faulted task into a WatchdogTimeout opstate event is
// installed here too, since it needs a reference to core.OpState.
func registerCoreTasks(core *boot.Core, cfg *config.Config, log *zap.Logger) {
	core.Sched.RegisterDeadlineMissFunc(func(h sched.Handle, overrunUS uint32) {
		st, err := core.Sched.State(h)
		if err != nil || st != sched.Fault {
			return
		}
		core.OpState.ProcessEvent(opstate.WatchdogTimeout)
		log.Warn("task escalated to FAULT, watchdog timeout raised", zap.Int("handle", int(h)))
	})

	if h, err := core.Sched.Register("watchdog", sched.Critical, 1000, 500, func() {
		core.Sys.SetWatchdogOK(true)
	}); err != nil {
		log.Error("failed to register watchdog task", zap.Error(err))
	} else {
		_ = core.Sched.Enable(h)
	}

	if h, err := core.Sched.Register("telemetry", sched.Normal, uint32(cfg.Telemetry.IntervalMS), 0, func() {
		emitTelemetry(core, cfg, log)
	}); err != nil {
		log.Error("failed to register telemetry task", zap.Error(err))
	} else {
		_ = core.Sched.Enable(h)
	}

	if h, err := core.Sched.Register("housekeeping", sched.Low, 10000, 0, func() {
		persistAll(core, log)
	}); err != nil {
		log.Error("failed to register housekeeping task", zap.Error(err))
	} else {
		_ = core.Sched.Enable(h)
	}
}

func emitTelemetry(core *boot.Core, cfg *config.Config, log *zap.Logger) {
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
	log.Debug("telemetry frame", zap.String("csv", line))

	beacon := telemetry.AX25Frame(cfg.Telemetry.Callsign, cfg.SatelliteID, cfg.Telemetry.SSID, cfg.Telemetry.SSID, []byte(line))
	log.Debug("AX.25 beacon framed", zap.Int("bytes", len(beacon)))
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
