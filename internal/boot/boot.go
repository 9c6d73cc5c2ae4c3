// Package boot runs the flight core's fixed initialization sequence:
// clock, CRC (pure, nothing to construct), persistent-store facade,
// assertion framework, fault log, system-state container, mission data,
// EPS controller, operational state machine, scheduler. The sequence is
// numbered and logged step-by-step in the same staged-startup style as
// the teacher's cmd/octoreflex/main.go, adapted so a step failure is
// logged and the sequence continues rather than exiting the process —
// every subsystem already degrades to safe in-memory defaults when its
// persisted record is missing or corrupt.
package boot

import (
	"go.uber.org/zap"

	"github.com/cheesejaguar/smartqso/internal/assertfail"
	"github.com/cheesejaguar/smartqso/internal/budget"
	"github.com/cheesejaguar/smartqso/internal/clock"
	"github.com/cheesejaguar/smartqso/internal/config"
	"github.com/cheesejaguar/smartqso/internal/eps"
	"github.com/cheesejaguar/smartqso/internal/errs"
	"github.com/cheesejaguar/smartqso/internal/fdir"
	"github.com/cheesejaguar/smartqso/internal/mission"
	"github.com/cheesejaguar/smartqso/internal/opstate"
	"github.com/cheesejaguar/smartqso/internal/sched"
	"github.com/cheesejaguar/smartqso/internal/store"
	"github.com/cheesejaguar/smartqso/internal/sysstate"
)

// Core bundles every subsystem the fixed boot sequence wires together.
// cmd/smartqso and cmd/smartqso-sim drive it from their main loop.
type Core struct {
	Clock     clock.MicroSource
	Backend   store.Backend
	Asserts   *assertfail.Framework
	Faults    *fdir.Log
	Sys       *sysstate.State
	Mission   *mission.Tracker
	EPS       *eps.Controller
	OpState   *opstate.Machine
	Sched     *sched.Scheduler
	CmdBudget *budget.Bucket

	FirstBoot bool

	log *zap.Logger
}

// New runs the fixed initialization sequence against an already-opened
// storage backend and returns the wired Core. The only fatal condition
// is a nil backend: every other step degrades to in-memory defaults on
// failure, logs a warning, and the sequence continues.
func New(cfg *config.Config, backend store.Backend, src clock.MicroSource, logger *zap.Logger) (*Core, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if backend == nil {
		return nil, errs.New("boot.New", errs.NullArg)
	}
	if src == nil {
		src = clock.NewMonotonic()
	}

	c := &Core{Clock: src, Backend: backend, log: logger}
	nowMS := src.NowMS()

	// Step 1: time source. Already constructed by the caller (or defaulted
	// above) — nothing to load.
	logger.Info("boot: time source ready", zap.Uint64("now_ms", nowMS))

	// Step 2: CRC32 is a pure function (internal/crc); nothing to init.

	// Step 3: persistent-store facade. Already open; confirm every region
	// is reachable by probing Size on each, logging but not failing on
	// backend trouble — a fresh backend simply reports size 0 everywhere.
	for _, r := range store.Regions {
		if _, err := backend.Size(r); err != nil {
			logger.Warn("boot: store region probe failed", zap.String("region", string(r)), zap.Error(err))
		}
	}
	logger.Info("boot: persistent-store facade ready")

	// Step 4: assertion framework.
	c.Asserts = assertfail.New(logger, src)
	logger.Info("boot: assertion framework ready")

	// Step 5: fault log, loaded from its persisted region.
	c.Faults = fdir.New(src, backend, logger)
	if err := c.Faults.Load(); err != nil {
		logger.Warn("boot: fault log load failed, starting empty", zap.Error(err))
	}
	logger.Info("boot: fault log ready", zap.Int("entries", c.Faults.Count()))

	// Step 6: system-state container — load, or initialize with defaults.
	c.Sys = sysstate.New(backend, logger)
	if err := c.Sys.Load(); err != nil {
		logger.Warn("boot: system state load failed", zap.Error(err))
	}
	if !c.Sys.Initialized() {
		c.Sys.Init(nowMS)
		logger.Info("boot: system state initialized with defaults")
	} else {
		logger.Info("boot: system state restored from persistence")
	}

	// Step 7: mission data — load, or initialize with boot-count = 1.
	c.Mission = mission.New(backend, logger)
	firstBoot, err := c.Mission.Load()
	if err != nil {
		logger.Warn("boot: mission data load failed, starting fresh", zap.Error(err))
	}
	c.FirstBoot = firstBoot
	c.Mission.IncrementReset(nowMS)
	if firstBoot {
		c.Mission.SetStart(nowMS)
	}
	logger.Info("boot: mission data ready",
		zap.Bool("first_boot", firstBoot),
		zap.Uint32("boot_count", c.Mission.ResetCount()))

	// Step 8: EPS controller — load, or defaults.
	c.EPS = eps.New(src, backend, logger)
	if err := c.EPS.Load(); err != nil {
		logger.Warn("boot: EPS controller load failed, using defaults", zap.Error(err))
	}
	logger.Info("boot: EPS controller ready", zap.String("mode", c.EPS.Mode().String()))

	// Step 9: operational state machine, starting in BOOT. Thermal, power,
	// and watchdog faults drive fdir's recovery procedures through the
	// transition actions below, so the autonomous recovery path runs
	// wherever the transition table admits the triggering event rather
	// than depending on callers to invoke it explicitly.
	c.OpState = opstate.New(src, c.Faults, logger)
	soc := func() float64 { return c.Sys.Power().StateOfCharge }
	for _, s := range []opstate.State{opstate.Idle, opstate.Active} {
		c.OpState.SetAction(s, opstate.ThermalFault, func() { c.Faults.RecoverThermal(soc(), c.EPS) })
	}
	for _, s := range []opstate.State{opstate.Detumble, opstate.Idle, opstate.Active} {
		c.OpState.SetAction(s, opstate.PowerLow, func() { c.Faults.RecoverPower(soc(), c.EPS) })
		c.OpState.SetAction(s, opstate.WatchdogTimeout, func() { c.Faults.HandleWatchdog(soc()) })
	}
	for _, s := range []opstate.State{opstate.Boot, opstate.Detumble, opstate.Idle, opstate.Active} {
		c.OpState.SetAction(s, opstate.PowerCritical, func() { c.Faults.RecoverPower(soc(), c.EPS) })
	}
	c.OpState.Init(opstate.Boot)
	logger.Info("boot: operational state machine initialized", zap.String("state", c.OpState.State().String()))

	// Step 10: scheduler. Core tasks are registered by the caller (the
	// task bodies close over subsystems the boot sequence has no opinion
	// about — telemetry cadence, ground-link polling); the scheduler
	// itself is constructed here so Register calls from main have
	// somewhere to land before the cooperative loop starts ticking.
	c.Sched = sched.New(src, logger, cfg.Scheduler.UtilizationWindow)
	logger.Info("boot: scheduler ready", zap.Int("utilization_window", cfg.Scheduler.UtilizationWindow))

	// Step 11: uplink command rate limiter, guarding command dispatch
	// against a flood of forged or replayed frames.
	c.CmdBudget = budget.New(cfg.Command.RateLimitCapacity, cfg.Command.RateLimitRefillMS, nowMS)
	logger.Info("boot: uplink command rate limiter ready", zap.Int("capacity", cfg.Command.RateLimitCapacity))

	logger.Info("boot: sequence complete")
	return c, nil
}
