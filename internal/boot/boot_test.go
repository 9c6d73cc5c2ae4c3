package boot

import (
	"testing"

	"go.uber.org/zap"

	"github.com/cheesejaguar/smartqso/internal/clock"
	"github.com/cheesejaguar/smartqso/internal/config"
	"github.com/cheesejaguar/smartqso/internal/eps"
	"github.com/cheesejaguar/smartqso/internal/opstate"
	"github.com/cheesejaguar/smartqso/internal/store/flightstore"
)

func testConfig() *config.Config {
	cfg := config.Defaults()
	return &cfg
}

func TestNewRejectsNilBackend(t *testing.T) {
	if _, err := New(testConfig(), nil, clock.NewFake(0), zap.NewNop()); err == nil {
		t.Fatalf("expected error for nil backend")
	}
}

func TestColdBootSequence(t *testing.T) {
	backend := flightstore.New()
	defer backend.Close()

	core, err := New(testConfig(), backend, clock.NewFake(0), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if !core.FirstBoot {
		t.Fatalf("expected FirstBoot true on an empty backend")
	}
	if core.Mission.ResetCount() != 1 {
		t.Fatalf("boot_count = %d, want 1 on first boot", core.Mission.ResetCount())
	}
	if core.OpState.State() != opstate.Boot {
		t.Fatalf("opstate = %v, want Boot", core.OpState.State())
	}
	if core.EPS.Mode() != eps.Safe {
		t.Fatalf("EPS mode = %v, want Safe", core.EPS.Mode())
	}
	if core.EPS.PayloadEnabled() {
		t.Fatalf("expected payload disabled on a cold boot")
	}
	if core.Faults.Count() != 0 {
		t.Fatalf("expected empty fault log on a cold boot, got %d", core.Faults.Count())
	}
	if err := core.Sys.Save(0); err != nil {
		t.Fatalf("Sys.Save: %v", err)
	}
	if core.Sys.Dirty() {
		t.Fatalf("expected the system state to be clean after the first save")
	}
}

func TestSecondBootIncrementsResetCount(t *testing.T) {
	backend := flightstore.New()
	defer backend.Close()
	cfg := testConfig()

	first, err := New(cfg, backend, clock.NewFake(0), zap.NewNop())
	if err != nil {
		t.Fatalf("first New: %v", err)
	}
	if err := first.Mission.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	second, err := New(cfg, backend, clock.NewFake(1000), zap.NewNop())
	if err != nil {
		t.Fatalf("second New: %v", err)
	}
	if second.FirstBoot {
		t.Fatalf("expected FirstBoot false on a restored backend")
	}
	if second.Mission.ResetCount() != 2 {
		t.Fatalf("boot_count = %d, want 2 on second boot", second.Mission.ResetCount())
	}
}

func TestSchedulerReadyForCoreTaskRegistration(t *testing.T) {
	backend := flightstore.New()
	defer backend.Close()

	core, err := New(testConfig(), backend, clock.NewFake(0), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := core.Sched.Register("watchdog", 0, 1000, 500, func() {}); err != nil {
		t.Fatalf("Register: %v", err)
	}
}

func TestThermalFaultTriggersPayloadRecovery(t *testing.T) {
	backend := flightstore.New()
	defer backend.Close()

	core, err := New(testConfig(), backend, clock.NewFake(0), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	core.Sys.SetStateOfCharge(0, 0.90)
	if err := core.EPS.SetPowerMode(eps.Active, 0.90); err != nil {
		t.Fatalf("SetPowerMode(Active, 0.90): %v", err)
	}
	if !core.EPS.PayloadEnabled() {
		t.Fatalf("setup: expected payload enabled before thermal fault")
	}

	core.OpState.ProcessEvent(opstate.BootComplete)
	core.OpState.ProcessEvent(opstate.DetumbleComplete)
	core.OpState.ProcessEvent(opstate.GroundCmdActive)
	if core.OpState.State() != opstate.Active {
		t.Fatalf("opstate = %v, want Active before thermal fault", core.OpState.State())
	}

	core.OpState.ProcessEvent(opstate.ThermalFault)
	if core.EPS.PayloadEnabled() {
		t.Fatalf("expected thermal fault recovery to disable payload")
	}
	if core.EPS.Mode() != eps.Idle {
		t.Fatalf("expected thermal fault recovery to demote EPS to Idle, got %v", core.EPS.Mode())
	}
}

func TestPowerCriticalTriggersSafeModeRecovery(t *testing.T) {
	backend := flightstore.New()
	defer backend.Close()

	core, err := New(testConfig(), backend, clock.NewFake(0), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	core.Sys.SetStateOfCharge(0, 0.10)
	if err := core.EPS.SetPowerMode(eps.Idle, 0.50); err != nil {
		t.Fatalf("SetPowerMode(Idle, 0.50): %v", err)
	}

	core.OpState.ProcessEvent(opstate.BootComplete)
	core.OpState.ProcessEvent(opstate.PowerCritical)

	if core.EPS.Mode() != eps.Safe {
		t.Fatalf("expected power-critical recovery to force Safe mode, got %v", core.EPS.Mode())
	}
	if core.Faults.Count() == 0 {
		t.Fatalf("expected a fault log entry from power recovery")
	}
}

func TestCmdBudgetReadyAfterBoot(t *testing.T) {
	backend := flightstore.New()
	defer backend.Close()

	core, err := New(testConfig(), backend, clock.NewFake(0), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cfg := testConfig()
	if core.CmdBudget.Capacity() != cfg.Command.RateLimitCapacity {
		t.Fatalf("CmdBudget capacity = %d, want %d", core.CmdBudget.Capacity(), cfg.Command.RateLimitCapacity)
	}
	if core.CmdBudget.Remaining() != cfg.Command.RateLimitCapacity {
		t.Fatalf("expected a freshly booted bucket to be full")
	}
}
