package fdir

import (
	"path/filepath"
	"testing"

	"github.com/cheesejaguar/smartqso/internal/clock"
	"github.com/cheesejaguar/smartqso/internal/eps"
	"github.com/cheesejaguar/smartqso/internal/simstore"
)

func TestAddAndCount(t *testing.T) {
	l := New(clock.NewFake(0), nil, nil)
	l.Add(Thermal, Warning, "over temp", 0.6)
	l.Add(Power, Error, "voltage sag", 0.3)
	if l.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", l.Count())
	}
	last, err := l.Last()
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if last.FaultType != Power {
		t.Fatalf("Last().FaultType = %v, want Power", last.FaultType)
	}
}

func TestRingEvictsOldest(t *testing.T) {
	l := New(clock.NewFake(0), nil, nil)
	for i := 0; i < maxEntries+10; i++ {
		l.Add(SWInternal, Info, "fill", 0.5)
	}
	if l.Count() != maxEntries {
		t.Fatalf("Count() = %d, want %d", l.Count(), maxEntries)
	}
}

func TestMarkRecovered(t *testing.T) {
	l := New(clock.NewFake(0), nil, nil)
	l.Add(Thermal, Warning, "x", 0.5)
	if err := l.MarkRecovered(0); err != nil {
		t.Fatalf("MarkRecovered: %v", err)
	}
	e, _ := l.Entry(0)
	if !e.Recovered {
		t.Fatalf("entry should be marked recovered")
	}
}

func TestClear(t *testing.T) {
	l := New(clock.NewFake(0), nil, nil)
	l.Add(Thermal, Warning, "x", 0.5)
	l.Clear()
	if l.Count() != 0 {
		t.Fatalf("Count() after Clear = %d, want 0", l.Count())
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	db, err := simstore.Open(filepath.Join(t.TempDir(), "fault.db"))
	if err != nil {
		t.Fatalf("simstore.Open: %v", err)
	}
	defer db.Close()

	l := New(clock.NewFake(1000), db, nil)
	l.Add(VoltageLow, Error, "bus undervoltage", 0.22)
	l.Add(ADCS, Warning, "detumble stall", 0.5)
	if err := l.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	l2 := New(clock.NewFake(2000), db, nil)
	if err := l2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if l2.Count() != 2 {
		t.Fatalf("Count() after Load = %d, want 2", l2.Count())
	}
	e, _ := l2.Entry(0)
	if e.FaultType != VoltageLow || e.Description != "bus undervoltage" {
		t.Fatalf("unexpected entry after load: %+v", e)
	}
}

func TestRecoverPowerThresholds(t *testing.T) {
	l := New(clock.NewFake(0), nil, nil)
	l.RecoverPower(0.10, nil)
	l.RecoverPower(0.30, nil)
	l.RecoverPower(0.80, nil)
	if l.Count() != 2 {
		t.Fatalf("Count() = %d, want 2 (soc 0.80 logs nothing)", l.Count())
	}
	e0, _ := l.Entry(0)
	if e0.Severity != Critical {
		t.Fatalf("soc 0.10 should log Critical severity, got %v", e0.Severity)
	}
	e1, _ := l.Entry(1)
	if e1.Severity != Warning {
		t.Fatalf("soc 0.30 should log Warning severity, got %v", e1.Severity)
	}
}

func TestRecoverPowerDemotesController(t *testing.T) {
	l := New(clock.NewFake(0), nil, nil)
	ctrl := eps.New(clock.NewFake(0), nil, nil)
	_ = ctrl.SetPowerMode(eps.Active, 0.90)

	l.RecoverPower(0.10, ctrl)
	if ctrl.Mode() != eps.Safe {
		t.Fatalf("RecoverPower(0.10) should force Safe, got %v", ctrl.Mode())
	}

	_ = ctrl.SetPowerMode(eps.Active, 0.90)
	l.RecoverPower(0.30, ctrl)
	if ctrl.Mode() != eps.Idle {
		t.Fatalf("RecoverPower(0.30) should force Idle, got %v", ctrl.Mode())
	}
}

func TestRecoverThermalDisablesPayloadOnlyWhenEnabled(t *testing.T) {
	l := New(clock.NewFake(0), nil, nil)
	ctrl := eps.New(clock.NewFake(0), nil, nil)

	l.RecoverThermal(0.90, ctrl)
	if l.Count() != 0 {
		t.Fatalf("RecoverThermal with payload already off should not log, got %d entries", l.Count())
	}

	_ = ctrl.SetPowerMode(eps.Active, 0.90)
	if !ctrl.PayloadEnabled() {
		t.Fatalf("setup: expected payload enabled in Active mode")
	}
	l.RecoverThermal(0.90, ctrl)
	if ctrl.PayloadEnabled() {
		t.Fatalf("RecoverThermal should disable the payload")
	}
	if ctrl.Mode() != eps.Idle {
		t.Fatalf("RecoverThermal should demote to Idle, got %v", ctrl.Mode())
	}
	if l.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", l.Count())
	}
}

func TestWatchdogFlag(t *testing.T) {
	l := New(clock.NewFake(0), nil, nil)
	if l.WasWatchdogTriggered() {
		t.Fatalf("fresh log should not report watchdog triggered")
	}
	l.HandleWatchdog(0.5)
	if !l.WasWatchdogTriggered() {
		t.Fatalf("expected watchdog triggered after HandleWatchdog")
	}
	l.ClearWatchdogFlag()
	if l.WasWatchdogTriggered() {
		t.Fatalf("expected watchdog flag cleared")
	}
}
