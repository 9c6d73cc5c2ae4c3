package eps

import (
	"path/filepath"
	"testing"

	"github.com/cheesejaguar/smartqso/internal/clock"
	"github.com/cheesejaguar/smartqso/internal/simstore"
)

func TestDefaultsToSafe(t *testing.T) {
	c := New(clock.NewFake(0), nil, nil)
	if c.Mode() != Safe {
		t.Fatalf("Mode() = %v, want Safe", c.Mode())
	}
	if c.PowerLimitW() != PowerLimitSafeW {
		t.Fatalf("PowerLimitW() = %v, want %v", c.PowerLimitW(), PowerLimitSafeW)
	}
}

func TestSetPowerModeActiveDemotesToSafeAtLowSOC(t *testing.T) {
	c := New(clock.NewFake(0), nil, nil)
	err := c.SetPowerMode(Active, 0.20)
	if err == nil {
		t.Fatalf("expected demotion error when SOC too low for Active")
	}
	if c.Mode() != Safe {
		t.Fatalf("Mode() = %v, want Safe after demotion from 0.20 SOC", c.Mode())
	}
}

func TestSetPowerModeActiveDemotesToIdle(t *testing.T) {
	c := New(clock.NewFake(0), nil, nil)
	err := c.SetPowerMode(Active, 0.45)
	if err == nil {
		t.Fatalf("expected demotion error when SOC insufficient for Active")
	}
	if c.Mode() != Idle {
		t.Fatalf("Mode() = %v, want Idle", c.Mode())
	}
}

func TestSetPowerModeActiveSucceedsAtHighSOC(t *testing.T) {
	c := New(clock.NewFake(0), nil, nil)
	if err := c.SetPowerMode(Active, 0.80); err != nil {
		t.Fatalf("SetPowerMode(Active, 0.80) error: %v", err)
	}
	if c.Mode() != Active {
		t.Fatalf("Mode() = %v, want Active", c.Mode())
	}
	if c.PowerLimitW() != PowerLimitActiveW {
		t.Fatalf("PowerLimitW() = %v, want %v", c.PowerLimitW(), PowerLimitActiveW)
	}
}

func TestSetPowerModeSafeLoadSwitches(t *testing.T) {
	c := New(clock.NewFake(0), nil, nil)
	if err := c.SetPowerMode(Safe, 0.90); err != nil {
		t.Fatalf("SetPowerMode(Safe, 0.90): %v", err)
	}
	st := c.State()
	if st.PayloadEnabled || st.RadioEnabled || st.AdcsEnabled || !st.BeaconEnabled {
		t.Fatalf("Safe mode load switches = %+v, want payload/radio/ADCS off, beacon on", st)
	}
}

func TestSetPowerModeIdleLoadSwitches(t *testing.T) {
	c := New(clock.NewFake(0), nil, nil)
	if err := c.SetPowerMode(Idle, 0.45); err != nil {
		t.Fatalf("SetPowerMode(Idle, 0.45): %v", err)
	}
	st := c.State()
	if st.PayloadEnabled || !st.RadioEnabled || !st.AdcsEnabled || !st.BeaconEnabled {
		t.Fatalf("Idle mode load switches = %+v, want payload off, radio/ADCS/beacon on", st)
	}
}

func TestSetPowerModeActiveLoadSwitches(t *testing.T) {
	c := New(clock.NewFake(0), nil, nil)
	if err := c.SetPowerMode(Active, 0.80); err != nil {
		t.Fatalf("SetPowerMode(Active, 0.80): %v", err)
	}
	st := c.State()
	if !st.PayloadEnabled || !st.RadioEnabled || !st.AdcsEnabled || !st.BeaconEnabled {
		t.Fatalf("Active mode load switches = %+v, want payload/radio/ADCS/beacon all on", st)
	}
}

func TestSetPowerModeActiveDemotedToIdleDisablesPayload(t *testing.T) {
	c := New(clock.NewFake(0), nil, nil)
	// Demotes to Idle: radio/ADCS/beacon on, payload off.
	_ = c.SetPowerMode(Active, 0.45)
	st := c.State()
	if st.PayloadEnabled || !st.RadioEnabled || !st.AdcsEnabled || !st.BeaconEnabled {
		t.Fatalf("demoted-to-Idle load switches = %+v, want payload off, radio/ADCS/beacon on", st)
	}
}

func TestControlPayloadBlockedBelowThreshold(t *testing.T) {
	c := New(clock.NewFake(0), nil, nil)
	if err := c.ControlPayload(true, 0.10); err == nil {
		t.Fatalf("expected error enabling payload below threshold")
	}
	if c.PayloadEnabled() {
		t.Fatalf("payload should remain disabled")
	}
	if err := c.ControlPayload(false, 0.10); err != nil {
		t.Fatalf("disabling payload should always succeed: %v", err)
	}
}

func TestControlPayloadAllowedAboveThreshold(t *testing.T) {
	c := New(clock.NewFake(0), nil, nil)
	if err := c.ControlPayload(true, 0.60); err != nil {
		t.Fatalf("ControlPayload(true, 0.60) error: %v", err)
	}
	if !c.PayloadEnabled() {
		t.Fatalf("payload should be enabled")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	db, err := simstore.Open(filepath.Join(t.TempDir(), "eps.db"))
	if err != nil {
		t.Fatalf("simstore.Open: %v", err)
	}
	defer db.Close()

	c := New(clock.NewFake(1000), db, nil)
	if err := c.SetPowerMode(Active, 0.90); err != nil {
		t.Fatalf("SetPowerMode(Active, 0.90): %v", err)
	}
	if err := c.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	c2 := New(clock.NewFake(2000), db, nil)
	if err := c2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c2.Mode() != Active {
		t.Fatalf("Mode() after Load = %v, want Active", c2.Mode())
	}
	st := c2.State()
	if !st.RadioEnabled || !st.BeaconEnabled {
		t.Fatalf("load did not restore load switch state: %+v", st)
	}
}

func TestLoadFallsBackToDefaultsWhenNeverWritten(t *testing.T) {
	db, err := simstore.Open(filepath.Join(t.TempDir(), "eps2.db"))
	if err != nil {
		t.Fatalf("simstore.Open: %v", err)
	}
	defer db.Close()

	c := New(clock.NewFake(0), db, nil)
	if err := c.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Mode() != Safe {
		t.Fatalf("Mode() = %v, want Safe default", c.Mode())
	}
}
