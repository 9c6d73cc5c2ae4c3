package mission

import (
	"path/filepath"
	"testing"

	"github.com/cheesejaguar/smartqso/internal/simstore"
)

func TestFirstBootHasNoPriorRecord(t *testing.T) {
	db, err := simstore.Open(filepath.Join(t.TempDir(), "mission.db"))
	if err != nil {
		t.Fatalf("simstore.Open: %v", err)
	}
	defer db.Close()

	tr := New(db, nil)
	first, err := tr.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !first {
		t.Fatalf("expected firstBoot=true for an empty region")
	}
	tr.IncrementReset(1000)
	if tr.ResetCount() != 1 {
		t.Fatalf("ResetCount() = %d, want 1", tr.ResetCount())
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	db, err := simstore.Open(filepath.Join(t.TempDir(), "mission2.db"))
	if err != nil {
		t.Fatalf("simstore.Open: %v", err)
	}
	defer db.Close()

	tr := New(db, nil)
	tr.SetStart(500)
	tr.IncrementReset(500)
	tr.UpdateUptime(123456)
	tr.AddEnergy(12.5)
	tr.AddEnergy(2.5)
	_ = tr.SetPhase(Active)
	tr.RecordFault("eps undervoltage")
	if err := tr.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	tr2 := New(db, nil)
	first, err := tr2.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if first {
		t.Fatalf("expected firstBoot=false after a prior Save")
	}
	d := tr2.Data()
	if d.ResetCount != 1 || d.TotalUptimeMS != 123456 || d.TotalEnergyWh != 15.0 {
		t.Fatalf("unexpected data after round trip: %+v", d)
	}
	if d.Phase != Active || d.LastFault != "eps undervoltage" {
		t.Fatalf("unexpected phase/fault after round trip: %+v", d)
	}
}

func TestSetPhaseRejectsInvalid(t *testing.T) {
	tr := New(nil, nil)
	if err := tr.SetPhase(Phase(200)); err == nil {
		t.Fatalf("expected error for out-of-range phase")
	}
}
