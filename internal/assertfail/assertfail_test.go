package assertfail

import (
	"testing"

	"github.com/cheesejaguar/smartqso/internal/clock"
)

func TestCheckSeverityActions(t *testing.T) {
	cases := []struct {
		sev  Severity
		want Action
	}{
		{Warning, Continue},
		{Error, ReturnError},
		{Critical, SafeMode},
		{Fatal, Reset},
	}
	for _, c := range cases {
		f := New(nil, clock.NewFake(0))
		got := f.Check(Internal, c.sev, "x.go", 1, "boom")
		if got != c.want {
			t.Errorf("severity %s: action = %s, want %s", c.sev, got, c.want)
		}
	}
}

func TestSafeModeCallbackFires(t *testing.T) {
	f := New(nil, clock.NewFake(0))
	fired := false
	f.RegisterSafeModeFunc(func() { fired = true })
	f.Check(Internal, Critical, "x.go", 1, "boom")
	if !fired {
		t.Fatalf("safe mode callback did not fire on Critical assertion")
	}
}

func TestResetCallbackFires(t *testing.T) {
	f := New(nil, clock.NewFake(0))
	fired := false
	f.RegisterResetFunc(func() { fired = true })
	f.Check(Internal, Fatal, "x.go", 1, "boom")
	if !fired {
		t.Fatalf("reset callback did not fire on Fatal assertion")
	}
}

func TestDedupeByFileLine(t *testing.T) {
	f := New(nil, clock.NewFake(0))
	for i := 0; i < 5; i++ {
		f.Check(Internal, Warning, "x.go", 42, "repeat")
	}
	log := f.Log(10)
	if len(log) != 1 {
		t.Fatalf("expected 1 deduped record, got %d", len(log))
	}
	if log[0].OccurrenceCount != 5 {
		t.Fatalf("occurrence count = %d, want 5", log[0].OccurrenceCount)
	}
	stats := f.Stats()
	if stats.TotalFailures != 5 {
		t.Fatalf("TotalFailures = %d, want 5", stats.TotalFailures)
	}
}

func TestLogRingOverflow(t *testing.T) {
	f := New(nil, clock.NewFake(0))
	for i := 0; i < maxFailureLog+4; i++ {
		f.Check(Internal, Warning, "x.go", i, "distinct")
	}
	log := f.Log(100)
	if len(log) != maxFailureLog {
		t.Fatalf("ring length = %d, want %d", len(log), maxFailureLog)
	}
	stats := f.Stats()
	if stats.LogOverflows != 4 {
		t.Fatalf("LogOverflows = %d, want 4", stats.LogOverflows)
	}
}

func TestRequireBoundsIsCritical(t *testing.T) {
	f := New(nil, clock.NewFake(0))
	err := f.RequireBounds(10, 5, "x.go", 1, "idx")
	if err == nil {
		t.Fatalf("expected error for out-of-bounds index")
	}
	if f.Stats().Criticals != 1 {
		t.Fatalf("RequireBounds should classify as Critical severity")
	}
}

func TestRequireRangeOK(t *testing.T) {
	f := New(nil, clock.NewFake(0))
	if err := f.RequireRange(0.5, 0.0, 1.0, "x.go", 1, "v"); err != nil {
		t.Fatalf("in-range value should not fail: %v", err)
	}
	if f.Stats().TotalChecks != 0 {
		t.Fatalf("a passing check must not increment TotalChecks")
	}
}

func TestClearStats(t *testing.T) {
	f := New(nil, clock.NewFake(0))
	f.Check(Internal, Warning, "x.go", 1, "boom")
	f.ClearStats()
	if f.Stats().TotalFailures != 0 {
		t.Fatalf("ClearStats did not reset TotalFailures")
	}
	if len(f.Log(10)) != 0 {
		t.Fatalf("ClearStats did not reset the log")
	}
}

func TestClearStatsKeepsStickyCountersSticky(t *testing.T) {
	f := New(nil, clock.NewFake(0))
	f.Check(Internal, Critical, "x.go", 1, "boom")
	f.Check(Internal, Fatal, "x.go", 2, "boom2")
	for i := 0; i < maxFailureLog+1; i++ {
		f.Check(Internal, Warning, "y.go", i, "distinct")
	}
	before := f.Stats()
	if before.Criticals != 1 || before.Fatals != 1 || before.SafeModeTriggers != 1 || before.ResetTriggers != 1 || before.LogOverflows != 3 {
		t.Fatalf("unexpected pre-clear sticky counters: %+v", before)
	}

	f.ClearStats()

	after := f.Stats()
	if after.Criticals != before.Criticals {
		t.Fatalf("Criticals = %d after ClearStats, want %d (sticky)", after.Criticals, before.Criticals)
	}
	if after.Fatals != before.Fatals {
		t.Fatalf("Fatals = %d after ClearStats, want %d (sticky)", after.Fatals, before.Fatals)
	}
	if after.SafeModeTriggers != before.SafeModeTriggers {
		t.Fatalf("SafeModeTriggers = %d after ClearStats, want %d (sticky)", after.SafeModeTriggers, before.SafeModeTriggers)
	}
	if after.ResetTriggers != before.ResetTriggers {
		t.Fatalf("ResetTriggers = %d after ClearStats, want %d (sticky)", after.ResetTriggers, before.ResetTriggers)
	}
	if after.LogOverflows != before.LogOverflows {
		t.Fatalf("LogOverflows = %d after ClearStats, want %d (sticky)", after.LogOverflows, before.LogOverflows)
	}
	if after.TotalFailures != 0 {
		t.Fatalf("TotalFailures = %d after ClearStats, want 0 (volatile)", after.TotalFailures)
	}
	if !f.HasCriticalFailures() {
		t.Fatalf("HasCriticalFailures should remain true after ClearStats")
	}
}

func TestHasCriticalFailures(t *testing.T) {
	f := New(nil, clock.NewFake(0))
	if f.HasCriticalFailures() {
		t.Fatalf("fresh framework should report no critical failures")
	}
	f.Check(Internal, Critical, "x.go", 1, "boom")
	if !f.HasCriticalFailures() {
		t.Fatalf("expected HasCriticalFailures true after a Critical check")
	}
}
