package metrics

import "testing"

func TestNewRegistersWithoutPanicking(t *testing.T) {
	m := New()
	if m.registry == nil {
		t.Fatalf("expected a non-nil registry")
	}
}

func TestCountersAcceptLabels(t *testing.T) {
	m := New()
	m.TaskRunsTotal.WithLabelValues("telemetry_beacon").Inc()
	m.TaskDeadlineMissesTotal.WithLabelValues("telemetry_beacon").Inc()
	m.StateTransitionsTotal.WithLabelValues("BOOT", "DETUMBLE").Inc()
	m.FaultsLoggedTotal.WithLabelValues("power").Inc()
	m.AssertionFailuresTotal.WithLabelValues("critical").Inc()
	m.PowerMode.WithLabelValues("ACTIVE").Set(1)
	m.StateOfCharge.Set(0.72)
	m.SchedulerUtilizationPercent.Set(45.5)
}
