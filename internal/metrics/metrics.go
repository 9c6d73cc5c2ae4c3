// Package metrics exposes Prometheus metrics for the ground-segment
// simulator build. The flight build never imports this package — there is
// no network stack on the spacecraft — but cmd/smartqso-sim runs it so a
// ground operator can watch scheduler, FDIR, and EPS behaviour live.
//
// Endpoint: GET /metrics on 127.0.0.1:9091 (configurable).
// Bind: the address comes from config; the default is loopback only.
//
// Metric naming convention: smartqso_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for the simulator.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Scheduler ────────────────────────────────────────────────────────

	// TaskRunsTotal counts completed task invocations, by task name.
	TaskRunsTotal *prometheus.CounterVec

	// TaskDeadlineMissesTotal counts deadline misses, by task label.
	TaskDeadlineMissesTotal *prometheus.CounterVec

	// TaskRuntimeMicros records task runtime distribution, by task name.
	TaskRuntimeMicros *prometheus.HistogramVec

	// SchedulerUtilizationPercent is the last computed CPU utilization.
	SchedulerUtilizationPercent prometheus.Gauge

	// ─── Operational state machine ───────────────────────────────────────

	// StateTransitionsTotal counts state transitions, by from_state/to_state.
	StateTransitionsTotal *prometheus.CounterVec

	// CurrentState is 1 for the currently active state, 0 otherwise, by
	// state name (a small-cardinality info-style gauge vector).
	CurrentState *prometheus.GaugeVec

	// ─── FDIR ─────────────────────────────────────────────────────────────

	// FaultsLoggedTotal counts fault-log entries, by fault type.
	FaultsLoggedTotal *prometheus.CounterVec

	// FaultLogOverflowsTotal counts ring-buffer evictions.
	FaultLogOverflowsTotal prometheus.Counter

	// AssertionFailuresTotal counts assertion-framework failures, by
	// severity.
	AssertionFailuresTotal *prometheus.CounterVec

	// ─── EPS ──────────────────────────────────────────────────────────────

	// StateOfCharge is the last observed battery state of charge, [0, 1].
	StateOfCharge prometheus.Gauge

	// PowerMode is 1 for the currently active power mode, 0 otherwise, by
	// mode name.
	PowerMode *prometheus.GaugeVec

	// ─── Storage ──────────────────────────────────────────────────────────

	// StorageWriteLatency records persistence backend write latency.
	StorageWriteLatency *prometheus.HistogramVec

	// ─── Process ────────────────────────────────────────────────────────

	// UptimeSeconds is the number of seconds since process start.
	UptimeSeconds prometheus.Gauge

	startTime time.Time
}

// New creates and registers all simulator Prometheus metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		TaskRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartqso",
			Subsystem: "scheduler",
			Name:      "task_runs_total",
			Help:      "Total completed task invocations, by task name.",
		}, []string{"task"}),

		TaskDeadlineMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartqso",
			Subsystem: "scheduler",
			Name:      "task_deadline_misses_total",
			Help:      "Total deadline misses, by task label.",
		}, []string{"task"}),

		TaskRuntimeMicros: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "smartqso",
			Subsystem: "scheduler",
			Name:      "task_runtime_microseconds",
			Help:      "Distribution of measured task runtime, by task name.",
			Buckets:   []float64{100, 500, 1000, 5000, 10000, 30000, 100000},
		}, []string{"task"}),

		SchedulerUtilizationPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "smartqso",
			Subsystem: "scheduler",
			Name:      "utilization_percent",
			Help:      "Most recently computed CPU utilization percentage.",
		}),

		StateTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartqso",
			Subsystem: "opstate",
			Name:      "transitions_total",
			Help:      "Total operational state transitions, by from_state and to_state.",
		}, []string{"from_state", "to_state"}),

		CurrentState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "smartqso",
			Subsystem: "opstate",
			Name:      "current_state",
			Help:      "1 for the currently active operational state, 0 otherwise.",
		}, []string{"state"}),

		FaultsLoggedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartqso",
			Subsystem: "fdir",
			Name:      "faults_logged_total",
			Help:      "Total fault-log entries appended, by fault type.",
		}, []string{"fault_type"}),

		FaultLogOverflowsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartqso",
			Subsystem: "fdir",
			Name:      "fault_log_overflows_total",
			Help:      "Total fault-log ring-buffer evictions.",
		}),

		AssertionFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartqso",
			Subsystem: "fdir",
			Name:      "assertion_failures_total",
			Help:      "Total assertion-framework failures, by severity.",
		}, []string{"severity"}),

		StateOfCharge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "smartqso",
			Subsystem: "eps",
			Name:      "state_of_charge",
			Help:      "Last observed battery state of charge, in [0, 1].",
		}),

		PowerMode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "smartqso",
			Subsystem: "eps",
			Name:      "power_mode",
			Help:      "1 for the currently active power mode, 0 otherwise.",
		}, []string{"mode"}),

		StorageWriteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "smartqso",
			Subsystem: "storage",
			Name:      "write_latency_seconds",
			Help:      "Persistence backend write transaction latency, by region.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"region"}),

		UptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "smartqso",
			Subsystem: "process",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since the simulator process started.",
		}),
	}

	reg.MustRegister(
		m.TaskRunsTotal,
		m.TaskDeadlineMissesTotal,
		m.TaskRuntimeMicros,
		m.SchedulerUtilizationPercent,
		m.StateTransitionsTotal,
		m.CurrentState,
		m.FaultsLoggedTotal,
		m.FaultLogOverflowsTotal,
		m.AssertionFailuresTotal,
		m.StateOfCharge,
		m.PowerMode,
		m.StorageWriteLatency,
		m.UptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// Serve starts the Prometheus HTTP metrics server on addr. Blocks until ctx
// is cancelled or the server fails.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.UptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
