// Package config provides configuration loading, validation, and hot-reload
// for the smartqso flight core.
//
// Configuration file: /etc/smartqso/config.yaml (default)
// Schema version: 1
//
// Hot-reload:
//   - The process listens for SIGHUP.
//   - On SIGHUP: re-read and re-validate config.yaml, and log the outcome.
//   - A reloaded config is not applied to any running subsystem; every
//     change takes effect only after a restart.
//   - If the new config is invalid, the old config remains active and an
//     error is logged. The process does NOT crash on invalid hot-reload
//     config.
//
// Validation:
//   - All required fields must be present.
//   - Numeric ranges enforced (e.g. SOC thresholds ∈ [0,1], periods > 0).
//   - File paths are not checked for being absolute.
//   - Invalid config on startup: the process refuses to start (fatal error).
//   - Invalid config on hot-reload: logged, old config retained.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime are injected by the Makefile via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Config is the root configuration structure for the flight core.
// All fields have defaults; see Defaults() for values.
type Config struct {
	// SchemaVersion must be "1". Future versions will trigger migration.
	SchemaVersion string `yaml:"schema_version"`

	// SatelliteID identifies this spacecraft in log lines and as the source
	// address of AX.25 beacon frames. Default: hostname.
	SatelliteID string `yaml:"satellite_id"`

	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	EPS           EPSConfig           `yaml:"eps"`
	FDIR          FDIRConfig          `yaml:"fdir"`
	Storage       StorageConfig       `yaml:"storage"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	Command       CommandConfig       `yaml:"command"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// SchedulerConfig holds cooperative task-scheduler parameters.
type SchedulerConfig struct {
	// MaxTasks is validated to [1, 64] but not read by the scheduler, whose
	// task table size is fixed at 16. Default: 16.
	MaxTasks int `yaml:"max_tasks"`

	// TickPeriod is the scheduler's base tick interval. Default: 100ms.
	TickPeriod time.Duration `yaml:"tick_period"`

	// WatchdogTimeout is not read by any package; the scheduler moves a task
	// to FAULT after three consecutive misses of that task's own deadline.
	// Default: 30s.
	WatchdogTimeout time.Duration `yaml:"watchdog_timeout"`

	// UtilizationWindow is the number of ticks over which CPU utilization
	// is averaged. Default: 1000.
	UtilizationWindow int `yaml:"utilization_window"`
}

// EPSConfig holds electrical power system thresholds.
type EPSConfig struct {
	// SOCSafeThreshold, SOCIdleThreshold, SOCPayloadThreshold are validated
	// for order but not read by internal/eps, which demotes power modes on
	// its own constants of the same default values. Range: [0.0, 1.0].
	// Defaults: 0.25, 0.40, 0.55.
	SOCSafeThreshold    float64 `yaml:"soc_safe_threshold"`
	SOCIdleThreshold    float64 `yaml:"soc_idle_threshold"`
	SOCPayloadThreshold float64 `yaml:"soc_payload_threshold"`

	// PowerLimitSafeW, PowerLimitIdleW, PowerLimitActiveW are per-mode power
	// limits in watts; they are validated > 0 but not read by internal/eps.
	// Defaults: 0.5, 1.5, 3.0.
	PowerLimitSafeW   float64 `yaml:"power_limit_safe_w"`
	PowerLimitIdleW   float64 `yaml:"power_limit_idle_w"`
	PowerLimitActiveW float64 `yaml:"power_limit_active_w"`
}

// FDIRConfig holds fault-log and assertion-framework parameters.
type FDIRConfig struct {
	// MaxFaultEntries is validated >= 1 but not read; internal/fdir's fault
	// log ring holds a fixed 100 entries. Default: 100.
	MaxFaultEntries int `yaml:"max_fault_entries"`

	// MaxAssertFailureLog is validated >= 1 but not read; internal/assertfail's
	// dedupe ring holds a fixed 16 records. Default: 16.
	MaxAssertFailureLog int `yaml:"max_assert_failure_log"`

	// StrictAssertions is not read by any package; the assertion framework
	// picks its action from the failure's severity alone. Default: false.
	StrictAssertions bool `yaml:"strict_assertions"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	// Backend selects "sim" (BoltDB, for ground testing) or "flight"
	// (onboard NVM placeholder). Default: sim.
	Backend string `yaml:"backend"`

	// DBPath is the absolute path to the BoltDB file used by the sim
	// backend. Default: /var/lib/smartqso/smartqso.db.
	DBPath string `yaml:"db_path"`
}

// TelemetryConfig holds beacon and downlink framing parameters.
type TelemetryConfig struct {
	// IntervalMS is the period between telemetry beacons, in milliseconds.
	// Default: 60000, matching the flight beacon cadence.
	IntervalMS int `yaml:"interval_ms"`

	// Callsign is the amateur-radio callsign used in AX.25 beacon frames.
	Callsign string `yaml:"callsign"`

	// SSID is the AX.25 secondary station identifier, 0-15. Default: 0.
	SSID int `yaml:"ssid"`

	// UARTDevice names the serial device for the AI co-processor link. It
	// is not read by the core or by either binary. Default: /dev/ttyAMA0.
	UARTDevice string `yaml:"uart_device"`

	// UARTBaudRate is the serial baud rate for UARTDevice, one of 9600,
	// 19200, 38400, 57600, 115200 or 230400. Default: 115200.
	UARTBaudRate int `yaml:"uart_baudrate"`

	// SensorsYAMLPath points at the already-external sensor registry YAML
	// file; parsing it is out of the core's scope, and neither binary reads
	// this path. Default: /etc/smartqso/sensors.yaml.
	SensorsYAMLPath string `yaml:"sensors_yaml_path"`
}

// CommandConfig holds uplink command-frame parameters.
type CommandConfig struct {
	// MaxFrameLen is validated >= 1 but not read; cmdframe.Decode takes the
	// frame length from the frame's own length byte. Default: 256.
	MaxFrameLen int `yaml:"max_frame_len"`

	// RequireCRC is not read by any package; cmdframe.Decode always verifies
	// the frame's trailing 16-bit checksum. Default: true.
	RequireCRC bool `yaml:"require_crc"`

	// RateLimitCapacity is the uplink token-bucket's token capacity.
	// Default: 50.
	RateLimitCapacity int `yaml:"rate_limit_capacity"`

	// RateLimitRefillMS is the uplink token-bucket's refill period, in
	// milliseconds. Default: 60000 (one minute).
	RateLimitRefillMS uint64 `yaml:"rate_limit_refill_ms"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	// MetricsAddr is the Prometheus metrics HTTP bind address, used only by
	// the ground-segment simulator build. Default: 127.0.0.1:9091.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls the minimum log level (debug, info, warn, error).
	// Default: info.
	LogLevel string `yaml:"log_level"`

	// LogFormat controls the log output format (json, console).
	// Default: json.
	LogFormat string `yaml:"log_format"`
}

// DefaultDBPath is the sim-backend BoltDB path used in config defaults.
const DefaultDBPath = "/var/lib/smartqso/smartqso.db"

// Defaults returns a Config populated with all default values.
func Defaults() Config {
	hostname, _ := os.Hostname()
	return Config{
		SchemaVersion: "1",
		SatelliteID:   hostname,
		Scheduler: SchedulerConfig{
			MaxTasks:          16,
			TickPeriod:        100 * time.Millisecond,
			WatchdogTimeout:   30 * time.Second,
			UtilizationWindow: 1000,
		},
		EPS: EPSConfig{
			SOCSafeThreshold:    0.25,
			SOCIdleThreshold:    0.40,
			SOCPayloadThreshold: 0.55,
			PowerLimitSafeW:     0.5,
			PowerLimitIdleW:     1.5,
			PowerLimitActiveW:   3.0,
		},
		FDIR: FDIRConfig{
			MaxFaultEntries:     100,
			MaxAssertFailureLog: 16,
			StrictAssertions:    false,
		},
		Storage: StorageConfig{
			Backend: "sim",
			DBPath:  DefaultDBPath,
		},
		Telemetry: TelemetryConfig{
			IntervalMS:      60000,
			Callsign:        "N0CALL",
			SSID:            0,
			UARTDevice:      "/dev/ttyAMA0",
			UARTBaudRate:    115200,
			SensorsYAMLPath: "/etc/smartqso/sensors.yaml",
		},
		Command: CommandConfig{
			MaxFrameLen:       256,
			RequireCRC:        true,
			RateLimitCapacity: 50,
			RateLimitRefillMS: 60000,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9091",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Load reads and validates a config file from the given path.
// Returns the merged config (defaults overridden by file values).
// Returns an error if the file cannot be read, parsed, or validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks all config fields for correctness.
// Returns a descriptive error listing all violations found.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.SatelliteID == "" {
		errs = append(errs, "satellite_id must not be empty")
	}
	if cfg.Scheduler.MaxTasks < 1 || cfg.Scheduler.MaxTasks > 64 {
		errs = append(errs, fmt.Sprintf("scheduler.max_tasks must be in [1, 64], got %d", cfg.Scheduler.MaxTasks))
	}
	if cfg.Scheduler.TickPeriod <= 0 {
		errs = append(errs, fmt.Sprintf("scheduler.tick_period must be > 0, got %s", cfg.Scheduler.TickPeriod))
	}
	if cfg.Scheduler.UtilizationWindow < 1 {
		errs = append(errs, fmt.Sprintf("scheduler.utilization_window must be >= 1, got %d", cfg.Scheduler.UtilizationWindow))
	}
	if !ordered(0, cfg.EPS.SOCSafeThreshold, cfg.EPS.SOCIdleThreshold, cfg.EPS.SOCPayloadThreshold, 1) {
		errs = append(errs, "eps thresholds must satisfy 0 <= soc_safe_threshold < soc_idle_threshold < soc_payload_threshold <= 1")
	}
	if cfg.EPS.PowerLimitSafeW <= 0 || cfg.EPS.PowerLimitIdleW <= 0 || cfg.EPS.PowerLimitActiveW <= 0 {
		errs = append(errs, "eps power limits must be > 0")
	}
	if cfg.FDIR.MaxFaultEntries < 1 {
		errs = append(errs, fmt.Sprintf("fdir.max_fault_entries must be >= 1, got %d", cfg.FDIR.MaxFaultEntries))
	}
	if cfg.FDIR.MaxAssertFailureLog < 1 {
		errs = append(errs, fmt.Sprintf("fdir.max_assert_failure_log must be >= 1, got %d", cfg.FDIR.MaxAssertFailureLog))
	}
	if cfg.Storage.Backend != "sim" && cfg.Storage.Backend != "flight" {
		errs = append(errs, fmt.Sprintf("storage.backend must be \"sim\" or \"flight\", got %q", cfg.Storage.Backend))
	}
	if cfg.Storage.Backend == "sim" && cfg.Storage.DBPath == "" {
		errs = append(errs, "storage.db_path must not be empty when storage.backend is \"sim\"")
	}
	if cfg.Telemetry.IntervalMS < 1 || cfg.Telemetry.IntervalMS > 3600000 {
		errs = append(errs, fmt.Sprintf("telemetry.interval_ms must be in [1, 3600000], got %d", cfg.Telemetry.IntervalMS))
	}
	if cfg.Telemetry.SSID < 0 || cfg.Telemetry.SSID > 15 {
		errs = append(errs, fmt.Sprintf("telemetry.ssid must be in [0, 15], got %d", cfg.Telemetry.SSID))
	}
	switch cfg.Telemetry.UARTBaudRate {
	case 9600, 19200, 38400, 57600, 115200, 230400:
	default:
		errs = append(errs, fmt.Sprintf("telemetry.uart_baudrate must be one of 9600, 19200, 38400, 57600, 115200, 230400, got %d", cfg.Telemetry.UARTBaudRate))
	}
	if cfg.Command.MaxFrameLen < 1 {
		errs = append(errs, fmt.Sprintf("command.max_frame_len must be >= 1, got %d", cfg.Command.MaxFrameLen))
	}
	if cfg.Command.RateLimitCapacity < 1 {
		errs = append(errs, fmt.Sprintf("command.rate_limit_capacity must be >= 1, got %d", cfg.Command.RateLimitCapacity))
	}
	if cfg.Command.RateLimitRefillMS < 1 {
		errs = append(errs, fmt.Sprintf("command.rate_limit_refill_ms must be >= 1, got %d", cfg.Command.RateLimitRefillMS))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s",
			joinStrings(errs, "\n  - "))
	}
	return nil
}

// ordered reports whether its arguments are non-decreasing and strictly
// increasing between consecutive SOC thresholds.
func ordered(lo, safe, idle, payload, hi float64) bool {
	return lo <= safe && safe < idle && idle < payload && payload <= hi
}

// joinStrings joins a slice of strings with a separator.
func joinStrings(ss []string, sep string) string {
	if len(ss) == 0 {
		return ""
	}
	result := ss[0]
	for _, s := range ss[1:] {
		result += sep + s
	}
	return result
}
