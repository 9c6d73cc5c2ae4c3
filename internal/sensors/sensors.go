// Package sensors implements the consumer-side contract for the onboard
// sensor framework: the core reads an opaque sample per sensor at its due
// time. The YAML registry file itself is parsed outside this package — a
// Registry is built from an already-validated slice of SensorConfig, the
// same way config.Config arrives already-parsed rather than re-read here.
package sensors

import (
	"sync"

	"github.com/cheesejaguar/smartqso/internal/errs"
)

// ValueTag identifies which field of a Sample is meaningful and how the
// underlying transducer should be interpreted.
type ValueTag uint8

const (
	SoftwareTimer ValueTag = iota
	EPSVoltage
	EPSCurrent
	EPSTemperature
	StatusHex2
)

func (t ValueTag) String() string {
	switch t {
	case SoftwareTimer:
		return "software_timer"
	case EPSVoltage:
		return "eps_voltage"
	case EPSCurrent:
		return "eps_current"
	case EPSTemperature:
		return "eps_temperature"
	case StatusHex2:
		return "status_hex2"
	default:
		return "unknown"
	}
}

// ParseValueTag maps a YAML-configured tag name to a ValueTag.
func ParseValueTag(s string) (ValueTag, error) {
	switch s {
	case "software_timer":
		return SoftwareTimer, nil
	case "eps_voltage":
		return EPSVoltage, nil
	case "eps_current":
		return EPSCurrent, nil
	case "eps_temperature":
		return EPSTemperature, nil
	case "status_hex2":
		return StatusHex2, nil
	default:
		return 0, errs.New("sensors.ParseValueTag", errs.InvalidArg)
	}
}

// Sample is the value returned by a single sensor read. Exactly one of
// Numeric or Text is meaningful, selected by Tag.
type Sample struct {
	Numeric float64
	Text    string
	Tag     ValueTag
}

// SensorConfig describes one entry of the already-parsed YAML sensor
// registry: identifier, display name, units, type tag, channel, and sample
// period. Range constants for the underlying transducer are the sensor
// layer's own concern; the core only clamps on intake of the Sample.
type SensorConfig struct {
	ID       string
	Name     string
	Units    string
	Tag      ValueTag
	Channel  int
	PeriodMS uint32
}

// ReadFunc is the opaque per-sensor read function supplied by the hardware
// abstraction layer (or, in simulation, by a synthetic generator).
type ReadFunc func() (Sample, error)

// Registry is the consumer-side view of the sensor table: a fixed set of
// configured sensors, each with an installed read function.
type Registry struct {
	mu      sync.Mutex
	configs map[string]SensorConfig
	readers map[string]ReadFunc
}

// NewRegistry builds a Registry from an already-parsed sensor configuration
// list. Duplicate IDs are rejected.
func NewRegistry(configs []SensorConfig) (*Registry, error) {
	r := &Registry{
		configs: make(map[string]SensorConfig, len(configs)),
		readers: make(map[string]ReadFunc, len(configs)),
	}
	for _, c := range configs {
		if c.ID == "" {
			return nil, errs.New("sensors.NewRegistry", errs.InvalidArg)
		}
		if _, exists := r.configs[c.ID]; exists {
			return nil, errs.New("sensors.NewRegistry", errs.InvalidArg)
		}
		r.configs[c.ID] = c
	}
	return r, nil
}

// Bind installs the read function for a configured sensor ID.
func (r *Registry) Bind(id string, fn ReadFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.configs[id]; !ok {
		return errs.New("sensors.Bind", errs.InvalidArg)
	}
	if fn == nil {
		return errs.New("sensors.Bind", errs.NullArg)
	}
	r.readers[id] = fn
	return nil
}

// Config returns the configuration for a sensor ID.
func (r *Registry) Config(id string) (SensorConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.configs[id]
	if !ok {
		return SensorConfig{}, errs.New("sensors.Config", errs.InvalidArg)
	}
	return c, nil
}

// Read invokes the bound read function for id and returns its Sample.
// Returns errs.InvalidArg for an unknown id, errs.NullArg if no read
// function was bound.
func (r *Registry) Read(id string) (Sample, error) {
	r.mu.Lock()
	fn, ok := r.readers[id]
	r.mu.Unlock()
	if !ok {
		if _, exists := r.configs[id]; exists {
			return Sample{}, errs.New("sensors.Read", errs.NullArg)
		}
		return Sample{}, errs.New("sensors.Read", errs.InvalidArg)
	}
	return fn()
}

// IDs returns every configured sensor ID.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.configs))
	for id := range r.configs {
		ids = append(ids, id)
	}
	return ids
}
