// Package eps implements the electrical power subsystem controller: load
// switch control, power-mode selection driven by state of charge, and
// automatic demotion when an attempted mode isn't affordable.
package eps

import (
	"encoding/binary"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/cheesejaguar/smartqso/internal/clock"
	"github.com/cheesejaguar/smartqso/internal/crc"
	"github.com/cheesejaguar/smartqso/internal/errs"
	"github.com/cheesejaguar/smartqso/internal/store"
)

// Mode mirrors PowerMode_t.
type Mode uint8

const (
	Safe Mode = iota
	Idle
	Active
)

func (m Mode) String() string {
	switch m {
	case Safe:
		return "safe"
	case Idle:
		return "idle"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}

// Thresholds and power limits pinned from the original EPS control header.
const (
	SOCSafeThreshold    = 0.25
	SOCIdleThreshold    = 0.40
	SOCPayloadThreshold = 0.55

	PowerLimitSafeW   = 0.5
	PowerLimitIdleW   = 1.5
	PowerLimitActiveW = 3.0
)

// State is the snapshot returned by Controller.State.
type State struct {
	PayloadEnabled bool
	RadioEnabled   bool
	AdcsEnabled    bool
	BeaconEnabled  bool
	Mode           Mode
	PowerLimitW    float64
	LastControlMS  uint32
}

// Controller holds the EPS load-switch and power-mode state behind a
// single mutex, mirroring the aggregate-plus-mutex shape used throughout
// the core for owned subsystem state.
type Controller struct {
	mu sync.Mutex

	clock   clock.Source
	backend store.Backend
	log     *zap.Logger

	payloadEnabled bool
	radioEnabled   bool
	adcsEnabled    bool
	beaconEnabled  bool
	mode           Mode
	powerLimitW    float64
	lastControlMS  uint32
}

// New constructs a Controller defaulted to Safe mode with every load
// switch off.
func New(src clock.Source, backend store.Backend, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		clock:       src,
		backend:     backend,
		log:         logger,
		mode:        Safe,
		powerLimitW: PowerLimitSafeW,
	}
}

func (c *Controller) touch() {
	if c.clock != nil {
		c.lastControlMS = uint32(c.clock.NowMS())
	}
}

// State returns a snapshot of the controller's current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		PayloadEnabled: c.payloadEnabled,
		RadioEnabled:   c.radioEnabled,
		AdcsEnabled:    c.adcsEnabled,
		BeaconEnabled:  c.beaconEnabled,
		Mode:           c.mode,
		PowerLimitW:    c.powerLimitW,
		LastControlMS:  c.lastControlMS,
	}
}

// ControlPayload enables or disables the payload load switch. Enabling is
// refused below SOCPayloadThreshold; disabling always succeeds.
func (c *Controller) ControlPayload(enable bool, soc float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if enable && soc < SOCPayloadThreshold {
		return errs.New("eps.ControlPayload", errs.Busy)
	}
	c.payloadEnabled = enable
	c.touch()
	c.log.Info("payload switch", zap.Bool("enabled", enable), zap.Float64("soc", soc))
	return nil
}

// ControlRadio enables or disables the radio/transponder load switch.
func (c *Controller) ControlRadio(enable bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.radioEnabled = enable
	c.touch()
}

// ControlADCS enables or disables the ADCS load switch.
func (c *Controller) ControlADCS(enable bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adcsEnabled = enable
	c.touch()
}

// ControlBeacon enables or disables the beacon load switch.
func (c *Controller) ControlBeacon(enable bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beaconEnabled = enable
	c.touch()
}

// SetPowerMode attempts to transition to mode given the current SOC.
// Requesting Active or Idle at an SOC that can't sustain it automatically
// demotes to the highest mode the SOC can afford; requesting Safe always
// succeeds.
func (c *Controller) SetPowerMode(mode Mode, soc float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	actual := mode
	switch mode {
	case Active:
		if soc < SOCSafeThreshold {
			actual = Safe
		} else if soc < SOCPayloadThreshold {
			actual = Idle
		}
	case Idle:
		if soc < SOCSafeThreshold {
			actual = Safe
		}
	case Safe:
		actual = Safe
	default:
		return errs.New("eps.SetPowerMode", errs.InvalidArg)
	}

	c.mode = actual
	switch actual {
	case Safe:
		c.powerLimitW = PowerLimitSafeW
		c.payloadEnabled = false
		c.radioEnabled = false
		c.adcsEnabled = false
		c.beaconEnabled = true
	case Idle:
		c.powerLimitW = PowerLimitIdleW
		c.payloadEnabled = false
		c.radioEnabled = true
		c.adcsEnabled = true
		c.beaconEnabled = true
	case Active:
		c.powerLimitW = PowerLimitActiveW
		c.payloadEnabled = soc >= SOCPayloadThreshold
		c.radioEnabled = true
		c.adcsEnabled = true
		c.beaconEnabled = true
	}
	c.touch()

	c.log.Info("power mode set",
		zap.String("requested", mode.String()),
		zap.String("actual", actual.String()),
		zap.Float64("soc", soc),
		zap.Float64("power_limit_w", c.powerLimitW),
	)
	if actual != mode {
		return errs.New("eps.SetPowerMode", errs.Busy)
	}
	return nil
}

// Mode returns the current power mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// PayloadEnabled reports whether the payload load switch is on.
func (c *Controller) PayloadEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.payloadEnabled
}

// PowerLimitW returns the current power budget in watts.
func (c *Controller) PowerLimitW() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.powerLimitW
}

const recordLen = 1 + 1 + 1 + 1 + 1 + 8 + 4

func (c *Controller) encode() []byte {
	buf := make([]byte, recordLen)
	off := 0
	buf[off] = boolByte(c.payloadEnabled)
	off++
	buf[off] = boolByte(c.radioEnabled)
	off++
	buf[off] = boolByte(c.adcsEnabled)
	off++
	buf[off] = boolByte(c.beaconEnabled)
	off++
	buf[off] = byte(c.mode)
	off++
	binary.BigEndian.PutUint64(buf[off:], math.Float64bits(c.powerLimitW))
	off += 8
	binary.BigEndian.PutUint32(buf[off:], c.lastControlMS)
	return buf
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// Save persists the controller's state with a trailing CRC32.
func (c *Controller) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backend == nil {
		return errs.New("eps.Save", errs.Generic)
	}
	body := c.encode()
	sum := crc.Checksum(body)
	image := make([]byte, len(body)+4)
	copy(image, body)
	binary.BigEndian.PutUint32(image[len(body):], sum)
	return c.backend.Write(store.RegionEPSConfig, image)
}

// Load restores the controller's state from persistence. On a CRC
// mismatch or missing record it falls back to defaults (Safe mode, all
// switches off) and returns nil — a corrupt EPS config is not fatal.
func (c *Controller) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backend == nil {
		return errs.New("eps.Load", errs.Generic)
	}
	image, err := c.backend.Read(store.RegionEPSConfig)
	if err != nil || len(image) != recordLen+4 {
		c.resetDefaultsLocked()
		return nil
	}
	body := image[:recordLen]
	want := binary.BigEndian.Uint32(image[recordLen:])
	if !crc.Verify(body, want) {
		c.log.Warn("eps config CRC mismatch, reverting to defaults")
		c.resetDefaultsLocked()
		return nil
	}
	off := 0
	c.payloadEnabled = body[off] != 0
	off++
	c.radioEnabled = body[off] != 0
	off++
	c.adcsEnabled = body[off] != 0
	off++
	c.beaconEnabled = body[off] != 0
	off++
	c.mode = Mode(body[off])
	off++
	c.powerLimitW = math.Float64frombits(binary.BigEndian.Uint64(body[off:]))
	off += 8
	c.lastControlMS = binary.BigEndian.Uint32(body[off:])
	return nil
}

func (c *Controller) resetDefaultsLocked() {
	c.payloadEnabled = false
	c.radioEnabled = false
	c.adcsEnabled = false
	c.beaconEnabled = false
	c.mode = Safe
	c.powerLimitW = PowerLimitSafeW
	c.lastControlMS = 0
}
