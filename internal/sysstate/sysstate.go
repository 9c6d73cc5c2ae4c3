// Package sysstate implements the system-state container: the single
// mutex-protected aggregate holding every subsystem's live state. The
// operational state machine's context is not held here; it lives in
// opstate.Machine. All access is through methods on State; there is no
// package-level global.
package sysstate

import (
	"encoding/binary"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/cheesejaguar/smartqso/internal/crc"
	"github.com/cheesejaguar/smartqso/internal/errs"
	"github.com/cheesejaguar/smartqso/internal/store"
)

// Power mirrors PowerState_t.
type Power struct {
	BatteryVoltage  float64
	BatteryCurrent  float64
	StateOfCharge   float64
	SolarPower      float64
	TotalEnergyWh   float64
	Mode            uint8
	PayloadEnabled  bool
	ModeEntryTimeMS uint32
}

// Thermal mirrors ThermalState_t.
type Thermal struct {
	ObcTempC      float32
	EpsTempC      float32
	BatteryTempC  float32
	PayloadTempC  float32
	ExternalTempC float32
	HeaterEnabled bool
	OverTempFlag  bool
	UnderTempFlag bool
}

// Adcs mirrors AdcsState_t.
type Adcs struct {
	MagXuT       float32
	MagYuT       float32
	MagZuT       float32
	GyroXdps     float32
	GyroYdps     float32
	GyroZdps     float32
	SunVectorX   float32
	SunVectorY   float32
	SunVectorZ   float32
	Detumbled    bool
	SunAcquired  bool
	LastUpdateMS uint32
}

// Comm mirrors CommState_t.
type Comm struct {
	PacketsSent          uint32
	PacketsReceived      uint32
	PacketsFailed        uint32
	LastGroundContactMS  uint32
	BeaconCount          uint32
	BeaconIntervalS      uint16
	CommActive           bool
	RssiDbm              int8
}

// Mission mirrors MissionState_t (the live counters embedded in system
// state; internal/mission owns the longer-lived persisted equivalents).
type Mission struct {
	BootCount      uint32
	UptimeS        uint32
	TotalUptimeS   uint32
	MissionTimeMS  uint64
	QSOCount       uint32
	CommandCount   uint32
	AnomalyCount   uint32
	SafeModeEntry  bool
}

// State is the complete system-state aggregate. All fields are accessed
// only while mu is held; exported methods enforce this.
type State struct {
	mu sync.Mutex

	backend store.Backend
	log     *zap.Logger

	power   Power
	thermal Thermal
	adcs    Adcs
	comm    Comm
	mission Mission

	initialized    bool
	watchdogOK     bool
	dirty          bool
	lastUpdateMS   uint64
	lastPersistMS  uint64
}

// New constructs an uninitialized State.
func New(backend store.Backend, logger *zap.Logger) *State {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &State{backend: backend, log: logger}
}

// Init marks the state as initialized with defaults, matching a fresh
// first-boot system-state record.
func (s *State) Init(nowMS uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = true
	s.watchdogOK = true
	s.lastUpdateMS = nowMS
	s.dirty = true
}

// Initialized reports whether Init (or a successful Load) has run.
func (s *State) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Dirty reports whether state has changed since the last successful Save.
func (s *State) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

func (s *State) markDirty(nowMS uint64) {
	s.dirty = true
	s.lastUpdateMS = nowMS
}

// Power returns a copy of the power subsystem state.
func (s *State) Power() Power {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.power
}

// UpdatePower replaces the power subsystem state. StateOfCharge is clamped
// to [0, 1] the same way SetStateOfCharge clamps it.
func (s *State) UpdatePower(nowMS uint64, p Power) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.StateOfCharge = clamp(p.StateOfCharge, 0, 1)
	s.power = p
	s.markDirty(nowMS)
}

// SetStateOfCharge clamps x to [0, 1] and stores it; always succeeds.
func (s *State) SetStateOfCharge(nowMS uint64, x float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.power.StateOfCharge = clamp(x, 0, 1)
	s.markDirty(nowMS)
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// hotLimitC and coldLimitC are the thermal-fault thresholds (spec.md §4.6).
const (
	hotLimitC  = 60.0
	coldLimitC = -20.0
)

// Thermal returns a copy of the thermal subsystem state.
func (s *State) Thermal() Thermal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thermal
}

// UpdateThermal replaces the thermal subsystem state and recomputes the
// over/under-temp flags from the five monitored sensors.
func (s *State) UpdateThermal(nowMS uint64, th Thermal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thermal = th
	s.recomputeTempFlagsLocked()
	s.markDirty(nowMS)
}

// SetTemperature updates the i-th monitored temperature sensor (0=OBC,
// 1=EPS, 2=battery, 3=payload, 4=external) and recomputes OverTempFlag /
// UnderTempFlag across all five. Rejects i >= 5.
func (s *State) SetTemperature(nowMS uint64, i int, tempC float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch i {
	case 0:
		s.thermal.ObcTempC = tempC
	case 1:
		s.thermal.EpsTempC = tempC
	case 2:
		s.thermal.BatteryTempC = tempC
	case 3:
		s.thermal.PayloadTempC = tempC
	case 4:
		s.thermal.ExternalTempC = tempC
	default:
		return errs.New("sysstate.SetTemperature", errs.InvalidArg)
	}
	s.recomputeTempFlagsLocked()
	s.markDirty(nowMS)
	return nil
}

// recomputeTempFlagsLocked sets OverTempFlag/UnderTempFlag from the current
// five monitored temperatures. Caller holds mu.
func (s *State) recomputeTempFlagsLocked() {
	temps := []float32{
		s.thermal.ObcTempC, s.thermal.EpsTempC, s.thermal.BatteryTempC,
		s.thermal.PayloadTempC, s.thermal.ExternalTempC,
	}
	over, under := false, false
	for _, t := range temps {
		if t > hotLimitC {
			over = true
		}
		if t < coldLimitC {
			under = true
		}
	}
	s.thermal.OverTempFlag = over
	s.thermal.UnderTempFlag = under
}

// ThermalFault reports whether either the over- or under-temp flag is set.
func (s *State) ThermalFault() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thermal.OverTempFlag || s.thermal.UnderTempFlag
}

// Adcs returns a copy of the ADCS subsystem state.
func (s *State) Adcs() Adcs {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adcs
}

// UpdateAdcs replaces the ADCS subsystem state.
func (s *State) UpdateAdcs(nowMS uint64, a Adcs) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adcs = a
	s.markDirty(nowMS)
}

// minBeaconIntervalS and maxBeaconIntervalS bound the beacon cadence
// (spec.md §4.6).
const (
	minBeaconIntervalS = 10
	maxBeaconIntervalS = 120
)

// Comm returns a copy of the communications subsystem state.
func (s *State) Comm() Comm {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.comm
}

// UpdateComm replaces the communications subsystem state. c.BeaconIntervalS
// must already be in [10, 120] — use SetBeaconIntervalS to change just that
// field with validation.
func (s *State) UpdateComm(nowMS uint64, c Comm) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.BeaconIntervalS < minBeaconIntervalS || c.BeaconIntervalS > maxBeaconIntervalS {
		return errs.New("sysstate.UpdateComm", errs.InvalidArg)
	}
	s.comm = c
	s.markDirty(nowMS)
	return nil
}

// SetBeaconIntervalS rejects s outside [10, 120] with invalid-arg and
// leaves state unmutated; otherwise stores it.
func (s *State) SetBeaconIntervalS(nowMS uint64, sec uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sec < minBeaconIntervalS || sec > maxBeaconIntervalS {
		return errs.New("sysstate.SetBeaconIntervalS", errs.InvalidArg)
	}
	s.comm.BeaconIntervalS = sec
	s.markDirty(nowMS)
	return nil
}

// Mission returns a copy of the live mission counters.
func (s *State) Mission() Mission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mission
}

// UpdateMission replaces the live mission counters.
func (s *State) UpdateMission(nowMS uint64, m Mission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mission = m
	s.markDirty(nowMS)
}

// SetWatchdogOK records the watchdog's health flag.
func (s *State) SetWatchdogOK(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchdogOK = ok
}

// WatchdogOK reports the last-recorded watchdog health flag.
func (s *State) WatchdogOK() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watchdogOK
}

// --- Persistence -----------------------------------------------------------

func putFloat64(buf []byte, off int, v float64) {
	binary.BigEndian.PutUint64(buf[off:], math.Float64bits(v))
}

func getFloat64(buf []byte, off int) float64 {
	return math.Float64frombits(binary.BigEndian.Uint64(buf[off:]))
}

func putFloat32(buf []byte, off int, v float32) {
	binary.BigEndian.PutUint32(buf[off:], math.Float32bits(v))
}

func getFloat32(buf []byte, off int) float32 {
	return math.Float32frombits(binary.BigEndian.Uint32(buf[off:]))
}

func putBool(buf []byte, off int, v bool) {
	if v {
		buf[off] = 1
	} else {
		buf[off] = 0
	}
}

// bodyLen is the fixed size of the encoded record body (before the
// trailing CRC32).
const bodyLen = 0 +
	8 + 8 + 8 + 8 + 8 + 1 + 1 + 4 + // Power
	4 + 4 + 4 + 4 + 4 + 1 + 1 + 1 + // Thermal
	4*9 + 1 + 1 + 4 + // Adcs
	4 + 4 + 4 + 4 + 4 + 2 + 1 + 1 + // Comm
	4 + 4 + 4 + 8 + 4 + 4 + 4 + 1 + // Mission
	1 + 1 + 8 + 8 // initialized, watchdogOK, lastUpdateMS, lastPersistMS

func (s *State) encode() []byte {
	buf := make([]byte, bodyLen)
	off := 0

	putFloat64(buf, off, s.power.BatteryVoltage)
	off += 8
	putFloat64(buf, off, s.power.BatteryCurrent)
	off += 8
	putFloat64(buf, off, s.power.StateOfCharge)
	off += 8
	putFloat64(buf, off, s.power.SolarPower)
	off += 8
	putFloat64(buf, off, s.power.TotalEnergyWh)
	off += 8
	buf[off] = s.power.Mode
	off++
	putBool(buf, off, s.power.PayloadEnabled)
	off++
	binary.BigEndian.PutUint32(buf[off:], s.power.ModeEntryTimeMS)
	off += 4

	putFloat32(buf, off, s.thermal.ObcTempC)
	off += 4
	putFloat32(buf, off, s.thermal.EpsTempC)
	off += 4
	putFloat32(buf, off, s.thermal.BatteryTempC)
	off += 4
	putFloat32(buf, off, s.thermal.PayloadTempC)
	off += 4
	putFloat32(buf, off, s.thermal.ExternalTempC)
	off += 4
	putBool(buf, off, s.thermal.HeaterEnabled)
	off++
	putBool(buf, off, s.thermal.OverTempFlag)
	off++
	putBool(buf, off, s.thermal.UnderTempFlag)
	off++

	for _, v := range []float32{
		s.adcs.MagXuT, s.adcs.MagYuT, s.adcs.MagZuT,
		s.adcs.GyroXdps, s.adcs.GyroYdps, s.adcs.GyroZdps,
		s.adcs.SunVectorX, s.adcs.SunVectorY, s.adcs.SunVectorZ,
	} {
		putFloat32(buf, off, v)
		off += 4
	}
	putBool(buf, off, s.adcs.Detumbled)
	off++
	putBool(buf, off, s.adcs.SunAcquired)
	off++
	binary.BigEndian.PutUint32(buf[off:], s.adcs.LastUpdateMS)
	off += 4

	binary.BigEndian.PutUint32(buf[off:], s.comm.PacketsSent)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], s.comm.PacketsReceived)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], s.comm.PacketsFailed)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], s.comm.LastGroundContactMS)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], s.comm.BeaconCount)
	off += 4
	binary.BigEndian.PutUint16(buf[off:], s.comm.BeaconIntervalS)
	off += 2
	putBool(buf, off, s.comm.CommActive)
	off++
	buf[off] = byte(s.comm.RssiDbm)
	off++

	binary.BigEndian.PutUint32(buf[off:], s.mission.BootCount)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], s.mission.UptimeS)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], s.mission.TotalUptimeS)
	off += 4
	binary.BigEndian.PutUint64(buf[off:], s.mission.MissionTimeMS)
	off += 8
	binary.BigEndian.PutUint32(buf[off:], s.mission.QSOCount)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], s.mission.CommandCount)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], s.mission.AnomalyCount)
	off += 4
	putBool(buf, off, s.mission.SafeModeEntry)
	off++

	putBool(buf, off, s.initialized)
	off++
	putBool(buf, off, s.watchdogOK)
	off++
	binary.BigEndian.PutUint64(buf[off:], s.lastUpdateMS)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], s.lastPersistMS)
	off += 8

	return buf
}

func (s *State) decode(buf []byte) {
	off := 0

	s.power.BatteryVoltage = getFloat64(buf, off)
	off += 8
	s.power.BatteryCurrent = getFloat64(buf, off)
	off += 8
	s.power.StateOfCharge = getFloat64(buf, off)
	off += 8
	s.power.SolarPower = getFloat64(buf, off)
	off += 8
	s.power.TotalEnergyWh = getFloat64(buf, off)
	off += 8
	s.power.Mode = buf[off]
	off++
	s.power.PayloadEnabled = buf[off] != 0
	off++
	s.power.ModeEntryTimeMS = binary.BigEndian.Uint32(buf[off:])
	off += 4

	s.thermal.ObcTempC = getFloat32(buf, off)
	off += 4
	s.thermal.EpsTempC = getFloat32(buf, off)
	off += 4
	s.thermal.BatteryTempC = getFloat32(buf, off)
	off += 4
	s.thermal.PayloadTempC = getFloat32(buf, off)
	off += 4
	s.thermal.ExternalTempC = getFloat32(buf, off)
	off += 4
	s.thermal.HeaterEnabled = buf[off] != 0
	off++
	s.thermal.OverTempFlag = buf[off] != 0
	off++
	s.thermal.UnderTempFlag = buf[off] != 0
	off++

	fields := []*float32{
		&s.adcs.MagXuT, &s.adcs.MagYuT, &s.adcs.MagZuT,
		&s.adcs.GyroXdps, &s.adcs.GyroYdps, &s.adcs.GyroZdps,
		&s.adcs.SunVectorX, &s.adcs.SunVectorY, &s.adcs.SunVectorZ,
	}
	for _, f := range fields {
		*f = getFloat32(buf, off)
		off += 4
	}
	s.adcs.Detumbled = buf[off] != 0
	off++
	s.adcs.SunAcquired = buf[off] != 0
	off++
	s.adcs.LastUpdateMS = binary.BigEndian.Uint32(buf[off:])
	off += 4

	s.comm.PacketsSent = binary.BigEndian.Uint32(buf[off:])
	off += 4
	s.comm.PacketsReceived = binary.BigEndian.Uint32(buf[off:])
	off += 4
	s.comm.PacketsFailed = binary.BigEndian.Uint32(buf[off:])
	off += 4
	s.comm.LastGroundContactMS = binary.BigEndian.Uint32(buf[off:])
	off += 4
	s.comm.BeaconCount = binary.BigEndian.Uint32(buf[off:])
	off += 4
	s.comm.BeaconIntervalS = binary.BigEndian.Uint16(buf[off:])
	off += 2
	s.comm.CommActive = buf[off] != 0
	off++
	s.comm.RssiDbm = int8(buf[off])
	off++

	s.mission.BootCount = binary.BigEndian.Uint32(buf[off:])
	off += 4
	s.mission.UptimeS = binary.BigEndian.Uint32(buf[off:])
	off += 4
	s.mission.TotalUptimeS = binary.BigEndian.Uint32(buf[off:])
	off += 4
	s.mission.MissionTimeMS = binary.BigEndian.Uint64(buf[off:])
	off += 8
	s.mission.QSOCount = binary.BigEndian.Uint32(buf[off:])
	off += 4
	s.mission.CommandCount = binary.BigEndian.Uint32(buf[off:])
	off += 4
	s.mission.AnomalyCount = binary.BigEndian.Uint32(buf[off:])
	off += 4
	s.mission.SafeModeEntry = buf[off] != 0
	off++

	s.initialized = buf[off] != 0
	off++
	s.watchdogOK = buf[off] != 0
	off++
	s.lastUpdateMS = binary.BigEndian.Uint64(buf[off:])
	off += 8
	s.lastPersistMS = binary.BigEndian.Uint64(buf[off:])
	off += 8
}

// UpdateCRC is exposed for tests; CRC is computed internally on Save.
func (s *State) UpdateCRC() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return crc.Checksum(s.encode())
}

// VerifyCRC reports whether the in-memory state matches a previously
// computed checksum.
func (s *State) VerifyCRC(want uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return crc.Verify(s.encode(), want)
}

// Save persists the full state aggregate with a trailing CRC32.
func (s *State) Save(nowMS uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backend == nil {
		return errs.New("sysstate.Save", errs.Generic)
	}
	s.lastPersistMS = nowMS
	body := s.encode()
	sum := crc.Checksum(body)
	image := make([]byte, len(body)+4)
	copy(image, body)
	binary.BigEndian.PutUint32(image[len(body):], sum)
	if err := s.backend.Write(store.RegionSystemState, image); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

// Load restores the aggregate from persistence. On missing record or CRC
// mismatch it leaves the aggregate uninitialized (Initialized() == false)
// so the caller knows to run Init with fresh defaults.
func (s *State) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backend == nil {
		return errs.New("sysstate.Load", errs.Generic)
	}
	image, err := s.backend.Read(store.RegionSystemState)
	if err != nil || len(image) != bodyLen+4 {
		return nil
	}
	body := image[:bodyLen]
	want := binary.BigEndian.Uint32(image[bodyLen:])
	if !crc.Verify(body, want) {
		s.log.Warn("system state CRC mismatch, reverting to uninitialized defaults")
		return nil
	}
	s.decode(body)
	return nil
}
