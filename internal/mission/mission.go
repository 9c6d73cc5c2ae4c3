// Package mission implements persisted mission-wide counters: boot/reset
// count, cumulative uptime and energy, mission phase, and the
// description of the most recent fault.
package mission

import (
	"encoding/binary"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/cheesejaguar/smartqso/internal/crc"
	"github.com/cheesejaguar/smartqso/internal/errs"
	"github.com/cheesejaguar/smartqso/internal/store"
)

// Phase mirrors MissionPhase_t.
type Phase uint8

const (
	Commissioning Phase = iota
	Idle
	Active
	EOL
)

func (p Phase) String() string {
	switch p {
	case Commissioning:
		return "commissioning"
	case Idle:
		return "idle"
	case Active:
		return "active"
	case EOL:
		return "eol"
	default:
		return "unknown"
	}
}

const faultDescLen = 64

// Data is the snapshot returned by Tracker.Data.
type Data struct {
	MissionStartMS uint64
	TotalUptimeMS  uint64
	ResetCount     uint32
	LastResetMS    uint64
	TotalEnergyWh  float64
	FaultCount     uint32
	Phase          Phase
	LastFault      string
}

// Tracker owns the persisted mission-data record.
type Tracker struct {
	mu sync.Mutex

	backend store.Backend
	log     *zap.Logger

	d Data
}

// New constructs a Tracker with zeroed mission data.
func New(backend store.Backend, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{backend: backend, log: logger}
}

// Data returns a snapshot of the tracked mission data.
func (t *Tracker) Data() Data {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.d
}

// SetStart records the mission start timestamp.
func (t *Tracker) SetStart(startMS uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.d.MissionStartMS = startMS
}

// UpdateUptime sets the cumulative uptime counter.
func (t *Tracker) UpdateUptime(uptimeMS uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.d.TotalUptimeMS = uptimeMS
}

// IncrementReset bumps the reset/boot counter. Called once per boot.
func (t *Tracker) IncrementReset(nowMS uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.d.ResetCount++
	t.d.LastResetMS = nowMS
}

// AddEnergy accumulates consumed energy in watt-hours.
func (t *Tracker) AddEnergy(wh float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.d.TotalEnergyWh += wh
}

// SetPhase sets the current mission phase.
func (t *Tracker) SetPhase(p Phase) error {
	if p > EOL {
		return errs.New("mission.SetPhase", errs.InvalidArg)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.d.Phase = p
	return nil
}

// Phase returns the current mission phase.
func (t *Tracker) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.d.Phase
}

// RecordFault stores a fault description and bumps the cumulative fault
// count. Mirrors fdir.Log.Add's own bookkeeping but at mission-data scope
// (a running total survives fault-log eviction).
func (t *Tracker) RecordFault(description string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(description) > faultDescLen {
		description = description[:faultDescLen]
	}
	t.d.FaultCount++
	t.d.LastFault = description
}

// ResetCount returns the number of resets/boots recorded.
func (t *Tracker) ResetCount() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.d.ResetCount
}

// Uptime returns the total uptime in milliseconds.
func (t *Tracker) Uptime() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.d.TotalUptimeMS
}

// Energy returns total energy consumed in watt-hours.
func (t *Tracker) Energy() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.d.TotalEnergyWh
}

const recordLen = 8 + 8 + 4 + 8 + 8 + 4 + 1 + faultDescLen

func (t *Tracker) encode() []byte {
	buf := make([]byte, recordLen)
	off := 0
	binary.BigEndian.PutUint64(buf[off:], t.d.MissionStartMS)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], t.d.TotalUptimeMS)
	off += 8
	binary.BigEndian.PutUint32(buf[off:], t.d.ResetCount)
	off += 4
	binary.BigEndian.PutUint64(buf[off:], t.d.LastResetMS)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], math.Float64bits(t.d.TotalEnergyWh))
	off += 8
	binary.BigEndian.PutUint32(buf[off:], t.d.FaultCount)
	off += 4
	buf[off] = byte(t.d.Phase)
	off++
	copy(buf[off:], t.d.LastFault)
	return buf
}

func decode(buf []byte) Data {
	var d Data
	off := 0
	d.MissionStartMS = binary.BigEndian.Uint64(buf[off:])
	off += 8
	d.TotalUptimeMS = binary.BigEndian.Uint64(buf[off:])
	off += 8
	d.ResetCount = binary.BigEndian.Uint32(buf[off:])
	off += 4
	d.LastResetMS = binary.BigEndian.Uint64(buf[off:])
	off += 8
	d.TotalEnergyWh = math.Float64frombits(binary.BigEndian.Uint64(buf[off:]))
	off += 8
	d.FaultCount = binary.BigEndian.Uint32(buf[off:])
	off += 4
	d.Phase = Phase(buf[off])
	off++
	desc := buf[off : off+faultDescLen]
	n := 0
	for n < len(desc) && desc[n] != 0 {
		n++
	}
	d.LastFault = string(desc[:n])
	return d
}

// Save persists the mission data record with a trailing CRC32.
func (t *Tracker) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.backend == nil {
		return errs.New("mission.Save", errs.Generic)
	}
	body := t.encode()
	sum := crc.Checksum(body)
	image := make([]byte, len(body)+4)
	copy(image, body)
	binary.BigEndian.PutUint32(image[len(body):], sum)
	return t.backend.Write(store.RegionMissionData, image)
}

// Load restores mission data from persistence. If no record exists yet,
// this is a first boot: the tracker is left zeroed and the caller is
// expected to call IncrementReset once to record boot #1. If a record
// exists but fails CRC verification, the tracker falls back to zeroed
// defaults (a corrupt mission-data region is not fatal, but does lose
// cumulative history).
func (t *Tracker) Load() (firstBoot bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.backend == nil {
		return false, errs.New("mission.Load", errs.Generic)
	}
	image, rerr := t.backend.Read(store.RegionMissionData)
	if rerr != nil {
		t.d = Data{}
		return true, nil
	}
	if len(image) != recordLen+4 {
		t.log.Warn("mission data record has wrong length, reverting to defaults")
		t.d = Data{}
		return true, nil
	}
	body := image[:recordLen]
	want := binary.BigEndian.Uint32(image[recordLen:])
	if !crc.Verify(body, want) {
		t.log.Warn("mission data CRC mismatch, reverting to defaults")
		t.d = Data{}
		return true, nil
	}
	t.d = decode(body)
	return false, nil
}
