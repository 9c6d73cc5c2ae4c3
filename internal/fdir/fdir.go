// Package fdir implements fault detection, isolation, and recovery: a
// bounded fault log and the autonomous recovery procedures the flight core
// runs in response to thermal, power, and watchdog faults.
package fdir

import (
	"encoding/binary"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/cheesejaguar/smartqso/internal/clock"
	"github.com/cheesejaguar/smartqso/internal/crc"
	"github.com/cheesejaguar/smartqso/internal/eps"
	"github.com/cheesejaguar/smartqso/internal/errs"
	"github.com/cheesejaguar/smartqso/internal/store"
)

// Type mirrors FaultType_t: 22 distinguishable fault conditions.
type Type uint8

const (
	Power Type = iota + 1
	ModeChange
	Thermal
	PowerCritical
	Watchdog
	UART
	VoltageLow
	VoltageRange
	CurrentHigh
	TempHigh
	TempLow
	Recovery
	HealthThermal
	HealthPower
	HealthComm
	Init
	ADCS
	Assertion
	Command
	Telemetry
	Deployment
	SWInternal
)

// Severity mirrors FaultSeverity_t. Numerically distinct from
// assertfail.Severity — the two enumerations are owned by different
// subsystems and were never meant to share a base.
type Severity uint8

const (
	Info Severity = iota + 1
	Warning
	Error
	Critical
)

const (
	maxEntries = 100
	descLen    = 64
)

// Record is a single fault log entry.
type Record struct {
	TimestampMS uint64
	FaultType   Type
	Severity    Severity
	Description string
	SOCAtFault  float64
	Recovered   bool
}

func (r Record) encode() []byte {
	desc := make([]byte, descLen)
	copy(desc, r.Description)
	buf := make([]byte, 8+1+1+descLen+8+1)
	off := 0
	binary.BigEndian.PutUint64(buf[off:], r.TimestampMS)
	off += 8
	buf[off] = byte(r.FaultType)
	off++
	buf[off] = byte(r.Severity)
	off++
	copy(buf[off:], desc)
	off += descLen
	binary.BigEndian.PutUint64(buf[off:], math.Float64bits(r.SOCAtFault))
	off += 8
	if r.Recovered {
		buf[off] = 1
	}
	return buf
}

func decodeRecord(buf []byte) (Record, bool) {
	if len(buf) < 8+1+1+descLen+8+1 {
		return Record{}, false
	}
	off := 0
	r := Record{}
	r.TimestampMS = binary.BigEndian.Uint64(buf[off:])
	off += 8
	r.FaultType = Type(buf[off])
	off++
	r.Severity = Severity(buf[off])
	off++
	desc := buf[off : off+descLen]
	off += descLen
	n := 0
	for n < len(desc) && desc[n] != 0 {
		n++
	}
	r.Description = string(desc[:n])
	r.SOCAtFault = math.Float64frombits(binary.BigEndian.Uint64(buf[off:]))
	off += 8
	r.Recovered = buf[off] != 0
	return r, true
}

// Log is a bounded ring of fault Records, capacity 100, oldest entry
// evicted first. CRC-protected on persistence.
type Log struct {
	mu      sync.Mutex
	clock   clock.Source
	backend store.Backend
	log     *zap.Logger

	entries []Record // append-only up to maxEntries, then ring

	watchdogTriggered bool
}

// New constructs a Log with no entries. backend may be nil (in which case
// Save/Load are no-ops returning errs.Generic).
func New(src clock.Source, backend store.Backend, logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{clock: src, backend: backend, log: logger}
}

// Add appends a fault record, evicting the oldest entry if the log is at
// capacity.
func (l *Log) Add(ft Type, sev Severity, description string, soc float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var ts uint64
	if l.clock != nil {
		ts = l.clock.NowMS()
	}
	if len(description) > descLen {
		description = description[:descLen]
	}
	rec := Record{
		TimestampMS: ts,
		FaultType:   ft,
		Severity:    sev,
		Description: description,
		SOCAtFault:  soc,
	}
	if len(l.entries) >= maxEntries {
		l.entries = l.entries[1:]
	}
	l.entries = append(l.entries, rec)

	l.log.Info("fault logged",
		zap.Uint8("type", uint8(ft)),
		zap.Uint8("severity", uint8(sev)),
		zap.String("description", description),
		zap.Float64("soc", soc),
	)
}

// Count returns the number of entries currently in the log.
func (l *Log) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Entry returns the entry at index (0 = oldest).
func (l *Log) Entry(index int) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 0 || index >= len(l.entries) {
		return Record{}, errs.New("fdir.Entry", errs.InvalidArg)
	}
	return l.entries[index], nil
}

// Last returns the most recently added entry.
func (l *Log) Last() (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return Record{}, errs.New("fdir.Last", errs.Generic)
	}
	return l.entries[len(l.entries)-1], nil
}

// MarkRecovered flags the entry at index as recovered.
func (l *Log) MarkRecovered(index int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 0 || index >= len(l.entries) {
		return errs.New("fdir.MarkRecovered", errs.InvalidArg)
	}
	l.entries[index].Recovered = true
	return nil
}

// Clear permanently deletes every fault record, in memory and, when a
// backend is attached, its persisted image.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	if l.backend != nil {
		_ = l.backend.Erase(store.RegionFaultLog)
	}
}

// Save persists the entire log, each record's CRC32 trailer computed over
// its encoded bytes, as a single backup-region-style image.
func (l *Log) Save() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.backend == nil {
		return errs.New("fdir.Save", errs.Generic)
	}
	buf := make([]byte, 0, len(l.entries)*96)
	for _, r := range l.entries {
		enc := r.encode()
		sum := crc.Checksum(enc)
		trailer := make([]byte, 4)
		binary.BigEndian.PutUint32(trailer, sum)
		buf = append(buf, enc...)
		buf = append(buf, trailer...)
	}
	return l.backend.Write(store.RegionFaultLog, buf)
}

// Load replaces the in-memory log with the persisted image, discarding any
// record whose CRC32 trailer doesn't match (logged as a warning, not
// fatal).
func (l *Log) Load() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.backend == nil {
		return errs.New("fdir.Load", errs.Generic)
	}
	buf, err := l.backend.Read(store.RegionFaultLog)
	if err != nil {
		return err
	}
	const recLen = 8 + 1 + 1 + descLen + 8 + 1
	const stride = recLen + 4
	var entries []Record
	for off := 0; off+stride <= len(buf); off += stride {
		enc := buf[off : off+recLen]
		trailer := buf[off+recLen : off+stride]
		want := binary.BigEndian.Uint32(trailer)
		if !crc.Verify(enc, want) {
			l.log.Warn("fault log CRC mismatch, dropping entry", zap.Int("offset", off))
			continue
		}
		if rec, ok := decodeRecord(enc); ok {
			entries = append(entries, rec)
		}
	}
	if len(entries) > maxEntries {
		entries = entries[len(entries)-maxEntries:]
	}
	l.entries = entries
	return nil
}

// RecoverThermal disables payload power and demotes ctrl to IDLE when the
// payload is currently enabled, cutting the load that drove the thermal
// fault. A no-op (besides ctrl being nil) when the payload is already off.
func (l *Log) RecoverThermal(soc float64, ctrl *eps.Controller) {
	if ctrl == nil || !ctrl.PayloadEnabled() {
		return
	}
	l.Add(Recovery, Warning, "thermal fault recovery: disabling payload", soc)
	_ = ctrl.ControlPayload(false, soc)
	_ = ctrl.SetPowerMode(eps.Idle, soc)
}

// RecoverPower demotes ctrl's power mode to match the current state of
// charge: SAFE below SOCSafeThreshold, IDLE below SOCIdleThreshold.
// Above SOCIdleThreshold the supply has recovered enough that no forced
// demotion is needed.
func (l *Log) RecoverPower(soc float64, ctrl *eps.Controller) {
	switch {
	case soc < eps.SOCSafeThreshold:
		l.Add(PowerCritical, Critical, "power recovery: SOC critical, SAFE mode forced", soc)
		if ctrl != nil {
			_ = ctrl.SetPowerMode(eps.Safe, soc)
		}
	case soc < eps.SOCIdleThreshold:
		l.Add(Power, Warning, "power recovery: SOC low, IDLE mode forced", soc)
		if ctrl != nil {
			_ = ctrl.SetPowerMode(eps.Idle, soc)
		}
	}
}

// HandleWatchdog logs a watchdog timeout and sets the triggered flag.
func (l *Log) HandleWatchdog(soc float64) {
	l.mu.Lock()
	l.watchdogTriggered = true
	l.mu.Unlock()
	l.Add(Watchdog, Critical, "watchdog timeout", soc)
}

// WasWatchdogTriggered reports whether a watchdog timeout has been
// recorded since the last ClearWatchdogFlag.
func (l *Log) WasWatchdogTriggered() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.watchdogTriggered
}

// ClearWatchdogFlag resets the watchdog-triggered flag.
func (l *Log) ClearWatchdogFlag() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.watchdogTriggered = false
}
