// Package clock provides the flight core's single time source. All
// deadline monitoring, persistence timestamps and EMA statistics read time
// through this interface so tests can drive it deterministically.
package clock

import "time"

// Source yields monotonic milliseconds since an arbitrary epoch fixed at
// construction time.
type Source interface {
	NowMS() uint64
}

// MicroSource additionally yields microsecond resolution, used by the
// scheduler's deadline monitoring — the original stubs reported zero here,
// which would make deadline monitoring vacuous.
type MicroSource interface {
	Source
	NowUS() uint64
}

// Monotonic wraps the runtime's monotonic clock reading (time.Since never
// observes wall-clock adjustments).
type Monotonic struct {
	epoch time.Time
}

// NewMonotonic returns a Source whose epoch is the moment of construction.
func NewMonotonic() *Monotonic {
	return &Monotonic{epoch: time.Now()}
}

func (m *Monotonic) NowMS() uint64 {
	return uint64(time.Since(m.epoch).Milliseconds())
}

func (m *Monotonic) NowUS() uint64 {
	return uint64(time.Since(m.epoch).Microseconds())
}

// Fake is a settable clock for tests. Time is tracked at microsecond
// resolution internally so scheduler tests can simulate sub-millisecond
// task durations precisely.
type Fake struct {
	us uint64
}

// NewFake returns a Fake clock starting at startMS.
func NewFake(startMS uint64) *Fake {
	return &Fake{us: startMS * 1000}
}

func (f *Fake) NowMS() uint64 { return f.us / 1000 }
func (f *Fake) NowUS() uint64 { return f.us }

// Advance moves the fake clock forward by deltaMS.
func (f *Fake) Advance(deltaMS uint64) { f.us += deltaMS * 1000 }

// AdvanceUS moves the fake clock forward by deltaUS microseconds.
func (f *Fake) AdvanceUS(deltaUS uint64) { f.us += deltaUS }

// Set pins the fake clock to an absolute millisecond value.
func (f *Fake) Set(ms uint64) { f.us = ms * 1000 }

// SetUS pins the fake clock to an absolute microsecond value.
func (f *Fake) SetUS(us uint64) { f.us = us }
