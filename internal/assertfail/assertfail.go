// Package assertfail implements the flight core's defensive assertion
// framework, following JPL Power-of-Ten Rule 5: assertions are never
// compiled out, every failure is logged with its file/line origin, and
// severity drives a graduated response from "log and continue" up to
// "reset the system."
//
// The original C implementation carried two incompatible macro forms for
// the same check (a two-argument log-only REQUIRE and a one-argument
// severity-classifying REQUIRE_EX). This package keeps only the
// severity-classifying contract: callers pass a Kind, Severity, and
// message, and get back the AssertAction the framework decided on plus an
// idiomatic error they can return.
package assertfail

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/cheesejaguar/smartqso/internal/clock"
)

// Kind mirrors AssertType_t.
type Kind uint8

const (
	Precondition Kind = iota
	Postcondition
	Invariant
	ParamNull
	ParamRange
	ArrayBounds
	State
	Internal
	Unreachable
)

func (k Kind) String() string {
	switch k {
	case Precondition:
		return "precondition"
	case Postcondition:
		return "postcondition"
	case Invariant:
		return "invariant"
	case ParamNull:
		return "param_null"
	case ParamRange:
		return "param_range"
	case ArrayBounds:
		return "array_bounds"
	case State:
		return "state"
	case Internal:
		return "internal"
	case Unreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// Severity mirrors AssertSeverity_t.
type Severity uint8

const (
	Warning Severity = iota
	Error
	Critical
	Fatal
)

func (s Severity) String() string {
	switch s {
	case Warning:
		return "warning"
	case Error:
		return "error"
	case Critical:
		return "critical"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Action mirrors AssertAction_t: the framework's decision for the caller.
type Action uint8

const (
	Continue Action = iota
	ReturnError
	SafeMode
	Reset
)

func (a Action) String() string {
	switch a {
	case Continue:
		return "continue"
	case ReturnError:
		return "return_error"
	case SafeMode:
		return "safe_mode"
	case Reset:
		return "reset"
	default:
		return "unknown"
	}
}

func actionFor(sev Severity) Action {
	switch sev {
	case Warning:
		return Continue
	case Error:
		return ReturnError
	case Critical:
		return SafeMode
	case Fatal:
		return Reset
	default:
		return ReturnError
	}
}

const (
	maxMsgLen      = 64
	maxFilenameLen = 32
	maxFailureLog  = 16
)

// Record is a single logged assertion failure.
type Record struct {
	Filename         string
	Line             int
	Kind             Kind
	Severity         Severity
	TimestampS       uint32
	OccurrenceCount  uint32
	Message          string
}

// Stats aggregates counts across every assertion evaluated. Criticals,
// Fatals, SafeModeTriggers, ResetTriggers, and LogOverflows are sticky:
// ClearStats never zeroes them, since ground ops needs a record that a
// safe-mode- or reset-worthy fault occurred even after the volatile
// counters have been cleared post-downlink.
type Stats struct {
	TotalChecks      uint32
	TotalFailures    uint32
	Warnings         uint32
	Errors           uint32
	Criticals        uint32
	Fatals           uint32
	SafeModeTriggers uint32
	ResetTriggers    uint32
	LogCount         uint16
	LogOverflows     uint16
}

// stickyStats holds the counters ClearStats must never reset.
type stickyStats struct {
	Criticals        uint32
	Fatals           uint32
	SafeModeTriggers uint32
	ResetTriggers    uint32
	LogOverflows     uint16
}

// Framework is the flight core's single assertion sink. The zero value is
// usable (no callbacks registered; Check creates the dedupe index and a nop
// logger on first use), so packages can call Check on a Framework that was
// never built by New.
type Framework struct {
	mu sync.Mutex

	clock clock.Source
	log   *zap.Logger

	ring     [maxFailureLog]Record
	ringLen  int
	ringHead int
	dedupe   map[[2]int]int // (fileHash,line) -> ring index, for occurrence counting

	stats  Stats
	sticky stickyStats

	safeModeFn func()
	resetFn    func()
}

// New builds a Framework. logger and src may be nil; a nop logger and the
// zero clock (always reports 0ms) are substituted.
func New(logger *zap.Logger, src clock.Source) *Framework {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Framework{
		clock:  src,
		log:    logger,
		dedupe: make(map[[2]int]int),
	}
}

// RegisterSafeModeFunc installs the callback invoked when a Critical
// assertion fails. Replaces the original API's function-pointer registry.
func (f *Framework) RegisterSafeModeFunc(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.safeModeFn = fn
}

// RegisterResetFunc installs the callback invoked when a Fatal assertion
// fails.
func (f *Framework) RegisterResetFunc(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetFn = fn
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func dedupeKey(file string, line int) [2]int {
	var h int
	for _, r := range file {
		h = h*31 + int(r)
	}
	return [2]int{h, line}
}

// Check is the single entry point every assertion macro equivalent calls
// through. It logs the failure, updates statistics, dedupes repeated
// failures at the same (file, line) by bumping an occurrence counter
// instead of growing the ring, and returns the Action the caller must take.
func (f *Framework) Check(kind Kind, sev Severity, file string, line int, msg string) Action {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.dedupe == nil {
		f.dedupe = make(map[[2]int]int)
	}
	if f.log == nil {
		f.log = zap.NewNop()
	}

	f.stats.TotalChecks++
	f.stats.TotalFailures++
	switch sev {
	case Warning:
		f.stats.Warnings++
	case Error:
		f.stats.Errors++
	case Critical:
		f.sticky.Criticals++
	case Fatal:
		f.sticky.Fatals++
	}

	file = truncate(file, maxFilenameLen)
	msg = truncate(msg, maxMsgLen)

	var tsS uint32
	if f.clock != nil {
		tsS = uint32(f.clock.NowMS() / 1000)
	}

	key := dedupeKey(file, line)
	if idx, ok := f.dedupe[key]; ok {
		f.ring[idx].OccurrenceCount++
		f.ring[idx].TimestampS = tsS
	} else {
		idx := f.ringHead
		if f.ringLen == maxFailureLog {
			// Evict the slot about to be overwritten from the dedupe index.
			for k, v := range f.dedupe {
				if v == idx {
					delete(f.dedupe, k)
					break
				}
			}
			f.sticky.LogOverflows++
		} else {
			f.ringLen++
		}
		f.ring[idx] = Record{
			Filename:        file,
			Line:            line,
			Kind:            kind,
			Severity:        sev,
			TimestampS:      tsS,
			OccurrenceCount: 1,
			Message:         msg,
		}
		f.dedupe[key] = idx
		f.ringHead = (f.ringHead + 1) % maxFailureLog
	}
	f.stats.LogCount = uint16(f.ringLen)

	f.log.Warn("assertion failed",
		zap.String("kind", kind.String()),
		zap.String("severity", sev.String()),
		zap.String("file", file),
		zap.Int("line", line),
		zap.String("message", msg),
	)

	action := actionFor(sev)
	switch action {
	case SafeMode:
		f.sticky.SafeModeTriggers++
		if f.safeModeFn != nil {
			f.safeModeFn()
		}
	case Reset:
		f.sticky.ResetTriggers++
		if f.resetFn != nil {
			f.resetFn()
		}
	}
	return action
}

// toErr converts a failed check into an idiomatic error, or nil if the
// condition held.
func (f *Framework) toErr(ok bool, kind Kind, sev Severity, file string, line int, msg string) error {
	if ok {
		return nil
	}
	action := f.Check(kind, sev, file, line, msg)
	return fmt.Errorf("assertion failed at %s:%d (%s, action=%s): %s", file, line, kind, action, msg)
}

// Require checks a precondition at Error severity.
func (f *Framework) Require(ok bool, file string, line int, msg string) error {
	return f.toErr(ok, Precondition, Error, file, line, msg)
}

// Ensure checks a postcondition at Error severity.
func (f *Framework) Ensure(ok bool, file string, line int, msg string) error {
	return f.toErr(ok, Postcondition, Error, file, line, msg)
}

// Invariant checks a loop or state invariant at Error severity.
func (f *Framework) Invariant(ok bool, file string, line int, msg string) error {
	return f.toErr(ok, Invariant, Error, file, line, msg)
}

// RequireNotNil checks a pointer-shaped precondition is non-nil.
func (f *Framework) RequireNotNil(ok bool, file string, line int, what string) error {
	return f.toErr(ok, ParamNull, Error, file, line, what+" != nil")
}

// RequireRange checks value is within [min, max].
func (f *Framework) RequireRange(value, min, max float64, file string, line int, what string) error {
	ok := value >= min && value <= max
	return f.toErr(ok, ParamRange, Error, file, line, fmt.Sprintf("%s in [%g, %g]", what, min, max))
}

// RequireBounds checks index < size, at Critical severity per the original
// module (out-of-bounds access is treated as a safe-mode-worthy fault).
func (f *Framework) RequireBounds(index, size int, file string, line int, what string) error {
	ok := index >= 0 && index < size
	return f.toErr(ok, ArrayBounds, Critical, file, line, fmt.Sprintf("%s < %d", what, size))
}

// RequireState checks a state-validity condition at Critical severity.
func (f *Framework) RequireState(ok bool, file string, line int, msg string) error {
	return f.toErr(ok, State, Critical, file, line, msg)
}

// Unreachable records that control flow reached a point it never should,
// at Critical severity.
func (f *Framework) Unreachable(file string, line int) error {
	return f.toErr(false, Unreachable, Critical, file, line, "unreachable code executed")
}

// Stats returns a snapshot of assertion statistics. Criticals, Fatals,
// SafeModeTriggers, ResetTriggers, and LogOverflows reflect the sticky
// counters and survive ClearStats; the rest are volatile.
func (f *Framework) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.stats
	s.Criticals = f.sticky.Criticals
	s.Fatals = f.sticky.Fatals
	s.SafeModeTriggers = f.sticky.SafeModeTriggers
	s.ResetTriggers = f.sticky.ResetTriggers
	s.LogOverflows = f.sticky.LogOverflows
	return s
}

// Log returns up to maxEntries most-recent assertion failure records,
// oldest first.
func (f *Framework) Log(maxEntries int) []Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	if maxEntries > f.ringLen {
		maxEntries = f.ringLen
	}
	out := make([]Record, 0, maxEntries)
	start := f.ringHead - maxEntries
	for i := 0; i < maxEntries; i++ {
		idx := ((start+i)%maxFailureLog + maxFailureLog) % maxFailureLog
		out = append(out, f.ring[idx])
	}
	return out
}

// ClearStats resets the volatile statistics and the failure log. Intended
// to be called after assertion data has been downlinked to the ground
// segment. The sticky counters (Criticals, Fatals, SafeModeTriggers,
// ResetTriggers, LogOverflows) are untouched — they record that a
// safe-mode- or reset-worthy fault has ever occurred, which a downlink
// cycle must not erase.
func (f *Framework) ClearStats() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = Stats{}
	f.ring = [maxFailureLog]Record{}
	f.ringLen = 0
	f.ringHead = 0
	f.dedupe = make(map[[2]int]int)
}

// HasCriticalFailures reports whether any Critical or Fatal assertion has
// ever fired. Backed by the sticky counters, so it stays true across
// ClearStats.
func (f *Framework) HasCriticalFailures() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sticky.Criticals > 0 || f.sticky.Fatals > 0
}
