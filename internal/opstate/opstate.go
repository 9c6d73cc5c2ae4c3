// Package opstate implements the operational state machine: a static
// transition table keyed by (current state, event), each entry carrying
// an optional guard and an optional action, driving the spacecraft
// through BOOT, SAFE, DETUMBLE, IDLE, ACTIVE, and EMERGENCY.
package opstate

import (
	"sync"

	"go.uber.org/zap"

	"github.com/cheesejaguar/smartqso/internal/clock"
	"github.com/cheesejaguar/smartqso/internal/fdir"
)

// State mirrors SmState_t.
type State uint8

const (
	Boot State = iota
	Safe
	Detumble
	Idle
	Active
	Emergency
	numStates
)

func (s State) String() string {
	switch s {
	case Boot:
		return "BOOT"
	case Safe:
		return "SAFE"
	case Detumble:
		return "DETUMBLE"
	case Idle:
		return "IDLE"
	case Active:
		return "ACTIVE"
	case Emergency:
		return "EMERGENCY"
	default:
		return "UNKNOWN"
	}
}

// Event mirrors SmEvent_t: the closed set of inputs the machine reacts to.
type Event uint8

const (
	BootComplete Event = iota
	DetumbleComplete
	CommAcquired
	PowerOK
	PowerLow
	PowerCritical
	ThermalFault
	CommTimeout
	WatchdogTimeout
	GroundCmdSafe
	GroundCmdIdle
	GroundCmdActive
	AIReady
	AIFault
	RecoveryOK
	numEvents
)

func (e Event) String() string {
	switch e {
	case BootComplete:
		return "boot-complete"
	case DetumbleComplete:
		return "detumble-complete"
	case CommAcquired:
		return "comm-acquired"
	case PowerOK:
		return "power-ok"
	case PowerLow:
		return "power-low"
	case PowerCritical:
		return "power-critical"
	case ThermalFault:
		return "thermal-fault"
	case CommTimeout:
		return "comm-timeout"
	case WatchdogTimeout:
		return "watchdog-timeout"
	case GroundCmdSafe:
		return "ground-cmd-safe"
	case GroundCmdIdle:
		return "ground-cmd-idle"
	case GroundCmdActive:
		return "ground-cmd-active"
	case AIReady:
		return "ai-ready"
	case AIFault:
		return "ai-fault"
	case RecoveryOK:
		return "recovery-ok"
	default:
		return "UNKNOWN"
	}
}

// Result mirrors SmResult_t: the outcome process_event reports.
type Result uint8

const (
	Transitioned Result = iota
	NoTransition
	InvalidEvent
	Uninitialized
)

// GuardFunc decides whether a matching transition is allowed to fire.
type GuardFunc func() bool

// ActionFunc runs as part of a transition (exit/transition/entry).
type ActionFunc func()

type transitionKey struct {
	from  State
	event Event
}

type transition struct {
	to     State
	guard  GuardFunc
	action ActionFunc
}

// Machine is the operational state machine's runtime context plus its
// static transition table.
type Machine struct {
	mu sync.Mutex

	clock clock.Source
	faults *fdir.Log
	log    *zap.Logger

	table map[transitionKey]transition

	onExit  [numStates]ActionFunc
	onEntry [numStates]ActionFunc

	current         State
	previous        State
	transitionCount uint32
	lastTransMS     uint64
	stateEntryMS    uint64
	initialized     bool
}

// New constructs a Machine with the standard transition table installed
// but not yet started (call Init to enter the initial state).
func New(src clock.Source, faults *fdir.Log, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Machine{
		clock:  src,
		faults: faults,
		log:    logger,
		table:  make(map[transitionKey]transition),
	}
	m.installDefaultTable()
	return m
}

func (m *Machine) addTransition(from State, events []Event, to State) {
	for _, e := range events {
		m.table[transitionKey{from, e}] = transition{to: to}
	}
}

func (m *Machine) installDefaultTable() {
	m.addTransition(Boot, []Event{BootComplete}, Detumble)
	m.addTransition(Boot, []Event{PowerCritical}, Safe)

	m.addTransition(Detumble, []Event{DetumbleComplete}, Idle)
	m.addTransition(Detumble, []Event{PowerLow, PowerCritical, WatchdogTimeout, GroundCmdSafe}, Safe)

	m.addTransition(Safe, []Event{PowerOK, RecoveryOK, GroundCmdIdle}, Idle)

	m.addTransition(Idle, []Event{AIReady, GroundCmdActive}, Active)
	m.addTransition(Idle, []Event{PowerLow, ThermalFault, CommTimeout, WatchdogTimeout, GroundCmdSafe}, Safe)
	m.addTransition(Idle, []Event{PowerCritical}, Emergency)

	m.addTransition(Active, []Event{AIFault, GroundCmdIdle, PowerLow, CommTimeout}, Idle)
	m.addTransition(Active, []Event{ThermalFault, WatchdogTimeout, GroundCmdSafe}, Safe)
	m.addTransition(Active, []Event{PowerCritical}, Emergency)

	m.addTransition(Emergency, []Event{RecoveryOK, GroundCmdSafe}, Safe)
}

// SetGuard installs a guard predicate on an existing transition. The
// transition only fires when the guard returns true; if the guard
// returns false the result is NoTransition.
func (m *Machine) SetGuard(from State, e Event, guard GuardFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := transitionKey{from, e}
	t := m.table[k]
	t.guard = guard
	m.table[k] = t
}

// SetAction installs the transition action run for an existing transition.
func (m *Machine) SetAction(from State, e Event, action ActionFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := transitionKey{from, e}
	t := m.table[k]
	t.action = action
	m.table[k] = t
}

// SetEntryAction installs the action run whenever the machine enters s.
func (m *Machine) SetEntryAction(s State, action ActionFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEntry[s] = action
}

// SetExitAction installs the action run whenever the machine leaves s.
func (m *Machine) SetExitAction(s State, action ActionFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExit[s] = action
}

func (m *Machine) now() uint64 {
	if m.clock != nil {
		return m.clock.NowMS()
	}
	return 0
}

// Init enters the initial state without running any transition logic.
func (m *Machine) Init(initial State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = initial
	m.previous = initial
	m.transitionCount = 0
	now := m.now()
	m.lastTransMS = now
	m.stateEntryMS = now
	m.initialized = true
}

// ProcessEvent evaluates e against the current state and fires the
// matching transition, if any. Exit action, then transition action, then
// the state swap, then entry action — in that order, with every action
// failure logged as a warning rather than aborting the transition.
func (m *Machine) ProcessEvent(e Event) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return Uninitialized
	}
	if e >= numEvents {
		return InvalidEvent
	}

	t, ok := m.table[transitionKey{m.current, e}]
	if !ok {
		return NoTransition
	}
	if t.guard != nil && !t.guard() {
		return NoTransition
	}

	from := m.current
	if exit := m.onExit[from]; exit != nil {
		safeRun(exit, m.log, "exit action failed")
	}
	if t.action != nil {
		safeRun(t.action, m.log, "transition action failed")
	}

	m.previous = from
	m.current = t.to
	m.transitionCount++
	now := m.now()
	m.lastTransMS = now
	m.stateEntryMS = now

	if entry := m.onEntry[t.to]; entry != nil {
		safeRun(entry, m.log, "entry action failed")
	}

	if m.faults != nil {
		m.faults.Add(fdir.ModeChange, fdir.Info, t.to.String(), 0)
	}

	m.log.Info("state transition",
		zap.String("from", from.String()),
		zap.String("event", e.String()),
		zap.String("to", t.to.String()),
		zap.Uint32("transition_count", m.transitionCount),
	)

	return Transitioned
}

func safeRun(fn ActionFunc, log *zap.Logger, warnMsg string) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn(warnMsg, zap.Any("recover", r))
		}
	}()
	fn()
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Previous returns the state the machine was in before the last
// transition.
func (m *Machine) Previous() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.previous
}

// TransitionCount returns the number of transitions executed so far.
func (m *Machine) TransitionCount() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionCount
}

// DurationInState returns how long the machine has been in its current
// state, in milliseconds.
func (m *Machine) DurationInState() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if now < m.stateEntryMS {
		return 0
	}
	return now - m.stateEntryMS
}

// IsTransitionValid reports whether e has a table entry from the current
// state (ignoring guards).
func (m *Machine) IsTransitionValid(e Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.table[transitionKey{m.current, e}]
	return ok
}

// ForceState bypasses guards and the transition table entirely, used only
// for fault recovery. Exit and entry actions still run; a RECOVERY fault
// is logged at Warning severity.
func (m *Machine) ForceState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.current
	if exit := m.onExit[from]; exit != nil {
		safeRun(exit, m.log, "exit action failed")
	}
	m.previous = from
	m.current = s
	m.transitionCount++
	now := m.now()
	m.lastTransMS = now
	m.stateEntryMS = now
	if entry := m.onEntry[s]; entry != nil {
		safeRun(entry, m.log, "entry action failed")
	}
	if m.faults != nil {
		m.faults.Add(fdir.Recovery, fdir.Warning, "forced state "+s.String(), 0)
	}
	m.log.Warn("forced state transition", zap.String("from", from.String()), zap.String("to", s.String()))
}
