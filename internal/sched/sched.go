// Package sched implements the flight core's cooperative, single-threaded,
// time-triggered task scheduler: a fixed-capacity task table, priority
// selection, and deadline-miss monitoring. There is no preemption and no
// goroutine pool — Tick executes at most one task per call, and the driving
// loop is expected to invoke it from a plain counted loop.
package sched

import (
	"sync"

	"go.uber.org/zap"

	"github.com/cheesejaguar/smartqso/internal/clock"
	"github.com/cheesejaguar/smartqso/internal/errs"
)

// Priority orders tasks: numerically lower wins ties.
type Priority uint8

const (
	Critical Priority = iota
	High
	Normal
	Low
	Idle
)

func (p Priority) String() string {
	switch p {
	case Critical:
		return "CRITICAL"
	case High:
		return "HIGH"
	case Normal:
		return "NORMAL"
	case Low:
		return "LOW"
	case Idle:
		return "IDLE"
	default:
		return "UNKNOWN"
	}
}

// State mirrors TaskState_t.
type State uint8

const (
	Inactive State = iota
	Ready
	Running
	Suspended
	Fault
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "INACTIVE"
	case Ready:
		return "READY"
	case Running:
		return "RUNNING"
	case Suspended:
		return "SUSPENDED"
	case Fault:
		return "FAULT"
	default:
		return "UNKNOWN"
	}
}

const (
	maxTasks             = 16
	maxNameLen           = 16
	minPeriodMS          = 10
	maxPeriodMS          = 60000
	maxConsecutiveMisses = 3
	tickPeriodMS         = 1
	defaultUtilWindow    = 1000
)

// Handle identifies a registered task. Stable for the task's lifetime; after
// Unregister, the next Register reuses the lowest free slot, so the same
// handle can then name a different task.
type Handle int

// Stats is the runtime statistics kept per task.
type Stats struct {
	Count   uint64
	LastUS  uint64
	MinUS   uint64
	MaxUS   uint64
	AvgUS   float64
	Misses  uint32
	Skips   uint32
}

// DeadlineMissFunc is invoked whenever a task's measured runtime exceeds its
// declared deadline. overrunUS is how far over the deadline the run went.
type DeadlineMissFunc func(h Handle, overrunUS uint32)

type task struct {
	name              string
	fn                func()
	periodMS          uint32
	deadlineMS        uint32
	priority          Priority
	enabled           bool
	state             State
	nextRunTick       uint64
	consecutiveMisses int
	stats             Stats
}

// Scheduler is the task table plus tick-driven dispatch loop.
type Scheduler struct {
	mu sync.Mutex

	clock clock.MicroSource
	log   *zap.Logger

	tasks [maxTasks]*task

	tickCount uint64
	activeUS  uint64
	idleUS    uint64
	utilWindow int
	utilPct    float64

	deadlineMissFn DeadlineMissFunc
	stopped        bool
}

// New constructs an empty Scheduler. utilWindow <= 0 defaults to 1000 ticks.
func New(src clock.MicroSource, logger *zap.Logger, utilWindow int) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if utilWindow <= 0 {
		utilWindow = defaultUtilWindow
	}
	return &Scheduler{clock: src, log: logger, utilWindow: utilWindow}
}

// RegisterDeadlineMissFunc installs the callback invoked on every deadline
// miss. A nil callback disables notification (misses are still counted).
func (s *Scheduler) RegisterDeadlineMissFunc(fn DeadlineMissFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadlineMissFn = fn
}

// Register adds a task to the table in the Inactive state. Call Enable to
// start scheduling it. Returns errs.InvalidArg for a bad name or period,
// errs.NullArg for a nil fn, and errs.OutOfMemory if the table is full.
func (s *Scheduler) Register(name string, priority Priority, periodMS, deadlineMS uint32, fn func()) (Handle, error) {
	if fn == nil {
		return -1, errs.New("sched.Register", errs.NullArg)
	}
	if name == "" || len(name) > maxNameLen {
		return -1, errs.New("sched.Register", errs.InvalidArg)
	}
	if periodMS < minPeriodMS || periodMS > maxPeriodMS {
		return -1, errs.New("sched.Register", errs.InvalidArg)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tasks {
		if t != nil && t.name == name {
			return -1, errs.New("sched.Register", errs.InvalidArg)
		}
	}

	for i, t := range s.tasks {
		if t == nil {
			s.tasks[i] = &task{
				name:       name,
				fn:         fn,
				periodMS:   periodMS,
				deadlineMS: deadlineMS,
				priority:   priority,
				state:      Inactive,
			}
			return Handle(i), nil
		}
	}
	return -1, errs.New("sched.Register", errs.OutOfMemory)
}

func (s *Scheduler) get(h Handle) (*task, error) {
	if h < 0 || int(h) >= maxTasks || s.tasks[h] == nil {
		return nil, errs.New("sched.get", errs.InvalidArg)
	}
	return s.tasks[h], nil
}

func (s *Scheduler) periodTicks(periodMS uint32) uint64 {
	return uint64(periodMS) / tickPeriodMS
}

// Enable moves a task to READY and schedules it for the next tick.
func (s *Scheduler) Enable(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.get(h)
	if err != nil {
		return err
	}
	t.enabled = true
	t.state = Ready
	t.consecutiveMisses = 0
	t.nextRunTick = s.tickCount
	return nil
}

// Disable moves a task to INACTIVE. It will not run until re-enabled.
func (s *Scheduler) Disable(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.get(h)
	if err != nil {
		return err
	}
	t.enabled = false
	t.state = Inactive
	return nil
}

// Suspend moves a READY task to SUSPENDED; it is not considered for
// selection until Resume is called.
func (s *Scheduler) Suspend(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.get(h)
	if err != nil {
		return err
	}
	t.state = Suspended
	return nil
}

// Resume moves a SUSPENDED task back to READY.
func (s *Scheduler) Resume(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.get(h)
	if err != nil {
		return err
	}
	if t.state == Suspended {
		t.state = Ready
	}
	return nil
}

// Unregister removes a task from the table. Forbidden while the task is
// currently RUNNING: Tick releases the scheduler lock while a task function
// runs, so a task that unregisters itself from inside its own function is
// refused by this guard.
func (s *Scheduler) Unregister(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.get(h)
	if err != nil {
		return err
	}
	if t.state == Running {
		return errs.New("sched.Unregister", errs.Busy)
	}
	s.tasks[h] = nil
	return nil
}

// RunNow makes a task eligible for selection on the very next tick,
// regardless of its configured period.
func (s *Scheduler) RunNow(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.get(h)
	if err != nil {
		return err
	}
	t.nextRunTick = s.tickCount
	return nil
}

// SetPeriod changes a task's period. The next run is rescheduled relative
// to the current tick using the new period.
func (s *Scheduler) SetPeriod(h Handle, periodMS uint32) error {
	if periodMS < minPeriodMS || periodMS > maxPeriodMS {
		return errs.New("sched.SetPeriod", errs.InvalidArg)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.get(h)
	if err != nil {
		return err
	}
	t.periodMS = periodMS
	t.nextRunTick = s.tickCount + s.periodTicks(periodMS)
	return nil
}

// Stats returns a snapshot of a task's runtime statistics.
func (s *Scheduler) Stats(h Handle) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.get(h)
	if err != nil {
		return Stats{}, err
	}
	return t.stats, nil
}

// State returns a task's current state.
func (s *Scheduler) State(h Handle) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.get(h)
	if err != nil {
		return 0, err
	}
	return t.state, nil
}

// TickCount returns the number of ticks executed so far.
func (s *Scheduler) TickCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tickCount
}

// Utilization returns the CPU utilization percentage computed over the last
// complete UtilWindow ticks.
func (s *Scheduler) Utilization() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.utilPct
}

// Stop sets the cooperative stop flag. The driving loop is expected to check
// Stopped() between Tick calls; Tick itself does not consult it, since a
// stopped scheduler simply isn't ticked anymore.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

// Stopped reports whether Stop has been called.
func (s *Scheduler) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func updateStats(st *Stats, elapsedUS uint64) {
	st.Count++
	st.LastUS = elapsedUS
	if st.Count == 1 {
		st.MinUS = elapsedUS
		st.MaxUS = elapsedUS
		st.AvgUS = float64(elapsedUS)
		return
	}
	if elapsedUS < st.MinUS {
		st.MinUS = elapsedUS
	}
	if elapsedUS > st.MaxUS {
		st.MaxUS = elapsedUS
	}
	st.AvgUS += (float64(elapsedUS) - st.AvgUS) / 8
}

// Tick advances the scheduler by one step: select the highest-priority due
// task (if any), run it, update its statistics and deadline-miss state, and
// recompute CPU utilization every UtilWindow ticks.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	s.tickCount++

	bestIdx := -1
	for i, t := range s.tasks {
		if t == nil || t.state != Ready {
			continue
		}
		if s.tickCount < t.nextRunTick {
			continue
		}
		if bestIdx == -1 {
			bestIdx = i
			continue
		}
		if t.priority < s.tasks[bestIdx].priority {
			bestIdx = i
		}
	}

	if bestIdx == -1 {
		s.idleUS += tickPeriodMS * 1000
		s.recomputeUtilLocked()
		s.mu.Unlock()
		return
	}

	for i, t := range s.tasks {
		if i == bestIdx || t == nil || t.state != Ready {
			continue
		}
		if s.tickCount < t.nextRunTick {
			continue
		}
		t.stats.Skips++
	}

	best := s.tasks[bestIdx]
	best.state = Running
	fn := best.fn
	s.mu.Unlock()

	startUS := s.clock.NowUS()
	fn()
	elapsedUS := s.clock.NowUS() - startUS

	s.mu.Lock()
	s.activeUS += elapsedUS
	updateStats(&best.stats, elapsedUS)
	best.nextRunTick = s.tickCount + s.periodTicks(best.periodMS)
	best.state = Ready

	deadlineUS := uint64(best.deadlineMS) * 1000
	if deadlineUS > 0 && elapsedUS > deadlineUS {
		best.stats.Misses++
		best.consecutiveMisses++
		overrun := elapsedUS - deadlineUS
		fn := s.deadlineMissFn
		h := Handle(bestIdx)
		missed := best.consecutiveMisses >= maxConsecutiveMisses
		if missed {
			best.state = Fault
		}
		s.log.Warn("task deadline miss",
			zap.String("task", best.name),
			zap.Uint64("elapsed_us", elapsedUS),
			zap.Uint64("deadline_us", deadlineUS),
			zap.Int("consecutive_misses", best.consecutiveMisses),
		)
		s.recomputeUtilLocked()
		s.mu.Unlock()
		if fn != nil {
			fn(h, uint32(overrun))
		}
		return
	}
	best.consecutiveMisses = 0
	s.recomputeUtilLocked()
	s.mu.Unlock()
}

func (s *Scheduler) recomputeUtilLocked() {
	if s.utilWindow <= 0 || int(s.tickCount)%s.utilWindow != 0 {
		return
	}
	total := s.activeUS + s.idleUS
	if total > 0 {
		s.utilPct = float64(s.activeUS) / float64(total) * 100
	}
	s.activeUS = 0
	s.idleUS = 0
}

// DelayMS cooperatively "blocks" the caller for ms milliseconds by
// repeatedly invoking Tick until the configured clock's elapsed time
// reaches ms. It never spawns a goroutine or sleeps — the core is
// single-threaded cooperative, so a delay is just more ticking.
func (s *Scheduler) DelayMS(ms uint64) {
	start := s.clock.NowMS()
	for s.clock.NowMS()-start < ms {
		s.Tick()
	}
}
