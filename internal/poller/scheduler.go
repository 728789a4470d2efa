// Package poller runs periodic tasks on independent, drifting schedules.
// Each run is timed from the completion of the previous one, never at a
// fixed rate, so a slow poll cannot pile up catch-up runs behind it. An
// optional jitter spreads the load so many installations do not hit the
// upstream on the same beat.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"sort"
	"sync"
	"time"
)

var (
	ErrTaskExists   = errors.New("task already registered")
	ErrTaskNotFound = errors.New("task not found")
)

// Action is one unit of periodic work. It receives a background context:
// stopping the scheduler does not cancel runs that are already in flight.
type Action func(ctx context.Context) error

// Task describes a periodic job.
type Task struct {
	ID       string
	Interval time.Duration
	Action   Action
	// RunImmediately fires the first run right after Start instead of
	// waiting a full interval.
	RunImmediately bool
}

type taskState int

const (
	stateIdle taskState = iota
	stateScheduled
	stateExecuting
)

func (s taskState) String() string {
	switch s {
	case stateScheduled:
		return "scheduled"
	case stateExecuting:
		return "executing"
	default:
		return "idle"
	}
}

// task is the runtime record for one registered task. gen invalidates a
// pending timer that was cancelled but whose callback may already be on its
// way.
type task struct {
	def      Task
	state    taskState
	interval time.Duration
	timer    Timer
	lastRun  time.Time
	gen      uint64
}

// TaskInfo is a read-only snapshot of one task.
type TaskInfo struct {
	ID       string        `json:"id"`
	Interval time.Duration `json:"interval"`
	State    string        `json:"state"`
	LastRun  time.Time     `json:"lastRun,omitzero"`
}

// Config tunes the scheduler. Zero values mean the system clock, no jitter,
// and the default logger.
type Config struct {
	// Jitter is the exclusive upper bound of the random extra delay added
	// to every rescheduling decision. Zero disables it.
	Jitter time.Duration
	Clock  Clock
	Logger *slog.Logger
}

// Scheduler manages registered tasks
type Scheduler struct {
	clock  Clock
	jitter time.Duration
	randFn func(int64) int64
	logger *slog.Logger

	mu      sync.Mutex
	tasks   map[string]*task
	started bool
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler; it does nothing until Start
func NewScheduler(config Config) *Scheduler {
	clock := config.Clock
	if clock == nil {
		clock = RealClock{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		clock:  clock,
		jitter: config.Jitter,
		randFn: rand.Int64N,
		logger: logger.With("component", "poller"),
		tasks:  make(map[string]*task),
	}
}

// Register adds a task. Registering an ID twice fails; use UpdateInterval to
// change a live task. Registering on a running scheduler schedules the task
// right away.
func (s *Scheduler) Register(def Task) error {
	if def.ID == "" {
		return errors.New("task ID cannot be empty")
	}
	if def.Interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", def.ID)
	}
	if def.Action == nil {
		return fmt.Errorf("task %s: action cannot be nil", def.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[def.ID]; exists {
		return fmt.Errorf("%w: %s", ErrTaskExists, def.ID)
	}
	tk := &task{def: def, interval: def.Interval}
	s.tasks[def.ID] = tk
	if s.started {
		s.scheduleLocked(tk, s.initialDelay(def))
	}
	return nil
}

// Unregister removes a task and cancels its pending timer. A run that is
// already in flight finishes but is not rescheduled.
func (s *Scheduler) Unregister(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tk, exists := s.tasks[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if tk.timer != nil {
		tk.timer.Stop()
		tk.timer = nil
	}
	tk.gen++
	delete(s.tasks, id)
	return nil
}

// Start schedules every registered task
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	for _, tk := range s.tasks {
		if tk.state == stateIdle {
			s.scheduleLocked(tk, s.initialDelay(tk.def))
		}
	}
	s.logger.Info("poll scheduler started", "tasks", len(s.tasks))
}

// Stop cancels all pending timers. Runs already in flight finish but do not
// reschedule; use Wait to block until they are done.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	for _, tk := range s.tasks {
		if tk.state == stateScheduled {
			if tk.timer != nil {
				tk.timer.Stop()
				tk.timer = nil
			}
			tk.gen++
			tk.state = stateIdle
		}
	}
	s.mu.Unlock()
	s.logger.Info("poll scheduler stopped")
}

// Wait blocks until in-flight runs have finished. Call it after Stop.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// UpdateInterval changes a task's interval. A pending timer is cancelled and
// replaced with a full new-interval delay; there is no immediate run. A task
// that is currently executing picks up the new interval when it reschedules.
func (s *Scheduler) UpdateInterval(id string, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tk, exists := s.tasks[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	tk.interval = interval
	if tk.state == stateScheduled {
		if tk.timer != nil {
			tk.timer.Stop()
		}
		tk.gen++
		s.scheduleLocked(tk, s.nextDelay(interval))
	}
	return nil
}

// LastRun returns when the task last finished a run; zero if it never ran
func (s *Scheduler) LastRun(id string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tk, exists := s.tasks[id]
	if !exists {
		return time.Time{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return tk.lastRun, nil
}

// Tasks returns a snapshot of all tasks, sorted by ID
func (s *Scheduler) Tasks() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make([]TaskInfo, 0, len(s.tasks))
	for _, tk := range s.tasks {
		infos = append(infos, TaskInfo{
			ID:       tk.def.ID,
			Interval: tk.interval,
			State:    tk.state.String(),
			LastRun:  tk.lastRun,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// scheduleLocked arms the task's timer. Caller holds s.mu.
func (s *Scheduler) scheduleLocked(tk *task, delay time.Duration) {
	tk.state = stateScheduled
	id := tk.def.ID
	gen := tk.gen
	tk.timer = s.clock.AfterFunc(delay, func() { s.fire(id, gen) })
}

// fire is the timer callback. A stale generation means the timer was
// cancelled after the callback was already on its way.
func (s *Scheduler) fire(id string, gen uint64) {
	s.mu.Lock()
	tk, exists := s.tasks[id]
	if !exists || tk.gen != gen || tk.state != stateScheduled || !s.started {
		s.mu.Unlock()
		return
	}
	tk.state = stateExecuting
	tk.timer = nil
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		err := s.runAction(tk.def)
		now := s.clock.Now()

		s.mu.Lock()
		defer s.mu.Unlock()
		tk.lastRun = now
		if err != nil {
			s.logger.Error("poll task failed", "task", id, "error", err)
		}
		if cur, stillThere := s.tasks[id]; !stillThere || cur != tk {
			return
		}
		if !s.started {
			tk.state = stateIdle
			return
		}
		s.scheduleLocked(tk, s.nextDelay(tk.interval))
	}()
}

// runAction shields the scheduler from a panicking task.
func (s *Scheduler) runAction(def Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.logger.Error("poll task panicked",
				"task", def.ID,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	return def.Action(context.Background())
}

func (s *Scheduler) initialDelay(def Task) time.Duration {
	if def.RunImmediately {
		return 0
	}
	return s.nextDelay(def.Interval)
}

func (s *Scheduler) nextDelay(interval time.Duration) time.Duration {
	if s.jitter <= 0 {
		return interval
	}
	return interval + time.Duration(s.randFn(int64(s.jitter)))
}
