// Package scheduler drives recurring background tasks. Each task has its own
// timer loop; a tick starts the task body in a new goroutine and does not wait
// for it, so runs of the same task may overlap. Task bodies guard themselves.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task names used by the notifier service.
const (
	TaskFine        = "fine"
	TaskDaily       = "daily"
	TaskMaintenance = "maintenance"
)

var (
	// ErrUnknownTask is returned when a task name is not registered.
	ErrUnknownTask = errors.New("unknown task")
	// ErrStopped is returned by Trigger once Stop has been called.
	ErrStopped = errors.New("scheduler stopped")
)

// Task is a named body run on a schedule.
type Task struct {
	Name     string
	Schedule Schedule
	Run      func(ctx context.Context)
}

type entry struct {
	Task
	cancel context.CancelFunc // nil while stopped
	done   chan struct{}
}

// Handle owns the task loops. The zero value is not usable; call New.
type Handle struct {
	mu       sync.Mutex
	order    []string
	tasks    map[string]*entry
	base     context.Context
	started  bool
	stopped  bool // set by Stop; no new runs are admitted until Start
	inFlight sync.WaitGroup

	log *zap.Logger
	now func() time.Time
}

// New validates tasks and returns a stopped Handle.
func New(tasks []Task, log *zap.Logger) (*Handle, error) {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handle{
		tasks: make(map[string]*entry, len(tasks)),
		log:   log.With(zap.String("component", "scheduler")),
		now:   time.Now,
	}
	for _, t := range tasks {
		switch {
		case t.Name == "":
			return nil, fmt.Errorf("%w: task without name", ErrInvalidSchedule)
		case t.Schedule == nil:
			return nil, fmt.Errorf("%w: task %q has no schedule", ErrInvalidSchedule, t.Name)
		case t.Run == nil:
			return nil, fmt.Errorf("%w: task %q has no body", ErrInvalidSchedule, t.Name)
		}
		if _, dup := h.tasks[t.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate task %q", ErrInvalidSchedule, t.Name)
		}
		h.tasks[t.Name] = &entry{Task: t}
		h.order = append(h.order, t.Name)
	}
	return h, nil
}

// Start launches every stopped task loop. Calling it again is a no-op for
// tasks already running. Loops end when ctx is cancelled or Stop is called.
func (h *Handle) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.base = ctx
	h.started = true
	h.stopped = false
	for _, name := range h.order {
		h.startLocked(h.tasks[name])
	}
	h.log.Info("scheduler started", zap.Strings("tasks", h.order))
	return nil
}

// Stop cancels every task loop and waits for the loops to exit. Runs already
// in flight continue to completion; use Wait to block on them. Trigger is
// rejected from here on.
func (h *Handle) Stop() {
	h.mu.Lock()
	h.stopped = true
	var done []chan struct{}
	for _, name := range h.order {
		if d := h.stopLocked(h.tasks[name]); d != nil {
			done = append(done, d)
		}
	}
	h.started = false
	h.mu.Unlock()

	for _, d := range done {
		<-d
	}
	h.log.Info("scheduler stopped")
}

// StartTask starts one task loop. The handle must have been started.
func (h *Handle) StartTask(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.tasks[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}
	if !h.started {
		return fmt.Errorf("start task %q: scheduler not started", name)
	}
	h.startLocked(e)
	return nil
}

// StopTask stops one task loop and waits for it to exit.
func (h *Handle) StopTask(name string) error {
	h.mu.Lock()
	e, ok := h.tasks[name]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}
	done := h.stopLocked(e)
	h.mu.Unlock()

	if done != nil {
		<-done
	}
	return nil
}

// Running reports whether the task's loop is active.
func (h *Handle) Running(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.tasks[name]
	return ok && e.cancel != nil
}

// Tasks returns the registered task names in registration order.
func (h *Handle) Tasks() []string {
	return append([]string(nil), h.order...)
}

// Trigger runs a task body once, synchronously, as if its timer had fired.
// It works before Start and fails with ErrStopped after Stop.
func (h *Handle) Trigger(ctx context.Context, name string) error {
	h.mu.Lock()
	e, ok := h.tasks[name]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}
	if h.stopped {
		h.mu.Unlock()
		return fmt.Errorf("trigger %q: %w", name, ErrStopped)
	}
	// Added under the lock so it cannot race a Wait that follows Stop.
	h.inFlight.Add(1)
	h.mu.Unlock()

	h.run(ctx, e.Task)
	return nil
}

// Wait blocks until every in-flight run has finished. Call it after Stop.
func (h *Handle) Wait() {
	h.inFlight.Wait()
}

func (h *Handle) startLocked(e *entry) {
	if e.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(h.base)
	e.cancel = cancel
	e.done = make(chan struct{})
	go h.loop(ctx, e.Task, e.done)
}

func (h *Handle) stopLocked(e *entry) chan struct{} {
	if e.cancel == nil {
		return nil
	}
	e.cancel()
	e.cancel = nil
	return e.done
}

func (h *Handle) loop(ctx context.Context, t Task, done chan struct{}) {
	defer close(done)

	// Runs outlive the loop: stopping the scheduler must not abort a sweep
	// halfway through a user.
	runCtx := context.WithoutCancel(ctx)
	for {
		next := t.Schedule.Next(h.now())
		timer := time.NewTimer(time.Until(next))
		h.log.Debug("next run scheduled", zap.String("task", t.Name), zap.Time("at", next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			h.inFlight.Add(1)
			go h.run(runCtx, t)
		}
	}
}

func (h *Handle) run(ctx context.Context, t Task) {
	defer h.inFlight.Done()
	start := h.now()
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("task panicked", zap.String("task", t.Name), zap.Any("panic", r))
		}
	}()

	h.log.Debug("task started", zap.String("task", t.Name))
	t.Run(ctx)
	h.log.Debug("task finished", zap.String("task", t.Name), zap.Duration("duration", h.now().Sub(start)))
}
