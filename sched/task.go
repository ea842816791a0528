package sched

import (
	"context"
	"time"
)

// Hint tells the executor what to do with a task after a Step call
// returns, mirroring the original's exec_hint.
type Hint int

const (
	// WakeAt means re-invoke Step no earlier than the returned time.
	WakeAt Hint = iota
	// WaitOnSocket means re-invoke Step only after Ready fires.
	WaitOnSocket
	// Done means the task has reached a terminal state and should be
	// removed from the executor.
	Done
)

// StepResult is what a Task returns from one step of work. A step must
// never block: if the task needs to wait on a remote call, it starts that
// call in a background goroutine and returns WaitOnSocket immediately,
// closing or sending on Ready when the call completes.
type StepResult struct {
	Hint   Hint
	WakeAt time.Time
	Ready  <-chan struct{}
}

// Status is a point-in-time snapshot of a task's progress, exposed to the
// admin introspection surface. A Task that has nothing more specific to
// report than its name can leave Kind/Stage/Err empty.
type Status struct {
	Name  string
	Kind  string
	Stage string
	Err   string
}

// Reporter is implemented by tasks that can describe their own progress
// beyond the bare sched.Task contract. copypart.Task and the handlers
// built on it implement this so admin can list in-flight work without the
// executor knowing anything about copy-partition or move-part semantics.
type Reporter interface {
	Status() Status
}

// Task is one unit of cooperatively scheduled work: a copy-partition
// state machine, or a Move-Part/Create-Replica handler wrapping one.
type Task interface {
	// Step advances the task by exactly one non-blocking increment of
	// work and reports what the executor should do next.
	Step(ctx context.Context) StepResult
	// Name identifies the task for logging (the copy_<part>_<src>_<dst>
	// or equivalent log name).
	Name() string
}
