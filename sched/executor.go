// Package sched implements the readiness multiplexer and task executor: a
// single-threaded cooperative loop that holds every in-flight task, wakes
// each one at its requested time or when its socket becomes ready, and
// exits once every task is Done or the process is asked to stop.
//
// Go exposes no user-visible epoll; database/sql calls block the calling
// goroutine and never surface a raw file descriptor. Rather than translate
// the original's epoll_wait syscall literally, each socket-waiting task
// runs its blocking remote call in a background goroutine and signals
// completion on a channel — that channel is this port's "socket". A tiny
// per-task goroutine merges each such channel into one fan-in channel the
// executor's hot loop selects on alongside a single timer, reproducing
// "one syscall, either fires" with idiomatic Go concurrency.
package sched

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pgshardman/shardlord/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type entry struct {
	task   Task
	wakeAt time.Time
	index  int // heap index, maintained by container/heap
}

type wakeHeap []*entry

func (h wakeHeap) Len() int            { return len(h) }
func (h wakeHeap) Less(i, j int) bool  { return h[i].wakeAt.Before(h[j].wakeAt) }
func (h wakeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *wakeHeap) Push(x interface{}) { e := x.(*entry); e.index = len(*h); *h = append(*h, e) }
func (h *wakeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Executor drives an arena of tasks to completion. Tasks are addressed by
// a stable index rather than a pointer the multiplexer also holds, so a
// task and the executor can each hold a reference to the other without a
// reference cycle a garbage collector would need to reason about specially
// (Go's collector handles cycles fine, but stable indices keep task
// identity meaningful across the fan-in channel, which carries indices,
// not pointers).
type Executor struct {
	clock clock.Clock
	log   zerolog.Logger

	waking        wakeHeap        // tasks currently scheduled by time
	byName        map[string]bool // names of tasks in flight; Add does not check it, so a duplicate name is not rejected
	watchingCount int             // tasks currently parked on a socket wait

	doneCh chan int // fan-in: index of a task whose socket became ready

	// tasksMu guards tasks, which admin's introspection surface reads
	// concurrently with Run's single dispatch goroutine.
	tasksMu sync.Mutex
	tasks   map[string]Task
}

// New returns an Executor with no tasks. Add tasks with Add before calling
// Run.
func New(c clock.Clock) *Executor {
	return &Executor{
		clock:  c,
		log:    log.With().Str("component", "sched").Logger(),
		byName: make(map[string]bool),
		doneCh: make(chan int, 16),
		tasks:  make(map[string]Task),
	}
}

// Add registers a task with the executor. It must not be called once Run
// has started; the executor's task set is fixed at loop-start, matching
// the original's fixed-size task array sized once per invocation batch.
func (e *Executor) Add(t Task) {
	e.byName[t.Name()] = true
	e.tasksMu.Lock()
	e.tasks[t.Name()] = t
	e.tasksMu.Unlock()
	heap.Push(&e.waking, &entry{task: t, wakeAt: e.clock.Now()})
}

// Pending reports how many tasks have not yet reached Done.
func (e *Executor) Pending() int { return e.waking.Len() + e.watchingCount }

// Snapshot reports the current status of every task still in flight. Safe
// to call from any goroutine while Run is active.
func (e *Executor) Snapshot() []Status {
	e.tasksMu.Lock()
	defer e.tasksMu.Unlock()

	out := make([]Status, 0, len(e.tasks))
	for name, t := range e.tasks {
		st := Status{Name: name, Kind: fmt.Sprintf("%T", t)}
		if r, ok := t.(Reporter); ok {
			reported := r.Status()
			st.Stage = reported.Stage
			st.Err = reported.Err
			if reported.Kind != "" {
				st.Kind = reported.Kind
			}
		}
		out = append(out, st)
	}
	return out
}

// Run drives every registered task until each reaches Done or ctx is
// cancelled (SIGTERM/SIGUSR1 cancel ctx upstream via signalctl). It
// mirrors exec_tasks: compute the earliest deadline, wait for either that
// deadline or a socket event, dispatch every task whose time has come,
// interpret the resulting hint, and repeat.
func (e *Executor) Run(ctx context.Context) {
	watchers := make(map[int]Task) // index -> task, for socket-waiting tasks
	nextIndex := 0
	indexOf := make(map[Task]int)

	assign := func(t Task) int {
		if idx, ok := indexOf[t]; ok {
			return idx
		}
		idx := nextIndex
		nextIndex++
		indexOf[t] = idx
		return idx
	}

	// Seed indices for tasks already queued by Add.
	for _, en := range e.waking {
		assign(en.task)
	}

	for e.waking.Len() > 0 || len(watchers) > 0 {
		select {
		case <-ctx.Done():
			e.log.Info().Msg("executor stopping: context cancelled")
			return
		default:
		}

		var timer clock.Timer
		var timerC <-chan time.Time
		if e.waking.Len() > 0 {
			d := e.waking[0].wakeAt.Sub(e.clock.Now())
			if d < 0 {
				d = 0
			}
			timer = e.clock.NewTimer(d)
			timerC = timer.C()
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			e.log.Info().Msg("executor stopping: context cancelled")
			return

		case idx := <-e.doneCh:
			if timer != nil {
				timer.Stop()
			}
			t := watchers[idx]
			delete(watchers, idx)
			e.watchingCount--
			e.dispatch(ctx, t, assign, watchers)

		case <-timerC:
			now := e.clock.Now()
			for e.waking.Len() > 0 && !e.waking[0].wakeAt.After(now) {
				en := heap.Pop(&e.waking).(*entry)
				e.dispatch(ctx, en.task, assign, watchers)
			}
		}
	}

	e.log.Info().Msg("executor finished: no tasks remaining")
}

func (e *Executor) dispatch(ctx context.Context, t Task, assign func(Task) int, watchers map[int]Task) {
	res := t.Step(ctx)
	switch res.Hint {
	case Done:
		delete(e.byName, t.Name())
		e.tasksMu.Lock()
		delete(e.tasks, t.Name())
		e.tasksMu.Unlock()
		e.log.Debug().Str("task", t.Name()).Msg("task done")

	case WakeAt:
		heap.Push(&e.waking, &entry{task: t, wakeAt: res.WakeAt})

	case WaitOnSocket:
		idx := assign(t)
		watchers[idx] = t
		e.watchingCount++
		go func() {
			<-res.Ready
			select {
			case e.doneCh <- idx:
			case <-ctx.Done():
			}
		}()
	}
}
