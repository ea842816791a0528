package telemetry

import (
	"sync"
	"time"

	"github.com/pgshardman/shardlord/sched"
)

// ExecutorSnapshotter is what the collector needs from the running
// executor: a point-in-time view of every task still in flight.
type ExecutorSnapshotter interface {
	Snapshot() []sched.Status
}

// MetricsCollector periodically polls the executor and updates the
// TasksInFlight gauge, since that count changes only as a side effect of
// task dispatch and has no natural place to push from.
type MetricsCollector struct {
	executor ExecutorSnapshotter
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
	seen     map[string]struct{} // kinds reported so far, set back to 0 once absent
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector(executor ExecutorSnapshotter, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		executor: executor,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic collection.
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop stops the collector.
func (mc *MetricsCollector) Stop() {
	close(mc.stopCh)
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collect()

	for {
		select {
		case <-ticker.C:
			mc.collect()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	if mc.executor == nil {
		return
	}

	byKind := make(map[string]int)
	for kind := range mc.seen {
		byKind[kind] = 0
	}
	for _, st := range mc.executor.Snapshot() {
		byKind[st.Kind]++
	}
	if mc.seen == nil {
		mc.seen = make(map[string]struct{})
	}
	for kind, count := range byKind {
		mc.seen[kind] = struct{}{}
		TasksInFlight.With(kind).Set(float64(count))
	}
}
