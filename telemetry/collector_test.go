package telemetry

import (
	"testing"
	"time"

	"github.com/pgshardman/shardlord/sched"
)

type fakeSnapshotter struct {
	statuses []sched.Status
}

func (f *fakeSnapshotter) Snapshot() []sched.Status { return f.statuses }

func TestMetricsCollectorCollectsWithoutPanickingWhenNoopByDefault(t *testing.T) {
	snap := &fakeSnapshotter{statuses: []sched.Status{
		{Name: "copy_p1_1_2", Kind: "copy_partition"},
		{Name: "copy_p2_1_3", Kind: "copy_partition"},
		{Name: "move_part_p4", Kind: "move_part"},
	}}

	mc := NewMetricsCollector(snap, time.Millisecond)
	mc.collect()
}

func TestMetricsCollectorStartStop(t *testing.T) {
	snap := &fakeSnapshotter{}
	mc := NewMetricsCollector(snap, time.Millisecond)
	mc.Start()
	time.Sleep(5 * time.Millisecond)
	mc.Stop()
}

func TestMetricsCollectorHandlesNilExecutor(t *testing.T) {
	mc := &MetricsCollector{interval: time.Millisecond, stopCh: make(chan struct{})}
	mc.collect()
}
