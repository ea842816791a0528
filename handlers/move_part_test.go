package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pgshardman/shardlord/catalog"
	"github.com/pgshardman/shardlord/clock"
	"github.com/pgshardman/shardlord/copypart"
	"github.com/pgshardman/shardlord/sched"
	"github.com/pgshardman/shardlord/sqlnode"
)

func waitForHandler(t *testing.T, task sched.Task, fc *clock.Fake, maxSteps int) sched.StepResult {
	t.Helper()
	ctx := context.Background()
	var res sched.StepResult
	for i := 0; i < maxSteps; i++ {
		res = task.Step(ctx)
		switch res.Hint {
		case sched.WaitOnSocket:
			<-res.Ready
		case sched.WakeAt:
			fc.Advance(res.WakeAt.Sub(fc.Now()) + time.Millisecond)
		default:
			return res
		}
	}
	t.Fatalf("handler did not settle within %d steps", maxSteps)
	return res
}

func alreadyCopiedTask(fc *clock.Fake, src, dst *fakeExecConn) *copypart.Task {
	cp := copypart.New(fc, "p1", "shardman.p1", catalog.NodeID(1), catalog.NodeID(2), src, dst, "host=src", time.Second, time.Second)
	cp.Stage = copypart.StageDone
	cp.Result = nil
	return cp
}

func TestMovePartRewiresBothNeighborsInOrder(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	src := &fakeExecConn{}
	dst := &fakeExecConn{}
	prev := &fakeExecConn{}
	next := &fakeExecConn{}
	meta := catalog.NewMemoryStore()

	cp := alreadyCopiedTask(fc, src, dst)
	mp := NewMovePart(cp, fc, catalog.NodeID(9), catalog.NodeID(10), prev, next, meta, true)

	res := waitForHandler(t, mp, fc, 50)
	if res.Hint != sched.Done {
		t.Fatalf("expected Done, got %v (err=%v)", res.Hint, mp.Task.Result)
	}
	if mp.Task.Result != nil {
		t.Fatalf("unexpected task error: %v", mp.Task.Result)
	}

	if len(prev.Calls()) != 2 {
		t.Fatalf("expected 2 calls on prev (part_moved_prev+slot, sync_standby), got %v", prev.Calls())
	}
	if len(dst.Calls()) != 2 {
		t.Fatalf("expected 2 calls on dst (part_moved_dst+slot, sync_standby), got %v", dst.Calls())
	}
	if len(next.Calls()) != 1 {
		t.Fatalf("expected 1 call on next (part_moved_next), got %v", next.Calls())
	}
	if len(meta.ExecLog()) != 1 {
		t.Fatalf("expected exactly one metadata update, got %v", meta.ExecLog())
	}
}

func TestMovePartSkipsAbsentNeighbors(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	src := &fakeExecConn{}
	dst := &fakeExecConn{}
	meta := catalog.NewMemoryStore()

	cp := alreadyCopiedTask(fc, src, dst)
	mp := NewMovePart(cp, fc, catalog.InvalidNode, catalog.InvalidNode, nil, nil, meta, true)

	res := waitForHandler(t, mp, fc, 50)
	if res.Hint != sched.Done {
		t.Fatalf("expected Done, got %v", res.Hint)
	}
	// Only the dst part_moved_dst call (no next slot) should have run on dst.
	if len(dst.Calls()) != 1 {
		t.Fatalf("expected 1 call on dst, got %v", dst.Calls())
	}
	if len(meta.ExecLog()) != 1 {
		t.Fatalf("expected metadata update to still run, got %v", meta.ExecLog())
	}
}

func TestMovePartPropagatesCopyFailure(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	src := &fakeExecConn{}
	dst := &fakeExecConn{}
	meta := catalog.NewMemoryStore()

	cp := alreadyCopiedTask(fc, src, dst)
	cp.Result = errBoom

	mp := NewMovePart(cp, fc, catalog.InvalidNode, catalog.InvalidNode, nil, nil, meta, true)

	res := waitForHandler(t, mp, fc, 10)
	if res.Hint != sched.Done {
		t.Fatalf("expected Done, got %v", res.Hint)
	}
	if len(meta.ExecLog()) != 0 {
		t.Fatalf("metadata should never be updated after a copy failure, got %v", meta.ExecLog())
	}
}

func TestMovePartSkipsSyncStandbyWhenSyncReplicasDisabled(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	src := &fakeExecConn{}
	dst := &fakeExecConn{}
	prev := &fakeExecConn{}
	next := &fakeExecConn{}
	meta := catalog.NewMemoryStore()

	cp := alreadyCopiedTask(fc, src, dst)
	mp := NewMovePart(cp, fc, catalog.NodeID(9), catalog.NodeID(10), prev, next, meta, false)

	res := waitForHandler(t, mp, fc, 50)
	if res.Hint != sched.Done {
		t.Fatalf("expected Done, got %v (err=%v)", res.Hint, mp.Task.Result)
	}
	if len(prev.Calls()) != 1 {
		t.Fatalf("expected only the rewire call on prev with sync_replicas disabled, got %v", prev.Calls())
	}
	if len(dst.Calls()) != 1 {
		t.Fatalf("expected only the rewire call on dst with sync_replicas disabled, got %v", dst.Calls())
	}
}

func TestMovePartRetriesOnTransientRewireFailure(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	src := &fakeExecConn{}
	dst := &fakeExecConn{}
	prev := &fakeExecConn{err: errors.Join(sqlnode.ErrRetry, errBoom), succeedAfter: 2}
	next := &fakeExecConn{}
	meta := catalog.NewMemoryStore()

	cp := alreadyCopiedTask(fc, src, dst)
	mp := NewMovePart(cp, fc, catalog.NodeID(9), catalog.NodeID(10), prev, next, meta, true)

	res := waitForHandler(t, mp, fc, 50)
	if res.Hint != sched.Done {
		t.Fatalf("expected Done, got %v (err=%v)", res.Hint, mp.Task.Result)
	}
	if mp.Task.Result != nil {
		t.Fatalf("expected the task to recover from a transient rewire failure, got %v", mp.Task.Result)
	}
	// rewire_prev fails once and is retried, then sync_prev runs.
	if len(prev.Calls()) != 3 {
		t.Fatalf("expected rewire_prev to be retried once before succeeding, then sync_prev, got %v", prev.Calls())
	}
}

var errBoom = &boomError{}

type boomError struct{}

func (*boomError) Error() string { return "boom" }
