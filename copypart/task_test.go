package copypart

import (
	"context"
	"testing"
	"time"

	"github.com/pgshardman/shardlord/catalog"
	"github.com/pgshardman/shardlord/clock"
	"github.com/pgshardman/shardlord/sched"
	"github.com/pgshardman/shardlord/sqlnode"
)

// fakeRow implements sqlnode.RowScanner by copying pre-scripted values into
// Scan's destination pointers, or returning a scripted error.
type fakeRow struct {
	values []interface{}
	err    error
}

func (r fakeRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch dp := d.(type) {
		case *string:
			*dp = r.values[i].(string)
		case interface{ Scan(interface{}) error }:
			if err := dp.Scan(r.values[i]); err != nil {
				return err
			}
		default:
			panic("fakeRow: unsupported dest type in test")
		}
	}
	return nil
}

type call struct {
	isQuery bool
	row     fakeRow
	execErr error
}

// fakeConn is a scripted NodeConn: each call to QueryRow or ExecBatch
// consumes the next entry in script, in order.
type fakeConn struct {
	t      *testing.T
	script []call
	idx    int
}

func (f *fakeConn) EnsureConnected(context.Context) error { return nil }

func (f *fakeConn) ExecBatch(_ context.Context, batch string) error {
	if f.idx >= len(f.script) {
		f.t.Fatalf("unexpected ExecBatch call (batch=%q), script exhausted", batch)
	}
	c := f.script[f.idx]
	f.idx++
	if c.isQuery {
		f.t.Fatalf("expected QueryRow at step %d, got ExecBatch(%q)", f.idx-1, batch)
	}
	return c.execErr
}

func (f *fakeConn) QueryRow(_ context.Context, query string, _ ...interface{}) sqlnode.RowScanner {
	if f.idx >= len(f.script) {
		f.t.Fatalf("unexpected QueryRow call (query=%q), script exhausted", query)
	}
	c := f.script[f.idx]
	f.idx++
	if !c.isQuery {
		f.t.Fatalf("expected ExecBatch at step %d, got QueryRow(%q)", f.idx-1, query)
	}
	return c.row
}

func waitForResult(t *testing.T, task *Task, fc *clock.Fake, maxSteps int) sched.StepResult {
	t.Helper()
	ctx := context.Background()
	var res sched.StepResult
	for i := 0; i < maxSteps; i++ {
		res = task.Step(ctx)
		if res.Hint == sched.WaitOnSocket {
			<-res.Ready
			continue
		}
		if res.Hint == sched.WakeAt {
			fc.Advance(res.WakeAt.Sub(fc.Now()) + time.Millisecond)
			continue
		}
		return res
	}
	t.Fatalf("task did not settle within %d steps", maxSteps)
	return res
}

func TestCopyPartitionHappyPath(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))

	src := &fakeConn{t: t, script: []call{
		{isQuery: true, row: fakeRow{values: []interface{}{"16/50"}}},           // meta sub caught up
		{isQuery: false, execErr: nil},                                         // create pub+slot
		{isQuery: false, execErr: nil},                                         // set readonly
		{isQuery: true, row: fakeRow{values: []interface{}{"16/100"}}},         // current wal lsn
		{isQuery: false, execErr: nil},                                         // drop slot
	}}
	dst := &fakeConn{t: t, script: []call{
		{isQuery: true, row: fakeRow{values: []interface{}{"16/50"}}}, // meta sub caught up
		{isQuery: false, execErr: nil},                                // drop sub if exists
		{isQuery: false, execErr: nil},                                // create table + sub
		{isQuery: true, row: fakeRow{values: []interface{}{"r"}}},     // subrelstate ready
		{isQuery: true, row: fakeRow{values: []interface{}{"16/100"}}}, // received_lsn caught up
		{isQuery: false, execErr: nil},                                // drop copy channel
	}}

	task := New(fc, "p1", "shardman.p1", catalog.NodeID(1), catalog.NodeID(2), src, dst, "host=src", time.Second, time.Second)

	res := waitForResult(t, task, fc, 50)
	if res.Hint != sched.Done {
		t.Fatalf("expected Done, got hint=%v result=%v", res.Hint, task.Result)
	}
	if task.Stage != StageDone {
		t.Fatalf("expected StageDone, got %v", task.Stage)
	}
	if task.Result != nil {
		t.Fatalf("expected no error, got %v", task.Result)
	}
	if task.SyncPoint != "16/100" {
		t.Fatalf("expected sync point 16/100, got %q", task.SyncPoint)
	}
}

func TestCopyPartitionRetriesWhenMetaSubNotCaughtUp(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))

	src := &fakeConn{t: t, script: []call{
		{isQuery: true, row: fakeRow{values: []interface{}{nil}}}, // NULL received_lsn: not caught up
	}}
	dst := &fakeConn{t: t}

	task := New(fc, "p1", "shardman.p1", catalog.NodeID(1), catalog.NodeID(2), src, dst, "host=src", time.Second, 2*time.Second)

	ctx := context.Background()
	res := task.Step(ctx)
	if res.Hint != sched.WaitOnSocket {
		t.Fatalf("expected WaitOnSocket, got %v", res.Hint)
	}
	<-res.Ready

	res = task.Step(ctx)
	if res.Hint != sched.WakeAt {
		t.Fatalf("expected WakeAt retry, got %v", res.Hint)
	}
	if res.WakeAt.Sub(fc.Now()) != 2*time.Second {
		t.Fatalf("expected poll_interval wake, got delay %v", res.WakeAt.Sub(fc.Now()))
	}
	if task.Stage != StageStartTableSync {
		t.Fatalf("stage should not have advanced, got %v", task.Stage)
	}
}
