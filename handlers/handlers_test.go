package handlers

import (
	"context"
	"errors"
	"sync"

	"github.com/pgshardman/shardlord/sqlnode"
)

// fakeExecConn records every ExecBatch call it receives, for assertions on
// call order and content. It satisfies both copypart.NodeConn and
// handlers.NodeExecer since it also implements QueryRow (unused by
// handler-stage tests, which never touch the underlying copy machinery).
type fakeExecConn struct {
	mu    sync.Mutex
	calls []string
	err   error

	// succeedAfter, if > 0, makes ExecBatch return err only while fewer
	// than succeedAfter calls have been recorded, then nil from that call
	// onward — simulating a connection that recovers after N transient
	// failures. Zero means err (if set) is returned on every call.
	succeedAfter int
}

func (f *fakeExecConn) EnsureConnected(context.Context) error { return nil }

func (f *fakeExecConn) ExecBatch(_ context.Context, batch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, batch)
	if f.err != nil && (f.succeedAfter == 0 || len(f.calls) < f.succeedAfter) {
		return f.err
	}
	return nil
}

func (f *fakeExecConn) QueryRow(context.Context, string, ...interface{}) sqlnode.RowScanner {
	return errRow{errors.New("unexpected QueryRow call in handler test")}
}

func (f *fakeExecConn) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

type errRow struct{ err error }

func (r errRow) Scan(...interface{}) error { return r.err }
