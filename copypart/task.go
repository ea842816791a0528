// Package copypart implements the copy-partition state machine: moving one
// table partition's data from a source node to a destination node using
// native Postgres logical replication, driven forward one non-blocking
// Step at a time by a sched.Executor.
package copypart

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/pgshardman/shardlord/catalog"
	"github.com/pgshardman/shardlord/clock"
	"github.com/pgshardman/shardlord/sched"
	"github.com/pgshardman/shardlord/sqlnode"
	"github.com/pgshardman/shardlord/telemetry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// metricsKind labels every copy-partition stage metric, whether the state
// machine is run standalone or embedded in a Move-Part/Create-Replica task.
const metricsKind = "copy_partition"

// NodeConn is what a Task needs from a connection to one worker node.
// *sqlnode.Client satisfies it; tests substitute a fake.
type NodeConn interface {
	EnsureConnected(ctx context.Context) error
	ExecBatch(ctx context.Context, batch string) error
	QueryRow(ctx context.Context, query string, args ...interface{}) sqlnode.RowScanner
}

// Stage is one point in the copy-partition lifecycle. Stages only ever
// advance forward; nothing in this package moves a Task backward.
type Stage int

const (
	StageStartTableSync Stage = iota
	StageStartFinalSync
	StageFinalize
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageStartTableSync:
		return "START_TABLESYNC"
	case StageStartFinalSync:
		return "START_FINALSYNC"
	case StageFinalize:
		return "FINALIZE"
	case StageDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// Task copies one partition from Src to Dst. It implements sched.Task, so
// an Executor can drive it directly, or a Move-Part/Create-Replica handler
// can embed it and run additional steps once it reaches StageDone.
type Task struct {
	PartName string
	Relation string
	Src      catalog.NodeID
	Dst      catalog.NodeID
	SrcConn  NodeConn
	DstConn  NodeConn

	// SrcConnString is the libpq connection string dst uses in its
	// CREATE SUBSCRIPTION statement; distinct from SrcConn, which is the
	// shardlord's own already-open connection to src.
	SrcConnString string

	Stage     Stage
	SyncPoint string
	Result    error

	RetryNaptime time.Duration
	PollInterval time.Duration

	clock   clock.Clock
	logname string
	log     zerolog.Logger

	pending *pendingOp
}

type pendingOp struct {
	done chan struct{}
	err  error
	next Stage
	lsn  string
}

// New builds a Task in its initial stage. srcConnString is used only
// to compose the CREATE SUBSCRIPTION statement dst issues against src; the
// live connections themselves are supplied separately since a handler may
// want to reuse them across several tasks touching the same node.
func New(c clock.Clock, part, relation string, src, dst catalog.NodeID, srcConn, dstConn NodeConn, srcConnString string, retryNaptime, pollInterval time.Duration) *Task {
	logname := LogName(part, int32(src), int32(dst))
	return &Task{
		PartName:      part,
		Relation:      relation,
		Src:           src,
		Dst:           dst,
		SrcConn:       srcConn,
		DstConn:       dstConn,
		SrcConnString: srcConnString,
		Stage:        StageStartTableSync,
		RetryNaptime: retryNaptime,
		PollInterval: pollInterval,
		clock:        c,
		logname:      logname,
		log:          log.With().Str("component", "copypart").Str("task", logname).Logger(),
	}
}

func (t *Task) Name() string { return t.logname }

// Err returns the task's terminal error, if any. Promoted to MovePart and
// CreateReplica through embedding, so the command dispatcher can read a
// handler's outcome without knowing which kind of task it ran.
func (t *Task) Err() error { return t.Result }

// Status implements sched.Reporter.
func (t *Task) Status() sched.Status {
	errStr := ""
	if t.Result != nil {
		errStr = t.Result.Error()
	}
	return sched.Status{Name: t.logname, Kind: "copy_partition", Stage: t.Stage.String(), Err: errStr}
}

// Step advances the copy by at most one stage transition. The heavy
// lifting for a stage runs in a background goroutine started the first
// time Step is called for that stage; Step returns WaitOnSocket and is
// called again once that goroutine finishes, at which point it applies
// the result and either retries, waits for a not-yet condition to clear,
// or advances.
func (t *Task) Step(ctx context.Context) sched.StepResult {
	if t.pending == nil {
		t.pending = &pendingOp{done: make(chan struct{})}
		go t.runStage(ctx, t.pending)
		return sched.StepResult{Hint: sched.WaitOnSocket, Ready: t.pending.done}
	}

	p := t.pending
	t.pending = nil

	switch {
	case errors.Is(p.err, sqlnode.ErrRetry):
		telemetry.StageRetriesTotal.With(metricsKind, t.Stage.String()).Inc()
		t.log.Warn().Err(p.err).Msg("stage failed, retrying after cmd_retry_naptime")
		return sched.StepResult{Hint: sched.WakeAt, WakeAt: t.clock.Now().Add(t.RetryNaptime)}

	case errors.Is(p.err, ErrNotYetReady), errors.Is(p.err, errUnexpectedRowCount):
		telemetry.StagePollsTotal.With(metricsKind, t.Stage.String()).Inc()
		return sched.StepResult{Hint: sched.WakeAt, WakeAt: t.clock.Now().Add(t.PollInterval)}

	case p.err != nil:
		t.Result = p.err
		t.Stage = StageDone
		t.log.Error().Err(p.err).Msg("copy-partition task failed")
		return sched.StepResult{Hint: sched.Done}

	default:
		if p.lsn != "" {
			t.SyncPoint = p.lsn
		}
		t.Stage = p.next
		telemetry.StageTransitionsTotal.With(metricsKind, t.Stage.String()).Inc()
		if t.Stage == StageDone {
			t.log.Info().Msg("copy-partition task complete")
			return sched.StepResult{Hint: sched.Done}
		}
		// Immediately schedule the next stage's work.
		return sched.StepResult{Hint: sched.WakeAt, WakeAt: t.clock.Now()}
	}
}

func (t *Task) runStage(ctx context.Context, p *pendingOp) {
	defer close(p.done)
	switch t.Stage {
	case StageStartTableSync:
		p.next, p.err = StageStartFinalSync, t.startTableSync(ctx)
	case StageStartFinalSync:
		p.next, p.lsn, p.err = t.startFinalSync(ctx)
	case StageFinalize:
		p.next, p.err = t.finalize(ctx)
	default:
		p.next, p.err = StageDone, nil
	}
}

// startTableSync checks that both nodes' metadata subscriptions report a
// received_lsn (a NULL value, or no row, means not yet ready); that
// position is not compared with the shardlord's current WAL position. It
// then idempotently (re)creates the publication, replication slot, and
// subscription that will copy the partition's rows.
func (t *Task) startTableSync(ctx context.Context) error {
	srcReady, err := t.subCaughtUp(ctx, t.SrcConn, MetaSubName)
	if err != nil {
		return err
	}
	if !srcReady {
		return ErrNotYetReady
	}
	dstReady, err := t.subCaughtUp(ctx, t.DstConn, MetaSubName)
	if err != nil {
		return err
	}
	if !dstReady {
		return ErrNotYetReady
	}

	if err := t.DstConn.ExecBatch(ctx, dstDropSubSQL(t.logname)); err != nil {
		return err
	}
	if err := t.SrcConn.ExecBatch(ctx, srcCreatePubAndSlotSQL(t.logname, t.PartName)); err != nil {
		return err
	}
	return t.DstConn.ExecBatch(ctx, dstCreateTableAndSubSQL(t.logname, t.PartName, t.Relation, t.SrcConnString))
}

func (t *Task) subCaughtUp(ctx context.Context, c NodeConn, subname string) (bool, error) {
	if err := c.EnsureConnected(ctx); err != nil {
		return false, err
	}
	var lsn sql.NullString
	if err := c.QueryRow(ctx, receivedLSNSQL(subname)).Scan(&lsn); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, errUnexpectedRowCount
		}
		return false, errors.Join(sqlnode.ErrRetry, err)
	}
	return lsn.Valid, nil
}

// startFinalSync waits for the subscription's initial tablesync to reach
// the 'r' (ready) state, then locks the source table read-only and
// captures the current WAL position as the point the destination must
// catch up to before ownership can move.
func (t *Task) startFinalSync(ctx context.Context) (Stage, string, error) {
	if err := t.DstConn.EnsureConnected(ctx); err != nil {
		return StageStartFinalSync, "", err
	}
	var state sql.NullString
	err := t.DstConn.QueryRow(ctx, subStateSQL(t.logname, t.PartName)).Scan(&state)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return StageStartFinalSync, "", ErrNotYetReady
	case err != nil:
		return StageStartFinalSync, "", errors.Join(sqlnode.ErrRetry, err)
	case !state.Valid || state.String != "r":
		return StageStartFinalSync, "", ErrNotYetReady
	}

	if err := t.SrcConn.ExecBatch(ctx, setReadOnlySQL(t.PartName, true)); err != nil {
		return StageStartFinalSync, "", err
	}

	var lsn string
	if err := t.SrcConn.QueryRow(ctx, currentWALLSNSQL).Scan(&lsn); err != nil {
		return StageStartFinalSync, "", errors.Join(sqlnode.ErrRetry, err)
	}

	return StageFinalize, lsn, nil
}

// finalize waits for the destination to have received everything up to
// SyncPoint, then drops the now-unneeded copy publication/slot/subscription
// on both sides.
func (t *Task) finalize(ctx context.Context) (Stage, error) {
	if err := t.DstConn.EnsureConnected(ctx); err != nil {
		return StageFinalize, err
	}
	var received sql.NullString
	if err := t.DstConn.QueryRow(ctx, receivedLSNSQL(t.logname)).Scan(&received); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return StageFinalize, ErrNotYetReady
		}
		return StageFinalize, errors.Join(sqlnode.ErrRetry, err)
	}
	if !received.Valid {
		return StageFinalize, ErrNotYetReady
	}

	caughtUp, err := lsnAtLeast(received.String, t.SyncPoint)
	if err != nil {
		return StageFinalize, err
	}
	if !caughtUp {
		return StageFinalize, ErrNotYetReady
	}

	if err := t.DstConn.ExecBatch(ctx, dropCopyChannelSQL(t.logname)); err != nil {
		return StageFinalize, err
	}
	if err := t.SrcConn.ExecBatch(ctx, "DROP PUBLICATION IF EXISTS "+t.logname+";"+dropSlotIfExistsSQL(t.logname)); err != nil {
		return StageFinalize, err
	}
	return StageDone, nil
}
