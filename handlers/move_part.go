// Package handlers implements the two task types that wrap a
// copy-partition state machine with additional replication-topology
// rewiring once the copy itself finishes: Move-Part (relocate ownership of
// a partition) and Create-Replica (add a new replica to a partition's
// chain).
package handlers

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/pgshardman/shardlord/catalog"
	"github.com/pgshardman/shardlord/clock"
	"github.com/pgshardman/shardlord/copypart"
	"github.com/pgshardman/shardlord/sched"
	"github.com/pgshardman/shardlord/sqlnode"
)

type movePartStage int

const (
	mpStageCopying movePartStage = iota
	mpStagePrev
	mpStageDst
	mpStageSyncPrev
	mpStageNext
	mpStageSyncDst
	mpStageMetadata
	mpStageDone
)

// MovePart relocates ownership of a partition from Src to Dst, then
// rewires up to two neighboring replication links (from Prev, the replica
// feeding into Src, and to Next, the replica Src used to feed) so they
// point at Dst instead. Neighbors are optional: Prev/Next are
// catalog.InvalidNode when this partition has no upstream or downstream
// replica.
type MovePart struct {
	*copypart.Task

	Prev catalog.NodeID // InvalidNode if none
	Next catalog.NodeID // InvalidNode if none

	PrevConn NodeExecer // nil if Prev == InvalidNode
	NextConn NodeExecer // nil if Next == InvalidNode
	// DstConn is the same connection copypart.Task already uses to reach
	// the destination node; it is reused here for the post-copy SQL.

	Metadata catalog.Store

	// SyncReplicas mirrors cfg.Configuration.Replication.SyncReplicas: when
	// false, neither neighbor is added to synchronous_standby_names, even
	// though the rewire itself still runs.
	SyncReplicas bool

	stage   movePartStage
	pending *asyncOp
	clock   clock.Clock
}

// NodeExecer is the subset of sqlnode.Client a topology-rewire step needs:
// just batch execution, since these steps only ever issue SQL, never poll.
type NodeExecer interface {
	EnsureConnected(ctx context.Context) error
	ExecBatch(ctx context.Context, batch string) error
}

type asyncOp struct {
	done chan struct{}
	err  error
}

// NewMovePart wraps a copy-partition task with the neighbor connections and
// metadata store needed to finish the move once the copy completes.
// syncReplicas is cfg.Configuration.Replication.SyncReplicas: when false,
// the sync-standby stages are skipped entirely.
func NewMovePart(cp *copypart.Task, c clock.Clock, prev, next catalog.NodeID, prevConn, nextConn NodeExecer, meta catalog.Store, syncReplicas bool) *MovePart {
	return &MovePart{
		Task:         cp,
		Prev:         prev,
		Next:         next,
		PrevConn:     prevConn,
		NextConn:     nextConn,
		Metadata:     meta,
		SyncReplicas: syncReplicas,
		clock:        c,
	}
}

func (m *MovePart) Step(ctx context.Context) sched.StepResult {
	if m.stage == mpStageCopying {
		res := m.Task.Step(ctx)
		if res.Hint != sched.Done {
			return res
		}
		if m.Task.Result != nil {
			return sched.StepResult{Hint: sched.Done}
		}
		m.stage = mpStagePrev
		return sched.StepResult{Hint: sched.WakeAt, WakeAt: m.clock.Now()}
	}

	if m.pending == nil {
		m.pending = &asyncOp{done: make(chan struct{})}
		go m.runRewireStage(ctx, m.pending)
		return sched.StepResult{Hint: sched.WaitOnSocket, Ready: m.pending.done}
	}

	p := m.pending
	m.pending = nil
	if p.err != nil {
		if errors.Is(p.err, sqlnode.ErrRetry) {
			log.Warn().Err(p.err).Str("stage", m.stage.String()).Msg("rewire stage failed, retrying after cmd_retry_naptime")
			return sched.StepResult{Hint: sched.WakeAt, WakeAt: m.clock.Now().Add(m.Task.RetryNaptime)}
		}
		m.Task.Result = p.err
		m.stage = mpStageDone
		return sched.StepResult{Hint: sched.Done}
	}

	m.stage++
	if m.stage == mpStageDone {
		return sched.StepResult{Hint: sched.Done}
	}
	return sched.StepResult{Hint: sched.WakeAt, WakeAt: m.clock.Now()}
}

func (m *movePartStage) String() string {
	switch *m {
	case mpStageCopying:
		return "copying"
	case mpStagePrev:
		return "rewire_prev"
	case mpStageDst:
		return "rewire_dst"
	case mpStageSyncPrev:
		return "sync_prev"
	case mpStageNext:
		return "rewire_next"
	case mpStageSyncDst:
		return "sync_dst"
	case mpStageMetadata:
		return "update_metadata"
	default:
		return "done"
	}
}

// Status implements sched.Reporter.
func (m *MovePart) Status() sched.Status {
	st := m.Task.Status()
	st.Kind = "move_part"
	if m.stage != mpStageCopying {
		st.Stage = m.stage.String()
	}
	return st
}

func (m *MovePart) runRewireStage(ctx context.Context, p *asyncOp) {
	defer close(p.done)

	part := m.Task.PartName
	src, dst := int32(m.Task.Src), int32(m.Task.Dst)

	switch m.stage {
	case mpStagePrev:
		if m.Prev == catalog.InvalidNode {
			return
		}
		lname := DataChannelName(part, int32(m.Prev), dst)
		p.err = m.PrevConn.ExecBatch(ctx, movePartPrevSQL(part, src, dst, lname))

	case mpStageDst:
		nextLname := ""
		if m.Next != catalog.InvalidNode {
			nextLname = DataChannelName(part, dst, int32(m.Next))
		}
		p.err = m.Task.DstConn.ExecBatch(ctx, movePartDstSQL(part, src, dst, nextLname))

	case mpStageSyncPrev:
		if m.Prev == catalog.InvalidNode || !m.SyncReplicas {
			return
		}
		lname := DataChannelName(part, int32(m.Prev), dst)
		p.err = m.PrevConn.ExecBatch(ctx, movePartSyncStandbySQL(lname))

	case mpStageNext:
		if m.Next == catalog.InvalidNode {
			return
		}
		p.err = m.NextConn.ExecBatch(ctx, movePartNextSQL(part, src, dst))

	case mpStageSyncDst:
		if m.Next == catalog.InvalidNode || !m.SyncReplicas {
			return
		}
		lname := DataChannelName(part, dst, int32(m.Next))
		p.err = m.Task.DstConn.ExecBatch(ctx, movePartSyncStandbySQL(lname))

	case mpStageMetadata:
		p.err = m.Metadata.Exec(ctx, movePartUpdateMetadataSQL(part, src, dst))
	}
}
