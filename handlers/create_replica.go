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

type createReplicaStage int

const (
	crStageCopying createReplicaStage = iota
	crStageDropCPSub
	crStageCreateDataPub
	crStageCreateDataSub
	crStageSyncStandby
	crStageMetadata
	crStageDone
)

// CreateReplica adds a new replica of a partition on Dst, fed by Src (the
// current tail of the partition's replica chain). Once the initial copy
// finishes it swaps the transient copy channel for a steady-state data
// channel and, when SyncReplicas is set, adds the new replica to Src's
// synchronous standbys and turns read-only mode off for the partition on
// Src.
type CreateReplica struct {
	*copypart.Task

	Metadata catalog.Store

	// SyncReplicas mirrors cfg.Configuration.Replication.SyncReplicas: when
	// false, the new replica is never added to synchronous_standby_names.
	SyncReplicas bool

	stage   createReplicaStage
	pending *asyncOp
	clock   clock.Clock
}

// NewCreateReplica wraps cp with the metadata store needed to update
// topology once the copy completes. syncReplicas is
// cfg.Configuration.Replication.SyncReplicas: when false, crStageSyncStandby
// is skipped.
func NewCreateReplica(cp *copypart.Task, c clock.Clock, meta catalog.Store, syncReplicas bool) *CreateReplica {
	return &CreateReplica{Task: cp, Metadata: meta, SyncReplicas: syncReplicas, clock: c}
}

func (r *CreateReplica) Step(ctx context.Context) sched.StepResult {
	if r.stage == crStageCopying {
		res := r.Task.Step(ctx)
		if res.Hint != sched.Done {
			return res
		}
		if r.Task.Result != nil {
			return sched.StepResult{Hint: sched.Done}
		}
		r.stage = crStageDropCPSub
		return sched.StepResult{Hint: sched.WakeAt, WakeAt: r.clock.Now()}
	}

	if r.pending == nil {
		r.pending = &asyncOp{done: make(chan struct{})}
		go r.runStage(ctx, r.pending)
		return sched.StepResult{Hint: sched.WaitOnSocket, Ready: r.pending.done}
	}

	p := r.pending
	r.pending = nil
	if p.err != nil {
		if errors.Is(p.err, sqlnode.ErrRetry) {
			log.Warn().Err(p.err).Str("stage", r.stage.String()).Msg("stage failed, retrying after cmd_retry_naptime")
			return sched.StepResult{Hint: sched.WakeAt, WakeAt: r.clock.Now().Add(r.Task.RetryNaptime)}
		}
		r.Task.Result = p.err
		r.stage = crStageDone
		return sched.StepResult{Hint: sched.Done}
	}

	r.stage++
	if r.stage == crStageDone {
		return sched.StepResult{Hint: sched.Done}
	}
	return sched.StepResult{Hint: sched.WakeAt, WakeAt: r.clock.Now()}
}

func (s *createReplicaStage) String() string {
	switch *s {
	case crStageCopying:
		return "copying"
	case crStageDropCPSub:
		return "drop_cp_sub"
	case crStageCreateDataPub:
		return "create_data_pub"
	case crStageCreateDataSub:
		return "create_data_sub"
	case crStageSyncStandby:
		return "sync_standby"
	case crStageMetadata:
		return "update_metadata"
	default:
		return "done"
	}
}

// Status implements sched.Reporter.
func (r *CreateReplica) Status() sched.Status {
	st := r.Task.Status()
	st.Kind = "create_replica"
	if r.stage != crStageCopying {
		st.Stage = r.stage.String()
	}
	return st
}

func (r *CreateReplica) runStage(ctx context.Context, p *asyncOp) {
	defer close(p.done)

	part := r.Task.PartName
	src, dst := int32(r.Task.Src), int32(r.Task.Dst)
	lname := DataChannelName(part, src, dst)

	switch r.stage {
	case crStageDropCPSub:
		p.err = r.Task.DstConn.ExecBatch(ctx, dropCPSubSQL(part, src, dst))

	case crStageCreateDataPub:
		p.err = r.Task.SrcConn.ExecBatch(ctx, createDataPubSQL(part, src, dst, lname))

	case crStageCreateDataSub:
		p.err = r.Task.DstConn.ExecBatch(ctx, createDataSubSQL(part, src, dst))

	case crStageSyncStandby:
		if !r.SyncReplicas {
			return
		}
		p.err = r.Task.SrcConn.ExecBatch(ctx, createReplicaSyncStandbySQL(lname, part))

	case crStageMetadata:
		p.err = r.Metadata.Exec(ctx, createReplicaUpdateMetadataSQL(part, dst, src, r.Task.Relation))
	}
}
