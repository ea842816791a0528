package main

import (
	"context"
	"time"

	"github.com/pgshardman/shardlord/catalog"
	"github.com/pgshardman/shardlord/sched"
	"github.com/pgshardman/shardlord/telemetry"
	"github.com/rs/zerolog/log"
)

// errorer is satisfied by copypart.Task and, through embedding, by
// handlers.MovePart and handlers.CreateReplica.
type errorer interface {
	Err() error
}

// commandTask wraps one dispatched sched.Task so that reaching Done also
// records the command's terminal status back into the catalog, matching
// pg_shardman.c's shardlord_main writing the command's result into
// shardman.cmd_log once its handler function returns.
type commandTask struct {
	sched.Task
	cmdID     int64
	store     catalog.Store
	startedAt time.Time
}

// newCommandTask wraps t, recording startedAt so the task's overall
// duration can be reported once it reaches Done.
func newCommandTask(t sched.Task, cmdID int64, store catalog.Store, startedAt time.Time) *commandTask {
	return &commandTask{Task: t, cmdID: cmdID, store: store, startedAt: startedAt}
}

func (c *commandTask) kind() string {
	if r, ok := c.Task.(sched.Reporter); ok {
		if k := r.Status().Kind; k != "" {
			return k
		}
	}
	return "unknown"
}

func (c *commandTask) Step(ctx context.Context) sched.StepResult {
	res := c.Task.Step(ctx)
	if res.Hint != sched.Done {
		return res
	}

	kind := c.kind()
	status, detail, result := "success", "", "ok"
	if e, ok := c.Task.(errorer); ok {
		if err := e.Err(); err != nil {
			status, detail, result = "failed", err.Error(), "failed"
		}
	}
	if err := c.store.SetCommandStatus(ctx, c.cmdID, status, detail); err != nil {
		log.Error().Err(err).Int64("command_id", c.cmdID).Msg("failed to record command status")
	}

	telemetry.TasksCompletedTotal.With(kind, result).Inc()
	if !c.startedAt.IsZero() {
		telemetry.TaskDurationSeconds.With(kind).Observe(time.Since(c.startedAt).Seconds())
	}
	return res
}
