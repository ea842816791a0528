package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pgshardman/shardlord/catalog"
	"github.com/pgshardman/shardlord/cfg"
	"github.com/pgshardman/shardlord/clock"
	"github.com/pgshardman/shardlord/copypart"
	"github.com/pgshardman/shardlord/handlers"
	"github.com/pgshardman/shardlord/sched"
)

// buildTask decomposes one shardman.cmd_log row into the sched.Task that
// carries it out. The command-queue front-end (not built here — see
// spec's Non-goals) is responsible for resolving a partition's current
// topology into these explicit arguments before enqueueing.
func buildTask(ctx context.Context, store catalog.Store, pool *nodePool, c clock.Clock, cmd catalog.Command) (sched.Task, error) {
	switch cmd.Type {
	case "move_part":
		return buildMovePart(ctx, store, pool, c, cmd)
	case "create_replica":
		return buildCreateReplica(ctx, store, pool, c, cmd)
	default:
		return nil, fmt.Errorf("unknown command type %q", cmd.Type)
	}
}

func buildMovePart(ctx context.Context, store catalog.Store, pool *nodePool, c clock.Clock, cmd catalog.Command) (sched.Task, error) {
	part, relation := cmd.Args["part"], cmd.Args["relation"]
	if part == "" || relation == "" {
		return nil, fmt.Errorf("move_part: part and relation are required")
	}

	src, err := parseNodeID(cmd.Args["src"])
	if err != nil {
		return nil, fmt.Errorf("move_part: src: %w", err)
	}
	dst, err := parseNodeID(cmd.Args["dst"])
	if err != nil {
		return nil, fmt.Errorf("move_part: dst: %w", err)
	}
	prev, err := parseOptionalNodeID(cmd.Args["prev"])
	if err != nil {
		return nil, fmt.Errorf("move_part: prev: %w", err)
	}
	next, err := parseOptionalNodeID(cmd.Args["next"])
	if err != nil {
		return nil, fmt.Errorf("move_part: next: %w", err)
	}

	if err := catalog.CheckAdmission(ctx, store, part, src, dst); err != nil {
		return nil, fmt.Errorf("move_part: %w", err)
	}

	srcNode, err := store.Node(ctx, src)
	if err != nil {
		return nil, err
	}
	dstNode, err := store.Node(ctx, dst)
	if err != nil {
		return nil, err
	}

	cp := copypart.New(c, part, relation, src, dst, pool.get(srcNode), pool.get(dstNode), srcNode.ConnString,
		cfg.Config.Retry.CmdRetryNaptime(), cfg.Config.Retry.PollInterval())

	var prevConn, nextConn handlers.NodeExecer
	if prev != catalog.InvalidNode {
		prevNode, err := store.Node(ctx, prev)
		if err != nil {
			return nil, err
		}
		prevConn = pool.get(prevNode)
	}
	if next != catalog.InvalidNode {
		nextNode, err := store.Node(ctx, next)
		if err != nil {
			return nil, err
		}
		nextConn = pool.get(nextNode)
	}

	return handlers.NewMovePart(cp, c, prev, next, prevConn, nextConn, store, cfg.Config.Replication.SyncReplicas), nil
}

func buildCreateReplica(ctx context.Context, store catalog.Store, pool *nodePool, c clock.Clock, cmd catalog.Command) (sched.Task, error) {
	part, relation := cmd.Args["part"], cmd.Args["relation"]
	if part == "" || relation == "" {
		return nil, fmt.Errorf("create_replica: part and relation are required")
	}

	src, err := parseNodeID(cmd.Args["src"])
	if err != nil {
		return nil, fmt.Errorf("create_replica: src: %w", err)
	}
	dst, err := parseNodeID(cmd.Args["dst"])
	if err != nil {
		return nil, fmt.Errorf("create_replica: dst: %w", err)
	}

	if err := catalog.CheckAdmission(ctx, store, part, src, dst); err != nil {
		return nil, fmt.Errorf("create_replica: %w", err)
	}

	srcNode, err := store.Node(ctx, src)
	if err != nil {
		return nil, err
	}
	dstNode, err := store.Node(ctx, dst)
	if err != nil {
		return nil, err
	}

	cp := copypart.New(c, part, relation, src, dst, pool.get(srcNode), pool.get(dstNode), srcNode.ConnString,
		cfg.Config.Retry.CmdRetryNaptime(), cfg.Config.Retry.PollInterval())

	return handlers.NewCreateReplica(cp, c, store, cfg.Config.Replication.SyncReplicas), nil
}

func parseNodeID(s string) (catalog.NodeID, error) {
	if s == "" {
		return catalog.InvalidNode, fmt.Errorf("missing node id")
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return catalog.InvalidNode, err
	}
	if n == 0 {
		return catalog.InvalidNode, fmt.Errorf("0 is not a valid node id here")
	}
	return catalog.NodeID(n), nil
}

func parseOptionalNodeID(s string) (catalog.NodeID, error) {
	if s == "" || s == "0" {
		return catalog.InvalidNode, nil
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return catalog.InvalidNode, err
	}
	return catalog.NodeID(n), nil
}
