// Package catalog gives Go shape to the metadata store the copy-partition
// core treats as an opaque collaborator: node identities, partition
// ownership and replica chains, and the shardlord's own command queue. The
// core never touches catalog schema or triggers directly; it only calls
// through the Store interface.
package catalog

import "context"

// NodeID identifies a worker node. The zero value is InvalidNode, mirroring
// the original's SHMN_INVALID_NODE_ID sentinel: no real node is ever
// assigned id 0.
type NodeID int32

// InvalidNode is the sentinel used for "no such node" (e.g. PartitionCopy.Next
// on the last replica in a chain).
const InvalidNode NodeID = 0

// Node is one row of shardman.nodes.
type Node struct {
	ID         NodeID
	ConnString string
}

// PartitionCopy describes one node's relationship to one partition copy:
// who owns it, and its neighbors in the replica chain (prev replicates
// into this node, next replicates out of it). Prev/Next are InvalidNode at
// the ends of the chain.
type PartitionCopy struct {
	Part     string
	Owner    NodeID
	Prev     NodeID
	Next     NodeID
	Relation string // fully qualified relation name to copy
}

// Command is one row of the shardlord's command log, the external
// front-end this core is deliberately decoupled from. Args holds the
// command-specific arguments already parsed by that front-end.
type Command struct {
	ID     int64
	Type   string
	Args   map[string]string
	Status string
}

// Store is everything the core and the command dispatcher need from the
// metadata store. Implementations must not attribute side effects to a
// call that returns an error: a failed admission check must leave no rows
// changed.
type Store interface {
	Node(ctx context.Context, id NodeID) (Node, error)

	// Partition returns node's copy-row for part. A partition can have
	// several rows, one per node holding a copy of it (an owner plus
	// however many replicas), so a row is only identified by the
	// (part, node) pair, never by part alone.
	Partition(ctx context.Context, part string, node NodeID) (PartitionCopy, error)

	// Exec runs sql as a single local transaction against the shardlord's
	// own database, used for update_metadata_sql bundles once a
	// copy-partition or topology change has completed.
	Exec(ctx context.Context, sql string) error

	// ClaimNextCommand returns the oldest pending command, or ok=false if
	// none are pending. Claiming marks it 'running' so a restarted
	// shardlord does not redeliver it to a second in-flight run.
	ClaimNextCommand(ctx context.Context) (cmd Command, ok bool, err error)
	SetCommandStatus(ctx context.Context, id int64, status string, detail string) error
}
