package catalog

import (
	"context"
	"testing"
)

func TestMemoryStoreClaimNextCommandOrdersByEnqueue(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	first := m.Enqueue(Command{Type: "move_part"})
	second := m.Enqueue(Command{Type: "create_replica"})

	cmd, ok, err := m.ClaimNextCommand(ctx)
	if err != nil || !ok {
		t.Fatalf("ClaimNextCommand: ok=%v err=%v", ok, err)
	}
	if cmd.ID != first {
		t.Fatalf("claimed command %d, want %d", cmd.ID, first)
	}

	cmd2, ok, err := m.ClaimNextCommand(ctx)
	if err != nil || !ok {
		t.Fatalf("second ClaimNextCommand: ok=%v err=%v", ok, err)
	}
	if cmd2.ID != second {
		t.Fatalf("claimed command %d, want %d", cmd2.ID, second)
	}

	if _, ok, err := m.ClaimNextCommand(ctx); err != nil || ok {
		t.Fatalf("expected no more pending commands, got ok=%v err=%v", ok, err)
	}
}

func TestMemoryStorePartitionNotFound(t *testing.T) {
	m := NewMemoryStore()
	_, err := m.Partition(context.Background(), "missing", 1)
	if err == nil {
		t.Fatal("expected error for missing partition")
	}
	var nf *ErrNotFound
	if _, ok := err.(*ErrNotFound); !ok {
		_ = nf
		t.Fatalf("expected *ErrNotFound, got %T", err)
	}
}

func TestMemoryStorePartitionIsKeyedByNode(t *testing.T) {
	m := NewMemoryStore()
	m.PutPartition(PartitionCopy{Part: "pt_0", Owner: 2, Next: 3})
	m.PutPartition(PartitionCopy{Part: "pt_0", Owner: 3, Prev: 2})

	p, err := m.Partition(context.Background(), "pt_0", 2)
	if err != nil {
		t.Fatalf("Partition(pt_0, 2): %v", err)
	}
	if p.Next != 3 {
		t.Fatalf("expected node 2's row to point next at 3, got %v", p.Next)
	}

	if _, err := m.Partition(context.Background(), "pt_0", 9); err == nil {
		t.Fatal("expected ErrNotFound for a node with no row for pt_0")
	}
}

func TestMemoryStoreExecRecordsLog(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	if err := m.Exec(ctx, "update shardman.partitions set owner = 2"); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	log := m.ExecLog()
	if len(log) != 1 || log[0] != "update shardman.partitions set owner = 2" {
		t.Fatalf("unexpected exec log: %#v", log)
	}
}
