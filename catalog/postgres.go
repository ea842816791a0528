package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/lib/pq"
)

// PostgresStore implements Store against the shardlord's own database,
// where shardman.nodes, shardman.partitions and shardman.cmd_log live.
// Row-shaped queries are built with goqu; the update_metadata_sql bundles
// handed to Exec are opaque strings assembled by the copypart and handlers
// packages and are executed verbatim, since goqu has no notion of a
// caller-supplied multi-statement batch.
type PostgresStore struct {
	db      *sql.DB
	dialect goqu.DialectWrapper
}

// NewPostgresStore opens the shardlord's own connection. Unlike sqlnode's
// per-worker clients, this connection is long-lived and pooled normally:
// it is local, not subject to the copy-partition's separate-transaction
// batching contract.
func NewPostgresStore(connString string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("open shardlord database: %w", err)
	}
	return &PostgresStore{db: db, dialect: goqu.Dialect("postgres")}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) Node(ctx context.Context, id NodeID) (Node, error) {
	query, args, err := s.dialect.From("shardman.nodes").
		Select("id", "connstring").
		Where(goqu.Ex{"id": int32(id)}).
		ToSQL()
	if err != nil {
		return Node{}, err
	}

	var n Node
	var nid int32
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&nid, &n.ConnString); err != nil {
		if err == sql.ErrNoRows {
			return Node{}, &ErrNotFound{Kind: "node", Key: fmt.Sprint(id)}
		}
		return Node{}, err
	}
	n.ID = NodeID(nid)
	return n, nil
}

func (s *PostgresStore) Partition(ctx context.Context, part string, node NodeID) (PartitionCopy, error) {
	query, args, err := s.dialect.From("shardman.partitions").
		Select("part_name", "owner", "prv", "nxt", "relation").
		Where(goqu.Ex{"part_name": part, "owner": int32(node)}).
		ToSQL()
	if err != nil {
		return PartitionCopy{}, err
	}

	var p PartitionCopy
	var owner int32
	var prev, next sql.NullInt32 // NULL at the ends of the chain
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&p.Part, &owner, &prev, &next, &p.Relation); err != nil {
		if err == sql.ErrNoRows {
			return PartitionCopy{}, &ErrNotFound{Kind: "partition", Key: part}
		}
		return PartitionCopy{}, err
	}
	p.Owner, p.Prev, p.Next = NodeID(owner), NodeID(prev.Int32), NodeID(next.Int32)
	return p, nil
}

func (s *PostgresStore) Exec(ctx context.Context, sql string) error {
	_, err := s.db.ExecContext(ctx, sql)
	return err
}

func (s *PostgresStore) ClaimNextCommand(ctx context.Context) (Command, bool, error) {
	query, _, err := s.dialect.From("shardman.cmd_log").
		Select("id", "cmd_type", "args", "status").
		Where(goqu.Ex{"status": "pending"}).
		Order(goqu.I("id").Asc()).
		Limit(1).
		ToSQL()
	if err != nil {
		return Command{}, false, err
	}

	var cmd Command
	var rawArgs []byte
	err = s.db.QueryRowContext(ctx, query).Scan(&cmd.ID, &cmd.Type, &rawArgs, &cmd.Status)
	if err == sql.ErrNoRows {
		return Command{}, false, nil
	}
	if err != nil {
		return Command{}, false, err
	}
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &cmd.Args); err != nil {
			return Command{}, false, fmt.Errorf("decoding cmd_log.args for command %d: %w", cmd.ID, err)
		}
	}

	update, args, err := s.dialect.Update("shardman.cmd_log").
		Set(goqu.Record{"status": "running"}).
		Where(goqu.Ex{"id": cmd.ID}).
		ToSQL()
	if err != nil {
		return Command{}, false, err
	}
	if _, err := s.db.ExecContext(ctx, update, args...); err != nil {
		return Command{}, false, err
	}
	cmd.Status = "running"
	return cmd, true, nil
}

func (s *PostgresStore) SetCommandStatus(ctx context.Context, id int64, status string, detail string) error {
	query, args, err := s.dialect.Update("shardman.cmd_log").
		Set(goqu.Record{"status": status, "detail": detail}).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}
