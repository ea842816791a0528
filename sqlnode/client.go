// Package sqlnode implements the remote SQL client contract: one lazily
// established connection per worker node, statements from a batch run each
// in its own transaction, and any failure drops the connection so the next
// call reconnects from scratch.
package sqlnode

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrRetry wraps a failure that the caller should treat as transient: the
// copy-partition state machine retries the step after cmd_retry_naptime.
var ErrRetry = errors.New("sqlnode: transient failure")

// Client owns at most one live connection to a single worker node. It is
// not safe for concurrent use; the executor guarantees only one task step
// touches a given Client at a time.
type Client struct {
	connString string
	nodeLabel  string
	db         *sql.DB
	log        zerolog.Logger
}

// New returns a Client for the given libpq connection string. No network
// I/O happens until EnsureConnected or ExecBatch is called.
func New(nodeLabel, connString string) *Client {
	return &Client{
		connString: connString,
		nodeLabel:  nodeLabel,
		log:        log.With().Str("component", "sqlnode").Str("node", nodeLabel).Logger(),
	}
}

// EnsureConnected dials the node if there is no live connection. On a fresh
// connection it disables synchronous replication waits for this session,
// mirroring the original's "synchronous_commit=local" setting so a task's
// own DDL never blocks on a downstream synchronous standby.
func (c *Client) EnsureConnected(ctx context.Context) error {
	if c.db != nil {
		return nil
	}

	db, err := sql.Open("postgres", c.connString)
	if err != nil {
		return c.retry("open", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return c.retry("ping", err)
	}

	if _, err := db.ExecContext(ctx, "SET SESSION synchronous_commit TO local"); err != nil {
		db.Close()
		return c.retry("configure session", err)
	}

	c.db = db
	c.log.Debug().Msg("connected")
	return nil
}

// ExecBatch splits batch on ';' and runs each resulting statement in its
// own transaction, in order. This is load-bearing: the copy-partition SQL
// bundles rely on earlier statements in a batch being durably committed
// before later ones run, since some steps (e.g. dropping then recreating a
// replication slot) are only correct if interleaved with a commit. Empty
// statements produced by a trailing separator are skipped. On any failure
// the connection is closed and nulled so the next call reconnects.
func (c *Client) ExecBatch(ctx context.Context, batch string) error {
	if err := c.EnsureConnected(ctx); err != nil {
		return err
	}

	for _, stmt := range splitStatements(batch) {
		if err := c.execOne(ctx, stmt); err != nil {
			c.Close()
			return c.retry("exec", err)
		}
	}
	return nil
}

func (c *Client) execOne(ctx context.Context, stmt string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// RowScanner is the subset of *sql.Row callers need. Declaring it lets
// callers depend on an interface (satisfied structurally by *sql.Row)
// instead of a concrete database/sql type, so tests can substitute a fake.
type RowScanner interface {
	Scan(dest ...interface{}) error
}

// QueryRow runs a read-only query against the node's connection, used by
// the copy-partition state machine to poll subscription and LSN state.
func (c *Client) QueryRow(ctx context.Context, query string, args ...interface{}) RowScanner {
	return c.db.QueryRowContext(ctx, query, args...)
}

// Close drops the live connection, if any. Safe to call when already
// disconnected.
func (c *Client) Close() {
	if c.db == nil {
		return
	}
	c.db.Close()
	c.db = nil
}

func (c *Client) retry(op string, err error) error {
	c.log.Warn().Err(err).Str("op", op).Msg("sql client failure, will retry")
	return errors.Join(ErrRetry, err)
}

func splitStatements(batch string) []string {
	parts := strings.Split(batch, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
