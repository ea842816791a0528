package copypart

import "errors"

// ErrNotYetReady means a poll observed a condition that is expected to
// resolve on its own (tablesync not yet at 'r', destination LSN not yet
// caught up). The caller retries after poll_interval, distinct from a SQL
// failure which retries after cmd_retry_naptime.
var ErrNotYetReady = errors.New("copypart: condition not yet satisfied")

// errUnexpectedRowCount is folded into the same retry path as
// ErrNotYetReady: Task.subCaughtUp returns it when a subscription's
// received_lsn query returns no row, treating that as a transient race
// rather than a hard failure, since a concurrent worker can momentarily
// leave the catalog in that shape. QueryRow reads only the first row, so a
// result with more than one row is not detected. This is an explicit policy
// choice, not a proven safe one; see open question (a) in DESIGN.md.
var errUnexpectedRowCount = errors.New("copypart: unexpected row count from subscription state query")
