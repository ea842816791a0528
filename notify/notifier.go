// Package notify turns Postgres LISTEN/NOTIFY on the shardlord's metadata
// connection into a wake signal the executor's outer select loop can treat
// exactly like a task deadline: something to check, not something that
// carries a payload. This mirrors pg_shardman.c's shardlord_main, which
// selects on the listening connection's socket alongside its calculated
// timeout and then re-polls the command queue on wakeup.
package notify

import (
	"context"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// CommandChannel is the Postgres NOTIFY channel a cmd_log trigger fires on
// when a new row is enqueued. The listener never inspects the payload; a
// notification only means "go call ClaimNextCommand again".
const CommandChannel = "shardman_cmd_log_update"

// Listener wraps a pq.Listener bound to CommandChannel. Reconnects are
// handled by lib/pq itself; Listener additionally treats every reconnect
// as a wake, since a NOTIFY delivered during an outage is otherwise lost.
type Listener struct {
	pql  *pq.Listener
	wake chan struct{}
	log  zerolog.Logger
}

// NewListener constructs a Listener against connString without dialing.
// Call Start to begin listening.
func NewListener(connString string) *Listener {
	l := &Listener{
		wake: make(chan struct{}, 1),
		log:  log.With().Str("component", "notify").Logger(),
	}
	l.pql = pq.NewListener(connString, time.Second, time.Minute, l.eventCallback)
	return l
}

func (l *Listener) eventCallback(ev pq.ListenerEventType, err error) {
	if err != nil {
		l.log.Warn().Err(err).Msg("command-queue listener connection event")
	}
	switch ev {
	case pq.ListenerEventConnected, pq.ListenerEventReconnected:
		l.signal()
	}
}

// Start issues LISTEN and begins forwarding notifications until ctx is
// done. It must be called at most once per Listener.
func (l *Listener) Start(ctx context.Context) error {
	if err := l.pql.Listen(CommandChannel); err != nil {
		return err
	}
	go l.run(ctx)
	return nil
}

func (l *Listener) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-l.pql.Notify:
			if !ok {
				return
			}
			if n != nil {
				l.log.Debug().Str("channel", n.Channel).Msg("command queue notification")
			}
			l.signal()
		}
	}
}

// signal is a non-blocking, coalescing send: any number of notifications
// between two reads of Wake collapse into a single wake, matching the
// "just go re-poll" semantics the caller wants.
func (l *Listener) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Wake delivers a value whenever a NOTIFY has arrived (or been missed
// across a reconnect) since the last read.
func (l *Listener) Wake() <-chan struct{} { return l.wake }

// Close stops listening and releases the underlying connection.
func (l *Listener) Close() error {
	return l.pql.Close()
}
