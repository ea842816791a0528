// Package signalctl turns SIGTERM/SIGUSR1 into two process-wide flags that
// record which signal arrived, and into cancellation of a context.Context
// that unblocks the executor's select loop directly. Both signals cancel
// the context the same way; the executor itself does not read the flags.
package signalctl

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rs/zerolog/log"
)

// Controller owns the signal-derived shutdown state for one process. Both
// flags are single-writer: only the goroutine started by Watch ever sets
// them, so readers need no lock, matching the executor's own
// single-threaded dispatch discipline.
type Controller struct {
	terminating atomic.Bool
	cancelling  atomic.Bool
	cancel      context.CancelFunc
}

// New wraps parent with a cancellable context and returns both the
// Controller and that context. Callers pass the context to sched.Executor.Run.
func New(parent context.Context) (*Controller, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	return &Controller{cancel: cancel}, ctx
}

// Watch installs the signal handlers and blocks until ctx is done or a
// terminal signal is received; call it in its own goroutine.
func (c *Controller) Watch(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGUSR1)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGTERM:
				log.Info().Msg("received SIGTERM, terminating after current task steps finish")
				c.terminating.Store(true)
				c.cancel()
				return
			case syscall.SIGUSR1:
				log.Info().Msg("received SIGUSR1, cancelling in-flight tasks")
				c.cancelling.Store(true)
				c.cancel()
				return
			}
		}
	}
}

// Terminating reports whether SIGTERM has been received.
func (c *Controller) Terminating() bool { return c.terminating.Load() }

// Cancelling reports whether SIGUSR1 has been received.
func (c *Controller) Cancelling() bool { return c.cancelling.Load() }
