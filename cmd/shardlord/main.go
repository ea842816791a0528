// Command shardlord runs the sharded-cluster control plane: it drains
// shardman.cmd_log, decomposes each command into copy-partition and
// topology-rewire tasks, and drives them to completion with a
// single-threaded cooperative executor.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/pgshardman/shardlord/admin"
	"github.com/pgshardman/shardlord/catalog"
	"github.com/pgshardman/shardlord/cfg"
	"github.com/pgshardman/shardlord/clock"
	"github.com/pgshardman/shardlord/notify"
	"github.com/pgshardman/shardlord/sched"
	"github.com/pgshardman/shardlord/signalctl"
	"github.com/pgshardman/shardlord/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	flag.Parse()

	if err := cfg.Load(*cfg.ConfigPathFlag); err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("invalid configuration: %v", err))
	}

	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).With().Timestamp().Uint64("node_id", cfg.Config.NodeID).Logger()
	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("shardlord starting")
	telemetry.InitializeTelemetry()

	if !cfg.Config.Shardlord.Enabled {
		log.Info().Msg("shardlord role disabled on this node, exiting")
		return
	}

	store, err := catalog.NewPostgresStore(cfg.Config.Shardlord.ConnString)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to metadata database")
	}

	ctrl, ctx := signalctl.New(context.Background())
	go ctrl.Watch(ctx)

	listener := notify.NewListener(cfg.Config.Shardlord.ConnString)
	if err := listener.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start command-queue listener")
	}
	defer listener.Close()

	realClock := clock.NewSystem()
	executor := sched.New(realClock)
	pool := newNodePool()

	collector := telemetry.NewMetricsCollector(executor, 10*time.Second)
	collector.Start()
	defer collector.Stop()

	if cfg.Config.Admin.Enabled {
		mux := http.NewServeMux()
		admin.RegisterRoutes(mux, admin.NewHandlers(executor))
		if h := telemetry.GetMetricsHandler(); h != nil {
			mux.Handle("/metrics", h)
		}
		addr := fmt.Sprintf("%s:%d", cfg.Config.Admin.BindAddress, cfg.Config.Admin.Port)
		go func() {
			log.Info().Str("addr", addr).Msg("admin HTTP server listening")
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Error().Err(err).Msg("admin HTTP server stopped")
			}
		}()
	}

	go runCommandLoop(ctx, store, executor, pool, realClock, listener)

	executor.Run(ctx)
	log.Info().Msg("shardlord stopped")
}

// runCommandLoop mirrors pg_shardman.c's shardlord_main: wake on either a
// LISTEN/NOTIFY hint or a fallback timer, then drain every pending command
// by turning it into an executor task.
func runCommandLoop(ctx context.Context, store catalog.Store, executor *sched.Executor, pool *nodePool, c clock.Clock, listener *notify.Listener) {
	ticker := time.NewTicker(cfg.Config.Retry.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-listener.Wake():
		case <-ticker.C:
		}
		drainCommands(ctx, store, executor, pool, c)
	}
}

func drainCommands(ctx context.Context, store catalog.Store, executor *sched.Executor, pool *nodePool, c clock.Clock) {
	drained := 0
	defer func() { telemetry.CommandQueueDepth.Set(float64(drained)) }()

	for {
		cmd, ok, err := store.ClaimNextCommand(ctx)
		if err != nil {
			log.Error().Err(err).Msg("failed to claim next command")
			return
		}
		if !ok {
			return
		}
		drained++

		task, err := buildTask(ctx, store, pool, c, cmd)
		if err != nil {
			log.Error().Err(err).Int64("command_id", cmd.ID).Str("type", cmd.Type).Msg("failed to build task for command")
			if serr := store.SetCommandStatus(ctx, cmd.ID, "failed", err.Error()); serr != nil {
				log.Error().Err(serr).Msg("failed to record command failure")
			}
			continue
		}

		executor.Add(newCommandTask(task, cmd.ID, store, time.Now()))
	}
}
