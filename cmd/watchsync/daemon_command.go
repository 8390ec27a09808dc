package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	wsync "github.com/njoerd114/watchsync/internal/sync"
	"github.com/njoerd114/watchsync/internal/telemetry"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run background retries, connectivity checks and the daily sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()
			return ctx.withEnv(cmd, func(env *appEnv) error {
				return runDaemon(runCtx, env)
			})
		},
	}
}

func runDaemon(ctx context.Context, env *appEnv) error {
	logger := env.log

	if telCfg, ok := telemetry.FromConfig(env.cfg.Telemetry, version); ok {
		shutdownTel, err := telemetry.Setup(ctx, telCfg)
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", telCfg.OTLPEndpoint)
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			}()
		}
	}

	user, _ := env.session.Current()
	logger.Info("daemon starting",
		"user_id", user,
		"remote", env.cfg.HasRemote(),
		"mode", env.coord.Mode(),
		"retry_interval", env.cfg.Sync.RetryInterval,
	)

	cancelState := env.coord.Subscribe(logStateChanges(env))
	defer cancelState()

	env.reload(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return env.coord.Run(gctx) })
	g.Go(func() error {
		env.session.Watch(gctx, env.cfg.Sync.ScheduleCheckInterval)
		return nil
	})
	if env.monitor != nil {
		g.Go(func() error {
			env.monitor.Run(gctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("sync coordinator: %w", err)
	}
	logger.Info("daemon stopped")
	return nil
}

// logStateChanges logs aggregate status transitions only, not every report.
func logStateChanges(env *appEnv) func(wsync.State) {
	var (
		mu   sync.Mutex
		last wsync.State
	)
	return func(st wsync.State) {
		mu.Lock()
		defer mu.Unlock()
		if st.Status == last.Status && st.Mode == last.Mode {
			return
		}
		last = st
		env.log.Info("sync state", "status", st.Status, "mode", st.Mode, "active", len(st.Active), "errors", len(st.Errors))
	}
}
