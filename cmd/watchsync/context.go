package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/njoerd114/watchsync/internal/auth"
	"github.com/njoerd114/watchsync/internal/collections"
	"github.com/njoerd114/watchsync/internal/config"
	"github.com/njoerd114/watchsync/internal/localstore"
	"github.com/njoerd114/watchsync/internal/logging"
	"github.com/njoerd114/watchsync/internal/remote"
	wsync "github.com/njoerd114/watchsync/internal/sync"
)

type commandContext struct {
	configFlag  *string
	verboseFlag *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string, verboseFlag *bool) *commandContext {
	return &commandContext{
		configFlag:  configFlag,
		verboseFlag: verboseFlag,
	}
}

func (c *commandContext) configPath() (string, error) {
	if c.configFlag != nil {
		if p := strings.TrimSpace(*c.configFlag); p != "" {
			return p, nil
		}
	}
	return config.DefaultPath()
}

func (c *commandContext) verbose() bool {
	return c.verboseFlag != nil && *c.verboseFlag
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		path, err := c.configPath()
		if err != nil {
			c.configErr = err
			return
		}
		c.config, c.configErr = config.LoadOrDefault(path)
	})
	return c.config, c.configErr
}

// appEnv is everything a command needs, opened once per invocation.
type appEnv struct {
	cfg     *config.Config
	log     *slog.Logger
	store   *localstore.Store
	client  *remote.Client
	monitor *remote.Monitor
	// remoteErr is set when a database is configured but could not be
	// opened; the device then works locally.
	remoteErr error
	session   *auth.Session
	coord     *wsync.Coordinator
	reg       *collections.Registry

	unbind    func()
	logCloser io.Closer
}

func (c *commandContext) withEnv(cmd *cobra.Command, fn func(*appEnv) error) error {
	env, err := c.openEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := env.Close(); cerr != nil {
			env.log.Error("closing environment", "error", cerr)
		}
	}()
	return fn(env)
}

func (c *commandContext) openEnv(ctx context.Context) (*appEnv, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}

	logger, logCloser, err := logging.New(cfg.Log, c.verbose())
	if err != nil {
		return nil, err
	}
	env := &appEnv{cfg: cfg, log: logger, logCloser: logCloser}

	env.store, err = localstore.Open(cfg.Local.Path,
		localstore.WithQuota(cfg.Local.QuotaBytes),
		localstore.WithReclaimablePrefixes(cfg.Local.ReclaimablePrefixes...),
	)
	if err != nil {
		_ = logCloser.Close()
		return nil, fmt.Errorf("opening local store at %q: %w", cfg.Local.Path, err)
	}

	var backend collections.Backend
	if cfg.HasRemote() {
		client, err := remote.Open(ctx, cfg.Remote.DatabaseURL,
			remote.WithTimeout(cfg.Remote.Timeout),
			remote.WithMaxAttempts(cfg.Remote.MaxAttempts),
			remote.WithLogger(logger),
		)
		if err != nil {
			env.remoteErr = err
			logger.Warn("remote store unavailable, working locally", "error", err)
		} else {
			env.client = client
			env.monitor = remote.NewMonitor(client, cfg.Sync.ConnectivityInterval, logger)
			backend = collections.NewBackend(client)
		}
	}

	env.session, err = auth.NewSession(ctx, env.store, []byte(cfg.Auth.TokenSecret), logger)
	if err != nil {
		_ = env.Close()
		return nil, err
	}

	env.coord = wsync.NewCoordinator(ctx, env.store, env.session, wsync.CoordinatorOptions{
		RetryInterval:         cfg.Sync.RetryInterval,
		ScheduleCheckInterval: cfg.Sync.ScheduleCheckInterval,
		HistoryCap:            cfg.Sync.HistoryCap,
		Online:                env.online,
	}, logger)

	env.reg = collections.NewRegistry(env.store, backend, env.session, env.coord, wsync.Options{
		PageSize:    cfg.Sync.PageSize,
		PageDelay:   cfg.Sync.PageDelay,
		BatchSize:   cfg.Sync.PushBatchSize,
		KeepOnQuota: cfg.Local.KeepOnQuota,
	}, logger)
	env.unbind = env.reg.Bind(env.session)

	return env, nil
}

// online is false when the configured database could not be opened, and
// otherwise follows the connectivity monitor.
func (e *appEnv) online() bool {
	switch {
	case e.remoteErr != nil:
		return false
	case e.monitor != nil:
		return e.monitor.Online()
	default:
		return true
	}
}

// reload loads every collection. Remote failures are logged rather than
// returned: the local replica is still usable.
func (e *appEnv) reload(ctx context.Context) {
	if err := e.reg.Reload(ctx); err != nil {
		e.log.Warn("sync incomplete, showing local data", "error", err)
	}
}

func (e *appEnv) Close() error {
	var errs []error
	if e.unbind != nil {
		e.unbind()
	}
	if e.client != nil {
		errs = append(errs, e.client.Close())
	}
	if e.store != nil {
		errs = append(errs, e.store.Close())
	}
	if e.logCloser != nil {
		errs = append(errs, e.logCloser.Close())
	}
	return errors.Join(errs...)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
