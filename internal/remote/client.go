// Package remote is the PostgreSQL-backed remote store shared by every
// device of a user. Rows are scoped by an opaque user id; each collection
// stores one JSON payload per identity key.
//
// Every call runs under a per-attempt timeout and transient failures are
// retried with exponential backoff and jitter. Permanent failures (see
// [IsPermanent]) are returned immediately.
package remote

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/pressly/goose/v3"

	"github.com/njoerd114/watchsync/internal/remote/migrations"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultMaxAttempts = 3
	defaultBaseDelay   = 500 * time.Millisecond
	defaultMaxDelay    = 5 * time.Second
)

// Client owns the connection pool to the remote database.
type Client struct {
	db        *sql.DB
	timeout   time.Duration
	attempts  uint
	baseDelay time.Duration
	log       *slog.Logger
}

// Option configures a [Client].
type Option func(*Client)

// WithTimeout bounds each individual attempt of a remote call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxAttempts sets how many times a transient failure is tried.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.attempts = uint(n)
		}
	}
}

// WithRetryDelay sets the initial backoff interval.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.baseDelay = d
		}
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New wraps an existing database handle. It does not run migrations.
func New(db *sql.DB, opts ...Option) *Client {
	c := &Client{
		db:        db,
		timeout:   defaultTimeout,
		attempts:  defaultMaxAttempts,
		baseDelay: defaultBaseDelay,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open connects to the database at dsn and brings its schema up to date.
func Open(ctx context.Context, dsn string, opts ...Option) (*Client, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening remote database: %w", err)
	}
	c := New(db, opts...)
	if err := c.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// Migrate applies the embedded goose migrations.
func (c *Client) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, c.db, "."); err != nil {
		return fmt.Errorf("running remote migrations: %w", err)
	}
	return nil
}

// Ping checks that the remote database is reachable. It is not retried.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.db.PingContext(ctx)
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.db.Close()
}

// do runs fn with a per-attempt timeout, retrying transient failures.
func (c *Client) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := retry.Do(
		func() error {
			attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			return fn(attemptCtx)
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.baseDelay),
		retry.MaxDelay(defaultMaxDelay),
		retry.MaxJitter(c.baseDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.RetryIf(func(err error) bool { return !IsPermanent(err) }),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.log.Debug("retrying remote call", "op", op, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
