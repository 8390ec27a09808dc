package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/njoerd114/watchsync/internal/localstore"
	"github.com/njoerd114/watchsync/internal/model"
	"github.com/njoerd114/watchsync/internal/remote"
)

// Local store keys for device-local coordinator preferences.
const (
	modeKey         = "sync.mode"
	scheduleKey     = "sync.schedule"
	scheduleLastKey = "sync.schedule.last"
	historyKey      = "sync.history"
)

// ReloadFunc re-runs one service's load cycle.
type ReloadFunc func(ctx context.Context) error

// CoordinatorOptions tunes the coordinator.
type CoordinatorOptions struct {
	// RetryInterval is how often persistence mode retries failed services.
	RetryInterval time.Duration
	// ScheduleCheckInterval is how often the daily schedule is checked.
	ScheduleCheckInterval time.Duration
	// HistoryCap bounds the sync history.
	HistoryCap int
	// Online reports connectivity. Nil means always online.
	Online func() bool
}

// DefaultCoordinatorOptions returns the standard intervals.
func DefaultCoordinatorOptions() CoordinatorOptions {
	return CoordinatorOptions{
		RetryInterval:         60 * time.Second,
		ScheduleCheckInterval: 30 * time.Second,
		HistoryCap:            100,
	}
}

// State is a snapshot of the coordinator for status displays.
type State struct {
	Mode     model.Mode
	Status   model.Status
	Active   []string
	Errors   map[string]string
	Schedule Schedule
}

// Coordinator is the process-wide registry of sync services. It derives the
// aggregate status, owns the sync mode and its background retry loop, keeps
// a bounded history and fires the scheduled daily sync. Construct one with
// [NewCoordinator]; it is safe for concurrent use.
type Coordinator struct {
	store LocalStore
	ident Identity
	opts  CoordinatorOptions
	log   *slog.Logger
	now   func() time.Time

	// histMu orders history writes; the snapshot is taken under it, so the
	// last write always carries the newest history.
	histMu sync.Mutex

	mu          sync.Mutex
	mode        model.Mode
	services    map[string]ReloadFunc
	order       []string
	active      map[string]int
	errs        map[string]error
	history     []model.SyncLogEntry
	schedule    Schedule
	lastFired   string
	runCtx      context.Context
	retryCancel context.CancelFunc
	subs        map[int]func(State)
	nextSub     int
}

// NewCoordinator restores the persisted mode, schedule and history.
func NewCoordinator(ctx context.Context, store LocalStore, ident Identity, opts CoordinatorOptions, logger *slog.Logger) *Coordinator {
	d := DefaultCoordinatorOptions()
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = d.RetryInterval
	}
	if opts.ScheduleCheckInterval <= 0 {
		opts.ScheduleCheckInterval = d.ScheduleCheckInterval
	}
	if opts.HistoryCap <= 0 {
		opts.HistoryCap = d.HistoryCap
	}

	c := &Coordinator{
		store:    store,
		ident:    ident,
		opts:     opts,
		log:      logger,
		now:      time.Now,
		mode:     model.ModeNormal,
		services: make(map[string]ReloadFunc),
		active:   make(map[string]int),
		errs:     make(map[string]error),
		subs:     make(map[int]func(State)),
	}

	if m, ok := c.storedMode(ctx); ok {
		c.mode = m
	}
	if _, err := localstore.GetJSON(ctx, store, scheduleKey, &c.schedule); err != nil {
		logger.Error("reading sync schedule", "error", err)
	}
	if _, err := localstore.GetJSON(ctx, store, scheduleLastKey, &c.lastFired); err != nil {
		logger.Error("reading last scheduled sync", "error", err)
	}
	if _, err := localstore.GetJSON(ctx, store, historyKey, &c.history); err != nil {
		logger.Error("reading sync history", "error", err)
	}
	return c
}

// RegisterService registers (or replaces) the reload function of a service.
func (c *Coordinator) RegisterService(name string, reload ReloadFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.services[name]; !ok {
		c.order = append(c.order, name)
	}
	c.services[name] = reload
}

// ReportStart marks service as mid-operation.
func (c *Coordinator) ReportStart(ctx context.Context, service string) {
	c.mu.Lock()
	c.active[service]++
	c.appendLocked(model.SyncLogEntry{Service: service, Status: model.LogStart})
	st, subs := c.stateLocked()
	c.mu.Unlock()
	notifyState(subs, st)
	c.persistHistory(ctx)
}

// ReportSuccess records a finished operation and clears the service's error.
func (c *Coordinator) ReportSuccess(ctx context.Context, service, detail string, count int) {
	c.mu.Lock()
	c.doneLocked(service)
	delete(c.errs, service)
	c.appendLocked(model.SyncLogEntry{Service: service, Status: model.LogSuccess, Count: &count, Detail: detail})
	st, subs := c.stateLocked()
	c.mu.Unlock()
	notifyState(subs, st)
	c.persistHistory(ctx)
}

// ReportError records a failed operation.
func (c *Coordinator) ReportError(ctx context.Context, service string, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	c.mu.Lock()
	c.doneLocked(service)
	c.errs[service] = err
	c.appendLocked(model.SyncLogEntry{Service: service, Status: model.LogError, Detail: err.Error()})
	st, subs := c.stateLocked()
	c.mu.Unlock()
	notifyState(subs, st)
	c.persistHistory(ctx)
}

// Status derives the aggregate status: syncing while any service is
// mid-operation, else error while any service has failed, else offline
// when connectivity is lost, else idle.
func (c *Coordinator) Status() model.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// SyncEnabled reports whether remote operations are allowed: an identity is
// bound and the mode is not suspended.
func (c *Coordinator) SyncEnabled() bool {
	if _, ok := c.ident.Current(); !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode != model.ModeSuspended
}

// Mode returns the current sync mode.
func (c *Coordinator) Mode() model.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// CycleMode advances normal → persistence → suspended → normal and returns
// the new mode.
func (c *Coordinator) CycleMode(ctx context.Context) model.Mode {
	c.mu.Lock()
	next := c.mode.Next()
	c.mu.Unlock()
	if err := c.SetMode(ctx, next); err != nil {
		c.log.Error("persisting sync mode", "error", err)
	}
	return next
}

// SetMode switches to m. Entering persistence arms the background retry
// loop; leaving it disarms the loop. The mode is persisted; the in-memory
// switch happens even if persisting fails.
func (c *Coordinator) SetMode(ctx context.Context, m model.Mode) error {
	c.mu.Lock()
	prev := c.mode
	c.mode = m
	if m == model.ModePersistence && prev != model.ModePersistence {
		c.armRetryLocked()
	} else if m != model.ModePersistence {
		c.disarmRetryLocked()
	}
	st, subs := c.stateLocked()
	c.mu.Unlock()
	notifyState(subs, st)

	c.log.Info("sync mode changed", "from", prev, "to", m)
	if err := localstore.PutJSON(ctx, c.store, modeKey, string(m), c.log); err != nil {
		return fmt.Errorf("persisting sync mode: %w", err)
	}
	return nil
}

// History returns a copy of the sync log, oldest first.
func (c *Coordinator) History() []model.SyncLogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.history)
}

// ClearHistory empties the sync log.
func (c *Coordinator) ClearHistory(ctx context.Context) error {
	c.histMu.Lock()
	defer c.histMu.Unlock()
	c.mu.Lock()
	c.history = nil
	c.mu.Unlock()
	if err := localstore.PutJSON(ctx, c.store, historyKey, []model.SyncLogEntry{}, c.log); err != nil {
		return fmt.Errorf("clearing sync history: %w", err)
	}
	return nil
}

// State returns a snapshot for display.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, _ := c.stateLocked()
	return st
}

// Subscribe registers fn to be called after every report and mode change.
func (c *Coordinator) Subscribe(fn func(State)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

// TriggerManualSync reloads every registered service concurrently and
// returns the joined errors.
func (c *Coordinator) TriggerManualSync(ctx context.Context) error {
	c.mu.Lock()
	reloads := make([]ReloadFunc, 0, len(c.order))
	for _, name := range c.order {
		reloads = append(reloads, c.services[name])
	}
	c.mu.Unlock()

	c.log.Info("manual sync triggered", "services", len(reloads))
	p := pool.New().WithErrors().WithContext(ctx)
	for _, reload := range reloads {
		p.Go(func(ctx context.Context) error { return reload(ctx) })
	}
	return p.Wait()
}

// RetryFailed reloads every service that has a recorded transient error.
// Permanent errors are skipped; they stay in the history until the user
// acts. A service's error is cleared only when its reload succeeds.
func (c *Coordinator) RetryFailed(ctx context.Context) {
	c.mu.Lock()
	type job struct {
		name   string
		reload ReloadFunc
	}
	var jobs []job
	for _, name := range c.order {
		err, failed := c.errs[name]
		if !failed {
			continue
		}
		if remote.IsPermanent(err) {
			c.log.Debug("skipping retry of permanent failure", "service", name, "error", err)
			continue
		}
		jobs = append(jobs, job{name: name, reload: c.services[name]})
	}
	c.mu.Unlock()

	for _, j := range jobs {
		if ctx.Err() != nil {
			return
		}
		c.log.Info("retrying failed service", "service", j.name)
		if err := j.reload(ctx); err != nil {
			c.log.Warn("retry failed", "service", j.name, "error", err)
			continue
		}
		c.mu.Lock()
		delete(c.errs, j.name)
		st, subs := c.stateLocked()
		c.mu.Unlock()
		notifyState(subs, st)
	}
}

// Run drives the background work: the persistence-mode retry loop (while
// that mode is active) and the daily schedule check. It blocks until ctx
// is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	c.runCtx = ctx
	if c.mode == model.ModePersistence {
		c.armRetryLocked()
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.disarmRetryLocked()
		c.runCtx = nil
		c.mu.Unlock()
	}()

	ticker := time.NewTicker(c.opts.ScheduleCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Refresh(ctx)
			c.CheckSchedule(ctx, c.now())
		}
	}
}

// Refresh picks up the mode and schedule another process stored, such as
// a CLI invocation running next to the daemon. A changed mode goes through
// [Coordinator.SetMode], so entering persistence arms the retry loop.
func (c *Coordinator) Refresh(ctx context.Context) {
	if m, ok := c.storedMode(ctx); ok && m != c.Mode() {
		c.log.Info("sync mode changed by another process", "mode", m)
		if err := c.SetMode(ctx, m); err != nil {
			c.log.Error("persisting sync mode", "error", err)
		}
	}

	var s Schedule
	ok, err := localstore.GetJSON(ctx, c.store, scheduleKey, &s)
	if err != nil {
		c.log.Error("reading sync schedule", "error", err)
		return
	}
	if !ok {
		return
	}
	c.mu.Lock()
	changed := s != c.schedule
	c.schedule = s
	c.mu.Unlock()
	if changed {
		c.log.Info("sync schedule changed by another process", "enabled", s.Enabled, "at", s.At)
	}
}

func (c *Coordinator) storedMode(ctx context.Context) (model.Mode, bool) {
	var raw string
	ok, err := localstore.GetJSON(ctx, c.store, modeKey, &raw)
	if err != nil {
		c.log.Error("reading sync mode", "error", err)
		return "", false
	}
	if !ok {
		return "", false
	}
	m, err := model.ParseMode(raw)
	if err != nil {
		c.log.Warn("ignoring stored sync mode", "error", err)
		return "", false
	}
	return m, true
}

// --- internals ---------------------------------------------------------------

func (c *Coordinator) armRetryLocked() {
	if c.runCtx == nil || c.retryCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(c.runCtx)
	c.retryCancel = cancel
	interval := c.opts.RetryInterval
	c.log.Info("background retry armed", "interval", interval)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.RetryFailed(ctx)
			}
		}
	}()
}

func (c *Coordinator) disarmRetryLocked() {
	if c.retryCancel == nil {
		return
	}
	c.retryCancel()
	c.retryCancel = nil
	c.log.Info("background retry disarmed")
}

func (c *Coordinator) doneLocked(service string) {
	if c.active[service] <= 1 {
		delete(c.active, service)
		return
	}
	c.active[service]--
}

func (c *Coordinator) appendLocked(e model.SyncLogEntry) {
	e.At = c.now().UTC()
	c.history = append(c.history, e)
	if over := len(c.history) - c.opts.HistoryCap; over > 0 {
		c.history = slices.Delete(c.history, 0, over)
	}
}

// persistHistory writes the current history. It is best-effort and runs
// without holding c.mu.
func (c *Coordinator) persistHistory(ctx context.Context) {
	c.histMu.Lock()
	defer c.histMu.Unlock()
	c.mu.Lock()
	h := slices.Clone(c.history)
	c.mu.Unlock()
	if h == nil {
		h = []model.SyncLogEntry{}
	}
	if err := localstore.PutJSON(ctx, c.store, historyKey, h, c.log); err != nil {
		c.log.Debug("persisting sync history", "error", err)
	}
}

func (c *Coordinator) statusLocked() model.Status {
	switch {
	case len(c.active) > 0:
		return model.StatusSyncing
	case len(c.errs) > 0:
		return model.StatusError
	case c.opts.Online != nil && !c.opts.Online():
		return model.StatusOffline
	default:
		return model.StatusIdle
	}
}

func (c *Coordinator) stateLocked() (State, []func(State)) {
	st := State{
		Mode:     c.mode,
		Status:   c.statusLocked(),
		Active:   slices.Sorted(maps.Keys(c.active)),
		Errors:   make(map[string]string, len(c.errs)),
		Schedule: c.schedule,
	}
	for name, err := range c.errs {
		st.Errors[name] = err.Error()
	}
	subs := make([]func(State), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	return st, subs
}

func notifyState(subs []func(State), st State) {
	for _, fn := range subs {
		fn(st)
	}
}
