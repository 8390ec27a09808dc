package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/njoerd114/watchsync/internal/localstore"
	"github.com/njoerd114/watchsync/internal/remote"
)

// Spec describes one collection type to the generic [Engine].
type Spec[T any] struct {
	// Name is the service name reported to the coordinator and the base of
	// the collection's local store key.
	Name string

	// Key returns the identity key items are deduplicated by.
	Key func(T) string

	// Stamp assigns the collection-specific timestamp on add. Optional.
	Stamp func(item *T, now time.Time)

	// Recency orders items when a snapshot must be truncated to fit the
	// local quota. Optional; without it the first items are kept.
	Recency func(T) time.Time

	// Clone deep-copies an item so [Engine.Update] can roll back. Optional
	// for types without shared mutable state.
	Clone func(T) T

	// Label renders an item for humans (adoption summary, logs). Optional.
	Label func(T) string

	// Hash digests an item's content. When set, loads count local items
	// whose content the remote copy replaced. Optional.
	Hash func(T) string
}

// Options tunes the load and push cycle.
type Options struct {
	// PageSize is the number of rows fetched per remote page.
	PageSize int
	// PageDelay is the pause between two page fetches. Zero disables it.
	PageDelay time.Duration
	// BatchSize is the number of local-only items pushed per insert.
	BatchSize int
	// KeepOnQuota is how many of the most recent items are kept when a
	// snapshot does not fit the local quota.
	KeepOnQuota int
}

// DefaultOptions returns the standard paging and batching parameters.
func DefaultOptions() Options {
	return Options{
		PageSize:    50,
		PageDelay:   150 * time.Millisecond,
		BatchSize:   5,
		KeepOnQuota: 50,
	}
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.PageSize <= 0 {
		o.PageSize = d.PageSize
	}
	if o.PageDelay < 0 {
		o.PageDelay = 0
	}
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.KeepOnQuota <= 0 {
		o.KeepOnQuota = d.KeepOnQuota
	}
	return o
}

// LocalKey returns the local store key of a collection in one scope: the
// bare name for the anonymous scope, name@userID for a bound identity.
func LocalKey(name, userID string) string {
	if userID == "" {
		return name
	}
	return name + "@" + userID
}

// ledgerKey holds the keys known to exist remotely for one bound scope.
func ledgerKey(name, userID string) string {
	return LocalKey(name, userID) + ".synced"
}

// pendingKey holds the changes of one bound scope that did not reach the
// remote store yet.
func pendingKey(name, userID string) string {
	return LocalKey(name, userID) + ".pending"
}

// pendingOp is the change queued for a key.
type pendingOp string

const (
	pendingUpsert pendingOp = "upsert"
	pendingDelete pendingOp = "delete"
)

// Engine owns the in-memory state of one list-shaped collection. Create one
// with [NewEngine]; it is safe for concurrent use.
//
// Concurrent [Engine.Load] calls for the same scope collapse into one.
// Mutations are serialized. The local re-read, merge, publish and persist
// steps of a load hold the state lock, so a mutation is either fully
// applied before them (and captured by the re-read) or after them.
type Engine[T any] struct {
	spec   Spec[T]
	local  LocalStore
	remote RemoteCollection[T]
	upsert Upserter[T]
	ident  Identity
	rep    Reporter
	opts   Options
	log    *slog.Logger
	inst   instruments
	attrs  metric.MeasurementOption

	loads singleflight.Group
	opMu  sync.Mutex

	mu      sync.Mutex
	loaded  bool
	scope   string
	items   []T
	subs    map[int]func([]T)
	nextSub int
}

// NewEngine creates an Engine. remote may be nil on a device without a
// remote store; the engine then stays local-only.
func NewEngine[T any](spec Spec[T], local LocalStore, remote RemoteCollection[T], ident Identity, rep Reporter, opts Options, logger *slog.Logger) *Engine[T] {
	if spec.Recency == nil {
		spec.Recency = func(T) time.Time { return time.Time{} }
	}
	if spec.Clone == nil {
		spec.Clone = func(v T) T { return v }
	}
	e := &Engine[T]{
		spec:   spec,
		local:  local,
		remote: remote,
		ident:  ident,
		rep:    rep,
		opts:   opts.normalized(),
		log:    logger.With("collection", spec.Name),
		inst:   newInstruments(logger),
		attrs:  metric.WithAttributes(attribute.String("collection", spec.Name)),
		subs:   make(map[int]func([]T)),
	}
	if up, ok := remote.(Upserter[T]); ok {
		e.upsert = up
	}
	return e
}

// Name returns the collection's service name.
func (e *Engine[T]) Name() string { return e.spec.Name }

// target returns the bound user and whether remote operations are allowed.
func (e *Engine[T]) target() (userID string, enabled bool) {
	userID, ok := e.ident.Current()
	if !ok {
		return "", false
	}
	return userID, e.remote != nil && e.rep.SyncEnabled()
}

// Load publishes the local snapshot and, when sync is enabled, reconciles
// it with the remote collection. The returned error describes the remote
// path only; the local snapshot is published regardless.
func (e *Engine[T]) Load(ctx context.Context) error {
	userID, _ := e.ident.Current()
	_, err, shared := e.loads.Do(LocalKey(e.spec.Name, userID), func() (any, error) {
		return nil, e.load(ctx, userID)
	})
	if shared {
		e.log.Debug("joined in-flight load")
	}
	return err
}

func (e *Engine[T]) load(ctx context.Context, userID string) error {
	ctx, span := e.inst.tracer.Start(ctx, spanLoad,
		trace.WithAttributes(attribute.String("collection", e.spec.Name)))
	defer span.End()

	// Publish whatever this scope has locally before touching the network.
	e.mu.Lock()
	e.ensureScopeLocked(ctx, userID)
	items, subs := e.changedLocked()
	e.mu.Unlock()
	notify(subs, items)

	if userID == "" || e.remote == nil || !e.rep.SyncEnabled() {
		return nil
	}

	// The ledger is captured before the fetch. Keys that mutations add to
	// or remove from it while pages are in flight are told apart from
	// remote deletions by comparing against this snapshot.
	e.mu.Lock()
	before, err := e.readLedger(ctx, userID)
	e.mu.Unlock()
	if err != nil {
		e.log.Error("reading synced-key ledger", "error", err)
	}

	e.rep.ReportStart(ctx, e.spec.Name)
	rows, err := e.fetchAll(ctx, userID)
	if err != nil {
		e.remoteFailed(ctx, "fetching remote collection", err)
		span.RecordError(err)
		return fmt.Errorf("loading %s: %w", e.spec.Name, err)
	}
	rows = Dedupe(rows, e.spec.Key)

	e.mu.Lock()
	if e.scope != userID {
		e.mu.Unlock()
		e.log.Info("identity changed during load, discarding remote snapshot")
		e.rep.ReportSuccess(ctx, e.spec.Name, "discarded: identity changed", 0)
		return nil
	}

	local, err := e.readLocal(ctx, userID)
	if err != nil {
		e.log.Error("re-reading local snapshot, using in-memory state", "error", err)
		local = slices.Clone(e.items)
	}
	after, err := e.readLedger(ctx, userID)
	if err != nil {
		e.log.Error("reading synced-key ledger", "error", err)
	}
	pending := e.readPending(ctx, userID)

	localByKey := make(map[string]T, len(local))
	for _, it := range local {
		localByKey[e.spec.Key(it)] = it
	}

	var upserts, deletes []string
	remoteRows := make([]T, 0, len(rows))
	for _, r := range rows {
		k := e.spec.Key(r)
		if before[k] && !after[k] {
			// Removed remotely while the page was in flight.
			continue
		}
		switch pending[k] {
		case pendingDelete:
			deletes = append(deletes, k)
			continue
		case pendingUpsert:
			if l, ok := localByKey[k]; ok && e.upsert != nil {
				r = l
				upserts = append(upserts, k)
			}
		}
		remoteRows = append(remoteRows, r)
	}

	var overwritten []string
	if e.spec.Hash != nil {
		overwritten = Overwritten(local, remoteRows, e.spec.Key, e.spec.Hash)
	}

	res := Merge(local, remoteRows, e.spec.Key, func(k string) bool { return before[k] })
	e.items = res.Merged
	_ = e.persistLocked(ctx, userID)

	// Items synced by a mutation during the fetch are already remote.
	localOnly := make([]string, 0, len(res.LocalOnly))
	for _, it := range res.LocalOnly {
		if k := e.spec.Key(it); !after[k] || before[k] {
			localOnly = append(localOnly, k)
		}
	}

	ledger := make(map[string]bool, len(remoteRows))
	for _, r := range remoteRows {
		ledger[e.spec.Key(r)] = true
	}
	for k := range after {
		if !before[k] {
			ledger[k] = true
		}
	}
	for _, k := range deletes {
		// Still remote until the pending delete goes through.
		ledger[k] = true
	}
	if err := e.writeLedger(ctx, userID, ledger); err != nil {
		e.log.Error("writing synced-key ledger", "error", err)
	}

	// Pending entries for keys the remote side does not hold are settled:
	// the item is either pushed as local-only or was deleted elsewhere.
	var settled []string
	for k, op := range pending {
		if (op == pendingUpsert && !slices.Contains(upserts, k)) || (op == pendingDelete && !slices.Contains(deletes, k)) {
			settled = append(settled, k)
		}
	}
	if len(settled) > 0 {
		e.pendingUpdateLocked(ctx, userID, "", settled...)
	}

	items, subs = e.changedLocked()
	e.mu.Unlock()
	notify(subs, items)

	if n := len(res.Dropped); n > 0 {
		e.log.Info("dropped local items deleted on another device", "count", n)
		e.inst.cntDropped.Add(ctx, int64(n), e.attrs)
	}
	if n := len(overwritten); n > 0 {
		e.log.Info("local copies replaced by differing remote content", "count", n, "keys", overwritten)
		e.inst.cntOverwrote.Add(ctx, int64(n), e.attrs)
	}
	span.SetAttributes(
		attribute.Int("sync.remote", len(rows)),
		attribute.Int("sync.merged", len(res.Merged)),
		attribute.Int("sync.local_only", len(localOnly)),
		attribute.Int("sync.dropped", len(res.Dropped)),
		attribute.Int("sync.pending", len(upserts)+len(deletes)),
	)
	e.rep.ReportSuccess(ctx, e.spec.Name, fmt.Sprintf("loaded %d items", len(res.Merged)), len(res.Merged))

	if len(localOnly) == 0 && len(upserts) == 0 && len(deletes) == 0 {
		return nil
	}

	// Pushes run under opMu so they see every mutation in order and send
	// the current content of each item.
	e.opMu.Lock()
	defer e.opMu.Unlock()

	var errs []error
	if len(localOnly) > 0 {
		if err := e.pushLocalOnly(ctx, userID, e.current(localOnly)); err != nil {
			errs = append(errs, err)
		}
	}
	if len(upserts) > 0 || len(deletes) > 0 {
		if err := e.pushPending(ctx, userID, upserts, deletes); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// fetchAll pages through the remote collection until a short page.
func (e *Engine[T]) fetchAll(ctx context.Context, userID string) ([]T, error) {
	var rows []T
	for offset := 0; ; offset += e.opts.PageSize {
		if offset > 0 && e.opts.PageDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.opts.PageDelay):
			}
		}
		page, err := e.remote.SelectPage(ctx, userID, offset, e.opts.PageSize)
		if err != nil {
			return nil, fmt.Errorf("page at offset %d: %w", offset, err)
		}
		rows = append(rows, page...)
		if len(page) < e.opts.PageSize {
			return rows, nil
		}
	}
}

// current returns the in-memory items for keys, skipping keys that are
// gone.
func (e *Engine[T]) current(keys []string) []T {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		if i := e.indexLocked(k); i >= 0 {
			out = append(out, e.spec.Clone(e.items[i]))
		}
	}
	return out
}

// pushLocalOnly inserts items in sequential batches. A failed batch is
// logged and left for the next load; local state is not rolled back.
func (e *Engine[T]) pushLocalOnly(ctx context.Context, userID string, items []T) error {
	if len(items) == 0 {
		return nil
	}
	e.rep.ReportStart(ctx, e.spec.Name)

	var errs []error
	pushed := 0
	for start := 0; start < len(items); start += e.opts.BatchSize {
		batch := items[start:min(start+e.opts.BatchSize, len(items))]
		if err := e.remote.InsertMany(ctx, userID, batch); err != nil {
			e.log.Warn("pushing local-only batch failed",
				"batch_start", start,
				"batch_size", len(batch),
				"error", err,
			)
			e.inst.cntRemoteErr.Add(ctx, 1, e.attrs)
			errs = append(errs, err)
			continue
		}
		pushed += len(batch)
		e.inst.cntPushed.Add(ctx, int64(len(batch)), e.attrs)

		keys := make([]string, len(batch))
		for i, it := range batch {
			keys[i] = e.spec.Key(it)
		}
		e.mu.Lock()
		if e.scope == userID {
			e.ledgerUpdateLocked(ctx, userID, true, keys...)
		}
		e.mu.Unlock()
	}

	if err := errors.Join(errs...); err != nil {
		e.rep.ReportError(ctx, e.spec.Name, err)
		return fmt.Errorf("pushing local-only %s: %w", e.spec.Name, err)
	}
	e.log.Debug("pushed local-only items", "count", pushed)
	e.rep.ReportSuccess(ctx, e.spec.Name, fmt.Sprintf("pushed %d local-only items", pushed), pushed)
	return nil
}

// pushPending sends the changes made while the remote store was out of
// reach: whole-row upserts for edited items and deletes for removed ones.
// Each key leaves the pending set only once its own call succeeded.
func (e *Engine[T]) pushPending(ctx context.Context, userID string, upserts, deletes []string) error {
	e.rep.ReportStart(ctx, e.spec.Name)
	e.log.Info("pushing changes made while offline", "upserts", len(upserts), "deletes", len(deletes))

	var errs []error
	done := 0
	settle := func(k string, inLedger bool) {
		done++
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.scope != userID {
			return
		}
		e.pendingUpdateLocked(ctx, userID, "", k)
		e.ledgerUpdateLocked(ctx, userID, inLedger, k)
	}

	for _, it := range e.current(upserts) {
		k := e.spec.Key(it)
		if err := e.upsert.UpsertOne(ctx, userID, it); err != nil {
			e.log.Warn("pushing pending update failed", "key", k, "error", err)
			e.inst.cntRemoteErr.Add(ctx, 1, e.attrs)
			errs = append(errs, fmt.Errorf("updating %s: %w", k, err))
			continue
		}
		settle(k, true)
	}
	for _, k := range deletes {
		if err := e.remote.DeleteWhere(ctx, userID, k); err != nil {
			e.log.Warn("pushing pending delete failed", "key", k, "error", err)
			e.inst.cntRemoteErr.Add(ctx, 1, e.attrs)
			errs = append(errs, fmt.Errorf("deleting %s: %w", k, err))
			continue
		}
		settle(k, false)
	}

	if err := errors.Join(errs...); err != nil {
		e.rep.ReportError(ctx, e.spec.Name, err)
		return fmt.Errorf("pushing pending %s: %w", e.spec.Name, err)
	}
	e.inst.cntPushed.Add(ctx, int64(done), e.attrs)
	e.rep.ReportSuccess(ctx, e.spec.Name, fmt.Sprintf("pushed %d pending changes", done), done)
	return nil
}

// Add inserts item unless its key is already present. The engine stamps the
// collection timestamp. With sync enabled the remote insert happens first;
// if it fails the item is still kept locally and pushed by a later load.
func (e *Engine[T]) Add(ctx context.Context, item T) Result {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	userID, enabled := e.target()
	k := e.spec.Key(item)

	e.mu.Lock()
	e.ensureScopeLocked(ctx, userID)
	exists := e.indexLocked(k) >= 0
	e.mu.Unlock()
	if exists {
		return Result{}
	}

	if e.spec.Stamp != nil {
		e.spec.Stamp(&item, time.Now().UTC())
	}

	var res Result
	if enabled {
		e.rep.ReportStart(ctx, e.spec.Name)
		if err := e.remote.InsertOne(ctx, userID, item); err != nil {
			res.RemoteErr = err
			e.remoteFailed(ctx, "adding "+k, err)
		} else {
			res.Synced = true
			e.rep.ReportSuccess(ctx, e.spec.Name, "added "+k, 1)
		}
	}

	e.mu.Lock()
	if e.scope != userID {
		e.mu.Unlock()
		res.LocalErr = ErrScopeChanged
		return res
	}
	if e.indexLocked(k) < 0 {
		e.items = append(e.items, item)
		res.Changed = true
	}
	res.LocalErr = e.persistLocked(ctx, userID)
	// A re-add supersedes a delete still waiting to be pushed.
	e.pendingUpdateLocked(ctx, userID, "", k)
	if res.Synced {
		e.ledgerUpdateLocked(ctx, userID, true, k)
	}
	items, subs := e.changedLocked()
	e.mu.Unlock()
	notify(subs, items)
	return res
}

// Remove deletes the item with key k optimistically. If the remote delete
// fails the removed item is restored with its original fields. With sync
// disabled on a bound scope the delete is queued for the next load.
func (e *Engine[T]) Remove(ctx context.Context, k string) Result {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	userID, enabled := e.target()

	e.mu.Lock()
	e.ensureScopeLocked(ctx, userID)
	idx := e.indexLocked(k)
	if idx < 0 {
		e.mu.Unlock()
		return Result{}
	}
	removed := e.items[idx]
	e.items = slices.Delete(e.items, idx, idx+1)
	res := Result{Changed: true}
	res.LocalErr = e.persistLocked(ctx, userID)
	if !enabled {
		if ledger, err := e.readLedger(ctx, userID); err == nil && ledger[k] {
			e.pendingUpdateLocked(ctx, userID, pendingDelete, k)
		} else {
			e.pendingUpdateLocked(ctx, userID, "", k)
		}
	}
	items, subs := e.changedLocked()
	e.mu.Unlock()
	notify(subs, items)

	if !enabled {
		return res
	}

	e.rep.ReportStart(ctx, e.spec.Name)
	err := e.remote.DeleteWhere(ctx, userID, k)
	if err == nil {
		res.Synced = true
		e.rep.ReportSuccess(ctx, e.spec.Name, "removed "+k, 1)
		e.mu.Lock()
		if e.scope == userID {
			e.ledgerUpdateLocked(ctx, userID, false, k)
			e.pendingUpdateLocked(ctx, userID, "", k)
		}
		e.mu.Unlock()
		return res
	}

	res.RemoteErr = err
	e.remoteFailed(ctx, "removing "+k, err)

	e.mu.Lock()
	if e.scope == userID && e.indexLocked(k) < 0 {
		e.items = slices.Insert(e.items, min(idx, len(e.items)), removed)
		res.LocalErr = e.persistLocked(ctx, userID)
		res.RolledBack = true
	}
	items, subs = e.changedLocked()
	e.mu.Unlock()
	notify(subs, items)

	if res.RolledBack {
		e.inst.cntRollbacks.Add(ctx, 1, e.attrs)
		e.log.Info("remote delete failed, item restored", "key", k)
	}
	return res
}

// Update applies mutate to the item with key k optimistically and pushes the
// whole item with an upsert. mutate returns false to signal "no change" and
// must not alter the key.
//
// A change that cannot reach the remote store (sync disabled, or a
// transient upsert failure) stays local and is queued; the next load keeps
// the local version and upserts it. Only a permanent upsert failure
// restores the previous value.
func (e *Engine[T]) Update(ctx context.Context, k string, mutate func(*T) bool) Result {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	userID, enabled := e.target()

	e.mu.Lock()
	e.ensureScopeLocked(ctx, userID)
	idx := e.indexLocked(k)
	if idx < 0 {
		e.mu.Unlock()
		return Result{}
	}
	prev := e.spec.Clone(e.items[idx])
	next := e.spec.Clone(e.items[idx])
	if !mutate(&next) {
		e.mu.Unlock()
		return Result{}
	}
	if nk := e.spec.Key(next); nk != k {
		e.mu.Unlock()
		return Result{LocalErr: fmt.Errorf("updating %s: key changed from %q to %q", e.spec.Name, k, nk)}
	}
	e.items[idx] = next
	res := Result{Changed: true}
	res.LocalErr = e.persistLocked(ctx, userID)
	if !enabled || e.upsert == nil {
		e.pendingUpdateLocked(ctx, userID, pendingUpsert, k)
	}
	items, subs := e.changedLocked()
	e.mu.Unlock()
	notify(subs, items)

	if !enabled || e.upsert == nil {
		return res
	}

	e.rep.ReportStart(ctx, e.spec.Name)
	err := e.upsert.UpsertOne(ctx, userID, next)
	if err == nil {
		res.Synced = true
		e.rep.ReportSuccess(ctx, e.spec.Name, "updated "+k, 1)
		e.mu.Lock()
		if e.scope == userID {
			e.ledgerUpdateLocked(ctx, userID, true, k)
			e.pendingUpdateLocked(ctx, userID, "", k)
		}
		e.mu.Unlock()
		return res
	}

	res.RemoteErr = err
	e.remoteFailed(ctx, "updating "+k, err)

	if !remote.IsPermanent(err) {
		e.mu.Lock()
		if e.scope == userID {
			e.pendingUpdateLocked(ctx, userID, pendingUpsert, k)
		}
		e.mu.Unlock()
		e.log.Info("remote update failed, change kept locally and queued", "key", k)
		return res
	}

	e.mu.Lock()
	if e.scope == userID {
		if i := e.indexLocked(k); i >= 0 {
			e.items[i] = prev
			res.LocalErr = e.persistLocked(ctx, userID)
			res.RolledBack = true
		}
	}
	items, subs = e.changedLocked()
	e.mu.Unlock()
	notify(subs, items)

	if res.RolledBack {
		e.inst.cntRollbacks.Add(ctx, 1, e.attrs)
		e.log.Info("remote update rejected, previous value restored", "key", k)
	}
	return res
}

// IsMember reports whether an item with key k is in the collection.
func (e *Engine[T]) IsMember(k string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.indexLocked(k) >= 0
}

// Get returns the item with key k.
func (e *Engine[T]) Get(k string) (T, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i := e.indexLocked(k); i >= 0 {
		return e.spec.Clone(e.items[i]), true
	}
	var zero T
	return zero, false
}

// Items returns a copy of the current collection.
func (e *Engine[T]) Items() []T {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.items)
}

// Len returns the number of items in the collection.
func (e *Engine[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.items)
}

// Subscribe registers fn to receive every published snapshot. fn runs on
// the publishing goroutine and must not call back into the engine's
// mutations. The returned function unregisters it.
func (e *Engine[T]) Subscribe(fn func([]T)) (cancel func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs, id)
	}
}

// --- internals ---------------------------------------------------------------

// ensureScopeLocked resets the in-memory state to userID's local snapshot
// when the engine has not loaded yet or the identity changed.
func (e *Engine[T]) ensureScopeLocked(ctx context.Context, userID string) {
	if e.loaded && e.scope == userID {
		return
	}
	snap, err := e.readLocal(ctx, userID)
	if err != nil {
		e.log.Error("reading local snapshot", "error", err)
	}
	if e.loaded {
		e.log.Info("identity changed, switching local scope", "from", LocalKey(e.spec.Name, e.scope), "to", LocalKey(e.spec.Name, userID))
	}
	e.items = Dedupe(snap, e.spec.Key)
	e.scope = userID
	e.loaded = true
}

func (e *Engine[T]) indexLocked(k string) int {
	return slices.IndexFunc(e.items, func(it T) bool { return e.spec.Key(it) == k })
}

func (e *Engine[T]) changedLocked() ([]T, []func([]T)) {
	subs := make([]func([]T), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	return slices.Clone(e.items), subs
}

func notify[T any](subs []func([]T), items []T) {
	for _, fn := range subs {
		fn(items)
	}
}

func (e *Engine[T]) readLocal(ctx context.Context, userID string) ([]T, error) {
	var out []T
	if _, err := localstore.GetJSON(ctx, e.local, LocalKey(e.spec.Name, userID), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine[T]) persistLocked(ctx context.Context, userID string) error {
	truncated, err := localstore.PutList(ctx, e.local, LocalKey(e.spec.Name, userID), e.items, e.spec.Recency, e.opts.KeepOnQuota, e.log)
	if truncated {
		e.inst.cntTruncated.Add(ctx, 1, e.attrs)
	}
	if err != nil {
		e.log.Error("persisting local snapshot", "error", err)
		return fmt.Errorf("persisting %s: %w", e.spec.Name, err)
	}
	return nil
}

func (e *Engine[T]) readLedger(ctx context.Context, userID string) (map[string]bool, error) {
	set := make(map[string]bool)
	if userID == "" {
		return set, nil
	}
	var keys []string
	if _, err := localstore.GetJSON(ctx, e.local, ledgerKey(e.spec.Name, userID), &keys); err != nil {
		return set, err
	}
	for _, k := range keys {
		set[k] = true
	}
	return set, nil
}

func (e *Engine[T]) writeLedger(ctx context.Context, userID string, set map[string]bool) error {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return localstore.PutJSON(ctx, e.local, ledgerKey(e.spec.Name, userID), keys, e.log)
}

func (e *Engine[T]) ledgerUpdateLocked(ctx context.Context, userID string, add bool, keys ...string) {
	if userID == "" {
		return
	}
	set, err := e.readLedger(ctx, userID)
	if err != nil {
		e.log.Error("reading synced-key ledger", "error", err)
	}
	for _, k := range keys {
		if add {
			set[k] = true
		} else {
			delete(set, k)
		}
	}
	if err := e.writeLedger(ctx, userID, set); err != nil {
		e.log.Error("writing synced-key ledger", "error", err)
	}
}

func (e *Engine[T]) readPending(ctx context.Context, userID string) map[string]pendingOp {
	set := make(map[string]pendingOp)
	if userID == "" {
		return set
	}
	if _, err := localstore.GetJSON(ctx, e.local, pendingKey(e.spec.Name, userID), &set); err != nil {
		e.log.Error("reading pending changes", "error", err)
	}
	if set == nil {
		set = make(map[string]pendingOp)
	}
	return set
}

// pendingUpdateLocked queues op for keys, or settles them when op is empty.
func (e *Engine[T]) pendingUpdateLocked(ctx context.Context, userID string, op pendingOp, keys ...string) {
	if userID == "" {
		return
	}
	set := e.readPending(ctx, userID)
	changed := false
	for _, k := range keys {
		if op == "" {
			if _, ok := set[k]; ok {
				delete(set, k)
				changed = true
			}
			continue
		}
		if set[k] != op {
			set[k] = op
			changed = true
		}
	}
	if !changed {
		return
	}
	if err := localstore.PutJSON(ctx, e.local, pendingKey(e.spec.Name, userID), set, e.log); err != nil {
		e.log.Error("writing pending changes", "error", err)
	}
}

func (e *Engine[T]) remoteFailed(ctx context.Context, op string, err error) {
	e.log.Warn("remote operation failed", "op", op, "error", err)
	e.inst.cntRemoteErr.Add(ctx, 1, e.attrs)
	e.rep.ReportError(ctx, e.spec.Name, err)
}
