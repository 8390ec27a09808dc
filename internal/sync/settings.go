package sync

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/njoerd114/watchsync/internal/localstore"
	"github.com/njoerd114/watchsync/internal/model"
)

// SettingsService is the service name of the settings engine.
const SettingsService = "settings"

// SettingsEngine owns the user's preference record. Unlike list-shaped
// collections it reconciles by key: the remote value wins for every key the
// remote record has, except keys whose last upsert did not reach the remote
// store yet.
type SettingsEngine struct {
	local  LocalStore
	remote RemoteSettings
	ident  Identity
	rep    Reporter
	log    *slog.Logger
	inst   instruments
	attrs  metric.MeasurementOption

	loads singleflight.Group
	opMu  sync.Mutex

	mu      sync.Mutex
	loaded  bool
	scope   string
	rec     model.Settings
	subs    map[int]func(model.Settings)
	nextSub int
}

// NewSettingsEngine creates a SettingsEngine. remote may be nil on a device
// without a remote store.
func NewSettingsEngine(local LocalStore, remote RemoteSettings, ident Identity, rep Reporter, logger *slog.Logger) *SettingsEngine {
	return &SettingsEngine{
		local:  local,
		remote: remote,
		ident:  ident,
		rep:    rep,
		log:    logger.With("collection", SettingsService),
		inst:   newInstruments(logger),
		attrs:  metric.WithAttributes(attribute.String("collection", SettingsService)),
		rec:    model.Settings{},
		subs:   make(map[int]func(model.Settings)),
	}
}

// Name returns the service name.
func (s *SettingsEngine) Name() string { return SettingsService }

// Load publishes the local record and, when sync is enabled, merges it with
// the remote record. Keys updated locally but never confirmed remotely keep
// their local value, and the merged record is pushed back.
func (s *SettingsEngine) Load(ctx context.Context) error {
	userID, _ := s.ident.Current()
	_, err, _ := s.loads.Do(LocalKey(SettingsService, userID), func() (any, error) {
		return nil, s.load(ctx, userID)
	})
	return err
}

func (s *SettingsEngine) load(ctx context.Context, userID string) error {
	ctx, span := s.inst.tracer.Start(ctx, spanSettingsLoad,
		trace.WithAttributes(attribute.String("collection", SettingsService)))
	defer span.End()

	s.mu.Lock()
	s.ensureScopeLocked(ctx, userID)
	rec, subs := s.changedLocked()
	s.mu.Unlock()
	notifySettings(subs, rec)

	if userID == "" || s.remote == nil || !s.rep.SyncEnabled() {
		return nil
	}

	s.rep.ReportStart(ctx, SettingsService)
	remoteRec, err := s.remote.Fetch(ctx, userID)
	if err != nil {
		s.remoteFailed(ctx, "fetching remote settings", err)
		span.RecordError(err)
		return fmt.Errorf("loading settings: %w", err)
	}

	s.mu.Lock()
	if s.scope != userID {
		s.mu.Unlock()
		s.rep.ReportSuccess(ctx, SettingsService, "discarded: identity changed", 0)
		return nil
	}
	local, err := s.readLocal(ctx, userID)
	if err != nil {
		s.log.Error("re-reading local settings, using in-memory record", "error", err)
		local = s.rec.Clone()
	}
	pending := s.readPending(ctx, userID)

	merged := MergeSettings(local, remoteRec)
	for k := range pending {
		if v, ok := local[k]; ok {
			merged[k] = v
		}
	}
	s.rec = merged
	_ = s.persistLocked(ctx, userID)
	rec, subs = s.changedLocked()
	s.mu.Unlock()
	notifySettings(subs, rec)

	s.rep.ReportSuccess(ctx, SettingsService, fmt.Sprintf("loaded %d settings", len(merged)), len(merged))

	if len(pending) == 0 {
		return nil
	}
	if err := s.pushPending(ctx, userID); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// pushPending upserts the current record for keys changed while the
// remote store was out of reach. It holds opMu, so the record and the
// pending set it reads are not mid-update, and it settles only the keys
// that upsert carried.
func (s *SettingsEngine) pushPending(ctx context.Context, userID string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.scope != userID {
		s.mu.Unlock()
		return nil
	}
	pending := s.readPending(ctx, userID)
	rec := s.rec.Clone()
	s.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}

	s.log.Info("pushing settings changed while offline", "keys", len(pending))
	s.rep.ReportStart(ctx, SettingsService)
	if err := s.remote.UpsertOne(ctx, userID, rec); err != nil {
		s.remoteFailed(ctx, "pushing pending settings", err)
		return fmt.Errorf("pushing pending settings: %w", err)
	}
	s.mu.Lock()
	if s.scope == userID {
		s.clearPending(ctx, userID, slices.Collect(maps.Keys(pending)))
	}
	s.mu.Unlock()
	s.inst.cntPushed.Add(ctx, int64(len(pending)), s.attrs)
	s.rep.ReportSuccess(ctx, SettingsService, "pushed pending settings", len(pending))
	return nil
}

// UpdateOne sets a single key.
func (s *SettingsEngine) UpdateOne(ctx context.Context, key string, value any) Result {
	return s.UpdateMany(ctx, model.Settings{key: value})
}

// UpdateMany applies partial to the local record first and then upserts the
// full record when sync is enabled. A failed upsert is not rolled back: the
// keys are remembered as pending and win over the remote value on the next
// load.
func (s *SettingsEngine) UpdateMany(ctx context.Context, partial model.Settings) Result {
	if len(partial) == 0 {
		return Result{}
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	userID, ok := s.ident.Current()
	enabled := ok && s.remote != nil && s.rep.SyncEnabled()

	s.mu.Lock()
	s.ensureScopeLocked(ctx, userID)
	next := s.rec.Clone()
	maps.Copy(next, partial)
	s.rec = next
	res := Result{Changed: true}
	res.LocalErr = s.persistLocked(ctx, userID)
	if userID != "" {
		s.addPending(ctx, userID, slices.Collect(maps.Keys(partial)))
	}
	rec, subs := s.changedLocked()
	s.mu.Unlock()
	notifySettings(subs, rec)

	if !enabled {
		return res
	}

	s.rep.ReportStart(ctx, SettingsService)
	if err := s.remote.UpsertOne(ctx, userID, rec); err != nil {
		res.RemoteErr = err
		s.remoteFailed(ctx, "upserting settings", err)
		return res
	}
	res.Synced = true
	s.mu.Lock()
	if s.scope == userID {
		s.clearPending(ctx, userID, slices.Collect(maps.Keys(partial)))
	}
	s.mu.Unlock()
	s.rep.ReportSuccess(ctx, SettingsService, fmt.Sprintf("updated %d settings", len(partial)), len(partial))
	return res
}

// Get returns the value of key.
func (s *SettingsEngine) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.rec[key]
	return v, ok
}

// Snapshot returns a copy of the record.
func (s *SettingsEngine) Snapshot() model.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Clone()
}

// Subscribe registers fn to receive every published record.
func (s *SettingsEngine) Subscribe(fn func(model.Settings)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *SettingsEngine) ensureScopeLocked(ctx context.Context, userID string) {
	if s.loaded && s.scope == userID {
		return
	}
	rec, err := s.readLocal(ctx, userID)
	if err != nil {
		s.log.Error("reading local settings", "error", err)
		rec = model.Settings{}
	}
	s.rec = rec
	s.scope = userID
	s.loaded = true
}

func (s *SettingsEngine) changedLocked() (model.Settings, []func(model.Settings)) {
	subs := make([]func(model.Settings), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	return s.rec.Clone(), subs
}

func notifySettings(subs []func(model.Settings), rec model.Settings) {
	for _, fn := range subs {
		fn(rec)
	}
}

func (s *SettingsEngine) readLocal(ctx context.Context, userID string) (model.Settings, error) {
	rec := model.Settings{}
	if _, err := localstore.GetJSON(ctx, s.local, LocalKey(SettingsService, userID), &rec); err != nil {
		return model.Settings{}, err
	}
	if rec == nil {
		rec = model.Settings{}
	}
	return rec, nil
}

func (s *SettingsEngine) persistLocked(ctx context.Context, userID string) error {
	if err := localstore.PutJSON(ctx, s.local, LocalKey(SettingsService, userID), s.rec, s.log); err != nil {
		s.log.Error("persisting local settings", "error", err)
		return fmt.Errorf("persisting settings: %w", err)
	}
	return nil
}

func (s *SettingsEngine) readPending(ctx context.Context, userID string) map[string]bool {
	set := make(map[string]bool)
	var keys []string
	if _, err := localstore.GetJSON(ctx, s.local, pendingKey(SettingsService, userID), &keys); err != nil {
		s.log.Error("reading pending settings keys", "error", err)
	}
	for _, k := range keys {
		set[k] = true
	}
	return set
}

func (s *SettingsEngine) addPending(ctx context.Context, userID string, keys []string) {
	set := s.readPending(ctx, userID)
	for _, k := range keys {
		set[k] = true
	}
	all := slices.Sorted(maps.Keys(set))
	if err := localstore.PutJSON(ctx, s.local, pendingKey(SettingsService, userID), all, s.log); err != nil {
		s.log.Error("writing pending settings keys", "error", err)
	}
}

// clearPending settles keys. Keys queued by other updates stay pending.
func (s *SettingsEngine) clearPending(ctx context.Context, userID string, keys []string) {
	set := s.readPending(ctx, userID)
	for _, k := range keys {
		delete(set, k)
	}
	all := slices.Sorted(maps.Keys(set))
	if err := localstore.PutJSON(ctx, s.local, pendingKey(SettingsService, userID), all, s.log); err != nil {
		s.log.Error("clearing pending settings keys", "error", err)
	}
}

func (s *SettingsEngine) remoteFailed(ctx context.Context, op string, err error) {
	s.log.Warn("remote operation failed", "op", op, "error", err)
	s.inst.cntRemoteErr.Add(ctx, 1, s.attrs)
	s.rep.ReportError(ctx, SettingsService, err)
}
