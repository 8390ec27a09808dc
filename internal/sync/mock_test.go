package sync

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/njoerd114/watchsync/internal/model"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// --- Mock Remote Collection --------------------------------------------------

type mockRemote[T any] struct {
	mu   sync.Mutex
	key  func(T) string
	rows map[string][]T // userID → rows in insertion order

	errSelect     error
	errInsert     error
	errInsertMany error
	errDelete     error
	errUpsert     error

	pageOffsets []int
	pageSizes   []int
	batches     [][]T

	// beforeSelect runs once, outside the lock, before the first page
	// is served.
	beforeSelect func()
	// afterSelect runs once, outside the lock, after a page was served
	// and before SelectPage returns it.
	afterSelect func()
}

func newMockRemote[T any](key func(T) string) *mockRemote[T] {
	return &mockRemote[T]{key: key, rows: make(map[string][]T)}
}

func (m *mockRemote[T]) seed(userID string, rows ...T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[userID] = append(m.rows[userID], rows...)
}

func (m *mockRemote[T]) SelectPage(_ context.Context, userID string, offset, limit int) ([]T, error) {
	m.mu.Lock()
	hook := m.beforeSelect
	m.beforeSelect = nil
	m.mu.Unlock()
	if hook != nil {
		hook()
	}

	page, err := m.selectPage(userID, offset, limit)

	m.mu.Lock()
	after := m.afterSelect
	m.afterSelect = nil
	m.mu.Unlock()
	if after != nil {
		after()
	}
	return page, err
}

func (m *mockRemote[T]) selectPage(userID string, offset, limit int) ([]T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageOffsets = append(m.pageOffsets, offset)
	if m.errSelect != nil {
		return nil, m.errSelect
	}
	rows := m.rows[userID]
	if offset >= len(rows) {
		m.pageSizes = append(m.pageSizes, 0)
		return nil, nil
	}
	page := slices.Clone(rows[offset:min(offset+limit, len(rows))])
	m.pageSizes = append(m.pageSizes, len(page))
	return page, nil
}

func (m *mockRemote[T]) InsertOne(_ context.Context, userID string, row T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errInsert != nil {
		return m.errInsert
	}
	m.insertLocked(userID, row)
	return nil
}

func (m *mockRemote[T]) InsertMany(_ context.Context, userID string, rows []T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, slices.Clone(rows))
	if m.errInsertMany != nil {
		return m.errInsertMany
	}
	for _, r := range rows {
		m.insertLocked(userID, r)
	}
	return nil
}

func (m *mockRemote[T]) DeleteWhere(_ context.Context, userID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errDelete != nil {
		return m.errDelete
	}
	m.rows[userID] = slices.DeleteFunc(m.rows[userID], func(r T) bool { return m.key(r) == key })
	return nil
}

func (m *mockRemote[T]) UpsertOne(_ context.Context, userID string, row T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errUpsert != nil {
		return m.errUpsert
	}
	k := m.key(row)
	if i := slices.IndexFunc(m.rows[userID], func(r T) bool { return m.key(r) == k }); i >= 0 {
		m.rows[userID][i] = row
		return nil
	}
	m.rows[userID] = append(m.rows[userID], row)
	return nil
}

func (m *mockRemote[T]) insertLocked(userID string, row T) {
	k := m.key(row)
	if slices.ContainsFunc(m.rows[userID], func(r T) bool { return m.key(r) == k }) {
		return
	}
	m.rows[userID] = append(m.rows[userID], row)
}

func (m *mockRemote[T]) get(userID string) []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.rows[userID])
}

func (m *mockRemote[T]) setErrors(fn func(m *mockRemote[T])) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
}

// --- Mock Remote Settings ----------------------------------------------------

type mockRemoteSettings struct {
	mu        sync.Mutex
	recs      map[string]model.Settings
	errFetch  error
	errUpsert error
	upserts   []model.Settings
}

func newMockRemoteSettings() *mockRemoteSettings {
	return &mockRemoteSettings{recs: make(map[string]model.Settings)}
}

func (m *mockRemoteSettings) Fetch(_ context.Context, userID string) (model.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errFetch != nil {
		return nil, m.errFetch
	}
	return m.recs[userID].Clone(), nil
}

func (m *mockRemoteSettings) UpsertOne(_ context.Context, userID string, rec model.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts = append(m.upserts, rec.Clone())
	if m.errUpsert != nil {
		return m.errUpsert
	}
	m.recs[userID] = rec.Clone()
	return nil
}

// --- Mock Local Store --------------------------------------------------------

type mockKV struct {
	mu   sync.Mutex
	data map[string]string
}

func newMockKV() *mockKV {
	return &mockKV{data: make(map[string]string)}
}

func (m *mockKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mockKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mockKV) Reclaim(context.Context) (int64, error) { return 0, nil }

func (m *mockKV) seed(t *testing.T, key string, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("encoding seed %q: %v", key, err)
	}
	_ = m.Set(context.Background(), key, string(raw))
}

func (m *mockKV) decode(t *testing.T, key string, dst any) bool {
	t.Helper()
	raw, ok, _ := m.Get(context.Background(), key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		t.Fatalf("decoding %q: %v", key, err)
	}
	return true
}

// --- Mock Identity -----------------------------------------------------------

type mockIdentity struct {
	mu     sync.Mutex
	userID string
}

func (m *mockIdentity) Current() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID, m.userID != ""
}

func (m *mockIdentity) set(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userID = userID
}

// --- Helpers -----------------------------------------------------------------

func itemKey(it model.Item) string { return it.Key().String() }

func movie(id int64, title string) model.Item {
	return model.Item{ID: id, Kind: model.KindMovie, Title: title}
}

func movies(n int) []model.Item {
	out := make([]model.Item, n)
	for i := range out {
		out[i] = movie(int64(i+1), "Movie")
	}
	return out
}

func itemSpec(name string) Spec[model.Item] {
	return Spec[model.Item]{
		Name: name,
		Key:  itemKey,
		Stamp: func(it *model.Item, now time.Time) {
			it.AddedAt = now
		},
		Recency: model.Item.Recency,
		Label:   func(it model.Item) string { return it.Title },
	}
}

func newTestCoordinator(kv LocalStore, ident Identity) *Coordinator {
	return NewCoordinator(context.Background(), kv, ident, CoordinatorOptions{}, testLogger)
}

type itemFixture struct {
	kv     *mockKV
	remote *mockRemote[model.Item]
	ident  *mockIdentity
	coord  *Coordinator
	engine *Engine[model.Item]
}

func newItemFixture(userID string) *itemFixture {
	f := &itemFixture{
		kv:     newMockKV(),
		remote: newMockRemote(itemKey),
		ident:  &mockIdentity{userID: userID},
	}
	f.coord = newTestCoordinator(f.kv, f.ident)
	opts := DefaultOptions()
	opts.PageDelay = 0
	f.engine = NewEngine(itemSpec("favorites"), f.kv, RemoteCollection[model.Item](f.remote), f.ident, f.coord, opts, testLogger)
	return f
}

func keysOf(items []model.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = itemKey(it)
	}
	return out
}
