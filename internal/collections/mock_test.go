package collections

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/njoerd114/watchsync/internal/localstore"
	"github.com/njoerd114/watchsync/internal/model"
	wsync "github.com/njoerd114/watchsync/internal/sync"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// --- Mock Table --------------------------------------------------------------

type mockTable[T any] struct {
	mu        sync.Mutex
	key       func(T) string
	rows      map[string][]T
	errUpsert error
	errCount  error
}

func newMockTable[T any](key func(T) string) *mockTable[T] {
	return &mockTable[T]{key: key, rows: make(map[string][]T)}
}

func (m *mockTable[T]) SelectPage(_ context.Context, userID string, offset, limit int) ([]T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.rows[userID]
	if offset >= len(rows) {
		return nil, nil
	}
	return slices.Clone(rows[offset:min(offset+limit, len(rows))]), nil
}

func (m *mockTable[T]) InsertOne(ctx context.Context, userID string, row T) error {
	return m.InsertMany(ctx, userID, []T{row})
}

func (m *mockTable[T]) InsertMany(_ context.Context, userID string, rows []T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		if m.indexLocked(userID, m.key(r)) < 0 {
			m.rows[userID] = append(m.rows[userID], r)
		}
	}
	return nil
}

func (m *mockTable[T]) DeleteWhere(_ context.Context, userID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.indexLocked(userID, key); i >= 0 {
		m.rows[userID] = slices.Delete(m.rows[userID], i, i+1)
	}
	return nil
}

func (m *mockTable[T]) UpsertOne(_ context.Context, userID string, row T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errUpsert != nil {
		return m.errUpsert
	}
	if i := m.indexLocked(userID, m.key(row)); i >= 0 {
		m.rows[userID][i] = row
		return nil
	}
	m.rows[userID] = append(m.rows[userID], row)
	return nil
}

func (m *mockTable[T]) Count(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errCount != nil {
		return 0, m.errCount
	}
	return len(m.rows[userID]), nil
}

func (m *mockTable[T]) indexLocked(userID, key string) int {
	return slices.IndexFunc(m.rows[userID], func(r T) bool { return m.key(r) == key })
}

func (m *mockTable[T]) seed(userID string, rows ...T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[userID] = append(m.rows[userID], rows...)
}

func (m *mockTable[T]) get(userID string) []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.rows[userID])
}

func (m *mockTable[T]) setUpsertErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errUpsert = err
}

// --- Mock Settings -----------------------------------------------------------

type mockSettings struct {
	mu   sync.Mutex
	recs map[string]model.Settings
}

func (m *mockSettings) Fetch(_ context.Context, userID string) (model.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recs[userID].Clone(), nil
}

func (m *mockSettings) UpsertOne(_ context.Context, userID string, rec model.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[userID] = rec.Clone()
	return nil
}

// --- Fixture -----------------------------------------------------------------

type fixedIdentity struct {
	mu     sync.Mutex
	userID string
}

func (f *fixedIdentity) Current() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.userID, f.userID != ""
}

type tables struct {
	favorites *mockTable[model.Item]
	watchlist *mockTable[model.Item]
	watched   *mockTable[model.Item]
	lists     *mockTable[model.CustomList]
	settings  *mockSettings
}

func newTables() tables {
	return tables{
		favorites: newMockTable(ItemKey),
		watchlist: newMockTable(ItemKey),
		watched:   newMockTable(ItemKey),
		lists:     newMockTable(func(l model.CustomList) string { return l.ID }),
		settings:  &mockSettings{recs: make(map[string]model.Settings)},
	}
}

func (t tables) backend() Backend {
	return Backend{
		Favorites: t.favorites,
		Watchlist: t.watchlist,
		Watched:   t.watched,
		Lists:     t.lists,
		Settings:  t.settings,
	}
}

func openStore(t *testing.T) *localstore.Store {
	t.Helper()
	s, err := localstore.Open(filepath.Join(t.TempDir(), "local.db"))
	if err != nil {
		t.Fatalf("localstore.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestRegistry(t *testing.T, store *localstore.Store, b Backend, ident wsync.Identity) (*Registry, *wsync.Coordinator) {
	t.Helper()
	coord := wsync.NewCoordinator(context.Background(), store, ident, wsync.CoordinatorOptions{}, testLogger)
	opts := wsync.DefaultOptions()
	opts.PageDelay = 0
	return NewRegistry(store, b, ident, coord, opts, testLogger), coord
}

func movie(id int64, title string) model.Item {
	return model.Item{ID: id, Kind: model.KindMovie, Title: title}
}
