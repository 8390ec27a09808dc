package collections

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/njoerd114/watchsync/internal/auth"
	"github.com/njoerd114/watchsync/internal/model"
)

func TestWatched_StampsWatchedAt(t *testing.T) {
	store := openStore(t)
	r, _ := newTestRegistry(t, store, newTables().backend(), &fixedIdentity{userID: "u1"})

	r.Watched.Add(context.Background(), movie(1, "Alien"))
	r.Favorites.Add(context.Background(), movie(1, "Alien"))

	w, _ := r.Watched.Get("movie:1")
	if w.WatchedAt == nil || w.AddedAt.IsZero() {
		t.Errorf("watched item = %+v, want AddedAt and WatchedAt set", w)
	}
	f, _ := r.Favorites.Get("movie:1")
	if f.WatchedAt != nil {
		t.Errorf("favorite WatchedAt = %v, want nil", f.WatchedAt)
	}
}

func TestItems_CountByKind(t *testing.T) {
	store := openStore(t)
	r, _ := newTestRegistry(t, store, Backend{}, &fixedIdentity{})
	ctx := context.Background()

	r.Watchlist.Add(ctx, movie(1, "Alien"))
	r.Watchlist.Add(ctx, movie(2, "Heat"))
	r.Watchlist.Add(ctx, model.Item{ID: 1, Kind: model.KindShow, Title: "The Wire"})

	got := r.Watchlist.CountByKind()
	if got[model.KindMovie] != 2 || got[model.KindShow] != 1 {
		t.Errorf("CountByKind() = %v, want movie:2 tv:1", got)
	}
}

func TestItems_Toggle(t *testing.T) {
	store := openStore(t)
	r, _ := newTestRegistry(t, store, Backend{}, &fixedIdentity{})
	ctx := context.Background()

	r.Favorites.Toggle(ctx, movie(1, "Alien"))
	if !r.Favorites.IsMember("movie:1") {
		t.Fatal("first Toggle did not add")
	}
	r.Favorites.Toggle(ctx, movie(1, "Alien"))
	if r.Favorites.IsMember("movie:1") {
		t.Error("second Toggle did not remove")
	}
}

func TestItemCollection(t *testing.T) {
	store := openStore(t)
	r, _ := newTestRegistry(t, store, Backend{}, &fixedIdentity{})

	if c, err := r.ItemCollection(Watchlist); err != nil || c != r.Watchlist {
		t.Errorf("ItemCollection(watchlist) = (%v, %v)", c, err)
	}
	if _, err := r.ItemCollection("lists"); !errors.Is(err, ErrUnknownCollection) {
		t.Errorf("ItemCollection(lists) error = %v, want %v", err, ErrUnknownCollection)
	}
}

func TestRegistry_ReloadMergesEveryCollection(t *testing.T) {
	store := openStore(t)
	tb := newTables()
	tb.favorites.seed("u1", movie(1, "Alien"))
	tb.watched.seed("u1", movie(2, "Heat"), movie(3, "Ran"))
	tb.lists.seed("u1", model.CustomList{ID: "l1", Name: "Noir"})
	tb.settings.recs["u1"] = model.Settings{"region": "SE"}
	r, coord := newTestRegistry(t, store, tb.backend(), &fixedIdentity{userID: "u1"})

	if err := r.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	if r.Favorites.Len() != 1 || r.Watched.Len() != 2 || r.Lists.Len() != 1 {
		t.Errorf("lens = (%d, %d, %d), want (1, 2, 1)", r.Favorites.Len(), r.Watched.Len(), r.Lists.Len())
	}
	if v, _ := r.Settings.Get("region"); v != "SE" {
		t.Errorf("region = %v, want SE", v)
	}
	if got := coord.Status(); got != model.StatusIdle {
		t.Errorf("Status() = %v, want %v", got, model.StatusIdle)
	}
}

func TestRegistry_ManualSyncReachesEveryService(t *testing.T) {
	store := openStore(t)
	tb := newTables()
	tb.watchlist.seed("u1", movie(5, "Stalker"))
	r, coord := newTestRegistry(t, store, tb.backend(), &fixedIdentity{userID: "u1"})

	if err := coord.TriggerManualSync(context.Background()); err != nil {
		t.Fatalf("TriggerManualSync: %v", err)
	}

	if !r.Watchlist.IsMember("movie:5") {
		t.Error("watchlist not reloaded by manual sync")
	}
}

func TestRegistry_Stats(t *testing.T) {
	store := openStore(t)
	tb := newTables()
	tb.favorites.seed("u1", movie(1, "Alien"), movie(2, "Heat"))
	tb.settings.recs["u1"] = model.Settings{"a": 1, "b": 2}
	r, _ := newTestRegistry(t, store, tb.backend(), &fixedIdentity{userID: "u1"})
	ctx := context.Background()
	if err := r.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	r.Watchlist.Add(ctx, movie(3, "Ran"))

	st, err := r.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}

	if st.Local[Favorites] != 2 || st.Local[Watchlist] != 1 || st.Local[Settings] != 2 {
		t.Errorf("Local = %v, want favorites:2 watchlist:1 settings:2", st.Local)
	}
	if st.Remote[Favorites] != 2 || st.Remote[Watchlist] != 1 || st.Remote[Lists] != 0 || st.Remote[Settings] != 2 {
		t.Errorf("Remote = %v, want favorites:2 watchlist:1 lists:0 settings:2", st.Remote)
	}
	if st.CheckedAt.IsZero() {
		t.Error("CheckedAt not set")
	}
}

func TestRegistry_StatsAnonymousSkipsRemote(t *testing.T) {
	store := openStore(t)
	r, _ := newTestRegistry(t, store, newTables().backend(), &fixedIdentity{})

	st, err := r.Stats(context.Background())

	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(st.Remote) != 0 {
		t.Errorf("Remote = %v, want empty", st.Remote)
	}
}

func TestRegistry_StatsCountError(t *testing.T) {
	store := openStore(t)
	tb := newTables()
	tb.watched.errCount = errors.New("connection refused")
	r, _ := newTestRegistry(t, store, tb.backend(), &fixedIdentity{userID: "u1"})

	st, err := r.Stats(context.Background())

	if err == nil || !strings.Contains(err.Error(), "counting remote watched") {
		t.Errorf("Stats error = %v, want counting remote watched", err)
	}
	if _, ok := st.Remote[Favorites]; !ok {
		t.Error("other counts missing after one failure")
	}
}

func TestRegistry_BindSwitchesScopes(t *testing.T) {
	store := openStore(t)
	secret := []byte("test-secret")
	ctx := context.Background()
	session, err := auth.NewSession(ctx, store, secret, testLogger)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	tb := newTables()
	tb.favorites.seed("u1", movie(7, "Vertigo"))
	r, _ := newTestRegistry(t, store, tb.backend(), session)
	cancel := r.Bind(session)
	defer cancel()

	r.Favorites.Add(ctx, movie(1, "Anonymous pick"))

	token, err := auth.IssueToken("u1", secret, 0)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := session.SignIn(ctx, token); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if r.Favorites.IsMember("movie:1") || !r.Favorites.IsMember("movie:7") {
		t.Errorf("after sign-in Items() = %v, want only u1's items", r.Favorites.Items())
	}

	if err := session.SignOut(ctx); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if !r.Favorites.IsMember("movie:1") || r.Favorites.IsMember("movie:7") {
		t.Errorf("after sign-out Items() = %v, want the anonymous items", r.Favorites.Items())
	}
}

func TestRegistry_Adopt(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	ident := &fixedIdentity{}
	tb := newTables()
	r, _ := newTestRegistry(t, store, tb.backend(), ident)
	r.Favorites.Add(ctx, movie(1, "Alien"))
	r.Watchlist.Add(ctx, movie(2, "Heat"))

	ident.mu.Lock()
	ident.userID = "u1"
	ident.mu.Unlock()
	if err := r.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	var out strings.Builder
	added, err := r.Adopt(ctx, strings.NewReader("y\n"), &out)

	if err != nil {
		t.Fatalf("Adopt: %v", err)
	}
	if added != 2 {
		t.Errorf("added = %d, want 2", added)
	}
	if len(tb.favorites.get("u1")) != 1 || len(tb.watchlist.get("u1")) != 1 {
		t.Errorf("remote favorites=%d watchlist=%d, want 1 each", len(tb.favorites.get("u1")), len(tb.watchlist.get("u1")))
	}
	if !strings.Contains(out.String(), "Alien (movie)") {
		t.Errorf("summary missing item label:\n%s", out.String())
	}
}
