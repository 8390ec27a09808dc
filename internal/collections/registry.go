package collections

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/njoerd114/watchsync/internal/auth"
	"github.com/njoerd114/watchsync/internal/model"
	"github.com/njoerd114/watchsync/internal/remote"
	"github.com/njoerd114/watchsync/internal/sync"
)

// RemoteItems is the remote side of an item collection. Count backs the
// remote half of [Registry.Stats].
type RemoteItems interface {
	sync.RemoteCollection[model.Item]
	Count(ctx context.Context, userID string) (int, error)
}

// RemoteLists is the remote side of the custom lists collection.
type RemoteLists interface {
	sync.RemoteCollection[model.CustomList]
	sync.Upserter[model.CustomList]
	Count(ctx context.Context, userID string) (int, error)
}

// Backend bundles the remote tables. The zero value is a local-only device.
type Backend struct {
	Favorites RemoteItems
	Watchlist RemoteItems
	Watched   RemoteItems
	Lists     RemoteLists
	Settings  sync.RemoteSettings
}

// NewBackend builds the PostgreSQL tables for every collection.
func NewBackend(c *remote.Client) Backend {
	listKey := func(l model.CustomList) string { return l.ID }
	return Backend{
		Favorites: remote.NewTable(c, Favorites, ItemKey),
		Watchlist: remote.NewTable(c, Watchlist, ItemKey),
		Watched:   remote.NewTable(c, Watched, ItemKey),
		Lists:     remote.NewTable(c, Lists, listKey),
		Settings:  remote.NewSettingsTable(c),
	}
}

// Registry owns one engine per collection and registers each with the
// coordinator.
type Registry struct {
	Favorites *Items
	Watchlist *Items
	Watched   *Items
	Lists     *CustomLists
	Settings  *sync.SettingsEngine

	coord   *sync.Coordinator
	ident   sync.Identity
	backend Backend
	log     *slog.Logger
}

// NewRegistry creates every engine over local and the optional backend.
func NewRegistry(local sync.LocalStore, backend Backend, ident sync.Identity, coord *sync.Coordinator, opts sync.Options, logger *slog.Logger) *Registry {
	items := func(name string, rc RemoteItems) *Items {
		var r sync.RemoteCollection[model.Item]
		if rc != nil {
			r = rc
		}
		return &Items{Engine: sync.NewEngine(ItemSpec(name), local, r, ident, coord, opts, logger)}
	}

	var lists sync.RemoteCollection[model.CustomList]
	if backend.Lists != nil {
		lists = backend.Lists
	}

	r := &Registry{
		Favorites: items(Favorites, backend.Favorites),
		Watchlist: items(Watchlist, backend.Watchlist),
		Watched:   items(Watched, backend.Watched),
		Lists:     newCustomLists(sync.NewEngine(ListSpec(), local, lists, ident, coord, opts, logger)),
		Settings:  sync.NewSettingsEngine(local, backend.Settings, ident, coord, logger),
		coord:     coord,
		ident:     ident,
		backend:   backend,
		log:       logger,
	}
	for _, s := range r.services() {
		coord.RegisterService(s.name, s.load)
	}
	return r
}

type service struct {
	name string
	load sync.ReloadFunc
}

func (r *Registry) services() []service {
	return []service{
		{Favorites, r.Favorites.Load},
		{Watchlist, r.Watchlist.Load},
		{Watched, r.Watched.Load},
		{Lists, r.Lists.Load},
		{Settings, r.Settings.Load},
	}
}

// ItemCollection returns the item collection called name.
func (r *Registry) ItemCollection(name string) (*Items, error) {
	switch name {
	case Favorites:
		return r.Favorites, nil
	case Watchlist:
		return r.Watchlist, nil
	case Watched:
		return r.Watched, nil
	}
	return nil, fmt.Errorf("%w %q (want %s, %s or %s)", ErrUnknownCollection, name, Favorites, Watchlist, Watched)
}

// Reload runs every engine's load concurrently and joins the errors.
func (r *Registry) Reload(ctx context.Context) error {
	svcs := r.services()
	errs := make([]error, len(svcs))
	var wg conc.WaitGroup
	for i, s := range svcs {
		wg.Go(func() {
			if err := s.load(ctx); err != nil {
				errs[i] = fmt.Errorf("%s: %w", s.name, err)
			}
		})
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Bind reloads every collection whenever the session's identity changes.
func (r *Registry) Bind(s *auth.Session) (cancel func()) {
	return s.Subscribe(func(ctx context.Context, userID string) {
		r.log.Info("identity changed, reloading collections", "user_id", userID)
		if err := r.Reload(ctx); err != nil {
			r.log.Warn("reload after identity change finished with errors", "error", err)
		}
	})
}

// Stats counts every collection on both replicas. Local counts reflect the
// loaded state; remote counts are skipped without an identity or backend.
func (r *Registry) Stats(ctx context.Context) (model.SyncStats, error) {
	st := model.SyncStats{
		Local: map[string]int{
			Favorites: r.Favorites.Len(),
			Watchlist: r.Watchlist.Len(),
			Watched:   r.Watched.Len(),
			Lists:     r.Lists.Len(),
			Settings:  len(r.Settings.Snapshot()),
		},
		Remote:    map[string]int{},
		CheckedAt: time.Now().UTC(),
	}

	userID, ok := r.ident.Current()
	if !ok {
		return st, nil
	}

	counters := map[string]interface {
		Count(ctx context.Context, userID string) (int, error)
	}{}
	if r.backend.Favorites != nil {
		counters[Favorites] = r.backend.Favorites
	}
	if r.backend.Watchlist != nil {
		counters[Watchlist] = r.backend.Watchlist
	}
	if r.backend.Watched != nil {
		counters[Watched] = r.backend.Watched
	}
	if r.backend.Lists != nil {
		counters[Lists] = r.backend.Lists
	}

	var errs []error
	for name, c := range counters {
		n, err := c.Count(ctx, userID)
		if err != nil {
			errs = append(errs, fmt.Errorf("counting remote %s: %w", name, err))
			continue
		}
		st.Remote[name] = n
	}
	if r.backend.Settings != nil {
		rec, err := r.backend.Settings.Fetch(ctx, userID)
		if err != nil {
			errs = append(errs, fmt.Errorf("fetching remote settings: %w", err))
		} else {
			st.Remote[Settings] = len(rec)
		}
	}
	return st, errors.Join(errs...)
}

// Adopt offers to copy the anonymous collections into the signed-in ones.
// Settings are not adopted.
func (r *Registry) Adopt(ctx context.Context, in io.Reader, out io.Writer) (int, error) {
	a := sync.NewAdopter(r.log, in, out)
	return a.Run(ctx, r.Favorites, r.Watchlist, r.Watched, r.Lists)
}
