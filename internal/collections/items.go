// Package collections assembles watchsync's concrete collections
// (favorites, watchlist, watched, custom lists and settings) from the
// generic sync engines and wires them to the coordinator and the session.
package collections

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/njoerd114/watchsync/internal/model"
	"github.com/njoerd114/watchsync/internal/sync"
)

// Service names. They double as local store keys and remote collection
// names, so they must never change.
const (
	Favorites = "favorites"
	Watchlist = "watchlist"
	Watched   = "watched"
	Lists     = "lists"
	Settings  = sync.SettingsService
)

// ErrUnknownCollection is returned for a collection name that does not exist.
var ErrUnknownCollection = errors.New("unknown collection")

// ItemKey is the dedup key of every item collection.
func ItemKey(it model.Item) string { return it.Key().String() }

func itemLabel(it model.Item) string {
	if it.ReleaseDate != "" && len(it.ReleaseDate) >= 4 {
		return fmt.Sprintf("%s (%s, %s)", it.Title, it.ReleaseDate[:4], it.Kind)
	}
	return fmt.Sprintf("%s (%s)", it.Title, it.Kind)
}

func cloneItem(it model.Item) model.Item {
	if it.Rating != nil {
		r := *it.Rating
		it.Rating = &r
	}
	if it.WatchedAt != nil {
		w := *it.WatchedAt
		it.WatchedAt = &w
	}
	it.GenreIDs = append([]int(nil), it.GenreIDs...)
	return it
}

// ItemSpec describes an item collection to the engine. The watched
// collection also stamps WatchedAt.
func ItemSpec(name string) sync.Spec[model.Item] {
	stamp := func(it *model.Item, now time.Time) { it.AddedAt = now }
	if name == Watched {
		stamp = func(it *model.Item, now time.Time) {
			it.AddedAt = now
			it.WatchedAt = &now
		}
	}
	return sync.Spec[model.Item]{
		Name:    name,
		Key:     ItemKey,
		Stamp:   stamp,
		Recency: model.Item.Recency,
		Clone:   cloneItem,
		Label:   itemLabel,
		Hash:    func(it model.Item) string { return it.ContentHash() },
	}
}

// Items is one item collection.
type Items struct {
	*sync.Engine[model.Item]
}

// CountByKind tallies the collection's items per kind.
func (c *Items) CountByKind() map[model.Kind]int {
	return model.CountByKind(c.Items())
}

// Toggle adds item when absent and removes it otherwise.
func (c *Items) Toggle(ctx context.Context, item model.Item) sync.Result {
	k := ItemKey(item)
	if c.IsMember(k) {
		return c.Remove(ctx, k)
	}
	return c.Add(ctx, item)
}
