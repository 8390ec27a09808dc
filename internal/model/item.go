// Package model defines the types shared by the local store, the remote store
// and the sync engine: catalog items, custom lists, settings, and the sync
// bookkeeping records shown to the user.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind discriminates what a catalog id refers to. The same numeric id can
// exist for a movie and a show, so a [Key] always carries both.
type Kind string

const (
	KindMovie   Kind = "movie"
	KindShow    Kind = "tv"
	KindEpisode Kind = "episode"
	KindPerson  Kind = "person"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindMovie, KindShow, KindEpisode, KindPerson:
		return true
	default:
		return false
	}
}

// Key is the composite identity of an [Item]: catalog id plus kind. It is the
// deduplication key of every collection.
type Key struct {
	ID   int64
	Kind Kind
}

// String renders the key as "kind:id", e.g. "movie:603".
func (k Key) String() string {
	return string(k.Kind) + ":" + strconv.FormatInt(k.ID, 10)
}

// ParseKey parses the "kind:id" form produced by [Key.String].
func ParseKey(s string) (Key, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok {
		return Key{}, fmt.Errorf("key %q must look like kind:id", s)
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return Key{}, fmt.Errorf("key %q has a non-numeric id: %w", s, err)
	}
	k := Key{ID: n, Kind: Kind(kind)}
	if !k.Kind.Valid() {
		return Key{}, fmt.Errorf("key %q has unknown kind %q", s, kind)
	}
	return k, nil
}

// Item is one entry of a collection (favorites, watchlist, watched, or a
// custom list). AddedAt and WatchedAt are assigned by the engine, never by
// the caller.
type Item struct {
	ID   int64 `json:"id"`
	Kind Kind  `json:"kind"`

	Title       string   `json:"title"`
	PosterPath  string   `json:"poster_path,omitempty"`
	ProfilePath string   `json:"profile_path,omitempty"`
	ReleaseDate string   `json:"release_date,omitempty"` // YYYY-MM-DD, first air date for shows
	Rating      *float64 `json:"rating,omitempty"`
	GenreIDs    []int    `json:"genre_ids,omitempty"`

	AddedAt   time.Time  `json:"added_at"`
	WatchedAt *time.Time `json:"watched_at,omitempty"`

	// Collection-specific extras.
	Runtime       int    `json:"runtime,omitempty"` // minutes
	ShowID        int64  `json:"show_id,omitempty"`
	SeasonNumber  int    `json:"season_number,omitempty"`
	EpisodeNumber int    `json:"episode_number,omitempty"`
	Status        string `json:"status,omitempty"` // e.g. "watching" for followed shows
}

// Key returns the item's identity key.
func (i Item) Key() Key {
	return Key{ID: i.ID, Kind: i.Kind}
}

// ContentHash returns a deterministic SHA-256 hex digest of the catalog
// fields. AddedAt and WatchedAt are excluded: they differ per replica and say
// nothing about whether the two sides describe the same content.
func (i *Item) ContentHash() string {
	h := sha256.New()
	h.Write([]byte(i.Key().String()))
	h.Write([]byte("|"))
	h.Write([]byte(i.Title))
	h.Write([]byte("|"))
	h.Write([]byte(i.PosterPath))
	h.Write([]byte("|"))
	h.Write([]byte(i.ProfilePath))
	h.Write([]byte("|"))
	h.Write([]byte(i.ReleaseDate))
	h.Write([]byte("|"))
	if i.Rating != nil {
		_, _ = fmt.Fprintf(h, "%.3f", *i.Rating)
	}
	h.Write([]byte("|"))
	for _, g := range i.GenreIDs {
		_, _ = fmt.Fprintf(h, "%d,", g)
	}
	h.Write([]byte("|"))
	_, _ = fmt.Fprintf(h, "%d|%d|%d|%d|%s", i.Runtime, i.ShowID, i.SeasonNumber, i.EpisodeNumber, i.Status)
	return hex.EncodeToString(h.Sum(nil))
}

// Recency is the timestamp used to order an item by "most recent": the
// watched time if set, otherwise the time it was added.
func (i Item) Recency() time.Time {
	if i.WatchedAt != nil {
		return *i.WatchedAt
	}
	return i.AddedAt
}

// CountByKind tallies items per kind.
func CountByKind(items []Item) map[Kind]int {
	counts := make(map[Kind]int)
	for _, it := range items {
		counts[it.Kind]++
	}
	return counts
}
