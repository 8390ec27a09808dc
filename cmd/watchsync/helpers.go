package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"

	"github.com/njoerd114/watchsync/internal/model"
	wsync "github.com/njoerd114/watchsync/internal/sync"
)

// itemFlags are the optional catalog fields accepted by add commands.
type itemFlags struct {
	releaseDate string
	poster      string
	rating      float64
	runtime     int
}

// parseItem builds an item from "<kind> <id> <title...>".
func parseItem(args []string, f itemFlags) (model.Item, error) {
	if len(args) < 3 {
		return model.Item{}, fmt.Errorf("expected <kind> <id> <title>")
	}
	kind := model.Kind(strings.ToLower(args[0]))
	if !kind.Valid() {
		return model.Item{}, fmt.Errorf("unknown kind %q (want movie, tv, episode or person)", args[0])
	}
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || id <= 0 {
		return model.Item{}, fmt.Errorf("id %q must be a positive number", args[1])
	}
	title := strings.TrimSpace(strings.Join(args[2:], " "))
	if title == "" {
		return model.Item{}, fmt.Errorf("title must not be empty")
	}

	item := model.Item{
		ID:         id,
		Kind:       kind,
		Title:      title,
		PosterPath: f.poster,
		Runtime:    f.runtime,
	}
	if f.releaseDate != "" {
		if _, err := time.Parse(time.DateOnly, f.releaseDate); err != nil {
			return model.Item{}, fmt.Errorf("release date %q must be YYYY-MM-DD", f.releaseDate)
		}
		item.ReleaseDate = f.releaseDate
	}
	if f.rating != 0 {
		if f.rating < 0 || f.rating > 10 {
			return model.Item{}, fmt.Errorf("rating %.1f must be between 0 and 10", f.rating)
		}
		r := f.rating
		item.Rating = &r
	}
	return item, nil
}

// parseSettingValue decodes JSON literals (numbers, booleans, null, arrays,
// objects, quoted strings) and falls back to the raw text.
func parseSettingValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

func formatSettingValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// reportResult prints the outcome of a mutation and turns failures that
// undid the change into errors.
func reportResult(w io.Writer, what string, res wsync.Result) error {
	switch {
	case res.LocalErr != nil && !res.Changed:
		return res.LocalErr
	case !res.Changed:
		fmt.Fprintf(w, "%s: nothing to change\n", what)
	case res.RolledBack:
		return fmt.Errorf("%s: remote store rejected the change, reverted: %w", what, res.RemoteErr)
	case res.Synced:
		fmt.Fprintf(w, "%s: saved and synced\n", what)
	case res.RemoteErr != nil:
		fmt.Fprintf(w, "%s: saved on this device, sync failed (%v)\n", what, res.RemoteErr)
	default:
		fmt.Fprintf(w, "%s: saved on this device\n", what)
	}
	if res.LocalErr != nil {
		return fmt.Errorf("%s: saving locally: %w", what, res.LocalErr)
	}
	return nil
}

func itemRows(items []model.Item, watched bool) [][]string {
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		row := []string{it.Key().String(), it.Title, releaseYear(it.ReleaseDate), humanize.Time(it.AddedAt)}
		if watched {
			w := ""
			if it.WatchedAt != nil {
				w = humanize.Time(*it.WatchedAt)
			}
			row = append(row, w)
		}
		rows = append(rows, row)
	}
	return rows
}

func releaseYear(date string) string {
	if len(date) >= 4 {
		return date[:4]
	}
	return ""
}

// kindSummary renders "3 items (movie: 2, tv: 1)".
func kindSummary(counts map[model.Kind]int) string {
	total := 0
	parts := make([]string, 0, len(counts))
	for k, n := range counts {
		total += n
		parts = append(parts, fmt.Sprintf("%s: %d", k, n))
	}
	sort.Strings(parts)
	if total == 0 {
		return "0 items"
	}
	return fmt.Sprintf("%s (%s)", english.Plural(total, "item", "items"), strings.Join(parts, ", "))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func displayUser(userID string, ok bool) string {
	if !ok {
		return "anonymous"
	}
	return userID
}
