package sync

import (
	"slices"
	"testing"

	"github.com/njoerd114/watchsync/internal/model"
)

func TestMerge_KeepsLocalOnlyItems(t *testing.T) {
	local := []model.Item{movie(1, "Alien"), movie(2, "Heat")}
	remote := []model.Item{movie(1, "Alien")}

	res := Merge(local, remote, itemKey, nil)

	if got, want := keysOf(res.Merged), []string{"movie:1", "movie:2"}; !slices.Equal(got, want) {
		t.Errorf("Merged = %v, want %v", got, want)
	}
	if got, want := keysOf(res.LocalOnly), []string{"movie:2"}; !slices.Equal(got, want) {
		t.Errorf("LocalOnly = %v, want %v", got, want)
	}
	if len(res.Dropped) != 0 {
		t.Errorf("Dropped = %v, want none", keysOf(res.Dropped))
	}
}

func TestMerge_RemoteWinsForSharedKeys(t *testing.T) {
	local := []model.Item{movie(1, "Old title")}
	remote := []model.Item{movie(1, "New title")}

	res := Merge(local, remote, itemKey, nil)

	if len(res.Merged) != 1 {
		t.Fatalf("len(Merged) = %d, want 1", len(res.Merged))
	}
	if res.Merged[0].Title != "New title" {
		t.Errorf("Title = %q, want %q", res.Merged[0].Title, "New title")
	}
	if len(res.LocalOnly) != 0 {
		t.Errorf("LocalOnly = %v, want none", keysOf(res.LocalOnly))
	}
}

func TestOverwritten_ReportsChangedContentOnly(t *testing.T) {
	local := []model.Item{movie(1, "Alien"), movie(2, "Heat"), movie(3, "Ran")}
	remote := []model.Item{movie(1, "Alien"), movie(2, "Heat (1995)")}
	hash := func(it model.Item) string { return it.ContentHash() }

	got := Overwritten(local, remote, itemKey, hash)

	if want := []string{"movie:2"}; !slices.Equal(got, want) {
		t.Errorf("Overwritten = %v, want %v", got, want)
	}
}

func TestMerge_DropsPreviouslySyncedItems(t *testing.T) {
	local := []model.Item{movie(1, "Alien"), movie(2, "Heat"), movie(3, "Ran")}
	remote := []model.Item{movie(1, "Alien")}
	ledger := map[string]bool{"movie:1": true, "movie:2": true}

	res := Merge(local, remote, itemKey, func(k string) bool { return ledger[k] })

	if got, want := keysOf(res.Merged), []string{"movie:1", "movie:3"}; !slices.Equal(got, want) {
		t.Errorf("Merged = %v, want %v", got, want)
	}
	if got, want := keysOf(res.Dropped), []string{"movie:2"}; !slices.Equal(got, want) {
		t.Errorf("Dropped = %v, want %v", got, want)
	}
	if got, want := keysOf(res.LocalOnly), []string{"movie:3"}; !slices.Equal(got, want) {
		t.Errorf("LocalOnly = %v, want %v", got, want)
	}
}

func TestMerge_Deduplicates(t *testing.T) {
	local := []model.Item{movie(2, "Heat"), movie(2, "Heat again")}
	remote := []model.Item{movie(1, "Alien"), movie(1, "Alien dup")}

	res := Merge(local, remote, itemKey, nil)

	if got, want := keysOf(res.Merged), []string{"movie:1", "movie:2"}; !slices.Equal(got, want) {
		t.Errorf("Merged = %v, want %v", got, want)
	}
	if res.Merged[0].Title != "Alien" {
		t.Errorf("first occurrence not kept: Title = %q", res.Merged[0].Title)
	}
}

func TestMerge_SameIDDifferentKind(t *testing.T) {
	local := []model.Item{{ID: 7, Kind: model.KindShow, Title: "Show"}}
	remote := []model.Item{{ID: 7, Kind: model.KindMovie, Title: "Movie"}}

	res := Merge(local, remote, itemKey, nil)

	if len(res.Merged) != 2 {
		t.Errorf("len(Merged) = %d, want 2", len(res.Merged))
	}
}

func TestDedupe(t *testing.T) {
	in := []model.Item{movie(1, "a"), movie(2, "b"), movie(1, "c"), movie(3, "d"), movie(2, "e")}

	got := Dedupe(in, itemKey)

	if want := []string{"movie:1", "movie:2", "movie:3"}; !slices.Equal(keysOf(got), want) {
		t.Errorf("Dedupe = %v, want %v", keysOf(got), want)
	}
	if len(in) != 5 {
		t.Errorf("input modified: len = %d", len(in))
	}
}

func TestMergeSettings_RemoteWinsPerKey(t *testing.T) {
	local := model.Settings{"a": 1, "b": 2}
	remote := model.Settings{"a": 9}

	got := MergeSettings(local, remote)

	if got["a"] != 9 || got["b"] != 2 || len(got) != 2 {
		t.Errorf("MergeSettings = %v, want map[a:9 b:2]", got)
	}
	if local["a"] != 1 {
		t.Errorf("local modified: a = %v", local["a"])
	}
}

func TestMergeSettings_NilInputs(t *testing.T) {
	got := MergeSettings(nil, model.Settings{"x": "y"})
	if got["x"] != "y" {
		t.Errorf("x = %v, want y", got["x"])
	}
	if got := MergeSettings(model.Settings{"k": true}, nil); got["k"] != true {
		t.Errorf("k = %v, want true", got["k"])
	}
}
