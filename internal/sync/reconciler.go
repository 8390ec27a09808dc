package sync

import "github.com/njoerd114/watchsync/internal/model"

// MergeResult is the outcome of reconciling one collection.
type MergeResult[T any] struct {
	// Merged is the reconciled collection: every remote item followed by
	// the local items the remote side does not have.
	Merged []T

	// LocalOnly are the local items missing remotely that must be pushed.
	LocalOnly []T

	// Dropped are local items missing remotely that were synced before,
	// i.e. deleted on another device. They are not resurrected.
	Dropped []T
}

// Merge reconciles a local and a remote snapshot of the same collection.
// Remote is authoritative for every key it holds. A local item absent
// remotely is kept and queued for push, unless wasSynced reports that its
// key existed remotely before, in which case it is dropped. A nil wasSynced
// keeps every local-only item.
//
// The result is deduplicated by key; the first occurrence wins and remote
// items come first.
func Merge[T any](local, remote []T, key func(T) string, wasSynced func(string) bool) MergeResult[T] {
	res := MergeResult[T]{Merged: make([]T, 0, len(remote)+len(local))}
	seen := make(map[string]bool, len(remote)+len(local))

	for _, r := range remote {
		k := key(r)
		if seen[k] {
			continue
		}
		seen[k] = true
		res.Merged = append(res.Merged, r)
	}

	for _, l := range local {
		k := key(l)
		if seen[k] {
			continue
		}
		seen[k] = true
		if wasSynced != nil && wasSynced(k) {
			res.Dropped = append(res.Dropped, l)
			continue
		}
		res.Merged = append(res.Merged, l)
		res.LocalOnly = append(res.LocalOnly, l)
	}
	return res
}

// Overwritten returns the keys of local items that the remote snapshot
// holds with different content, in local order. Merge replaces them with
// the remote copy.
func Overwritten[T any](local, remote []T, key, hash func(T) string) []string {
	remoteHash := make(map[string]string, len(remote))
	for _, r := range remote {
		k := key(r)
		if _, ok := remoteHash[k]; !ok {
			remoteHash[k] = hash(r)
		}
	}
	var out []string
	for _, l := range local {
		k := key(l)
		if h, ok := remoteHash[k]; ok && h != hash(l) {
			out = append(out, k)
		}
	}
	return out
}

// Dedupe returns items with later duplicates of a key removed.
func Dedupe[T any](items []T, key func(T) string) []T {
	out := make([]T, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		k := key(it)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, it)
	}
	return out
}

// MergeSettings shallow-merges two settings records: for every key present
// remotely the remote value wins, keys only present locally are kept.
func MergeSettings(local, remote model.Settings) model.Settings {
	out := local.Clone()
	for k, v := range remote {
		out[k] = v
	}
	return out
}
