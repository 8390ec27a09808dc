package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// KV is the subset of [Store] the snapshot helpers need. Engines depend on
// this interface so tests can inject a fake with a tiny quota.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Reclaim(ctx context.Context) (int64, error)
}

// GetJSON decodes the JSON value stored under key into dst. It reports
// whether the key existed.
func GetJSON(ctx context.Context, kv KV, key string, dst any) (bool, error) {
	raw, ok, err := kv.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, fmt.Errorf("decoding %q: %w", key, err)
	}
	return true, nil
}

// PutJSON encodes v and stores it under key. On quota pressure it reclaims
// cache entries and retries once.
func PutJSON(ctx context.Context, kv KV, key string, v any, log *slog.Logger) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %q: %w", key, err)
	}
	err = kv.Set(ctx, key, string(raw))
	if !errors.Is(err, ErrQuotaExceeded) {
		return err
	}
	return reclaimAndRetry(ctx, kv, key, string(raw), log)
}

// PutList stores items under key as a JSON array. When the store is over
// quota even after reclaiming caches, it keeps only the keep most recent
// items (by recency) and persists those. truncated reports whether that
// fallback was used; the loss is always logged at WARN.
func PutList[T any](ctx context.Context, kv KV, key string, items []T, recency func(T) time.Time, keep int, log *slog.Logger) (truncated bool, err error) {
	if items == nil {
		items = []T{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return false, fmt.Errorf("encoding %q: %w", key, err)
	}

	err = kv.Set(ctx, key, string(raw))
	if !errors.Is(err, ErrQuotaExceeded) {
		return false, err
	}
	err = reclaimAndRetry(ctx, kv, key, string(raw), log)
	if !errors.Is(err, ErrQuotaExceeded) || keep <= 0 || len(items) <= keep {
		return false, err
	}

	kept := MostRecent(items, recency, keep)
	raw, err = json.Marshal(kept)
	if err != nil {
		return false, fmt.Errorf("encoding truncated %q: %w", key, err)
	}
	if err := kv.Set(ctx, key, string(raw)); err != nil {
		return false, fmt.Errorf("writing truncated %q: %w", key, err)
	}
	log.Warn("local snapshot truncated to fit quota",
		"key", key,
		"items", len(items),
		"kept", len(kept),
	)
	return true, nil
}

func reclaimAndRetry(ctx context.Context, kv KV, key, value string, log *slog.Logger) error {
	n, rerr := kv.Reclaim(ctx)
	if rerr != nil {
		log.Error("reclaiming local cache entries", "key", key, "error", rerr)
	} else {
		log.Info("local store over quota, reclaimed cache entries", "key", key, "reclaimed", n)
	}
	return kv.Set(ctx, key, value)
}

// MostRecent returns the n items with the latest recency, preserving their
// original relative order.
func MostRecent[T any](items []T, recency func(T) time.Time, n int) []T {
	if n >= len(items) {
		return append([]T(nil), items...)
	}
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return recency(items[idx[a]]).After(recency(items[idx[b]]))
	})
	keepIdx := idx[:n]
	sort.Ints(keepIdx)

	out := make([]T, 0, n)
	for _, i := range keepIdx {
		out = append(out, items[i])
	}
	return out
}
