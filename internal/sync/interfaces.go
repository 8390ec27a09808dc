// Package sync implements local/remote synchronization for watchsync's
// collections. Every collection keeps an always-available local replica and
// reconciles it with the remote store whenever an identity is bound.
//
// The package contains these main components:
//
//   - [Engine] owns one list-shaped collection and drives its
//     load/merge/persist/push cycle and optimistic mutations.
//   - [SettingsEngine] does the same for the keyed settings record.
//   - [Merge] and [MergeSettings] are the pure reconciliation rules.
//   - [Coordinator] tracks mode, status, history and background retries
//     across all engines.
//   - [Adopter] copies anonymous items into a signed-in account on request.
package sync

import (
	"context"

	"github.com/njoerd114/watchsync/internal/localstore"
	"github.com/njoerd114/watchsync/internal/model"
)

// RemoteCollection is the remote side of one list-shaped collection.
// Implemented by [remote.Table].
type RemoteCollection[T any] interface {
	SelectPage(ctx context.Context, userID string, offset, limit int) ([]T, error)
	InsertOne(ctx context.Context, userID string, row T) error
	InsertMany(ctx context.Context, userID string, rows []T) error
	DeleteWhere(ctx context.Context, userID, key string) error
}

// Upserter replaces a whole row. Collections whose rows change after
// creation (custom lists) need it for [Engine.Update].
type Upserter[T any] interface {
	UpsertOne(ctx context.Context, userID string, row T) error
}

// RemoteSettings is the remote settings record. Implemented by
// [remote.SettingsTable].
type RemoteSettings interface {
	Fetch(ctx context.Context, userID string) (model.Settings, error)
	UpsertOne(ctx context.Context, userID string, rec model.Settings) error
}

// LocalStore is the device-local key/value store. Implemented by
// [localstore.Store].
type LocalStore = localstore.KV

// Identity reports the user the device is currently bound to.
// Implemented by [auth.Session].
type Identity interface {
	Current() (userID string, ok bool)
}

// Reporter receives the lifecycle of every remote operation and decides
// whether remote operations are allowed at all. Implemented by
// [Coordinator].
type Reporter interface {
	ReportStart(ctx context.Context, service string)
	ReportSuccess(ctx context.Context, service, detail string, count int)
	ReportError(ctx context.Context, service string, err error)
	SyncEnabled() bool
}
