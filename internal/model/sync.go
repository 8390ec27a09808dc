package model

import (
	"fmt"
	"time"
)

// Mode is the user-selected sync policy.
type Mode string

const (
	// ModeNormal syncs on every mutation, with no background retry.
	ModeNormal Mode = "normal"
	// ModePersistence syncs on every mutation and retries failed services
	// in the background.
	ModePersistence Mode = "persistence"
	// ModeSuspended keeps every mutation local.
	ModeSuspended Mode = "suspended"
)

// Next returns the mode that follows m in the normal → persistence →
// suspended → normal cycle. Unknown modes restart the cycle at normal.
func (m Mode) Next() Mode {
	switch m {
	case ModeNormal:
		return ModePersistence
	case ModePersistence:
		return ModeSuspended
	default:
		return ModeNormal
	}
}

// ParseMode validates a persisted mode string.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeNormal, ModePersistence, ModeSuspended:
		return m, nil
	}
	return "", fmt.Errorf("unknown sync mode %q", s)
}

// Status is the aggregate sync health shown to the user.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusError   Status = "error"
	StatusOffline Status = "offline"
)

// LogStatus is the outcome recorded in a [SyncLogEntry].
type LogStatus string

const (
	LogStart   LogStatus = "start"
	LogSuccess LogStatus = "success"
	LogError   LogStatus = "error"
)

// SyncLogEntry is one line of the sync history.
type SyncLogEntry struct {
	Service string    `json:"service"`
	Status  LogStatus `json:"status"`
	At      time.Time `json:"at"`
	Count   *int      `json:"count,omitempty"`
	Detail  string    `json:"detail,omitempty"`
}

// SyncStats is a diagnostic snapshot of per-category counts on each replica.
type SyncStats struct {
	Local     map[string]int `json:"local"`
	Remote    map[string]int `json:"remote"`
	CheckedAt time.Time      `json:"checked_at"`
}
