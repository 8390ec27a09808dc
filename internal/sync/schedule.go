package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/njoerd114/watchsync/internal/localstore"
)

// Schedule is the daily sync preference. At is a local wall-clock time in
// "HH:MM" form.
type Schedule struct {
	Enabled bool   `json:"enabled"`
	At      string `json:"at,omitempty"`
}

// ParseClock validates an "HH:MM" time of day.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("time %q must be HH:MM: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

// Schedule returns the current daily sync preference.
func (c *Coordinator) Schedule() Schedule {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.schedule
}

// SetSchedule validates and persists s.
func (c *Coordinator) SetSchedule(ctx context.Context, s Schedule) error {
	if s.Enabled {
		if _, _, err := ParseClock(s.At); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.schedule = s
	st, subs := c.stateLocked()
	c.mu.Unlock()
	notifyState(subs, st)

	if err := localstore.PutJSON(ctx, c.store, scheduleKey, s, c.log); err != nil {
		return fmt.Errorf("persisting sync schedule: %w", err)
	}
	c.log.Info("sync schedule updated", "enabled", s.Enabled, "at", s.At)
	return nil
}

// CheckSchedule fires the daily sync when now falls in the scheduled minute
// and it has not fired in that minute yet. It is meant to be called
// periodically, more often than once a minute; a minute that is never
// checked is simply skipped, so missed triggers do not fire late. It
// reports whether the sync fired.
func (c *Coordinator) CheckSchedule(ctx context.Context, now time.Time) bool {
	c.mu.Lock()
	s := c.schedule
	if !s.Enabled {
		c.mu.Unlock()
		return false
	}
	hour, minute, err := ParseClock(s.At)
	if err != nil || now.Hour() != hour || now.Minute() != minute {
		c.mu.Unlock()
		return false
	}
	stamp := now.Format("2006-01-02 15:04")
	if c.lastFired == stamp {
		c.mu.Unlock()
		return false
	}
	c.lastFired = stamp
	c.mu.Unlock()

	if err := localstore.PutJSON(ctx, c.store, scheduleLastKey, stamp, c.log); err != nil {
		c.log.Error("persisting last scheduled sync", "error", err)
	}
	c.log.Info("scheduled daily sync firing", "at", s.At)
	if err := c.TriggerManualSync(ctx); err != nil {
		c.log.Warn("scheduled sync finished with errors", "error", err)
	}
	return true
}
