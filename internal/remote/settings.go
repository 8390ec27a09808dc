package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/njoerd114/watchsync/internal/model"
)

// SettingsTable stores one settings record per user.
type SettingsTable struct {
	c *Client
}

// NewSettingsTable returns the remote settings store.
func NewSettingsTable(c *Client) *SettingsTable {
	return &SettingsTable{c: c}
}

// Fetch returns the user's settings record, or an empty record when the
// user has none yet.
func (s *SettingsTable) Fetch(ctx context.Context, userID string) (model.Settings, error) {
	const q = `SELECT payload FROM user_settings WHERE user_id = $1`

	var out model.Settings
	err := s.c.do(ctx, "selecting settings", func(ctx context.Context) error {
		var raw []byte
		err := s.c.db.QueryRowContext(ctx, q, userID).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			out = model.Settings{}
			return nil
		}
		if err != nil {
			return err
		}
		out = model.Settings{}
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("decoding settings: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertOne replaces the user's full settings record.
func (s *SettingsTable) UpsertOne(ctx context.Context, userID string, rec model.Settings) error {
	const q = `
		INSERT INTO user_settings (user_id, payload, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE SET
		    payload    = EXCLUDED.payload,
		    updated_at = EXCLUDED.updated_at`

	if rec == nil {
		rec = model.Settings{}
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	return s.c.do(ctx, "upserting settings", func(ctx context.Context) error {
		_, err := s.c.db.ExecContext(ctx, q, userID, payload)
		return err
	})
}
