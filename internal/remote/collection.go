package remote

import (
	"context"
	"encoding/json"
	"fmt"
)

// Table is one user-scoped collection in the collection_items table. Rows
// are stored as JSON payloads addressed by key(row).
type Table[T any] struct {
	c          *Client
	collection string
	key        func(T) string
}

// NewTable returns the remote view of collection. key must produce the
// same identity key the local engine deduplicates by.
func NewTable[T any](c *Client, collection string, key func(T) string) *Table[T] {
	return &Table[T]{c: c, collection: collection, key: key}
}

// Collection returns the collection name rows are stored under.
func (t *Table[T]) Collection() string { return t.collection }

// SelectPage returns up to limit rows starting at offset, oldest first.
func (t *Table[T]) SelectPage(ctx context.Context, userID string, offset, limit int) ([]T, error) {
	const q = `
		SELECT payload FROM collection_items
		WHERE user_id = $1 AND collection = $2
		ORDER BY created_at, item_key
		LIMIT $3 OFFSET $4`

	var out []T
	err := t.c.do(ctx, "selecting "+t.collection+" page", func(ctx context.Context) error {
		out = out[:0]
		rows, err := t.c.db.QueryContext(ctx, q, userID, t.collection, limit, offset)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var raw []byte
			if err := rows.Scan(&raw); err != nil {
				return fmt.Errorf("scanning row: %w", err)
			}
			var row T
			if err := json.Unmarshal(raw, &row); err != nil {
				return fmt.Errorf("decoding row: %w", err)
			}
			out = append(out, row)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns how many rows the user has in this collection.
func (t *Table[T]) Count(ctx context.Context, userID string) (int, error) {
	const q = `SELECT COUNT(*) FROM collection_items WHERE user_id = $1 AND collection = $2`

	var n int
	err := t.c.do(ctx, "counting "+t.collection, func(ctx context.Context) error {
		return t.c.db.QueryRowContext(ctx, q, userID, t.collection).Scan(&n)
	})
	return n, err
}

const insertItem = `
	INSERT INTO collection_items (user_id, collection, item_key, payload)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (user_id, collection, item_key) DO NOTHING`

// InsertOne stores row. Inserting a key that already exists is a no-op.
func (t *Table[T]) InsertOne(ctx context.Context, userID string, row T) error {
	payload, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encoding %s row: %w", t.collection, err)
	}
	return t.c.do(ctx, "inserting into "+t.collection, func(ctx context.Context) error {
		_, err := t.c.db.ExecContext(ctx, insertItem, userID, t.collection, t.key(row), payload)
		return err
	})
}

// InsertMany stores rows in a single transaction; either all rows are
// written or none.
func (t *Table[T]) InsertMany(ctx context.Context, userID string, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	payloads := make([][]byte, len(rows))
	for i, row := range rows {
		p, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("encoding %s row %d: %w", t.collection, i, err)
		}
		payloads[i] = p
	}

	return t.c.do(ctx, "batch inserting into "+t.collection, func(ctx context.Context) error {
		tx, err := t.c.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		for i, row := range rows {
			if _, err := tx.ExecContext(ctx, insertItem, userID, t.collection, t.key(row), payloads[i]); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// UpsertOne stores row, replacing the whole payload if the key exists.
func (t *Table[T]) UpsertOne(ctx context.Context, userID string, row T) error {
	const q = `
		INSERT INTO collection_items (user_id, collection, item_key, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, collection, item_key) DO UPDATE SET payload = EXCLUDED.payload`

	payload, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encoding %s row: %w", t.collection, err)
	}
	return t.c.do(ctx, "upserting into "+t.collection, func(ctx context.Context) error {
		_, err := t.c.db.ExecContext(ctx, q, userID, t.collection, t.key(row), payload)
		return err
	})
}

// DeleteWhere removes the row with the given identity key. Deleting an
// absent key is not an error.
func (t *Table[T]) DeleteWhere(ctx context.Context, userID, key string) error {
	const q = `DELETE FROM collection_items WHERE user_id = $1 AND collection = $2 AND item_key = $3`

	return t.c.do(ctx, "deleting from "+t.collection, func(ctx context.Context) error {
		_, err := t.c.db.ExecContext(ctx, q, userID, t.collection, key)
		return err
	})
}
