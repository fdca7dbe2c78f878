package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Open-Inflation/converter/internal/dsn"
)

// Cursor is the (ingested_at, product_id) watermark persisted per
// parser in converter_sync_state.
type Cursor struct {
	IngestedAt string
	ProductID  int64
}

type cursorValue struct {
	IngestedAt string `json:"ingested_at"`
	ProductID  int64  `json:"product_id"`
}

func cursorStateKey(parser string) string {
	return "receiver_cursor:" + parser
}

// GetReceiverCursor reads the receiver_cursor:<parser> row. Missing or
// malformed JSON returns a nil cursor rather than an error, per spec
// §4.3 and the "malformed watermark JSON" error-policy entry (§7):
// treat as a null cursor, never fail the read. A legacy plain string
// value (not a JSON object) is also treated as null, per §9's cursor
// encoding note ("try parse JSON; else null").
func (w *Writer) GetReceiverCursor(ctx context.Context, parser string) (*Cursor, error) {
	var raw string
	err := w.db.QueryRowContext(ctx,
		`SELECT state_value FROM converter_sync_state WHERE state_key = ?`, cursorStateKey(parser),
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: read cursor: %w", err)
	}

	var value cursorValue
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, nil
	}
	if value.IngestedAt == "" {
		return nil, nil
	}
	return &Cursor{IngestedAt: value.IngestedAt, ProductID: value.ProductID}, nil
}

// SetReceiverCursor rewrites the cursor row with now-UTC updated_at.
func (w *Writer) SetReceiverCursor(ctx context.Context, parser string, cursor Cursor) error {
	encoded, err := json.Marshal(cursorValue{IngestedAt: cursor.IngestedAt, ProductID: cursor.ProductID})
	if err != nil {
		return fmt.Errorf("catalog: encode cursor: %w", err)
	}

	var stmt string
	if w.driver == dsn.DriverMySQL {
		stmt = `
			INSERT INTO converter_sync_state (state_key, state_value, updated_at)
			VALUES (?, ?, CURRENT_TIMESTAMP)
			ON DUPLICATE KEY UPDATE state_value = VALUES(state_value), updated_at = CURRENT_TIMESTAMP
		`
	} else {
		stmt = `
			INSERT INTO converter_sync_state (state_key, state_value, updated_at)
			VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(state_key) DO UPDATE SET state_value = excluded.state_value, updated_at = CURRENT_TIMESTAMP
		`
	}

	if _, err := w.db.ExecContext(ctx, stmt, cursorStateKey(parser), string(encoded)); err != nil {
		return fmt.Errorf("catalog: write cursor: %w", err)
	}
	return nil
}
