package catalog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/Open-Inflation/converter/internal/model"
)

type categoryInput struct {
	UID       *string
	Title     string
	ParentUID *string
	Depth     *int
	SortOrder int
}

type categoryResolver struct {
	tx      *sql.Tx
	pending map[string]int64
}

func newCategoryResolver(tx *sql.Tx) *categoryResolver {
	return &categoryResolver{tx: tx, pending: make(map[string]int64)}
}

func categoryKey(parserName string, input categoryInput) string {
	if input.UID != nil && strings.TrimSpace(*input.UID) != "" {
		return fmt.Sprintf("%s:uid:%s", parserName, strings.TrimSpace(*input.UID))
	}
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(input.Title))))
	digest := hex.EncodeToString(sum[:])
	if len(digest) > 40 {
		digest = digest[:40]
	}
	return fmt.Sprintf("%s:title:%s", parserName, digest)
}

// resolve upserts a category row, keyed per spec §4.3 step 5. Grounded
// on the absence of a direct teacher/pack analog for hierarchical
// category dimensions; the key scheme and upsert shape follow directly
// from the specification text.
func (r *categoryResolver) resolve(ctx context.Context, parserName string, input categoryInput) (int64, error) {
	key := categoryKey(parserName, input)
	if id, ok := r.pending[key]; ok {
		return id, nil
	}

	var id int64
	err := r.tx.QueryRowContext(ctx, `SELECT id FROM catalog_categories WHERE category_key = ?`, key).Scan(&id)
	if err == sql.ErrNoRows {
		result, insertErr := r.tx.ExecContext(ctx, `
			INSERT INTO catalog_categories (parser_name, category_key, uid, title, parent_uid, depth, sort_order, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		`, parserName, key, valueOrNil(input.UID), input.Title, valueOrNil(input.ParentUID), intOrNil(input.Depth), input.SortOrder)
		if insertErr != nil {
			return 0, fmt.Errorf("catalog: category insert: %w", insertErr)
		}
		id, err = result.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("catalog: category insert id: %w", err)
		}
	} else if err != nil {
		return 0, fmt.Errorf("catalog: category lookup: %w", err)
	}

	r.pending[key] = id
	return id, nil
}

func intOrNil(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// categoriesFromRecord extracts the ordered category list per §4.3
// step 5: prefer payload.receiver_categories (a list of
// uid/title/depth/parent_uid/sort_order maps); fall back to splitting
// category_raw on "/".
func categoriesFromRecord(record model.NormalizedRecord) []categoryInput {
	if raw, ok := record.Payload["receiver_categories"].([]interface{}); ok && len(raw) > 0 {
		out := make([]categoryInput, 0, len(raw))
		for i, item := range raw {
			entry, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			title, _ := entry["title"].(string)
			if strings.TrimSpace(title) == "" {
				continue
			}
			input := categoryInput{Title: title, SortOrder: i}
			if uid, ok := entry["uid"].(string); ok && uid != "" {
				input.UID = &uid
			}
			if parentUID, ok := entry["parent_uid"].(string); ok && parentUID != "" {
				input.ParentUID = &parentUID
			}
			if depth, ok := entry["depth"].(float64); ok {
				d := int(depth)
				input.Depth = &d
			}
			if sortOrder, ok := entry["sort_order"].(float64); ok {
				input.SortOrder = int(sortOrder)
			} else if sortOrder, ok := entry["sort_order"].(string); ok {
				if n, err := strconv.Atoi(sortOrder); err == nil {
					input.SortOrder = n
				}
			}
			out = append(out, input)
		}
		if len(out) > 0 {
			return out
		}
	}

	if record.CategoryRaw == nil || strings.TrimSpace(*record.CategoryRaw) == "" {
		return nil
	}
	parts := strings.Split(*record.CategoryRaw, "/")
	out := make([]categoryInput, 0, len(parts))
	for i, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, categoryInput{Title: trimmed, SortOrder: i})
	}
	return out
}
