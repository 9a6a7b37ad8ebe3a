package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nugget/loresmith/internal/card"
)

// Character returns the stored character, or a zero value if none has
// been saved yet.
func (s *Store) Character(ctx context.Context) (card.Character, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM character WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return card.Character{}, nil
	}
	if err != nil {
		return card.Character{}, fmt.Errorf("load character: %w", err)
	}

	var c card.Character
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return card.Character{}, fmt.Errorf("decode character: %w", err)
	}
	return c, nil
}

// UpdateCharacter replaces the stored character.
func (s *Store) UpdateCharacter(ctx context.Context, c card.Character) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode character: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO character (id, data, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		string(data), now(),
	)
	if err != nil {
		return fmt.Errorf("save character: %w", err)
	}
	return nil
}

// Lorebook returns the lorebook metadata and its entries ordered by
// insertion order, then ID.
func (s *Store) Lorebook(ctx context.Context) (card.Lorebook, error) {
	var lb card.Lorebook
	err := s.db.QueryRowContext(ctx, `SELECT name, description FROM lorebook WHERE id = 1`).
		Scan(&lb.Name, &lb.Description)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return lb, fmt.Errorf("load lorebook: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, keys, secondary_keys, content, comment, enabled, constant, insertion_order
		 FROM lore_entries ORDER BY insertion_order, id`)
	if err != nil {
		return lb, fmt.Errorf("list lore entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e card.Entry
		var keys, secondary string
		if err := rows.Scan(&e.ID, &keys, &secondary, &e.Content, &e.Comment,
			&e.Enabled, &e.Constant, &e.InsertionOrder); err != nil {
			return lb, fmt.Errorf("scan lore entry: %w", err)
		}
		if err := json.Unmarshal([]byte(keys), &e.Keys); err != nil {
			return lb, fmt.Errorf("decode keys for entry %d: %w", e.ID, err)
		}
		if err := json.Unmarshal([]byte(secondary), &e.SecondaryKeys); err != nil {
			return lb, fmt.Errorf("decode secondary keys for entry %d: %w", e.ID, err)
		}
		lb.Entries = append(lb.Entries, e)
	}
	return lb, rows.Err()
}

// SetLorebookInfo sets the lorebook's name and description.
func (s *Store) SetLorebookInfo(ctx context.Context, name, description string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lorebook (id, name, description) VALUES (1, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, description = excluded.description`,
		name, description,
	)
	if err != nil {
		return fmt.Errorf("save lorebook info: %w", err)
	}
	return nil
}

// AddLoreEntry stores e. An entry without an ID gets the next free one,
// and an entry whose ID is taken replaces the existing row.
func (s *Store) AddLoreEntry(ctx context.Context, e card.Entry) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("add lore entry: %w", err)
	}
	keys, err := json.Marshal(nonNil(e.Keys))
	if err != nil {
		return fmt.Errorf("encode keys: %w", err)
	}
	secondary, err := json.Marshal(nonNil(e.SecondaryKeys))
	if err != nil {
		return fmt.Errorf("encode secondary keys: %w", err)
	}

	var id any
	if e.ID > 0 {
		id = e.ID
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO lore_entries
		 (id, keys, secondary_keys, content, comment, enabled, constant, insertion_order)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, string(keys), string(secondary), e.Content, e.Comment, e.Enabled, e.Constant, e.InsertionOrder,
	)
	if err != nil {
		return fmt.Errorf("add lore entry: %w", err)
	}
	return nil
}

// DeleteLoreEntry removes the entry with the given ID.
func (s *Store) DeleteLoreEntry(ctx context.Context, id int) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM lore_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete lore entry %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete lore entry %d: %w", id, ErrNotFound)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
