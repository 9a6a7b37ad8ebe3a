package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// SaveTranscript stores v as JSON under name, replacing any previous
// transcript with that name.
func (s *Store) SaveTranscript(ctx context.Context, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode transcript %q: %w", name, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO transcripts (name, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		name, string(data), now(),
	)
	if err != nil {
		return fmt.Errorf("save transcript %q: %w", name, err)
	}
	return nil
}

// LoadTranscript decodes the transcript stored under name into v.
func (s *Store) LoadTranscript(ctx context.Context, name string, v any) error {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM transcripts WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("transcript %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load transcript %q: %w", name, err)
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("decode transcript %q: %w", name, err)
	}
	return nil
}

// Transcripts lists saved transcript names, most recently updated first.
func (s *Store) Transcripts(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM transcripts ORDER BY updated_at DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}
