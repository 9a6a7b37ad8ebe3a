package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nugget/loresmith/internal/card"
)

// Documents returns every stored document in the order it was added.
func (s *Store) Documents(ctx context.Context) ([]card.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, content, size, source, added_at FROM documents ORDER BY added_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []card.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Document returns the document with the given ID.
func (s *Store) Document(ctx context.Context, id string) (card.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, content, size, source, added_at FROM documents WHERE id = ?`, id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return card.Document{}, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return d, err
}

// AddDocument inserts doc. A document with the same ID is replaced.
func (s *Store) AddDocument(ctx context.Context, doc card.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("add document %q: missing id", doc.Name)
	}
	if doc.AddedAt.IsZero() {
		doc.AddedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, name, content, size, source, added_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE
		 SET name = excluded.name, content = excluded.content,
		     size = excluded.size, source = excluded.source`,
		doc.ID, doc.Name, doc.Content, len(doc.Content), doc.Source,
		doc.AddedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("add document %q: %w", doc.Name, err)
	}
	return nil
}

// UpdateDocument replaces the name, content and source of an existing
// document. Size always follows the content.
func (s *Store) UpdateDocument(ctx context.Context, doc card.Document) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET name = ?, content = ?, size = ?, source = ? WHERE id = ?`,
		doc.Name, doc.Content, len(doc.Content), doc.Source, doc.ID,
	)
	if err != nil {
		return fmt.Errorf("update document %q: %w", doc.Name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update document %q: %w", doc.Name, ErrNotFound)
	}
	return nil
}

// DeleteDocument removes a document. Missing IDs are reported.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete document %s: %w", id, ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(sc scanner) (card.Document, error) {
	var d card.Document
	var added string
	if err := sc.Scan(&d.ID, &d.Name, &d.Content, &d.Size, &d.Source, &added); err != nil {
		return d, err
	}
	d.AddedAt, _ = time.Parse(timeFormat, added)
	return d, nil
}
