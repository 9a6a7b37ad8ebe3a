package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/nugget/loresmith/internal/card"
	"github.com/nugget/loresmith/internal/tools"
)

var _ tools.Effects = (*Store)(nil)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// Each pooled connection would get its own in-memory database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := New(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestStore_LoadEmpty(t *testing.T) {
	s := setupTestStore(t)

	ws, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(ws.Documents) != 0 || !ws.Character.IsZero() || len(ws.Lorebook.Entries) != 0 {
		t.Errorf("expected empty workspace, got %+v", ws)
	}
}

func TestStore_Documents(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	a := card.NewDocument("Saber", "King of Knights", "https://tm.wiki/wiki/Saber")
	b := card.NewDocument("Lancer", "Hound of Culann", "")
	for _, d := range []card.Document{a, b} {
		if err := s.AddDocument(ctx, d); err != nil {
			t.Fatalf("add %s: %v", d.Name, err)
		}
	}

	docs, err := s.Documents(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 || docs[0].Name != "Saber" || docs[1].Name != "Lancer" {
		t.Fatalf("documents = %+v", docs)
	}
	if docs[0].Source != a.Source || docs[0].Size != len(a.Content) || docs[0].AddedAt.IsZero() {
		t.Errorf("round trip lost fields: %+v", docs[0])
	}

	if err := s.UpdateDocument(ctx, a.WithContent("short")); err != nil {
		t.Fatal(err)
	}
	got, err := s.Document(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "short" || got.Size != 5 {
		t.Errorf("after update: %+v", got)
	}

	if err := s.DeleteDocument(ctx, b.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Document(ctx, b.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted document err = %v, want ErrNotFound", err)
	}
}

func TestStore_UpdateMissingDocument(t *testing.T) {
	s := setupTestStore(t)
	err := s.UpdateDocument(context.Background(), card.NewDocument("Ghost", "x", ""))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_Character(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	c := card.Character{Name: "Artoria", Tags: []string{"knight", "king"}, FirstMessage: "Are you my Master?"}
	if err := s.UpdateCharacter(ctx, c); err != nil {
		t.Fatal(err)
	}
	c.Personality = "Stern"
	if err := s.UpdateCharacter(ctx, c); err != nil {
		t.Fatal(err)
	}

	got, err := s.Character(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Artoria" || got.Personality != "Stern" || len(got.Tags) != 2 || got.FirstMessage != c.FirstMessage {
		t.Errorf("character = %+v", got)
	}
}

func TestStore_Lorebook(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.SetLorebookInfo(ctx, "Fate", "Holy Grail War"); err != nil {
		t.Fatal(err)
	}
	entries := []card.Entry{
		{ID: 2, Keys: []string{"Avalon"}, Content: "The sheath.", Enabled: true, InsertionOrder: 100},
		{ID: 1, Keys: []string{"Excalibur", "holy sword"}, Content: "The sword.", Constant: true, InsertionOrder: 100},
		{Keys: []string{"Camelot"}, Content: "The castle.", InsertionOrder: 50},
	}
	for _, e := range entries {
		if err := s.AddLoreEntry(ctx, e); err != nil {
			t.Fatalf("add %v: %v", e.Keys, err)
		}
	}

	lb, err := s.Lorebook(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if lb.Name != "Fate" || lb.Description != "Holy Grail War" {
		t.Errorf("meta = %q / %q", lb.Name, lb.Description)
	}
	if len(lb.Entries) != 3 {
		t.Fatalf("entries = %+v", lb.Entries)
	}
	// Ordered by insertion order, then ID.
	if lb.Entries[0].Keys[0] != "Camelot" || lb.Entries[0].ID != 3 {
		t.Errorf("first entry = %+v", lb.Entries[0])
	}
	if lb.Entries[1].ID != 1 || !lb.Entries[1].Constant || len(lb.Entries[1].Keys) != 2 {
		t.Errorf("second entry = %+v", lb.Entries[1])
	}
	if !lb.Entries[2].Enabled || lb.Entries[2].SecondaryKeys == nil {
		t.Errorf("third entry = %+v", lb.Entries[2])
	}

	if err := s.DeleteLoreEntry(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteLoreEntry(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestStore_AddLoreEntryValidates(t *testing.T) {
	s := setupTestStore(t)
	err := s.AddLoreEntry(context.Background(), card.Entry{Content: "orphan"})
	if !errors.Is(err, card.ErrMissingKeys) {
		t.Errorf("err = %v, want ErrMissingKeys", err)
	}
}

func TestStore_Transcripts(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	type msg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	in := []msg{{"user", "Make Saber"}, {"assistant", "Done."}}
	if err := s.SaveTranscript(ctx, "saber", in); err != nil {
		t.Fatal(err)
	}

	var out []msg
	if err := s.LoadTranscript(ctx, "saber", &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[1].Content != "Done." {
		t.Errorf("transcript = %+v", out)
	}

	if err := s.LoadTranscript(ctx, "missing", &out); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing err = %v, want ErrNotFound", err)
	}

	names, err := s.Transcripts(ctx)
	if err != nil || len(names) != 1 || names[0] != "saber" {
		t.Errorf("Transcripts = %v, %v", names, err)
	}
}

func TestStore_EffectsThroughTools(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	r := tools.NewRegistry(nil)
	tools.RegisterBuiltins(r, tools.Deps{})
	env := tools.Env{Effects: s}

	if _, err := r.Execute(ctx, "update_character", map[string]any{"name": "Artoria"}, env); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Execute(ctx, "add_lorebook_entry",
		map[string]any{"keys": "Excalibur", "content": "The sword."}, env); err != nil {
		t.Fatal(err)
	}

	ws, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ws.Character.Name != "Artoria" {
		t.Errorf("character = %+v", ws.Character)
	}
	if len(ws.Lorebook.Entries) != 1 || ws.Lorebook.Entries[0].ID != 1 {
		t.Errorf("entries = %+v", ws.Lorebook.Entries)
	}
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loresmith.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.UpdateCharacter(context.Background(), card.Character{Name: "X"}); err != nil {
		t.Fatal(err)
	}
}
