package agent

import (
	"context"

	"github.com/nugget/loresmith/internal/card"
	"github.com/nugget/loresmith/internal/tools"
)

// trackingEffects forwards each change to the caller's store and, once
// it is accepted, applies it to the run's own workspace so later tool
// calls and prompts see it.
type trackingEffects struct {
	next tools.Effects
	ws   *card.Workspace
}

func (t *trackingEffects) AddDocument(ctx context.Context, doc card.Document) error {
	if err := t.next.AddDocument(ctx, doc); err != nil {
		return err
	}
	t.ws.AddDocument(doc)
	return nil
}

func (t *trackingEffects) UpdateDocument(ctx context.Context, doc card.Document) error {
	if err := t.next.UpdateDocument(ctx, doc); err != nil {
		return err
	}
	if !t.ws.ReplaceDocument(doc) {
		t.ws.AddDocument(doc)
	}
	return nil
}

func (t *trackingEffects) UpdateCharacter(ctx context.Context, c card.Character) error {
	if err := t.next.UpdateCharacter(ctx, c); err != nil {
		return err
	}
	t.ws.Character = c.Clone()
	return nil
}

func (t *trackingEffects) AddLoreEntry(ctx context.Context, e card.Entry) error {
	if err := t.next.AddLoreEntry(ctx, e); err != nil {
		return err
	}
	t.ws.AddEntry(e)
	return nil
}
