package card

import "strings"

// Workspace is everything the agent works against during a run.
type Workspace struct {
	ResearchURL string     `json:"research_url"`
	Documents   []Document `json:"documents"`
	Character   Character  `json:"character"`
	Lorebook    Lorebook   `json:"lorebook"`
}

// Clone returns a deep copy so callers can hand out snapshots safely.
func (w Workspace) Clone() Workspace {
	out := w
	out.Documents = append([]Document(nil), w.Documents...)
	out.Character = w.Character.Clone()
	out.Lorebook = w.Lorebook.Clone()
	return out
}

// Document finds a stored document by exact name, then case-insensitively.
func (w Workspace) Document(name string) (Document, bool) {
	name = strings.TrimSpace(name)
	for _, d := range w.Documents {
		if d.Name == name {
			return d, true
		}
	}
	for _, d := range w.Documents {
		if strings.EqualFold(d.Name, name) {
			return d, true
		}
	}
	return Document{}, false
}

// AddDocument appends doc.
func (w *Workspace) AddDocument(doc Document) {
	w.Documents = append(w.Documents, doc)
}

// ReplaceDocument swaps the document sharing doc's ID. It reports false
// when no such document exists.
func (w *Workspace) ReplaceDocument(doc Document) bool {
	for i, d := range w.Documents {
		if d.ID == doc.ID {
			docs := append([]Document(nil), w.Documents...)
			docs[i] = doc
			w.Documents = docs
			return true
		}
	}
	return false
}

// AddEntry appends e to the lorebook, assigning the next free ID when e
// has none, and returns the stored entry.
func (w *Workspace) AddEntry(e Entry) Entry {
	if e.ID == 0 {
		e.ID = w.Lorebook.NextID()
	}
	if e.InsertionOrder == 0 {
		e.InsertionOrder = 100
	}
	w.Lorebook.Entries = append(append([]Entry(nil), w.Lorebook.Entries...), e)
	return e
}
