package card

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Document is a stored research source: a fetched wiki page, an article
// or an imported local file.
type Document struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Content string    `json:"content"`
	Size    int       `json:"size"`
	Source  string    `json:"source,omitempty"`
	AddedAt time.Time `json:"added_at"`
}

// NewDocument builds a document with a fresh time-ordered ID.
func NewDocument(name, content, source string) Document {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return Document{
		ID:      id.String(),
		Name:    strings.TrimSpace(name),
		Content: content,
		Size:    len(content),
		Source:  source,
		AddedAt: time.Now().UTC(),
	}
}

// WithContent returns a copy holding new content and the matching size.
func (d Document) WithContent(content string) Document {
	d.Content = content
	d.Size = len(content)
	return d
}
