// Package ingest imports local files as stored research documents.
//
// Markdown is rendered with goldmark and flattened to text the same way
// fetched web pages are, so the agent sees one consistent format. HTML
// goes straight through the extractor, other UTF-8 text is stored as is,
// and anything that looks binary is refused.
package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/nugget/loresmith/internal/card"
	"github.com/nugget/loresmith/internal/fetch"
)

// MaxFileSize is the largest file File will read.
const MaxFileSize = 10 << 20

const sniffLen = 8192

// ErrBinary is returned for content that is not text.
var ErrBinary = errors.New("binary content is not supported")

// Format identifies how a file's content is interpreted.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatText     Format = "text"
)

// File reads path and converts it to a document named after the file.
func File(path string) (card.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return card.Document{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return card.Document{}, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > MaxFileSize {
		return card.Document{}, fmt.Errorf("%s is too large (%d bytes, limit %d)", path, info.Size(), MaxFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return card.Document{}, fmt.Errorf("read %s: %w", path, err)
	}

	doc, err := Bytes(filepath.Base(path), data)
	if err != nil {
		return card.Document{}, err
	}
	if abs, err := filepath.Abs(path); err == nil {
		doc.Source = "file://" + filepath.ToSlash(abs)
	}
	return doc, nil
}

// Bytes converts raw file content to a document. The name's extension
// picks the format; extensionless content is sniffed.
func Bytes(name string, data []byte) (card.Document, error) {
	format, err := Detect(name, data)
	if err != nil {
		return card.Document{}, fmt.Errorf("%s: %w", name, err)
	}

	var content string
	title := strings.TrimSuffix(name, filepath.Ext(name))

	switch format {
	case FormatMarkdown:
		content, err = markdownText(data)
		if err != nil {
			return card.Document{}, fmt.Errorf("%s: %w", name, err)
		}
	case FormatHTML:
		var htmlTitle string
		htmlTitle, content = fetch.ExtractHTML(string(data))
		if htmlTitle != "" {
			title = htmlTitle
		}
	default:
		content = strings.TrimSpace(strings.ReplaceAll(string(data), "\r\n", "\n"))
	}

	if content == "" {
		return card.Document{}, fmt.Errorf("%s: no readable content", name)
	}
	return card.NewDocument(title, content, ""), nil
}

// Detect decides how data should be read.
func Detect(name string, data []byte) (Format, error) {
	if looksBinary(data) {
		return "", ErrBinary
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown", ".mdown":
		return FormatMarkdown, nil
	case ".html", ".htm", ".xhtml":
		return FormatHTML, nil
	case ".txt", ".text", ".log", ".csv", ".json", ".yaml", ".yml":
		return FormatText, nil
	}

	ct := http.DetectContentType(data)
	if strings.HasPrefix(ct, "text/html") {
		return FormatHTML, nil
	}
	return FormatText, nil
}

func looksBinary(data []byte) bool {
	sample := data
	if len(sample) > sniffLen {
		sample = sample[:sniffLen]
		// Drop a rune split by the cut.
		for i := 0; i < utf8.UTFMax-1 && !utf8.Valid(sample); i++ {
			sample = sample[:len(sample)-1]
		}
	}
	return bytes.IndexByte(sample, 0) >= 0 || !utf8.Valid(sample)
}

func markdownText(data []byte) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert(data, &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	_, content := fetch.ExtractHTML(buf.String())
	return content, nil
}

// Heading is one entry of a markdown outline.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// Outline lists the headings of a markdown document in order.
func Outline(markdown []byte) []Heading {
	doc := goldmark.DefaultParser().Parse(text.NewReader(markdown))

	var out []Heading
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		if t := strings.TrimSpace(inlineText(h, markdown)); t != "" {
			out = append(out, Heading{Level: h.Level, Text: t})
		}
		return ast.WalkSkipChildren, nil
	})
	return out
}

func inlineText(n ast.Node, source []byte) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch v := c.(type) {
		case *ast.Text:
			b.Write(v.Segment.Value(source))
			if v.SoftLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(v.Value)
		default:
			b.WriteString(inlineText(c, source))
		}
	}
	return b.String()
}

// FormatOutline renders headings as an indented list.
func FormatOutline(headings []Heading) string {
	var b strings.Builder
	for _, h := range headings {
		indent := max(h.Level-1, 0)
		fmt.Fprintf(&b, "%s- %s\n", strings.Repeat("  ", indent), h.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}
