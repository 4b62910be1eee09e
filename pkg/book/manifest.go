// Package book loads a book described by a YAML manifest, and the files it references, into
// the inputs of the epub builder.
package book

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/inbucket/bookmailer/pkg/config"
	"github.com/inbucket/bookmailer/pkg/epub"
	"github.com/jaytaylor/html2text"
	"gopkg.in/yaml.v3"
)

// excerptLen is the rune limit of the lead-in derived from the book content.
const excerptLen = 280

// ErrNoContent is returned for manifests without a body or chapters.
var ErrNoContent = errors.New("book: manifest has no body or chapters")

// Manifest is the YAML description of a book.  File paths are relative to the manifest.
type Manifest struct {
	Title     string `yaml:"title"`
	Author    string `yaml:"author"`
	Language  string `yaml:"language"`
	ShowTitle *bool  `yaml:"show_title"`
	Sanitize  *bool  `yaml:"sanitize"`

	// Body is inline markup, BodyFile names a file holding it.  Both are ignored when
	// Chapters is not empty.
	Body     string `yaml:"body"`
	BodyFile string `yaml:"body_file"`

	Chapters  []ChapterEntry  `yaml:"chapters"`
	Cover     *ResourceEntry  `yaml:"cover"`
	Resources []ResourceEntry `yaml:"resources"`

	// Mail carries the message fields used by send.
	Mail MailEntry `yaml:"mail"`
}

// ChapterEntry is one content document, given inline or by file.
type ChapterEntry struct {
	Title string `yaml:"title"`
	Body  string `yaml:"body"`
	File  string `yaml:"file"`
}

// ResourceEntry is a binary file copied into the container.
type ResourceEntry struct {
	File      string `yaml:"file"`
	Path      string `yaml:"path"` // Container path, defaults to the base name of File.
	ID        string `yaml:"id"`
	MediaType string `yaml:"media_type"`
}

// MailEntry overrides the message built around the book.  Subject defaults to the title, Text
// to an excerpt of the first content document.
type MailEntry struct {
	Subject  string `yaml:"subject"`
	Text     string `yaml:"text"`
	Filename string `yaml:"filename"`
}

// Book is a loaded manifest, ready to be packaged.
type Book struct {
	Document  epub.Document
	Resources []epub.Resource
	Cover     *epub.Resource
	Mail      MailEntry
}

// Parse decodes a manifest, rejecting unknown keys.
func Parse(r io.Reader) (*Manifest, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	m := &Manifest{}
	if err := dec.Decode(m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoContent
		}
		return nil, fmt.Errorf("book: parse manifest: %w", err)
	}
	return m, nil
}

// Load reads the manifest at name and every file it references.  Values the manifest omits are
// taken from defaults.
func Load(name string, defaults config.Book) (*Book, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("book: %w", err)
	}
	m, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return m.Resolve(os.DirFS(filepath.Dir(name)), defaults)
}

// Resolve reads the referenced files from fsys and converts the manifest into a Book.  Files
// outside of fsys cannot be referenced.
func (m *Manifest) Resolve(fsys fs.FS, defaults config.Book) (*Book, error) {
	doc := epub.Document{
		Title:     strings.TrimSpace(m.Title),
		Author:    firstNonEmpty(m.Author, defaults.Author),
		Language:  firstNonEmpty(m.Language, defaults.Language),
		ShowTitle: boolOr(m.ShowTitle, defaults.ShowTitle),
		Sanitize:  boolOr(m.Sanitize, defaults.Sanitize),
	}

	for i, c := range m.Chapters {
		body, err := inlineOrFile(fsys, c.Body, c.File)
		if err != nil {
			return nil, fmt.Errorf("book: chapter %d: %w", i+1, err)
		}
		doc.Chapters = append(doc.Chapters, epub.Chapter{Title: c.Title, Body: body})
	}
	if len(doc.Chapters) == 0 {
		body, err := inlineOrFile(fsys, m.Body, m.BodyFile)
		if err != nil {
			return nil, fmt.Errorf("book: body: %w", err)
		}
		if strings.TrimSpace(body) == "" {
			return nil, ErrNoContent
		}
		doc.Body = body
	}

	b := &Book{Document: doc, Mail: m.Mail}
	if b.Mail.Subject == "" {
		b.Mail.Subject = doc.Title
	}
	if b.Mail.Text == "" {
		first := doc.Body
		if len(doc.Chapters) > 0 {
			first = doc.Chapters[0].Body
		}
		b.Mail.Text = excerpt(first)
	}
	if m.Cover != nil {
		r, err := m.Cover.load(fsys)
		if err != nil {
			return nil, fmt.Errorf("book: cover: %w", err)
		}
		b.Cover = &r
	}
	for _, e := range m.Resources {
		r, err := e.load(fsys)
		if err != nil {
			return nil, fmt.Errorf("book: resource: %w", err)
		}
		b.Resources = append(b.Resources, r)
	}
	return b, nil
}

// Build packages the book with builder, a nil builder uses the defaults.
func (b *Book) Build(builder *epub.Builder) ([]byte, error) {
	if builder == nil {
		builder = &epub.Builder{}
	}
	return builder.Build(b.Document, b.Resources, b.Cover)
}

func (e *ResourceEntry) load(fsys fs.FS) (epub.Resource, error) {
	if e.File == "" {
		return epub.Resource{}, errors.New("file is required")
	}
	data, err := readFile(fsys, e.File)
	if err != nil {
		return epub.Resource{}, err
	}
	p := e.Path
	if p == "" {
		p = path.Base(filepath.ToSlash(e.File))
	}
	return epub.Resource{ID: e.ID, Path: p, MediaType: e.MediaType, Data: data}, nil
}

func inlineOrFile(fsys fs.FS, inline, file string) (string, error) {
	switch {
	case inline != "" && file != "":
		return "", errors.New("give either inline markup or a file, not both")
	case file != "":
		data, err := readFile(fsys, file)
		return string(data), err
	}
	return inline, nil
}

func readFile(fsys fs.FS, name string) ([]byte, error) {
	name = path.Clean(filepath.ToSlash(name))
	return fs.ReadFile(fsys, name)
}

// excerpt renders markup as a single line of plain text, cut at a word boundary.
func excerpt(markup string) string {
	text, err := html2text.FromString(markup, html2text.Options{TextOnly: true})
	if err != nil {
		return ""
	}
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= excerptLen {
		return text
	}
	cut := string(runes[:excerptLen])
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut + "…"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
