package book_test

import (
	"archive/zip"
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/inbucket/bookmailer/pkg/book"
	"github.com/inbucket/bookmailer/pkg/config"
	"github.com/inbucket/bookmailer/pkg/epub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaults = config.Book{
	Author:    "Unknown",
	Language:  "en",
	ShowTitle: true,
	Sanitize:  true,
}

func parse(t *testing.T, manifest string) *book.Manifest {
	t.Helper()
	m, err := book.Parse(strings.NewReader(manifest))
	require.NoError(t, err)
	return m
}

func TestResolveInlineBody(t *testing.T) {
	m := parse(t, `
title: "  A Title "
body: <p>Hello</p>
`)
	b, err := m.Resolve(fstest.MapFS{}, defaults)
	require.NoError(t, err)

	assert.Equal(t, epub.Document{
		Title:     "A Title",
		Author:    "Unknown",
		Language:  "en",
		Body:      "<p>Hello</p>",
		ShowTitle: true,
		Sanitize:  true,
	}, b.Document)
	assert.Equal(t, "A Title", b.Mail.Subject, "subject defaults to title")
	assert.Equal(t, "Hello", b.Mail.Text, "text defaults to an excerpt")
	assert.Nil(t, b.Cover)
	assert.Empty(t, b.Resources)
}

func TestResolveOverridesDefaults(t *testing.T) {
	m := parse(t, `
title: Kurzgeschichten
author: Anna
language: de
show_title: false
sanitize: false
body: <p>Hallo</p>
mail:
  subject: Neues Buch
  text: Viel Spass
  filename: kurz.epub
`)
	b, err := m.Resolve(fstest.MapFS{}, defaults)
	require.NoError(t, err)
	assert.Equal(t, "Anna", b.Document.Author)
	assert.Equal(t, "de", b.Document.Language)
	assert.False(t, b.Document.ShowTitle)
	assert.False(t, b.Document.Sanitize)
	assert.Equal(t, book.MailEntry{Subject: "Neues Buch", Text: "Viel Spass", Filename: "kurz.epub"},
		b.Mail)
}

func TestResolveFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"one.html":         {Data: []byte("<p>One</p>")},
		"text/two.html":    {Data: []byte("<p>Two</p>")},
		"img/cover.jpg":    {Data: []byte("jpeg")},
		"img/diagram.png":  {Data: []byte("png")},
		"fonts/serif.woff": {Data: []byte("woff")},
	}
	m := parse(t, `
title: Files
chapters:
  - title: One
    file: one.html
  - title: Two
    file: ./text/two.html
  - title: Three
    body: <p>Three</p>
cover:
  file: img/cover.jpg
resources:
  - file: img/diagram.png
    path: images/diagram.png
    id: diagram
  - file: fonts/serif.woff
    media_type: font/woff
`)
	b, err := m.Resolve(fsys, defaults)
	require.NoError(t, err)

	assert.Equal(t, []epub.Chapter{
		{Title: "One", Body: "<p>One</p>"},
		{Title: "Two", Body: "<p>Two</p>"},
		{Title: "Three", Body: "<p>Three</p>"},
	}, b.Document.Chapters)
	require.NotNil(t, b.Cover)
	assert.Equal(t, epub.Resource{Path: "cover.jpg", Data: []byte("jpeg")}, *b.Cover)
	assert.Equal(t, []epub.Resource{
		{ID: "diagram", Path: "images/diagram.png", Data: []byte("png")},
		{Path: "serif.woff", MediaType: "font/woff", Data: []byte("woff")},
	}, b.Resources)
}

func TestResolveExcerpt(t *testing.T) {
	long := strings.Repeat("<p>All work and no play.</p>", 40)
	m := &book.Manifest{
		Chapters: []book.ChapterEntry{
			{Body: "<p>First</p>\n<p>chapter</p>"},
			{Body: long},
		},
	}
	b, err := m.Resolve(fstest.MapFS{}, defaults)
	require.NoError(t, err)
	assert.Equal(t, "First chapter", b.Mail.Text)

	m = &book.Manifest{Body: long}
	b, err = m.Resolve(fstest.MapFS{}, defaults)
	require.NoError(t, err)
	text := []rune(b.Mail.Text)
	assert.LessOrEqual(t, len(text), 281)
	assert.Equal(t, '…', text[len(text)-1])
	assert.True(t, strings.HasPrefix(b.Mail.Text, "All work and no play. All work"))
	assert.NotContains(t, b.Mail.Text, "<p>")
}

func TestResolveErrors(t *testing.T) {
	fsys := fstest.MapFS{"body.html": {Data: []byte("<p>x</p>")}}
	tcs := map[string]struct {
		manifest string
		err      error
	}{
		"no content":     {"title: Empty\n", book.ErrNoContent},
		"blank body":     {"body: \"  \"\n", book.ErrNoContent},
		"missing body":   {"body_file: absent.html\n", fs.ErrNotExist},
		"both forms":     {"body: <p/>\nbody_file: body.html\n", nil},
		"missing chap":   {"chapters:\n  - file: absent.html\n", fs.ErrNotExist},
		"resource file":  {"body: x\nresources:\n  - path: a.png\n", nil},
		"missing cover":  {"body: x\ncover:\n  file: absent.jpg\n", fs.ErrNotExist},
		"outside of dir": {"body_file: ../secret.html\n", nil},
	}
	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			_, err := parse(t, tc.manifest).Resolve(fsys, defaults)
			require.Error(t, err)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	_, err := book.Parse(strings.NewReader(""))
	assert.ErrorIs(t, err, book.ErrNoContent)

	_, err = book.Parse(strings.NewReader("title: x\nsubtitle: y\n"))
	assert.ErrorContains(t, err, "subtitle")

	_, err = book.Parse(strings.NewReader("chapters: nope\n"))
	assert.Error(t, err)
}

func TestLoadAndBuild(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "img"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "img", "cover.png"), []byte("png"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "body.html"),
		[]byte(`<p>Hello <img src="cover.png"></p>`), 0o644))
	manifest := filepath.Join(dir, "book.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte(`
title: Loaded
body_file: body.html
cover:
  file: img/cover.png
`), 0o644))

	b, err := book.Load(manifest, defaults)
	require.NoError(t, err)
	raw, err := b.Build(nil)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, "mimetype", names[0])
	assert.Contains(t, names, "OEBPS/cover.xhtml")
	assert.Contains(t, names, "OEBPS/cover.png")
}

func TestLoadMissingManifest(t *testing.T) {
	_, err := book.Load(filepath.Join(t.TempDir(), "absent.yaml"), defaults)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}
