// Package epub assembles EPUB 3 containers from a document and its binary resources.
package epub

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html"
	"mime"
	"net/url"
	"path"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"github.com/inbucket/bookmailer/pkg/epub/sanitize"
	"github.com/inbucket/bookmailer/pkg/storedzip"
)

const (
	// MediaType is the literal content of the mimetype entry.
	MediaType = "application/epub+zip"

	// Resources and generated documents live below this directory.
	contentDir = "OEBPS/"

	defaultLanguage = "en"
	defaultTitle    = "Untitled"
	modifiedLayout  = "2006-01-02T15:04:05Z"
)

var (
	// ErrDuplicatePath is returned when two entries would share an archive path.
	ErrDuplicatePath = errors.New("duplicate resource path")

	// ErrDuplicateID is returned when two manifest items would share an id.
	ErrDuplicateID = errors.New("duplicate resource id")

	// ErrInvalidPath is returned for resource paths that are empty, absolute or escape the
	// content directory.
	ErrInvalidPath = errors.New("invalid resource path")

	// ErrInvalidID is returned for ids that are not valid XML names.
	ErrInvalidID = errors.New("invalid resource id")

	// ErrMultipleCovers is returned when more than one resource is marked as the cover.
	ErrMultipleCovers = errors.New("more than one cover resource")

	idPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9._-]*$`)

	templates = template.Must(template.New("epub").
		Funcs(template.FuncMap{"esc": html.EscapeString, "href": href}).
		ParseFS(templateFS, "templates/*.tmpl"))
)

//go:embed templates
var templateFS embed.FS

// Document is the text content of a book.
type Document struct {
	Title     string
	Author    string
	Language  string // BCP 47 tag, defaults to en.
	Body      string // HTML markup of the single content document, used when Chapters is empty.
	ShowTitle bool   // Render a visible heading above each content document.
	Sanitize  bool   // Filter markup through the sanitize package before packaging.
	Chapters  []Chapter
}

// Chapter is one content document.
type Chapter struct {
	Title string
	Body  string
}

// Resource is a binary file referenced from the content, typically an image.
type Resource struct {
	ID        string // Manifest id, generated when empty.
	Path      string // Slash separated path relative to the package document.
	MediaType string // Guessed from the extension when empty.
	Data      []byte
	Cover     bool
}

// Builder produces EPUB containers.  The zero value is ready to use.
type Builder struct {
	// NewIdentifier returns the unique identifier of each built container, defaults to a
	// random UUID.
	NewIdentifier func() string

	// Now returns the modification time stamped into the package document and archive.
	Now func() time.Time
}

// Build packages doc, resources and the optional cover with a zero value Builder.
func Build(doc Document, resources []Resource, cover *Resource) ([]byte, error) {
	return (&Builder{}).Build(doc, resources, cover)
}

// chapterData is a content document as seen by the templates.
type chapterData struct {
	ID        string
	Href      string
	Title     string
	Language  string
	ShowTitle bool
	Body      string
}

// packageData is the package document as seen by the templates.
type packageData struct {
	Identifier string
	Title      string
	Author     string
	Language   string
	Modified   string
	Cover      *Resource
	Chapters   []chapterData
	Resources  []Resource
}

// Build assembles the container.  Entries are written in a fixed order: mimetype, container
// descriptor, package document, navigation document, content documents, cover document, then
// the resources with the cover first.  Nothing is returned unless every resource path and id
// is unique.
func (b *Builder) Build(doc Document, resources []Resource, cover *Resource) ([]byte, error) {
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	newID := uuid.NewString
	if b.NewIdentifier != nil {
		newID = b.NewIdentifier
	}
	modified := now().UTC().Truncate(time.Second)

	pkg := packageData{
		Identifier: newID(),
		Title:      strings.TrimSpace(doc.Title),
		Author:     strings.TrimSpace(doc.Author),
		Language:   strings.TrimSpace(doc.Language),
		Modified:   modified.Format(modifiedLayout),
	}
	if pkg.Title == "" {
		pkg.Title = defaultTitle
	}
	if pkg.Language == "" {
		pkg.Language = defaultLanguage
	}

	var err error
	pkg.Resources, pkg.Cover, err = collectResources(resources, cover)
	if err != nil {
		return nil, err
	}
	pkg.Chapters, err = collectChapters(doc, pkg.Title, pkg.Language)
	if err != nil {
		return nil, err
	}
	if err := checkCollisions(&pkg); err != nil {
		return nil, err
	}

	container, err := templateFS.ReadFile("templates/container.xml")
	if err != nil {
		return nil, err
	}
	files := []storedzip.File{
		{Name: "mimetype", Data: []byte(MediaType)},
		{Name: "META-INF/container.xml", Data: container},
	}
	render := func(name, tmpl string, data any) error {
		buf := &bytes.Buffer{}
		if err := templates.ExecuteTemplate(buf, tmpl, data); err != nil {
			return fmt.Errorf("render %s: %w", name, err)
		}
		files = append(files, storedzip.File{Name: contentDir + name, Data: buf.Bytes()})
		return nil
	}
	if err := render("content.opf", "package.opf.tmpl", pkg); err != nil {
		return nil, err
	}
	if err := render("nav.xhtml", "nav.xhtml.tmpl", pkg); err != nil {
		return nil, err
	}
	for _, c := range pkg.Chapters {
		if err := render(c.Href, "chapter.xhtml.tmpl", c); err != nil {
			return nil, err
		}
	}
	if pkg.Cover != nil {
		if err := render("cover.xhtml", "cover.xhtml.tmpl", pkg); err != nil {
			return nil, err
		}
	}
	for _, r := range pkg.Resources {
		files = append(files, storedzip.File{Name: contentDir + r.Path, Data: r.Data})
	}
	for i := range files {
		files[i].Modified = modified
	}

	return storedzip.Write(files)
}

// collectResources validates the resources and returns them with the cover first.  A nil
// cover argument is taken from the first resource flagged as cover, if any.
func collectResources(resources []Resource, cover *Resource) ([]Resource, *Resource, error) {
	all := make([]Resource, 0, len(resources)+1)
	if cover != nil {
		c := *cover
		c.Cover = true
		all = append(all, c)
	}
	for _, r := range resources {
		if r.Cover {
			if len(all) > 0 && all[0].Cover {
				return nil, nil, fmt.Errorf("%w: %q", ErrMultipleCovers, r.Path)
			}
			all = append([]Resource{r}, all...)
			continue
		}
		all = append(all, r)
	}

	for i := range all {
		r := &all[i]
		p, err := cleanPath(r.Path)
		if err != nil {
			return nil, nil, err
		}
		r.Path = p
		if r.ID == "" {
			r.ID = fmt.Sprintf("resource-%d", i+1)
		}
		if !idPattern.MatchString(r.ID) {
			return nil, nil, fmt.Errorf("%w: %q", ErrInvalidID, r.ID)
		}
		if r.MediaType == "" {
			r.MediaType = guessMediaType(p)
		}
	}

	if len(all) > 0 && all[0].Cover {
		return all, &all[0], nil
	}
	return all, nil, nil
}

// collectChapters turns the document into content documents, rendering markup to XHTML when
// sanitizing is requested.
func collectChapters(doc Document, title, lang string) ([]chapterData, error) {
	chapters := doc.Chapters
	if len(chapters) == 0 {
		chapters = []Chapter{{Title: title, Body: doc.Body}}
	}
	out := make([]chapterData, len(chapters))
	for i, c := range chapters {
		cd := chapterData{
			ID:        "content",
			Href:      "content.xhtml",
			Title:     strings.TrimSpace(c.Title),
			Language:  lang,
			ShowTitle: doc.ShowTitle,
			Body:      c.Body,
		}
		if len(chapters) > 1 {
			cd.ID = fmt.Sprintf("content-%d", i+1)
			cd.Href = cd.ID + ".xhtml"
		}
		if cd.Title == "" {
			cd.Title = title
		}
		if doc.Sanitize {
			body, err := sanitize.Clean(c.Body)
			if err != nil {
				return nil, fmt.Errorf("sanitize %s: %w", cd.Href, err)
			}
			cd.Body = body
		}
		out[i] = cd
	}
	return out, nil
}

// checkCollisions rejects resources sharing a path or id with each other or with a generated
// document.
func checkCollisions(pkg *packageData) error {
	paths := map[string]struct{}{"content.opf": {}, "nav.xhtml": {}}
	ids := map[string]struct{}{"nav": {}}
	if pkg.Cover != nil {
		paths["cover.xhtml"] = struct{}{}
		ids["cover"] = struct{}{}
	}
	for _, c := range pkg.Chapters {
		paths[c.Href] = struct{}{}
		ids[c.ID] = struct{}{}
	}
	for _, r := range pkg.Resources {
		if _, ok := paths[r.Path]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicatePath, r.Path)
		}
		paths[r.Path] = struct{}{}
		if _, ok := ids[r.ID]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateID, r.ID)
		}
		ids[r.ID] = struct{}{}
	}
	return nil
}

// href escapes a content-relative archive path for use as a URL in an attribute.
func href(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return html.EscapeString(strings.Join(segs, "/"))
}

func cleanPath(p string) (string, error) {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, `\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return clean, nil
}

func guessMediaType(p string) string {
	t := mime.TypeByExtension(path.Ext(p))
	if t == "" {
		return "application/octet-stream"
	}
	// Drop parameters such as charset, they are not allowed in the manifest.
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	return t
}
