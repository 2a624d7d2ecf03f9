// Package views renders the blog's HTML pages. The server and the static
// exporter share it so both produce the same markup.
package views

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/euforicio/blogmd/internal/posts"
	"github.com/euforicio/blogmd/internal/renderer"
	"github.com/euforicio/blogmd/internal/toc"
)

//go:embed templates/*.gohtml
var templateFS embed.FS

// Page kinds select the main template of the layout.
const (
	KindIndex   = "index"
	KindPost    = "post"
	KindTag     = "tag"
	KindMissing = "missing"
)

// Site carries values shared by every page.
type Site struct {
	GeneratedAt time.Time
	Title       string
	BaseURL     string
	Version     string
	Tags        []posts.TagCount
	// Live adds the change-notification script; exports leave it off.
	Live bool
}

// Page is the data passed to the layout template.
//
//nolint:govet // field order favors template readability
type Page struct {
	Site      Site
	Kind      string
	Title     string
	Canonical string
	Path      string
	Tag       string
	Posts     []*posts.Post
	Post      *posts.Post
	HTML      template.HTML
	Metadata  renderer.Metadata
	TOC       []toc.Entry
	Modified  time.Time
}

// Renderer executes the embedded templates.
type Renderer struct {
	tmpl *template.Template
}

// New parses the embedded templates.
func New() (*Renderer, error) {
	funcs := template.FuncMap{
		"dict": func(values ...any) (map[string]any, error) {
			if len(values)%2 != 0 {
				return nil, fmt.Errorf("dict requires an even number of args")
			}
			m := make(map[string]any, len(values)/2)
			for i := 0; i < len(values); i += 2 {
				key, ok := values[i].(string)
				if !ok {
					return nil, fmt.Errorf("dict keys must be strings")
				}
				m[key] = values[i+1]
			}
			return m, nil
		},
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("January 2, 2006")
		},
		"isoDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format(time.RFC3339)
		},
		"hasMetadata": func(meta renderer.Metadata) bool {
			return !meta.IsZero()
		},
		"postURL": PostURL,
		"tagURL":  TagURL,
		"tocEntry": toc.RenderEntry,
		"tocInline": func(entries []toc.Entry) template.HTML {
			return toc.RenderList(entries, toc.Options{FromHeading: 2, ToHeading: 3, Disclosure: true})
		},
	}

	base, err := template.New("layout").Funcs(funcs).ParseFS(templateFS, "templates/*.gohtml")
	if err != nil {
		return nil, err
	}
	return &Renderer{tmpl: base}, nil
}

// Render executes the named template.
func (r *Renderer) Render(w io.Writer, name string, data any) error {
	return r.tmpl.ExecuteTemplate(w, name, data)
}

// PostURL is the site path of a post.
func PostURL(slug string) string {
	return "/posts/" + strings.Trim(slug, "/")
}

// TagURL is the site path of a tag listing.
func TagURL(tag string) string {
	return "/tags/" + url.PathEscape(TagSlug(tag))
}

// TagSlug normalizes a tag for use in URLs and file names.
func TagSlug(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	return strings.Join(strings.Fields(tag), "-")
}

// Canonical joins a base URL and a site path. It returns "" without a base.
func Canonical(baseURL, sitePath string) string {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return ""
	}
	return baseURL + "/" + strings.TrimLeft(sitePath, "/")
}
