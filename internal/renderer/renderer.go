// Package renderer converts markdown posts to HTML with caching, syntax
// highlighting and server-side diagram rendering.
package renderer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	goldmarkmeta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	htmlrenderer "github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
	"go.abhg.dev/goldmark/anchor"

	"github.com/euforicio/blogmd/internal/codeblock"
	"github.com/euforicio/blogmd/internal/toc"
)

// Metadata captures the frontmatter of a post.
type Metadata struct {
	Date time.Time `json:"date,omitzero"`
	// Raw holds every frontmatter key. Nested YAML maps are not JSON safe.
	Raw     map[string]any `json:"-"`
	Title   string         `json:"title,omitempty"`
	Summary string         `json:"summary,omitempty"`
	Tags    []string       `json:"tags,omitempty"`
	Draft   bool           `json:"draft,omitempty"`
	// TOC requests an inline table of contents above the post body.
	TOC bool `json:"toc,omitempty"`
}

// IsZero reports whether the metadata carries any meaningful values.
func (m Metadata) IsZero() bool {
	if m.Title != "" || m.Summary != "" || len(m.Tags) > 0 || !m.Date.IsZero() || m.Draft || m.TOC {
		return false
	}
	return len(m.Raw) == 0
}

// Document represents a rendered post.
//
//nolint:govet // field order optimized for readability, not memory
type Document struct {
	HTML     string
	Metadata Metadata
	TOC      []toc.Entry
	Modified time.Time
	Raw      string
}

type cacheEntry struct {
	modTime time.Time
	doc     Document
}

type cacheKey string

// Options configure a Service.
type Options struct {
	// Classifier routes diagram fences and raw-HTML diagram blocks to their
	// engines. Nil leaves every code block to the highlighter.
	Classifier *codeblock.Classifier
	// Style is the chroma style; it only matters for the generated stylesheet
	// since highlighting emits classes.
	Style string
	// Concurrency bounds concurrent diagram renders within one post.
	Concurrency int
}

// Service renders markdown into HTML with caching.
// Rendered documents are cached by path and modification time.
type Service struct {
	md         goldmark.Markdown
	classifier *codeblock.Classifier
	logger     *slog.Logger
	cache      sync.Map // map[cacheKey]cacheEntry
}

var docPathKey = parser.NewContextKey()

// linkTransformer rewrites .md links to /posts/ routes and image paths to
// /media/ routes. External web links open in a new tab and images load lazily.
type linkTransformer struct{}

func (t *linkTransformer) Transform(node *ast.Document, reader text.Reader, pc parser.Context) {
	source := reader.Source()
	currentPath := ""
	if v := pc.Get(docPathKey); v != nil {
		if str, ok := v.(string); ok {
			currentPath = str
		}
	}
	currentDir := path.Dir(currentPath)

	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch typed := n.(type) {
		case *ast.Link:
			t.transformLink(typed, currentDir)
		case *ast.Image:
			t.transformImage(typed, currentDir)
		case *ast.AutoLink:
			if typed.AutoLinkType == ast.AutoLinkURL && isWebLink(string(typed.URL(source))) {
				markExternal(typed)
			}
		}

		return ast.WalkContinue, nil
	})
}

func (t *linkTransformer) transformLink(link *ast.Link, currentDir string) {
	dest := string(link.Destination)
	if isWebLink(dest) {
		markExternal(link)
		return
	}
	if dest == "" || isExternalLink(dest) || strings.HasPrefix(dest, "#") || strings.HasPrefix(dest, "/posts/") {
		return
	}

	target, fragment, _ := strings.Cut(dest, "#")
	if !strings.HasSuffix(target, ".md") {
		return
	}

	out := "/posts/" + SlugFromPath(normalizePath(target, currentDir))
	if fragment != "" {
		out += "#" + fragment
	}
	link.Destination = []byte(out)
}

func (t *linkTransformer) transformImage(img *ast.Image, currentDir string) {
	img.SetAttributeString("loading", []byte("lazy"))
	img.SetAttributeString("decoding", []byte("async"))

	dest := string(img.Destination)
	if dest == "" || isExternalLink(dest) || strings.HasPrefix(dest, "/media/") || strings.HasPrefix(dest, "/static/") || strings.HasPrefix(dest, "data:") {
		return
	}

	img.Destination = []byte("/media/" + normalizePath(dest, currentDir))
}

func isWebLink(dest string) bool {
	return strings.HasPrefix(dest, "http://") || strings.HasPrefix(dest, "https://")
}

func markExternal(n ast.Node) {
	n.SetAttributeString("target", []byte("_blank"))
	n.SetAttributeString("rel", []byte("noopener noreferrer"))
}

func isExternalLink(dest string) bool {
	return strings.HasPrefix(dest, "http://") || strings.HasPrefix(dest, "https://") || strings.HasPrefix(dest, "mailto:")
}

func normalizePath(dest, currentDir string) string {
	if !strings.HasPrefix(dest, "/") {
		if currentDir != "" && currentDir != "." {
			dest = path.Join(currentDir, dest)
		}
		dest = path.Clean(dest)
	}

	return strings.TrimPrefix(dest, "/")
}

// SlugFromPath maps a root-relative post path to its URL slug: lower case,
// extension dropped, spaces and underscores turned into dashes.
func SlugFromPath(rel string) string {
	rel = strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(rel, "\\", "/")), "/")
	if rel == "" {
		return ""
	}
	parts := strings.Split(rel, "/")
	last := len(parts) - 1
	parts[last] = strings.TrimSuffix(parts[last], path.Ext(parts[last]))
	for i, part := range parts {
		part = strings.ReplaceAll(part, "_", " ")
		part = strings.ToLower(strings.TrimSpace(part))
		parts[i] = strings.ReplaceAll(part, " ", "-")
	}
	return strings.Join(parts, "/")
}

// NewService constructs the post renderer:
//   - GitHub-flavored markdown extensions
//   - class-based syntax highlighting; unhighlighted blocks keep a plain pre/code pair
//   - diagram fences rendered server-side through opts.Classifier
//   - YAML frontmatter, heading ids and anchors, attribute syntax
//   - .md links rewritten to /posts/ routes, relative images to /media/
//   - external links opened in a new tab, lazy images, scrollable tables
//   - raw HTML passed through (posts are trusted)
//
// If logger is nil, the default slog logger is used.
func NewService(logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "renderer")

	style := opts.Style
	if style == "" {
		style = "github-dark"
	}

	highlight := highlighting.NewHighlighting(
		highlighting.WithStyle(style),
		highlighting.WithFormatOptions(
			html.WithLineNumbers(false),
			html.WithClasses(true),
		),
		highlighting.WithWrapperRenderer(codeblock.PreWrapper()),
	)

	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			goldmarkmeta.Meta,
			&codeblock.Extender{
				Classifier:  opts.Classifier,
				Logger:      logger,
				Concurrency: opts.Concurrency,
			},
			highlight,
			&tableExtender{},
			&anchor.Extender{
				Position: anchor.After,
			},
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
			parser.WithAttribute(),
			parser.WithASTTransformers(
				util.Prioritized(&linkTransformer{}, 100),
			),
		),
		goldmark.WithRendererOptions(
			htmlrenderer.WithUnsafe(),
			htmlrenderer.WithXHTML(),
		),
	)

	return &Service{
		md:         md,
		classifier: opts.Classifier,
		logger:     logger,
	}
}

// Render converts markdown content to HTML, caching results by path and modification time.
// The path is relative to the posts root and resolves relative links.
func (s *Service) Render(ctx context.Context, path string, modTime time.Time, content []byte) (Document, error) {
	key := cacheKey(path)

	if entry, ok := s.cache.Load(key); ok {
		if cached, ok := entry.(cacheEntry); ok {
			if !cached.modTime.IsZero() && modTime.Equal(cached.modTime) {
				return cached.doc, nil
			}
		}
	}

	parserCtx := parser.NewContext()
	parserCtx.Set(docPathKey, path)
	codeblock.WithContext(parserCtx, ctx)

	root := s.md.Parser().Parse(text.NewReader(content), parser.WithContext(parserCtx))
	entries := toc.Collect(root, content)

	buf := bytes.NewBuffer(nil)
	if err := s.md.Renderer().Render(buf, content, root); err != nil {
		return Document{}, fmt.Errorf("render markdown: %w", err)
	}

	out := buf.String()
	if s.classifier.NeedsRewrite(out) {
		rewritten, n, err := s.classifier.RewriteHTML(ctx, out)
		if err != nil {
			return Document{}, fmt.Errorf("render raw diagrams: %w", err)
		}
		out = rewritten
		s.logger.Debug("raw diagram blocks rendered", slog.String("path", path), slog.Int("count", n))
	}

	doc := Document{
		HTML:     out,
		Metadata: extractMetadata(parserCtx),
		TOC:      entries,
		Modified: modTime,
		Raw:      string(content),
	}

	if ctx.Err() == nil {
		s.cache.Store(key, cacheEntry{modTime: modTime, doc: doc})
	}
	return doc, nil
}

// Metadata parses only the frontmatter of content.
func (s *Service) Metadata(content []byte) Metadata {
	pc := parser.NewContext()
	_ = s.md.Parser().Parse(text.NewReader(frontmatter(content)), parser.WithContext(pc))
	return extractMetadata(pc)
}

// frontmatter returns the leading YAML block of content, or nil, so metadata
// lookups skip body parsing and diagram rendering.
func frontmatter(content []byte) []byte {
	lines := bytes.SplitAfter(content, []byte("\n"))
	if len(lines) == 0 || string(bytes.TrimSpace(lines[0])) != "---" {
		return nil
	}
	n := len(lines[0])
	for _, line := range lines[1:] {
		n += len(line)
		if string(bytes.TrimSpace(line)) == "---" {
			return content[:n]
		}
	}
	return nil
}

// Invalidate removes the cached entry for the given path.
func (s *Service) Invalidate(path string) {
	s.cache.Delete(cacheKey(path))
}

// Purge drops every cached document.
func (s *Service) Purge() {
	s.cache.Range(func(k, _ any) bool {
		s.cache.Delete(k)
		return true
	})
}
