// Package exporter writes the blog as a static site and exports single posts
// in other formats.
package exporter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/euforicio/blogmd/internal/buildinfo"
	"github.com/euforicio/blogmd/internal/codeblock"
	"github.com/euforicio/blogmd/internal/posts"
	"github.com/euforicio/blogmd/internal/renderer"
	"github.com/euforicio/blogmd/internal/views"
	blogstatic "github.com/euforicio/blogmd/static"
)

const indexHTML = "index.html"

// Options configure the static export behavior.
type Options struct {
	Root          string
	OutputDir     string
	AssetsDir     string
	SiteTitle     string
	BaseURL       string
	IncludeHidden bool
	IncludeDrafts bool
	CleanOutput   bool
}

// Exporter renders posts into a static HTML bundle.
type Exporter struct {
	renderer   *renderer.Service
	classifier *codeblock.Classifier
	views      *views.Renderer
	logger     *slog.Logger
}

// New constructs an exporter. The renderer should be built with the same
// classifier so diagrams render identically in pages and single-post exports.
func New(logger *slog.Logger, rendererSvc *renderer.Service, classifier *codeblock.Classifier) (*Exporter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if rendererSvc == nil {
		rendererSvc = renderer.NewService(logger, renderer.Options{Classifier: classifier})
	}

	tmpl, err := views.New()
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	return &Exporter{
		renderer:   rendererSvc,
		classifier: classifier,
		views:      tmpl,
		logger:     logger.With("component", "exporter"),
	}, nil
}

// Result summarizes an export run.
type Result struct {
	OutputDir string
	Posts     int
	Tags      int
	Assets    int
}

// Export renders every post under opts.Root and writes a static site to
// opts.OutputDir. Posts land at posts/<slug>/index.html so the server's
// URLs keep working on any static host.
//
//nolint:gocognit // export orchestration requires sequential steps and validation
func (e *Exporter) Export(ctx context.Context, opts Options) (Result, error) {
	if strings.TrimSpace(opts.Root) == "" {
		return Result{}, errors.New("root directory is required")
	}
	if strings.TrimSpace(opts.OutputDir) == "" {
		return Result{}, errors.New("output directory is required")
	}
	if strings.TrimSpace(opts.SiteTitle) == "" {
		opts.SiteTitle = "blogmd"
	}

	rootDir, err := filepath.Abs(opts.Root)
	if err != nil {
		return Result{}, fmt.Errorf("resolve root: %w", err)
	}
	outputDir, err := filepath.Abs(opts.OutputDir)
	if err != nil {
		return Result{}, fmt.Errorf("resolve output: %w", err)
	}
	if rel, err := filepath.Rel(rootDir, outputDir); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return Result{}, fmt.Errorf("output %s must not be inside the posts root", outputDir)
	}
	assetsDir := opts.AssetsDir
	if assetsDir != "" {
		if assetsDir, err = filepath.Abs(assetsDir); err != nil {
			return Result{}, fmt.Errorf("resolve assets: %w", err)
		}
	}

	if err := prepareOutputDir(outputDir, opts.CleanOutput); err != nil {
		return Result{}, err
	}

	generatedAt := time.Now().UTC()

	list, err := posts.Build(ctx, rootDir, posts.Options{
		Renderer:      e.renderer,
		IncludeHidden: opts.IncludeHidden,
		IncludeDrafts: opts.IncludeDrafts,
	})
	if err != nil {
		return Result{}, fmt.Errorf("build post index: %w", err)
	}

	site := views.Site{
		Title:       opts.SiteTitle,
		BaseURL:     strings.TrimRight(opts.BaseURL, "/"),
		GeneratedAt: generatedAt,
		Version:     buildinfo.Summary(),
		Tags:        posts.Tags(list),
	}

	if err := e.copyAssetBundle(filepath.Join(outputDir, "static"), assetsDir); err != nil {
		return Result{}, err
	}
	media, err := copyMedia(rootDir, filepath.Join(outputDir, "media"), opts.IncludeHidden)
	if err != nil {
		return Result{}, err
	}

	for _, post := range list {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		absPath := filepath.Join(rootDir, filepath.FromSlash(post.RelativePath))
		info, err := os.Stat(absPath)
		if err != nil {
			return Result{}, fmt.Errorf("stat %s: %w", post.RelativePath, err)
		}
		raw, err := os.ReadFile(absPath) //nolint:gosec // absPath constructed from validated root
		if err != nil {
			return Result{}, fmt.Errorf("read %s: %w", post.RelativePath, err)
		}

		doc, err := e.renderer.Render(ctx, post.RelativePath, info.ModTime(), raw)
		if err != nil {
			return Result{}, fmt.Errorf("render %s: %w", post.RelativePath, err)
		}

		sitePath := views.PostURL(post.Slug)
		page := views.Page{
			Site:      site,
			Kind:      views.KindPost,
			Title:     post.Title,
			Canonical: views.Canonical(site.BaseURL, sitePath),
			Path:      post.RelativePath,
			Post:      post,
			HTML:      template.HTML(doc.HTML), //nolint:gosec // HTML from trusted renderer
			Metadata:  doc.Metadata,
			TOC:       doc.TOC,
			Modified:  doc.Modified,
		}
		if err := e.writePage(outputDir, sitePath, page); err != nil {
			return Result{}, fmt.Errorf("write post %s: %w", post.Slug, err)
		}
	}

	for _, tag := range site.Tags {
		sitePath := views.TagURL(tag.Name)
		page := views.Page{
			Site:      site,
			Kind:      views.KindTag,
			Title:     "#" + tag.Name,
			Canonical: views.Canonical(site.BaseURL, sitePath),
			Tag:       tag.Name,
			Posts:     posts.ByTag(list, tag.Name),
		}
		if err := e.writePage(outputDir, "/tags/"+views.TagSlug(tag.Name), page); err != nil {
			return Result{}, fmt.Errorf("write tag %s: %w", tag.Name, err)
		}
	}

	index := views.Page{
		Site:      site,
		Kind:      views.KindIndex,
		Title:     site.Title,
		Canonical: views.Canonical(site.BaseURL, "/"),
		Posts:     list,
	}
	if err := e.writePage(outputDir, "/", index); err != nil {
		return Result{}, fmt.Errorf("write index: %w", err)
	}

	if err := writePostsJSON(outputDir, generatedAt, list); err != nil {
		return Result{}, err
	}

	res := Result{OutputDir: outputDir, Posts: len(list), Tags: len(site.Tags), Assets: media}
	e.logger.Info("export complete",
		slog.Int("posts", res.Posts),
		slog.Int("tags", res.Tags),
		slog.Int("media", res.Assets),
		slog.String("output", outputDir),
		slog.Duration("duration", time.Since(generatedAt)))

	return res, nil
}

func prepareOutputDir(output string, clean bool) error {
	if clean {
		if err := os.RemoveAll(output); err != nil {
			return fmt.Errorf("clean output: %w", err)
		}
	}
	return os.MkdirAll(output, 0o755) //nolint:gosec // standard directory permissions
}

// writePage renders page into <root>/<sitePath>/index.html.
func (e *Exporter) writePage(root, sitePath string, page views.Page) error {
	rel := strings.Trim(path.Clean("/"+sitePath), "/")
	dest := filepath.Join(root, filepath.FromSlash(rel), indexHTML)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil { //nolint:gosec // standard directory permissions
		return err
	}
	buf := bytes.Buffer{}
	if err := e.views.Render(&buf, "layout", page); err != nil {
		return err
	}
	return os.WriteFile(dest, buf.Bytes(), 0o644) //nolint:gosec // standard file permissions
}

func (e *Exporter) copyAssetBundle(dest, override string) error {
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("reset assets dir: %w", err)
	}
	override = strings.TrimSpace(override)
	if override != "" {
		if info, err := os.Stat(override); err == nil && info.IsDir() {
			if _, err := copyTree(override, dest, func(string, fs.DirEntry) bool { return true }); err != nil {
				return fmt.Errorf("copy override assets: %w", err)
			}
			e.logger.Debug("exporter using override assets", slog.String("source", override))
			return nil
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat assets override: %w", err)
		}
	}

	if err := blogstatic.CopyAll(dest); err != nil {
		return fmt.Errorf("copy embedded assets: %w", err)
	}
	return nil
}

// copyMedia copies every non-markdown file under root so /media/ links resolve.
func copyMedia(root, dest string, includeHidden bool) (int, error) {
	n, err := copyTree(root, dest, func(rel string, d fs.DirEntry) bool {
		if !includeHidden && strings.HasPrefix(d.Name(), ".") {
			return false
		}
		return d.IsDir() || !posts.IsMarkdown(rel)
	})
	if err != nil {
		return 0, fmt.Errorf("copy media: %w", err)
	}
	return n, nil
}

// copyTree copies src into dst, skipping entries keep rejects. It returns the
// number of files written.
func copyTree(src, dst string, keep func(rel string, d fs.DirEntry) bool) (int, error) {
	info, err := os.Stat(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("directory %s does not exist", src)
		}
		return 0, err
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("path %s is not a directory", src)
	}

	copied := 0
	err = filepath.WalkDir(src, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if !keep(filepath.ToSlash(rel), d) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		target := filepath.Join(dst, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil { //nolint:gosec // standard directory permissions
			return err
		}
		data, err := os.ReadFile(p) //nolint:gosec // path from validated source directory
		if err != nil {
			return err
		}
		copied++
		return os.WriteFile(target, data, 0o644) //nolint:gosec // standard file permissions
	})
	return copied, err
}

func writePostsJSON(output string, generatedAt time.Time, list []*posts.Post) error {
	payload := struct {
		GeneratedAt time.Time     `json:"generatedAt"`
		Posts       []*posts.Post `json:"posts"`
	}{
		GeneratedAt: generatedAt,
		Posts:       list,
	}
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode posts json: %w", err)
	}
	dest := filepath.Join(output, "posts.json")
	if err := os.WriteFile(dest, raw, 0o644); err != nil { //nolint:gosec // standard file permissions
		return fmt.Errorf("write posts.json: %w", err)
	}
	return nil
}
