// Package posts builds the post index from a directory of markdown files.
package posts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/euforicio/blogmd/internal/renderer"
)

// Post is one entry of the index.
type Post struct {
	Date         time.Time          `json:"date"`
	Modified     time.Time          `json:"modified"`
	Metadata     *renderer.Metadata `json:"metadata,omitempty"`
	Slug         string             `json:"slug"`
	RelativePath string             `json:"relativePath"`
	Title        string             `json:"title"`
	Summary      string             `json:"summary,omitempty"`
	Tags         []string           `json:"tags,omitempty"`
	Size         int64              `json:"size"`
	Draft        bool               `json:"draft,omitempty"`
	TOC          bool               `json:"toc,omitempty"`
}

// HasTag reports whether the post carries tag, ignoring case.
func (p *Post) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// Options control how the index is built.
type Options struct {
	Renderer      *renderer.Service
	ExcludeDirs   []string
	IncludeHidden bool
	IncludeDrafts bool
}

// Build walks root and returns its posts, newest first.
func Build(ctx context.Context, root string, opts Options) ([]*Post, error) {
	if root == "" {
		return nil, errors.New("root directory must be provided")
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", absRoot)
	}

	b := newBuilder(absRoot, opts)
	if err := b.walkDir(ctx, absRoot, ""); err != nil {
		return nil, err
	}

	Sort(b.posts)
	return b.posts, nil
}

// Sort orders posts newest first, then by title.
func Sort(list []*Post) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].Date.Equal(list[j].Date) {
			return list[i].Date.After(list[j].Date)
		}
		return strings.Compare(list[i].Title, list[j].Title) < 0
	})
}

type builder struct {
	exclude map[string]struct{}
	root    string
	posts   []*Post
	opts    Options
}

var defaultExcludedDirs = []string{
	"node_modules",
	"vendor",
	".git",
	".hg",
	".svn",
	".idea",
	".vscode",
}

func newBuilder(absRoot string, opts Options) *builder {
	exclude := make(map[string]struct{})
	for _, name := range append(append([]string(nil), defaultExcludedDirs...), opts.ExcludeDirs...) {
		if name = strings.TrimSpace(name); name != "" {
			exclude[strings.ToLower(name)] = struct{}{}
		}
	}
	return &builder{
		root:    absRoot,
		opts:    opts,
		exclude: exclude,
	}
}

func (b *builder) isExcluded(name string) bool {
	_, ok := b.exclude[strings.ToLower(name)]
	return ok
}

func (b *builder) walkDir(ctx context.Context, absPath, relPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := os.ReadDir(absPath)
	if err != nil {
		return fmt.Errorf("read dir %s: %w", absPath, err)
	}

	for _, entry := range entries {
		if !b.opts.IncludeHidden && strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		childRel := filepath.Join(relPath, entry.Name())
		childAbs := filepath.Join(absPath, entry.Name())

		if entry.IsDir() {
			if b.isExcluded(entry.Name()) {
				continue
			}
			if err := b.walkDir(ctx, childAbs, childRel); err != nil {
				return err
			}
			continue
		}

		if !IsMarkdown(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("stat file %s: %w", childAbs, err)
		}

		post, err := b.readPost(childAbs, childRel, info)
		if err != nil {
			return err
		}
		if post.Draft && !b.opts.IncludeDrafts {
			continue
		}
		b.posts = append(b.posts, post)
	}
	return nil
}

func (b *builder) readPost(absPath, relPath string, info fs.FileInfo) (*Post, error) {
	content, err := os.ReadFile(absPath) //nolint:gosec // absPath is constructed from validated root
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", absPath, err)
	}

	rel := filepath.ToSlash(relPath)
	post := &Post{
		Slug:         renderer.SlugFromPath(rel),
		RelativePath: rel,
		Title:        DisplayName(filepath.Base(rel)),
		Date:         info.ModTime(),
		Modified:     info.ModTime(),
		Size:         info.Size(),
	}

	if b.opts.Renderer == nil {
		return post, nil
	}

	meta := b.opts.Renderer.Metadata(content)
	if meta.IsZero() {
		return post, nil
	}
	post.Metadata = &meta
	if meta.Title != "" {
		post.Title = meta.Title
	}
	if !meta.Date.IsZero() {
		post.Date = meta.Date
	}
	post.Summary = meta.Summary
	post.Tags = meta.Tags
	post.Draft = meta.Draft
	post.TOC = meta.TOC
	return post, nil
}

// IsMarkdown reports whether name has a markdown extension.
func IsMarkdown(name string) bool {
	name = strings.ToLower(name)
	return strings.HasSuffix(name, ".md") || strings.HasSuffix(name, ".markdown")
}

// DisplayName turns a file name into a fallback title.
func DisplayName(name string) string {
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = strings.ReplaceAll(name, "_", " ")
	return strings.TrimSpace(name)
}

// Find returns the post with slug, or nil.
func Find(list []*Post, slug string) *Post {
	slug = strings.Trim(slug, "/")
	for _, p := range list {
		if p.Slug == slug {
			return p
		}
	}
	return nil
}

// ByTag returns the posts tagged with tag, keeping their order.
func ByTag(list []*Post, tag string) []*Post {
	var out []*Post
	for _, p := range list {
		if p.HasTag(tag) {
			out = append(out, p)
		}
	}
	return out
}

// TagCount is a tag and the number of posts carrying it.
type TagCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Tags counts tags across list, most used first. Tags differing only in
// case are merged under their first spelling.
func Tags(list []*Post) []TagCount {
	index := make(map[string]int)
	var out []TagCount
	for _, p := range list {
		for _, t := range p.Tags {
			key := strings.ToLower(t)
			if i, ok := index[key]; ok {
				out[i].Count++
				continue
			}
			index[key] = len(out)
			out = append(out, TagCount{Name: t, Count: 1})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}
