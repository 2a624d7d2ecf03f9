package posts_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/euforicio/blogmd/internal/posts"
	"github.com/euforicio/blogmd/internal/renderer"
)

func fixtureRoot() string {
	return filepath.Join("..", "..", "testdata", "posts")
}

func TestBuildIndexWithMetadata(t *testing.T) {
	t.Parallel()
	svc := renderer.NewService(nil, renderer.Options{})

	list, err := posts.Build(context.Background(), fixtureRoot(), posts.Options{Renderer: svc})
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 published posts, got %d", len(list))
	}

	hello := posts.Find(list, "hello-world")
	if hello == nil {
		t.Fatalf("expected hello-world post")
	}
	if hello.Title != "Hello World" || hello.Summary == "" {
		t.Fatalf("unexpected hello post: %+v", hello)
	}
	if want := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC); !hello.Date.Equal(want) {
		t.Fatalf("expected date from frontmatter, got %v", hello.Date)
	}

	guide := posts.Find(list, "/guides/getting-started/")
	if guide == nil {
		t.Fatalf("expected guides/getting-started post")
	}
	if guide.RelativePath != "guides/getting_started.md" {
		t.Fatalf("unexpected relative path: %s", guide.RelativePath)
	}
	if !guide.TOC || guide.Metadata == nil {
		t.Fatalf("expected toc flag and metadata, got %+v", guide)
	}

	advanced := posts.Find(list, "guides/advanced-topics")
	if advanced == nil {
		t.Fatalf("expected guides/advanced-topics post")
	}
	if advanced.Title != "advanced topics" {
		t.Fatalf("expected default title from filename, got %q", advanced.Title)
	}
	if advanced.Metadata != nil {
		t.Fatalf("expected nil metadata when no frontmatter")
	}
	if !advanced.Date.Equal(advanced.Modified) {
		t.Fatalf("expected date to fall back to modification time")
	}

	for _, p := range list {
		if strings.HasPrefix(filepath.Base(p.RelativePath), ".") {
			t.Fatalf("hidden file should be excluded: %s", p.RelativePath)
		}
		if p.Draft {
			t.Fatalf("draft should be excluded: %s", p.RelativePath)
		}
	}
}

func TestBuildIncludesDrafts(t *testing.T) {
	t.Parallel()
	svc := renderer.NewService(nil, renderer.Options{})

	list, err := posts.Build(context.Background(), fixtureRoot(), posts.Options{Renderer: svc, IncludeDrafts: true})
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	draft := posts.Find(list, "work-in-progress")
	if draft == nil || !draft.Draft {
		t.Fatalf("expected draft post when drafts are included")
	}
}

func TestBuildSortsNewestFirst(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	write := func(name, body string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(root, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write("old.md", "---\ntitle: Old\ndate: 2020-01-01\n---\n")
	write("new.md", "---\ntitle: New\ndate: 2023-01-01\n---\n")
	write("mid.md", "---\ntitle: Mid\ndate: 2021-06-01\n---\n")

	list, err := posts.Build(context.Background(), root, posts.Options{Renderer: renderer.NewService(nil, renderer.Options{})})
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	got := make([]string, 0, len(list))
	for _, p := range list {
		got = append(got, p.Title)
	}
	if strings.Join(got, ",") != "New,Mid,Old" {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestDependencyDirectoriesExcluded(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "overview.md"), []byte("# Overview"), 0o644); err != nil {
		t.Fatalf("write overview: %v", err)
	}
	depDir := filepath.Join(root, "node_modules", "lib")
	if err := os.MkdirAll(depDir, 0o755); err != nil {
		t.Fatalf("mkdir dep: %v", err)
	}
	if err := os.WriteFile(filepath.Join(depDir, "README.md"), []byte("# Should not show"), 0o644); err != nil {
		t.Fatalf("write dep readme: %v", err)
	}

	list, err := posts.Build(context.Background(), root, posts.Options{})
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if len(list) != 1 || list[0].Slug != "overview" {
		t.Fatalf("expected only overview, got %+v", list)
	}
}

func TestBuildRejectsBadRoot(t *testing.T) {
	t.Parallel()
	if _, err := posts.Build(context.Background(), "", posts.Options{}); err == nil {
		t.Fatalf("expected error for empty root")
	}
	file := filepath.Join(t.TempDir(), "file.md")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := posts.Build(context.Background(), file, posts.Options{}); err == nil {
		t.Fatalf("expected error for file root")
	}
}

func TestTagsAndByTag(t *testing.T) {
	t.Parallel()
	list := []*posts.Post{
		{Slug: "a", Tags: []string{"Go", "diagrams"}},
		{Slug: "b", Tags: []string{"go"}},
		{Slug: "c", Tags: []string{"misc"}},
	}

	tagged := posts.ByTag(list, "GO")
	if len(tagged) != 2 || tagged[0].Slug != "a" || tagged[1].Slug != "b" {
		t.Fatalf("unexpected tagged posts: %+v", tagged)
	}

	counts := posts.Tags(list)
	if len(counts) != 3 {
		t.Fatalf("expected 3 tags, got %+v", counts)
	}
	if counts[0].Name != "Go" || counts[0].Count != 2 {
		t.Fatalf("expected Go first with 2 posts, got %+v", counts[0])
	}
	if counts[1].Name != "diagrams" || counts[2].Name != "misc" {
		t.Fatalf("unexpected tag order: %+v", counts)
	}
}
