package exporter

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExportWritesSite(t *testing.T) {
	t.Parallel()
	exp := newTestExporter(t)
	out := filepath.Join(t.TempDir(), "dist")

	res, err := exp.Export(context.Background(), Options{
		Root:        filepath.Join("..", "..", "testdata", "posts"),
		OutputDir:   out,
		SiteTitle:   "Field Notes",
		BaseURL:     "https://example.com/",
		CleanOutput: true,
	})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if res.Posts != 3 {
		t.Fatalf("expected 3 published posts, got %d", res.Posts)
	}
	if res.Tags == 0 {
		t.Fatalf("expected tag pages")
	}

	for _, rel := range []string{
		"index.html",
		"posts.json",
		"posts/hello-world/index.html",
		"posts/guides/getting-started/index.html",
		"tags/go/index.html",
		"media/images/logo.svg",
		"static/css/app.css",
	} {
		if _, err := os.Stat(filepath.Join(out, filepath.FromSlash(rel))); err != nil {
			t.Errorf("expected %s in export: %v", rel, err)
		}
	}
	for _, rel := range []string{"posts/work-in-progress/index.html", "media/hello-world.md", "media/.hidden.md"} {
		if _, err := os.Stat(filepath.Join(out, filepath.FromSlash(rel))); err == nil {
			t.Errorf("did not expect %s in export", rel)
		}
	}

	page, err := os.ReadFile(filepath.Join(out, "posts", "guides", "getting-started", "index.html"))
	if err != nil {
		t.Fatalf("read post page: %v", err)
	}
	html := string(page)
	if !strings.Contains(html, `<link rel="canonical" href="https://example.com/posts/guides/getting-started">`) {
		t.Errorf("missing canonical link")
	}
	if !strings.Contains(html, "mermaid-chart") {
		t.Errorf("expected rendered diagram in exported page")
	}
	if strings.Contains(html, "/static/js/live.js") {
		t.Errorf("static export should not include the live reload script")
	}

	raw, err := os.ReadFile(filepath.Join(out, "posts.json"))
	if err != nil {
		t.Fatalf("read posts.json: %v", err)
	}
	var payload struct {
		Posts []struct {
			Slug string `json:"slug"`
		} `json:"posts"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("decode posts.json: %v", err)
	}
	if len(payload.Posts) != 3 {
		t.Fatalf("unexpected posts.json entries: %+v", payload.Posts)
	}
}

func TestExportRejectsOutputInsideRoot(t *testing.T) {
	t.Parallel()
	exp := newTestExporter(t)
	root := t.TempDir()

	_, err := exp.Export(context.Background(), Options{
		Root:      root,
		OutputDir: filepath.Join(root, "dist"),
	})
	if err == nil || !strings.Contains(err.Error(), "must not be inside") {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestExportRequiresDirectories(t *testing.T) {
	t.Parallel()
	exp := newTestExporter(t)
	if _, err := exp.Export(context.Background(), Options{OutputDir: t.TempDir()}); err == nil {
		t.Fatalf("expected missing root error")
	}
	if _, err := exp.Export(context.Background(), Options{Root: t.TempDir()}); err == nil {
		t.Fatalf("expected missing output error")
	}
}
