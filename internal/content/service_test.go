package content_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/euforicio/blogmd/internal/content"
	"github.com/euforicio/blogmd/internal/renderer"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newService(t *testing.T, root string, opts content.Options) *content.Service {
	t.Helper()
	renderSvc := renderer.NewService(discardLogger(), renderer.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	svc, err := content.NewService(ctx, root, renderSvc, discardLogger(), opts)
	if err != nil {
		cancel()
		t.Fatalf("NewService failed: %v", err)
	}
	t.Cleanup(func() {
		_ = svc.Close()
		cancel()
	})
	return svc
}

func TestServiceEmitsEventsOnFileChange(t *testing.T) {
	t.Parallel()
	dst := t.TempDir()
	copyDir(t, filepath.Join("..", "..", "testdata", "posts"), dst)

	svc := newService(t, dst, content.Options{Watch: true})

	if _, err := svc.Posts(context.Background()); err != nil {
		t.Fatalf("Posts error: %v", err)
	}

	subCtx, subCancel := context.WithCancel(context.Background())
	ch := svc.Subscribe(subCtx)
	t.Cleanup(subCancel)

	postPath := filepath.Join(dst, "hello-world.md")
	contentBytes := []byte("---\ntitle: Hello Again\ndate: 2024-05-01\n---\n\n# Updated\n")

	// Give the watcher time to attach.
	time.Sleep(200 * time.Millisecond)

	if err := os.WriteFile(postPath, contentBytes, 0o644); err != nil {
		t.Fatalf("failed to write test post: %v", err)
	}

	timeout := time.After(2 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Type == "postUpdated" && evt.Path == "hello-world.md" && evt.Slug == "hello-world" {
				list, err := svc.Posts(context.Background())
				if err != nil {
					t.Fatalf("Posts error: %v", err)
				}
				// Writes may arrive in several events; wait for the final content.
				for _, p := range list {
					if p.Slug == "hello-world" && p.Title == "Hello Again" {
						return
					}
				}
			}
		case <-timeout:
			t.Fatalf("did not receive postUpdated event with rebuilt index")
		}
	}
}

func TestServicePostLookup(t *testing.T) {
	t.Parallel()
	svc := newService(t, filepath.Join("..", "..", "testdata", "posts"), content.Options{})

	post, doc, err := svc.Post(context.Background(), "guides/getting-started")
	if err != nil {
		t.Fatalf("Post error: %v", err)
	}
	if post.Title != "Getting Started" {
		t.Fatalf("unexpected title %q", post.Title)
	}
	if !strings.Contains(doc.HTML, "Install") || len(doc.TOC) == 0 {
		t.Fatalf("expected rendered post with toc, got %+v", doc.TOC)
	}

	if _, _, err := svc.Post(context.Background(), "work-in-progress"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected drafts to be hidden, got %v", err)
	}
	if _, _, err := svc.Post(context.Background(), "missing"); !errors.Is(err, content.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if status := svc.Status(); status["posts"] != 3 {
		t.Fatalf("unexpected status: %v", status)
	}
}

func TestServiceRejectsEscapingPaths(t *testing.T) {
	t.Parallel()
	svc := newService(t, filepath.Join("..", "..", "testdata", "posts"), content.Options{})

	for _, p := range []string{"../secret.md", "/etc/passwd", "guides/../../x.md", ""} {
		if _, err := svc.Document(context.Background(), p); err == nil {
			t.Fatalf("expected error for %q", p)
		}
	}
	if _, err := svc.Asset("../go.mod"); err == nil {
		t.Fatalf("expected asset escape to fail")
	}
	if _, err := svc.Asset(".hidden.md"); !errors.Is(err, content.ErrNotFound) {
		t.Fatalf("expected hidden asset to be refused, got %v", err)
	}
	abs, err := svc.Asset("images/logo.svg")
	if err != nil {
		t.Fatalf("Asset error: %v", err)
	}
	if filepath.Base(abs) != "logo.svg" {
		t.Fatalf("unexpected asset path %s", abs)
	}
}

func copyDir(t *testing.T, src, dst string) {
	t.Helper()
	if err := filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	}); err != nil {
		t.Fatalf("copyDir failed: %v", err)
	}
}
