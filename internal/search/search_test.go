package search

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

const sampleOutput = `{"type":"begin","data":{"path":{"text":"./guides/getting_started.md"}}}
{"type":"context","data":{"path":{"text":"./guides/getting_started.md"},"lines":{"text":"## Install\n"},"line_number":11,"submatches":[]}}
{"type":"match","data":{"path":{"text":"./guides/getting_started.md"},"lines":{"text":"go install github.com/euforicio/blogmd/cmd/blogmd@latest\n"},"line_number":12,"submatches":[{"match":{"text":"install"},"start":3,"end":10}]}}
{"type":"context","data":{"path":{"text":"./guides/getting_started.md"},"lines":{"text":"` + "```" + `\n"},"line_number":13,"submatches":[]}}
{"type":"end","data":{"path":{"text":"./guides/getting_started.md"}}}
{"type":"begin","data":{"path":{"text":"./hello-world.md"}}}
{"type":"match","data":{"path":{"text":"./hello-world.md"},"lines":{"text":"# Hello World\n"},"line_number":10,"submatches":[{"match":{"text":"Hello"},"start":2,"end":7}]}}
{"type":"end","data":{"path":{"text":"./hello-world.md"}}}
{"type":"summary","data":{}}
`

func TestParseJSON(t *testing.T) {
	t.Parallel()

	hits, err := parseJSON(strings.NewReader(sampleOutput), Options{Context: 1})
	if err != nil {
		t.Fatalf("parseJSON: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d: %#v", len(hits), hits)
	}

	first := hits[0]
	if first.Path != "guides/getting_started.md" || first.Line != 12 || first.Column != 4 || first.Match != "install" {
		t.Fatalf("unexpected first hit %#v", first)
	}
	if len(first.Before) != 1 || first.Before[0].Text != "## Install" {
		t.Fatalf("unexpected before context %#v", first.Before)
	}
	if len(first.After) != 1 || first.After[0].Line != 13 {
		t.Fatalf("unexpected after context %#v", first.After)
	}

	second := hits[1]
	if second.Path != "hello-world.md" || second.LineText != "# Hello World" || len(second.Before) != 0 {
		t.Fatalf("unexpected second hit %#v", second)
	}
}

func TestParseJSONLimit(t *testing.T) {
	t.Parallel()

	hits, err := parseJSON(strings.NewReader(sampleOutput), Options{Limit: 1})
	if err != nil {
		t.Fatalf("parseJSON: %v", err)
	}
	if len(hits) != 1 || hits[0].Before != nil {
		t.Fatalf("expected one hit without context, got %#v", hits)
	}
}

func TestParseJSONRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, err := parseJSON(strings.NewReader("{not json"), Options{}); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestBuildArgs(t *testing.T) {
	t.Parallel()

	args := buildArgs("-rf", Options{Context: 2, CaseSensitive: true})
	joined := strings.Join(args, " ")
	for _, want := range []string{"--case-sensitive", "-C 2", "--glob *.md", "--fixed-strings -- -rf ."} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %q in %q", want, joined)
		}
	}
	if strings.Contains(joined, "--hidden") {
		t.Fatalf("hidden files must not be searched: %q", joined)
	}
}

func TestSearchPosts(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("rg"); err != nil {
		t.Skip("ripgrep (rg) not installed")
	}

	svc, err := NewService(filepath.Join("..", "..", "testdata", "posts"), nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	hits, err := svc.Search(context.Background(), "flowchart", Options{Context: 1})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	found := false
	for _, h := range hits {
		if strings.HasPrefix(filepath.Base(h.Path), ".") {
			t.Fatalf("hidden file searched: %#v", h)
		}
		if h.Path == "hello-world.md" && strings.Contains(h.LineText, "## A flowchart") {
			found = true
		}
	}
	if !found {
		t.Fatalf("did not find heading match in %#v", hits)
	}

	none, err := svc.Search(context.Background(), "no such phrase anywhere", Options{})
	if err != nil || len(none) != 0 {
		t.Fatalf("expected no hits, got %#v, %v", none, err)
	}

	if _, err := svc.Search(context.Background(), "  ", Options{}); !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
}
