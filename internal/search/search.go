// Package search finds text inside post sources with ripgrep.
package search

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrEmptyQuery is returned for blank queries.
var ErrEmptyQuery = errors.New("query cannot be empty")

var markdownGlobs = []string{"*.md", "*.markdown", "*.mdx"}

// Options tune a search.
type Options struct {
	// Context is the number of surrounding lines returned per hit.
	Context       int
	CaseSensitive bool
	// Limit caps the number of hits; zero means unlimited.
	Limit int
}

// Hit is one matching line in a post source.
type Hit struct {
	Path     string    `json:"path"`
	Match    string    `json:"match"`
	LineText string    `json:"lineText"`
	Before   []Snippet `json:"before,omitempty"`
	After    []Snippet `json:"after,omitempty"`
	Line     int       `json:"line"`
	Column   int       `json:"column"`
}

// Snippet is a context line around a hit.
type Snippet struct {
	Text string `json:"text"`
	Line int    `json:"line"`
}

// Service runs ripgrep over the posts root.
type Service struct {
	logger *slog.Logger
	binary string
	root   string
}

// NewService resolves rg and the posts root. It fails when rg is not installed
// so callers can leave search disabled.
func NewService(root string, logger *slog.Logger) (*Service, error) {
	if root == "" {
		return nil, errors.New("root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	binary, err := exec.LookPath("rg")
	if err != nil {
		return nil, fmt.Errorf("ripgrep executable not found in PATH: %w", err)
	}

	return &Service{root: abs, binary: binary, logger: logger.With("component", "search")}, nil
}

// Search returns hits for query across markdown sources. Hidden files are
// never searched. Paths are slash separated and relative to the root.
func (s *Service) Search(ctx context.Context, query string, opts Options) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	cmd := exec.CommandContext(ctx, s.binary, buildArgs(query, opts)...) //nolint:gosec // fixed binary, query passed after --
	cmd.Dir = s.root

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start rg: %w", err)
	}

	hits, err := parseJSON(stdout, opts)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, err
	}
	if opts.Limit > 0 && len(hits) >= opts.Limit {
		// Stop reading; rg exits on the closed pipe.
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return hits[:opts.Limit], nil
	}

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			// No matches.
			return hits, nil
		}
		if exitErr != nil {
			return nil, fmt.Errorf("rg error (exit %d): %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return nil, err
	}

	s.logger.Debug("search complete", slog.String("query", query), slog.Int("hits", len(hits)))
	return hits, nil
}

func buildArgs(query string, opts Options) []string {
	args := []string{"--json", "--line-number", "--color=never", "--no-heading"}
	if opts.CaseSensitive {
		args = append(args, "--case-sensitive")
	} else {
		args = append(args, "--smart-case")
	}
	if opts.Context > 0 {
		args = append(args, "-C", strconv.Itoa(opts.Context))
	}
	for _, glob := range markdownGlobs {
		args = append(args, "--glob", glob)
	}
	return append(args, "--fixed-strings", "--", query, ".")
}

type rgMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type rgText struct {
	Text string `json:"text"`
}

type rgLine struct {
	Path       rgText `json:"path"`
	Lines      rgText `json:"lines"`
	Submatches []struct {
		Match rgText `json:"match"`
		Start int    `json:"start"`
	} `json:"submatches"`
	LineNumber int `json:"line_number"`
}

// parseJSON reads rg --json output. Context lines before a hit arrive ahead
// of it; lines after arrive later and are attached to the last hit.
func parseJSON(r io.Reader, opts Options) ([]Hit, error) {
	dec := json.NewDecoder(bufio.NewReader(r))

	var (
		hits    []Hit
		pending []Snippet
	)
	for {
		if opts.Limit > 0 && len(hits) >= opts.Limit {
			return hits, nil
		}

		var msg rgMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return hits, nil
			}
			return nil, fmt.Errorf("decode ripgrep output: %w", err)
		}

		switch msg.Type {
		case "begin":
			pending = nil
		case "match":
			var m rgLine
			if err := json.Unmarshal(msg.Data, &m); err != nil {
				return nil, fmt.Errorf("decode match: %w", err)
			}
			hit := Hit{
				Path:     cleanPath(m.Path.Text),
				Line:     m.LineNumber,
				LineText: strings.TrimRight(m.Lines.Text, "\r\n"),
				Before:   pending,
			}
			if len(m.Submatches) > 0 {
				hit.Match = m.Submatches[0].Match.Text
				hit.Column = m.Submatches[0].Start + 1
			}
			pending = nil
			hits = append(hits, hit)
		case "context":
			if opts.Context == 0 {
				continue
			}
			var c rgLine
			if err := json.Unmarshal(msg.Data, &c); err != nil {
				return nil, fmt.Errorf("decode context: %w", err)
			}
			snip := Snippet{Line: c.LineNumber, Text: strings.TrimRight(c.Lines.Text, "\r\n")}
			path := cleanPath(c.Path.Text)
			if n := len(hits); n > 0 && hits[n-1].Path == path && c.LineNumber > hits[n-1].Line &&
				c.LineNumber-hits[n-1].Line <= opts.Context {
				hits[n-1].After = append(hits[n-1].After, snip)
				continue
			}
			pending = append(pending, snip)
			if len(pending) > opts.Context {
				pending = pending[len(pending)-opts.Context:]
			}
		}
	}
}

func cleanPath(p string) string {
	return strings.TrimPrefix(filepath.ToSlash(p), "./")
}
