// Package mermaid renders Mermaid diagrams to SVG through the mermaid-cli (mmdc).
package mermaid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Name identifies the engine in logs, metrics and markup.
const Name = "mermaid"

const defaultFontFamily = "ui-sans-serif,system-ui,-apple-system,BlinkMacSystemFont,Segoe UI,Roboto,Helvetica Neue,Arial,Noto Sans,sans-serif"

// Options configure the CLI engine.
type Options struct {
	Binary        string
	Theme         string
	SecurityLevel string
	FontFamily    string
	Background    string
	Timeout       time.Duration
}

// Engine shells out to mmdc for each render. Configure resolves the binary and
// writes the shared mermaid configuration file.
type Engine struct {
	logger     *slog.Logger
	bin        string
	configDir  string
	configPath string
	opts       Options
}

// New creates an unconfigured engine. If logger is nil, the default slog logger is used.
func New(logger *slog.Logger, opts Options) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Binary == "" {
		opts.Binary = "mmdc"
	}
	if opts.Theme == "" {
		opts.Theme = "dark"
	}
	if opts.SecurityLevel == "" {
		opts.SecurityLevel = "loose"
	}
	if opts.FontFamily == "" {
		opts.FontFamily = defaultFontFamily
	}
	if opts.Background == "" {
		opts.Background = "transparent"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &Engine{
		logger: logger.With("component", "mermaid"),
		opts:   opts,
	}
}

// Name implements diagram.Engine.
func (e *Engine) Name() string {
	return Name
}

type config struct {
	Theme         string `json:"theme"`
	SecurityLevel string `json:"securityLevel"`
	FontFamily    string `json:"fontFamily"`
	StartOnLoad   bool   `json:"startOnLoad"`
}

// Configure implements diagram.Engine.
func (e *Engine) Configure(_ context.Context) error {
	bin, err := exec.LookPath(e.opts.Binary)
	if err != nil {
		return fmt.Errorf("mmdc not found: %w", err)
	}

	dir, err := os.MkdirTemp("", "blogmd-mermaid-*")
	if err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := json.Marshal(config{
		Theme:         e.opts.Theme,
		SecurityLevel: e.opts.SecurityLevel,
		FontFamily:    e.opts.FontFamily,
		StartOnLoad:   true,
	})
	if err != nil {
		_ = os.RemoveAll(dir)
		return fmt.Errorf("encode mermaid config: %w", err)
	}

	path := filepath.Join(dir, "mermaid.json")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		_ = os.RemoveAll(dir)
		return fmt.Errorf("write mermaid config: %w", err)
	}

	e.bin = bin
	e.configDir = dir
	e.configPath = path
	e.logger.Debug("mermaid configured", slog.String("bin", bin), slog.String("theme", e.opts.Theme))
	return nil
}

// Render implements diagram.Engine.
func (e *Engine) Render(ctx context.Context, id, source string) (string, error) {
	if e.bin == "" {
		return "", errors.New("mermaid engine not configured")
	}

	tmpDir, err := os.MkdirTemp("", "blogmd-mmdc-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmpDir)

	inPath := filepath.Join(tmpDir, "diagram.mmd")
	outPath := filepath.Join(tmpDir, "diagram.svg")

	if err := os.WriteFile(inPath, []byte(source), 0o600); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	args := []string{
		"-i", inPath,
		"-o", outPath,
		"-c", e.configPath,
		"-b", e.opts.Background,
		"--quiet",
	}
	if id != "" {
		args = append(args, "-I", id)
	}

	cmd := exec.CommandContext(ctx, e.bin, args...) //nolint:gosec // binary resolved via LookPath at configure time
	// mmdc writes temp files next to input; keep cwd in tmpdir
	cmd.Dir = tmpDir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if msg := cliMessage(stderr.String()); msg != "" {
			return "", errors.New(msg)
		}
		return "", fmt.Errorf("mmdc failed: %w", err)
	}

	data, err := os.ReadFile(outPath) //nolint:gosec // path inside private temp dir
	if err != nil {
		return "", fmt.Errorf("read mmdc output: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return "", errors.New("mmdc produced empty svg")
	}
	return string(data), nil
}

// Close removes the configuration written by Configure.
func (e *Engine) Close() error {
	if e.configDir == "" {
		return nil
	}
	return os.RemoveAll(e.configDir)
}

// cliMessage picks the meaningful part of mmdc's stderr. The CLI prints the
// parser error first, followed by a node stack trace.
func cliMessage(stderr string) string {
	var lines []string
	for _, line := range strings.Split(stderr, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "at ") {
			break
		}
		lines = append(lines, trimmed)
	}
	return strings.TrimPrefix(strings.Join(lines, "\n"), "Error: ")
}
