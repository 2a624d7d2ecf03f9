// Package d2 renders D2 diagrams to SVG with the embedded D2 compiler.
package d2

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"oss.terrastruct.com/d2/d2graph"
	"oss.terrastruct.com/d2/d2layouts/d2dagrelayout"
	"oss.terrastruct.com/d2/d2layouts/d2elklayout"
	"oss.terrastruct.com/d2/d2lib"
	"oss.terrastruct.com/d2/d2renderers/d2svg"
	"oss.terrastruct.com/d2/d2themes/d2themescatalog"
	d2log "oss.terrastruct.com/d2/lib/log"
	"oss.terrastruct.com/d2/lib/textmeasure"
)

// Name identifies the engine in logs, metrics and markup.
const Name = "d2"

var (
	// ErrEmptyDiagram is returned when the supplied diagram body is empty.
	ErrEmptyDiagram = errors.New("empty d2 diagram")
)

// Options configure the engine.
type Options struct {
	Timeout time.Duration
	// ThemeID selects a d2themescatalog theme; zero keeps the dark flagship theme.
	ThemeID int64
}

// Engine performs server-side D2 compilation. Layout choices are left to the
// source diagram (via D2 config blocks) or environment variables such as D2_LAYOUT.
type Engine struct {
	logger  *slog.Logger
	ruler   *textmeasure.Ruler
	timeout time.Duration
	themeID int64
	// the ruler caches glyph measurements and is not safe for concurrent use
	mu sync.Mutex
}

// New creates an engine instance. If logger is nil, the default slog logger is used.
func New(logger *slog.Logger, opts *Options) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := Options{
		Timeout: 12 * time.Second,
		ThemeID: d2themescatalog.DarkFlagshipTerrastruct.ID,
	}
	if opts != nil && opts.Timeout > 0 {
		cfg.Timeout = opts.Timeout
	}
	if opts != nil && opts.ThemeID != 0 {
		cfg.ThemeID = opts.ThemeID
	}

	return &Engine{
		logger:  logger.With("component", "d2"),
		timeout: cfg.Timeout,
		themeID: cfg.ThemeID,
	}
}

// Name implements diagram.Engine.
func (e *Engine) Name() string {
	return Name
}

// Configure implements diagram.Engine. It loads the font ruler, which is the
// expensive part of D2 start-up.
func (e *Engine) Configure(_ context.Context) error {
	ruler, err := textmeasure.NewRuler()
	if err != nil {
		return fmt.Errorf("init ruler: %w", err)
	}
	e.ruler = ruler
	return nil
}

// Render implements diagram.Engine, respecting any layout directives defined
// inside the document itself.
func (e *Engine) Render(ctx context.Context, _ string, source string) (string, error) {
	if strings.TrimSpace(source) == "" {
		return "", ErrEmptyDiagram
	}
	if e.ruler == nil {
		return "", errors.New("d2 engine not configured")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ctx = d2log.With(ctx, e.logger)
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	themeID := e.themeID
	darkThemeID := e.themeID
	pad := int64(d2svg.DEFAULT_PADDING)
	renderOpts := &d2svg.RenderOpts{
		ThemeID:     &themeID,
		DarkThemeID: &darkThemeID,
		Pad:         &pad,
	}

	compileOpts := &d2lib.CompileOptions{
		Ruler:          e.ruler,
		LayoutResolver: e.layoutResolver,
	}

	diagram, _, err := d2lib.Compile(ctx, source, compileOpts, renderOpts)
	if err != nil {
		return "", err
	}
	if diagram == nil {
		return "", errors.New("d2 compiler returned nil diagram")
	}

	svg, err := d2svg.Render(diagram, renderOpts)
	if err != nil {
		return "", fmt.Errorf("render svg: %w", err)
	}
	return string(svg), nil
}

func (e *Engine) layoutResolver(engine string) (d2graph.LayoutGraph, error) {
	switch strings.ToLower(engine) {
	case "", "dagre":
		return func(ctx context.Context, g *d2graph.Graph) error {
			return d2dagrelayout.Layout(ctx, g, nil)
		}, nil
	case "elk":
		return func(ctx context.Context, g *d2graph.Graph) error {
			return d2elklayout.Layout(ctx, g, nil)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported D2 layout %q (install plugin for advanced engines)", engine)
	}
}
