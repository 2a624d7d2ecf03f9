// Package diagram turns diagram source text into markup through a pluggable
// layout engine and tracks the outcome of each render request.
package diagram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrEmptyDiagram is returned when the supplied diagram body is blank.
	ErrEmptyDiagram = errors.New("empty diagram")
)

// Engine converts diagram source into markup. Configure is invoked at most once
// per Handle before the first Render.
type Engine interface {
	Name() string
	Configure(ctx context.Context) error
	Render(ctx context.Context, id, source string) (string, error)
}

// Handle owns an engine and guarantees its one-time configuration.
type Handle struct {
	engine  Engine
	logger  *slog.Logger
	metrics *Metrics
	err     error
	once    sync.Once
}

// HandleOption customizes a Handle.
type HandleOption func(*Handle)

// WithMetrics records render outcomes on m.
func WithMetrics(m *Metrics) HandleOption {
	return func(h *Handle) {
		h.metrics = m
	}
}

// NewHandle wraps engine. If logger is nil, the default slog logger is used.
func NewHandle(engine Engine, logger *slog.Logger, opts ...HandleOption) *Handle {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handle{
		engine: engine,
		logger: logger.With("component", "diagram", "engine", engine.Name()),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name reports the wrapped engine's name.
func (h *Handle) Name() string {
	return h.engine.Name()
}

// Ready configures the engine on first use. Later calls return the outcome of
// that first configuration without repeating it.
func (h *Handle) Ready(ctx context.Context) error {
	h.once.Do(func() {
		start := time.Now()
		h.err = h.configure(ctx)
		if h.err != nil {
			h.logger.Error("diagram engine configuration failed", slog.Any("err", h.err))
			return
		}
		h.logger.Debug("diagram engine configured", slog.Duration("duration", time.Since(start)))
	})
	return h.err
}

func (h *Handle) configure(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%s engine configure panic: %v", h.engine.Name(), p)
		}
	}()
	return h.engine.Configure(ctx)
}

// Render configures the engine if needed and renders source. A panicking
// engine is reported as an error.
func (h *Handle) Render(ctx context.Context, id, source string) (markup string, err error) {
	if err := h.Ready(ctx); err != nil {
		return "", err
	}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			markup = ""
			err = fmt.Errorf("%s engine panic: %v", h.engine.Name(), p)
		}
		h.metrics.observe(h.engine.Name(), err, time.Since(start))
	}()

	return h.engine.Render(ctx, id, source)
}
