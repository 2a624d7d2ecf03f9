// Package pipeline assembles the diagram engines, the block classifier and
// the markdown renderer from configuration.
package pipeline

import (
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/euforicio/blogmd/internal/codeblock"
	"github.com/euforicio/blogmd/internal/config"
	"github.com/euforicio/blogmd/internal/diagram"
	"github.com/euforicio/blogmd/internal/diagram/d2"
	"github.com/euforicio/blogmd/internal/diagram/mermaid"
	"github.com/euforicio/blogmd/internal/renderer"
)

// D2Marker is the language class routed to the D2 engine.
const D2Marker = "language-d2"

// Pipeline is the shared rendering stack of the server and the exporter.
type Pipeline struct {
	Classifier *codeblock.Classifier
	Renderer   *renderer.Service
	Metrics    *diagram.Metrics
	mermaid    *mermaid.Engine
}

// New builds the engines described by cfg. Engines configure lazily on their
// first render, so a missing mermaid CLI only fails the diagrams that need it.
// reg may be nil when metrics are not exported.
func New(cfg config.Config, logger *slog.Logger, reg prometheus.Registerer) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}

	metrics := diagram.NewMetrics(reg)

	mm := mermaid.New(logger, mermaid.Options{
		Binary:  cfg.MermaidCLI,
		Theme:   cfg.MermaidTheme,
		Timeout: cfg.DiagramTimeout,
	})
	routes := []codeblock.Route{{
		Marker: codeblock.MermaidMarker,
		Handle: diagram.NewHandle(mm, logger, diagram.WithMetrics(metrics)),
	}}
	if cfg.EnableD2 {
		routes = append(routes, codeblock.Route{
			Marker: D2Marker,
			Handle: diagram.NewHandle(d2.New(logger, &d2.Options{Timeout: cfg.DiagramTimeout}), logger, diagram.WithMetrics(metrics)),
		})
	}
	classifier := codeblock.NewClassifier(routes...)

	return &Pipeline{
		Classifier: classifier,
		Renderer: renderer.NewService(logger, renderer.Options{
			Classifier:  classifier,
			Concurrency: cfg.DiagramConcurrency,
		}),
		Metrics: metrics,
		mermaid: mm,
	}
}

// Close releases engine resources.
func (p *Pipeline) Close() error {
	if p == nil {
		return nil
	}
	p.Renderer.Purge()
	var errs []error
	if p.mermaid != nil {
		errs = append(errs, p.mermaid.Close())
	}
	return errors.Join(errs...)
}
