package pipeline_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/euforicio/blogmd/internal/config"
	"github.com/euforicio/blogmd/internal/pipeline"
)

func TestNewRoutesConfiguredEngines(t *testing.T) {
	t.Parallel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Default()
	p := pipeline.New(cfg, logger, prometheus.NewRegistry())
	t.Cleanup(func() { require.NoError(t, p.Close()) })

	mm, ok := p.Classifier.RouteFor("mermaid")
	require.True(t, ok)
	assert.Equal(t, "mermaid", mm.Handle.Name())

	d, ok := p.Classifier.RouteFor("d2")
	require.True(t, ok)
	assert.Equal(t, "d2", d.Handle.Name())
	assert.NotNil(t, p.Renderer)
}

func TestNewWithoutD2(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.EnableD2 = false

	p := pipeline.New(cfg, nil, nil)
	t.Cleanup(func() { _ = p.Close() })

	_, ok := p.Classifier.RouteFor("d2")
	assert.False(t, ok)
	assert.Len(t, p.Classifier.Routes(), 1)
}
