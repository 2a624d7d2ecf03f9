package diagram_test

import (
	"context"
	"errors"
	"html"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/euforicio/blogmd/internal/diagram"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeEngine renders "<svg>source</svg>" unless a per-source gate, error or
// panic is registered.
type fakeEngine struct {
	gates      map[string]chan struct{}
	errs       map[string]error
	panics     map[string]bool
	returned   chan string
	configured atomic.Int32
	mu         sync.Mutex
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		gates:    make(map[string]chan struct{}),
		errs:     make(map[string]error),
		panics:   make(map[string]bool),
		returned: make(chan string, 16),
	}
}

func (f *fakeEngine) gate(source string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[source] = ch
	return ch
}

func (f *fakeEngine) Name() string { return "mermaid" }

func (f *fakeEngine) Configure(context.Context) error {
	f.configured.Add(1)
	return nil
}

func (f *fakeEngine) Render(_ context.Context, id, source string) (string, error) {
	defer func() { f.returned <- source }()

	f.mu.Lock()
	gate := f.gates[source]
	err := f.errs[source]
	shouldPanic := f.panics[source]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if shouldPanic {
		panic("layout exploded")
	}
	if err != nil {
		return "", err
	}
	return `<svg id="` + id + `">` + html.EscapeString(source) + `</svg>`, nil
}

func waitState(t *testing.T, r *diagram.Renderer) diagram.State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := r.Wait(ctx)
	require.NoError(t, err)
	return st
}

func waitReturned(t *testing.T, f *fakeEngine, source string) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case got := <-f.returned:
			if got == source {
				return
			}
		case <-timeout:
			t.Fatalf("engine never returned for %q", source)
		}
	}
}

func TestRendererSuccess(t *testing.T) {
	t.Parallel()
	engine := newFakeEngine()
	r := diagram.NewRenderer(diagram.NewHandle(engine, testLogger()))
	t.Cleanup(r.Close)

	r.Render(context.Background(), "  graph TD; A-->B;\n")
	st := waitState(t, r)

	assert.Equal(t, diagram.StatusRendered, st.Status)
	assert.NotEmpty(t, st.Markup)
	assert.Empty(t, st.Error)
	assert.Equal(t, "graph TD; A-->B;", st.Source)
	assert.True(t, strings.HasPrefix(st.ID, "diagram-"))
	assert.Contains(t, r.HTML(), `<div class="mermaid-chart my-4"`)
	assert.Contains(t, r.HTML(), st.Markup)
}

func TestRendererFailureShowsPanel(t *testing.T) {
	t.Parallel()
	engine := newFakeEngine()
	engine.errs["not valid syntax {{{"] = errors.New("Parse error")
	r := diagram.NewRenderer(diagram.NewHandle(engine, testLogger()))
	t.Cleanup(r.Close)

	r.Render(context.Background(), "\n not valid syntax {{{ \n")
	st := waitState(t, r)

	require.Equal(t, diagram.StatusFailed, st.Status)
	assert.Equal(t, "Parse error", st.Error)
	assert.Empty(t, st.Markup)
	assert.Equal(t, "not valid syntax {{{", st.Source)

	panel := r.HTML()
	assert.Contains(t, panel, "Parse error")
	assert.Contains(t, panel, `<pre class="language-mermaid overflow-x-auto text-sm">not valid syntax {{{</pre>`)
	assert.Contains(t, panel, "⚠️")
}

func TestRendererRecoversFromFailure(t *testing.T) {
	t.Parallel()
	engine := newFakeEngine()
	engine.errs["bad"] = errors.New("Parse error")
	r := diagram.NewRenderer(diagram.NewHandle(engine, testLogger()))
	t.Cleanup(r.Close)

	r.Render(context.Background(), "bad")
	require.Equal(t, diagram.StatusFailed, waitState(t, r).Status)

	r.Render(context.Background(), "graph LR; X-->Y;")
	st := waitState(t, r)
	assert.Equal(t, diagram.StatusRendered, st.Status)
	assert.Empty(t, st.Error)
}

func TestRendererEnginePanicIsContained(t *testing.T) {
	t.Parallel()
	engine := newFakeEngine()
	engine.panics["boom"] = true
	r := diagram.NewRenderer(diagram.NewHandle(engine, testLogger()))
	t.Cleanup(r.Close)

	r.Render(context.Background(), "boom")
	st := waitState(t, r)

	assert.Equal(t, diagram.StatusFailed, st.Status)
	assert.Contains(t, st.Error, "layout exploded")
	assert.Equal(t, "boom", st.Source)
}

func TestRendererEmptySourceFails(t *testing.T) {
	t.Parallel()
	engine := newFakeEngine()
	r := diagram.NewRenderer(diagram.NewHandle(engine, testLogger()))
	t.Cleanup(r.Close)

	r.Render(context.Background(), "   \n")
	st := waitState(t, r)
	assert.Equal(t, diagram.StatusFailed, st.Status)
	assert.Equal(t, diagram.ErrEmptyDiagram.Error(), st.Error)
}

func TestRendererLatestRequestWinsWhenStaleResolvesLast(t *testing.T) {
	t.Parallel()
	engine := newFakeEngine()
	releaseA := engine.gate("graph A")
	r := diagram.NewRenderer(diagram.NewHandle(engine, testLogger()))

	r.Render(context.Background(), "graph A")
	tokenB := r.Render(context.Background(), "graph B")

	st := waitState(t, r)
	require.Equal(t, diagram.StatusRendered, st.Status)
	assert.Equal(t, "graph B", st.Source)
	assert.Equal(t, tokenB, st.Token)

	close(releaseA)
	r.Close()

	final := r.State()
	assert.Equal(t, diagram.StatusRendered, final.Status)
	assert.Equal(t, "graph B", final.Source)
	assert.Contains(t, final.Markup, "graph B")
	assert.NotContains(t, final.Markup, "graph A")
}

func TestRendererLatestRequestWinsWhenStaleResolvesFirst(t *testing.T) {
	t.Parallel()
	engine := newFakeEngine()
	releaseA := engine.gate("graph A")
	releaseB := engine.gate("graph B")
	r := diagram.NewRenderer(diagram.NewHandle(engine, testLogger()))
	t.Cleanup(r.Close)

	r.Render(context.Background(), "graph A")
	r.Render(context.Background(), "graph B")

	close(releaseA)
	waitReturned(t, engine, "graph A")

	pending := r.State()
	assert.Equal(t, diagram.StatusPending, pending.Status)
	assert.Equal(t, "graph B", pending.Source)
	assert.Empty(t, pending.Markup)

	close(releaseB)
	st := waitState(t, r)
	assert.Equal(t, diagram.StatusRendered, st.Status)
	assert.Contains(t, st.Markup, "graph B")
}

func TestWaitFollowsSupersedingRequest(t *testing.T) {
	t.Parallel()
	engine := newFakeEngine()
	releaseA := engine.gate("graph A")
	r := diagram.NewRenderer(diagram.NewHandle(engine, testLogger()))
	t.Cleanup(func() {
		close(releaseA)
		r.Close()
	})

	tokenA := r.Render(context.Background(), "graph A")

	got := make(chan diagram.State, 1)
	go func() {
		st, _ := r.Wait(context.Background())
		got <- st
	}()

	tokenB := r.Render(context.Background(), "graph B")
	require.NotEqual(t, tokenA, tokenB)

	select {
	case st := <-got:
		assert.Equal(t, tokenB, st.Token)
		assert.Equal(t, diagram.StatusRendered, st.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter on the superseded request never returned")
	}
}

func TestHandleConfiguresOnce(t *testing.T) {
	t.Parallel()
	engine := newFakeEngine()
	h := diagram.NewHandle(engine, testLogger())

	require.NoError(t, h.Ready(context.Background()))
	require.NoError(t, h.Ready(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st := diagram.RenderOnce(context.Background(), h, "graph TD; A-->B;")
			assert.Equal(t, diagram.StatusRendered, st.Status)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), engine.configured.Load())
}

type failingConfigEngine struct {
	calls atomic.Int32
}

func (e *failingConfigEngine) Name() string { return "mermaid" }

func (e *failingConfigEngine) Configure(context.Context) error {
	e.calls.Add(1)
	return errors.New("mmdc not found")
}

func (e *failingConfigEngine) Render(context.Context, string, string) (string, error) {
	return "<svg/>", nil
}

func TestHandleConfigurationFailureFailsRenders(t *testing.T) {
	t.Parallel()
	engine := &failingConfigEngine{}
	h := diagram.NewHandle(engine, testLogger())

	first := diagram.RenderOnce(context.Background(), h, "graph TD;")
	second := diagram.RenderOnce(context.Background(), h, "graph LR;")

	assert.Equal(t, diagram.StatusFailed, first.Status)
	assert.Equal(t, "mmdc not found", first.Error)
	assert.Equal(t, diagram.StatusFailed, second.Status)
	assert.Equal(t, int32(1), engine.calls.Load())
}

type panickingConfigEngine struct {
	configures atomic.Int32
	renders    atomic.Int32
}

func (e *panickingConfigEngine) Name() string { return "d2" }

func (e *panickingConfigEngine) Configure(context.Context) error {
	e.configures.Add(1)
	panic("ruler init")
}

func (e *panickingConfigEngine) Render(context.Context, string, string) (string, error) {
	e.renders.Add(1)
	return "<svg/>", nil
}

func TestHandleConfigurationPanicFailsRenders(t *testing.T) {
	t.Parallel()
	engine := &panickingConfigEngine{}
	h := diagram.NewHandle(engine, testLogger())

	err := h.Ready(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ruler init")

	r := diagram.NewRenderer(h)
	t.Cleanup(r.Close)
	r.Render(context.Background(), "a -> b")
	st, err := r.Wait(context.Background())
	require.NoError(t, err)

	assert.Equal(t, diagram.StatusFailed, st.Status)
	assert.Contains(t, st.Error, "ruler init")
	assert.Equal(t, "a -> b", st.Source)
	assert.Equal(t, int32(1), engine.configures.Load())
	assert.Zero(t, engine.renders.Load())
}

func TestWaitWithoutRenderReturnsIdle(t *testing.T) {
	t.Parallel()
	r := diagram.NewRenderer(diagram.NewHandle(newFakeEngine(), testLogger()))

	st, err := r.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, diagram.StatusPending, st.Status)
	assert.Empty(t, st.Markup)
	assert.Empty(t, st.Error)
}

func TestWaitHonorsContext(t *testing.T) {
	t.Parallel()
	engine := newFakeEngine()
	release := engine.gate("slow")
	r := diagram.NewRenderer(diagram.NewHandle(engine, testLogger()))
	t.Cleanup(func() {
		close(release)
		r.Close()
	})

	r.Render(context.Background(), "slow")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	st, err := r.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, diagram.StatusPending, st.Status)
}

func TestMetricsCountOutcomes(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	metrics := diagram.NewMetrics(reg)
	engine := newFakeEngine()
	engine.errs["bad"] = errors.New("Parse error")
	h := diagram.NewHandle(engine, testLogger(), diagram.WithMetrics(metrics))

	diagram.RenderOnce(context.Background(), h, "graph TD;")
	diagram.RenderOnce(context.Background(), h, "bad")

	count, err := testutil.GatherAndCount(reg, "blogmd_diagram_renders_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()
	assert.Empty(t, diagram.ErrorMessage(nil))
	assert.Equal(t, "Failed to render diagram", diagram.ErrorMessage(errors.New("  ")))
	assert.Equal(t, "Parse error", diagram.ErrorMessage(errors.New("Parse error")))
}

func TestErrorPanelEscapes(t *testing.T) {
	t.Parallel()
	panel := diagram.ErrorPanel("<bad>", "A-->B & <C>", "d2")

	assert.Contains(t, panel, "&lt;bad&gt;")
	assert.Contains(t, panel, `<pre class="language-d2 overflow-x-auto text-sm">A--&gt;B &amp; &lt;C&gt;</pre>`)
	assert.Contains(t, diagram.ErrorPanel("", "x", ""), "Failed to render diagram")
}
