package codeblock

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
	"golang.org/x/sync/errgroup"

	"github.com/euforicio/blogmd/internal/diagram"
	"github.com/euforicio/blogmd/internal/element"
)

const defaultConcurrency = 4

var renderContextKey = parser.NewContextKey()

// WithContext attaches ctx to a parser context so diagram renders started
// during parsing observe its cancellation.
func WithContext(pc parser.Context, ctx context.Context) {
	pc.Set(renderContextKey, ctx)
}

func contextFrom(pc parser.Context) context.Context {
	if pc != nil {
		if v, ok := pc.Get(renderContextKey).(context.Context); ok && v != nil {
			return v
		}
	}
	return context.Background()
}

// Extender is a goldmark extension that replaces diagram fences with rendered
// Block nodes. Other fences are left for the highlighting renderer.
type Extender struct {
	Classifier *Classifier
	Logger     *slog.Logger
	// Concurrency bounds how many diagrams of one document render at once.
	Concurrency int
}

// Extend implements goldmark.Extender.
func (e *Extender) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(
		parser.WithASTTransformers(
			util.Prioritized(&transformer{ext: e}, 200),
		),
	)
	m.Renderer().AddOptions(
		renderer.WithNodeRenderers(
			util.Prioritized(&blockRenderer{}, 100),
		),
	)
}

// FromFencedBlock builds the rendered element for a fenced block:
// pre > code.language-<lang> > one text leaf per source line.
func FromFencedBlock(block *ast.FencedCodeBlock, source []byte) *element.Element {
	if block == nil {
		return nil
	}

	props := element.Props{}
	if lang := block.Language(source); len(lang) > 0 {
		props["class"] = "language-" + string(lang)
	}

	lines := block.Lines()
	seq := make(element.Sequence, 0, lines.Len())
	for i := 0; i < lines.Len(); i++ {
		segment := lines.At(i)
		// Padding counts tab columns the parser consumed from the indent.
		line := strings.Repeat(" ", segment.Padding) + string(segment.Value(source))
		seq = append(seq, element.Text(line))
	}

	return element.New("pre", nil, element.New("code", props, seq))
}

type transformer struct {
	ext *Extender
}

type pending struct {
	block    *ast.FencedCodeBlock
	decision Decision
	state    diagram.State
}

// Transform implements parser.ASTTransformer.
func (t *transformer) Transform(doc *ast.Document, reader text.Reader, pc parser.Context) {
	classifier := t.ext.Classifier
	if classifier == nil || len(classifier.routes) == 0 || doc == nil {
		return
	}
	source := reader.Source()

	// Collect first; the tree must not change while walking it.
	var jobs []*pending
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		fb, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}
		if d := classifier.Classify(FromFencedBlock(fb, source)); d.Diagram {
			jobs = append(jobs, &pending{block: fb, decision: d})
		}
		return ast.WalkSkipChildren, nil
	})
	if len(jobs) == 0 {
		return
	}

	ctx := contextFrom(pc)
	limit := t.ext.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for _, job := range jobs {
		g.Go(func() error {
			job.state = diagram.RenderOnce(ctx, job.decision.Route.Handle, job.decision.Source)
			return nil
		})
	}
	_ = g.Wait()

	for _, job := range jobs {
		block := &Block{
			Language: job.decision.Route.Language(),
			State:    job.state,
		}
		block.SetBlankPreviousLines(job.block.HasBlankPreviousLines())
		if parent := job.block.Parent(); parent != nil {
			parent.ReplaceChild(parent, job.block, block)
		}
	}

	if t.ext.Logger != nil {
		t.ext.Logger.Debug("diagram blocks rendered", slog.Int("count", len(jobs)))
	}
}

// Block is a diagram fence after rendering. It carries the settled state of
// its render request.
type Block struct {
	ast.BaseBlock
	Language string
	State    diagram.State
}

// KindBlock is the node kind of Block.
var KindBlock = ast.NewNodeKind("DiagramBlock")

// Kind implements ast.Node.
func (b *Block) Kind() ast.NodeKind {
	return KindBlock
}

// IsRaw marks the node as raw HTML.
func (b *Block) IsRaw() bool {
	return true
}

// Dump aids debugging.
func (b *Block) Dump(source []byte, level int) {
	info := map[string]string{
		"Language": b.Language,
		"Status":   b.State.Status.String(),
		"Source":   fmt.Sprintf("%d bytes", len(b.State.Source)),
	}
	if b.State.Error != "" {
		info["Error"] = fmt.Sprintf("%q", b.State.Error)
	}
	ast.DumpHelper(b, source, level, info, nil)
}

type blockRenderer struct{}

// RegisterFuncs implements renderer.NodeRenderer.
func (r *blockRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindBlock, r.renderBlock)
}

func (r *blockRenderer) renderBlock(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkSkipChildren, nil
	}
	block := node.(*Block)
	if _, err := w.WriteString(diagram.HTML(block.State)); err != nil {
		return ast.WalkStop, err
	}
	if err := w.WriteByte('\n'); err != nil {
		return ast.WalkStop, err
	}
	return ast.WalkSkipChildren, nil
}
