package renderer

import (
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// tableWrapperClass makes wide tables scroll instead of stretching the page.
const tableWrapperClass = "w-full overflow-x-auto"

// TableWrapper is a block holding exactly one GFM table.
type TableWrapper struct {
	ast.BaseBlock
}

// KindTableWrapper is the node kind of TableWrapper.
var KindTableWrapper = ast.NewNodeKind("TableWrapper")

// Kind implements ast.Node.
func (n *TableWrapper) Kind() ast.NodeKind {
	return KindTableWrapper
}

// Dump implements ast.Node.
func (n *TableWrapper) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, nil, nil)
}

// tableExtender wraps every table in a horizontally scrolling container.
type tableExtender struct{}

func (e *tableExtender) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(
		parser.WithASTTransformers(
			util.Prioritized(&tableTransformer{}, 150),
		),
	)
	m.Renderer().AddOptions(
		renderer.WithNodeRenderers(
			util.Prioritized(&tableWrapperRenderer{}, 100),
		),
	)
}

type tableTransformer struct{}

func (t *tableTransformer) Transform(doc *ast.Document, _ text.Reader, _ parser.Context) {
	var tables []ast.Node
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if n.Kind() == east.KindTable {
			tables = append(tables, n)
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	for _, table := range tables {
		parent := table.Parent()
		if parent == nil {
			continue
		}
		wrapper := &TableWrapper{}
		wrapper.SetBlankPreviousLines(table.HasBlankPreviousLines())
		parent.ReplaceChild(parent, table, wrapper)
		wrapper.AppendChild(wrapper, table)
	}
}

type tableWrapperRenderer struct{}

func (r *tableWrapperRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindTableWrapper, r.render)
}

func (r *tableWrapperRenderer) render(w util.BufWriter, _ []byte, _ ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		_, _ = w.WriteString(`<div class="` + tableWrapperClass + `">` + "\n")
	} else {
		_, _ = w.WriteString("</div>\n")
	}
	return ast.WalkContinue, nil
}
