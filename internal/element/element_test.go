package element_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/euforicio/blogmd/internal/element"
)

func TestExtract(t *testing.T) {
	t.Parallel()

	var nilElement *element.Element

	tests := []struct {
		name string
		node element.Node
		want string
	}{
		{name: "nil", node: nil, want: ""},
		{name: "text", node: element.Text("x"), want: "x"},
		{name: "empty sequence", node: element.Sequence{}, want: ""},
		{
			name: "sequence keeps order",
			node: element.Sequence{element.Text("a"), element.Text("b"), element.Text("c")},
			want: "abc",
		},
		{
			name: "element recurses into children",
			node: element.New("code", nil, element.Text("graph TD;")),
			want: "graph TD;",
		},
		{name: "element without children", node: element.New("code", nil), want: ""},
		{name: "nil element", node: nilElement, want: ""},
		{
			name: "deep nesting",
			node: element.New("pre", nil,
				element.New("code", element.Props{"class": "language-mermaid"},
					element.Text("graph TD;\n"),
					element.New("span", nil, element.Sequence{
						element.Text("A-->"),
						element.New("span", nil, element.Text("B;")),
					}),
				),
			),
			want: "graph TD;\nA-->B;",
		},
		{
			name: "whitespace is preserved",
			node: element.Sequence{element.Text("  a\n"), nilElement, element.Text("\tb  ")},
			want: "  a\n\tb  ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, element.Extract(tt.node))
		})
	}
}

func TestExtractConcatenatesChildExtractions(t *testing.T) {
	t.Parallel()

	a := element.New("span", nil, element.Text("one"))
	b := element.Text(" two ")
	c := element.Sequence{element.Text("three"), element.New("em", nil, element.Text("!"))}

	got := element.Extract(element.Sequence{a, b, c})
	assert.Equal(t, element.Extract(a)+element.Extract(b)+element.Extract(c), got)
}

func TestFromHTML(t *testing.T) {
	t.Parallel()

	doc, err := html.Parse(strings.NewReader(`<pre data-x="1"><!-- note --><code class="language-mermaid">graph TD;
  A--&gt;B;</code></pre>`))
	require.NoError(t, err)

	var pre *html.Node
	var find func(*html.Node)
	find = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "pre" {
			pre = n
			return
		}
		for c := n.FirstChild; c != nil && pre == nil; c = c.NextSibling {
			find(c)
		}
	}
	find(doc)
	require.NotNil(t, pre)

	el, ok := element.FromHTML(pre).(*element.Element)
	require.True(t, ok)
	assert.Equal(t, "pre", el.Tag)
	assert.Equal(t, "1", el.Props["data-x"])

	code := el.FirstChildElement("code")
	require.NotNil(t, code)
	assert.True(t, code.Props.HasClass("language-mermaid"))
	assert.Equal(t, "graph TD;\n  A-->B;", element.Extract(code))
	assert.Equal(t, "graph TD;\n  A-->B;", element.Extract(el))
}

func TestPropsClass(t *testing.T) {
	t.Parallel()

	var none element.Props
	assert.Empty(t, none.Class())
	assert.False(t, none.HasClass("language-mermaid"))

	props := element.Props{"class": "highlight language-mermaid"}
	assert.True(t, props.HasClass("language-mermaid"))
	assert.False(t, props.HasClass(""))
}
