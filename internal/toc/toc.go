// Package toc builds table-of-contents links from a post's heading outline.
package toc

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"go.abhg.dev/goldmark/anchor"
)

// Entry is one heading in the outline.
type Entry struct {
	Value string `json:"value"`
	URL   string `json:"url"`
	Depth int    `json:"depth"`
}

// Slug returns the anchor id for s, as goldmark generates heading ids.
// Each call uses a fresh id registry, so the result depends on s alone.
func Slug(s string) string {
	return string(parser.NewContext().IDs().Generate([]byte(s), ast.KindHeading))
}

var entryTmpl = template.Must(template.New("entry").Parse(
	`<li><a href="#{{.Slug}}" class="text-primary-500 hover:text-primary-600 dark:hover:text-primary-400 block" style="{{.Style}}">{{.Value}}</a></li>`,
))

type entryView struct {
	Slug  string
	Value string
	Style template.CSS
}

// RenderEntry renders e as a list item linking to the slug of its URL,
// indented by depth-1 rem. Depth is not validated.
func RenderEntry(e Entry) template.HTML {
	var buf bytes.Buffer
	view := entryView{
		Slug:  Slug(e.URL),
		Value: e.Value,
		Style: template.CSS(fmt.Sprintf("padding-left: %drem", e.Depth-1)),
	}
	if err := entryTmpl.Execute(&buf, view); err != nil {
		// Only fails on a broken writer; bytes.Buffer never is.
		return ""
	}
	return template.HTML(buf.String()) //nolint:gosec // escaped by html/template
}

// Options filter the entries of an inline table of contents.
type Options struct {
	// Exclude drops headings whose text matches exactly.
	Exclude []string
	// FromHeading and ToHeading bound the depths listed; zero means 1 and 6.
	FromHeading int
	ToHeading   int
	// Disclosure wraps the list in a collapsed <details> element.
	Disclosure bool
}

func (o Options) bounds() (int, int) {
	from, to := o.FromHeading, o.ToHeading
	if from <= 0 {
		from = 1
	}
	if to <= 0 {
		to = 6
	}
	return from, to
}

// Filter returns the entries within the configured depth range that are not excluded.
func Filter(entries []Entry, opts Options) []Entry {
	from, to := opts.bounds()
	excluded := make(map[string]struct{}, len(opts.Exclude))
	for _, v := range opts.Exclude {
		excluded[v] = struct{}{}
	}

	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Depth < from || e.Depth > to {
			continue
		}
		if _, skip := excluded[e.Value]; skip {
			continue
		}
		out = append(out, e)
	}
	return out
}

// RenderList renders the filtered entries as an unordered list. It returns
// an empty string when no entry survives the filter.
func RenderList(entries []Entry, opts Options) template.HTML {
	kept := Filter(entries, opts)
	if len(kept) == 0 {
		return ""
	}

	var b strings.Builder
	if opts.Disclosure {
		b.WriteString(`<details><summary class="ml-6 pb-2 pt-2 text-xl font-bold">Table of Contents</summary><div class="ml-6">`)
	}
	b.WriteString(`<ul class="toc">`)
	for _, e := range kept {
		b.WriteString(string(RenderEntry(e)))
	}
	b.WriteString(`</ul>`)
	if opts.Disclosure {
		b.WriteString(`</div></details>`)
	}
	return template.HTML(b.String()) //nolint:gosec // entries escaped by RenderEntry
}

// Collect walks a parsed document and returns its heading outline. Headings
// need ids, so the parser must run with auto heading ids or attributes.
func Collect(doc ast.Node, source []byte) []Entry {
	if doc == nil {
		return nil
	}

	var entries []Entry
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}

		value := strings.TrimSpace(headingText(heading, source))
		id := headingID(heading)
		if id == "" {
			id = Slug(value)
		}
		entries = append(entries, Entry{
			Value: value,
			URL:   "#" + id,
			Depth: heading.Level,
		})
		return ast.WalkSkipChildren, nil
	})
	return entries
}

func headingID(h *ast.Heading) string {
	v, ok := h.AttributeString("id")
	if !ok {
		return ""
	}
	switch id := v.(type) {
	case []byte:
		return string(id)
	case string:
		return id
	default:
		return ""
	}
}

func headingText(n ast.Node, source []byte) string {
	var b strings.Builder
	var walk func(ast.Node)
	walk = func(parent ast.Node) {
		for c := parent.FirstChild(); c != nil; c = c.NextSibling() {
			switch node := c.(type) {
			case *anchor.Node:
				continue
			case *ast.Text:
				b.Write(node.Segment.Value(source))
				if node.SoftLineBreak() || node.HardLineBreak() {
					b.WriteByte(' ')
				}
			case *ast.String:
				b.Write(node.Value)
			default:
				walk(c)
			}
		}
	}
	walk(n)
	return b.String()
}
