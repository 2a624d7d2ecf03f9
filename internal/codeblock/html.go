package codeblock

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/euforicio/blogmd/internal/diagram"
	"github.com/euforicio/blogmd/internal/element"
)

// NeedsRewrite reports whether fragment may hold a raw-HTML diagram block.
// It only looks for a route marker anywhere in the text; Classify decides.
func (c *Classifier) NeedsRewrite(fragment string) bool {
	if c == nil {
		return false
	}
	for _, r := range c.routes {
		if strings.Contains(fragment, r.Marker) {
			return true
		}
	}
	return false
}

// RewriteHTML renders diagram blocks found in an HTML fragment, such as raw
// <pre><code class="language-mermaid"> markup written inline in a post. The
// fragment is returned untouched when no block is routed to a diagram.
func (c *Classifier) RewriteHTML(ctx context.Context, fragment string) (string, int, error) {
	if !c.NeedsRewrite(fragment) {
		return fragment, 0, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment, 0, fmt.Errorf("parse html: %w", err)
	}

	rendered := 0
	doc.Find("pre").Each(func(_ int, sel *goquery.Selection) {
		if len(sel.Nodes) == 0 {
			return
		}
		pre, ok := element.FromHTML(sel.Nodes[0]).(*element.Element)
		if !ok {
			return
		}
		d := c.Classify(pre)
		if !d.Diagram {
			return
		}
		st := diagram.RenderOnce(ctx, d.Route.Handle, d.Source)
		sel.ReplaceWithHtml(diagram.HTML(st))
		rendered++
	})

	if rendered == 0 {
		return fragment, 0, nil
	}

	out, err := doc.Find("body").Html()
	if err != nil {
		return fragment, 0, fmt.Errorf("serialize html: %w", err)
	}
	return out, rendered, nil
}
