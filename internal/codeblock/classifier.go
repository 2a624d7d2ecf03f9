// Package codeblock routes preformatted code blocks either to a diagram engine
// or to the regular highlighted code renderer.
package codeblock

import (
	"strings"

	"github.com/euforicio/blogmd/internal/diagram"
	"github.com/euforicio/blogmd/internal/element"
)

// MermaidMarker is the language class that marks a block as Mermaid source.
const MermaidMarker = "language-mermaid"

// Route binds a language-tag marker to the engine that renders it.
type Route struct {
	Handle *diagram.Handle
	// Marker is matched against the class of the nested code element, e.g. "language-mermaid".
	Marker string
}

// Language returns the bare language name of the marker.
func (r Route) Language() string {
	return strings.TrimPrefix(r.Marker, "language-")
}

// Decision is the outcome of classifying one block.
type Decision struct {
	Route   *Route
	Source  string
	Diagram bool
}

// Classifier decides which blocks are diagrams. It holds no mutable state.
type Classifier struct {
	routes []Route
}

// NewClassifier returns a classifier over routes. Earlier routes win when a
// class matches several markers.
func NewClassifier(routes ...Route) *Classifier {
	kept := make([]Route, 0, len(routes))
	for _, r := range routes {
		if strings.TrimSpace(r.Marker) == "" || r.Handle == nil {
			continue
		}
		kept = append(kept, r)
	}
	return &Classifier{routes: kept}
}

// Routes returns the configured routes.
func (c *Classifier) Routes() []Route {
	if c == nil {
		return nil
	}
	return append([]Route(nil), c.routes...)
}

// Classify inspects a pre element. When its nested code element carries a
// class equal to or containing a route marker, the decision names that route
// and the trimmed literal text of the code element. Anything else passes through.
func (c *Classifier) Classify(pre *element.Element) Decision {
	if c == nil || pre == nil {
		return Decision{}
	}
	code := pre.FirstChildElement("code")
	if code == nil {
		return Decision{}
	}
	r := c.routeForClass(code.Props.Class())
	if r == nil {
		return Decision{}
	}
	return Decision{
		Diagram: true,
		Route:   r,
		Source:  strings.TrimSpace(element.Extract(code.Children)),
	}
}

// ClassifyFence applies the Classify rule to a fence info string such as
// "mermaid-js title=x": its first word becomes the language-<word> class of
// the code element a fenced block renders to.
func (c *Classifier) ClassifyFence(info string) (Route, bool) {
	fields := strings.Fields(info)
	if len(fields) == 0 {
		return Route{}, false
	}
	r := c.routeForClass("language-" + fields[0])
	if r == nil {
		return Route{}, false
	}
	return *r, true
}

func (c *Classifier) routeForClass(class string) *Route {
	if c == nil || class == "" {
		return nil
	}
	for i := range c.routes {
		if strings.Contains(class, c.routes[i].Marker) {
			return &c.routes[i]
		}
	}
	return nil
}

// routeForLanguage finds the route whose marker names lang.
func (c *Classifier) routeForLanguage(lang string) *Route {
	if c == nil {
		return nil
	}
	lang = strings.ToLower(strings.TrimSpace(lang))
	for i := range c.routes {
		if c.routes[i].Language() == lang {
			return &c.routes[i]
		}
	}
	return nil
}

// RouteFor returns the route for a bare fence language such as "mermaid".
func (c *Classifier) RouteFor(lang string) (Route, bool) {
	r := c.routeForLanguage(lang)
	if r == nil {
		return Route{}, false
	}
	return *r, true
}
