// Package element models rendered markup as a closed tree of text, sequence and
// element nodes, and recovers the literal text held by any subtree.
package element

import (
	"strings"
)

// Node is one node of a rendered element tree. The set of implementations is
// closed: Text, Sequence and *Element.
type Node interface {
	node()
}

// Text is a literal text leaf.
type Text string

// Sequence is an ordered run of sibling nodes.
type Sequence []Node

// Props is the attribute bag carried by an element.
type Props map[string]string

// Element is a tagged node with attributes and nested children.
type Element struct {
	Props    Props
	Children Node
	Tag      string
}

func (Text) node()     {}
func (Sequence) node() {}
func (*Element) node() {}

// New builds an element from a tag, attributes and children.
func New(tag string, props Props, children ...Node) *Element {
	el := &Element{Tag: tag, Props: props}
	switch len(children) {
	case 0:
	case 1:
		el.Children = children[0]
	default:
		el.Children = Sequence(children)
	}
	return el
}

// Extract flattens a tree into the concatenation of its text leaves in
// document order. It is total: nil nodes, nil elements and elements without
// children all yield the empty string.
func Extract(n Node) string {
	var b strings.Builder
	extract(&b, n)
	return b.String()
}

func extract(b *strings.Builder, n Node) {
	switch v := n.(type) {
	case Text:
		b.WriteString(string(v))
	case Sequence:
		for _, child := range v {
			extract(b, child)
		}
	case *Element:
		if v == nil || v.Children == nil {
			return
		}
		extract(b, v.Children)
	}
}

// Class returns the class attribute, or "" when absent.
func (p Props) Class() string {
	if p == nil {
		return ""
	}
	return p["class"]
}

// HasClass reports whether the class attribute contains marker.
func (p Props) HasClass(marker string) bool {
	if marker == "" {
		return false
	}
	return strings.Contains(p.Class(), marker)
}

// ChildElements returns the element children of e in order, skipping text.
func (e *Element) ChildElements() []*Element {
	if e == nil || e.Children == nil {
		return nil
	}
	switch v := e.Children.(type) {
	case *Element:
		if v == nil {
			return nil
		}
		return []*Element{v}
	case Sequence:
		var out []*Element
		for _, child := range v {
			if el, ok := child.(*Element); ok && el != nil {
				out = append(out, el)
			}
		}
		return out
	default:
		return nil
	}
}

// FirstChildElement returns the first child element with the given tag.
func (e *Element) FirstChildElement(tag string) *Element {
	for _, child := range e.ChildElements() {
		if strings.EqualFold(child.Tag, tag) {
			return child
		}
	}
	return nil
}
