package element

import (
	"golang.org/x/net/html"
)

// FromHTML converts a parsed HTML tree. Comments and doctypes are dropped;
// documents become a Sequence of their children.
func FromHTML(n *html.Node) Node {
	if n == nil {
		return nil
	}

	switch n.Type {
	case html.TextNode:
		return Text(n.Data)
	case html.ElementNode:
		props := make(Props, len(n.Attr))
		for _, attr := range n.Attr {
			props[attr.Key] = attr.Val
		}
		return &Element{
			Tag:      n.Data,
			Props:    props,
			Children: childrenFromHTML(n),
		}
	case html.DocumentNode:
		return childrenFromHTML(n)
	default:
		return nil
	}
}

func childrenFromHTML(n *html.Node) Node {
	var seq Sequence
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if child := FromHTML(c); child != nil {
			seq = append(seq, child)
		}
	}
	switch len(seq) {
	case 0:
		return nil
	case 1:
		return seq[0]
	default:
		return seq
	}
}
