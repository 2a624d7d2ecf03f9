package codeblock

import (
	"bytes"

	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/util"
)

// PreWrapper is the pass-through renderer for code blocks that are not
// diagrams and that chroma could not highlight: a plain pre/code pair keeping
// the language class.
func PreWrapper() highlighting.WrapperRenderer {
	return func(w util.BufWriter, ctx highlighting.CodeBlockContext, entering bool) {
		if ctx.Highlighted() {
			// Let the highlighter handle its own wrappers for highlighted blocks.
			return
		}

		if !entering {
			_, _ = w.WriteString("</code></pre>\n")
			return
		}

		lang, _ := ctx.Language()
		_, _ = w.WriteString("<pre")
		if attrs := ctx.Attributes(); attrs != nil {
			for _, attr := range attrs.All() {
				value, ok := attributeValue(attr.Value)
				if !ok {
					continue
				}
				_, _ = w.WriteString(" ")
				_, _ = w.Write(attr.Name)
				_, _ = w.WriteString(`="`)
				_, _ = w.Write(util.EscapeHTML(value))
				_, _ = w.WriteString(`"`)
			}
		}
		_, _ = w.WriteString("><code")
		if len(bytes.TrimSpace(lang)) > 0 {
			_, _ = w.WriteString(` class="language-`)
			_, _ = w.Write(util.EscapeHTML(lang))
			_, _ = w.WriteString(`"`)
		}
		_, _ = w.WriteString(">")
	}
}

func attributeValue(v any) ([]byte, bool) {
	switch val := v.(type) {
	case []byte:
		return val, true
	case string:
		return []byte(val), true
	default:
		return nil, false
	}
}
