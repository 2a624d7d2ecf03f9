package diagram

import (
	"encoding/base64"
	"html"
	"strings"
)

// HTML renders st: the engine markup when rendered, the error panel when
// failed, and an empty placeholder while pending.
func HTML(st State) string {
	var b strings.Builder
	switch st.Status {
	case StatusRendered:
		b.WriteString(`<div class="mermaid-chart my-4"`)
		writeDataAttrs(&b, st)
		b.WriteString(`>`)
		b.WriteString(st.Markup)
		b.WriteString(`</div>`)
	case StatusFailed:
		b.WriteString(ErrorPanel(st.Error, st.Source, st.Engine))
	default:
		b.WriteString(`<div class="diagram-pending"`)
		writeDataAttrs(&b, st)
		b.WriteString(`></div>`)
	}
	return b.String()
}

func writeDataAttrs(b *strings.Builder, st State) {
	if st.ID != "" {
		b.WriteString(` id="`)
		b.WriteString(html.EscapeString(st.ID))
		b.WriteString(`"`)
	}
	if st.Engine != "" {
		b.WriteString(` data-engine="`)
		b.WriteString(html.EscapeString(st.Engine))
		b.WriteString(`"`)
	}
	if st.Source != "" {
		b.WriteString(` data-source-b64="`)
		b.WriteString(base64.StdEncoding.EncodeToString([]byte(st.Source)))
		b.WriteString(`"`)
	}
}

// ErrorPanel renders the failure panel: an indicator, the message, and the
// untouched source in a monospaced block so readers can copy it.
func ErrorPanel(message, source, language string) string {
	if strings.TrimSpace(message) == "" {
		message = defaultErrorMessage
	}
	if language == "" {
		language = "mermaid"
	}

	var b strings.Builder
	b.WriteString(`<div class="overflow-hidden rounded-lg border border-red-200 diagram-error" role="alert">`)
	b.WriteString(`<div class="border-b border-red-200 bg-red-50 px-4 py-2">`)
	b.WriteString(`<span class="mr-2 inline-block text-red-500" aria-hidden="true">⚠️</span>`)
	b.WriteString(`<span class="text-sm font-medium text-red-700 diagram-error-message">`)
	b.WriteString(html.EscapeString(message))
	b.WriteString(`</span></div>`)
	b.WriteString(`<div class="bg-gray-50 p-4">`)
	b.WriteString(`<pre class="language-`)
	b.WriteString(html.EscapeString(language))
	b.WriteString(` overflow-x-auto text-sm">`)
	b.WriteString(html.EscapeString(source))
	b.WriteString(`</pre></div></div>`)
	return b.String()
}
