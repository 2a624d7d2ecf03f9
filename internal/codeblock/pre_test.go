package codeblock_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"

	"github.com/euforicio/blogmd/internal/codeblock"
)

func TestPreWrapperUnknownLanguage(t *testing.T) {
	t.Parallel()
	md := goldmark.New(goldmark.WithExtensions(
		highlighting.NewHighlighting(highlighting.WithWrapperRenderer(codeblock.PreWrapper())),
	))

	var buf bytes.Buffer
	require.NoError(t, md.Convert([]byte("```no-such-lang\na < b\n```\n"), &buf))
	out := buf.String()
	assert.Contains(t, out, `<pre><code class="language-no-such-lang">`)
	assert.Contains(t, out, "a &lt; b")
	assert.Contains(t, out, "</code></pre>")
}
