package static

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHas(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"css/app.css", "/css/chroma.css", "js/live.js"} {
		if !Has(name) {
			t.Errorf("expected %s to be embedded", name)
		}
	}
	for _, name := range []string{"css", "missing.css", "../embed.go"} {
		if Has(name) {
			t.Errorf("did not expect %s to be reported", name)
		}
	}
}

func TestCopyAll(t *testing.T) {
	t.Parallel()
	dest := t.TempDir()
	if err := CopyAll(dest); err != nil {
		t.Fatalf("CopyAll: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "js", "live.js")); err != nil {
		t.Fatalf("expected live.js copied: %v", err)
	}
}
