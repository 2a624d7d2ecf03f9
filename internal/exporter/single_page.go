package exporter

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	pdf "github.com/stephenafamo/goldmark-pdf"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
)

// Format represents an export format.
type Format string

const (
	// FormatHTML exports a standalone HTML document.
	FormatHTML Format = "html"
	// FormatMarkdown exports the markdown source.
	FormatMarkdown Format = "markdown"
	// FormatPlainText exports the extracted text.
	FormatPlainText Format = "txt"
	// FormatPDF exports a PDF with diagrams rasterized.
	FormatPDF Format = "pdf"
)

// ValidFormats returns the list of supported export formats.
func ValidFormats() []Format {
	return []Format{FormatHTML, FormatMarkdown, FormatPlainText, FormatPDF}
}

// ParseFormat normalizes a user supplied format name. "md" and "text" are
// accepted as aliases.
func ParseFormat(raw string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(raw)))
	switch f {
	case "md":
		return FormatMarkdown, nil
	case "text":
		return FormatPlainText, nil
	}
	for _, valid := range ValidFormats() {
		if f == valid {
			return f, nil
		}
	}
	return "", fmt.Errorf("unsupported format: %q (allowed: html, pdf, markdown, txt)", raw)
}

// ExportPostOptions configures a single post export.
type ExportPostOptions struct {
	Writer  io.Writer
	Format  Format
	RootDir string
	Path    string
}

// ExportPost writes a single post in the requested format.
func (e *Exporter) ExportPost(ctx context.Context, opts ExportPostOptions) error {
	if err := validateExportPostOptions(opts); err != nil {
		return err
	}

	rootDir, err := filepath.Abs(opts.RootDir)
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}

	absPath, err := resolveExportPath(rootDir, opts.Path)
	if err != nil {
		return err
	}

	info, raw, err := readExportSource(absPath, opts.Path)
	if err != nil {
		return err
	}
	rel := filepath.ToSlash(filepath.Clean(opts.Path))

	switch opts.Format {
	case FormatHTML:
		return e.exportHTML(ctx, rel, info.ModTime(), raw, opts.Writer)
	case FormatMarkdown:
		_, err := opts.Writer.Write(raw)
		return err
	case FormatPlainText:
		return e.exportPlainText(ctx, rel, info.ModTime(), raw, opts.Writer)
	case FormatPDF:
		return e.exportPDF(ctx, raw, opts.Writer)
	default:
		return fmt.Errorf("unsupported format: %s", opts.Format)
	}
}

func validateExportPostOptions(opts ExportPostOptions) error {
	if strings.TrimSpace(opts.RootDir) == "" {
		return errors.New("root directory is required")
	}
	if strings.TrimSpace(opts.Path) == "" {
		return errors.New("post path is required")
	}
	if opts.Writer == nil {
		return errors.New("writer is required")
	}
	if _, err := ParseFormat(string(opts.Format)); err != nil {
		return err
	}
	return nil
}

func resolveExportPath(rootDir, postPath string) (string, error) {
	cleanPath := filepath.Clean(filepath.FromSlash(postPath))
	if filepath.IsAbs(cleanPath) || cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return "", errors.New("invalid path: directory traversal not allowed")
	}

	absPath, err := filepath.Abs(filepath.Join(rootDir, cleanPath))
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if !strings.HasPrefix(absPath, rootDir+string(filepath.Separator)) {
		return "", errors.New("invalid path: must be within root directory")
	}
	return absPath, nil
}

func readExportSource(absPath, originalPath string) (os.FileInfo, []byte, error) {
	info, err := os.Stat(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("post not found: %s: %w", originalPath, err)
		}
		return nil, nil, fmt.Errorf("stat post: %w", err)
	}
	if info.IsDir() {
		return nil, nil, fmt.Errorf("post not found: %s is a directory", originalPath)
	}

	raw, err := os.ReadFile(absPath) //nolint:gosec // absPath constructed from validated root
	if err != nil {
		return nil, nil, fmt.Errorf("read post: %w", err)
	}
	return info, raw, nil
}

var standaloneTemplate = template.Must(template.New("standalone").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>{{ .Title }}</title>
  <style>
    body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; line-height: 1.6; max-width: 800px; margin: 0 auto; padding: 2rem; color: #333; }
    pre { background: #f5f5f5; padding: 1em; border-radius: 5px; overflow-x: auto; }
    code { font-family: "SFMono-Regular", Consolas, Menlo, monospace; font-size: 0.9em; }
    img, svg { max-width: 100%; height: auto; }
    .diagram-error { border: 1px solid #fecaca; border-radius: 8px; }
    .diagram-error-message { color: #b91c1c; }
    a.anchor { display: none; }
  </style>
</head>
<body>
{{ if .Title }}<h1>{{ .Title }}</h1>{{ end }}
{{ .HTML }}
</body>
</html>`))

func (e *Exporter) exportHTML(ctx context.Context, rel string, modTime time.Time, raw []byte, w io.Writer) error {
	doc, err := e.renderer.Render(ctx, rel, modTime, raw)
	if err != nil {
		return fmt.Errorf("render html: %w", err)
	}

	data := struct {
		Title string
		HTML  template.HTML
	}{
		Title: doc.Metadata.Title,
		HTML:  template.HTML(doc.HTML), //nolint:gosec // HTML from trusted renderer
	}
	return standaloneTemplate.Execute(w, data)
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

func (e *Exporter) exportPlainText(ctx context.Context, rel string, modTime time.Time, raw []byte, w io.Writer) error {
	doc, err := e.renderer.Render(ctx, rel, modTime, raw)
	if err != nil {
		return fmt.Errorf("render text: %w", err)
	}

	text, err := PlainText(doc.HTML)
	if err != nil {
		return err
	}
	if doc.Metadata.Title != "" {
		text = doc.Metadata.Title + "\n\n" + text
	}
	_, err = io.WriteString(w, text+"\n")
	return err
}

// PlainText extracts readable text from rendered post HTML. Rendered
// diagrams are replaced by their source and heading anchors are dropped.
func PlainText(fragment string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	doc.Find("script, style, a.anchor").Remove()
	doc.Find("a").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.TrimSpace(s.Text()) == "¶"
	}).Remove()
	doc.Find("[data-source-b64]").Each(func(_ int, s *goquery.Selection) {
		encoded, _ := s.Attr("data-source-b64")
		source, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			s.Remove()
			return
		}
		s.ReplaceWithHtml("<pre>" + template.HTMLEscapeString(string(source)) + "</pre>\n")
	})

	text := doc.Find("body").Text()
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	text = blankRuns.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(text), nil
}

func (e *Exporter) exportPDF(ctx context.Context, raw []byte, w io.Writer) error {
	enc := &diagramEncoder{classifier: e.classifier}
	prepared, err := enc.encode(ctx, raw)
	if err != nil {
		return fmt.Errorf("prepare diagrams: %w", err)
	}

	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			meta.Meta,
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRenderer(pdf.New()),
	)

	if err := md.Convert(prepared, w); err != nil {
		return fmt.Errorf("convert markdown to PDF: %w", err)
	}
	return nil
}

// ContentType returns the MIME type for the given format.
func ContentType(format Format) string {
	switch format {
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatPlainText:
		return "text/plain; charset=utf-8"
	case FormatPDF:
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// FileExtension returns the file extension for the given format.
func FileExtension(format Format) string {
	switch format {
	case FormatHTML:
		return ".html"
	case FormatMarkdown:
		return ".md"
	case FormatPlainText:
		return ".txt"
	case FormatPDF:
		return ".pdf"
	default:
		return ""
	}
}
