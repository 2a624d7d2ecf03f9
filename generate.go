// Package blogmd renders a directory of markdown posts as a blog, with
// server-side Mermaid and D2 diagrams, either live or as a static export.
//
// Regenerate the syntax highlighting stylesheet with:
//
//	go generate
package blogmd

//go:generate go run ./tools/generate-chroma-css -o static/css/chroma.css
