package exporter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"

	"github.com/euforicio/blogmd/internal/codeblock"
	"github.com/euforicio/blogmd/internal/diagram"
)

// diagramEncoder turns fenced diagram blocks into data URI images so the PDF
// renderer doesn't need to understand diagram nodes.
type diagramEncoder struct {
	classifier *codeblock.Classifier
}

// encode rewrites diagram fences into Markdown image tags with embedded PNG
// data. A fence that fails to render is left intact so the source still shows.
func (e *diagramEncoder) encode(ctx context.Context, raw []byte) ([]byte, error) {
	var (
		out         bytes.Buffer
		body        bytes.Buffer
		scanner     = bufio.NewScanner(bytes.NewReader(raw))
		inFence     bool
		fenceMarker string
		fenceOpen   string
		route       codeblock.Route
		routed      bool
	)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if !inFence {
			if marker, lang, ok := parseFenceStart(trimmed); ok {
				inFence = true
				fenceMarker = marker
				fenceOpen = line
				route, routed = e.route(lang)
				body.Reset()
			}
			if !routed || !inFence {
				writeLine(&out, line)
			}
			continue
		}

		if isFenceEnd(trimmed, fenceMarker) {
			if routed {
				if err := e.flush(ctx, &out, route, body.String()); err != nil {
					writeLine(&out, fenceOpen)
					out.Write(body.Bytes())
					writeLine(&out, line)
				}
			} else {
				writeLine(&out, line)
			}
			inFence, routed = false, false
			fenceMarker, fenceOpen = "", ""
			continue
		}

		if routed {
			writeLine(&body, line)
		} else {
			writeLine(&out, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	// Unclosed diagram fence: emit buffered content as-is.
	if inFence && routed {
		writeLine(&out, fenceOpen)
		out.Write(body.Bytes())
	}

	return out.Bytes(), nil
}

func (e *diagramEncoder) route(lang string) (codeblock.Route, bool) {
	if e == nil || e.classifier == nil {
		return codeblock.Route{}, false
	}
	return e.classifier.ClassifyFence(lang)
}

func (e *diagramEncoder) flush(ctx context.Context, out *bytes.Buffer, route codeblock.Route, source string) error {
	if strings.TrimSpace(source) == "" {
		return errors.New("empty diagram")
	}

	st := diagram.RenderOnce(ctx, route.Handle, source)
	if st.Status != diagram.StatusRendered {
		return fmt.Errorf("render %s: %s", route.Language(), st.Error)
	}

	pngData, err := svgToPNG([]byte(st.Markup))
	if err != nil {
		return fmt.Errorf("rasterize %s svg: %w", route.Language(), err)
	}

	dataURI := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngData)
	_, err = fmt.Fprintf(out, "![%s diagram](%s)\n\n", route.Language(), dataURI)
	return err
}

func parseFenceStart(line string) (marker, lang string, ok bool) {
	for _, ch := range []byte{'`', '~'} {
		if n := leadingCount(line, ch); n >= 3 {
			marker = line[:n]
			return marker, strings.TrimSpace(line[n:]), true
		}
	}
	return "", "", false
}

func isFenceEnd(line, marker string) bool {
	if marker == "" {
		return false
	}
	n := leadingCount(line, marker[0])
	return n >= len(marker) && n == len(line)
}

func leadingCount(line string, ch byte) int {
	count := 0
	for count < len(line) && line[count] == ch {
		count++
	}
	return count
}

func writeLine(buf *bytes.Buffer, line string) {
	buf.WriteString(line)
	buf.WriteByte('\n')
}

// svgToPNG rasterizes an SVG into a PNG byte slice suitable for a data URI.
func svgToPNG(svg []byte) ([]byte, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(svg))
	if err != nil {
		return nil, fmt.Errorf("parse svg: %w", err)
	}

	viewbox := icon.ViewBox
	width := int(math.Ceil(viewbox.W))
	height := int(math.Ceil(viewbox.H))
	if width <= 0 || height <= 0 {
		width, height = 800, 600
	}

	icon.SetTarget(0, 0, float64(width), float64(height))

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	scanner := rasterx.NewScannerGV(width, height, canvas, canvas.Bounds())
	raster := rasterx.NewDasher(width, height, scanner)
	icon.Draw(raster, 1.0)

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
