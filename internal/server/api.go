package server

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/euforicio/blogmd/internal/exporter"
	"github.com/euforicio/blogmd/internal/posts"
	"github.com/euforicio/blogmd/internal/renderer"
	"github.com/euforicio/blogmd/internal/toc"
)

func (s *Server) handlePosts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	list, err := s.content.Posts(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "load posts failed", slog.Any("err", err))
		respondJSON(w, http.StatusInternalServerError, errorResponse("failed to load posts"))
		return
	}

	if tag := strings.TrimSpace(r.URL.Query().Get("tag")); tag != "" {
		list = posts.ByTag(list, tag)
	}
	if list == nil {
		list = []*posts.Post{}
	}

	respondJSON(w, http.StatusOK, struct {
		Posts []*posts.Post    `json:"posts"`
		Tags  []posts.TagCount `json:"tags"`
	}{
		Posts: list,
		Tags:  posts.Tags(list),
	})
}

func (s *Server) handlePostAPI(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slug, err := parseWildcardPath(r.PathValue("slug"))
	if err != nil {
		s.respondPathError(w, err)
		return
	}

	post, doc, err := s.content.Post(ctx, slug)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, os.ErrNotExist) {
			status = http.StatusNotFound
		}
		s.logger.WarnContext(ctx, "load post failed", slog.Any("err", err), slog.String("slug", slug))
		respondJSON(w, status, errorResponse(err.Error()))
		return
	}

	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "raw" || format == "markdown" {
		//nolint:govet // inline struct field order optimized for readability
		respondJSON(w, http.StatusOK, struct {
			Metadata renderer.Metadata `json:"metadata"`
			Modified time.Time         `json:"modified"`
			Slug     string            `json:"slug"`
			Path     string            `json:"path"`
			Raw      string            `json:"raw"`
		}{
			Metadata: doc.Metadata,
			Modified: doc.Modified,
			Slug:     post.Slug,
			Path:     post.RelativePath,
			Raw:      doc.Raw,
		})
		return
	}

	entries := doc.TOC
	if entries == nil {
		entries = []toc.Entry{}
	}
	//nolint:govet // inline struct field order optimized for readability
	respondJSON(w, http.StatusOK, struct {
		Post     *posts.Post       `json:"post"`
		Metadata renderer.Metadata `json:"metadata"`
		Modified time.Time         `json:"modified"`
		TOC      []toc.Entry       `json:"toc"`
		HTML     string            `json:"html"`
	}{
		Post:     post,
		Metadata: doc.Metadata,
		Modified: doc.Modified,
		TOC:      entries,
		HTML:     doc.HTML,
	})
}

// handleExport streams one post as html, markdown, txt or pdf. The export is
// buffered so failures still produce a proper error response.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slug, err := parseWildcardPath(r.PathValue("slug"))
	if err != nil {
		s.respondPathError(w, err)
		return
	}

	rawFormat := r.URL.Query().Get("format")
	if strings.TrimSpace(rawFormat) == "" {
		rawFormat = string(exporter.FormatHTML)
	}
	format, err := exporter.ParseFormat(rawFormat)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse("invalid format. Supported formats: html, pdf, markdown, txt"))
		return
	}

	post, _, err := s.content.Post(ctx, slug)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, os.ErrNotExist) {
			status = http.StatusNotFound
		}
		s.logger.WarnContext(ctx, "export post not found", slog.Any("err", err), slog.String("slug", slug))
		respondJSON(w, status, errorResponse("post not found"))
		return
	}

	var buf bytes.Buffer
	if err := s.exporter.ExportPost(ctx, exporter.ExportPostOptions{
		RootDir: s.content.Root(),
		Path:    post.RelativePath,
		Format:  format,
		Writer:  &buf,
	}); err != nil {
		s.logger.ErrorContext(ctx, "export failed", slog.Any("err", err), slog.String("slug", slug), slog.String("format", string(format)))
		respondJSON(w, http.StatusInternalServerError, errorResponse("export failed"))
		return
	}

	filename := sanitizeFilename(post.Slug) + exporter.FileExtension(format)
	w.Header().Set("Content-Type", exporter.ContentType(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.DebugContext(ctx, "write export failed", slog.Any("err", err))
	}
}

// handleEvents streams content change events as server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch := s.content.Subscribe(ctx)

	if _, err := w.Write([]byte(": ready\n\n")); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			payload, err := encodeJSON(evt)
			if err != nil {
				s.logger.WarnContext(ctx, "encode sse event failed", slog.Any("err", err))
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
