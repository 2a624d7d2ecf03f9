// Package server serves the blog over HTTP: post pages, tag listings, a JSON
// API, diagram previews and live reload events.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/euforicio/blogmd/internal/buildinfo"
	"github.com/euforicio/blogmd/internal/codeblock"
	"github.com/euforicio/blogmd/internal/config"
	"github.com/euforicio/blogmd/internal/content"
	"github.com/euforicio/blogmd/internal/exporter"
	"github.com/euforicio/blogmd/internal/posts"
	"github.com/euforicio/blogmd/internal/renderer"
	"github.com/euforicio/blogmd/internal/search"
	"github.com/euforicio/blogmd/internal/views"
	"github.com/euforicio/blogmd/static"
)

// Options carry the shared rendering stack into the server.
type Options struct {
	// Renderer is shared with the exporter so both use one document cache.
	Renderer *renderer.Service
	// Classifier routes preview requests to diagram engines.
	Classifier *codeblock.Classifier
	// Registry exposes /metrics when set.
	Registry *prometheus.Registry
	// Search backs /api/search; the endpoint answers 503 without it.
	Search *search.Service
}

// Server wraps the HTTP server and the services behind it.
type Server struct { //nolint:govet // field order favors logical grouping over padding optimizations
	mux        *http.ServeMux
	handler    http.Handler
	httpServer *http.Server
	logger     *slog.Logger
	content    *content.Service
	classifier *codeblock.Classifier
	exporter   *exporter.Exporter
	views      *views.Renderer
	previews   *previewSessions
	search     *search.Service
	metrics    *httpMetrics
	registry   *prometheus.Registry
	cfg        config.Config
	stopOnce   sync.Once
}

var (
	errPathRequired        = errors.New("path is required")
	errInvalidPathEncoding = errors.New("invalid path encoding")
)

// New constructs a Server and registers its routes and middleware.
func New(cfg config.Config, logger *slog.Logger, contentSvc *content.Service, opts Options) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if contentSvc == nil {
		return nil, errors.New("content service is required")
	}

	tmpl, err := views.New()
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	exp, err := exporter.New(logger, opts.Renderer, opts.Classifier)
	if err != nil {
		return nil, fmt.Errorf("init exporter: %w", err)
	}

	s := &Server{
		cfg:        cfg,
		mux:        http.NewServeMux(),
		logger:     logger.With("component", "http"),
		content:    contentSvc,
		classifier: opts.Classifier,
		exporter:   exp,
		views:      tmpl,
		previews:   newPreviewSessions(previewTTL, previewCapacity),
		registry:   opts.Registry,
		search:     opts.Search,
	}
	if opts.Registry != nil {
		s.metrics = newHTTPMetrics(opts.Registry)
	}

	s.registerRoutes()
	s.handler = chain(s.mux,
		requestIDMiddleware,
		recoveryMiddleware(s.logger),
		csrfMiddleware,
		gzipMiddleware,
		loggingMiddleware(s.logger, cfg.Verbose),
	)

	return s, nil
}

// ServeHTTP dispatches through the middleware chain.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	staticHandler := http.StripPrefix("/static/", http.FileServer(s.resolveStaticFS()))
	s.mux.Handle("GET /static/{path...}", staticHandler)

	s.handle("GET /media/{path...}", "media", s.handleMedia)
	s.handle("GET /healthz", "health", s.handleHealth)

	s.handle("GET /{$}", "index", s.handleIndex)
	s.handle("GET /posts/{slug...}", "post", s.handlePost)
	s.handle("GET /tags/{tag}", "tag", s.handleTag)
	s.handle("GET /", "missing", s.handleMissing)

	s.handle("GET /api/posts", "api_posts", s.handlePosts)
	s.handle("GET /api/posts/{slug...}", "api_post", s.handlePostAPI)
	s.handle("GET /api/export/{slug...}", "api_export", s.handleExport)
	s.handle("GET /api/search", "api_search", s.handleSearch)
	s.handle("POST /api/diagram", "api_diagram", s.handleDiagram)

	// Long-lived streams would skew the latency histogram.
	s.mux.HandleFunc("GET /events", s.handleEvents)

	if s.registry != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
}

func (s *Server) handle(pattern, name string, h http.HandlerFunc) {
	s.mux.Handle(pattern, s.metrics.instrument(name, h))
}

func (s *Server) resolveStaticFS() http.FileSystem {
	dir := strings.TrimSpace(s.cfg.AssetsDir)
	if dir != "" {
		info, err := os.Stat(dir)
		if err == nil && info.IsDir() {
			s.logger.Debug("serving assets from filesystem", slog.String("dir", dir))
			return http.Dir(dir)
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("assets dir check failed", slog.String("dir", dir), slog.Any("err", err))
		}
	}
	s.logger.Debug("serving embedded assets")
	return static.HTTP()
}

// Start runs the HTTP server until ctx is canceled or serving fails. Port 0
// binds a free loopback port.
func (s *Server) Start(ctx context.Context) error {
	host := ""
	if s.cfg.Port == 0 {
		host = "127.0.0.1"
	}
	listener, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(s.cfg.Port)))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		_ = listener.Close()
		return errors.New("unexpected listener address type")
	}
	serverURL := fmt.Sprintf("http://localhost:%d", tcpAddr.Port)

	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if _, err := fmt.Fprintf(os.Stdout, "blogmd listening on %s\n", serverURL); err != nil {
			s.logger.Warn("failed to announce server address", slog.String("url", serverURL), slog.Any("err", err))
		}
		errCh <- s.httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			s.logger.ErrorContext(ctx, "graceful shutdown failed", slog.Any("err", err))
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		s.stopPreviews()
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops accepting requests, waits for active ones and releases
// preview sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopPreviews()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) stopPreviews() {
	s.stopOnce.Do(s.previews.stop)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  buildinfo.Summary(),
		"content":  s.content.Status(),
		"previews": s.previews.len(),
		"search":   s.search != nil,
	})
}

func (s *Server) site(list []*posts.Post) views.Site {
	return views.Site{
		Title:   s.cfg.SiteTitle,
		BaseURL: s.cfg.BaseURL,
		Version: buildinfo.Summary(),
		Tags:    posts.Tags(list),
		Live:    true,
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	list, err := s.content.Posts(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "load posts failed", slog.Any("err", err))
		http.Error(w, "failed to load posts", http.StatusInternalServerError)
		return
	}

	site := s.site(list)
	s.renderPage(w, r, http.StatusOK, views.Page{
		Site:      site,
		Kind:      views.KindIndex,
		Title:     site.Title,
		Canonical: views.Canonical(site.BaseURL, "/"),
		Posts:     list,
	})
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slug, err := parseWildcardPath(r.PathValue("slug"))
	if err != nil {
		s.handleMissing(w, r)
		return
	}

	post, doc, err := s.content.Post(ctx, slug)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.handleMissing(w, r)
			return
		}
		s.logger.ErrorContext(ctx, "render post failed", slog.Any("err", err), slog.String("slug", slug))
		http.Error(w, "failed to render post", http.StatusInternalServerError)
		return
	}

	list, err := s.content.Posts(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "load posts for navigation failed", slog.Any("err", err))
	}
	site := s.site(list)
	s.renderPage(w, r, http.StatusOK, views.Page{
		Site:      site,
		Kind:      views.KindPost,
		Title:     post.Title,
		Canonical: views.Canonical(site.BaseURL, views.PostURL(post.Slug)),
		Path:      post.RelativePath,
		Post:      post,
		HTML:      trustedHTML(doc.HTML),
		Metadata:  doc.Metadata,
		TOC:       doc.TOC,
		Modified:  doc.Modified,
	})
}

func (s *Server) handleTag(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	list, err := s.content.Posts(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "load posts failed", slog.Any("err", err))
		http.Error(w, "failed to load posts", http.StatusInternalServerError)
		return
	}

	want := views.TagSlug(r.PathValue("tag"))
	site := s.site(list)
	for _, tag := range site.Tags {
		if views.TagSlug(tag.Name) != want {
			continue
		}
		s.renderPage(w, r, http.StatusOK, views.Page{
			Site:      site,
			Kind:      views.KindTag,
			Title:     "#" + tag.Name,
			Canonical: views.Canonical(site.BaseURL, views.TagURL(tag.Name)),
			Tag:       tag.Name,
			Posts:     posts.ByTag(list, tag.Name),
		})
		return
	}
	s.handleMissing(w, r)
}

func (s *Server) handleMissing(w http.ResponseWriter, r *http.Request) {
	list, err := s.content.Posts(r.Context())
	if err != nil {
		s.logger.WarnContext(r.Context(), "load posts for missing page failed", slog.Any("err", err))
	}
	s.renderPage(w, r, http.StatusNotFound, views.Page{
		Site:  s.site(list),
		Kind:  views.KindMissing,
		Title: "Not found",
		Path:  r.URL.Path,
	})
}

func (s *Server) renderPage(w http.ResponseWriter, r *http.Request, status int, page views.Page) {
	var buf strings.Builder
	if err := s.views.Render(&buf, "layout", page); err != nil {
		s.logger.ErrorContext(r.Context(), "render template failed", slog.Any("err", err), slog.String("kind", page.Kind))
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := io.WriteString(w, buf.String()); err != nil {
		s.logger.DebugContext(r.Context(), "write page failed", slog.Any("err", err))
	}
}

// handleMedia serves non-markdown files from the posts root.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rawPath, err := parseWildcardPath(r.PathValue("path"))
	if err != nil {
		s.respondPathError(w, err)
		return
	}

	absPath, err := s.content.Asset(rawPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}
		s.logger.WarnContext(ctx, "invalid media path attempted", slog.String("path", rawPath), slog.Any("err", err))
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	http.ServeFile(w, r, absPath)
}

func parseWildcardPath(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errPathRequired
	}
	decoded, err := url.PathUnescape(trimmed)
	if err != nil {
		return "", errInvalidPathEncoding
	}
	path := strings.TrimSpace(decoded)
	if path == "" {
		return "", errPathRequired
	}
	return path, nil
}

func (s *Server) respondPathError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errPathRequired):
		respondJSON(w, http.StatusBadRequest, errorResponse("path is required"))
	case errors.Is(err, errInvalidPathEncoding):
		respondJSON(w, http.StatusBadRequest, errorResponse("invalid path encoding"))
	default:
		respondJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
	}
}
