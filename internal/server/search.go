package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/euforicio/blogmd/internal/posts"
	"github.com/euforicio/blogmd/internal/search"
)

const (
	maxSearchContext = 5
	maxSearchHits    = 200
)

type searchHit struct {
	search.Hit
	Slug  string `json:"slug"`
	Title string `json:"title"`
}

// handleSearch runs a full-text query and keeps only hits in published posts.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.search == nil {
		respondJSON(w, http.StatusServiceUnavailable, errorResponse("search is unavailable"))
		return
	}

	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("q"))
	opts := search.Options{
		CaseSensitive: q.Get("case") == "true",
		Limit:         maxSearchHits,
	}
	if raw := q.Get("context"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondJSON(w, http.StatusBadRequest, errorResponse("context must be a non-negative integer"))
			return
		}
		opts.Context = min(n, maxSearchContext)
	}

	hits, err := s.search.Search(ctx, query, opts)
	if err != nil {
		if errors.Is(err, search.ErrEmptyQuery) {
			respondJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
			return
		}
		s.logger.ErrorContext(ctx, "search failed", slog.Any("err", err), slog.String("query", query))
		respondJSON(w, http.StatusInternalServerError, errorResponse("search failed"))
		return
	}

	list, err := s.content.Posts(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "load posts failed", slog.Any("err", err))
		respondJSON(w, http.StatusInternalServerError, errorResponse("failed to load posts"))
		return
	}
	byPath := make(map[string]*posts.Post, len(list))
	for _, p := range list {
		byPath[p.RelativePath] = p
	}

	results := make([]searchHit, 0, len(hits))
	for _, h := range hits {
		p, ok := byPath[h.Path]
		if !ok {
			// Drafts and excluded files are not part of the index.
			continue
		}
		results = append(results, searchHit{Hit: h, Slug: p.Slug, Title: p.Title})
	}

	respondJSON(w, http.StatusOK, struct {
		Query   string      `json:"query"`
		Results []searchHit `json:"results"`
	}{
		Query:   query,
		Results: results,
	})
}
