package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/euforicio/blogmd/internal/codeblock"
	"github.com/euforicio/blogmd/internal/diagram"
)

const (
	previewTTL       = 5 * time.Minute
	previewCapacity  = 256
	maxSessionLength = 128
)

// previewSessions keeps one diagram.Renderer per editor session and engine,
// so a newer preview request supersedes the older one still rendering.
// Idle sessions expire and their renderers are closed.
type previewSessions struct {
	cache *ttlcache.Cache[string, *diagram.Renderer]
	mu    sync.Mutex
}

func newPreviewSessions(ttl time.Duration, capacity uint64) *previewSessions {
	cache := ttlcache.New[string, *diagram.Renderer](
		ttlcache.WithTTL[string, *diagram.Renderer](ttl),
		ttlcache.WithCapacity[string, *diagram.Renderer](capacity),
	)
	cache.OnEviction(func(_ context.Context, _ ttlcache.EvictionReason, item *ttlcache.Item[string, *diagram.Renderer]) {
		go item.Value().Close()
	})
	go cache.Start()
	return &previewSessions{cache: cache}
}

// renderer returns the session's renderer for route, creating it on first use.
func (p *previewSessions) renderer(session string, route codeblock.Route) *diagram.Renderer {
	key := session + "\x00" + route.Language()

	p.mu.Lock()
	defer p.mu.Unlock()
	if item := p.cache.Get(key); item != nil {
		return item.Value()
	}
	r := diagram.NewRenderer(route.Handle)
	p.cache.Set(key, r, ttlcache.DefaultTTL)
	return r
}

func (p *previewSessions) len() int {
	return p.cache.Len()
}

func (p *previewSessions) stop() {
	p.cache.Stop()
	p.cache.DeleteAll()
}

type previewRequest struct {
	Session string `json:"session"`
	Engine  string `json:"engine"`
	Source  string `json:"source"`
}

//nolint:govet // field order mirrors the JSON payload
type previewResponse struct {
	Engine     string         `json:"engine"`
	Status     diagram.Status `json:"status"`
	Token      uint64         `json:"token,omitempty"`
	HTML       string         `json:"html,omitempty"`
	Error      string         `json:"error,omitempty"`
	Superseded bool           `json:"superseded,omitempty"`
}

// handleDiagram renders a diagram source for live preview. Requests carrying
// a session share a renderer: when a newer request for the same session
// arrives first, the older one answers with superseded set and no markup.
func (s *Server) handleDiagram(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req previewRequest
	if err := decodeJSON(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	engine := strings.ToLower(strings.TrimSpace(req.Engine))
	if engine == "" {
		engine = strings.TrimPrefix(codeblock.MermaidMarker, "language-")
	}
	route, ok := s.classifier.RouteFor(engine)
	if !ok {
		respondJSON(w, http.StatusBadRequest, errorResponse("unknown diagram engine: "+engine))
		return
	}

	session := strings.TrimSpace(req.Session)
	if len(session) > maxSessionLength {
		respondJSON(w, http.StatusBadRequest, errorResponse("session identifier too long"))
		return
	}

	if session == "" {
		st := diagram.RenderOnce(ctx, route.Handle, req.Source)
		respondJSON(w, http.StatusOK, previewFromState(st))
		return
	}

	rr := s.previews.renderer(session, route)
	token := rr.Render(ctx, req.Source)
	st, err := rr.Wait(ctx)
	if err != nil {
		s.logger.DebugContext(ctx, "preview request abandoned", slog.String("session", session), slog.Any("err", err))
		return
	}
	if st.Token != token {
		respondJSON(w, http.StatusOK, previewResponse{
			Engine:     route.Handle.Name(),
			Status:     diagram.StatusPending,
			Token:      token,
			Superseded: true,
		})
		return
	}
	respondJSON(w, http.StatusOK, previewFromState(st))
}

func previewFromState(st diagram.State) previewResponse {
	return previewResponse{
		Engine: st.Engine,
		Status: st.Status,
		Token:  st.Token,
		HTML:   diagram.HTML(st),
		Error:  st.Error,
	}
}
