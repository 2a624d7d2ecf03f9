// Package content serves posts from disk: it keeps the post index current,
// renders posts on demand and notifies subscribers about changes.
package content

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/euforicio/blogmd/internal/posts"
	"github.com/euforicio/blogmd/internal/renderer"
)

const (
	eventTypeIndexUpdated = "indexUpdated"
	eventTypeDeleted      = "deleted"
	eventTypePostUpdated  = "postUpdated"
	eventTypeUnknown      = "unknown"
)

// ErrNotFound is returned for unknown slugs and paths.
var ErrNotFound = fmt.Errorf("post not found: %w", os.ErrNotExist)

// Event describes change notifications emitted to subscribers.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Path      string    `json:"path,omitempty"`
	Slug      string    `json:"slug,omitempty"`
}

// Service coordinates post rendering, indexing, and change notifications.
type Service struct {
	ctx         context.Context
	logger      *slog.Logger
	watcher     *fsnotify.Watcher
	renderer    *renderer.Service
	cancel      context.CancelFunc
	index       atomic.Pointer[[]*posts.Post]
	subscribers map[uint64]*subscriber
	root        string
	opts        Options
	subCounter  atomic.Uint64
	subsMu      sync.RWMutex
	rebuildMu   sync.Mutex
}

type subscriber struct {
	ctx context.Context
	ch  chan Event
}

// Options configures the content service.
type Options struct {
	IncludeHidden bool
	IncludeDrafts bool
	// Watch enables the fsnotify watcher; exports leave it off.
	Watch bool
}

// NewService builds the post index for root and, when opts.Watch is set,
// starts watching it for changes.
func NewService(parentCtx context.Context, root string, rendererSvc *renderer.Service, logger *slog.Logger, opts Options) (*Service, error) {
	if root == "" {
		return nil, errors.New("root directory must be provided")
	}
	if rendererSvc == nil {
		return nil, errors.New("renderer service must be provided")
	}
	if logger == nil {
		logger = slog.Default()
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	ctx, cancel := context.WithCancel(parentCtx)

	svc := &Service{
		root:        absRoot,
		renderer:    rendererSvc,
		opts:        opts,
		logger:      logger.With("component", "content_service"),
		ctx:         ctx,
		cancel:      cancel,
		subscribers: make(map[uint64]*subscriber),
	}

	if err := svc.initIndex(ctx); err != nil {
		cancel()
		return nil, err
	}

	if opts.Watch {
		if err := svc.startWatcher(); err != nil {
			cancel()
			return nil, err
		}
	}

	return svc, nil
}

// Close releases resources associated with the service.
func (s *Service) Close() error {
	s.cancel()
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// Root returns the absolute posts directory.
func (s *Service) Root() string {
	return s.root
}

// Posts returns the current index snapshot, newest first.
func (s *Service) Posts(ctx context.Context) ([]*posts.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	list := s.index.Load()
	if list == nil {
		return nil, errors.New("index not initialized")
	}
	return *list, nil
}

// Post looks up slug in the index and renders it.
func (s *Service) Post(ctx context.Context, slug string) (*posts.Post, renderer.Document, error) {
	list, err := s.Posts(ctx)
	if err != nil {
		return nil, renderer.Document{}, err
	}
	post := posts.Find(list, slug)
	if post == nil {
		return nil, renderer.Document{}, fmt.Errorf("%s: %w", slug, ErrNotFound)
	}
	doc, err := s.Document(ctx, post.RelativePath)
	if err != nil {
		return nil, renderer.Document{}, err
	}
	return post, doc, nil
}

// Document loads and renders a markdown document by root-relative path.
func (s *Service) Document(ctx context.Context, relPath string) (renderer.Document, error) {
	if err := ctx.Err(); err != nil {
		return renderer.Document{}, err
	}

	rel, abs, err := s.resolvePath(relPath, true)
	if err != nil {
		return renderer.Document{}, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return renderer.Document{}, fmt.Errorf("%s: %w", rel, ErrNotFound)
		}
		return renderer.Document{}, fmt.Errorf("stat document: %w", err)
	}
	if info.IsDir() {
		return renderer.Document{}, fmt.Errorf("path %s is a directory", rel)
	}

	content, err := os.ReadFile(abs) //nolint:gosec // abs is validated against root directory
	if err != nil {
		return renderer.Document{}, fmt.Errorf("read document: %w", err)
	}

	doc, err := s.renderer.Render(ctx, rel, info.ModTime(), content)
	if err != nil {
		return renderer.Document{}, err
	}
	return doc, nil
}

// Asset resolves a root-relative media path to an absolute file path.
func (s *Service) Asset(relPath string) (string, error) {
	rel, abs, err := s.resolvePath(relPath, false)
	if err != nil {
		return "", err
	}
	if !s.opts.IncludeHidden && hasHiddenSegment(rel) {
		return "", fmt.Errorf("%s: %w", rel, ErrNotFound)
	}
	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%s: %w", rel, ErrNotFound)
	}
	return abs, nil
}

func (s *Service) resolvePath(relPath string, markdown bool) (string, string, error) {
	trimmed := strings.TrimSpace(relPath)
	if trimmed == "" {
		return "", "", fmt.Errorf("invalid path: %s", relPath)
	}
	clean := filepath.Clean(trimmed)
	if clean == "." || clean == "" {
		return "", "", fmt.Errorf("invalid path: %s", relPath)
	}
	if filepath.IsAbs(clean) {
		return "", "", fmt.Errorf("invalid path: %s", relPath)
	}
	if vol := filepath.VolumeName(clean); vol != "" {
		return "", "", fmt.Errorf("invalid path: %s", relPath)
	}

	clean = filepath.ToSlash(clean)
	if clean == ".." || strings.HasPrefix(clean, "../") || strings.Contains(clean, "/../") {
		return "", "", fmt.Errorf("invalid path: %s", relPath)
	}

	if markdown && !posts.IsMarkdown(clean) {
		clean += ".md"
	}

	abs, err := filepath.Abs(filepath.Join(s.root, filepath.FromSlash(clean)))
	if err != nil {
		return "", "", fmt.Errorf("resolve path: %w", err)
	}
	relToRoot, err := filepath.Rel(s.root, abs)
	if err != nil {
		return "", "", fmt.Errorf("resolve path: %w", err)
	}
	if relToRoot == ".." || strings.HasPrefix(relToRoot, ".."+string(os.PathSeparator)) {
		return "", "", fmt.Errorf("resolved path escapes root: %s", relPath)
	}
	return clean, abs, nil
}

func hasHiddenSegment(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

// Subscribe registers for change events. The returned channel will close when ctx is done.
func (s *Service) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 8)
	id := s.subCounter.Add(1)

	s.subsMu.Lock()
	s.subscribers[id] = &subscriber{ctx: ctx, ch: ch}
	s.subsMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.ctx.Done():
		}
		s.removeSubscriber(id)
	}()

	return ch
}

func (s *Service) buildOptions() posts.Options {
	return posts.Options{
		Renderer:      s.renderer,
		IncludeHidden: s.opts.IncludeHidden,
		IncludeDrafts: s.opts.IncludeDrafts,
	}
}

func (s *Service) initIndex(ctx context.Context) error {
	list, err := posts.Build(ctx, s.root, s.buildOptions())
	if err != nil {
		return err
	}
	s.index.Store(&list)
	s.logger.Info("post index built", slog.Int("posts", len(list)))
	return nil
}

func (s *Service) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	s.watcher = watcher

	if err := s.watchRecursive(s.root); err != nil {
		return err
	}

	go s.runWatcher()
	return nil
}

func (s *Service) runWatcher() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleEvent(event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("watcher error", slog.Any("err", err))
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Service) handleEvent(event fsnotify.Event) {
	if event.Name == "" {
		return
	}

	rel := s.relativePath(event.Name)
	op := event.Op

	s.logger.Debug("fsnotify event", slog.String("path", rel), slog.String("op", op.String()))

	isMarkdown := posts.IsMarkdown(event.Name)

	if isMarkdown && op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
		s.renderer.Invalidate(rel)
	}

	if op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = s.watchRecursive(event.Name)
		}
	}

	eventType := classifyEvent(event.Name, op, isMarkdown)

	rebuildOK := s.rebuildIndex()
	if !rebuildOK && (eventType == eventTypeIndexUpdated || eventType == eventTypeDeleted) {
		s.logger.Warn("skipping index broadcast due to rebuild failure", slog.String("path", rel))
		return
	}

	evt := Event{Type: eventType, Path: rel, Timestamp: time.Now()}
	if isMarkdown {
		evt.Slug = renderer.SlugFromPath(rel)
	}
	s.broadcast(evt)
}

func (s *Service) rebuildIndex() bool {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()

	list, err := posts.Build(ctx, s.root, s.buildOptions())
	if err != nil {
		s.logger.Error("rebuild index failed", slog.Any("err", err))
		return false
	}
	s.index.Store(&list)
	return true
}

func (s *Service) broadcast(evt Event) {
	s.subsMu.RLock()
	var stale []uint64
	for id, sub := range s.subscribers {
		select {
		case <-sub.ctx.Done():
			stale = append(stale, id)
		case <-s.ctx.Done():
			stale = append(stale, id)
		case sub.ch <- evt:
		default:
			// drop event when subscriber lags
		}
	}
	s.subsMu.RUnlock()

	for _, id := range stale {
		s.removeSubscriber(id)
	}
}

func (s *Service) removeSubscriber(id uint64) {
	s.subsMu.Lock()
	if sub, ok := s.subscribers[id]; ok {
		close(sub.ch)
		delete(s.subscribers, id)
	}
	s.subsMu.Unlock()
}

func (s *Service) watchRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !s.opts.IncludeHidden && strings.HasPrefix(d.Name(), ".") && path != s.root {
				return filepath.SkipDir
			}
			if err := s.watcher.Add(path); err != nil {
				s.logger.Warn("failed to watch directory", slog.String("path", path), slog.Any("err", err))
			}
		}
		return nil
	})
}

func (s *Service) relativePath(abs string) string {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

func classifyEvent(path string, op fsnotify.Op, isMarkdown bool) string {
	switch {
	case op&fsnotify.Remove != 0:
		if isMarkdown {
			if _, err := os.Stat(path); err == nil {
				return eventTypePostUpdated
			}
			return eventTypeDeleted
		}
		return eventTypeIndexUpdated
	case op&fsnotify.Rename != 0:
		return eventTypeIndexUpdated
	case op&(fsnotify.Write|fsnotify.Create) != 0:
		if isMarkdown {
			return eventTypePostUpdated
		}
		return eventTypeIndexUpdated
	default:
		return eventTypeUnknown
	}
}

// Status reports service state for health checks.
func (s *Service) Status() map[string]any {
	res := map[string]any{
		"root":          s.root,
		"includeHidden": s.opts.IncludeHidden,
		"includeDrafts": s.opts.IncludeDrafts,
	}
	if list := s.index.Load(); list != nil {
		res["posts"] = len(*list)
	}
	if w := s.watcher; w != nil {
		res["watcher"] = map[string]any{
			"platform": runtime.GOOS,
		}
	}
	return res
}
