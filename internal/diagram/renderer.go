package diagram

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Status is the lifecycle position of a Renderer.
type Status int

// Renderer states.
const (
	StatusPending Status = iota
	StatusRendered
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusRendered:
		return "rendered"
	case StatusFailed:
		return "failed"
	default:
		return "pending"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

const defaultErrorMessage = "Failed to render diagram"

// State is a snapshot of a Renderer. Markup is set only when Rendered and
// Error only when Failed; Source always holds the trimmed input.
type State struct {
	Engine string `json:"engine"`
	ID     string `json:"id,omitempty"`
	Source string `json:"source"`
	Markup string `json:"markup,omitempty"`
	Error  string `json:"error,omitempty"`
	Token  uint64 `json:"token"`
	Status Status `json:"status"`
}

// Renderer tracks the render lifecycle of one diagram instance. Each Render
// call supersedes earlier ones; only the latest request may commit state.
type Renderer struct {
	handle  *Handle
	logger  *slog.Logger
	cancel  context.CancelFunc
	settled chan struct{}
	state   State
	wg      sync.WaitGroup
	latest  uint64
	mu      sync.Mutex
}

// NewRenderer creates an idle renderer bound to handle.
func NewRenderer(handle *Handle) *Renderer {
	return &Renderer{
		handle: handle,
		logger: handle.logger,
		state:  State{Engine: handle.Name(), Status: StatusPending},
	}
}

// Render starts converting source asynchronously and returns the request
// token. Any in-flight request is canceled and its result will be discarded.
func (r *Renderer) Render(ctx context.Context, source string) uint64 {
	source = strings.TrimSpace(source)
	id := NewID()

	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.latest++
	token := r.latest
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	// Wake waiters of the superseded request so they follow the new one.
	if r.settled != nil {
		select {
		case <-r.settled:
		default:
			close(r.settled)
		}
	}
	r.settled = make(chan struct{})
	r.state = State{
		Engine: r.handle.Name(),
		ID:     id,
		Source: source,
		Token:  token,
		Status: StatusPending,
	}
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(runCtx, cancel, token, id, source)
	return token
}

func (r *Renderer) run(ctx context.Context, cancel context.CancelFunc, token uint64, id, source string) {
	defer r.wg.Done()
	defer cancel()

	var (
		markup string
		err    error
	)
	if source == "" {
		err = ErrEmptyDiagram
	} else {
		markup, err = r.handle.Render(ctx, id, source)
	}
	r.commit(token, markup, err)
}

func (r *Renderer) commit(token uint64, markup string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if token != r.latest {
		r.handle.metrics.discard(r.handle.Name())
		r.logger.Debug("discarding superseded diagram render",
			slog.Uint64("token", token),
			slog.Uint64("latest", r.latest))
		return
	}

	if err != nil {
		r.logger.Error("diagram render failed",
			slog.String("id", r.state.ID),
			slog.Any("err", err))
		r.state.Status = StatusFailed
		r.state.Error = ErrorMessage(err)
		r.state.Markup = ""
	} else {
		r.state.Status = StatusRendered
		r.state.Markup = markup
		r.state.Error = ""
	}
	close(r.settled)
}

// State returns the current snapshot.
func (r *Renderer) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Wait blocks until the latest request has settled or ctx is done. A renderer
// that was never asked to render returns its idle state immediately.
func (r *Renderer) Wait(ctx context.Context) (State, error) {
	for {
		r.mu.Lock()
		ch := r.settled
		st := r.state
		r.mu.Unlock()

		if ch == nil {
			return st, nil
		}

		select {
		case <-ch:
			r.mu.Lock()
			st = r.state
			current := ch == r.settled
			r.mu.Unlock()
			if current {
				return st, nil
			}
		case <-ctx.Done():
			return r.State(), ctx.Err()
		}
	}
}

// HTML renders the current state as markup.
func (r *Renderer) HTML() string {
	return HTML(r.State())
}

// Close cancels any in-flight request and waits for its goroutine to exit.
func (r *Renderer) Close() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// RenderOnce is a convenience for callers that need a single settled result.
func RenderOnce(ctx context.Context, handle *Handle, source string) State {
	r := NewRenderer(handle)
	defer r.Close()
	r.Render(ctx, source)
	st, err := r.Wait(ctx)
	if err != nil && st.Status == StatusPending {
		st.Status = StatusFailed
		st.Error = ErrorMessage(err)
	}
	return st
}

// NewID returns a fresh identifier suitable for a markup target.
func NewID() string {
	return "diagram-" + uuid.NewString()
}

// ErrorMessage normalizes err into a displayable message.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return defaultErrorMessage
	}
	return msg
}
