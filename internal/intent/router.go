package intent

import (
	"context"
	"log/slog"
	"sync"
)

// Handler executes the side effect for one intent. It reports whether it
// recognized the command.
type Handler interface {
	Handle(ctx context.Context, transcript string) (bool, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, transcript string) (bool, error)

func (f HandlerFunc) Handle(ctx context.Context, transcript string) (bool, error) {
	return f(ctx, transcript)
}

// DefaultFallbacks lists the labels tried after a label's own handler declines.
func DefaultFallbacks() map[Label][]Label {
	return map[Label][]Label{
		LabelGeneralCommand:     {LabelNavigation, LabelCart},
		LabelProductNavigation:  {LabelNavigation},
		LabelCategoryNavigation: {LabelNavigation},
		LabelProductAction:      {LabelCart},
	}
}

// Outcome reports how a routed command was handled.
type Outcome struct {
	Label     Label
	HandledBy Label
	Handled   bool
	// Errs holds handler failures encountered along the chain.
	Errs []error
}

// Router dispatches labels to handlers. It is a plain table and performs no
// classification of its own.
type Router struct {
	mu        sync.RWMutex
	handlers  map[Label]Handler
	fallbacks map[Label][]Label
	logger    *slog.Logger
}

func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		handlers:  make(map[Label]Handler),
		fallbacks: DefaultFallbacks(),
		logger:    logger,
	}
}

// Register binds h to label, replacing any previous handler.
func (r *Router) Register(label Label, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h == nil {
		delete(r.handlers, label)
		return
	}
	r.handlers[label] = h
}

// SetFallbacks replaces the fallback chain of label.
func (r *Router) SetFallbacks(label Label, chain ...Label) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(chain) == 0 {
		delete(r.fallbacks, label)
		return
	}
	r.fallbacks[label] = append([]Label(nil), chain...)
}

// Has reports whether label has a handler.
func (r *Router) Has(label Label) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[label]
	return ok
}

// Route tries the handler of label, then each fallback label's handler, until
// one reports the command handled. Handler errors count as not handled.
func (r *Router) Route(ctx context.Context, label Label, transcript string) Outcome {
	r.mu.RLock()
	chain := append([]Label{label}, r.fallbacks[label]...)
	handlers := make([]Handler, len(chain))
	for i, l := range chain {
		handlers[i] = r.handlers[l]
	}
	r.mu.RUnlock()

	out := Outcome{Label: label}
	for i, h := range handlers {
		if h == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			out.Errs = append(out.Errs, err)
			return out
		}
		handled, err := h.Handle(ctx, transcript)
		if err != nil {
			r.logger.Warn("intent handler failed", "label", chain[i], "error", err)
			out.Errs = append(out.Errs, err)
			continue
		}
		if handled {
			out.Handled = true
			out.HandledBy = chain[i]
			return out
		}
	}
	return out
}
