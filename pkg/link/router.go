package link

import (
	"context"
	"sync"

	"github.com/robotalks/flightlink/pkg/cmdset"
)

// PushHandler handles push data.
// It's invoked on the receive goroutine and must not block on a
// synchronous send.
type PushHandler interface {
	HandlePush(ctx context.Context, cat cmdset.Category, data []byte)
}

// HandlePushFunc is the func form of PushHandler.
type HandlePushFunc func(ctx context.Context, cat cmdset.Category, data []byte)

// HandlePush implements PushHandler.
func (f HandlePushFunc) HandlePush(ctx context.Context, cat cmdset.Category, data []byte) {
	f(ctx, cat, data)
}

// PushMux fans out push data to multiple handlers in order.
type PushMux []PushHandler

// HandlePush implements PushHandler.
func (m PushMux) HandlePush(ctx context.Context, cat cmdset.Category, data []byte) {
	for _, h := range m {
		h.HandlePush(ctx, cat, data)
	}
}

// Router keeps at most one handler per push category.
type Router struct {
	lock     sync.RWMutex
	handlers map[cmdset.Category]PushHandler
}

// Register sets the handler of a category, replacing the existing one.
// A nil handler clears the subscription.
func (r *Router) Register(cat cmdset.Category, h PushHandler) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if h == nil {
		delete(r.handlers, cat)
		return
	}
	if r.handlers == nil {
		r.handlers = make(map[cmdset.Category]PushHandler)
	}
	r.handlers[cat] = h
}

// RegisterFunc registers a func as handler.
func (r *Router) RegisterFunc(cat cmdset.Category, fn func(ctx context.Context, cat cmdset.Category, data []byte)) {
	if fn == nil {
		r.Register(cat, nil)
		return
	}
	r.Register(cat, HandlePushFunc(fn))
}

// Handler returns the current handler of a category.
func (r *Router) Handler(cat cmdset.Category) PushHandler {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.handlers[cat]
}

// Dispatch invokes the handler of the category if any, and reports
// whether a handler was invoked.
func (r *Router) Dispatch(ctx context.Context, cat cmdset.Category, data []byte) bool {
	h := r.Handler(cat)
	if h == nil {
		return false
	}
	h.HandlePush(ctx, cat, data)
	return true
}
