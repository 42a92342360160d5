package bot

import (
	"context"
	"sync"
)

type chatQueue struct {
	pending []Event
	running bool
}

// Router runs handle for every event, one goroutine per busy chat.
// A chat's goroutine exits once its queue drains.
type Router struct {
	handle func(ctx context.Context, ev Event)

	mu     sync.Mutex
	queues map[string]*chatQueue
	wg     sync.WaitGroup
}

func NewRouter(handle func(ctx context.Context, ev Event)) *Router {
	return &Router{handle: handle, queues: make(map[string]*chatQueue)}
}

// Run dispatches events until the channel closes or ctx is done, then
// waits for in-flight handlers.
func (r *Router) Run(ctx context.Context, events <-chan Event) {
	defer r.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.Dispatch(ctx, ev)
		}
	}
}

// Dispatch queues ev behind earlier events of the same chat.
func (r *Router) Dispatch(ctx context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	q, ok := r.queues[ev.ChatID]
	if !ok {
		q = &chatQueue{}
		r.queues[ev.ChatID] = q
	}
	q.pending = append(q.pending, ev)
	if q.running {
		return
	}
	q.running = true
	r.wg.Add(1)
	go r.drain(ctx, ev.ChatID, q)
}

func (r *Router) drain(ctx context.Context, chatID string, q *chatQueue) {
	defer r.wg.Done()
	for {
		r.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			delete(r.queues, chatID)
			r.mu.Unlock()
			return
		}
		ev := q.pending[0]
		q.pending = q.pending[1:]
		r.mu.Unlock()

		r.handle(ctx, ev)
	}
}

// Wait blocks until every queued event was handled.
func (r *Router) Wait() { r.wg.Wait() }
