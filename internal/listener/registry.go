// Package listener tracks live push subscriptions. At most one
// subscription exists per (scope, resource) pair; subscribing again
// replaces the previous one.
package listener

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/rx3lixir/mapchat/internal/metrics"
)

var ErrClosed = errors.New("listener registry closed")

// StartFunc runs a subscription until ctx is cancelled or the push channel
// fails. A non-nil return after an uncancelled ctx is a push failure.
type StartFunc func(ctx context.Context) error

// ErrorFunc receives the failure that ended a subscription
type ErrorFunc func(err error)

type key struct {
	scope    string
	resource string
}

// Handle controls one subscription
type Handle struct {
	reg    *Registry
	key    key
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel tears the subscription down. Calling it more than once, or after
// the subscription was replaced, is a no-op.
func (h *Handle) Cancel() {
	h.reg.remove(h)
	h.cancel()
}

// Done is closed once the subscription goroutine has returned
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

type Registry struct {
	mu     sync.Mutex
	subs   map[key]*Handle
	wg     sync.WaitGroup
	closed bool
	log    *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		subs: make(map[key]*Handle),
		log:  log,
	}
}

// Subscribe starts run for (scopeID, resourceID), first tearing down any
// subscription already held for that pair and waiting for its run to
// return. It must not be called from inside the run it replaces. onError
// is called at most once, after the entry is removed; the subscription is
// never retried.
func (r *Registry) Subscribe(scopeID, resourceID string, run StartFunc, onError ErrorFunc) (*Handle, error) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		reg:    r,
		key:    key{scopeID, resourceID},
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		return nil, ErrClosed
	}
	old := r.subs[h.key]
	r.subs[h.key] = h
	if old == nil {
		metrics.ListenersActive.Inc()
	}
	r.wg.Add(1)
	r.mu.Unlock()

	if old != nil {
		old.cancel()
		<-old.done
		r.log.Debug("replaced subscription", "scope", scopeID, "resource", resourceID)
	}

	go r.run(h, run, onError)

	return h, nil
}

func (r *Registry) run(h *Handle, run StartFunc, onError ErrorFunc) {
	defer r.wg.Done()
	defer close(h.done)

	err := run(h.ctx)
	if h.ctx.Err() != nil {
		// torn down on purpose
		r.remove(h)
		return
	}
	removed := r.remove(h)
	h.cancel()

	if err == nil {
		return
	}

	metrics.ListenerErrors.Inc()
	r.log.Warn("subscription failed",
		"scope", h.key.scope,
		"resource", h.key.resource,
		"error", err,
	)
	if removed && onError != nil {
		onError(err)
	}
}

// remove drops h if it is still the live subscription for its pair
func (r *Registry) remove(h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.subs[h.key] != h {
		return false
	}
	delete(r.subs, h.key)
	metrics.ListenersActive.Dec()
	return true
}

// Unsubscribe tears down the pair's subscription if there is one
func (r *Registry) Unsubscribe(scopeID, resourceID string) {
	r.mu.Lock()
	h := r.subs[key{scopeID, resourceID}]
	r.mu.Unlock()

	if h != nil {
		h.Cancel()
	}
}

// UnsubscribeAll tears down every subscription held by a scope
func (r *Registry) UnsubscribeAll(scopeID string) {
	r.mu.Lock()
	var handles []*Handle
	for k, h := range r.subs {
		if k.scope == scopeID {
			handles = append(handles, h)
		}
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
}

// Active reports whether the pair currently has a live subscription
func (r *Registry) Active(scopeID, resourceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subs[key{scopeID, resourceID}]
	return ok
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Close tears down everything and waits for the subscription goroutines
// to return. Later Subscribe calls fail with ErrClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	handles := make([]*Handle, 0, len(r.subs))
	for _, h := range r.subs {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
	r.wg.Wait()
}
