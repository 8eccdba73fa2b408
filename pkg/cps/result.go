package cps

import (
	"context"
	"sync"

	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
)

// CompletionFunc receives the outcome of a publish once it is known.
type CompletionFunc func(resp *pubsubpb.PublishResponse, err error)

// ResolveFunc settles a pending PublishResult. Only the first call has an effect.
type ResolveFunc func(resp *pubsubpb.PublishResponse, err error)

// PublishResult is the asynchronous outcome of a single publish call. It is
// assigned exactly once and may be awaited by any number of goroutines.
type PublishResult struct {
	ready chan struct{}

	mu        sync.Mutex
	resolved  bool
	resp      *pubsubpb.PublishResponse
	err       error
	callbacks []CompletionFunc
}

// NewPublishResult returns a pending result and the function that settles it.
func NewPublishResult() (*PublishResult, ResolveFunc) {
	r := &PublishResult{ready: make(chan struct{})}
	return r, func(resp *pubsubpb.PublishResponse, err error) {
		r.resolve(resp, err)
	}
}

// ResolvedResult returns a result that is already settled.
func ResolvedResult(resp *pubsubpb.PublishResponse, err error) *PublishResult {
	r, resolve := NewPublishResult()
	resolve(resp, err)
	return r
}

// Ready is closed once the result is settled.
func (r *PublishResult) Ready() <-chan struct{} {
	return r.ready
}

// Get blocks until the result is settled or ctx is done. A ctx error leaves
// the result untouched; a later Get can still observe the publish outcome.
func (r *PublishResult) Get(ctx context.Context) (*pubsubpb.PublishResponse, error) {
	select {
	case <-r.ready:
		return r.resp, r.err
	default:
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-r.ready:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// MessageIDs returns the service-assigned ids, or nil while pending or on failure.
func (r *PublishResult) MessageIDs() []string {
	select {
	case <-r.ready:
	default:
		return nil
	}
	if r.err != nil || r.resp == nil {
		return nil
	}
	return r.resp.GetMessageIds()
}

// OnComplete registers fn without blocking. Callbacks registered before the
// result settles run in registration order on the settling goroutine; callbacks
// registered afterwards run immediately on the caller's goroutine.
func (r *PublishResult) OnComplete(fn CompletionFunc) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	if !r.resolved {
		r.callbacks = append(r.callbacks, fn)
		r.mu.Unlock()
		return
	}
	resp, err := r.resp, r.err
	r.mu.Unlock()
	fn(resp, err)
}

func (r *PublishResult) resolve(resp *pubsubpb.PublishResponse, err error) bool {
	r.mu.Lock()
	if r.resolved {
		r.mu.Unlock()
		return false
	}
	r.resolved = true
	r.resp, r.err = resp, err
	callbacks := r.callbacks
	r.callbacks = nil
	close(r.ready)
	r.mu.Unlock()

	for _, fn := range callbacks {
		fn(resp, err)
	}
	return true
}
