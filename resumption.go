package mcp

import (
	"context"
	"sync"
)

// ResumptionTracker remembers the last delivery marker (SSE event ID) received per stream key,
// so a caller can resume a notification stream after its connection dropped. It is safe for
// concurrent use.
//
// A marker must only be recorded once the event carrying it has been received. Resuming from
// the recorded marker then gives at-least-once delivery with no gaps; the event at the
// boundary may be seen twice.
type ResumptionTracker struct {
	mu     sync.Mutex
	tokens map[string]string
}

// CallOption configures a single request made through Client.
type CallOption func(*callOptions)

type callOptions struct {
	resumptionToken   string
	onResumptionToken func(token string)
}

type callOptionsKey struct{}

// NewResumptionTracker creates an empty tracker.
func NewResumptionTracker() *ResumptionTracker {
	return &ResumptionTracker{tokens: make(map[string]string)}
}

// Update records token as the latest marker for key. Empty tokens are ignored.
func (t *ResumptionTracker) Update(key, token string) {
	if token == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.tokens[key] = token
}

// Token returns the latest marker recorded for key.
func (t *ResumptionTracker) Token(key string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	token, ok := t.tokens[key]
	return token, ok
}

// Forget drops the marker for key.
func (t *ResumptionTracker) Forget(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.tokens, key)
}

// Reset drops every marker.
func (t *ResumptionTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	clear(t.tokens)
}

// WithResumptionToken makes the request resume the stream that ended at token instead of
// being sent again. The response replayed from that stream answers the call.
func WithResumptionToken(token string) CallOption {
	return func(o *callOptions) {
		o.resumptionToken = token
	}
}

// WithResumptionTokenHandler registers fn to be called with the marker of every event
// received on the request's stream. It runs before the event's message is handed on.
func WithResumptionTokenHandler(fn func(token string)) CallOption {
	return func(o *callOptions) {
		o.onResumptionToken = fn
	}
}

func withCallOptions(ctx context.Context, options []CallOption) context.Context {
	if len(options) == 0 {
		return ctx
	}
	var o callOptions
	for _, opt := range options {
		opt(&o)
	}
	return context.WithValue(ctx, callOptionsKey{}, o)
}

func callOptionsFrom(ctx context.Context) callOptions {
	o, _ := ctx.Value(callOptionsKey{}).(callOptions)
	return o
}
