package generate

import (
	"context"
	"time"
)

// slot holds the queueing primitives for one model id.
type slot struct {
	genCh   chan struct{} // size 1: single in-flight generation
	queueCh chan struct{} // buffered: queue slots
}

// begin reserves a queue slot and then the single in-flight slot for
// modelID. Returns a release func to be deferred. Requests beyond the queue
// depth or waiting longer than maxWait are rejected with a busy error.
func (p *Pipeline) begin(ctx context.Context, modelID string) (func(), error) {
	p.mu.Lock()
	s, ok := p.slots[modelID]
	if !ok {
		s = &slot{
			genCh:   make(chan struct{}, 1),
			queueCh: make(chan struct{}, p.maxQueueDepth),
		}
		p.slots[modelID] = s
	}
	p.mu.Unlock()

	// Try to reserve a queue slot with timeout
	select {
	case s.queueCh <- struct{}{}:
		// reserved queue slot
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-time.After(p.maxWait):
		return func() {}, tooBusyError{modelID: modelID}
	}

	// Wait to acquire the single in-flight slot
	acquired := false
	defer func() {
		if !acquired {
			<-s.queueCh
		}
	}()
	select {
	case s.genCh <- struct{}{}:
		acquired = true
		return func() { <-s.genCh; <-s.queueCh }, nil
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-time.After(p.maxWait):
		return func() {}, tooBusyError{modelID: modelID}
	}
}
