// Package hcomb implements the aggregator (HComb) role (spec §4.4): a
// ResultsService mapping query_id to an in-flight ResultChannel, a
// reduce-SQL execution context, and an idle-expiry watchdog.
package hcomb

import (
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
)

// resultItem is one element flowing through a ResultChannel: either a
// worker's partial batch or a terminal error.
type resultItem struct {
	Record arrow.Record
	Err    error
}

// ResultChannel is the per-query state machine spec §4.4.4 describes:
// created with remaining = nb_hbee, closing cleanly once every worker
// has called task_finished, or immediately on the first failure.
type ResultChannel struct {
	mu        sync.Mutex
	ch        chan resultItem
	remaining uint32
	closed    bool
}

func newResultChannel(nbHBee uint32) *ResultChannel {
	return &ResultChannel{ch: make(chan resultItem, 64), remaining: nbHBee}
}

// Stream returns the consumer side. Closed once the channel reaches
// its terminal state (success or error).
func (r *ResultChannel) Stream() <-chan resultItem {
	return r.ch
}

// addResult forwards item if the channel is still open; dropped
// silently otherwise (spec §4.4.4: "once closed, further add_result
// calls are dropped silently"). The send happens under the same lock
// that guards close, so a concurrent fail()/taskFinished() can never
// close the channel out from under this send.
func (r *ResultChannel) addResult(item resultItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.ch <- item
}

// taskFinished decrements remaining; at zero, closes the channel.
func (r *ResultChannel) taskFinished() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.remaining--
	if r.remaining == 0 {
		r.closed = true
		close(r.ch)
	}
}

// fail pushes a terminal error and closes the channel immediately,
// regardless of how many tasks remain outstanding.
func (r *ResultChannel) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.ch <- resultItem{Err: err}
	close(r.ch)
}

// ResultsService is the query_id → ResultChannel registry, guarded by
// a single mutex (spec §5: "the aggregator's ResultsService map is
// guarded by a single mutex").
type ResultsService struct {
	mu       sync.Mutex
	channels map[string]*ResultChannel
}

// NewResultsService returns an empty registry.
func NewResultsService() *ResultsService {
	return &ResultsService{channels: make(map[string]*ResultChannel)}
}

// Open creates and registers a new ResultChannel for queryID.
func (s *ResultsService) Open(queryID string, nbHBee uint32) *ResultChannel {
	s.mu.Lock()
	defer s.mu.Unlock()
	rc := newResultChannel(nbHBee)
	s.channels[queryID] = rc
	return rc
}

// Lookup returns the channel registered for queryID, if any.
func (s *ResultsService) Lookup(queryID string) (*ResultChannel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rc, ok := s.channels[queryID]
	return rc, ok
}

// Remove deregisters queryID once its stream has been fully consumed.
func (s *ResultsService) Remove(queryID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels, queryID)
}
