// Package notify is the wakeup hub between the replication apply path and
// pollers: appending a log entry signals every subscriber watching that
// tablet, so publisher workers wake immediately instead of waiting out their
// poll interval.
package notify

import (
	"sync"
	"sync/atomic"

	"github.com/naanagon/yugabyte-db/cdc"
)

// defaultSignalBufferSize is the buffer size for signal channels.
// Subscribers that can't keep up have signals dropped (non-blocking send);
// a dropped signal only delays the subscriber until its next poll tick.
const defaultSignalBufferSize = 16

// Signal announces newly replicated entries on a tablet.
type Signal struct {
	TabletID string
	OpID     cdc.OpID
}

// subscription represents a single subscriber.
type subscription struct {
	id      uint64
	tablets map[string]struct{}
	ch      chan Signal
	closed  atomic.Bool
}

// matches checks if the tablet matches this subscription's filter.
func (s *subscription) matches(tabletID string) bool {
	// nil or empty = all tablets
	if len(s.tablets) == 0 {
		return true
	}
	_, ok := s.tablets[tabletID]
	return ok
}

// close closes the subscription channel if not already closed.
func (s *subscription) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

// Hub is a thread-safe notification hub for replication signals.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[uint64]*subscription
	nextID        atomic.Uint64
}

// NewHub creates a new notification hub.
func NewHub() *Hub {
	return &Hub{
		subscriptions: make(map[uint64]*subscription),
	}
}

// Signal notifies all matching subscribers (non-blocking).
func (h *Hub) Signal(tabletID string, opID cdc.OpID) {
	signal := Signal{TabletID: tabletID, OpID: opID}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscriptions {
		if !sub.matches(tabletID) {
			continue
		}

		// Non-blocking send - drop if buffer full
		select {
		case sub.ch <- signal:
		default:
		}
	}
}

// Subscribe creates a new subscription for the given tablets (empty watches
// everything) and returns the signal channel and an idempotent cancel
// function.
func (h *Hub) Subscribe(tabletIDs ...string) (<-chan Signal, func()) {
	sub := &subscription{
		id: h.nextID.Add(1),
		ch: make(chan Signal, defaultSignalBufferSize),
	}
	if len(tabletIDs) > 0 {
		sub.tablets = make(map[string]struct{}, len(tabletIDs))
		for _, id := range tabletIDs {
			sub.tablets[id] = struct{}{}
		}
	}

	h.mu.Lock()
	h.subscriptions[sub.id] = sub
	h.mu.Unlock()

	cancel := func() {
		h.unsubscribe(sub.id)
	}

	return sub.ch, cancel
}

// unsubscribe removes a subscription and closes its channel.
func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	sub, ok := h.subscriptions[id]
	if ok {
		delete(h.subscriptions, id)
	}
	h.mu.Unlock()

	if ok {
		sub.close()
	}
}
