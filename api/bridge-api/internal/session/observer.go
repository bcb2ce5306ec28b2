package internal_session

import (
	"sync"

	"github.com/ringbridge/pkg/commons"
)

const (
	observerQueueSize = 64
	// A subscriber that overflows this many times in a row is not keeping up
	// and gets detached rather than throttling the call.
	observerOverflowLimit = 8
)

type observer struct {
	ch        chan []byte
	overflows int
}

// ObserverHub fans session events out to live subscribers (the /events
// endpoint). Publishing never blocks: a full subscriber loses its oldest
// message, and a persistently full one is detached.
type ObserverHub struct {
	logger commons.Logger

	mu        sync.Mutex
	observers map[string]*observer
	closed    bool
}

func NewObserverHub(logger commons.Logger) *ObserverHub {
	return &ObserverHub{
		logger:    logger,
		observers: make(map[string]*observer),
	}
}

// Attach registers a subscriber and returns its event channel. The channel is
// closed on Detach, on overflow eviction, and when the hub closes.
func (h *ObserverHub) Attach(id string) <-chan []byte {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		ch := make(chan []byte)
		close(ch)
		return ch
	}
	if existing, ok := h.observers[id]; ok {
		close(existing.ch)
	}
	obs := &observer{ch: make(chan []byte, observerQueueSize)}
	h.observers[id] = obs
	return obs.ch
}

// Detach removes a subscriber and closes its channel.
func (h *ObserverHub) Detach(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if obs, ok := h.observers[id]; ok {
		delete(h.observers, id)
		close(obs.ch)
	}
}

// Count returns the number of attached subscribers.
func (h *ObserverHub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers)
}

// Publish delivers payload to every subscriber without blocking the caller.
func (h *ObserverHub) Publish(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	for id, obs := range h.observers {
		select {
		case obs.ch <- payload:
			obs.overflows = 0
			continue
		default:
		}

		// Queue full: drop the oldest and retry once.
		obs.overflows++
		if obs.overflows >= observerOverflowLimit {
			h.logger.Warnf("Observer %s overflowed %d times, detaching", id, obs.overflows)
			delete(h.observers, id)
			close(obs.ch)
			continue
		}
		select {
		case <-obs.ch:
		default:
		}
		select {
		case obs.ch <- payload:
		default:
		}
	}
}

// Close detaches every subscriber. Further publishes are dropped.
func (h *ObserverHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, obs := range h.observers {
		delete(h.observers, id)
		close(obs.ch)
	}
}
