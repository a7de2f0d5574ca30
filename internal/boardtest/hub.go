package boardtest

import "sync"

const subscriberBuffer = 64

type subscriber struct {
	workspaceID string
	brandID     string
	send        chan []byte
	done        chan struct{}
}

// hub fans event frames out to the WebSocket connections of a workspace. A
// subscriber whose buffer is full misses the frame rather than stalling the
// publisher.
type hub struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
}

func newHub() *hub {
	return &hub{subscribers: map[*subscriber]struct{}{}}
}

func (h *hub) register(workspaceID, brandID string) *subscriber {
	sub := &subscriber{
		workspaceID: workspaceID,
		brandID:     brandID,
		send:        make(chan []byte, subscriberBuffer),
		done:        make(chan struct{}),
	}
	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *hub) unregister(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		close(sub.done)
	}
}

func (h *hub) broadcast(workspaceID, brandID string, msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers {
		if sub.workspaceID != workspaceID {
			continue
		}
		if sub.brandID != "" && brandID != "" && sub.brandID != brandID {
			continue
		}
		select {
		case sub.send <- msg:
		default:
		}
	}
}

func (h *hub) count(workspaceID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for sub := range h.subscribers {
		if sub.workspaceID == workspaceID {
			n++
		}
	}
	return n
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers {
		delete(h.subscribers, sub)
		close(sub.done)
	}
}
