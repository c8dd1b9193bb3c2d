package engine

import (
	"sync"
	"time"
)

// ProgressEvent is one status update pushed to run subscribers while a plan
// is being computed.
type ProgressEvent struct {
	RunID        string    `json:"run_id"`
	Status       string    `json:"status"`
	RolloutsDone int       `json:"rollouts_done"`
	Rollouts     int       `json:"rollouts"`
	At           time.Time `json:"at"`
}

// ProgressHub fans run progress out to any number of subscribers. Publishing
// never blocks; a subscriber that stops draining loses events, not the run.
type ProgressHub struct {
	mu   sync.Mutex
	subs map[string]map[int]chan ProgressEvent
	next int
}

func NewProgressHub() *ProgressHub {
	return &ProgressHub{subs: map[string]map[int]chan ProgressEvent{}}
}

// Subscribe returns a buffered event channel for runID and a cancel func that
// removes and closes it.
func (h *ProgressHub) Subscribe(runID string, buf int) (<-chan ProgressEvent, func()) {
	if buf <= 0 {
		buf = 16
	}
	ch := make(chan ProgressEvent, buf)
	h.mu.Lock()
	id := h.next
	h.next++
	if h.subs[runID] == nil {
		h.subs[runID] = map[int]chan ProgressEvent{}
	}
	h.subs[runID][id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if m := h.subs[runID]; m != nil {
			if c, ok := m[id]; ok {
				delete(m, id)
				close(c)
			}
			if len(m) == 0 {
				delete(h.subs, runID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

func (h *ProgressHub) Publish(ev ProgressEvent) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[ev.RunID] {
		select {
		case ch <- ev:
		default:
		}
	}
}
