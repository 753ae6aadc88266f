// Package hub tracks the calls currently being relayed.
package hub

import (
	"sort"
	"sync"
	"time"

	"github.com/xiaot623/gogo/callrelay/internal/domain"
)

// LiveSession is a read-only view of one relayed call.
type LiveSession struct {
	SessionID string            `json:"session_id"`
	CallSID   string            `json:"call_sid,omitempty"`
	StreamSID string            `json:"stream_sid,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	State     domain.RelayState `json:"state"`
}

type entry struct {
	view   LiveSession
	cancel func()
}

// Hub manages all live sessions. Engines push updates; readers get copies.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	// Call SID to session ID
	calls map[string]string
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		sessions: make(map[string]*entry),
		calls:    make(map[string]string),
	}
}

// Register adds a session. cancel is invoked by Hangup.
func (h *Hub) Register(sessionID string, startedAt time.Time, cancel func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[sessionID] = &entry{
		view: LiveSession{
			SessionID: sessionID,
			StartedAt: startedAt,
			State:     domain.RelayStateIdle,
		},
		cancel: cancel,
	}
}

// BindStream records the stream and call identifiers of a session.
func (h *Hub) BindStream(sessionID, streamSID, callSID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	if e.view.CallSID != "" {
		delete(h.calls, e.view.CallSID)
	}
	e.view.StreamSID = streamSID
	e.view.CallSID = callSID
	if callSID != "" {
		h.calls[callSID] = sessionID
	}
}

// SetState records the playback state of a session.
func (h *Hub) SetState(sessionID string, state domain.RelayState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.sessions[sessionID]; ok {
		e.view.State = state
	}
}

// Unregister removes a session.
func (h *Hub) Unregister(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	if e.view.CallSID != "" && h.calls[e.view.CallSID] == sessionID {
		delete(h.calls, e.view.CallSID)
	}
	delete(h.sessions, sessionID)
}

// Get returns a session by session ID or call SID.
func (h *Hub) Get(id string) (LiveSession, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if sid, ok := h.calls[id]; ok {
		id = sid
	}
	e, ok := h.sessions[id]
	if !ok {
		return LiveSession{}, false
	}
	return e.view, true
}

// Hangup cancels a live session by session ID or call SID.
func (h *Hub) Hangup(id string) bool {
	h.mu.RLock()
	if sid, ok := h.calls[id]; ok {
		id = sid
	}
	e, ok := h.sessions[id]
	h.mu.RUnlock()
	if !ok || e.cancel == nil {
		return false
	}
	e.cancel()
	return true
}

// Count returns the number of live sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Snapshot returns all live sessions, oldest first.
func (h *Hub) Snapshot() []LiveSession {
	h.mu.RLock()
	out := make([]LiveSession, 0, len(h.sessions))
	for _, e := range h.sessions {
		out = append(out, e.view)
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}
