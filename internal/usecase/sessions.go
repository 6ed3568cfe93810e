package usecase

import (
	"fmt"
	"sync"

	"github.com/fairyhunter13/ask-relay/internal/adapter/observability"
	"github.com/fairyhunter13/ask-relay/internal/domain"
)

// SessionRegistry correlates human-channel message ids with the live session
// that asked. A single mutex guards both indexes.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]map[string]struct{} // session id -> owned message ids
	owners   map[string]string              // message id -> session id
}

// NewSessionRegistry returns an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]map[string]struct{}),
		owners:   make(map[string]string),
	}
}

// Connect marks sessionID live. Reconnecting an existing session keeps its entries.
func (r *SessionRegistry) Connect(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; !ok {
		r.sessions[sessionID] = make(map[string]struct{})
	}
}

// Disconnect drops sessionID and every correlation it owns.
func (r *SessionRegistry) Disconnect(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owned, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	for id := range owned {
		delete(r.owners, id)
	}
	delete(r.sessions, sessionID)
	observability.PendingEscalations.Set(float64(len(r.owners)))
}

// Register correlates messageID with sessionID. It fails with
// domain.ErrSessionGone when the session is not connected.
func (r *SessionRegistry) Register(messageID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	owned, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("op=sessions.Register: %w", domain.ErrSessionGone)
	}
	if prev, ok := r.owners[messageID]; ok && prev != sessionID {
		delete(r.sessions[prev], messageID)
	}
	r.owners[messageID] = sessionID
	owned[messageID] = struct{}{}
	observability.PendingEscalations.Set(float64(len(r.owners)))
	return nil
}

// Lookup returns the session owning messageID.
func (r *SessionRegistry) Lookup(messageID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.owners[messageID]
	return s, ok
}

// Connected reports whether sessionID is live.
func (r *SessionRegistry) Connected(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[sessionID]
	return ok
}

// Owned returns the message ids sessionID owns, in no particular order.
func (r *SessionRegistry) Owned(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	owned := r.sessions[sessionID]
	out := make([]string, 0, len(owned))
	for id := range owned {
		out = append(out, id)
	}
	return out
}

// Len returns the number of correlation entries.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.owners)
}

// Close drops every session and entry.
func (r *SessionRegistry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = make(map[string]map[string]struct{})
	r.owners = make(map[string]string)
	observability.PendingEscalations.Set(0)
}
