// Package session keeps the in-memory mapping from a call identifier to the
// agent session identifier used for that call.
//
// Entries never outlive the process. Callers must Clear the registry at
// startup so that nothing from a previous process lifetime is mistaken for a
// live call. Operations are key-disjoint across calls; no ordering is
// promised between operations on different keys.
package session

import (
	"sync"

	"github.com/ClareAI/astra-sip-bridge/pkg/logger"
	"go.uber.org/zap"
)

// Registry maps callId to sessionId.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]string)}
}

// Create stores sessionID under callID, overwriting any existing entry.
func (r *Registry) Create(callID, sessionID string) {
	r.mu.Lock()
	r.sessions[callID] = sessionID
	r.mu.Unlock()
}

// Get returns the session for callID and whether it exists.
func (r *Registry) Get(callID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessionID, ok := r.sessions[callID]
	return sessionID, ok
}

// GetOrCreate returns the existing session for callID, or stores and returns
// the one produced by newID.
func (r *Registry) GetOrCreate(callID string, newID func(callID string) string) (sessionID string, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[callID]; ok {
		return existing, false
	}
	sessionID = newID(callID)
	r.sessions[callID] = sessionID
	return sessionID, true
}

// Remove deletes the entry for callID. Removing an unknown callID is a no-op.
func (r *Registry) Remove(callID string) {
	r.mu.Lock()
	delete(r.sessions, callID)
	r.mu.Unlock()
}

// Clear drops every entry.
func (r *Registry) Clear() {
	r.mu.Lock()
	n := len(r.sessions)
	r.sessions = make(map[string]string)
	r.mu.Unlock()
	if n > 0 {
		logger.Base().Info("reaped stale sessions", zap.Int("count", n))
	}
}

// Size returns the number of live entries.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SameAsCallID is the session-id policy used by the webhook server: the call
// identifier doubles as the session identifier for log correlation.
func SameAsCallID(callID string) string {
	return callID
}
