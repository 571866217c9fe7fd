// Package session holds ephemeral per-conversation workflow state.
//
// Nothing here is authoritative. The workflow controller re-derives the
// state from durable storage at the start of every turn, so losing a
// session only costs the caller its phase and pin.
package session

import (
	"context"
	"sync"

	"github.com/HendryAvila/specgate/internal/governance"
)

// State is one session's workflow position.
type State struct {
	SessionID     string               `json:"session_id"`
	ProjectID     string               `json:"project_id"`
	Phase         string               `json:"phase"`
	PinnedVersion governance.VersionID `json:"pinned_version,omitempty"`
	Turn          int                  `json:"turn"`
	CreatedAt     string               `json:"created_at"`
	UpdatedAt     string               `json:"updated_at"`
}

// Store defines the persistence interface for session state.
// Get returns a NotFound governance error for unknown sessions.
type Store interface {
	Get(ctx context.Context, sessionID string) (*State, error)
	Put(ctx context.Context, st *State) error
	Delete(ctx context.Context, sessionID string) error
}

func notFound(op, id string) error {
	return governance.E(governance.NotFound, op, "session %q not found", id)
}

// ─── In-memory store ────────────────────────────────────────────────────────

// MemoryStore implements Store in process memory. It is the fallback when
// no Redis is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]State
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]State)}
}

// Get returns a copy of the stored state.
func (m *MemoryStore) Get(_ context.Context, sessionID string) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.sessions[sessionID]
	if !ok {
		return nil, notFound("session.get", sessionID)
	}
	return &st, nil
}

// Put stores a copy of st.
func (m *MemoryStore) Put(_ context.Context, st *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[st.SessionID] = *st
	return nil
}

// Delete removes a session. Deleting an unknown session is not an error.
func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}
