package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/serroba/textsync/internal/storage"
	"github.com/serroba/textsync/internal/ws"
)

// Manager manages multiple document sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	// Shared dependencies
	store          storage.Store
	hub            *ws.Hub
	snapshotPolicy *storage.SnapshotPolicy
	historySize    int
	pendingLimit   int
}

// ManagerConfig holds configuration for creating a manager.
type ManagerConfig struct {
	Store          storage.Store
	Hub            *ws.Hub
	SnapshotPolicy *storage.SnapshotPolicy
	HistorySize    int
	PendingLimit   int
}

// NewManager creates a new session manager.
func NewManager(cfg ManagerConfig) *Manager {
	historySize := cfg.HistorySize
	if historySize == 0 {
		historySize = defaultHistorySize
	}

	return &Manager{
		sessions:       make(map[string]*Session),
		store:          cfg.Store,
		hub:            cfg.Hub,
		snapshotPolicy: cfg.SnapshotPolicy,
		historySize:    historySize,
		pendingLimit:   cfg.PendingLimit,
	}
}

// Store returns the backing store.
func (m *Manager) Store() storage.Store {
	return m.store
}

// GetOrCreateSession returns an existing session or loads a new one from
// storage. The document must already exist in the store.
func (m *Manager) GetOrCreateSession(ctx context.Context, docID string) (*Session, error) {
	m.mu.RLock()
	session, exists := m.sessions[docID]
	m.mu.RUnlock()

	if exists {
		return session, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if session, exists = m.sessions[docID]; exists {
		return session, nil
	}

	session = NewSession(SessionConfig{
		DocID:          docID,
		Store:          m.store,
		Hub:            m.hub,
		SnapshotPolicy: m.snapshotPolicy,
		HistorySize:    m.historySize,
		PendingLimit:   m.pendingLimit,
	})

	if err := session.Load(ctx); err != nil {
		return nil, err
	}

	m.sessions[docID] = session

	return session, nil
}

// GetSession returns an existing session or nil if not found.
func (m *Manager) GetSession(docID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.sessions[docID]
}

// CreateDocument registers a new, empty document in the store.
func (m *Manager) CreateDocument(ctx context.Context, docID string) error {
	return m.store.CreateDocument(ctx, docID)
}

// DeleteDocument closes any open session for the document and removes it
// from the store.
func (m *Manager) DeleteDocument(ctx context.Context, docID string) error {
	if err := m.CloseSession(ctx, docID); err != nil && !errors.Is(err, storage.ErrDocumentNotFound) {
		return fmt.Errorf("close session %s: %w", docID, err)
	}

	return m.store.DeleteDocument(ctx, docID)
}

// CloseSession closes and removes a session.
func (m *Manager) CloseSession(ctx context.Context, docID string) error {
	m.mu.Lock()
	session, exists := m.sessions[docID]

	if !exists {
		m.mu.Unlock()

		return nil
	}

	delete(m.sessions, docID)
	m.mu.Unlock()

	return session.Close(ctx)
}

// CloseAll closes all sessions and returns the errors joined.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))

	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}

	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var errs []error

	for _, s := range sessions {
		if err := s.Close(ctx); err != nil {
			log.Error().Err(err).Str("doc_id", s.DocID()).Msg("close session failed")

			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// SessionCount returns the number of active sessions.
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.sessions)
}
