package storage

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/serroba/textsync/internal/ot"
)

// documentData holds all persisted data for a single document.
type documentData struct {
	snapshot *Snapshot
	records  []ot.SequencedRecord
}

// MemoryStore is an in-memory implementation of the Store interface.
// Useful for testing and development.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*documentData
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]*documentData),
	}
}

// CreateDocument creates a new document with the given ID.
func (m *MemoryStore) CreateDocument(_ context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.docs[docID]; exists {
		return ErrDocumentExists
	}

	m.docs[docID] = &documentData{}

	return nil
}

// DocumentExists checks if a document exists.
func (m *MemoryStore) DocumentExists(_ context.Context, docID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.docs[docID]

	return exists, nil
}

// DeleteDocument removes a document and everything stored for it.
func (m *MemoryStore) DeleteDocument(_ context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.docs[docID]; !exists {
		return ErrDocumentNotFound
	}

	delete(m.docs, docID)

	return nil
}

// SaveSnapshot persists a snapshot of the document at the given revision.
func (m *MemoryStore) SaveSnapshot(_ context.Context, docID string, revision uint64, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, exists := m.docs[docID]
	if !exists {
		return ErrDocumentNotFound
	}

	doc.snapshot = &Snapshot{
		DocID:     docID,
		Revision:  revision,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}

	// Records covered by the snapshot are no longer needed for replay
	doc.records = slices.DeleteFunc(doc.records, func(rec ot.SequencedRecord) bool {
		return rec.Revision <= revision
	})

	return nil
}

// LoadSnapshot retrieves the latest snapshot for a document.
func (m *MemoryStore) LoadSnapshot(_ context.Context, docID string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, exists := m.docs[docID]
	if !exists {
		return Snapshot{}, ErrDocumentNotFound
	}

	if doc.snapshot == nil {
		return Snapshot{}, ErrSnapshotNotFound
	}

	return *doc.snapshot, nil
}

// AppendRecord adds a record to the document's log.
func (m *MemoryStore) AppendRecord(_ context.Context, docID string, rec ot.SequencedRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, exists := m.docs[docID]
	if !exists {
		return ErrDocumentNotFound
	}

	doc.records = append(doc.records, rec)

	return nil
}

// LoadRecords retrieves all records after the given revision.
func (m *MemoryStore) LoadRecords(_ context.Context, docID string, sinceRevision uint64) ([]ot.SequencedRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, exists := m.docs[docID]
	if !exists {
		return nil, ErrDocumentNotFound
	}

	var result []ot.SequencedRecord

	for _, rec := range doc.records {
		if rec.Revision > sinceRevision {
			result = append(result, rec)
		}
	}

	return result, nil
}

// LatestRevision returns the highest revision number for a document.
func (m *MemoryStore) LatestRevision(_ context.Context, docID string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, exists := m.docs[docID]
	if !exists {
		return 0, ErrDocumentNotFound
	}

	// Records are newer than the snapshot
	if len(doc.records) > 0 {
		return doc.records[len(doc.records)-1].Revision, nil
	}

	if doc.snapshot != nil {
		return doc.snapshot.Revision, nil
	}

	return 0, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
