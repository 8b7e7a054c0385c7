// Package storage persists document snapshots and sequenced edit records.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/serroba/textsync/internal/ot"
)

// Common errors.
var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrDocumentExists   = errors.New("document already exists")
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// Snapshot represents a point-in-time capture of a document's state.
type Snapshot struct {
	DocID     string
	Revision  uint64
	Content   string
	CreatedAt time.Time
}

// Store defines the interface for persisting document state.
// Implementations can use in-memory storage, databases, or other backends.
type Store interface {
	// CreateDocument creates a new document with the given ID.
	// Returns ErrDocumentExists if the document already exists.
	CreateDocument(ctx context.Context, docID string) error

	// DocumentExists checks if a document exists.
	DocumentExists(ctx context.Context, docID string) (bool, error)

	// DeleteDocument removes a document with its snapshot and records.
	// Returns ErrDocumentNotFound if the document doesn't exist.
	DeleteDocument(ctx context.Context, docID string) error

	// SaveSnapshot persists a snapshot of the document at the given revision
	// and drops the records it covers.
	// Returns ErrDocumentNotFound if the document doesn't exist.
	SaveSnapshot(ctx context.Context, docID string, revision uint64, content string) error

	// LoadSnapshot retrieves the latest snapshot for a document.
	// Returns ErrDocumentNotFound if the document doesn't exist.
	// Returns ErrSnapshotNotFound if document exists but has no snapshot.
	LoadSnapshot(ctx context.Context, docID string) (Snapshot, error)

	// AppendRecord adds a sequenced record to the document's log.
	// Returns ErrDocumentNotFound if the document doesn't exist.
	AppendRecord(ctx context.Context, docID string, rec ot.SequencedRecord) error

	// LoadRecords retrieves all records after the given revision, in order.
	// Returns ErrDocumentNotFound if the document doesn't exist.
	LoadRecords(ctx context.Context, docID string, sinceRevision uint64) ([]ot.SequencedRecord, error)

	// LatestRevision returns the highest revision number for a document.
	// Returns ErrDocumentNotFound if the document doesn't exist.
	LatestRevision(ctx context.Context, docID string) (uint64, error)

	// Close releases the backend's resources.
	Close() error
}
