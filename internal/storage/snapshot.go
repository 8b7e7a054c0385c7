package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/serroba/textsync/internal/ot"
)

// SnapshotPolicy determines when to create snapshots.
type SnapshotPolicy struct {
	mu               sync.Mutex
	threshold        int            // Create snapshot every N records
	opsSinceSnapshot map[string]int // Records per document since last snapshot
}

// NewSnapshotPolicy creates a policy that triggers snapshots every N records.
func NewSnapshotPolicy(threshold int) *SnapshotPolicy {
	return &SnapshotPolicy{
		threshold:        threshold,
		opsSinceSnapshot: make(map[string]int),
	}
}

// RecordOperation records that an edit was applied.
// Returns true if a snapshot should be created.
func (p *SnapshotPolicy) RecordOperation(docID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.opsSinceSnapshot[docID]++

	return p.opsSinceSnapshot[docID] >= p.threshold
}

// Reset resets the counter after a snapshot is created.
func (p *SnapshotPolicy) Reset(docID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.opsSinceSnapshot[docID] = 0
}

// Forget drops the counter of a closed document.
func (p *SnapshotPolicy) Forget(docID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.opsSinceSnapshot, docID)
}

// OperationsSinceSnapshot returns the number of edits since the last snapshot.
func (p *SnapshotPolicy) OperationsSinceSnapshot(docID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.opsSinceSnapshot[docID]
}

// DocumentLoader reconstructs document state from a snapshot plus the
// records sequenced after it.
type DocumentLoader struct {
	store Store
}

// NewDocumentLoader creates a new document loader.
func NewDocumentLoader(store Store) *DocumentLoader {
	return &DocumentLoader{store: store}
}

// LoadResult contains the result of loading a document.
type LoadResult struct {
	Content  string               // Reconstructed document content
	Revision uint64               // Current revision
	Records  []ot.SequencedRecord // Records replayed on top of the snapshot
	IsNew    bool                 // True if nothing was stored yet
}

// Load loads the latest snapshot and replays the records since through
// ot.Apply.
func (l *DocumentLoader) Load(ctx context.Context, docID string) (LoadResult, error) {
	snapshot, err := l.store.LoadSnapshot(ctx, docID)

	var (
		content       string
		startRevision uint64
	)

	switch {
	case errors.Is(err, ErrSnapshotNotFound):
		// No snapshot, start from empty
	case err != nil:
		return LoadResult{}, err
	default:
		content = snapshot.Content
		startRevision = snapshot.Revision
	}

	records, err := l.store.LoadRecords(ctx, docID, startRevision)
	if err != nil {
		return LoadResult{}, err
	}

	currentRevision := startRevision

	for _, rec := range records {
		content, err = ot.Apply(content, rec.Op)
		if err != nil {
			return LoadResult{}, fmt.Errorf("replay revision %d: %w", rec.Revision, err)
		}

		currentRevision = rec.Revision
	}

	return LoadResult{
		Content:  content,
		Revision: currentRevision,
		Records:  records,
		IsNew:    startRevision == 0 && len(records) == 0,
	}, nil
}
