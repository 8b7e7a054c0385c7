package ot

import (
	"errors"
	"fmt"
	"sync"
)

// Queue errors.
var (
	// ErrRevisionTooOld is returned when the record's base revision is too far behind.
	ErrRevisionTooOld = errors.New("base revision too old, history unavailable")
	// ErrFutureRevision is returned when the record claims a revision not yet issued.
	ErrFutureRevision = errors.New("base revision is in the future")
)

// Queue manages the sequencing and transformation of concurrent edit records.
// It maintains a history of recent records to transform incoming records
// that are based on older revisions.
type Queue struct {
	mu          sync.RWMutex
	revision    uint64            // Current document revision
	history     []SequencedRecord // Recent records for transformation
	historySize int               // Maximum history size to keep
}

// NewQueue creates a new record queue.
// historySize determines how many past records to retain for transformation.
func NewQueue(historySize int) *Queue {
	return &Queue{
		history:     make([]SequencedRecord, 0, historySize),
		historySize: historySize,
	}
}

// Revision returns the current document revision.
func (q *Queue) Revision() uint64 {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.revision
}

// HistorySize returns the maximum number of retained records.
func (q *Queue) HistorySize() int {
	return q.historySize
}

// Restore resets the queue to revision with the given trailing history,
// as reconstructed from storage.
func (q *Queue) Restore(revision uint64, history []SequencedRecord) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.revision = revision
	q.history = q.history[:0]

	for _, rec := range history {
		q.addToHistory(rec)
	}
}

// Apply takes a record, transforms its operation against every record
// sequenced since its base revision, and returns the transformed record
// with its new revision. The input record is not modified.
func (q *Queue) Apply(rec EditRecord) (SequencedRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := rec.Op.Validate(); err != nil {
		return SequencedRecord{}, err
	}

	base := rec.BaseVersion

	if base > q.revision {
		return SequencedRecord{}, fmt.Errorf("%w: base %d, current %d", ErrFutureRevision, base, q.revision)
	}

	// Every record after base must still be in history
	if base < q.revision {
		if len(q.history) == 0 || base < q.history[0].Revision-1 {
			return SequencedRecord{}, ErrRevisionTooOld
		}
	}

	transformed := rec

	for _, hist := range q.history {
		if hist.Revision <= base {
			continue
		}

		op, _, err := TransformRecords(transformed, hist.EditRecord)
		if err != nil {
			return SequencedRecord{}, fmt.Errorf("transform against revision %d: %w", hist.Revision, err)
		}

		transformed = transformed.WithOp(op)
	}

	q.revision++

	result := SequencedRecord{
		EditRecord: transformed,
		Revision:   q.revision,
	}

	q.addToHistory(result)

	return result, nil
}

// Rollback undoes the most recent Apply when its result could not be
// applied to the document.
func (q *Queue) Rollback(revision uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if revision != q.revision || len(q.history) == 0 {
		return
	}

	q.history = q.history[:len(q.history)-1]
	q.revision--
}

// addToHistory adds a record to history, pruning old entries if needed.
func (q *Queue) addToHistory(rec SequencedRecord) {
	q.history = append(q.history, rec)

	if len(q.history) > q.historySize {
		q.history = q.history[1:]
	}
}

// History returns a copy of the records sequenced after sinceRevision.
func (q *Queue) History(sinceRevision uint64) []SequencedRecord {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var result []SequencedRecord

	for _, rec := range q.history {
		if rec.Revision > sinceRevision {
			result = append(result, rec)
		}
	}

	return result
}
