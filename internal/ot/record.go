package ot

import "time"

// EditRecord is an Operation plus the causal metadata needed to order it
// against concurrent edits. Records are values: transforming one produces
// a new record and leaves the original untouched.
type EditRecord struct {
	Op           Operation `json:"op"`
	AuthorID     string    `json:"authorId"`
	BaseVersion  uint64    `json:"baseVersion"`  // Document version Op was computed against
	LogicalClock uint64    `json:"logicalClock"` // Per-author counter, tie-breaking only
	Timestamp    time.Time `json:"timestamp"`    // Diagnostics only
}

// NewEditRecord stamps op with its author metadata and the current time.
func NewEditRecord(op Operation, authorID string, baseVersion, clock uint64) EditRecord {
	return EditRecord{
		Op:           op,
		AuthorID:     authorID,
		BaseVersion:  baseVersion,
		LogicalClock: clock,
		Timestamp:    time.Now().UTC(),
	}
}

// WithOp returns a copy of the record carrying op.
func (r EditRecord) WithOp(op Operation) EditRecord {
	r.Op = op

	return r
}

// Precedes reports whether r orders before other by (AuthorID, LogicalClock).
// The ordering is total and independent of payload content.
func (r EditRecord) Precedes(other EditRecord) bool {
	if r.AuthorID != other.AuthorID {
		return r.AuthorID < other.AuthorID
	}

	return r.LogicalClock < other.LogicalClock
}

// SequencedRecord is an edit record with its server-assigned revision.
type SequencedRecord struct {
	EditRecord
	Revision uint64 `json:"revision"`
}
