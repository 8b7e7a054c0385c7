package ot

import (
	"errors"
	"slices"
)

// ErrBufferFull is returned when a Buffer already holds its limit of records.
var ErrBufferFull = errors.New("causal buffer full")

// Buffer holds records whose causal prerequisites have not been
// incorporated yet and releases them, in arrival order, once a
// VersionVector reports them ready. Not safe for concurrent use.
type Buffer struct {
	limit int
	held  []EditRecord
}

// NewBuffer creates a buffer holding at most limit records.
func NewBuffer(limit int) *Buffer {
	return &Buffer{limit: limit}
}

// Hold parks a record until it becomes ready.
func (b *Buffer) Hold(rec EditRecord) error {
	if len(b.held) >= b.limit {
		return ErrBufferFull
	}

	b.held = append(b.held, rec)

	return nil
}

// Next removes and returns the earliest held record that vv reports ready.
// Callers apply it, update vv, and call Next again until it returns false.
func (b *Buffer) Next(vv *VersionVector) (EditRecord, bool) {
	i := slices.IndexFunc(b.held, vv.IsCausallyReady)
	if i < 0 {
		return EditRecord{}, false
	}

	rec := b.held[i]
	b.held = slices.Delete(b.held, i, i+1)

	return rec, true
}

// Len returns the number of held records.
func (b *Buffer) Len() int {
	return len(b.held)
}

// Records returns a copy of the held records.
func (b *Buffer) Records() []EditRecord {
	return slices.Clone(b.held)
}
