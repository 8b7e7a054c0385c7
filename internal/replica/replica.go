// Package replica is the editor side of the protocol: it applies local
// edits at once, sends them one at a time, and folds in remote edits
// broadcast by the server.
package replica

import (
	"errors"
	"fmt"
	"sync"

	"github.com/serroba/textsync/internal/ot"
)

// ErrUnexpectedAck is returned when an ack does not match the edit in
// flight.
var ErrUnexpectedAck = errors.New("ack does not match the edit in flight")

// held is a server message that arrived before its predecessor.
type held struct {
	rec   ot.EditRecord
	ack   bool
	clock uint64
}

// Replica is one editor's copy of a shared document.
//
// Local edits move through three stages: unsent (in the outbox, merged
// with Compose where possible), in flight (sent, awaiting its ack), and
// acknowledged. At most one edit is in flight.
type Replica struct {
	mu sync.Mutex

	authorID string
	content  string
	revision uint64 // Last server revision folded into content
	clock    uint64 // Last logical clock stamped on a local edit

	inflight *ot.EditRecord
	outbox   []ot.EditRecord
	early    map[uint64]held
}

// New returns a replica for authorID starting from a server state.
func New(authorID, content string, revision uint64) *Replica {
	return &Replica{
		authorID: authorID,
		content:  content,
		revision: revision,
		early:    make(map[uint64]held),
	}
}

// LocalEdit applies op to the local copy and queues it for sending.
// Edits that change nothing are not queued.
func (r *Replica) LocalEdit(op ot.Operation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	content, err := ot.Apply(r.content, op)
	if err != nil {
		return err
	}

	r.content = content

	if op.IsNoop() {
		return nil
	}

	r.clock++

	if n := len(r.outbox); n > 0 {
		if merged, err := ot.Compose(r.outbox[n-1].Op, op); err == nil {
			if merged.IsNoop() {
				r.outbox = r.outbox[:n-1]
			} else {
				r.outbox[n-1] = ot.NewEditRecord(merged, r.authorID, 0, r.clock)
			}

			return nil
		}
	}

	r.outbox = append(r.outbox, ot.NewEditRecord(op, r.authorID, 0, r.clock))

	return nil
}

// Flush returns the next record to send, stamped with the current base
// revision. It returns false while an edit is in flight or nothing is
// queued.
func (r *Replica) Flush() (ot.EditRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inflight != nil || len(r.outbox) == 0 {
		return ot.EditRecord{}, false
	}

	rec := r.outbox[0]
	rec.BaseVersion = r.revision

	r.outbox = r.outbox[1:]
	r.inflight = &rec

	return rec, true
}

// Receive folds in a remote edit sequenced at revision. Duplicates are
// ignored and edits that skip ahead are held until the gap is filled.
// An ot.ErrInvalidOperation means the copies diverged and the caller
// must Resync.
func (r *Replica) Receive(revision uint64, rec ot.EditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case revision <= r.revision:
		return nil
	case revision > r.revision+1:
		r.early[revision] = held{rec: rec}

		return nil
	}

	if err := r.integrate(revision, rec); err != nil {
		return err
	}

	return r.drain()
}

// Ack marks the in-flight edit as sequenced at revision. Acks at or
// below the current revision are stale and ignored.
func (r *Replica) Ack(revision, clock uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case revision <= r.revision:
		return nil
	case revision > r.revision+1:
		r.early[revision] = held{ack: true, clock: clock}

		return nil
	}

	if err := r.acknowledge(revision, clock); err != nil {
		return err
	}

	return r.drain()
}

// Resync replaces local state with a server state. Unsent and in-flight
// edits are discarded.
func (r *Replica) Resync(content string, revision uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.content = content
	r.revision = revision
	r.inflight = nil
	r.outbox = nil

	for rev := range r.early {
		if rev <= revision {
			delete(r.early, rev)
		}
	}

	return r.drain()
}

// integrate transforms the remote op past every local edit the server has
// not seen, then applies it. State changes only on success.
func (r *Replica) integrate(revision uint64, rec ot.EditRecord) error {
	remote := rec

	var inflight *ot.EditRecord

	if r.inflight != nil {
		mine, theirs, err := ot.TransformRecords(*r.inflight, remote)
		if err != nil {
			return fmt.Errorf("revision %d against in-flight edit: %w", revision, err)
		}

		moved := r.inflight.WithOp(mine)
		inflight = &moved
		remote = remote.WithOp(theirs)
	}

	outbox := make([]ot.EditRecord, len(r.outbox))

	for i, local := range r.outbox {
		mine, theirs, err := ot.TransformRecords(local, remote)
		if err != nil {
			return fmt.Errorf("revision %d against unsent edit: %w", revision, err)
		}

		outbox[i] = local.WithOp(mine)
		remote = remote.WithOp(theirs)
	}

	content, err := ot.Apply(r.content, remote.Op)
	if err != nil {
		return fmt.Errorf("apply revision %d: %w", revision, err)
	}

	r.content = content
	r.revision = revision
	r.inflight = inflight
	r.outbox = outbox

	return nil
}

func (r *Replica) acknowledge(revision, clock uint64) error {
	if r.inflight == nil {
		return fmt.Errorf("%w: revision %d, nothing in flight", ErrUnexpectedAck, revision)
	}

	if r.inflight.LogicalClock != clock {
		return fmt.Errorf("%w: clock %d, in flight %d", ErrUnexpectedAck, clock, r.inflight.LogicalClock)
	}

	r.inflight = nil
	r.revision = revision

	return nil
}

// drain processes held messages that are now next in line.
func (r *Replica) drain() error {
	for {
		next, ok := r.early[r.revision+1]
		if !ok {
			return nil
		}

		delete(r.early, r.revision+1)

		var err error
		if next.ack {
			err = r.acknowledge(r.revision+1, next.clock)
		} else {
			err = r.integrate(r.revision+1, next.rec)
		}

		if err != nil {
			return err
		}
	}
}

// Content returns the local copy of the document.
func (r *Replica) Content() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.content
}

// Revision returns the last server revision folded into the local copy.
func (r *Replica) Revision() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.revision
}

// InFlight returns the edit awaiting its ack, if any.
func (r *Replica) InFlight() (ot.EditRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inflight == nil {
		return ot.EditRecord{}, false
	}

	return *r.inflight, true
}

// Unsent returns the number of queued local edits not yet sent.
func (r *Replica) Unsent() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.outbox)
}

// Held returns the number of server messages waiting for a predecessor.
func (r *Replica) Held() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.early)
}

// Synced reports whether every local edit has been acknowledged.
func (r *Replica) Synced() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.inflight == nil && len(r.outbox) == 0
}
