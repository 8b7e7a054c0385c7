// Package collab coordinates concurrent editing of documents: sequencing
// edits, persisting them, and fanning them out to subscribed clients.
package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/serroba/textsync/internal/ot"
	"github.com/serroba/textsync/internal/storage"
	"github.com/serroba/textsync/internal/ws"
)

// Common errors.
var (
	ErrSessionClosed = errors.New("session is closed")
	// ErrDeferred is returned when an edit's base revision has not been
	// delivered to its author yet. The edit is held and applied, then
	// acknowledged, once it becomes causally ready.
	ErrDeferred = errors.New("edit deferred until causally ready")
)

const (
	defaultHistorySize  = 100
	defaultPendingLimit = 64
)

// recordKey identifies a held record by its author-scoped clock.
type recordKey struct {
	author string
	clock  uint64
}

// Session coordinates collaborative editing for a single document.
// It wires together OT, storage, and WebSocket broadcasting.
type Session struct {
	docID string

	mu       sync.Mutex
	document *ot.Document
	queue    *ot.Queue
	closed   bool

	// delivered holds, per author, the highest revision that author has
	// been sent: by a state sync, an ack, or a broadcast.
	delivered *ot.VersionVector
	pending   *ot.Buffer
	owners    map[recordKey]string // held record -> submitting client

	// Dependencies
	store          storage.Store
	hub            *ws.Hub
	snapshotPolicy *storage.SnapshotPolicy
}

// SessionConfig holds configuration for creating a session.
type SessionConfig struct {
	DocID          string
	Store          storage.Store
	Hub            *ws.Hub
	SnapshotPolicy *storage.SnapshotPolicy
	HistorySize    int
	PendingLimit   int
}

// NewSession creates a new collaborative editing session.
func NewSession(cfg SessionConfig) *Session {
	historySize := cfg.HistorySize
	if historySize == 0 {
		historySize = defaultHistorySize
	}

	pendingLimit := cfg.PendingLimit
	if pendingLimit == 0 {
		pendingLimit = defaultPendingLimit
	}

	return &Session{
		docID:          cfg.DocID,
		document:       ot.NewDocument(""),
		queue:          ot.NewQueue(historySize),
		delivered:      ot.NewVersionVector(),
		pending:        ot.NewBuffer(pendingLimit),
		owners:         make(map[recordKey]string),
		store:          cfg.Store,
		hub:            cfg.Hub,
		snapshotPolicy: cfg.SnapshotPolicy,
	}
}

// Load initializes the session from the stored snapshot plus the records
// sequenced after it.
func (s *Session) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}

	result, err := storage.NewDocumentLoader(s.store).Load(ctx, s.docID)
	if err != nil {
		return fmt.Errorf("load document %s: %w", s.docID, err)
	}

	history := result.Records
	if size := s.queue.HistorySize(); len(history) > size {
		history = history[len(history)-size:]
	}

	s.document = ot.NewDocument(result.Content)
	s.queue.Restore(result.Revision, history)

	return nil
}

// ApplyEdit processes an edit record submitted by a client. Ready records
// are sequenced, applied, persisted, acknowledged to the client, and
// broadcast to the document's other subscribers. A record whose base
// revision was never delivered to its author is held and ErrDeferred is
// returned.
func (s *Session) ApplyEdit(ctx context.Context, clientID string, rec ot.EditRecord) (ot.SequencedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ot.SequencedRecord{}, ErrSessionClosed
	}

	if err := rec.Op.Validate(); err != nil {
		return ot.SequencedRecord{}, err
	}

	if !s.delivered.IsCausallyReady(rec) {
		return ot.SequencedRecord{}, s.hold(clientID, rec)
	}

	seq, err := s.commit(ctx, clientID, rec)
	if err != nil {
		return ot.SequencedRecord{}, err
	}

	s.drainPending(ctx)

	return seq, nil
}

// hold parks a record that is not causally ready.
func (s *Session) hold(clientID string, rec ot.EditRecord) error {
	if err := s.pending.Hold(rec); err != nil {
		return fmt.Errorf("hold edit from %s: %w", rec.AuthorID, err)
	}

	s.owners[recordKey{rec.AuthorID, rec.LogicalClock}] = clientID

	log.Debug().
		Str("doc_id", s.docID).
		Str("author_id", rec.AuthorID).
		Uint64("base_version", rec.BaseVersion).
		Uint64("delivered", s.delivered.Get(rec.AuthorID)).
		Msg("edit deferred")

	return ErrDeferred
}

// drainPending applies every held record that has become ready. Failures
// are reported to the owning client since its call has already returned.
func (s *Session) drainPending(ctx context.Context) {
	for {
		rec, ok := s.pending.Next(s.delivered)
		if !ok {
			return
		}

		key := recordKey{rec.AuthorID, rec.LogicalClock}
		clientID := s.owners[key]
		delete(s.owners, key)

		if _, err := s.commit(ctx, clientID, rec); err != nil {
			log.Warn().Err(err).
				Str("doc_id", s.docID).
				Str("author_id", rec.AuthorID).
				Str("client_id", clientID).
				Msg("held edit rejected")

			s.sendError(clientID, err)
		}
	}
}

// commit runs one ready record through queue, document, and store, then
// fans it out. On any failure the queue is rolled back and the document
// is left untouched.
func (s *Session) commit(ctx context.Context, clientID string, rec ot.EditRecord) (ot.SequencedRecord, error) {
	seq, err := s.queue.Apply(rec)
	if err != nil {
		return ot.SequencedRecord{}, err
	}

	// Check the transformed op against the current text before persisting
	if _, err := ot.Apply(s.document.Content(), seq.Op); err != nil {
		s.queue.Rollback(seq.Revision)

		return ot.SequencedRecord{}, err
	}

	if err := s.store.AppendRecord(ctx, s.docID, seq); err != nil {
		s.queue.Rollback(seq.Revision)

		return ot.SequencedRecord{}, fmt.Errorf("persist revision %d: %w", seq.Revision, err)
	}

	if err := s.document.Apply(seq.Op); err != nil {
		// Unreachable: the same op applied cleanly above under s.mu
		return ot.SequencedRecord{}, err
	}

	s.delivered.Advance(rec.AuthorID, seq.Revision)
	s.maybeSnapshot(ctx)
	s.broadcast(clientID, seq)
	s.ack(clientID, seq)

	return seq, nil
}

// maybeSnapshot checks if a snapshot should be created and does so.
func (s *Session) maybeSnapshot(ctx context.Context) {
	if s.snapshotPolicy == nil {
		return
	}

	if !s.snapshotPolicy.RecordOperation(s.docID) {
		return
	}

	if err := s.saveSnapshot(ctx); err != nil {
		log.Error().Err(err).Str("doc_id", s.docID).Msg("snapshot failed")

		return
	}

	s.snapshotPolicy.Reset(s.docID)
}

// broadcast sends the record to other subscribers and marks the revision
// as delivered to their authors.
func (s *Session) broadcast(clientID string, seq ot.SequencedRecord) {
	if s.hub == nil {
		return
	}

	for _, author := range s.hub.Subscribers(s.docID) {
		s.delivered.Advance(author, seq.Revision)
	}

	s.hub.BroadcastRecord(s.docID, seq.Revision, seq.EditRecord, clientID)
}

// ack confirms the sequenced revision to the submitting client.
func (s *Session) ack(clientID string, seq ot.SequencedRecord) {
	if s.hub == nil || clientID == "" {
		return
	}

	err := s.hub.SendTo(clientID, ws.Message{
		Type: ws.MessageTypeAck,
		Payload: ws.AckPayload{
			Revision:     seq.Revision,
			LogicalClock: seq.LogicalClock,
		},
	})
	if err != nil {
		log.Warn().Err(err).Str("doc_id", s.docID).Str("client_id", clientID).Msg("ack failed")
	}
}

// sendError reports a failure for an edit whose call already returned.
func (s *Session) sendError(clientID string, err error) {
	if s.hub == nil || clientID == "" {
		return
	}

	code := ws.ErrorCodeInternalError
	if errors.Is(err, ot.ErrInvalidOperation) || errors.Is(err, ot.ErrRevisionTooOld) {
		code = ws.ErrorCodeResyncRequired
	}

	_ = s.hub.SendTo(clientID, ws.Message{
		Type:    ws.MessageTypeError,
		Payload: ws.ErrorPayload{Code: code, Message: err.Error()},
	})
}

// saveSnapshot persists a snapshot of the current document state.
func (s *Session) saveSnapshot(ctx context.Context) error {
	return s.store.SaveSnapshot(ctx, s.docID, s.queue.Revision(), s.document.Content())
}

// Sync returns the current state and records that authorID has been sent
// it. When the hub knows clientID the state is also pushed to that client.
func (s *Session) Sync(ctx context.Context, clientID, authorID string) (string, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", 0, ErrSessionClosed
	}

	content, revision := s.document.Content(), s.queue.Revision()

	if s.hub != nil && clientID != "" {
		err := s.hub.SendTo(clientID, ws.Message{
			Type: ws.MessageTypeState,
			Payload: ws.StatePayload{
				DocID:    s.docID,
				Content:  content,
				Revision: revision,
			},
		})
		if err != nil {
			return "", 0, fmt.Errorf("send state: %w", err)
		}
	}

	s.delivered.Advance(authorID, revision)
	s.drainPending(ctx)

	return content, revision, nil
}

// GetState returns the current document state.
func (s *Session) GetState() (string, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", 0, ErrSessionClosed
	}

	return s.document.Content(), s.queue.Revision(), nil
}

// DocID returns the document ID for this session.
func (s *Session) DocID() string {
	return s.docID
}

// Revision returns the current revision number.
func (s *Session) Revision() uint64 {
	return s.queue.Revision()
}

// PendingCount returns the number of held records.
func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pending.Len()
}

// Close closes the session and saves a final snapshot. Held records are
// dropped.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	if n := s.pending.Len(); n > 0 {
		log.Warn().Str("doc_id", s.docID).Int("count", n).Msg("dropping held edits on close")
	}

	if s.snapshotPolicy != nil {
		s.snapshotPolicy.Forget(s.docID)
	}

	return s.saveSnapshot(ctx)
}
