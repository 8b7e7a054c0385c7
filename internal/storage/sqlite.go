package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/serroba/textsync/internal/ot"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

//go:embed schema.sql
var sqliteSchema string

// SQLiteStore persists documents in a single SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// OpenSQLite opens the database at path and applies the embedded schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}

	dsn := filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// One writer keeps revisions strictly ordered per file
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	return s.db.Close()
}

// CreateDocument inserts a new document row.
func (s *SQLiteStore) CreateDocument(ctx context.Context, docID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, created_at) VALUES (?, ?)`,
		docID, toMillis(time.Now()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDocumentExists
		}

		return fmt.Errorf("create document: %w", err)
	}

	return nil
}

// DocumentExists checks if a document row exists.
func (s *SQLiteStore) DocumentExists(ctx context.Context, docID string) (bool, error) {
	var one int

	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE id = ?`, docID).Scan(&one)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("check document: %w", err)
	default:
		return true, nil
	}
}

// DeleteDocument removes the document with its snapshot and records.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, docID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM records WHERE doc_id = ?`,
			`DELETE FROM snapshots WHERE doc_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, docID); err != nil {
				return fmt.Errorf("delete document: %w", err)
			}
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, docID)
		if err != nil {
			return fmt.Errorf("delete document: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete document: %w", err)
		}

		if n == 0 {
			return ErrDocumentNotFound
		}

		return nil
	})
}

// SaveSnapshot upserts the snapshot and drops the records it covers.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, docID string, revision uint64, content string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireDocument(ctx, tx, docID); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO snapshots (doc_id, revision, content, created_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(doc_id) DO UPDATE SET
			   revision = excluded.revision,
			   content = excluded.content,
			   created_at = excluded.created_at`,
			docID, int64(revision), content, toMillis(time.Now()),
		)
		if err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`DELETE FROM records WHERE doc_id = ? AND revision <= ?`,
			docID, int64(revision),
		)
		if err != nil {
			return fmt.Errorf("prune records: %w", err)
		}

		return nil
	})
}

// LoadSnapshot returns the stored snapshot for docID.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context, docID string) (Snapshot, error) {
	var (
		revision  int64
		content   string
		createdAt int64
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT revision, content, created_at FROM snapshots WHERE doc_id = ?`, docID,
	).Scan(&revision, &content, &createdAt)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if err := requireDocument(ctx, s.db, docID); err != nil {
			return Snapshot{}, err
		}

		return Snapshot{}, ErrSnapshotNotFound
	case err != nil:
		return Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}

	return Snapshot{
		DocID:     docID,
		Revision:  uint64(revision),
		Content:   content,
		CreatedAt: fromMillis(createdAt),
	}, nil
}

// AppendRecord stores rec as a JSON payload keyed by its revision.
func (s *SQLiteStore) AppendRecord(ctx context.Context, docID string, rec ot.SequencedRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireDocument(ctx, tx, docID); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO records (doc_id, revision, author_id, payload) VALUES (?, ?, ?, ?)`,
			docID, int64(rec.Revision), rec.AuthorID, string(payload),
		)
		if err != nil {
			return fmt.Errorf("append record: %w", err)
		}

		return nil
	})
}

// LoadRecords returns records after sinceRevision in revision order.
func (s *SQLiteStore) LoadRecords(ctx context.Context, docID string, sinceRevision uint64) ([]ot.SequencedRecord, error) {
	if err := requireDocument(ctx, s.db, docID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM records WHERE doc_id = ? AND revision > ? ORDER BY revision`,
		docID, int64(sinceRevision),
	)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	defer rows.Close()

	var result []ot.SequencedRecord

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}

		var rec ot.SequencedRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}

		result = append(result, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}

	return result, nil
}

// LatestRevision returns the newest record revision, or the snapshot
// revision when the log is empty.
func (s *SQLiteStore) LatestRevision(ctx context.Context, docID string) (uint64, error) {
	if err := requireDocument(ctx, s.db, docID); err != nil {
		return 0, err
	}

	var revision int64

	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(COALESCE((SELECT MAX(revision) FROM records WHERE doc_id = ?), 0),
		            COALESCE((SELECT revision FROM snapshots WHERE doc_id = ?), 0))`,
		docID, docID,
	).Scan(&revision)
	if err != nil {
		return 0, fmt.Errorf("latest revision: %w", err)
	}

	return uint64(revision), nil
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func requireDocument(ctx context.Context, q queryer, docID string) error {
	var one int

	err := q.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE id = ?`, docID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrDocumentNotFound
	}

	if err != nil {
		return fmt.Errorf("check document: %w", err)
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}

	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)
