package storage

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/serroba/textsync/internal/ot"
)

//go:embed postgres_schema.sql
var postgresSchema string

const pgUniqueViolation = "23505"

// PostgresStore persists documents in PostgreSQL through a connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and applies the embedded schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()

		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()

		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close releases every pooled connection.
func (s *PostgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}

	s.pool.Close()

	return nil
}

// CreateDocument inserts a new document row.
func (s *PostgresStore) CreateDocument(ctx context.Context, docID string) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO documents (id) VALUES ($1)`, docID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDocumentExists
		}

		return fmt.Errorf("create document: %w", err)
	}

	return nil
}

// DocumentExists checks if a document row exists.
func (s *PostgresStore) DocumentExists(ctx context.Context, docID string) (bool, error) {
	var exists bool

	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1)`, docID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check document: %w", err)
	}

	return exists, nil
}

// DeleteDocument removes the document; snapshots and records cascade.
func (s *PostgresStore) DeleteDocument(ctx context.Context, docID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, docID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrDocumentNotFound
	}

	return nil
}

// SaveSnapshot upserts the snapshot and drops the records it covers.
func (s *PostgresStore) SaveSnapshot(ctx context.Context, docID string, revision uint64, content string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := requireRow(ctx, tx, docID); err != nil {
			return err
		}

		_, err := tx.Exec(ctx,
			`INSERT INTO snapshots (doc_id, revision, content, created_at) VALUES ($1, $2, $3, now())
			 ON CONFLICT (doc_id) DO UPDATE SET
			   revision = EXCLUDED.revision,
			   content = EXCLUDED.content,
			   created_at = EXCLUDED.created_at`,
			docID, int64(revision), content,
		)
		if err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}

		_, err = tx.Exec(ctx,
			`DELETE FROM records WHERE doc_id = $1 AND revision <= $2`,
			docID, int64(revision),
		)
		if err != nil {
			return fmt.Errorf("prune records: %w", err)
		}

		return nil
	})
}

// LoadSnapshot returns the stored snapshot for docID.
func (s *PostgresStore) LoadSnapshot(ctx context.Context, docID string) (Snapshot, error) {
	var (
		revision  int64
		content   string
		createdAt time.Time
	)

	err := s.pool.QueryRow(ctx,
		`SELECT revision, content, created_at FROM snapshots WHERE doc_id = $1`, docID,
	).Scan(&revision, &content, &createdAt)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if err := requireRow(ctx, s.pool, docID); err != nil {
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
		CreatedAt: createdAt.UTC(),
	}, nil
}

// AppendRecord stores rec as a JSONB payload keyed by its revision.
func (s *PostgresStore) AppendRecord(ctx context.Context, docID string, rec ot.SequencedRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := requireRow(ctx, tx, docID); err != nil {
			return err
		}

		_, err := tx.Exec(ctx,
			`INSERT INTO records (doc_id, revision, author_id, payload) VALUES ($1, $2, $3, $4)`,
			docID, int64(rec.Revision), rec.AuthorID, payload,
		)
		if err != nil {
			return fmt.Errorf("append record: %w", err)
		}

		return nil
	})
}

// LoadRecords returns records after sinceRevision in revision order.
func (s *PostgresStore) LoadRecords(ctx context.Context, docID string, sinceRevision uint64) ([]ot.SequencedRecord, error) {
	if err := requireRow(ctx, s.pool, docID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM records WHERE doc_id = $1 AND revision > $2 ORDER BY revision`,
		docID, int64(sinceRevision),
	)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}

	result, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ot.SequencedRecord, error) {
		var payload []byte
		if err := row.Scan(&payload); err != nil {
			return ot.SequencedRecord{}, fmt.Errorf("scan record: %w", err)
		}

		var rec ot.SequencedRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return ot.SequencedRecord{}, fmt.Errorf("decode record: %w", err)
		}

		return rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}

	return result, nil
}

// LatestRevision returns the newest record revision, or the snapshot
// revision when the log is empty.
func (s *PostgresStore) LatestRevision(ctx context.Context, docID string) (uint64, error) {
	if err := requireRow(ctx, s.pool, docID); err != nil {
		return 0, err
	}

	var revision int64

	err := s.pool.QueryRow(ctx,
		`SELECT GREATEST(COALESCE((SELECT MAX(revision) FROM records WHERE doc_id = $1), 0),
		                 COALESCE((SELECT revision FROM snapshots WHERE doc_id = $1), 0))`,
		docID,
	).Scan(&revision)
	if err != nil {
		return 0, fmt.Errorf("latest revision: %w", err)
	}

	return uint64(revision), nil
}

type rowQueryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func requireRow(ctx context.Context, q rowQueryer, docID string) error {
	var one int

	err := q.QueryRow(ctx, `SELECT 1 FROM documents WHERE id = $1`, docID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDocumentNotFound
	}

	if err != nil {
		return fmt.Errorf("check document: %w", err)
	}

	return nil
}

// Ensure PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
