package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/redis/go-redis/v9"
	"github.com/serroba/textsync/internal/ot"
)

const redisKeyPrefix = "textsync:doc:"

// RedisStore keeps each document as a metadata hash plus a list of JSON
// encoded records ordered by revision.
type RedisStore struct {
	rdb *redis.Client
}

// documentMeta is the decoded form of a document's metadata hash.
type documentMeta struct {
	CreatedAt        int64  `mapstructure:"created_at"`
	HasSnapshot      bool   `mapstructure:"has_snapshot"`
	SnapshotRevision uint64 `mapstructure:"snapshot_revision"`
	SnapshotContent  string `mapstructure:"snapshot_content"`
	SnapshotAt       int64  `mapstructure:"snapshot_at"`
}

// OpenRedis connects to addr and verifies the connection.
func OpenRedis(ctx context.Context, addr string) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()

		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}

	return NewRedisStore(rdb), nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func metaKey(docID string) string {
	return redisKeyPrefix + docID
}

func recordsKey(docID string) string {
	return redisKeyPrefix + docID + ":records"
}

// decodeMeta converts the raw hash returned by HGETALL.
func decodeMeta(raw map[string]string) (documentMeta, error) {
	var meta documentMeta

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &meta,
	})
	if err != nil {
		return documentMeta{}, err
	}

	if err := decoder.Decode(raw); err != nil {
		return documentMeta{}, fmt.Errorf("decode document metadata: %w", err)
	}

	return meta, nil
}

// CreateDocument creates the metadata hash unless it already exists.
func (s *RedisStore) CreateDocument(ctx context.Context, docID string) error {
	created, err := s.rdb.HSetNX(ctx, metaKey(docID), "created_at", toMillis(time.Now())).Result()
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}

	if !created {
		return ErrDocumentExists
	}

	return nil
}

// DocumentExists checks for the metadata hash.
func (s *RedisStore) DocumentExists(ctx context.Context, docID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, metaKey(docID)).Result()
	if err != nil {
		return false, fmt.Errorf("check document: %w", err)
	}

	return n > 0, nil
}

// DeleteDocument removes the metadata hash and the record list.
func (s *RedisStore) DeleteDocument(ctx context.Context, docID string) error {
	var del *redis.IntCmd

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, metaKey(docID))
		pipe.Del(ctx, recordsKey(docID))

		return nil
	})
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	if del.Val() == 0 {
		return ErrDocumentNotFound
	}

	return nil
}

// SaveSnapshot stores the snapshot in the metadata hash and trims the
// covered prefix of the record list.
func (s *RedisStore) SaveSnapshot(ctx context.Context, docID string, revision uint64, content string) error {
	if err := s.requireDocument(ctx, docID); err != nil {
		return err
	}

	records, err := s.loadAll(ctx, docID)
	if err != nil {
		return err
	}

	covered := 0
	for covered < len(records) && records[covered].Revision <= revision {
		covered++
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, metaKey(docID),
			"has_snapshot", 1,
			"snapshot_revision", revision,
			"snapshot_content", content,
			"snapshot_at", toMillis(time.Now()),
		)

		if covered > 0 {
			pipe.LTrim(ctx, recordsKey(docID), int64(covered), -1)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	return nil
}

// LoadSnapshot reads the snapshot fields of the metadata hash.
func (s *RedisStore) LoadSnapshot(ctx context.Context, docID string) (Snapshot, error) {
	meta, err := s.loadMeta(ctx, docID)
	if err != nil {
		return Snapshot{}, err
	}

	if !meta.HasSnapshot {
		return Snapshot{}, ErrSnapshotNotFound
	}

	return Snapshot{
		DocID:     docID,
		Revision:  meta.SnapshotRevision,
		Content:   meta.SnapshotContent,
		CreatedAt: fromMillis(meta.SnapshotAt),
	}, nil
}

// AppendRecord pushes rec onto the tail of the record list.
func (s *RedisStore) AppendRecord(ctx context.Context, docID string, rec ot.SequencedRecord) error {
	if err := s.requireDocument(ctx, docID); err != nil {
		return err
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	if err := s.rdb.RPush(ctx, recordsKey(docID), payload).Err(); err != nil {
		return fmt.Errorf("append record: %w", err)
	}

	return nil
}

// LoadRecords returns records after sinceRevision.
func (s *RedisStore) LoadRecords(ctx context.Context, docID string, sinceRevision uint64) ([]ot.SequencedRecord, error) {
	if err := s.requireDocument(ctx, docID); err != nil {
		return nil, err
	}

	records, err := s.loadAll(ctx, docID)
	if err != nil {
		return nil, err
	}

	var result []ot.SequencedRecord

	for _, rec := range records {
		if rec.Revision > sinceRevision {
			result = append(result, rec)
		}
	}

	return result, nil
}

// LatestRevision reads the tail of the record list, falling back to the
// snapshot revision.
func (s *RedisStore) LatestRevision(ctx context.Context, docID string) (uint64, error) {
	meta, err := s.loadMeta(ctx, docID)
	if err != nil {
		return 0, err
	}

	last, err := s.rdb.LIndex(ctx, recordsKey(docID), -1).Result()

	switch {
	case errors.Is(err, redis.Nil):
		return meta.SnapshotRevision, nil
	case err != nil:
		return 0, fmt.Errorf("latest revision: %w", err)
	}

	var rec ot.SequencedRecord
	if err := json.Unmarshal([]byte(last), &rec); err != nil {
		return 0, fmt.Errorf("decode record: %w", err)
	}

	return rec.Revision, nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) requireDocument(ctx context.Context, docID string) error {
	exists, err := s.DocumentExists(ctx, docID)
	if err != nil {
		return err
	}

	if !exists {
		return ErrDocumentNotFound
	}

	return nil
}

func (s *RedisStore) loadMeta(ctx context.Context, docID string) (documentMeta, error) {
	raw, err := s.rdb.HGetAll(ctx, metaKey(docID)).Result()
	if err != nil {
		return documentMeta{}, fmt.Errorf("load document metadata: %w", err)
	}

	if len(raw) == 0 {
		return documentMeta{}, ErrDocumentNotFound
	}

	return decodeMeta(raw)
}

func (s *RedisStore) loadAll(ctx context.Context, docID string) ([]ot.SequencedRecord, error) {
	payloads, err := s.rdb.LRange(ctx, recordsKey(docID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}

	records := make([]ot.SequencedRecord, 0, len(payloads))

	for i, payload := range payloads {
		var rec ot.SequencedRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("decode record %d: %w", i, err)
		}

		records = append(records, rec)
	}

	return records, nil
}

// Ensure RedisStore implements Store.
var _ Store = (*RedisStore)(nil)
