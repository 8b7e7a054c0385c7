package storage_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/serroba/textsync/internal/ot"
	"github.com/serroba/textsync/internal/storage"
	"github.com/stretchr/testify/require"
)

// storeFactory returns a fresh store and a document ID unique to the test.
type storeFactory func(t *testing.T) (storage.Store, string)

func backends(t *testing.T) map[string]storeFactory {
	t.Helper()

	factories := map[string]storeFactory{
		"memory": func(t *testing.T) (storage.Store, string) {
			t.Helper()

			return storage.NewMemoryStore(), "doc1"
		},
		"sqlite": func(t *testing.T) (storage.Store, string) {
			t.Helper()

			store, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "textsync.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })

			return store, "doc1"
		},
	}

	// Redis runs only against a live server
	if addr := os.Getenv("TEXTSYNC_TEST_REDIS_ADDR"); addr != "" {
		factories["redis"] = func(t *testing.T) (storage.Store, string) {
			t.Helper()

			store, err := storage.OpenRedis(context.Background(), addr)
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })

			docID := "test-" + uuid.NewString()
			t.Cleanup(func() { _ = store.DeleteDocument(context.Background(), docID) })

			return store, docID
		}
	}

	// Postgres runs only against a live server
	if dsn := os.Getenv("TEXTSYNC_TEST_POSTGRES_DSN"); dsn != "" {
		factories["postgres"] = func(t *testing.T) (storage.Store, string) {
			t.Helper()

			store, err := storage.OpenPostgres(context.Background(), dsn)
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })

			docID := "test-" + uuid.NewString()
			t.Cleanup(func() { _ = store.DeleteDocument(context.Background(), docID) })

			return store, docID
		}
	}

	return factories
}

// forEachBackend runs fn against every available backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, store storage.Store, docID string)) {
	t.Helper()

	for name, factory := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store, docID := factory(t)
			fn(t, store, docID)
		})
	}
}

func seqRecord(op ot.Operation, revision uint64) ot.SequencedRecord {
	return ot.SequencedRecord{
		EditRecord: ot.NewEditRecord(op, "user", revision-1, revision),
		Revision:   revision,
	}
}

func TestStore_CreateDocument(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, store storage.Store, docID string) {
		ctx := context.Background()

		require.NoError(t, store.CreateDocument(ctx, docID))

		exists, err := store.DocumentExists(ctx, docID)
		require.NoError(t, err)

		if !exists {
			t.Error("expected document to exist after creation")
		}

		err = store.CreateDocument(ctx, docID)
		if !errors.Is(err, storage.ErrDocumentExists) {
			t.Errorf("expected ErrDocumentExists, got %v", err)
		}
	})
}

func TestStore_DocumentExists_NotFound(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, store storage.Store, docID string) {
		exists, err := store.DocumentExists(context.Background(), docID)
		require.NoError(t, err)

		if exists {
			t.Error("expected document to not exist")
		}
	})
}

func TestStore_MissingDocument(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, store storage.Store, docID string) {
		ctx := context.Background()

		checks := map[string]error{
			"SaveSnapshot":   store.SaveSnapshot(ctx, docID, 1, "x"),
			"AppendRecord":   store.AppendRecord(ctx, docID, seqRecord(ot.NewInsert(0, "x"), 1)),
			"DeleteDocument": store.DeleteDocument(ctx, docID),
		}

		_, checks["LoadSnapshot"] = store.LoadSnapshot(ctx, docID)
		_, checks["LoadRecords"] = store.LoadRecords(ctx, docID, 0)
		_, checks["LatestRevision"] = store.LatestRevision(ctx, docID)

		for name, err := range checks {
			if !errors.Is(err, storage.ErrDocumentNotFound) {
				t.Errorf("%s: expected ErrDocumentNotFound, got %v", name, err)
			}
		}
	})
}

func TestStore_SaveAndLoadSnapshot(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, store storage.Store, docID string) {
		ctx := context.Background()
		require.NoError(t, store.CreateDocument(ctx, docID))

		_, err := store.LoadSnapshot(ctx, docID)
		if !errors.Is(err, storage.ErrSnapshotNotFound) {
			t.Errorf("expected ErrSnapshotNotFound, got %v", err)
		}

		require.NoError(t, store.SaveSnapshot(ctx, docID, 5, "first"))
		require.NoError(t, store.SaveSnapshot(ctx, docID, 10, "héllo 🌍"))

		snapshot, err := store.LoadSnapshot(ctx, docID)
		require.NoError(t, err)

		require.Equal(t, docID, snapshot.DocID)
		require.Equal(t, uint64(10), snapshot.Revision)
		require.Equal(t, "héllo 🌍", snapshot.Content)
		require.False(t, snapshot.CreatedAt.IsZero())
	})
}

func TestStore_AppendAndLoadRecords(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, store storage.Store, docID string) {
		ctx := context.Background()
		require.NoError(t, store.CreateDocument(ctx, docID))

		ops := []ot.Operation{
			ot.NewInsert(0, "ab"),
			ot.NewDelete(1, 1),
			ot.NewInsert(1, "c"),
			ot.NewRetain(0),
		}

		for i, op := range ops {
			require.NoError(t, store.AppendRecord(ctx, docID, seqRecord(op, uint64(i+1))))
		}

		all, err := store.LoadRecords(ctx, docID, 0)
		require.NoError(t, err)
		require.Len(t, all, len(ops))

		for i, rec := range all {
			require.Equal(t, uint64(i+1), rec.Revision)
			require.Equal(t, ops[i], rec.Op)
			require.Equal(t, "user", rec.AuthorID)
		}

		since, err := store.LoadRecords(ctx, docID, 2)
		require.NoError(t, err)
		require.Len(t, since, 2)
		require.Equal(t, uint64(3), since[0].Revision)

		latest, err := store.LatestRevision(ctx, docID)
		require.NoError(t, err)
		require.Equal(t, uint64(4), latest)
	})
}

func TestStore_LatestRevision(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, store storage.Store, docID string) {
		ctx := context.Background()
		require.NoError(t, store.CreateDocument(ctx, docID))

		latest, err := store.LatestRevision(ctx, docID)
		require.NoError(t, err)
		require.Equal(t, uint64(0), latest)

		require.NoError(t, store.SaveSnapshot(ctx, docID, 7, "snap"))

		latest, err = store.LatestRevision(ctx, docID)
		require.NoError(t, err)
		require.Equal(t, uint64(7), latest, "falls back to the snapshot revision")
	})
}

func TestStore_SnapshotPrunesRecords(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, store storage.Store, docID string) {
		ctx := context.Background()
		require.NoError(t, store.CreateDocument(ctx, docID))

		for rev := uint64(1); rev <= 5; rev++ {
			require.NoError(t, store.AppendRecord(ctx, docID, seqRecord(ot.NewInsert(0, "x"), rev)))
		}

		require.NoError(t, store.SaveSnapshot(ctx, docID, 3, "xxx"))

		remaining, err := store.LoadRecords(ctx, docID, 0)
		require.NoError(t, err)
		require.Len(t, remaining, 2)
		require.Equal(t, uint64(4), remaining[0].Revision)

		latest, err := store.LatestRevision(ctx, docID)
		require.NoError(t, err)
		require.Equal(t, uint64(5), latest)
	})
}

func TestStore_DeleteDocument(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, store storage.Store, docID string) {
		ctx := context.Background()
		require.NoError(t, store.CreateDocument(ctx, docID))
		require.NoError(t, store.AppendRecord(ctx, docID, seqRecord(ot.NewInsert(0, "x"), 1)))
		require.NoError(t, store.SaveSnapshot(ctx, docID, 1, "x"))

		require.NoError(t, store.DeleteDocument(ctx, docID))

		exists, err := store.DocumentExists(ctx, docID)
		require.NoError(t, err)
		require.False(t, exists)

		// The ID is free again and starts empty
		require.NoError(t, store.CreateDocument(ctx, docID))

		_, err = store.LoadSnapshot(ctx, docID)
		require.ErrorIs(t, err, storage.ErrSnapshotNotFound)
	})
}

func TestStore_MultipleDocuments(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, store storage.Store, docID string) {
		ctx := context.Background()
		other := docID + "-other"

		t.Cleanup(func() { _ = store.DeleteDocument(context.Background(), other) })

		require.NoError(t, store.CreateDocument(ctx, docID))
		require.NoError(t, store.CreateDocument(ctx, other))

		require.NoError(t, store.AppendRecord(ctx, docID, seqRecord(ot.NewInsert(0, "a"), 1)))
		require.NoError(t, store.SaveSnapshot(ctx, other, 4, "other"))

		records, err := store.LoadRecords(ctx, other, 0)
		require.NoError(t, err)
		require.Empty(t, records)

		latest, err := store.LatestRevision(ctx, docID)
		require.NoError(t, err)
		require.Equal(t, uint64(1), latest)
	})
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.CreateDocument(ctx, "doc1"))

	var wg sync.WaitGroup

	for i := range 10 {
		wg.Add(1)

		go func(revision uint64) {
			defer wg.Done()

			// require is not goroutine-safe
			_ = store.AppendRecord(ctx, "doc1", seqRecord(ot.NewInsert(0, "x"), revision))
		}(uint64(i + 1))
	}

	wg.Wait()

	records, _ := store.LoadRecords(ctx, "doc1", 0)

	if len(records) != 10 {
		t.Errorf("expected 10 records, got %d", len(records))
	}
}

func TestOpenSQLite_RequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := storage.OpenSQLite("  "); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestOpenPostgres_RequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := storage.Open(context.Background(), storage.Options{Backend: storage.BackendPostgres})
	require.ErrorContains(t, err, "dsn is required")
}

func TestOpenSQLite_Reopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "textsync.db")

	store, err := storage.OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, store.CreateDocument(ctx, "doc1"))
	require.NoError(t, store.AppendRecord(ctx, "doc1", seqRecord(ot.NewInsert(0, "persisted"), 1)))
	require.NoError(t, store.Close())

	reopened, err := storage.OpenSQLite(path)
	require.NoError(t, err)

	t.Cleanup(func() { _ = reopened.Close() })

	records, err := reopened.LoadRecords(ctx, "doc1", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "persisted", records[0].Op.Text())
}

func TestOpen_SelectsBackend(t *testing.T) {
	t.Parallel()

	store, err := storage.Open(context.Background(), storage.Options{Backend: storage.BackendMemory})
	require.NoError(t, err)
	require.IsType(t, &storage.MemoryStore{}, store)

	store, err = storage.Open(context.Background(), storage.Options{
		Backend:    storage.BackendSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "open.db"),
	})
	require.NoError(t, err)
	require.IsType(t, &storage.SQLiteStore{}, store)
	require.NoError(t, store.Close())

	_, err = storage.Open(context.Background(), storage.Options{Backend: "etcd"})
	require.Error(t, err)
}
