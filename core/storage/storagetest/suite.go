// Package storagetest holds the behaviour every storage.Storage backend
// must share. Backends call Run from their own tests.
package storagetest

import (
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sushant-115/gojodoc/core/storage"
	"github.com/sushant-115/gojodoc/core/uuidgen"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) storage.Storage

// Run executes the conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Storage)
	}{
		{"DocumentReadMissing", testDocumentReadMissing},
		{"DocumentPutReadCopy", testDocumentPutReadCopy},
		{"DocumentUpdateKeyConditional", testDocumentUpdateKeyConditional},
		{"DocumentUpdateKeyMissing", testDocumentUpdateKeyMissing},
		{"DocumentRemove", testDocumentRemove},
		{"StagedPutMovesIndexEntry", testStagedPutMovesIndexEntry},
		{"StagedRemoveDropsIndexEntry", testStagedRemoveDropsIndexEntry},
		{"IndexContiguousPerTransaction", testIndexContiguousPerTransaction},
		{"TransactionsPutReadRemove", testTransactionsPutReadRemove},
		{"EmptyKeyRejected", testEmptyKeyRejected},
		{"LastEtagTracksHighestWrite", testLastEtagTracksHighestWrite},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			tc.fn(t, s)
		})
	}
}

// CollectTransaction returns the keys the index holds for txID, in index
// order, using the seek-then-take-while access pattern.
func CollectTransaction(t *testing.T, s storage.Storage, txID uuid.UUID) []string {
	t.Helper()
	var keys []string
	err := s.Staged().ByTransaction().SkipTo(txID, func(e storage.IndexEntry) bool {
		if e.TxID != txID {
			return false
		}
		keys = append(keys, e.Key)
		return true
	})
	require.NoError(t, err)
	return keys
}

func testDocumentReadMissing(t *testing.T, s storage.Storage) {
	doc, err := s.Documents().Read("missing")
	require.NoError(t, err)
	require.Nil(t, doc)
}

func testDocumentPutReadCopy(t *testing.T, s storage.Storage) {
	in := &storage.DocumentRecord{
		Key:      "orders/1",
		Etag:     uuid.New(),
		Modified: time.Now().UTC(),
		Data:     []byte(`{}{"total":1}`),
	}
	require.NoError(t, s.Documents().Put(in))
	require.NotZero(t, in.Version)

	out, err := s.Documents().Read("orders/1")
	require.NoError(t, err)
	require.NotNil(t, out)
	require.Equal(t, in.Etag, out.Etag)
	require.Equal(t, in.Data, out.Data)
	require.Equal(t, in.Version, out.Version)
	require.True(t, in.Modified.Equal(out.Modified))
	require.Nil(t, out.Lock)

	// mutating a read result must not leak into the store
	out.Data[0] = 'X'
	again, err := s.Documents().Read("orders/1")
	require.NoError(t, err)
	require.Equal(t, in.Data, again.Data)
}

func testDocumentUpdateKeyConditional(t *testing.T, s storage.Storage) {
	require.NoError(t, s.Documents().Put(&storage.DocumentRecord{Key: "k", Etag: uuid.New(), Data: []byte("payload")}))

	first, err := s.Documents().Read("k")
	require.NoError(t, err)
	stale, err := s.Documents().Read("k")
	require.NoError(t, err)

	txID := uuid.New()
	first.Lock = &storage.LockPointer{TxID: txID, Expires: time.Now().Add(time.Minute).UTC()}
	ok, err := s.Documents().UpdateKey(first)
	require.NoError(t, err)
	require.True(t, ok)

	stale.Lock = &storage.LockPointer{TxID: uuid.New()}
	ok, err = s.Documents().UpdateKey(stale)
	require.NoError(t, err)
	require.False(t, ok, "update based on an old version must lose")

	got, err := s.Documents().Read("k")
	require.NoError(t, err)
	require.NotNil(t, got.Lock)
	require.Equal(t, txID, got.Lock.TxID)
	require.Equal(t, []byte("payload"), got.Data, "UpdateKey keeps the payload")
	require.Equal(t, first.Version, got.Version)

	// releasing the lock works from the version UpdateKey handed back
	first.Lock = nil
	ok, err = s.Documents().UpdateKey(first)
	require.NoError(t, err)
	require.True(t, ok)
	got, err = s.Documents().Read("k")
	require.NoError(t, err)
	require.Nil(t, got.Lock)
}

func testDocumentUpdateKeyMissing(t *testing.T, s storage.Storage) {
	ok, err := s.Documents().UpdateKey(&storage.DocumentRecord{Key: "ghost"})
	require.NoError(t, err)
	require.False(t, ok)
}

func testDocumentRemove(t *testing.T, s storage.Storage) {
	require.NoError(t, s.Documents().Put(&storage.DocumentRecord{Key: "k"}))
	require.NoError(t, s.Documents().Remove("k"))
	require.NoError(t, s.Documents().Remove("k"), "removing an absent row is not an error")

	doc, err := s.Documents().Read("k")
	require.NoError(t, err)
	require.Nil(t, doc)
}

func testStagedPutMovesIndexEntry(t *testing.T, s storage.Storage) {
	t1, t2 := uuid.New(), uuid.New()
	require.NoError(t, s.Staged().Put(&storage.StagedChange{Key: "k", Etag: uuid.New(), TxID: t1, Data: []byte("a")}))
	require.Equal(t, []string{"k"}, CollectTransaction(t, s, t1))

	require.NoError(t, s.Staged().Put(&storage.StagedChange{Key: "k", Etag: uuid.New(), TxID: t2, Deleted: true}))
	require.Empty(t, CollectTransaction(t, s, t1))
	require.Equal(t, []string{"k"}, CollectTransaction(t, s, t2))

	got, err := s.Staged().Read("k")
	require.NoError(t, err)
	require.Equal(t, t2, got.TxID)
	require.True(t, got.Deleted)
	require.Nil(t, got.Data)
}

func testStagedRemoveDropsIndexEntry(t *testing.T, s storage.Storage) {
	txID := uuid.New()
	require.NoError(t, s.Staged().Put(&storage.StagedChange{Key: "a", TxID: txID}))
	require.NoError(t, s.Staged().Put(&storage.StagedChange{Key: "b", TxID: txID}))
	require.NoError(t, s.Staged().Remove("a"))
	require.NoError(t, s.Staged().Remove("missing"))

	require.Equal(t, []string{"b"}, CollectTransaction(t, s, txID))
	got, err := s.Staged().Read("a")
	require.NoError(t, err)
	require.Nil(t, got)
}

func testIndexContiguousPerTransaction(t *testing.T, s storage.Storage) {
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	keys := map[uuid.UUID][]string{}
	for i := 0; i < 12; i++ {
		id := ids[i%len(ids)]
		key := "docs/" + string(rune('a'+i))
		keys[id] = append(keys[id], key)
		require.NoError(t, s.Staged().Put(&storage.StagedChange{Key: key, TxID: id, Etag: uuid.New()}))
	}

	for _, id := range ids {
		want := append([]string{}, keys[id]...)
		sort.Strings(want)
		require.Equal(t, want, CollectTransaction(t, s, id))
	}

	require.Empty(t, CollectTransaction(t, s, uuid.New()))
}

func testTransactionsPutReadRemove(t *testing.T, s storage.Storage) {
	t1, t2 := uuid.New(), uuid.New()
	timeout := time.Now().Add(30 * time.Second).UTC()
	require.NoError(t, s.Transactions().Put(&storage.TransactionRecord{TxID: t1, Timeout: timeout}))
	require.NoError(t, s.Transactions().Put(&storage.TransactionRecord{TxID: t2, Timeout: timeout}))
	// refreshing does not duplicate
	require.NoError(t, s.Transactions().Put(&storage.TransactionRecord{TxID: t1, Timeout: timeout.Add(time.Minute)}))

	rec, err := s.Transactions().Read(t1)
	require.NoError(t, err)
	require.True(t, rec.Timeout.Equal(timeout.Add(time.Minute)))

	ids, err := s.Transactions().IDs()
	require.NoError(t, err)
	require.ElementsMatch(t, []uuid.UUID{t1, t2}, ids)

	require.NoError(t, s.Transactions().Remove(t1))
	rec, err = s.Transactions().Read(t1)
	require.NoError(t, err)
	require.Nil(t, rec)

	ids, err = s.Transactions().IDs()
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{t2}, ids)
}

func testEmptyKeyRejected(t *testing.T, s storage.Storage) {
	require.ErrorIs(t, s.Documents().Put(&storage.DocumentRecord{}), storage.ErrEmptyKey)
	require.ErrorIs(t, s.Staged().Put(&storage.StagedChange{}), storage.ErrEmptyKey)
}

func testLastEtagTracksHighestWrite(t *testing.T, s storage.Storage) {
	last, err := s.LastEtag()
	require.NoError(t, err)
	require.Equal(t, uuid.Nil, last)

	gen := uuidgen.NewSequential()
	low, mid, high := gen.Next(), gen.Next(), gen.Next()

	require.NoError(t, s.Documents().Put(&storage.DocumentRecord{Key: "a", Etag: mid}))
	require.NoError(t, s.Staged().Put(&storage.StagedChange{Key: "a", Etag: high}))
	// a lower etag written later does not move the mark back
	require.NoError(t, s.Documents().Put(&storage.DocumentRecord{Key: "b", Etag: low}))

	last, err = s.LastEtag()
	require.NoError(t, err)
	require.Equal(t, high, last)
}
