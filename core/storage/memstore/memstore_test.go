package memstore

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sushant-115/gojodoc/core/storage"
	"github.com/sushant-115/gojodoc/core/storage/storagetest"
)

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		return New()
	})
}

func TestClosedStore(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())

	_, err := s.Documents().Read("k")
	require.ErrorIs(t, err, storage.ErrClosed)
	require.ErrorIs(t, s.Staged().Put(&storage.StagedChange{Key: "k"}), storage.ErrClosed)
	_, err = s.Transactions().IDs()
	require.ErrorIs(t, err, storage.ErrClosed)
	require.ErrorIs(t, s.Staged().ByTransaction().SkipTo(uuid.Nil, func(storage.IndexEntry) bool { return true }), storage.ErrClosed)
}
