package main

import (
	"encoding/binary"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sushant-115/gojodoc/core/storage"
	"github.com/sushant-115/gojodoc/core/storage/boltstore"
	"github.com/sushant-115/gojodoc/core/uuidgen"
)

func TestNewGeneratorResumesAboveStoredEtags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gojodoc.db")

	// an etag issued by a clock running an hour ahead of this one
	var ahead uuid.UUID
	binary.BigEndian.PutUint64(ahead[:8], uint64(time.Now().Add(time.Hour).UnixNano()))
	binary.BigEndian.PutUint64(ahead[8:], 7)

	store, err := boltstore.Open(path, boltstore.Options{Timeout: time.Second})
	require.NoError(t, err)
	require.NoError(t, store.Documents().Put(&storage.DocumentRecord{Key: "users/1", Etag: ahead}))
	require.NoError(t, store.Close())

	store, err = boltstore.Open(path, boltstore.Options{Timeout: time.Second})
	require.NoError(t, err)
	defer store.Close()

	gen, err := newGenerator(store)
	require.NoError(t, err)
	require.Equal(t, 1, uuidgen.Compare(gen.Next(), ahead))
}

func TestNewGeneratorOnEmptyStore(t *testing.T) {
	store, err := boltstore.Open(filepath.Join(t.TempDir(), "gojodoc.db"), boltstore.Options{Timeout: time.Second})
	require.NoError(t, err)
	defer store.Close()

	gen, err := newGenerator(store)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, gen.Next())
}
