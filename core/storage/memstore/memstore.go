// Package memstore is an in-memory implementation of the storage tables,
// backed by ordered B-trees.
package memstore

import (
	"bytes"
	"sync"

	"github.com/google/btree"
	"github.com/google/uuid"

	"github.com/sushant-115/gojodoc/core/storage"
	"github.com/sushant-115/gojodoc/core/uuidgen"
)

const degree = 32

// Store keeps every table in its own B-tree. A single RWMutex guards all of
// them, which makes each table operation atomic.
type Store struct {
	mu       sync.RWMutex
	closed   bool
	version  uint64
	lastEtag uuid.UUID

	documents    *btree.BTreeG[*storage.DocumentRecord]
	staged       *btree.BTreeG[*storage.StagedChange]
	byTx         *btree.BTreeG[storage.IndexEntry]
	transactions *btree.BTreeG[*storage.TransactionRecord]
}

// New returns an empty store.
func New() *Store {
	return &Store{
		documents: btree.NewG(degree, func(a, b *storage.DocumentRecord) bool {
			return a.Key < b.Key
		}),
		staged: btree.NewG(degree, func(a, b *storage.StagedChange) bool {
			return a.Key < b.Key
		}),
		byTx: btree.NewG(degree, func(a, b storage.IndexEntry) bool {
			return a.Less(b)
		}),
		transactions: btree.NewG(degree, func(a, b *storage.TransactionRecord) bool {
			return bytes.Compare(a.TxID[:], b.TxID[:]) < 0
		}),
	}
}

func (s *Store) Documents() storage.DocumentTable       { return documentTable{s} }
func (s *Store) Staged() storage.StagedTable             { return stagedTable{s} }
func (s *Store) Transactions() storage.TransactionTable { return transactionTable{s} }

// LastEtag returns the highest etag written since New.
func (s *Store) LastEtag() (uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return uuid.Nil, storage.ErrClosed
	}
	return s.lastEtag, nil
}

// noteEtag must be called with mu held for writing.
func (s *Store) noteEtag(etag uuid.UUID) {
	if uuidgen.Compare(etag, s.lastEtag) > 0 {
		s.lastEtag = etag
	}
}

// Close drops all data. Further calls fail with storage.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.documents.Clear(false)
	s.staged.Clear(false)
	s.byTx.Clear(false)
	s.transactions.Clear(false)
	return nil
}

type documentTable struct{ s *Store }

func (t documentTable) Read(key string) (*storage.DocumentRecord, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if t.s.closed {
		return nil, storage.ErrClosed
	}
	doc, ok := t.s.documents.Get(&storage.DocumentRecord{Key: key})
	if !ok {
		return nil, nil
	}
	return doc.Clone(), nil
}

func (t documentTable) Put(doc *storage.DocumentRecord) error {
	if doc.Key == "" {
		return storage.ErrEmptyKey
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.closed {
		return storage.ErrClosed
	}
	t.s.version++
	doc.Version = t.s.version
	t.s.documents.ReplaceOrInsert(doc.Clone())
	t.s.noteEtag(doc.Etag)
	return nil
}

func (t documentTable) UpdateKey(doc *storage.DocumentRecord) (bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.closed {
		return false, storage.ErrClosed
	}
	current, ok := t.s.documents.Get(&storage.DocumentRecord{Key: doc.Key})
	if !ok || current.Version != doc.Version {
		return false, nil
	}
	t.s.version++
	updated := current.Clone()
	updated.Etag = doc.Etag
	updated.Modified = doc.Modified
	updated.Lock = doc.Clone().Lock
	updated.Version = t.s.version
	t.s.documents.ReplaceOrInsert(updated)
	t.s.noteEtag(updated.Etag)
	doc.Version = updated.Version
	return true, nil
}

func (t documentTable) Remove(key string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.closed {
		return storage.ErrClosed
	}
	t.s.documents.Delete(&storage.DocumentRecord{Key: key})
	return nil
}

type stagedTable struct{ s *Store }

func (t stagedTable) Read(key string) (*storage.StagedChange, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if t.s.closed {
		return nil, storage.ErrClosed
	}
	change, ok := t.s.staged.Get(&storage.StagedChange{Key: key})
	if !ok {
		return nil, nil
	}
	return change.Clone(), nil
}

func (t stagedTable) Put(change *storage.StagedChange) error {
	if change.Key == "" {
		return storage.ErrEmptyKey
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.closed {
		return storage.ErrClosed
	}
	if prev, ok := t.s.staged.ReplaceOrInsert(change.Clone()); ok {
		t.s.byTx.Delete(storage.IndexEntry{TxID: prev.TxID, Key: prev.Key})
	}
	t.s.byTx.ReplaceOrInsert(storage.IndexEntry{TxID: change.TxID, Key: change.Key})
	t.s.noteEtag(change.Etag)
	return nil
}

func (t stagedTable) Remove(key string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.closed {
		return storage.ErrClosed
	}
	if prev, ok := t.s.staged.Delete(&storage.StagedChange{Key: key}); ok {
		t.s.byTx.Delete(storage.IndexEntry{TxID: prev.TxID, Key: prev.Key})
	}
	return nil
}

func (t stagedTable) ByTransaction() storage.TransactionIndex { return txIndex{t.s} }

type txIndex struct{ s *Store }

func (ix txIndex) SkipTo(txID uuid.UUID, fn func(storage.IndexEntry) bool) error {
	ix.s.mu.RLock()
	defer ix.s.mu.RUnlock()
	if ix.s.closed {
		return storage.ErrClosed
	}
	// The empty key sorts before every real key of txID.
	ix.s.byTx.AscendGreaterOrEqual(storage.IndexEntry{TxID: txID}, fn)
	return nil
}

type transactionTable struct{ s *Store }

func (t transactionTable) Read(txID uuid.UUID) (*storage.TransactionRecord, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if t.s.closed {
		return nil, storage.ErrClosed
	}
	rec, ok := t.s.transactions.Get(&storage.TransactionRecord{TxID: txID})
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (t transactionTable) Put(rec *storage.TransactionRecord) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.closed {
		return storage.ErrClosed
	}
	cp := *rec
	t.s.transactions.ReplaceOrInsert(&cp)
	return nil
}

func (t transactionTable) Remove(txID uuid.UUID) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.closed {
		return storage.ErrClosed
	}
	t.s.transactions.Delete(&storage.TransactionRecord{TxID: txID})
	return nil
}

func (t transactionTable) IDs() ([]uuid.UUID, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if t.s.closed {
		return nil, storage.ErrClosed
	}
	ids := make([]uuid.UUID, 0, t.s.transactions.Len())
	t.s.transactions.Ascend(func(rec *storage.TransactionRecord) bool {
		ids = append(ids, rec.TxID)
		return true
	})
	return ids, nil
}
