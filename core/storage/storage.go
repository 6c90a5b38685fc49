// Package storage defines the keyed tables the transaction layer is built on.
//
// Every table operation is atomic on its own; nothing here spans several
// keys. Reads return nil, nil for absent rows and always hand out copies, so
// callers may mutate what they read before writing it back.
package storage

import (
	"bytes"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrClosed        = errors.New("storage is closed")
	ErrCorruptRecord = errors.New("stored record could not be decoded")
	ErrEmptyKey      = errors.New("record key must not be empty")
)

// LockPointer names the transaction holding exclusive intent to modify a
// document, and the lease it had when it took the lock.
type LockPointer struct {
	TxID    uuid.UUID `json:"tx_id"`
	Expires time.Time `json:"expires"`
}

// DocumentRecord is a committed document.
type DocumentRecord struct {
	Key      string       `json:"key"`
	Etag     uuid.UUID    `json:"etag"`
	Modified time.Time    `json:"modified"`
	Lock     *LockPointer `json:"lock,omitempty"`
	Data     []byte       `json:"data,omitempty"`
	// Version is assigned by the store on every write and checked by UpdateKey.
	Version uint64 `json:"version"`
}

// LockOwner reports the lock held on the document, if any.
func (d *DocumentRecord) LockOwner() (uuid.UUID, time.Time, bool) {
	if d == nil || d.Lock == nil {
		return uuid.Nil, time.Time{}, false
	}
	return d.Lock.TxID, d.Lock.Expires, true
}

// Clone returns a deep copy of d.
func (d *DocumentRecord) Clone() *DocumentRecord {
	if d == nil {
		return nil
	}
	cp := *d
	if d.Lock != nil {
		lock := *d.Lock
		cp.Lock = &lock
	}
	cp.Data = cloneBytes(d.Data)
	return &cp
}

// StagedChange is a pending write or delete of one key, recorded against a
// transaction and not yet applied to the committed document.
type StagedChange struct {
	Key      string    `json:"key"`
	Etag     uuid.UUID `json:"etag"`
	Modified time.Time `json:"modified"`
	TxID     uuid.UUID `json:"tx_id"`
	Expires  time.Time `json:"expires"`
	Deleted  bool      `json:"deleted,omitempty"`
	// Data is nil for delete markers.
	Data []byte `json:"data,omitempty"`
}

// LockOwner reports the transaction that staged the change. A staged change
// always belongs to a transaction, so the lock is held while it exists.
func (c *StagedChange) LockOwner() (uuid.UUID, time.Time, bool) {
	if c == nil {
		return uuid.Nil, time.Time{}, false
	}
	return c.TxID, c.Expires, true
}

// Clone returns a deep copy of c.
func (c *StagedChange) Clone() *StagedChange {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Data = cloneBytes(c.Data)
	return &cp
}

// TransactionRecord marks a transaction as open until Timeout.
type TransactionRecord struct {
	TxID    uuid.UUID `json:"tx_id"`
	Timeout time.Time `json:"timeout"`
}

// IndexEntry is one row of the by-transaction index of staged changes.
type IndexEntry struct {
	TxID uuid.UUID
	Key  string
}

// Less orders entries by transaction id first, so every entry of one
// transaction is contiguous, then by key.
func (e IndexEntry) Less(other IndexEntry) bool {
	if c := bytes.Compare(e.TxID[:], other.TxID[:]); c != 0 {
		return c < 0
	}
	return e.Key < other.Key
}

// Storage groups the tables of one store.
type Storage interface {
	Documents() DocumentTable
	Staged() StagedTable
	Transactions() TransactionTable
	// LastEtag returns the highest etag ever written to the document or
	// staged tables, or uuid.Nil for a store that has seen none.
	LastEtag() (uuid.UUID, error)
	Close() error
}

// DocumentTable holds committed documents keyed by document key.
type DocumentTable interface {
	Read(key string) (*DocumentRecord, error)
	// Put inserts or replaces the row and sets doc.Version to the new version.
	Put(doc *DocumentRecord) error
	// UpdateKey rewrites etag, modified time and lock of an existing row
	// when its version still equals doc.Version, leaving the payload alone.
	// It reports false if the row changed or vanished since it was read.
	UpdateKey(doc *DocumentRecord) (bool, error)
	Remove(key string) error
}

// StagedTable holds staged changes keyed by document key, with a secondary
// index by transaction.
type StagedTable interface {
	Read(key string) (*StagedChange, error)
	// Put inserts or replaces the staged change for change.Key and keeps the
	// by-transaction index in step.
	Put(change *StagedChange) error
	Remove(key string) error
	ByTransaction() TransactionIndex
}

// TransactionIndex is the by-transaction index of staged changes.
type TransactionIndex interface {
	// SkipTo positions at the first entry whose transaction id is not less
	// than txID and calls fn for it and every following entry until fn
	// returns false or the index ends. fn must not modify the store.
	SkipTo(txID uuid.UUID, fn func(IndexEntry) bool) error
}

// TransactionTable holds open transactions keyed by id.
type TransactionTable interface {
	Read(txID uuid.UUID) (*TransactionRecord, error)
	Put(rec *TransactionRecord) error
	Remove(txID uuid.UUID) error
	IDs() ([]uuid.UUID, error)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}
