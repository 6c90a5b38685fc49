// Package boltstore persists the storage tables in a bolt database file.
//
// Each table is a bucket of JSON encoded rows. The by-transaction index is a
// separate bucket whose keys are the 16 raw bytes of the transaction id
// followed by the document key, so a cursor seek on the id bytes lands on the
// first staged change of that transaction.
package boltstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sushant-115/gojodoc/core/storage"
	"github.com/sushant-115/gojodoc/core/uuidgen"
)

var (
	bucketDocuments    = []byte("documents")
	bucketStaged       = []byte("documents_in_tx")
	bucketStagedByTx   = []byte("documents_in_tx_by_txid")
	bucketTransactions = []byte("transactions")
	bucketMeta         = []byte("meta")

	keyVersion  = []byte("version")
	keyLastEtag = []byte("last_etag")
)

// Options configures Open.
type Options struct {
	// Timeout bounds how long Open waits for the file lock.
	Timeout time.Duration
	Logger  *zap.Logger
}

// Store is a bolt backed storage.Storage.
type Store struct {
	db     *bolt.DB
	path   string
	logger *zap.Logger
}

// Open opens or creates the database file at path and makes sure every
// bucket exists.
func Open(path string, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory for %s: %w", path, err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: opts.Timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketDocuments, bucketStaged, bucketStagedByTx, bucketTransactions, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	opts.Logger.Info("Opened bolt store", zap.String("path", path))
	return &Store{db: db, path: path, logger: opts.Logger}, nil
}

func (s *Store) Documents() storage.DocumentTable       { return documentTable{s} }
func (s *Store) Staged() storage.StagedTable             { return stagedTable{s} }
func (s *Store) Transactions() storage.TransactionTable { return transactionTable{s} }

// LastEtag returns the highest etag ever written to this file.
func (s *Store) LastEtag() (uuid.UUID, error) {
	var last uuid.UUID
	err := s.view(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketMeta).Get(keyLastEtag)
		if raw == nil {
			return nil
		}
		id, err := uuid.FromBytes(raw)
		if err != nil {
			return fmt.Errorf("%w: last etag: %v", storage.ErrCorruptRecord, err)
		}
		last = id
		return nil
	})
	return last, err
}

// Close closes the database file.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close bolt database %s: %w", s.path, err)
	}
	s.logger.Info("Closed bolt store", zap.String("path", s.path))
	return nil
}

func (s *Store) view(fn func(tx *bolt.Tx) error) error {
	err := s.db.View(fn)
	if err == bolt.ErrDatabaseNotOpen {
		return storage.ErrClosed
	}
	return err
}

func (s *Store) update(fn func(tx *bolt.Tx) error) error {
	err := s.db.Update(fn)
	if err == bolt.ErrDatabaseNotOpen {
		return storage.ErrClosed
	}
	return err
}

// nextVersion bumps the row version counter kept in the meta bucket.
func nextVersion(tx *bolt.Tx) (uint64, error) {
	meta := tx.Bucket(bucketMeta)
	var v uint64
	if raw := meta.Get(keyVersion); raw != nil {
		if err := json.Unmarshal(raw, &v); err != nil {
			return 0, fmt.Errorf("%w: version counter: %v", storage.ErrCorruptRecord, err)
		}
	}
	v++
	raw, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	return v, meta.Put(keyVersion, raw)
}

// noteEtag raises the persisted high-water etag to etag if it is higher.
func noteEtag(tx *bolt.Tx, etag uuid.UUID) error {
	meta := tx.Bucket(bucketMeta)
	if raw := meta.Get(keyLastEtag); len(raw) == len(etag) && uuidgen.Compare(etag, uuid.UUID(raw)) <= 0 {
		return nil
	}
	return meta.Put(keyLastEtag, append([]byte{}, etag[:]...))
}

func getJSON(tx *bolt.Tx, bucket, key []byte, out interface{}) (bool, error) {
	raw := tx.Bucket(bucket).Get(key)
	if raw == nil {
		return false, nil
	}
	// raw is only valid inside the bolt transaction; Unmarshal copies it.
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("%w: %s/%q: %v", storage.ErrCorruptRecord, bucket, key, err)
	}
	return true, nil
}

func putJSON(b *bolt.Bucket, key []byte, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode row %q: %w", key, err)
	}
	return b.Put(key, raw)
}

func indexKey(txID uuid.UUID, key string) []byte {
	k := make([]byte, 0, len(txID)+len(key))
	k = append(k, txID[:]...)
	return append(k, key...)
}

type documentTable struct{ s *Store }

func (t documentTable) Read(key string) (*storage.DocumentRecord, error) {
	var (
		doc   storage.DocumentRecord
		found bool
	)
	err := t.s.view(func(tx *bolt.Tx) error {
		var err error
		found, err = getJSON(tx, bucketDocuments, []byte(key), &doc)
		return err
	})
	if err != nil || !found {
		return nil, err
	}
	return &doc, nil
}

func (t documentTable) Put(doc *storage.DocumentRecord) error {
	if doc.Key == "" {
		return storage.ErrEmptyKey
	}
	return t.s.update(func(tx *bolt.Tx) error {
		v, err := nextVersion(tx)
		if err != nil {
			return err
		}
		row := doc.Clone()
		row.Version = v
		if err := putJSON(tx.Bucket(bucketDocuments), []byte(doc.Key), row); err != nil {
			return err
		}
		if err := noteEtag(tx, doc.Etag); err != nil {
			return err
		}
		doc.Version = v
		return nil
	})
}

func (t documentTable) UpdateKey(doc *storage.DocumentRecord) (bool, error) {
	var updated bool
	err := t.s.update(func(tx *bolt.Tx) error {
		var current storage.DocumentRecord
		found, err := getJSON(tx, bucketDocuments, []byte(doc.Key), &current)
		if err != nil || !found || current.Version != doc.Version {
			return err
		}
		v, err := nextVersion(tx)
		if err != nil {
			return err
		}
		current.Etag = doc.Etag
		current.Modified = doc.Modified
		current.Lock = doc.Clone().Lock
		current.Version = v
		if err := putJSON(tx.Bucket(bucketDocuments), []byte(doc.Key), &current); err != nil {
			return err
		}
		if err := noteEtag(tx, current.Etag); err != nil {
			return err
		}
		doc.Version = v
		updated = true
		return nil
	})
	return updated, err
}

func (t documentTable) Remove(key string) error {
	return t.s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDocuments).Delete([]byte(key))
	})
}

type stagedTable struct{ s *Store }

func (t stagedTable) Read(key string) (*storage.StagedChange, error) {
	var (
		change storage.StagedChange
		found  bool
	)
	err := t.s.view(func(tx *bolt.Tx) error {
		var err error
		found, err = getJSON(tx, bucketStaged, []byte(key), &change)
		return err
	})
	if err != nil || !found {
		return nil, err
	}
	return &change, nil
}

func (t stagedTable) Put(change *storage.StagedChange) error {
	if change.Key == "" {
		return storage.ErrEmptyKey
	}
	return t.s.update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStaged)
		index := tx.Bucket(bucketStagedByTx)

		var prev storage.StagedChange
		found, err := getJSON(tx, bucketStaged, []byte(change.Key), &prev)
		if err != nil {
			return err
		}
		if found {
			if err := index.Delete(indexKey(prev.TxID, prev.Key)); err != nil {
				return err
			}
		}
		if err := putJSON(b, []byte(change.Key), change); err != nil {
			return err
		}
		if err := noteEtag(tx, change.Etag); err != nil {
			return err
		}
		return index.Put(indexKey(change.TxID, change.Key), []byte{})
	})
}

func (t stagedTable) Remove(key string) error {
	return t.s.update(func(tx *bolt.Tx) error {
		var prev storage.StagedChange
		found, err := getJSON(tx, bucketStaged, []byte(key), &prev)
		if err != nil || !found {
			return err
		}
		if err := tx.Bucket(bucketStagedByTx).Delete(indexKey(prev.TxID, prev.Key)); err != nil {
			return err
		}
		return tx.Bucket(bucketStaged).Delete([]byte(key))
	})
}

func (t stagedTable) ByTransaction() storage.TransactionIndex { return txIndex{t.s} }

type txIndex struct{ s *Store }

func (ix txIndex) SkipTo(txID uuid.UUID, fn func(storage.IndexEntry) bool) error {
	return ix.s.view(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketStagedByTx).Cursor()
		for k, _ := c.Seek(txID[:]); k != nil; k, _ = c.Next() {
			if len(k) < len(txID) {
				return fmt.Errorf("%w: index key %x is too short", storage.ErrCorruptRecord, k)
			}
			var entry storage.IndexEntry
			copy(entry.TxID[:], k[:len(txID)])
			entry.Key = string(k[len(txID):])
			if !fn(entry) {
				return nil
			}
		}
		return nil
	})
}

type transactionTable struct{ s *Store }

func (t transactionTable) Read(txID uuid.UUID) (*storage.TransactionRecord, error) {
	var (
		rec   storage.TransactionRecord
		found bool
	)
	err := t.s.view(func(tx *bolt.Tx) error {
		var err error
		found, err = getJSON(tx, bucketTransactions, txID[:], &rec)
		return err
	})
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

func (t transactionTable) Put(rec *storage.TransactionRecord) error {
	return t.s.update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketTransactions), rec.TxID[:], rec)
	})
}

func (t transactionTable) Remove(txID uuid.UUID) error {
	return t.s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTransactions).Delete(txID[:])
	})
}

func (t transactionTable) IDs() ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := t.s.view(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTransactions).ForEach(func(k, _ []byte) error {
			id, err := uuid.FromBytes(k)
			if err != nil {
				return fmt.Errorf("%w: transaction key %x: %v", storage.ErrCorruptRecord, k, err)
			}
			ids = append(ids, id)
			return nil
		})
	})
	return ids, err
}
