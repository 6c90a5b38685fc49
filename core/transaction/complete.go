package transaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sushant-115/gojodoc/core/codec"
	"github.com/sushant-115/gojodoc/core/storage"
	internaltelemetry "github.com/sushant-115/gojodoc/internal/telemetry"
)

// CompleteTransaction drains txID: it removes the transaction record, then
// removes every staged change of the id and passes it to fn. An unknown id
// drains nothing.
//
// Completion is not retried, so a failing fn or an undecodable entry does
// not stop the drain. Every failure is returned joined once all entries
// were processed.
func (a *Actions) CompleteTransaction(ctx context.Context, txID uuid.UUID, fn func(DocumentInTransactionData) error) error {
	ctx, span := a.startSpan(ctx, "CompleteTransaction", "", txID)
	defer span.End()

	return a.finish(ctx, span, "COMPLETE", a.complete(ctx, txID, internaltelemetry.PolicyCustom, true, fn))
}

// RollbackTransaction discards the staged changes of txID and releases the
// locks it holds. Committed content is left untouched. Staged payloads are
// not decoded, so a change written under other codecs still rolls back.
func (a *Actions) RollbackTransaction(ctx context.Context, txID uuid.UUID) error {
	ctx, span := a.startSpan(ctx, "RollbackTransaction", "", txID)
	defer span.End()

	err := a.complete(ctx, txID, internaltelemetry.PolicyRollback, false, func(data DocumentInTransactionData) error {
		return a.releaseLock(data.Key, txID)
	})
	return a.finish(ctx, span, "ROLLBACK", err)
}

// CommitTransaction applies the staged changes of txID to the committed
// documents. A written document takes the staging etag as its committed
// etag and is left unlocked; a deleted one is removed.
func (a *Actions) CommitTransaction(ctx context.Context, txID uuid.UUID) error {
	ctx, span := a.startSpan(ctx, "CommitTransaction", "", txID)
	defer span.End()

	err := a.complete(ctx, txID, internaltelemetry.PolicyCommit, true, func(data DocumentInTransactionData) error {
		if data.Delete {
			return a.store.Documents().Remove(data.Key)
		}
		blob, err := codec.EncodeBlob(data.Key, data.Data, data.Metadata, a.codecs)
		if err != nil {
			return err
		}
		return a.store.Documents().Put(&storage.DocumentRecord{
			Key:      data.Key,
			Etag:     data.Etag,
			Modified: a.now(),
			Data:     blob,
		})
	})
	return a.finish(ctx, span, "COMMIT", err)
}

// ModifyTransactionID moves every staged change of from to the transaction
// to, with a fresh lease of timeout. Changes are re-staged without an etag
// check and get new staging etags.
func (a *Actions) ModifyTransactionID(ctx context.Context, from, to uuid.UUID, timeout time.Duration) error {
	ctx, span := a.startSpan(ctx, "ModifyTransactionID", "", from)
	defer span.End()

	return a.finish(ctx, span, "MODIFY", a.modifyTransactionID(ctx, from, to, timeout))
}

func (a *Actions) modifyTransactionID(ctx context.Context, from, to uuid.UUID, timeout time.Duration) error {
	if to == uuid.Nil {
		return ErrInvalidTransaction
	}
	if err := a.refreshLease(to, a.now().Add(timeout)); err != nil {
		return err
	}
	if from == to {
		return nil
	}

	tx := Information{ID: to, Timeout: timeout}
	return a.complete(ctx, from, internaltelemetry.PolicyReidentify, true, func(data DocumentInTransactionData) error {
		if err := a.repointLock(data.Key, to); err != nil {
			return err
		}
		if data.Delete {
			return a.deleteDocumentInTransaction(ctx, tx, data.Key, nil)
		}
		_, err := a.addDocumentInTransaction(ctx, data.Key, nil, data.Data, data.Metadata, tx)
		return err
	})
}

// GetTransactionIDs lists the ids of every open transaction record, in no
// particular order.
func (a *Actions) GetTransactionIDs(ctx context.Context) ([]uuid.UUID, error) {
	ctx, span := a.startSpan(ctx, "GetTransactionIDs", "", uuid.Nil)
	defer span.End()

	ids, err := a.store.Transactions().IDs()
	if err != nil {
		err = fmt.Errorf("failed to list transactions: %w", err)
	}
	return ids, a.finish(ctx, span, "LIST", err)
}

// complete is the drain primitive shared by every completion policy. With
// decode unset fn receives the key, etag and delete flag only.
//
// An entry whose payload cannot be decoded is dropped without calling fn and
// the lock it held is released.
func (a *Actions) complete(ctx context.Context, txID uuid.UUID, policy string, decode bool, fn func(DocumentInTransactionData) error) error {
	start := time.Now()
	if err := a.store.Transactions().Remove(txID); err != nil {
		return fmt.Errorf("failed to remove transaction %s: %w", txID, err)
	}

	// Collect the keys before mutating anything; the index must not change
	// under the scan.
	var keys []string
	err := a.store.Staged().ByTransaction().SkipTo(txID, func(entry storage.IndexEntry) bool {
		if entry.TxID != txID {
			return false
		}
		keys = append(keys, entry.Key)
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to scan staged changes of transaction %s: %w", txID, err)
	}

	var (
		errs     []error
		replayed int
	)
	for _, key := range keys {
		change, err := a.store.Staged().Read(key)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to read staged change of %s: %w", key, err))
			continue
		}
		if change == nil || change.TxID != txID {
			// re-staged by another transaction since the scan
			continue
		}
		if err := a.store.Staged().Remove(key); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove staged change of %s: %w", key, err))
			continue
		}

		data := DocumentInTransactionData{
			Key:    change.Key,
			Etag:   change.Etag,
			Delete: change.Deleted,
		}
		if decode && len(change.Data) > 0 {
			data.Metadata, data.Data, err = codec.DecodeBlob(change.Key, change.Data, a.codecs)
			if err != nil {
				errs = append(errs, err)
				if err := a.releaseLock(key, txID); err != nil {
					errs = append(errs, err)
				}
				continue
			}
		}

		replayed++
		if err := fn(data); err != nil {
			errs = append(errs, fmt.Errorf("failed to complete staged change of %s: %w", key, err))
		}
	}

	a.metrics.Completed(ctx, policy, replayed, time.Since(start))
	a.logger.Debug("Completed transaction",
		zap.String("tx_id", txID.String()),
		zap.String("policy", policy),
		zap.Int("changes", replayed),
		zap.Int("failures", len(errs)))
	return errors.Join(errs...)
}

// releaseLock clears the lock of key if txID still holds it.
func (a *Actions) releaseLock(key string, txID uuid.UUID) error {
	doc, err := a.store.Documents().Read(key)
	if err != nil {
		return fmt.Errorf("failed to read document %s: %w", key, err)
	}
	if owner, _, ok := doc.LockOwner(); !ok || owner != txID {
		return nil
	}
	doc.Lock = nil
	ok, err := a.store.Documents().UpdateKey(doc)
	if err != nil {
		return fmt.Errorf("failed to unlock document %s: %w", key, err)
	}
	if !ok {
		a.logger.Warn("Lost race while releasing document lock",
			zap.String("key", key), zap.String("tx_id", txID.String()))
	}
	return nil
}

// repointLock hands the lock of a still existing committed document to to.
func (a *Actions) repointLock(key string, to uuid.UUID) error {
	doc, err := a.store.Documents().Read(key)
	if err != nil {
		return fmt.Errorf("failed to read document %s: %w", key, err)
	}
	if doc == nil {
		return nil
	}
	var expires time.Time
	if doc.Lock != nil {
		expires = doc.Lock.Expires
	}
	doc.Lock = &storage.LockPointer{TxID: to, Expires: expires}
	ok, err := a.store.Documents().UpdateKey(doc)
	if err != nil {
		return fmt.Errorf("failed to move lock of document %s: %w", key, err)
	}
	if !ok {
		a.logger.Warn("Lost race while moving document lock",
			zap.String("key", key), zap.String("tx_id", to.String()))
	}
	return nil
}
