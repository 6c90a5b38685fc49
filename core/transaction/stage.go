package transaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sushant-115/gojodoc/core/codec"
	"github.com/sushant-115/gojodoc/core/document"
	"github.com/sushant-115/gojodoc/core/storage"
)

// AddDocumentInTransaction stages a write of key under tx and returns the
// staging etag. When etag is non-nil it must equal the etag visible to
// writers: the staged etag if the key already has a staged change, the
// committed etag otherwise. A new document is not etag checked.
func (a *Actions) AddDocumentInTransaction(ctx context.Context, key string, etag *uuid.UUID, data, metadata document.Document, tx Information) (uuid.UUID, error) {
	ctx, span := a.startSpan(ctx, "AddDocumentInTransaction", key, tx.ID)
	defer span.End()

	newEtag, err := a.addDocumentInTransaction(ctx, key, etag, data, metadata, tx)
	return newEtag, a.finish(ctx, span, opPut, err)
}

func (a *Actions) addDocumentInTransaction(ctx context.Context, key string, etag *uuid.UUID, data, metadata document.Document, tx Information) (uuid.UUID, error) {
	if err := validate(key, tx.ID); err != nil {
		return uuid.Nil, err
	}

	// Encode first so a bad payload leaves nothing behind.
	blob, err := codec.EncodeBlob(key, data, metadata, a.codecs)
	if err != nil {
		return uuid.Nil, err
	}

	doc, staged, err := a.readBoth(key)
	if err != nil {
		return uuid.Nil, err
	}
	if err := a.checkNotLocked(key, doc, staged, &tx); err != nil {
		return uuid.Nil, err
	}

	now := a.now()
	expires := now.Add(tx.Timeout)
	if doc != nil {
		if err := assertValidEtag(opPut, key, doc, staged, etag); err != nil {
			return uuid.Nil, err
		}
		if err := a.lockDocument(opPut, doc, tx.ID, expires); err != nil {
			return uuid.Nil, err
		}
	}

	if err := a.refreshLease(tx.ID, expires); err != nil {
		return uuid.Nil, err
	}

	newEtag := a.gen.Next()
	change := &storage.StagedChange{
		Key:      key,
		Etag:     newEtag,
		Modified: now,
		TxID:     tx.ID,
		Expires:  expires,
		Data:     blob,
	}
	if err := a.store.Staged().Put(change); err != nil {
		return uuid.Nil, fmt.Errorf("failed to stage write of %s: %w", key, err)
	}

	a.metrics.StagedWrite(ctx)
	a.logger.Debug("Staged document write",
		zap.String("key", key),
		zap.String("tx_id", tx.ID.String()),
		zap.String("etag", newEtag.String()),
		zap.Bool("update", doc != nil))
	return newEtag, nil
}

// DeleteDocumentInTransaction stages a delete of key under tx. Deleting a
// key with no committed document is a no-op. The etag, when given, is
// checked the same way as for AddDocumentInTransaction.
func (a *Actions) DeleteDocumentInTransaction(ctx context.Context, tx Information, key string, etag *uuid.UUID) error {
	ctx, span := a.startSpan(ctx, "DeleteDocumentInTransaction", key, tx.ID)
	defer span.End()

	return a.finish(ctx, span, opDelete, a.deleteDocumentInTransaction(ctx, tx, key, etag))
}

func (a *Actions) deleteDocumentInTransaction(ctx context.Context, tx Information, key string, etag *uuid.UUID) error {
	if err := validate(key, tx.ID); err != nil {
		return err
	}

	doc, staged, err := a.readBoth(key)
	if err != nil {
		return err
	}
	if doc == nil {
		a.logger.Debug("Skipping delete of missing document",
			zap.String("key", key), zap.String("tx_id", tx.ID.String()))
		return nil
	}
	if err := a.checkNotLocked(key, doc, staged, &tx); err != nil {
		return err
	}
	if err := assertValidEtag(opDelete, key, doc, staged, etag); err != nil {
		return err
	}

	now := a.now()
	expires := now.Add(tx.Timeout)
	if err := a.lockDocument(opDelete, doc, tx.ID, expires); err != nil {
		return err
	}
	if err := a.refreshLease(tx.ID, expires); err != nil {
		return err
	}

	newEtag := a.gen.Next()
	change := &storage.StagedChange{
		Key:      key,
		Etag:     newEtag,
		Modified: now,
		TxID:     tx.ID,
		Expires:  expires,
		Deleted:  true,
	}
	if err := a.store.Staged().Put(change); err != nil {
		return fmt.Errorf("failed to stage delete of %s: %w", key, err)
	}

	a.metrics.StagedDelete(ctx)
	a.logger.Debug("Staged document delete",
		zap.String("key", key),
		zap.String("tx_id", tx.ID.String()),
		zap.String("etag", newEtag.String()))
	return nil
}

// --- Helpers ---

func validate(key string, txID uuid.UUID) error {
	if key == "" {
		return ErrInvalidKey
	}
	if txID == uuid.Nil {
		return ErrInvalidTransaction
	}
	return nil
}

func (a *Actions) readBoth(key string) (*storage.DocumentRecord, *storage.StagedChange, error) {
	doc, err := a.store.Documents().Read(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read document %s: %w", key, err)
	}
	staged, err := a.store.Staged().Read(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read staged change of %s: %w", key, err)
	}
	return doc, staged, nil
}

// checkNotLocked runs the lock checker against the committed record and
// the staged change, whichever exist.
func (a *Actions) checkNotLocked(key string, doc *storage.DocumentRecord, staged *storage.StagedChange, tx *Information) error {
	if doc != nil {
		if err := a.locks.CheckNotLocked(a.store, key, doc, tx); err != nil {
			return err
		}
	}
	if staged != nil {
		return a.locks.CheckNotLocked(a.store, key, staged, tx)
	}
	return nil
}

// assertValidEtag compares etag with the etag writers currently see. A nil
// etag or a missing committed document skips the check.
func assertValidEtag(op, key string, doc *storage.DocumentRecord, staged *storage.StagedChange, etag *uuid.UUID) error {
	if etag == nil || doc == nil {
		return nil
	}
	current := doc.Etag
	if staged != nil {
		current = staged.Etag
	}
	if *etag != current {
		return &ConcurrencyError{Op: op, Key: key, Current: current, Supplied: *etag, Err: ErrEtagMismatch}
	}
	return nil
}

// lockDocument points doc's lock at txID with a conditional update.
func (a *Actions) lockDocument(op string, doc *storage.DocumentRecord, txID uuid.UUID, expires time.Time) error {
	doc.Lock = &storage.LockPointer{TxID: txID, Expires: expires}
	ok, err := a.store.Documents().UpdateKey(doc)
	if err != nil {
		return fmt.Errorf("failed to lock document %s: %w", doc.Key, err)
	}
	if !ok {
		return &ConcurrencyError{Op: op, Key: doc.Key, Err: ErrWriteConflict}
	}
	return nil
}

func (a *Actions) refreshLease(txID uuid.UUID, timeout time.Time) error {
	if err := a.store.Transactions().Put(&storage.TransactionRecord{TxID: txID, Timeout: timeout}); err != nil {
		return fmt.Errorf("failed to refresh lease of transaction %s: %w", txID, err)
	}
	return nil
}

func (a *Actions) startSpan(ctx context.Context, name, key string, txID uuid.UUID) (context.Context, trace.Span) {
	var attrs []attribute.KeyValue
	if key != "" {
		attrs = append(attrs, attribute.String("gojodoc.key", key))
	}
	if txID != uuid.Nil {
		attrs = append(attrs, attribute.String("gojodoc.tx_id", txID.String()))
	}
	return a.tracer.Start(ctx, "transaction."+name, trace.WithAttributes(attrs...))
}

// finish records err on the span and the failure counters and returns it.
func (a *Actions) finish(ctx context.Context, span trace.Span, op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrLockConflict):
		a.metrics.LockConflict(ctx, op)
	case errors.Is(err, ErrConcurrency):
		a.metrics.ConcurrencyViolation(ctx, op)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
