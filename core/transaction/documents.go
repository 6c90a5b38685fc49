package transaction

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sushant-115/gojodoc/core/codec"
	"github.com/sushant-115/gojodoc/core/document"
	"github.com/sushant-115/gojodoc/core/storage"
)

// AddDocument writes a committed document outside any transaction and
// returns its new etag. It fails with a lock conflict while a live
// transaction holds the key. A non-nil etag must equal the committed etag.
func (a *Actions) AddDocument(ctx context.Context, key string, etag *uuid.UUID, data, metadata document.Document) (uuid.UUID, error) {
	ctx, span := a.startSpan(ctx, "AddDocument", key, uuid.Nil)
	defer span.End()

	newEtag, err := a.addDocument(key, etag, data, metadata)
	return newEtag, a.finish(ctx, span, opPut, err)
}

func (a *Actions) addDocument(key string, etag *uuid.UUID, data, metadata document.Document) (uuid.UUID, error) {
	if key == "" {
		return uuid.Nil, ErrInvalidKey
	}
	blob, err := codec.EncodeBlob(key, data, metadata, a.codecs)
	if err != nil {
		return uuid.Nil, err
	}

	doc, staged, err := a.readBoth(key)
	if err != nil {
		return uuid.Nil, err
	}
	if err := a.checkNotLocked(key, doc, staged, nil); err != nil {
		return uuid.Nil, err
	}
	if err := assertValidEtag(opPut, key, doc, nil, etag); err != nil {
		return uuid.Nil, err
	}

	newEtag := a.gen.Next()
	err = a.store.Documents().Put(&storage.DocumentRecord{
		Key:      key,
		Etag:     newEtag,
		Modified: a.now(),
		Data:     blob,
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to write document %s: %w", key, err)
	}

	a.logger.Debug("Wrote document", zap.String("key", key), zap.String("etag", newEtag.String()))
	return newEtag, nil
}

// DeleteDocument removes a committed document outside any transaction. It
// reports false when there was nothing to delete.
func (a *Actions) DeleteDocument(ctx context.Context, key string, etag *uuid.UUID) (bool, error) {
	ctx, span := a.startSpan(ctx, "DeleteDocument", key, uuid.Nil)
	defer span.End()

	deleted, err := a.deleteDocument(key, etag)
	return deleted, a.finish(ctx, span, opDelete, err)
}

func (a *Actions) deleteDocument(key string, etag *uuid.UUID) (bool, error) {
	if key == "" {
		return false, ErrInvalidKey
	}
	doc, staged, err := a.readBoth(key)
	if err != nil {
		return false, err
	}
	if doc == nil {
		return false, nil
	}
	if err := a.checkNotLocked(key, doc, staged, nil); err != nil {
		return false, err
	}
	if err := assertValidEtag(opDelete, key, doc, nil, etag); err != nil {
		return false, err
	}
	if err := a.store.Documents().Remove(key); err != nil {
		return false, fmt.Errorf("failed to delete document %s: %w", key, err)
	}

	a.logger.Debug("Deleted document", zap.String("key", key))
	return true, nil
}

// DocumentByKey reads key as seen by tx. A transaction sees its own staged
// change, and nil for a key it staged for deletion. Everyone else sees the
// committed document, flagged NonAuthoritative while another live
// transaction holds it. tx may be nil.
func (a *Actions) DocumentByKey(ctx context.Context, key string, tx *Information) (*document.JSONDocument, error) {
	var txID uuid.UUID
	if tx != nil {
		txID = tx.ID
	}
	ctx, span := a.startSpan(ctx, "DocumentByKey", key, txID)
	defer span.End()

	doc, err := a.documentByKey(key, tx)
	return doc, a.finish(ctx, span, "GET", err)
}

func (a *Actions) documentByKey(key string, tx *Information) (*document.JSONDocument, error) {
	doc, staged, err := a.readBoth(key)
	if err != nil {
		return nil, err
	}

	if tx != nil && staged != nil && staged.TxID == tx.ID {
		if staged.Deleted {
			return nil, nil
		}
		metadata, data, err := codec.DecodeBlob(key, staged.Data, a.codecs)
		if err != nil {
			return nil, err
		}
		return &document.JSONDocument{
			Key:          key,
			Etag:         staged.Etag,
			LastModified: staged.Modified,
			Metadata:     metadata,
			Data:         data,
		}, nil
	}

	if doc == nil {
		return nil, nil
	}
	metadata, data, err := codec.DecodeBlob(key, doc.Data, a.codecs)
	if err != nil {
		return nil, err
	}
	result := &document.JSONDocument{
		Key:          key,
		Etag:         doc.Etag,
		LastModified: doc.Modified,
		Metadata:     metadata,
		Data:         data,
	}
	if err := a.locks.CheckNotLocked(a.store, key, doc, tx); err != nil {
		if !errors.Is(err, ErrLockConflict) {
			return nil, err
		}
		result.NonAuthoritative = true
	}
	return result, nil
}
