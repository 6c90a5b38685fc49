package transaction

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sushant-115/gojodoc/core/document"
	"github.com/sushant-115/gojodoc/core/storage"
)

func TestAddDocumentEtagChecks(t *testing.T) {
	forEachStore(t, func(t *testing.T, store storage.Storage) {
		env := setupActions(t, store, nil)
		ctx := context.Background()

		e1 := putCommitted(t, env, "users/1", document.Document{"v": json.Number("1")})
		stale := uuid.New()
		_, err := env.actions.AddDocument(ctx, "users/1", &stale, document.Document{"v": json.Number("2")}, nil)
		require.ErrorIs(t, err, ErrEtagMismatch)

		e2, err := env.actions.AddDocument(ctx, "users/1", &e1, document.Document{"v": json.Number("2")}, nil)
		require.NoError(t, err)
		require.NotEqual(t, e1, e2)

		doc, err := env.actions.DocumentByKey(ctx, "users/1", nil)
		require.NoError(t, err)
		require.Equal(t, e2, doc.Etag)
		require.Equal(t, document.Document{"v": json.Number("2")}, doc.Data)
	})
}

func TestNonTransactionalWritesRespectLocks(t *testing.T) {
	forEachStore(t, func(t *testing.T, store storage.Storage) {
		env := setupActions(t, store, nil)
		ctx := context.Background()
		putCommitted(t, env, "users/1", document.Document{"v": json.Number("1")})
		tx := newTx(time.Minute)

		_, err := env.actions.AddDocumentInTransaction(ctx, "users/1", nil, document.Document{"v": json.Number("2")}, nil, tx)
		require.NoError(t, err)
		_, err = env.actions.AddDocumentInTransaction(ctx, "new/1", nil, document.Document{}, nil, tx)
		require.NoError(t, err)

		_, err = env.actions.AddDocument(ctx, "users/1", nil, document.Document{"v": json.Number("3")}, nil)
		require.ErrorIs(t, err, ErrLockConflict)
		_, err = env.actions.AddDocument(ctx, "new/1", nil, document.Document{}, nil)
		require.ErrorIs(t, err, ErrLockConflict)
		_, err = env.actions.DeleteDocument(ctx, "users/1", nil)
		require.ErrorIs(t, err, ErrLockConflict)

		env.clock.Advance(2 * time.Minute)
		deleted, err := env.actions.DeleteDocument(ctx, "users/1", nil)
		require.NoError(t, err)
		require.True(t, deleted)
	})
}

func TestDeleteDocument(t *testing.T) {
	forEachStore(t, func(t *testing.T, store storage.Storage) {
		env := setupActions(t, store, nil)
		ctx := context.Background()

		deleted, err := env.actions.DeleteDocument(ctx, "ghost/1", nil)
		require.NoError(t, err)
		require.False(t, deleted)

		e1 := putCommitted(t, env, "users/1", document.Document{"v": json.Number("1")})
		stale := uuid.New()
		_, err = env.actions.DeleteDocument(ctx, "users/1", &stale)
		require.ErrorIs(t, err, ErrEtagMismatch)

		deleted, err = env.actions.DeleteDocument(ctx, "users/1", &e1)
		require.NoError(t, err)
		require.True(t, deleted)
		require.Nil(t, readRecord(t, env, "users/1"))
	})
}

func TestDocumentByKeyViews(t *testing.T) {
	forEachStore(t, func(t *testing.T, store storage.Storage) {
		env := setupActions(t, store, nil)
		ctx := context.Background()
		e1 := putCommitted(t, env, "users/1", document.Document{"v": json.Number("1")})
		owner, reader := newTx(time.Minute), newTx(time.Minute)

		s1, err := env.actions.AddDocumentInTransaction(ctx, "users/1", nil, document.Document{"v": json.Number("2")}, nil, owner)
		require.NoError(t, err)

		// the owner sees its staged write
		doc, err := env.actions.DocumentByKey(ctx, "users/1", &owner)
		require.NoError(t, err)
		require.Equal(t, s1, doc.Etag)
		require.Equal(t, document.Document{"v": json.Number("2")}, doc.Data)
		require.False(t, doc.NonAuthoritative)

		// everyone else sees the committed version, flagged
		for _, tx := range []*Information{nil, &reader} {
			doc, err = env.actions.DocumentByKey(ctx, "users/1", tx)
			require.NoError(t, err)
			require.Equal(t, e1, doc.Etag)
			require.Equal(t, document.Document{"v": json.Number("1")}, doc.Data)
			require.True(t, doc.NonAuthoritative)
		}

		require.NoError(t, env.actions.DeleteDocumentInTransaction(ctx, owner, "users/1", nil))
		doc, err = env.actions.DocumentByKey(ctx, "users/1", &owner)
		require.NoError(t, err)
		require.Nil(t, doc, "a staged delete hides the document from its own transaction")

		env.clock.Advance(2 * time.Minute)
		doc, err = env.actions.DocumentByKey(ctx, "users/1", nil)
		require.NoError(t, err)
		require.False(t, doc.NonAuthoritative, "an expired lease no longer counts")

		doc, err = env.actions.DocumentByKey(ctx, "missing/1", nil)
		require.NoError(t, err)
		require.Nil(t, doc)
	})
}
