package transaction

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrLockConflict means another live transaction holds the document.
	// The caller may retry after that transaction completes or its lease
	// expires.
	ErrLockConflict = errors.New("document is locked by another transaction")

	// ErrConcurrency is the parent of every optimistic concurrency failure.
	ErrConcurrency   = errors.New("concurrency violation")
	ErrEtagMismatch  = fmt.Errorf("%w: non current etag", ErrConcurrency)
	ErrWriteConflict = fmt.Errorf("%w: document was modified concurrently", ErrConcurrency)

	ErrInvalidKey         = errors.New("document key must not be empty")
	ErrInvalidTransaction = errors.New("transaction id must not be empty")
)

// LockConflictError reports the transaction holding a document and the
// lease it holds it until.
type LockConflictError struct {
	Key     string
	TxID    uuid.UUID
	Expires time.Time
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("document '%s' is locked by transaction %s until %s",
		e.Key, e.TxID, e.Expires.UTC().Format(time.RFC3339))
}

func (e *LockConflictError) Is(target error) bool {
	return target == ErrLockConflict
}

// ConcurrencyError is returned when a caller's etag is stale or a
// conditional update lost a race. Current is the etag visible in the store
// and Supplied the one the caller expected; both are zero for lost races.
type ConcurrencyError struct {
	Op       string
	Key      string
	Current  uuid.UUID
	Supplied uuid.UUID
	Err      error
}

func (e *ConcurrencyError) Error() string {
	if errors.Is(e.Err, ErrEtagMismatch) {
		return fmt.Sprintf("%s attempted on document '%s' using a non current etag (current %s, supplied %s)",
			e.Op, e.Key, e.Current, e.Supplied)
	}
	return fmt.Sprintf("%s attempted on document '%s' that is currently being modified by another transaction",
		e.Op, e.Key)
}

func (e *ConcurrencyError) Unwrap() error {
	return e.Err
}
