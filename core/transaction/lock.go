package transaction

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sushant-115/gojodoc/core/storage"
)

// LockHolder is a record that may carry a lock pointer.
// *storage.DocumentRecord and *storage.StagedChange implement it, including
// through nil pointers.
type LockHolder interface {
	LockOwner() (txID uuid.UUID, expires time.Time, ok bool)
}

// LockChecker decides whether a record's lock blocks the caller. tx is nil
// for writes that run outside a transaction.
type LockChecker interface {
	CheckNotLocked(store storage.Storage, key string, holder LockHolder, tx *Information) error
}

// LeaseLockChecker treats a lock as live only while the holding
// transaction's record exists and its lease has not run out. The lease
// copied onto the record at locking time is not consulted, since later
// staging calls extend the lease on the transaction record only.
type LeaseLockChecker struct {
	// Now defaults to time.Now.
	Now func() time.Time
}

func (c *LeaseLockChecker) CheckNotLocked(store storage.Storage, key string, holder LockHolder, tx *Information) error {
	if holder == nil {
		return nil
	}
	owner, _, ok := holder.LockOwner()
	if !ok {
		return nil
	}
	if tx != nil && owner == tx.ID {
		return nil
	}

	rec, err := store.Transactions().Read(owner)
	if err != nil {
		return fmt.Errorf("failed to read transaction %s holding %s: %w", owner, key, err)
	}
	if rec == nil {
		// holder already completed
		return nil
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	if !rec.Timeout.After(now()) {
		return nil
	}
	return &LockConflictError{Key: key, TxID: owner, Expires: rec.Timeout}
}
