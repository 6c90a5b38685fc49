// Package uuidgen issues monotonically increasing 128-bit identifiers that
// are used as document etags.
package uuidgen

import (
	"bytes"
	"encoding/binary"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Generator produces unique identifiers. Values must never repeat for the
// lifetime of a store.
type Generator interface {
	Next() uuid.UUID
}

// Sequential packs a 64-bit epoch and a 64-bit counter big-endian into a
// UUID, so byte-wise comparison of two issued values matches issue order.
type Sequential struct {
	mu      sync.Mutex
	epoch   uint64
	counter uint64
}

// NewSequential starts a generator whose epoch is the current time.
func NewSequential() *Sequential {
	return &Sequential{epoch: uint64(time.Now().UnixNano())}
}

// NewSequentialAfter starts a generator that only issues values strictly
// greater than last, e.g. the highest etag found in a reopened store.
func NewSequentialAfter(last uuid.UUID) *Sequential {
	g := NewSequential()
	lastEpoch := binary.BigEndian.Uint64(last[:8])
	if lastEpoch >= g.epoch {
		g.epoch = lastEpoch
		g.counter = binary.BigEndian.Uint64(last[8:])
	}
	return g
}

// Next returns the next identifier.
func (g *Sequential) Next() uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.counter++
	if g.counter == 0 {
		// counter wrapped; move to a new epoch
		g.epoch++
	}
	var id uuid.UUID
	binary.BigEndian.PutUint64(id[:8], g.epoch)
	binary.BigEndian.PutUint64(id[8:], g.counter)
	return id
}

// Compare orders two identifiers the way Sequential issues them.
func Compare(a, b uuid.UUID) int {
	return bytes.Compare(a[:], b[:])
}
