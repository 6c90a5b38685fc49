package uuidgen

import (
	"encoding/binary"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestSequential_Monotonic(t *testing.T) {
	g := NewSequential()

	prev := g.Next()
	for i := 0; i < 1000; i++ {
		next := g.Next()
		require.Equal(t, 1, Compare(next, prev), "identifier %d did not increase", i)
		prev = next
	}
}

func TestSequential_ConcurrentUnique(t *testing.T) {
	g := NewSequential()

	const workers, perWorker = 8, 500
	var (
		mu   sync.Mutex
		seen = make(map[uuid.UUID]struct{}, workers*perWorker)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]uuid.UUID, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				local = append(local, g.Next())
			}
			mu.Lock()
			for _, id := range local {
				seen[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, seen, workers*perWorker)
}

func TestNewSequentialAfter_ResumesAboveLast(t *testing.T) {
	// An epoch far in the future forces the generator to adopt it.
	var last uuid.UUID
	binary.BigEndian.PutUint64(last[:8], ^uint64(0)>>1)
	binary.BigEndian.PutUint64(last[8:], 41)

	g := NewSequentialAfter(last)
	next := g.Next()

	require.Equal(t, 1, Compare(next, last))
	require.Equal(t, uint64(42), binary.BigEndian.Uint64(next[8:]))
}

func TestNewSequentialAfter_IgnoresOlderEpoch(t *testing.T) {
	var last uuid.UUID
	binary.BigEndian.PutUint64(last[:8], 1)
	binary.BigEndian.PutUint64(last[8:], 99)

	g := NewSequentialAfter(last)
	require.Equal(t, 1, Compare(g.Next(), last))
}
