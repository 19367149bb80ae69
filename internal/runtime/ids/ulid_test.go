package ids

import (
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateULIDSequentialOrdering(t *testing.T) {
	const total = 100
	ids := make([]string, total)
	for i := range ids {
		ids[i] = CreateULID()
	}

	for i := range ids {
		require.Len(t, ids[i], 26)
		_, err := ulid.Parse(ids[i])
		require.NoError(t, err)
	}

	for i := 1; i < total; i++ {
		assert.Less(t, ids[i-1], ids[i])
	}
}

func TestCreateULIDConcurrentUniqueness(t *testing.T) {
	const goroutines = 10
	const perGoroutine = 20

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]struct{})
	)

	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				id := CreateULID()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*perGoroutine)
}

func TestCreateULIDAtRoundTripsTimestamp(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	id := CreateULIDAt(at)

	ts, err := Timestamp(id)
	require.NoError(t, err)
	assert.True(t, at.Equal(ts))
}

func TestTimestampRejectsInvalid(t *testing.T) {
	_, err := Timestamp("not-a-ulid")
	assert.Error(t, err)
}
