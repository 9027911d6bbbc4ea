// Package integration exercises the Store, Worker, BTree and Backing
// layers together, the way a deployed instance actually composes them,
// rather than any one package in isolation.
package integration

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendrl-inc-labs/microtetherdb/pkg/codec"
	"github.com/tendrl-inc-labs/microtetherdb/pkg/mtdb"
	"github.com/tendrl-inc-labs/microtetherdb/pkg/query"
)

func TestConcurrentPutGetUnderLoad(t *testing.T) {
	s, err := mtdb.Open()
	require.NoError(t, err)
	defer s.Close()

	const workers = 16
	const perWorker = 50

	var wg sync.WaitGroup
	keysCh := make(chan string, workers*perWorker)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				key, err := s.Put(codec.Document{"worker": id, "seq": i}, 0, nil)
				if err != nil {
					t.Errorf("put failed: %v", err)
					return
				}
				keysCh <- key
			}
		}(w)
	}
	wg.Wait()
	close(keysCh)

	var readWg sync.WaitGroup
	for key := range keysCh {
		readWg.Add(1)
		go func(k string) {
			defer readWg.Done()
			_, ok, err := s.Get(k)
			assert.NoError(t, err)
			assert.True(t, ok)
		}(key)
	}
	readWg.Wait()

	assert.Equal(t, workers*perWorker, s.Stats().RecordCount)
}

func TestFileBackingRestartPreservesQueryableState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "restart.mtdb")

	s1, err := mtdb.Open(mtdb.WithFilename(path))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := s1.Put(codec.Document{"n": float64(i)}, 0, nil)
		require.NoError(t, err)
	}
	require.NoError(t, s1.Close())

	s2, err := mtdb.Open(mtdb.WithFilename(path))
	require.NoError(t, err)
	defer s2.Close()

	results, err := s2.Query(query.Predicate{"n": map[string]any{"$gte": 3.0}})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestAdaptiveFlushThresholdCrossesLifetimeBoundaries(t *testing.T) {
	s, err := mtdb.Open(mtdb.WithAutoFlushInterval(0))
	require.NoError(t, err)
	defer s.Close()

	// Push the lifetime operation count past the first two ladder
	// boundaries (100 and 1000) and confirm every record is still
	// readable, proving flush cadence changes never drop a mutation.
	const total = 1200
	for i := 0; i < total; i++ {
		_, err := s.PutKey(fmt.Sprintf("k:%05d", i), codec.Document{"i": float64(i)}, 0, nil)
		require.NoError(t, err)
	}

	assert.Equal(t, total, s.Stats().RecordCount)
	doc, ok, err := s.Get("k:01199")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1199.0, doc["i"])
}

func TestCleanupThenBatchDeleteConverges(t *testing.T) {
	s, err := mtdb.Open()
	require.NoError(t, err)
	defer s.Close()

	keys, err := s.PutBatch([]mtdb.BatchItem{
		{Doc: codec.Document{"x": 1.0}, TTL: 1},
		{Doc: codec.Document{"x": 2.0}, TTL: 1},
		{Doc: codec.Document{"x": 3.0}, TTL: 0},
	})
	require.NoError(t, err)
	require.Len(t, keys, 3)

	time.Sleep(1100 * time.Millisecond)
	swept, err := s.Cleanup()
	require.NoError(t, err)
	assert.Equal(t, 2, swept)
	assert.Equal(t, 1, s.Stats().RecordCount)

	removed, err := s.DeleteBatch(keys)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}
