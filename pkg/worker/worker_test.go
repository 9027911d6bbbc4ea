package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendrl-inc-labs/microtetherdb/pkg/backing"
	"github.com/tendrl-inc-labs/microtetherdb/pkg/btree"
	"github.com/tendrl-inc-labs/microtetherdb/pkg/log"
	"github.com/tendrl-inc-labs/microtetherdb/pkg/mtdberrors"
	"github.com/tendrl-inc-labs/microtetherdb/pkg/ttlindex"
)

func newTestWorker(t *testing.T, cfg Config) *Worker {
	t.Helper()
	bt, err := btree.Open(backing.NewMemoryBacking(25), btree.Options{})
	require.NoError(t, err)

	w := New(bt, ttlindex.New(), log.WithComponent("worker-test"), cfg)
	go w.Run()
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func put(w *Worker, key, value string) Result {
	return w.Submit(&Operation{Kind: OpPut, Put: PutItem{Key: key, Value: []byte(value)}})
}

func TestSubmitPutGet(t *testing.T) {
	w := newTestWorker(t, DefaultConfig())

	res := put(w, "k1", "v1")
	require.NoError(t, res.Err)
	assert.Equal(t, "k1", res.Key)

	w.Lease().RLock()
	v, ok, err := w.bt.Get([]byte("k1"))
	w.Lease().RUnlock()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v1", string(v))
}

func TestSubmitDelete(t *testing.T) {
	w := newTestWorker(t, DefaultConfig())
	put(w, "k1", "v1")

	res := w.Submit(&Operation{Kind: OpDelete, Keys: []string{"k1"}})
	require.NoError(t, res.Err)
	assert.True(t, res.Existed)

	res = w.Submit(&Operation{Kind: OpDelete, Keys: []string{"k1"}})
	require.NoError(t, res.Err)
	assert.False(t, res.Existed)
}

func TestSubmitAfterCloseReturnsErrClosed(t *testing.T) {
	w := newTestWorker(t, DefaultConfig())
	require.NoError(t, w.Close())

	res := put(w, "k1", "v1")
	assert.ErrorIs(t, res.Err, mtdberrors.ErrClosed)
}

func TestCloseIsIdempotent(t *testing.T) {
	w := newTestWorker(t, DefaultConfig())
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}

func TestSubmitPastDeadlineReturnsErrTimeout(t *testing.T) {
	w := newTestWorker(t, DefaultConfig())

	res := w.Submit(&Operation{
		Kind:     OpPut,
		Put:      PutItem{Key: "k1", Value: []byte("v1")},
		Deadline: time.Now().Add(-time.Second),
	})
	assert.ErrorIs(t, res.Err, mtdberrors.ErrTimeout)
}

func TestAcquireLeaseTimesOutUnderHeldLock(t *testing.T) {
	w := newTestWorker(t, Config{
		MaxRetries:  0,
		RetryDelay:  time.Millisecond,
		LockTimeout: 20 * time.Millisecond,
	})

	w.Lease().Lock()
	defer w.Lease().Unlock()

	res := put(w, "k1", "v1")
	assert.ErrorIs(t, res.Err, mtdberrors.ErrLockTimeout)
}

func TestPutBatchAllOrNothing(t *testing.T) {
	w := newTestWorker(t, DefaultConfig())

	res := w.Submit(&Operation{Kind: OpPutBatch, Batch: []PutItem{
		{Key: "a", Value: []byte("1")},
		{Key: "b", Value: []byte("2")},
	}})
	require.NoError(t, res.Err)
	assert.Equal(t, []string{"a", "b"}, res.Keys)
}

func TestDeleteBatchCountsExisting(t *testing.T) {
	w := newTestWorker(t, DefaultConfig())
	put(w, "a", "1")
	put(w, "b", "2")

	res := w.Submit(&Operation{Kind: OpDeleteBatch, Keys: []string{"a", "b", "missing"}})
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Count)
}

func TestCleanupRemovesExpiredKeys(t *testing.T) {
	w := newTestWorker(t, DefaultConfig())
	w.Submit(&Operation{Kind: OpPut, Put: PutItem{Key: "expired", Value: []byte("v"), Expiry: 1}})
	put(w, "fresh", "v")

	res := w.Submit(&Operation{Kind: OpCleanup})
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Count)

	w.Lease().RLock()
	_, ok, _ := w.bt.Get([]byte("expired"))
	w.Lease().RUnlock()
	assert.False(t, ok)
}

func TestPurgeClearsEverything(t *testing.T) {
	w := newTestWorker(t, DefaultConfig())
	put(w, "a", "1")
	put(w, "b", "2")

	res := w.Submit(&Operation{Kind: OpPurge})
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, 0, w.RecordCount())
}

func TestAdaptiveThresholdLadder(t *testing.T) {
	w := &Worker{cfg: Config{AdaptiveThreshold: true}}

	w.opsLifetime = 50
	assert.Equal(t, 10, w.threshold())

	w.opsLifetime = 500
	assert.Equal(t, 15, w.threshold())

	w.opsLifetime = 5000
	assert.Equal(t, 20, w.threshold())
}

func TestFixedThresholdWhenAdaptiveDisabled(t *testing.T) {
	w := &Worker{cfg: Config{AdaptiveThreshold: false}}
	w.opsLifetime = 5000
	assert.Equal(t, 10, w.threshold())
}

func TestQueueDepthReflectsPendingOps(t *testing.T) {
	w := newTestWorker(t, DefaultConfig())
	assert.Equal(t, 0, w.QueueDepth())
}
