/*
Package worker implements the cooperative single-threaded task that
drains the store's operation queue, drives adaptive flushing, runs the
periodic TTL sweep, and serialises mutations against the BTree layer.

The Worker owns a single goroutine (the cooperative task) running Run;
every mutation is funneled through its queue so enqueue order is
applied order, the same ticker-loop shape used elsewhere in this
codebase for background tasks. Reads and queries do not go through the
queue: they take the shared lease directly so they can run concurrently
with each other, excluding only the in-flight mutation.
*/
package worker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tendrl-inc-labs/microtetherdb/pkg/btree"
	"github.com/tendrl-inc-labs/microtetherdb/pkg/metrics"
	"github.com/tendrl-inc-labs/microtetherdb/pkg/mtdberrors"
	"github.com/tendrl-inc-labs/microtetherdb/pkg/ttlindex"
)

// OpKind identifies the unit of work a queued Operation performs.
type OpKind int

const (
	OpPut OpKind = iota
	OpDelete
	OpPutBatch
	OpDeleteBatch
	OpCleanup
	OpFlush
	OpPurge
	OpClose
)

// PutItem is one key/value/expiry triple, the shape shared by single
// puts and the items of a batch put.
type PutItem struct {
	Key    string
	Value  []byte
	Expiry int64 // epoch seconds; 0 means no TTL
}

// Result is the outcome delivered to an Operation's completion channel.
type Result struct {
	Key     string   // OpPut
	Existed bool     // OpDelete
	Keys    []string // OpPutBatch
	Count   int      // OpDeleteBatch, OpCleanup, OpPurge
	Err     error
}

// Operation is a unit of work posted to the Worker's queue.
type Operation struct {
	Kind     OpKind
	Put      PutItem
	Batch    []PutItem
	Keys     []string
	Deadline time.Time // zero means no deadline
	Done     chan Result
}

// Config controls the Worker's flush cadence, retry policy, and locking.
type Config struct {
	MaxRetries        int
	RetryDelay        time.Duration
	LockTimeout       time.Duration
	AutoFlushInterval time.Duration
	TTLCheckInterval  time.Duration
	AdaptiveThreshold bool
}

// DefaultConfig returns the spec's default knob values.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        3,
		RetryDelay:        100 * time.Millisecond,
		LockTimeout:       5 * time.Second,
		AutoFlushInterval: 30 * time.Second,
		TTLCheckInterval:  10 * time.Second,
		AdaptiveThreshold: true,
	}
}

// Worker is the cooperative single-threaded task serialising mutations
// against the BTree layer and driving TTL sweeps and adaptive flush.
type Worker struct {
	bt     *btree.BTree
	ttl    *ttlindex.Index
	logger zerolog.Logger
	cfg    Config

	queue  chan *Operation
	doneCh chan struct{}

	closeMu sync.Mutex
	closed  bool

	// lease is the exclusive lock guarding the BTree during mutations;
	// readers (queries, Get) take RLock directly. It is a plain
	// sync.RWMutex and not re-entrant: the Worker goroutine takes the write
	// side once per Operation and never again while holding it.
	lease sync.RWMutex

	opsSinceFlush int
	opsLifetime   int
}

// New creates a Worker over the given BTree and TTL index. Call Run to
// start its cooperative loop.
func New(bt *btree.BTree, ttl *ttlindex.Index, logger zerolog.Logger, cfg Config) *Worker {
	return &Worker{
		bt:     bt,
		ttl:    ttl,
		logger: logger,
		cfg:    cfg,
		queue:  make(chan *Operation, 256),
		doneCh: make(chan struct{}),
	}
}

// Lease exposes the shared lock read-side queries and Get take directly,
// bypassing the queue, so concurrent reads never block on each other.
func (w *Worker) Lease() *sync.RWMutex {
	return &w.lease
}

// QueueDepth reports the number of Operations currently queued, for
// pkg/metrics.Sampler.
func (w *Worker) QueueDepth() int {
	return len(w.queue)
}

// RecordCount reports the number of records in the BTree, for
// pkg/metrics.Sampler. TTL side entries (one per live TTL) are not counted.
func (w *Worker) RecordCount() int {
	return w.bt.Len() - w.ttl.Len()
}

// Run drives the cooperative loop: dequeue one Operation at a time to
// quiescence, and independently fire the auto-flush timer. Run blocks
// until a Close Operation is processed (via Close); call it on its own
// goroutine.
func (w *Worker) Run() {
	defer close(w.doneCh)

	var flushTicker *time.Ticker
	var flushC <-chan time.Time
	if w.cfg.AutoFlushInterval > 0 {
		flushTicker = time.NewTicker(w.cfg.AutoFlushInterval)
		flushC = flushTicker.C
		defer flushTicker.Stop()
	}

	for {
		select {
		case op := <-w.queue:
			w.apply(op)
			if op.Kind == OpClose {
				return
			}
		case <-flushC:
			if w.opsSinceFlush > 0 {
				if err := w.flush(); err != nil {
					w.logger.Error().Err(err).Msg("auto-flush failed")
				} else {
					metrics.FlushTotal.WithLabelValues("timer").Inc()
				}
			}
		}
	}
}

// Submit enqueues op and blocks the caller on its completion. It returns
// ErrClosed if the Worker has stopped accepting new work.
func (w *Worker) Submit(op *Operation) Result {
	w.closeMu.Lock()
	if w.closed {
		w.closeMu.Unlock()
		return Result{Err: mtdberrors.ErrClosed}
	}
	if op.Done == nil {
		op.Done = make(chan Result, 1)
	}
	w.queue <- op
	w.closeMu.Unlock()
	return <-op.Done
}

// Close drains in-flight Operations, issues a final flush, and halts the
// cooperative loop. New Operations submitted after Close starts fail with
// ErrClosed. Close is idempotent.
func (w *Worker) Close() error {
	w.closeMu.Lock()
	if w.closed {
		w.closeMu.Unlock()
		<-w.doneCh
		return nil
	}
	w.closed = true
	op := &Operation{Kind: OpClose, Done: make(chan Result, 1)}
	w.queue <- op
	w.closeMu.Unlock()

	res := <-op.Done
	<-w.doneCh
	return res.Err
}

func (w *Worker) apply(op *Operation) {
	if !op.Deadline.IsZero() && time.Now().After(op.Deadline) {
		op.Done <- Result{Err: mtdberrors.ErrTimeout}
		return
	}

	if !w.acquireLease() {
		op.Done <- Result{Err: mtdberrors.ErrLockTimeout}
		return
	}
	defer w.lease.Unlock()

	var res Result
	switch op.Kind {
	case OpPut:
		res = w.applyPut(op.Put)
	case OpDelete:
		res = w.applyDelete(op.Keys[0])
	case OpPutBatch:
		res = w.applyPutBatch(op.Batch)
	case OpDeleteBatch:
		res = w.applyDeleteBatch(op.Keys)
	case OpCleanup:
		res = w.applyCleanup()
	case OpFlush:
		res = Result{Err: w.flush()}
		if res.Err == nil {
			metrics.FlushTotal.WithLabelValues("explicit").Inc()
		}
	case OpPurge:
		res = w.applyPurge()
	case OpClose:
		res = Result{Err: w.flush()}
	default:
		res = Result{Err: fmt.Errorf("worker: unknown operation kind %d", op.Kind)}
	}
	op.Done <- res
}

// acquireLease polls TryLock so the wait is bounded by LockTimeout,
// resolving ErrLockTimeout instead of blocking the cooperative loop
// indefinitely behind a long-running iterator lease.
func (w *Worker) acquireLease() bool {
	if w.lease.TryLock() {
		return true
	}
	deadline := time.Now().Add(w.cfg.LockTimeout)
	for time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
		if w.lease.TryLock() {
			return true
		}
	}
	return false
}

func (w *Worker) applyPut(item PutItem) Result {
	if err := w.withRetry(func() error { return w.bt.Put([]byte(item.Key), item.Value) }); err != nil {
		metrics.OpsTotal.WithLabelValues("put", "error").Inc()
		return Result{Err: err}
	}
	w.ttl.Cancel(item.Key)
	if item.Expiry > 0 {
		w.putTTLSideEntry(item.Key, item.Expiry)
		w.ttl.Insert(item.Key, item.Expiry)
	} else {
		w.removeTTLSideEntry(item.Key)
	}
	w.bumpCounters()
	metrics.OpsTotal.WithLabelValues("put", "ok").Inc()
	return Result{Key: item.Key}
}

func (w *Worker) applyDelete(key string) Result {
	existed, err := w.deleteKey(key)
	if err != nil {
		metrics.OpsTotal.WithLabelValues("delete", "error").Inc()
		return Result{Err: err}
	}
	w.bumpCounters()
	metrics.OpsTotal.WithLabelValues("delete", "ok").Inc()
	return Result{Existed: existed}
}

// applyPutBatch is all-or-nothing: on any item's failure no generated
// key is surfaced, and the items this batch already wrote are deleted
// again before the error is returned.
func (w *Worker) applyPutBatch(items []PutItem) Result {
	keys := make([]string, 0, len(items))
	for _, item := range items {
		if err := w.withRetry(func() error { return w.bt.Put([]byte(item.Key), item.Value) }); err != nil {
			for _, k := range keys {
				_, _ = w.deleteKey(k)
			}
			metrics.OpsTotal.WithLabelValues("put_batch", "error").Inc()
			return Result{Err: err}
		}
		w.ttl.Cancel(item.Key)
		if item.Expiry > 0 {
			w.putTTLSideEntry(item.Key, item.Expiry)
			w.ttl.Insert(item.Key, item.Expiry)
		} else {
			w.removeTTLSideEntry(item.Key)
		}
		keys = append(keys, item.Key)
		w.bumpCounters()
	}
	metrics.OpsTotal.WithLabelValues("put_batch", "ok").Inc()
	return Result{Keys: keys}
}

func (w *Worker) applyDeleteBatch(keys []string) Result {
	count := 0
	for _, key := range keys {
		existed, err := w.deleteKey(key)
		if err != nil {
			metrics.OpsTotal.WithLabelValues("delete_batch", "error").Inc()
			return Result{Err: err}
		}
		if existed {
			count++
		}
		w.bumpCounters()
	}
	metrics.OpsTotal.WithLabelValues("delete_batch", "ok").Inc()
	return Result{Count: count}
}

func (w *Worker) applyCleanup() Result {
	now := time.Now().Unix()
	expired := w.ttl.PopExpired(now)
	for _, key := range expired {
		if _, err := w.deleteKey(key); err != nil {
			w.logger.Error().Err(err).Str("key", key).Msg("cleanup failed to delete expired key")
			continue
		}
	}
	metrics.TTLSweepTotal.Inc()
	if len(expired) > 0 {
		metrics.TTLExpiredTotal.Add(float64(len(expired)))
		w.bumpCounters()
	}
	if w.opsSinceFlush > 0 {
		if err := w.flush(); err != nil {
			return Result{Count: len(expired), Err: err}
		}
		metrics.FlushTotal.WithLabelValues("cleanup").Inc()
	}
	return Result{Count: len(expired)}
}

// applyPurge removes every record and clears the TTL state.
func (w *Worker) applyPurge() Result {
	count := w.bt.Len()
	w.bt.Clear()
	w.ttl.Clear()
	if err := w.flush(); err != nil {
		return Result{Err: err}
	}
	metrics.FlushTotal.WithLabelValues("purge").Inc()
	metrics.OpsTotal.WithLabelValues("purge", "ok").Inc()
	return Result{Count: count}
}

func (w *Worker) deleteKey(key string) (bool, error) {
	var existed bool
	err := w.withRetry(func() error {
		var derr error
		existed, derr = w.bt.Delete([]byte(key))
		return derr
	})
	if err != nil {
		return false, err
	}
	w.ttl.Cancel(key)
	w.removeTTLSideEntry(key)
	return existed, nil
}

func (w *Worker) putTTLSideEntry(key string, expiry int64) {
	_ = w.bt.Put(ttlindex.SideEntryKey(key), ttlindex.EncodeExpiry(expiry))
}

func (w *Worker) removeTTLSideEntry(key string) {
	_, _ = w.bt.Delete(ttlindex.SideEntryKey(key))
}

func (w *Worker) bumpCounters() {
	w.opsLifetime++
	w.opsSinceFlush++
	if w.opsSinceFlush >= w.threshold() {
		if err := w.flush(); err != nil {
			w.logger.Error().Err(err).Msg("adaptive flush failed")
			return
		}
		metrics.FlushTotal.WithLabelValues("adaptive").Inc()
	}
}

// threshold implements the adaptive flush ladder: the flush threshold
// scales with lifetime operation count when enabled, else a fixed 10.
func (w *Worker) threshold() int {
	if !w.cfg.AdaptiveThreshold {
		return 10
	}
	switch {
	case w.opsLifetime < 100:
		return 10
	case w.opsLifetime < 1000:
		return 15
	default:
		return 20
	}
}

func (w *Worker) flush() error {
	timer := metrics.NewTimer()
	err := w.bt.Flush()
	timer.ObserveDuration(metrics.FlushDuration)
	if err != nil {
		return err
	}
	w.opsSinceFlush = 0
	return nil
}

func (w *Worker) withRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, mtdberrors.ErrIO) {
			return err
		}
		if attempt < w.cfg.MaxRetries {
			time.Sleep(w.cfg.RetryDelay)
		}
	}
	return err
}
