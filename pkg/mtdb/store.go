/*
Package mtdb is the public Store Façade described in spec §4.7: open/close
lifecycle, put/get/delete, batch put/delete, predicate query, and a
synchronous cleanup trigger, composed from pkg/btree, pkg/ttlindex,
pkg/worker and pkg/backing. Mutations are funnelled through the Worker's
queue; reads and queries take the Worker's shared lease directly so they
run concurrently with each other and are only excluded by an in-flight
mutation.
*/
package mtdb

import (
	"fmt"
	"time"

	"github.com/tendrl-inc-labs/microtetherdb/internal/keys"
	"github.com/tendrl-inc-labs/microtetherdb/pkg/backing"
	"github.com/tendrl-inc-labs/microtetherdb/pkg/btree"
	"github.com/tendrl-inc-labs/microtetherdb/pkg/codec"
	"github.com/tendrl-inc-labs/microtetherdb/pkg/metrics"
	"github.com/tendrl-inc-labs/microtetherdb/pkg/mtdberrors"
	"github.com/tendrl-inc-labs/microtetherdb/pkg/query"
	"github.com/tendrl-inc-labs/microtetherdb/pkg/ttlindex"
	"github.com/tendrl-inc-labs/microtetherdb/pkg/worker"
)

// Store is the embedded document store described by spec §2-§4.
type Store struct {
	opts     Options
	back     backing.Backing
	bt       *btree.BTree
	ttl      *ttlindex.Index
	wk       *worker.Worker
	cleanup  *cleanupLoop
	samples  *metrics.Collector
	registry *metrics.Registry
}

// Open constructs the Block Backing, BTree layer, TTL index (seeded from
// persisted side entries) and starts the Worker.
func Open(opts ...Option) (*Store, error) {
	o := defaultOptions()
	for _, apply := range opts {
		apply(&o)
	}

	var back backing.Backing
	var err error
	if o.InMemory {
		back = backing.NewMemoryBacking(o.RAMPercentage)
	} else {
		back, err = backing.NewFileBacking(o.Filename)
		if err != nil {
			return nil, fmt.Errorf("mtdb: open backing: %w", err)
		}
	}

	bt, err := btree.Open(back, btree.Options{
		PageSize:  o.BTreePageSize,
		CacheSize: o.BTreeCacheSize,
		Logger:    o.Logger,
	})
	if err != nil {
		_ = back.Close()
		return nil, fmt.Errorf("mtdb: open btree: %w", err)
	}

	ttlIdx := ttlindex.New()
	if err := seedTTLIndex(bt, ttlIdx); err != nil {
		_ = back.Close()
		return nil, fmt.Errorf("mtdb: seed ttl index: %w", err)
	}

	wk := worker.New(bt, ttlIdx, o.Logger, worker.Config{
		MaxRetries:        o.MaxRetries,
		RetryDelay:        o.RetryDelay,
		LockTimeout:       o.LockTimeout,
		AutoFlushInterval: o.AutoFlushInterval,
		TTLCheckInterval:  o.TTLCheckInterval,
		AdaptiveThreshold: o.AdaptiveThreshold,
	})
	go wk.Run()

	metrics.RegisterComponent("worker", true, "running")
	metrics.RegisterComponent("backing", true, "open")
	metrics.RegisterComponent("ttl_sweep", true, "idle")

	registry := o.Registry
	if registry == nil {
		registry = metrics.NewRegistry()
	}

	s := &Store{opts: o, back: back, bt: bt, ttl: ttlIdx, wk: wk, registry: registry}
	s.cleanup = newCleanupLoop(s, o.TTLCheckInterval)
	s.cleanup.start()
	s.samples = metrics.NewCollector(wk, 15*time.Second)
	s.samples.Start()

	// Sweep anything that expired while the store was closed.
	if _, err := s.Cleanup(); err != nil {
		o.Logger.Warn().Err(err).Msg("initial cleanup sweep failed")
	}

	return s, nil
}

// seedTTLIndex scans persisted TTL side entries and rebuilds the heap, as
// spec §4.4 requires on open.
func seedTTLIndex(bt *btree.BTree, ttlIdx *ttlindex.Index) error {
	prefix := []byte{ttlindex.ReservedPrefix}
	cur := bt.Iter(prefix, btree.PrefixUpperBound(prefix))
	for cur.Next() {
		rawKey := cur.Key()
		if !ttlindex.IsReservedKey(rawKey) {
			continue
		}
		expiry, err := ttlindex.DecodeExpiry(cur.Value())
		if err != nil {
			return err
		}
		recordKey := string(rawKey[len(ttlindex.SideEntryKey("")):])
		ttlIdx.Insert(recordKey, expiry)
	}
	return nil
}

// Close drains the Worker queue, issues a final flush, stops the Worker,
// and releases the Block Backing. Close is idempotent.
func (s *Store) Close() error {
	select {
	case <-s.cleanup.doneCh:
		// The cleanup loop only stops inside Close: already closed.
		return nil
	default:
	}
	s.cleanup.stop()
	s.samples.Stop()
	if err := s.wk.Close(); err != nil {
		return err
	}
	return s.back.Close()
}

// WithStore opens a Store, invokes fn, and guarantees Close runs
// regardless of how fn returns (the scoped-acquisition contract of spec
// §4.7).
func WithStore(fn func(*Store) error, opts ...Option) error {
	s, err := Open(opts...)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

// validateKey rejects empty keys and keys colliding with the reserved
// TTL-side-entry prefix (spec §9 reserved-prefix collision note).
func validateKey(key string) error {
	if key == "" {
		return mtdberrors.ErrInvalidKey
	}
	if key[0] == ttlindex.ReservedPrefix {
		return mtdberrors.ErrInvalidKey
	}
	return nil
}

func encodeWithTags(doc codec.Document, tags []string) ([]byte, error) {
	if len(tags) > 0 {
		doc = codec.WithTags(doc, tags)
	}
	return codec.Encode(doc)
}

// Put stores doc under an engine-generated key and returns it.
func (s *Store) Put(doc codec.Document, ttlSeconds int64, tags []string) (string, error) {
	return s.PutKey(keys.Generate(), doc, ttlSeconds, tags)
}

// PutKey stores doc under key, overwriting any prior document and
// cancelling its TTL.
func (s *Store) PutKey(key string, doc codec.Document, ttlSeconds int64, tags []string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	encoded, err := encodeWithTags(doc, tags)
	if err != nil {
		return "", err
	}

	item := worker.PutItem{Key: key, Value: encoded}
	if ttlSeconds > 0 {
		item.Expiry = time.Now().Unix() + ttlSeconds
	}

	res := s.wk.Submit(&worker.Operation{Kind: worker.OpPut, Put: item})
	if res.Err != nil {
		return "", res.Err
	}
	return res.Key, nil
}

// Get returns the live document for key, or ok=false if missing or
// TTL-expired but not yet swept.
func (s *Store) Get(key string) (codec.Document, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	lease := s.wk.Lease()
	lease.RLock()
	raw, found, err := s.bt.Get([]byte(key))
	lease.RUnlock()
	if err != nil || !found {
		return nil, false, err
	}
	if s.isExpired(key) {
		return nil, false, nil
	}
	doc, err := codec.Decode(raw)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

// isExpired reports whether key's TTL has elapsed, even if the sweep
// hasn't yet physically removed it (spec §3 invariant 2).
func (s *Store) isExpired(key string) bool {
	expiry, ok := s.ttl.ExpiryOf(key)
	return ok && expiry <= time.Now().Unix()
}

// Delete removes key, returning whether a live record existed. A record
// whose TTL has already elapsed is treated as already gone: Delete
// returns false without physically removing it (the sweep owns that).
func (s *Store) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	if s.isExpired(key) {
		return false, nil
	}
	res := s.wk.Submit(&worker.Operation{Kind: worker.OpDelete, Keys: []string{key}})
	return res.Existed, res.Err
}

// DeletePurge removes every record and clears the TTL state.
func (s *Store) DeletePurge() (int, error) {
	res := s.wk.Submit(&worker.Operation{Kind: worker.OpPurge})
	return res.Count, res.Err
}

// BatchItem is one entry of a PutBatch call.
type BatchItem struct {
	Doc  codec.Document
	TTL  int64
	Tags []string
}

// PutBatch applies every item or none: on any item's encode/validation
// failure the whole batch fails with no keys surfaced (spec §3 invariant
// 4).
func (s *Store) PutBatch(items []BatchItem) ([]string, error) {
	batch := make([]worker.PutItem, 0, len(items))
	for _, it := range items {
		encoded, err := encodeWithTags(it.Doc, it.Tags)
		if err != nil {
			return nil, err
		}
		pi := worker.PutItem{Key: keys.Generate(), Value: encoded}
		if it.TTL > 0 {
			pi.Expiry = time.Now().Unix() + it.TTL
		}
		batch = append(batch, pi)
	}

	res := s.wk.Submit(&worker.Operation{Kind: worker.OpPutBatch, Batch: batch})
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Keys, nil
}

// DeleteBatch removes keys, returning the count actually removed.
func (s *Store) DeleteBatch(keys []string) (int, error) {
	for _, k := range keys {
		if err := validateKey(k); err != nil {
			return 0, err
		}
	}
	res := s.wk.Submit(&worker.Operation{Kind: worker.OpDeleteBatch, Keys: keys})
	return res.Count, res.Err
}

// Query evaluates pred against every live document in key order, up to
// pred's $limit if set. Reads take the shared lease directly so they
// never enqueue on the Worker.
func (s *Store) Query(pred query.Predicate) ([]codec.Document, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.QueryDuration)

	limit := query.Limit(pred)

	lease := s.wk.Lease()
	lease.RLock()
	cur := s.bt.Iter(nil, nil)
	lease.RUnlock()

	var results []codec.Document
	for cur.Next() {
		if ttlindex.IsReservedKey(cur.Key()) {
			continue
		}
		if s.isExpired(string(cur.Key())) {
			continue
		}
		doc, err := codec.Decode(cur.Value())
		if err != nil {
			return nil, err
		}
		if query.Match(doc, pred) {
			results = append(results, doc)
			if limit > 0 && len(results) >= limit {
				break
			}
		}
	}
	return results, nil
}

// Keys returns every live record key with the given prefix, a
// supplemental convenience not in spec §4.7 but useful alongside Query.
func (s *Store) Keys(prefix string) ([]string, error) {
	lease := s.wk.Lease()
	lease.RLock()
	var from, to []byte
	if prefix != "" {
		from = []byte(prefix)
		to = btree.PrefixUpperBound(from)
	}
	cur := s.bt.Iter(from, to)
	lease.RUnlock()

	var out []string
	for cur.Next() {
		if ttlindex.IsReservedKey(cur.Key()) {
			continue
		}
		if s.isExpired(string(cur.Key())) {
			continue
		}
		out = append(out, string(cur.Key()))
	}
	return out, nil
}

// Cleanup drives one TTL sweep synchronously, returning the count swept.
func (s *Store) Cleanup() (int, error) {
	res := s.wk.Submit(&worker.Operation{Kind: worker.OpCleanup})
	return res.Count, res.Err
}

// Stats reports point-in-time store sizing, surfaced alongside Health as
// a supplemental operational view (SPEC_FULL.md §3).
type Stats struct {
	RecordCount int
	TTLCount    int
	QueueDepth  int
}

// Stats returns current record/TTL/queue-depth counts.
func (s *Store) Stats() Stats {
	return Stats{
		RecordCount: s.wk.RecordCount(),
		TTLCount:    s.ttl.Len(),
		QueueDepth:  s.wk.QueueDepth(),
	}
}

// Health returns the process-wide component health snapshot (worker,
// backing, ttl_sweep).
func (s *Store) Health() metrics.HealthStatus {
	return metrics.GetHealth()
}

// Registry returns the Prometheus registry this Store's collectors are
// registered into: the one passed via WithMetricsRegistry, or one created
// for this Store if none was supplied.
func (s *Store) Registry() *metrics.Registry {
	return s.registry
}
