package vedra

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash"
	"github.com/google/uuid"
)

type DispatchFlags uint8

const (
	// DispatchForceSync indexes inline even for async-configured indexes.
	DispatchForceSync DispatchFlags = 1 << iota
	// DispatchForceAsync queues even for sync-configured indexes.
	DispatchForceAsync
	// DispatchNoReindex skips indexes that already hold a live id for the
	// key; reconciliation scans use it to stay idempotent and cheap.
	DispatchNoReindex
)

var (
	ErrQueueOverflow = errors.New("async index queue is full")
	ErrQueueClosed   = errors.New("async index queue is closed")
)

// Dispatch routes each match to inline indexing or the async queue. Per-
// document indexing failures are reported and do not stop the remaining
// matches; the joined failures come back to the caller.
func (v *Vedra) Dispatch(ctx context.Context, key string, matches []Match, flags DispatchFlags) error {
	var errs []error
	for _, m := range matches {
		ix := m.Index
		if flags&DispatchNoReindex != 0 && ix.Docs.GetId(key) != 0 {
			DispatchCount.WithLabelValues(ix.Name, "scan", "skipped").Inc()
			continue
		}
		async := flags&DispatchForceAsync != 0 || (ix.Async && flags&DispatchForceSync == 0)
		if async {
			if err := v.queue.Submit(ix, key, m.Attrs); err != nil {
				DispatchCount.WithLabelValues(ix.Name, "async", "rejected").Inc()
				errs = append(errs, err)
			}
			continue
		}
		if err := v.indexOne(ctx, ix, key, m.Attrs, "sync"); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// indexOne loads the record's schema fields and runs the indexing pipeline
// to completion. A record carrying none of the index's fields contributes
// nothing and is not a failure.
func (v *Vedra) indexOne(ctx context.Context, ix *Index, key string, attrs Attrs, mode string) error {
	start := time.Now()
	if cur, ok := v.indexes.Load(ix.Name); !ok || cur.Uid != ix.Uid {
		DispatchCount.WithLabelValues(ix.Name, mode, "stale").Inc()
		return nil
	}
	doc := Document{Key: key}
	for _, name := range ix.Fields {
		val, ok, err := readField(v.db, key, name)
		if err != nil {
			DispatchCount.WithLabelValues(ix.Name, mode, "error").Inc()
			return err
		}
		if !ok {
			continue
		}
		if doc.Fields == nil {
			doc.Fields = make(map[string]string, len(ix.Fields))
		}
		doc.Fields[name] = val
	}
	if len(doc.Fields) == 0 {
		DispatchCount.WithLabelValues(ix.Name, mode, "empty").Inc()
		return nil
	}
	if ix.Backend != nil {
		if err := ix.Backend.IndexRecord(ctx, doc, attrs); err != nil {
			if errors.Is(err, ErrNoIndexableFields) {
				DispatchCount.WithLabelValues(ix.Name, mode, "empty").Inc()
				return nil
			}
			DispatchCount.WithLabelValues(ix.Name, mode, "error").Inc()
			v.log.ErrorCtx(ctx, "failed to index document", "key", key, "index", ix.Name, "error", err)
			return err
		}
	}
	// the id is assigned only after the backend accepted the document, so
	// a failed document stays invisible to NoReindex and the next
	// reconciliation scan retries it
	if ix.Docs.Put(key, attrs.Score, 0, attrs.Payload) == 0 {
		// the index was dropped while the document was in flight
		DispatchCount.WithLabelValues(ix.Name, mode, "stale").Inc()
		return nil
	}
	DispatchCount.WithLabelValues(ix.Name, mode, "indexed").Inc()
	IndexDuration.WithLabelValues(ix.Name).Observe(time.Since(start).Seconds())
	return nil
}

// DispatchDelete removes key's id from every index that currently holds
// it. Matching is bypassed on purpose: the record's fields may already be
// gone, so whether it still satisfies any predicate is irrelevant.
func (v *Vedra) DispatchDelete(ctx context.Context, key string, reason RemoveReason) {
	v.indexes.Range(func(name string, ix *Index) bool {
		if !ix.Docs.Delete(key) {
			return true
		}
		DispatchCount.WithLabelValues(ix.Name, "delete", string(reason)).Inc()
		if ix.Backend != nil {
			if err := ix.Backend.DeleteRecord(ctx, key); err != nil {
				v.log.ErrorCtx(ctx, "failed to delete document", "key", key, "index", ix.Name, "error", err)
			}
		}
		return true
	})
}

type queueItem struct {
	index string
	uid   uuid.UUID
	key   string
	attrs Attrs
}

// AsyncQueue is a bounded multi-producer queue drained by a fixed worker
// pool. Items are sharded to workers by a hash of the index name, so at
// most one worker ever mutates a given index's DocTable; that affinity is
// what serializes table access without a per-table dispatch lock.
type AsyncQueue struct {
	v      *Vedra
	shards []chan queueItem
	wg     sync.WaitGroup

	lock   sync.RWMutex
	closed bool
}

func newAsyncQueue(v *Vedra, workers, limit int) *AsyncQueue {
	if workers < 1 {
		workers = 1
	}
	per := limit / workers
	if per < 1 {
		per = 1
	}
	q := &AsyncQueue{v: v, shards: make([]chan queueItem, workers)}
	for i := range q.shards {
		q.shards[i] = make(chan queueItem, per)
		q.wg.Add(1)
		go q.worker(i)
	}
	return q
}

// Submit queues one document for deferred indexing. Never blocks: a full
// shard rejects the item with ErrQueueOverflow and the caller decides
// whether to retry, drop, or fall back to sync.
func (q *AsyncQueue) Submit(ix *Index, key string, attrs Attrs) error {
	q.lock.RLock()
	defer q.lock.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	shard := int(xxhash.Sum64String(ix.Name) % uint64(len(q.shards)))
	item := queueItem{index: ix.Name, uid: ix.Uid, key: key, attrs: attrs}
	select {
	case q.shards[shard] <- item:
		QueueDepth.WithLabelValues(strconv.Itoa(shard)).Inc()
		return nil
	default:
		return ErrQueueOverflow
	}
}

const queueBatchMax = 64

func (q *AsyncQueue) worker(shard int) {
	defer q.wg.Done()
	ch := q.shards[shard]
	depth := QueueDepth.WithLabelValues(strconv.Itoa(shard))
	for {
		item, ok := <-ch
		if !ok {
			return
		}
		depth.Dec()
		batch := append(make([]queueItem, 0, queueBatchMax), item)
	fill:
		for len(batch) < queueBatchMax {
			select {
			case more, open := <-ch:
				if !open {
					break fill
				}
				depth.Dec()
				batch = append(batch, more)
			default:
				break fill
			}
		}
		q.process(batch)
	}
}

// process runs one batch, grouped by target index so each index's context
// is resolved once. Items whose index has been dropped or recreated since
// submission carry a stale uid and are no-ops.
func (q *AsyncQueue) process(batch []queueItem) {
	ctx := context.Background()
	byIndex := make(map[string][]queueItem)
	order := make([]string, 0, len(batch))
	for _, item := range batch {
		if _, ok := byIndex[item.index]; !ok {
			order = append(order, item.index)
		}
		byIndex[item.index] = append(byIndex[item.index], item)
	}
	for _, name := range order {
		items := byIndex[name]
		ix, ok := q.v.indexes.Load(name)
		if !ok || ix.Uid != items[0].uid {
			DispatchCount.WithLabelValues(name, "async", "stale").Add(float64(len(items)))
			continue
		}
		for _, item := range items {
			if item.uid != ix.Uid {
				DispatchCount.WithLabelValues(name, "async", "stale").Inc()
				continue
			}
			// errors are already reported inside indexOne
			_ = q.v.indexOne(ctx, ix, item.key, item.attrs, "async")
		}
	}
}

// Close stops intake, drains the workers, and waits for them.
func (q *AsyncQueue) Close() {
	q.lock.Lock()
	if q.closed {
		q.lock.Unlock()
		return
	}
	q.closed = true
	q.lock.Unlock()
	for _, ch := range q.shards {
		close(ch)
	}
	q.wg.Wait()
}
