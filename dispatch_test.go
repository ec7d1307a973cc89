package vedra

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// flakyBackend fails the first n IndexRecord calls, then accepts.
type flakyBackend struct {
	lock    sync.Mutex
	fails   int
	indexed []string
}

func (b *flakyBackend) IndexRecord(_ context.Context, doc Document, _ Attrs) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.fails > 0 {
		b.fails--
		return errors.New("backend unavailable")
	}
	b.indexed = append(b.indexed, doc.Key)
	return nil
}

func (b *flakyBackend) DeleteRecord(context.Context, string) error { return nil }

func (b *flakyBackend) keys() []string {
	b.lock.Lock()
	defer b.lock.Unlock()
	return append([]string(nil), b.indexed...)
}

func TestDispatch_Sync(t *testing.T) {
	v := testOpen(t, Options{})
	ctx := context.Background()
	backend := newCaptureBackend()

	ix, err := v.CreateIndex("users", IndexOptions{Backend: backend},
		[]string{"PREFIX", "1", "user:"}, "name")
	assert.NoError(t, err)

	assert.NoError(t, v.SetFields(ctx, "user:1", map[string]string{"name": "ada"}))
	matches, err := v.Match("user:1")
	assert.NoError(t, err)
	assert.NoError(t, v.Dispatch(ctx, "user:1", matches, DispatchForceSync))

	attrs, ok := backend.attrs("user:1")
	assert.True(t, ok)
	assert.Equal(t, 1.0, attrs.Score)
	assert.NotZero(t, ix.Docs.GetId("user:1"))
}

func TestDispatch_EmptyRecordIsNoop(t *testing.T) {
	v := testOpen(t, Options{})
	ctx := context.Background()
	backend := newCaptureBackend()

	ix, err := v.CreateIndex("users", IndexOptions{Backend: backend},
		[]string{"PREFIX", "1", "user:"}, "name")
	assert.NoError(t, err)

	// the record has none of the index's fields
	assert.NoError(t, v.SetFields(ctx, "user:1", map[string]string{"other": "x"}))
	matches, err := v.Match("user:1")
	assert.NoError(t, err)
	assert.NoError(t, v.Dispatch(ctx, "user:1", matches, DispatchForceSync))

	assert.Zero(t, backend.indexedKeys())
	assert.Zero(t, ix.Docs.GetId("user:1"))
}

func TestDispatch_NoReindex(t *testing.T) {
	v := testOpen(t, Options{})
	ctx := context.Background()
	backend := newCaptureBackend()

	_, err := v.CreateIndex("users", IndexOptions{Backend: backend},
		[]string{"PREFIX", "1", "user:"}, "name")
	assert.NoError(t, err)

	assert.NoError(t, v.SetFields(ctx, "user:1", map[string]string{"name": "ada"}))
	matches, err := v.Match("user:1")
	assert.NoError(t, err)

	assert.NoError(t, v.Dispatch(ctx, "user:1", matches, DispatchForceSync))
	assert.NoError(t, v.Dispatch(ctx, "user:1", matches, DispatchForceSync|DispatchNoReindex))
	assert.Equal(t, 1, backend.indexedKeys())
}

func TestDispatch_Async(t *testing.T) {
	v := testOpen(t, Options{})
	ctx := context.Background()
	backend := newCaptureBackend()

	ix, err := v.CreateIndex("lazy", IndexOptions{Async: true, Backend: backend},
		[]string{"PREFIX", "1", "user:"}, "name")
	assert.NoError(t, err)

	assert.NoError(t, v.SetFields(ctx, "user:1", map[string]string{"name": "ada"}))
	matches, err := v.Match("user:1")
	assert.NoError(t, err)
	assert.NoError(t, v.Dispatch(ctx, "user:1", matches, 0))

	assert.Eventually(t, func() bool {
		return ix.Docs.GetId("user:1") != 0 && backend.indexedKeys() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestQueue_Overflow(t *testing.T) {
	v := testOpen(t, Options{Workers: 1, QueueLimit: 1})
	backend := newCaptureBackend()
	backend.gate = make(chan struct{})
	backend.started = make(chan struct{}, 8)
	defer close(backend.gate)

	ix, err := v.CreateIndex("slow", IndexOptions{Async: true, Backend: backend},
		[]string{"PREFIX", "1", "user:"}, "name")
	assert.NoError(t, err)

	// write fields straight to the store; going through SetFields would
	// have the event loop submitting the same keys concurrently
	for _, key := range []string{"user:1", "user:2", "user:3"} {
		assert.NoError(t, v.db.Set(recordFieldKey(key, "name"), []byte("x"), v.opts.PebbleWriteOptions))
	}

	// the worker is parked inside the backend, the one-slot shard fills,
	// and the third submit is rejected rather than blocking
	assert.NoError(t, v.queue.Submit(ix, "user:1", Attrs{}))
	<-backend.started
	assert.NoError(t, v.queue.Submit(ix, "user:2", Attrs{}))
	err = v.queue.Submit(ix, "user:3", Attrs{})
	assert.ErrorIs(t, err, ErrQueueOverflow)
}

func TestQueue_StaleUid(t *testing.T) {
	v := testOpen(t, Options{})
	backend := newCaptureBackend()

	_, err := v.CreateIndex("users", IndexOptions{Backend: backend},
		[]string{"PREFIX", "1", "user:"}, "name")
	assert.NoError(t, err)

	// an item queued against a previous incarnation of the index
	v.queue.process([]queueItem{{index: "users", uid: uuid.New(), key: "user:1"}})
	assert.Zero(t, backend.indexedKeys())

	// and one whose index is gone entirely
	v.queue.process([]queueItem{{index: "ghost", uid: uuid.New(), key: "user:1"}})
	assert.Zero(t, backend.indexedKeys())
}

func TestDispatch_AfterDrop(t *testing.T) {
	v := testOpen(t, Options{})
	ctx := context.Background()
	backend := newCaptureBackend()

	_, err := v.CreateIndex("users", IndexOptions{Backend: backend},
		[]string{"PREFIX", "1", "user:"}, "name")
	assert.NoError(t, err)
	assert.NoError(t, v.db.Set(recordFieldKey("user:1", "name"), []byte("ada"), v.opts.PebbleWriteOptions))

	matches, err := v.Match("user:1")
	assert.NoError(t, err)
	assert.Len(t, matches, 1)
	assert.NoError(t, v.DropIndex("users"))

	// matches captured before the drop must degrade to no-ops, not panic
	assert.NoError(t, v.Dispatch(ctx, "user:1", matches, DispatchForceSync))
	assert.Zero(t, backend.indexedKeys())
	assert.Zero(t, matches[0].Index.Docs.GetId("user:1"))
}

func TestDispatch_BackendErrorRetriedByScan(t *testing.T) {
	v := testOpen(t, Options{})
	ctx := context.Background()
	backend := &flakyBackend{fails: 1}

	ix, err := v.CreateIndex("users", IndexOptions{Backend: backend},
		[]string{"PREFIX", "1", "user:"}, "name")
	assert.NoError(t, err)
	assert.NoError(t, v.db.Set(recordFieldKey("user:1", "name"), []byte("ada"), v.opts.PebbleWriteOptions))

	matches, err := v.Match("user:1")
	assert.NoError(t, err)
	assert.Error(t, v.Dispatch(ctx, "user:1", matches, DispatchForceSync))
	// the failed document holds no id, so the next scan retries it
	assert.Zero(t, ix.Docs.GetId("user:1"))

	assert.NoError(t, v.ScanAndReindex(ctx))
	assert.NotZero(t, ix.Docs.GetId("user:1"))
	assert.Equal(t, []string{"user:1"}, backend.keys())
}

func TestDispatchDelete(t *testing.T) {
	v := testOpen(t, Options{})
	ctx := context.Background()
	backend := newCaptureBackend()

	ix, err := v.CreateIndex("users", IndexOptions{Backend: backend},
		[]string{"PREFIX", "1", "user:"}, "name")
	assert.NoError(t, err)

	assert.NoError(t, v.SetFields(ctx, "user:1", map[string]string{"name": "ada"}))
	matches, err := v.Match("user:1")
	assert.NoError(t, err)
	assert.NoError(t, v.Dispatch(ctx, "user:1", matches, DispatchForceSync))
	assert.NotZero(t, ix.Docs.GetId("user:1"))

	v.DispatchDelete(ctx, "user:1", RemovedDeleted)
	assert.Zero(t, ix.Docs.GetId("user:1"))
	assert.Equal(t, []string{"user:1"}, backend.deletedKeys())

	// a key the index never held is ignored
	v.DispatchDelete(ctx, "user:404", RemovedExpired)
	assert.Equal(t, []string{"user:1"}, backend.deletedKeys())
}
