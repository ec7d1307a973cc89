package vedra

import (
	"bytes"
	"context"
	"errors"
	"sort"

	"github.com/cockroachdb/pebble"
	"github.com/learn-decentralized-systems/toytlv"
)

// ErrEmptyKey rejects the empty record key at the API edge: it cannot be
// represented in a DocTable (id 0 means "not found") and would collide
// with the tombstone sentinel.
var ErrEmptyKey = errors.New("record key must not be empty")

// Record fields live under 'H' <key> 0x00 <field>. The 0x00 separator keeps
// one record's fields contiguous and sorted ahead of any longer key that
// shares the prefix.
func recordFieldKey(key, field string) []byte {
	out := make([]byte, 0, 1+len(key)+1+len(field))
	out = append(out, 'H')
	out = append(out, key...)
	out = append(out, 0)
	out = append(out, field...)
	return out
}

func recordKeyRange(key string) (fro, til []byte) {
	fro = make([]byte, 0, 1+len(key)+1)
	fro = append(fro, 'H')
	fro = append(fro, key...)
	fro = append(fro, 0)
	til = append(append([]byte(nil), fro[:len(fro)-1]...), 1)
	return
}

// SetFields writes the given fields of key and queues a change event for
// the orchestration loop.
func (v *Vedra) SetFields(ctx context.Context, key string, fields map[string]string) error {
	if key == "" {
		return ErrEmptyKey
	}
	batch := v.db.NewBatch()
	defer batch.Close()
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := batch.Set(recordFieldKey(key, name), []byte(fields[name]), nil); err != nil {
			return err
		}
	}
	if err := v.db.Apply(batch, v.opts.PebbleWriteOptions); err != nil {
		return err
	}
	return v.enqueueEvent(toytlv.Record('H', toytlv.Record('K', []byte(key))))
}

// RemoveReason distinguishes why a key left the store. Deletion dispatch
// does not depend on it today, but async backends may.
type RemoveReason byte

const (
	RemovedDeleted RemoveReason = 'd'
	RemovedExpired RemoveReason = 'x'
	RemovedEvicted RemoveReason = 'e'
)

// RemoveKey deletes every field of key and queues a removal event.
func (v *Vedra) RemoveKey(ctx context.Context, key string, reason RemoveReason) error {
	if key == "" {
		return ErrEmptyKey
	}
	fro, til := recordKeyRange(key)
	if err := v.db.DeleteRange(fro, til, v.opts.PebbleWriteOptions); err != nil {
		return err
	}
	return v.enqueueEvent(toytlv.Record('D',
		toytlv.Record('K', []byte(key)),
		toytlv.Record('C', []byte{byte(reason)}),
	))
}

// GetField reads one field of one record. ok=false when the field (or the
// whole record) is absent.
func (v *Vedra) GetField(key, field string) (string, bool, error) {
	return readField(v.db, key, field)
}

func readField(reader pebble.Reader, key, field string) (string, bool, error) {
	val, closer, err := reader.Get(recordFieldKey(key, field))
	if err == pebble.ErrNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	out := string(val)
	_ = closer.Close()
	return out, true, nil
}

// storeView is the lazy record view shared by every candidate rule while
// one key is matched: one store read per distinct field, memoized for the
// duration of the match.
type storeView struct {
	reader pebble.Reader
	key    string
	fields map[string]fieldVal
}

type fieldVal struct {
	val string
	ok  bool
}

func newStoreView(reader pebble.Reader, key string) *storeView {
	return &storeView{reader: reader, key: key}
}

func (sv *storeView) Field(name string) (string, bool, error) {
	if fv, ok := sv.fields[name]; ok {
		return fv.val, fv.ok, nil
	}
	val, ok, err := readField(sv.reader, sv.key, name)
	if err != nil {
		return "", false, err
	}
	if sv.fields == nil {
		sv.fields = make(map[string]fieldVal)
	}
	sv.fields[name] = fieldVal{val: val, ok: ok}
	return val, ok, nil
}

// scanKeys walks every record key in the store, in order, calling fn once
// per distinct key. Used by reconciliation scans.
func (v *Vedra) scanKeys(ctx context.Context, fn func(key string) error) error {
	iter, err := v.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{'H'},
		UpperBound: []byte{'I'},
	})
	if err != nil {
		return err
	}
	defer iter.Close()
	var last []byte
	seen := false
	for valid := iter.First(); valid; valid = iter.Next() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		full := iter.Key()
		sep := bytes.IndexByte(full[1:], 0)
		if sep < 0 {
			continue
		}
		key := full[1 : 1+sep]
		if seen && bytes.Equal(key, last) {
			continue
		}
		seen = true
		last = append(last[:0], key...)
		if err := fn(string(key)); err != nil {
			return err
		}
	}
	return nil
}
