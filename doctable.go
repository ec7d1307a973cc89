package vedra

import "sync"

// DocMeta is the per-document row of a DocTable: the external key plus the
// attributes resolved when the document was last indexed.
type DocMeta struct {
	Key     string
	Score   float64
	Flags   uint8
	Payload []byte
}

// DocTable maps external keys to dense internal ids and owns the per-id
// metadata rows. Ids start at 1 and are never reused while the table lives;
// id 0 means "not found". One table per index.
type DocTable struct {
	lock    sync.RWMutex
	docs    []DocMeta // indexed by id, slot 0 unused
	ids     map[string]uint64
	size    int    // live rows
	maxID   uint64 // high-water id
	memsize uint64 // approximate bytes held by keys and payloads
	freed   bool
}

func NewDocTable(cap int) *DocTable {
	if cap < 1 {
		cap = 1
	}
	return &DocTable{
		docs: make([]DocMeta, 1, cap+1),
		ids:  make(map[string]uint64, cap),
	}
}

// Put assigns the next id to key and stores its metadata. Idempotent by
// key: if key is already mapped the existing id is returned and the row is
// left untouched. Returns 0 for the empty key and for a freed table, so
// references that outlive their index degrade to no-ops.
func (t *DocTable) Put(key string, score float64, flags uint8, payload []byte) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.freed || key == "" {
		return 0
	}
	if id, ok := t.ids[key]; ok {
		return id
	}
	t.maxID++
	id := t.maxID
	if int(id) >= cap(t.docs) {
		grown := make([]DocMeta, len(t.docs), cap(t.docs)*2)
		copy(grown, t.docs)
		t.docs = grown
	}
	t.docs = append(t.docs, DocMeta{Key: key, Score: score, Flags: flags, Payload: payload})
	t.ids[key] = id
	t.size++
	t.memsize += uint64(len(key) + len(payload))
	return id
}

// Get returns the metadata row for id, or ok=false for id 0, ids beyond
// the high-water mark, and deleted rows.
func (t *DocTable) Get(id uint64) (meta DocMeta, ok bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	if t.freed || id == 0 || id > t.maxID {
		return DocMeta{}, false
	}
	meta = t.docs[id]
	if meta.Key == "" { // tombstone
		return DocMeta{}, false
	}
	return meta, true
}

// GetId returns the id mapped to key, or 0 if the key is absent.
func (t *DocTable) GetId(key string) uint64 {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.ids[key]
}

// Delete unmaps key and tombstones its row. Ids are not compacted or
// reused. Returns false if the key was absent.
func (t *DocTable) Delete(key string) bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	id, ok := t.ids[key]
	if t.freed || !ok {
		return false
	}
	delete(t.ids, key)
	t.memsize -= uint64(len(key) + len(t.docs[id].Payload))
	t.docs[id] = DocMeta{}
	t.size--
	return true
}

// Size is the number of live rows; always <= MaxID.
func (t *DocTable) Size() int {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.size
}

func (t *DocTable) MaxID() uint64 {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.maxID
}

// MemSize approximates the bytes held by keys and payloads. Telemetry
// only, not part of any correctness invariant.
func (t *DocTable) MemSize() uint64 {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.memsize
}

// Free drops all rows and mappings. Later mutations are ignored: handles
// held across an index drop must not panic the dispatch path.
func (t *DocTable) Free() {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.freed = true
	t.docs = nil
	t.ids = nil
	t.size = 0
	t.memsize = 0
}
