package vedra

import (
	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
	"github.com/learn-decentralized-systems/toytlv"
	"github.com/pkg/errors"
)

// Index definitions live under a single key, one TLV stream:
//
//	V <version byte>
//	X {I name, U uid, S flags, F field..., A arg...}  per index
//
// Rule arguments are stored verbatim and re-parsed on load, so the parser
// stays the single source of truth for rule semantics.
var defsKey = []byte{'S'}

const defsVersion = 1

var (
	ErrDefsVersion = errors.New("unsupported index definitions version")
	ErrDefsLoad    = errors.New("failed to load index definitions")
)

func appendIndexDef(into []byte, rule *SchemaRule) []byte {
	ix := rule.Index
	body := toytlv.Record('I', []byte(ix.Name))
	body = append(body, toytlv.Record('U', ix.Uid[:])...)
	if ix.Async {
		body = append(body, toytlv.Record('S', []byte{'a'})...)
	}
	for _, f := range ix.Fields {
		body = append(body, toytlv.Record('F', []byte(f))...)
	}
	for _, arg := range rule.RawArgs {
		body = append(body, toytlv.Record('A', []byte(arg))...)
	}
	return toytlv.Append(into, 'X', body)
}

// saveDefs rewrites the whole definition set. Called under v.lock on
// every index create/drop; the set is tiny and rewriting it whole keeps
// the encoding trivially consistent.
func (v *Vedra) saveDefs() error {
	data := toytlv.Record('V', []byte{defsVersion})
	for _, rule := range v.rules.All() {
		data = appendIndexDef(data, rule)
	}
	return v.db.Set(defsKey, data, v.opts.PebbleWriteOptions)
}

// loadDefs restores indexes and rules at open. Any decode or re-parse
// failure aborts the open: running with a silently partial rule set would
// misroute writes.
func (v *Vedra) loadDefs() error {
	val, closer, err := v.db.Get(defsKey)
	if err == pebble.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	data := append([]byte(nil), val...)
	_ = closer.Close()
	ver, rest, err := toytlv.TakeWary('V', data)
	if err != nil {
		return errors.Wrap(ErrDefsLoad, "missing version record")
	}
	if len(ver) != 1 || ver[0] != defsVersion {
		return ErrDefsVersion
	}
	for len(rest) > 0 {
		var body []byte
		body, rest, err = toytlv.TakeWary('X', rest)
		if err != nil {
			return errors.Wrap(ErrDefsLoad, "bad index definition record")
		}
		if err = v.loadIndexDef(body); err != nil {
			return err
		}
	}
	return nil
}

func (v *Vedra) loadIndexDef(body []byte) error {
	var name string
	var uid uuid.UUID
	var async bool
	var fields, args []string
	for len(body) > 0 {
		lit, rec, rest, err := toytlv.TakeAnyWary(body)
		if err != nil {
			return errors.Wrap(ErrDefsLoad, "bad record in index definition")
		}
		switch lit {
		case 'I':
			name = string(rec)
		case 'U':
			if len(rec) == len(uid) {
				copy(uid[:], rec)
			}
		case 'S':
			async = len(rec) == 1 && rec[0] == 'a'
		case 'F':
			fields = append(fields, string(rec))
		case 'A':
			args = append(args, string(rec))
		}
		body = rest
	}
	if name == "" {
		return errors.Wrap(ErrDefsLoad, "index definition without a name")
	}
	opts := IndexOptions{Async: async}
	if v.opts.Backends != nil {
		opts.Backend = v.opts.Backends(name)
	}
	ix := newIndex(name, opts, fields)
	if uid != uuid.Nil {
		ix.Uid = uid
	}
	if _, err := v.rules.CreateRule(ix, name, args); err != nil {
		return errors.Wrapf(err, "reloading rule for index %q", name)
	}
	v.indexes.Store(name, ix)
	return nil
}
