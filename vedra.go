package vedra

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/learn-decentralized-systems/toyqueue"
	"github.com/learn-decentralized-systems/toytlv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/vedradb/vedra/utils"
)

type Options struct {
	// QueueLimit bounds the async indexing queue, summed across workers.
	QueueLimit int
	// Workers is the size of the async indexing pool.
	Workers int
	// EventBacklog bounds the store event queue feeding the
	// orchestration loop.
	EventBacklog int
	// DefaultLanguage is assigned to matches whose rule has no language
	// field, or whose record leaves it empty.
	DefaultLanguage string
	// StrictFilters surfaces filter evaluation errors to the caller
	// instead of folding them into "no match".
	StrictFilters bool

	// Backends, when set, is consulted while persisted index definitions
	// are restored: backends are runtime wiring and cannot be stored.
	Backends func(index string) IndexBackend

	Logger             utils.Logger
	PebbleWriteOptions *pebble.WriteOptions
	// MetricsRegisterer, when set, receives the vedra collectors plus a
	// pebble storage collector.
	MetricsRegisterer prometheus.Registerer
}

func (o *Options) SetDefaults() {
	if o.QueueLimit == 0 {
		o.QueueLimit = 1000
	}
	if o.Workers == 0 {
		o.Workers = 5
	}
	if o.EventBacklog == 0 {
		o.EventBacklog = 4096
	}
	if o.DefaultLanguage == "" {
		o.DefaultLanguage = "english"
	}
	if o.Logger == nil {
		o.Logger = utils.NewDefaultLogger(slog.LevelInfo)
	}
	if o.PebbleWriteOptions == nil {
		o.PebbleWriteOptions = &pebble.WriteOptions{Sync: true}
	}
}

// Vedra is a record store with rule-driven secondary index routing: every
// record write is matched against the registered rules and routed to the
// indexes whose rules accept it, inline or through the async queue.
type Vedra struct {
	db  *pebble.DB
	dir string

	opts Options
	log  utils.Logger

	rules   *Rules
	indexes *xsync.MapOf[string, *Index]
	queue   *AsyncQueue

	events     toyqueue.RecordQueue
	eventsIn   toyqueue.FeedDrainCloser
	eventsDone chan struct{}

	lock   sync.Mutex
	closed bool
}

var ErrClosed = errors.New("the store is closed")

// Open opens (or creates) a store at dir, restores the persisted index
// definitions, and starts the async workers and the event loop.
func Open(dir string, opts Options) (*Vedra, error) {
	opts.SetDefaults()
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	v := &Vedra{
		db:         db,
		dir:        dir,
		opts:       opts,
		log:        opts.Logger,
		rules:      NewRules(),
		indexes:    xsync.NewMapOf[string, *Index](),
		eventsDone: make(chan struct{}),
	}
	if err = v.loadDefs(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if opts.MetricsRegisterer != nil {
		registerMetrics(opts.MetricsRegisterer)
		opts.MetricsRegisterer.MustRegister(newPebbleCollector(db))
	}
	v.events.Limit = opts.EventBacklog
	v.eventsIn = v.events.Blocking()
	v.queue = newAsyncQueue(v, opts.Workers, opts.QueueLimit)
	go v.runEvents()
	return v, nil
}

// Close stops the event loop and the async workers, then closes the
// store. Queued work is drained, not dropped.
func (v *Vedra) Close() error {
	v.lock.Lock()
	if v.closed {
		v.lock.Unlock()
		return nil
	}
	v.closed = true
	v.lock.Unlock()
	if err := v.eventsIn.Drain(toyqueue.Records{toytlv.Record('Q')}); err == nil {
		<-v.eventsDone
	}
	_ = v.events.Close()
	v.queue.Close()
	return v.db.Close()
}

// CreateIndex registers a new index together with its rule. The rule args
// use the textual form parsed by Rules.CreateRule. Creation is atomic: a
// bad rule leaves no trace of the index.
func (v *Vedra) CreateIndex(name string, opts IndexOptions, ruleArgs []string, fields ...string) (*Index, error) {
	v.lock.Lock()
	defer v.lock.Unlock()
	if v.closed {
		return nil, ErrClosed
	}
	if _, ok := v.indexes.Load(name); ok {
		return nil, ErrIndexExists
	}
	ix := newIndex(name, opts, fields)
	if _, err := v.rules.CreateRule(ix, name, ruleArgs); err != nil {
		return nil, err
	}
	v.indexes.Store(name, ix)
	if err := v.saveDefs(); err != nil {
		v.indexes.Delete(name)
		_ = v.rules.RemoveRule(name)
		return nil, err
	}
	return ix, nil
}

// DropIndex unregisters the index and its rule. In-flight queued items
// become stale by uid and turn into no-ops.
func (v *Vedra) DropIndex(name string) error {
	v.lock.Lock()
	defer v.lock.Unlock()
	ix, ok := v.indexes.LoadAndDelete(name)
	if !ok {
		return ErrIndexUnknown
	}
	_ = v.rules.RemoveRule(name)
	ix.Docs.Free()
	return v.saveDefs()
}

// GetIndex returns a live index handle by name.
func (v *Vedra) GetIndex(name string) (*Index, bool) {
	return v.indexes.Load(name)
}

// Indexes returns the registered indexes in rule insertion order.
func (v *Vedra) Indexes() []*Index {
	rules := v.rules.All()
	out := make([]*Index, 0, len(rules))
	for _, rule := range rules {
		out = append(out, rule.Index)
	}
	return out
}
