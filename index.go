package vedra

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrIndexExists  = errors.New("an index with this name already exists")
	ErrIndexUnknown = errors.New("index unknown")
)

// ErrNoIndexableFields reports that a matched record carried none of the
// index's schema fields. Dispatch treats it as a benign no-op.
var ErrNoIndexableFields = errors.New("record has no indexable fields")

// Document is what the sync/async paths hand to the indexing pipeline:
// the record's schema-relevant fields, already loaded.
type Document struct {
	Key    string
	Fields map[string]string
}

// IndexBackend is the external indexing pipeline. Implementations receive
// fully-loaded documents with resolved attributes; the receiving worker or
// the notification goroutine owns the call for its duration.
type IndexBackend interface {
	IndexRecord(ctx context.Context, doc Document, attrs Attrs) error
	DeleteRecord(ctx context.Context, key string) error
}

// Index is the handle the match/dispatch layer routes documents to. The
// uid changes on every create, so async items queued before a drop recognise
// the stale handle and turn into no-ops.
type Index struct {
	Name    string
	Uid     uuid.UUID
	Async   bool
	Fields  []string
	Docs    *DocTable
	Backend IndexBackend
}

// IndexOptions configures CreateIndex. Zero value: synchronous index with
// no external backend (DocTable bookkeeping only).
type IndexOptions struct {
	Async   bool
	Backend IndexBackend
}

func newIndex(name string, opts IndexOptions, fields []string) *Index {
	return &Index{
		Name:    name,
		Uid:     uuid.New(),
		Async:   opts.Async,
		Fields:  fields,
		Docs:    NewDocTable(100),
		Backend: opts.Backend,
	}
}
