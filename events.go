package vedra

import (
	"context"
	"fmt"

	"github.com/learn-decentralized-systems/toyqueue"
	"github.com/learn-decentralized-systems/toytlv"
)

// Store events, one TLV record each:
//
//	H {K key}          record fields changed
//	D {K key, C cause} record removed, cause is a RemoveReason byte
//	Q                  shutdown sentinel, queued by Close
//
// All of them funnel through one orchestration goroutine, so matching and
// sync dispatch never race with rule changes from other writers.

func (v *Vedra) enqueueEvent(rec []byte) error {
	return v.eventsIn.Drain(toyqueue.Records{rec})
}

func (v *Vedra) runEvents() {
	defer close(v.eventsDone)
	ctx := context.Background()
	for {
		recs, err := v.eventsIn.Feed()
		if err != nil {
			return
		}
		for _, rec := range recs {
			if toytlv.Lit(rec) == 'Q' {
				return
			}
			if err = v.ApplyEvent(ctx, rec); err != nil {
				v.log.Error("failed to apply event", "error", err)
			}
		}
	}
}

// ApplyEvent handles one store event record. Unknown event types are
// counted and skipped so a newer writer does not wedge the loop.
func (v *Vedra) ApplyEvent(ctx context.Context, rec []byte) error {
	lit, body, _, err := toytlv.TakeAnyWary(rec)
	if err != nil {
		EventCount.WithLabelValues("malformed", "error").Inc()
		return err
	}
	switch lit {
	case 'H':
		key, _, kerr := toytlv.TakeWary('K', body)
		if kerr != nil {
			EventCount.WithLabelValues("change", "error").Inc()
			return kerr
		}
		if perr := v.ProcessItem(ctx, string(key), 0); perr != nil {
			EventCount.WithLabelValues("change", "error").Inc()
			return perr
		}
		EventCount.WithLabelValues("change", "ok").Inc()
	case 'D':
		key, rest, kerr := toytlv.TakeWary('K', body)
		if kerr != nil {
			EventCount.WithLabelValues("remove", "error").Inc()
			return kerr
		}
		reason := RemovedDeleted
		if cause, _ := toytlv.Take('C', rest); len(cause) == 1 {
			reason = RemoveReason(cause[0])
		}
		v.DispatchDelete(ctx, string(key), reason)
		EventCount.WithLabelValues("remove", "ok").Inc()
	default:
		EventCount.WithLabelValues(fmt.Sprintf("%c", lit), "skipped").Inc()
	}
	return nil
}

// ProcessItem matches one key against the registered rules and dispatches
// the result. This is the whole per-record pipeline; the event loop, the
// reconciliation scan, and the REPL all end up here.
func (v *Vedra) ProcessItem(ctx context.Context, key string, flags DispatchFlags) error {
	matches, err := v.Match(key)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return nil
	}
	return v.Dispatch(ctx, key, matches, flags)
}

// ScanAndReindex walks every record in the store and dispatches the ones
// whose matches are not indexed yet. Newly created indexes use it to pick
// up records written before the index existed; records an index already
// holds are skipped, so rerunning the scan is cheap.
func (v *Vedra) ScanAndReindex(ctx context.Context) error {
	return v.scanKeys(ctx, func(key string) error {
		return v.ProcessItem(ctx, key, DispatchNoReindex)
	})
}
