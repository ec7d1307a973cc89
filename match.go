package vedra

import (
	"strconv"

	"github.com/vedradb/vedra/filter"
)

// Attrs are the per-match attribute overrides resolved from the rule's
// configured field names, with defaults where a field is absent.
type Attrs struct {
	Score    float64
	Language string
	Payload  []byte
}

// Match is one (record, index) pairing deemed eligible for indexing.
type Match struct {
	Index *Index
	Rule  *SchemaRule
	Attrs Attrs
}

// Match computes the set of indexes that should index key, one entry per
// index, in prefix-trie traversal order. A key matching nothing returns an
// empty set, not an error.
func (v *Vedra) Match(key string) ([]Match, error) {
	view := newStoreView(v.db, key)
	return v.matchView(key, view)
}

func (v *Vedra) matchView(key string, view *storeView) ([]Match, error) {
	candidates := v.rules.findCandidates(key)
	if len(candidates) == 0 {
		MatchCount.WithLabelValues("none").Inc()
		return nil, nil
	}
	var out []Match
	seen := make(map[*Index]struct{}, len(candidates))
	for _, cand := range candidates {
		// First prefix hit per index wins; later hits for the same
		// index are duplicates of different specificity.
		if _, dup := seen[cand.Index]; dup {
			continue
		}
		seen[cand.Index] = struct{}{}
		if cand.Rule.Filter != nil {
			ok, err := cand.Rule.Filter.Eval(view)
			if err != nil {
				FilterErrors.WithLabelValues(cand.Index.Name).Inc()
				if v.opts.StrictFilters {
					return nil, err
				}
				// Folded into "no match": a record we cannot
				// evaluate is safer outside the index.
				v.log.Debug("filter evaluation failed", "key", key, "index", cand.Index.Name, "error", err)
				continue
			}
			if !ok {
				continue
			}
		}
		attrs, err := v.resolveAttrs(cand.Rule, view)
		if err != nil {
			return nil, err
		}
		out = append(out, Match{Index: cand.Index, Rule: cand.Rule, Attrs: attrs})
	}
	if len(out) == 0 {
		MatchCount.WithLabelValues("none").Inc()
	} else {
		MatchCount.WithLabelValues("matched").Inc()
	}
	return out, nil
}

func (v *Vedra) resolveAttrs(rule *SchemaRule, view filter.RecordView) (Attrs, error) {
	attrs := Attrs{Score: 1.0, Language: v.opts.DefaultLanguage}
	if rule.ScoreField != "" {
		raw, ok, err := view.Field(rule.ScoreField)
		if err != nil {
			return attrs, err
		}
		if ok {
			if f, perr := strconv.ParseFloat(raw, 64); perr == nil {
				attrs.Score = f
			}
		}
	}
	if rule.LangField != "" {
		raw, ok, err := view.Field(rule.LangField)
		if err != nil {
			return attrs, err
		}
		if ok && raw != "" {
			attrs.Language = raw
		}
	}
	if rule.PayloadField != "" {
		raw, ok, err := view.Field(rule.PayloadField)
		if err != nil {
			return attrs, err
		}
		if ok {
			attrs.Payload = []byte(raw)
		}
	}
	return attrs, nil
}
