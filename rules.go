package vedra

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vedradb/vedra/filter"
)

var (
	ErrBadRuleArgs = errors.New("bad rule arguments")
	ErrRuleUnknown = errors.New("no rule for this index")
)

// SchemaRule is one index's declarative matching policy: which key
// prefixes it watches, an optional predicate over record fields, and the
// fields that override score/language/payload at indexing time.
//
// RawArgs keeps the creation-time tokens verbatim; persistence writes the
// raw tokens and reload re-runs the same parser, so behavior follows the
// parser rather than a frozen parsed form.
type SchemaRule struct {
	Index        *Index
	Name         string
	Kind         string // ON <type>; only "hash" records exist today
	Prefixes     []string
	Filter       *filter.Expr
	ScoreField   string
	LangField    string
	PayloadField string
	RawArgs      []string
}

// Rules owns every schema rule, keyed by index name, plus the prefix trie
// the match path walks. Reader-writer discipline: many concurrent match
// lookups, exclusive access while rules are created or removed (index
// lifecycle only, which is rare).
type Rules struct {
	lock     sync.RWMutex
	byIndex  map[string]*SchemaRule
	order    []*SchemaRule
	prefixes *PrefixMap

	// Compiled filters are cached by source text: reloads and rule
	// replacement re-parse the same expressions, compilation is pure.
	filters *lru.Cache[string, *filter.Expr]
}

func NewRules() *Rules {
	cache, _ := lru.New[string, *filter.Expr](1024)
	return &Rules{
		byIndex:  make(map[string]*SchemaRule),
		prefixes: NewPrefixMap(),
		filters:  cache,
	}
}

// CreateRule parses args and installs the rule for ix, registering its
// prefixes. Recognized options, each optional:
//
//	ON <type>  PREFIX <n> <p1..pn>  FILTER <expr>
//	SCORE <field>  LANGUAGE <field>  PAYLOAD <field>
//
// Unknown trailing arguments are an error and nothing is installed.
// Creating a rule for an index that already has one replaces it.
func (rs *Rules) CreateRule(ix *Index, name string, args []string) (*SchemaRule, error) {
	rule, err := rs.parseRule(ix, name, args)
	if err != nil {
		return nil, err
	}
	rs.lock.Lock()
	defer rs.lock.Unlock()
	if old := rs.byIndex[ix.Name]; old != nil {
		rs.dropLocked(old)
	}
	rs.byIndex[ix.Name] = rule
	rs.order = append(rs.order, rule)
	for _, p := range rule.Prefixes {
		rs.prefixes.Register(p, ix, rule)
	}
	return rule, nil
}

func (rs *Rules) parseRule(ix *Index, name string, args []string) (*SchemaRule, error) {
	rule := &SchemaRule{
		Index:    ix,
		Name:     name,
		Prefixes: []string{""},
		RawArgs:  append([]string(nil), args...),
	}
	pos := 0
	need := func(opt string) (string, error) {
		if pos >= len(args) {
			return "", fmt.Errorf("%w: %s requires an argument", ErrBadRuleArgs, opt)
		}
		v := args[pos]
		pos++
		return v, nil
	}
	for pos < len(args) {
		opt := args[pos]
		pos++
		switch {
		case strings.EqualFold(opt, "ON"):
			kind, err := need("ON")
			if err != nil {
				return nil, err
			}
			if !strings.EqualFold(kind, "hash") {
				return nil, fmt.Errorf("%w: unsupported record type %q", ErrBadRuleArgs, kind)
			}
			rule.Kind = strings.ToLower(kind)
		case strings.EqualFold(opt, "PREFIX"):
			cnt, err := need("PREFIX")
			if err != nil {
				return nil, err
			}
			n, err := strconv.Atoi(cnt)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("%w: bad PREFIX count %q", ErrBadRuleArgs, cnt)
			}
			if pos+n > len(args) {
				return nil, fmt.Errorf("%w: PREFIX promises %d arguments", ErrBadRuleArgs, n)
			}
			if n > 0 {
				rule.Prefixes = append([]string(nil), args[pos:pos+n]...)
				pos += n
			}
		case strings.EqualFold(opt, "FILTER"):
			src, err := need("FILTER")
			if err != nil {
				return nil, err
			}
			expr, err := rs.compileFilter(src)
			if err != nil {
				return nil, fmt.Errorf("%w: %s", ErrBadRuleArgs, err)
			}
			rule.Filter = expr
		case strings.EqualFold(opt, "SCORE"):
			f, err := need("SCORE")
			if err != nil {
				return nil, err
			}
			rule.ScoreField = f
		case strings.EqualFold(opt, "LANGUAGE"):
			f, err := need("LANGUAGE")
			if err != nil {
				return nil, err
			}
			rule.LangField = f
		case strings.EqualFold(opt, "PAYLOAD"):
			f, err := need("PAYLOAD")
			if err != nil {
				return nil, err
			}
			rule.PayloadField = f
		default:
			return nil, fmt.Errorf("%w: unknown argument %q", ErrBadRuleArgs, opt)
		}
	}
	return rule, nil
}

func (rs *Rules) compileFilter(src string) (*filter.Expr, error) {
	if expr, ok := rs.filters.Get(src); ok {
		return expr, nil
	}
	expr, err := filter.Compile(src)
	if err != nil {
		return nil, err
	}
	rs.filters.Add(src, expr)
	return expr, nil
}

// RemoveRule drops indexName's rule and unregisters its prefixes. Called
// on explicit removal and when the owning index is dropped.
func (rs *Rules) RemoveRule(indexName string) error {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	rule := rs.byIndex[indexName]
	if rule == nil {
		return ErrRuleUnknown
	}
	rs.dropLocked(rule)
	return nil
}

func (rs *Rules) dropLocked(rule *SchemaRule) {
	delete(rs.byIndex, rule.Index.Name)
	for i, r := range rs.order {
		if r == rule {
			rs.order = append(rs.order[:i], rs.order[i+1:]...)
			break
		}
	}
	for _, p := range rule.Prefixes {
		rs.prefixes.Unregister(p, rule.Index)
	}
}

func (rs *Rules) Get(indexName string) *SchemaRule {
	rs.lock.RLock()
	defer rs.lock.RUnlock()
	return rs.byIndex[indexName]
}

// All returns the rules in insertion order; persistence iterates this for
// a deterministic encoding.
func (rs *Rules) All() []*SchemaRule {
	rs.lock.RLock()
	defer rs.lock.RUnlock()
	return append([]*SchemaRule(nil), rs.order...)
}

// findCandidates returns every (index, rule) pair whose registered prefix
// matches key, in trie traversal order.
func (rs *Rules) findCandidates(key string) []PrefixEntry {
	rs.lock.RLock()
	defer rs.lock.RUnlock()
	return rs.prefixes.FindPrefixes(key)
}
