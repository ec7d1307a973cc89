package vedra

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRules_ParseOptions(t *testing.T) {
	rs := NewRules()
	ix := &Index{Name: "users"}

	rule, err := rs.CreateRule(ix, "users", []string{
		"ON", "hash",
		"PREFIX", "2", "user:", "account:",
		"FILTER", "@age >= 18",
		"SCORE", "rank",
		"LANGUAGE", "lang",
		"PAYLOAD", "blob",
	})
	assert.NoError(t, err)
	assert.Equal(t, "hash", rule.Kind)
	assert.Equal(t, []string{"user:", "account:"}, rule.Prefixes)
	assert.NotNil(t, rule.Filter)
	assert.Equal(t, "rank", rule.ScoreField)
	assert.Equal(t, "lang", rule.LangField)
	assert.Equal(t, "blob", rule.PayloadField)
}

func TestRules_Defaults(t *testing.T) {
	rs := NewRules()
	ix := &Index{Name: "all"}

	rule, err := rs.CreateRule(ix, "all", nil)
	assert.NoError(t, err)
	// no PREFIX means the empty prefix, which matches every key
	assert.Equal(t, []string{""}, rule.Prefixes)
	assert.Nil(t, rule.Filter)
	assert.Len(t, rs.findCandidates("anything"), 1)
}

func TestRules_ParseErrors(t *testing.T) {
	rs := NewRules()
	ix := &Index{Name: "bad"}

	for _, args := range [][]string{
		{"ON"},
		{"ON", "json"},
		{"PREFIX", "x", "p"},
		{"PREFIX", "3", "a", "b"},
		{"FILTER", "@age >"},
		{"BOGUS", "arg"},
	} {
		_, err := rs.CreateRule(ix, "bad", args)
		assert.Error(t, err, "args %v", args)
		assert.ErrorIs(t, err, ErrBadRuleArgs, "args %v", args)
	}
	// nothing was installed
	assert.Nil(t, rs.Get("bad"))
	assert.Empty(t, rs.findCandidates("key"))
}

func TestRules_Replace(t *testing.T) {
	rs := NewRules()
	ix := &Index{Name: "users"}

	_, err := rs.CreateRule(ix, "users", []string{"PREFIX", "1", "user:"})
	assert.NoError(t, err)
	_, err = rs.CreateRule(ix, "users", []string{"PREFIX", "1", "account:"})
	assert.NoError(t, err)

	assert.Empty(t, rs.findCandidates("user:1"))
	assert.Len(t, rs.findCandidates("account:1"), 1)
	assert.Len(t, rs.All(), 1)
}

func TestRules_Remove(t *testing.T) {
	rs := NewRules()
	ix := &Index{Name: "users"}
	_, err := rs.CreateRule(ix, "users", []string{"PREFIX", "1", "user:"})
	assert.NoError(t, err)

	assert.NoError(t, rs.RemoveRule("users"))
	assert.ErrorIs(t, rs.RemoveRule("users"), ErrRuleUnknown)
	assert.Empty(t, rs.findCandidates("user:1"))
}

func TestRules_CandidateOrder(t *testing.T) {
	rs := NewRules()
	broad := &Index{Name: "broad"}
	narrow := &Index{Name: "narrow"}
	_, err := rs.CreateRule(narrow, "narrow", []string{"PREFIX", "1", "user:admin:"})
	assert.NoError(t, err)
	_, err = rs.CreateRule(broad, "broad", []string{"PREFIX", "1", "user:"})
	assert.NoError(t, err)

	// shortest registered prefix first, regardless of creation order
	cands := rs.findCandidates("user:admin:1")
	assert.Len(t, cands, 2)
	assert.Equal(t, "broad", cands[0].Index.Name)
	assert.Equal(t, "narrow", cands[1].Index.Name)
}

func TestRules_FilterCache(t *testing.T) {
	rs := NewRules()
	a, err := rs.compileFilter("@age >= 18")
	assert.NoError(t, err)
	b, err := rs.compileFilter("@age >= 18")
	assert.NoError(t, err)
	assert.Same(t, a, b)
}
